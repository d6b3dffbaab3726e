package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
)

// Staging collects artifacts in a hidden directory next to their final
// location. Nothing becomes visible in the output directory until Commit.
type Staging struct {
	dir string
	tmp string
	// committed lists the artifact names moved by Commit.
	committed []string
}

// Stage creates the output directory if needed and a fresh staging
// directory inside it.
func Stage(dir string) (*Staging, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %q: %w", dir, err)
	}
	tmp, err := os.MkdirTemp(dir, ".staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Staging{dir: dir, tmp: tmp}, nil
}

// Dir returns the final output directory.
func (s *Staging) Dir() string { return s.dir }

// Path returns where the artifact called name is written before Commit.
func (s *Staging) Path(name string) string {
	return filepath.Join(s.tmp, name)
}

// Commit moves every staged artifact into the output directory, replacing
// artifacts of earlier runs, and removes the staging directory. Any name in
// owned that was not staged is deleted from the output directory, so files
// an earlier run produced never outlive it.
func (s *Staging) Commit(owned ...string) ([]string, error) {
	entries, err := os.ReadDir(s.tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range owned {
		if slices.Contains(names, name) {
			continue
		}
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale %s: %w", name, err)
		}
	}
	for _, name := range names {
		if err := os.Rename(s.Path(name), filepath.Join(s.dir, name)); err != nil {
			return nil, fmt.Errorf("failed to move %s into place: %w", name, err)
		}
		s.committed = append(s.committed, name)
	}
	return s.committed, os.RemoveAll(s.tmp)
}

// Abort discards everything staged so far.
func (s *Staging) Abort() error {
	err := os.RemoveAll(s.tmp)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
