package report

import (
	"fmt"
	"os"
	"time"

	"github.com/TFMV/blotter/config"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// Manifest records what a run read, produced and skipped.
type Manifest struct {
	RunID     string           `yaml:"run_id"`
	Started   time.Time        `yaml:"started"`
	Finished  time.Time        `yaml:"finished"`
	Rows      map[string]int64 `yaml:"rows"`
	Artifacts []string         `yaml:"artifacts"`
	Skipped   []string         `yaml:"skipped,omitempty"`
	Config    *config.Config   `yaml:"config"`
}

// WriteManifest writes m to path as YAML.
func WriteManifest(path string, m *Manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("manifest: write %q: %w", path, err)
	}
	return nil
}

// ReadManifest parses a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %q: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %q: %w", path, err)
	}
	return &m, nil
}

// WriteMetrics dumps every registered metric to path in the Prometheus
// text format.
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
