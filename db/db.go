// Package db is the in-memory catalog of result tables served to Flight
// clients after a run.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// SnapshotExt is the file extension of Arrow IPC snapshots.
const SnapshotExt = ".arrow"

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var (
	catalogTables = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blotter_catalog_tables",
		Help: "Tables currently held by the catalog",
	})
	restoreLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "blotter_catalog_restore_latency_seconds",
		Help: "Snapshot restore latency distribution",
	})
)

func init() {
	prometheus.MustRegister(catalogTables, restoreLatency)
}

// ---------------------------------------------------------------------
// DB
// ---------------------------------------------------------------------

// DB holds named tables. Registered tables are owned by the DB and
// released by Close.
type DB struct {
	mu     sync.RWMutex
	tables map[string]*dataset.Table
}

// New returns an empty catalog.
func New() *DB {
	return &DB{tables: make(map[string]*dataset.Table)}
}

// Register adds t under its name.
func (db *DB) Register(t *dataset.Table) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[t.Name()]; exists {
		return fmt.Errorf("table %q already registered", t.Name())
	}
	db.tables[t.Name()] = t
	catalogTables.Set(float64(len(db.tables)))
	return nil
}

// Get returns the table called name.
func (db *DB) Get(name string) (*dataset.Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// Tables returns the registered table names in sorted order.
func (db *DB) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Restore registers every snapshot found in dir, named after its file.
func (db *DB) Restore(dir string) (int, error) {
	start := time.Now()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read %q: %w", dir, err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != SnapshotExt {
			continue
		}
		name := strings.TrimSuffix(e.Name(), SnapshotExt)
		t, err := storage.LoadTable(filepath.Join(dir, e.Name()), name)
		if err != nil {
			return n, err
		}
		if err := db.Register(t); err != nil {
			t.Release()
			return n, err
		}
		n++
	}
	restoreLatency.Observe(time.Since(start).Seconds())
	return n, nil
}

// Close releases every table.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, t := range db.tables {
		t.Release()
	}
	db.tables = make(map[string]*dataset.Table)
	catalogTables.Set(0)
}
