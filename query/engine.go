// Package query implements the relational core of the pipeline: a
// partitioned hash join, grouped counts and min-max feature scaling over
// Arrow record batches.
package query

import (
	"runtime"

	"github.com/TFMV/blotter/dataset"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Workers is the size of the worker pool and the join partition count.
	Workers int
	// BatchSize bounds the rows per output record batch and per probe task.
	BatchSize int
	// Index is "auto" or a fixed index strategy name.
	Index       string
	BloomFPRate float64
	Allocator   memory.Allocator
	Logger      *zap.Logger
}

// Engine executes joins, aggregations and scaling on a shared worker pool.
// Results never depend on the number of workers.
type Engine struct {
	pool      *WorkerPool
	planner   *Planner
	logger    *zap.Logger
	mem       memory.Allocator
	batchSize int
	fpRate    float64
}

// NewEngine starts the worker pool; Close stops it.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64 * 1024
	}
	if opts.BloomFPRate <= 0 {
		opts.BloomFPRate = 0.01
	}
	if opts.Allocator == nil {
		opts.Allocator = dataset.Pool
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		pool:      NewWorkerPool(opts.Workers),
		planner:   NewPlanner(opts.Index, opts.Workers),
		logger:    opts.Logger,
		mem:       opts.Allocator,
		batchSize: opts.BatchSize,
		fpRate:    opts.BloomFPRate,
	}
}

// Close shuts down the worker pool.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// chunks splits n items into ranges of at most size items.
func chunks(n, size int) int {
	if n == 0 {
		return 0
	}
	return (n + size - 1) / size
}
