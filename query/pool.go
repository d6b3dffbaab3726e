package query

import "sync"

// ---------------------------------------------------------------------
// WorkerPool: a fixed set of goroutines draining a task channel
// ---------------------------------------------------------------------

// Task defines work to be executed.
type Task func()

// WorkerPool manages a fixed set of workers.
type WorkerPool struct {
	workers []*Worker
	tasks   chan Task
	pending sync.WaitGroup
	once    sync.Once
}

// Worker executes tasks from the WorkerPool.
type Worker struct {
	id   int
	pool *WorkerPool
}

// NewWorkerPool creates a new pool with the given number of workers.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	pool := &WorkerPool{
		tasks: make(chan Task, numWorkers*4),
	}
	for i := 0; i < numWorkers; i++ {
		worker := &Worker{
			id:   i,
			pool: pool,
		}
		pool.workers = append(pool.workers, worker)
		go worker.start()
	}
	return pool
}

func (w *Worker) start() {
	for task := range w.pool.tasks {
		task()
		w.pool.pending.Done()
	}
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int { return len(wp.workers) }

// Submit schedules a task for execution. It must not be called from
// inside a task.
func (wp *WorkerPool) Submit(task Task) {
	wp.pending.Add(1)
	wp.tasks <- task
}

// Wait blocks until every submitted task has finished.
func (wp *WorkerPool) Wait() {
	wp.pending.Wait()
}

// Run submits fn for every i in [0, n), waits for all of them and returns
// the error of the lowest failing i.
func (wp *WorkerPool) Run(n int, fn func(i int) error) error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		wp.Submit(func() {
			defer wg.Done()
			errs[i] = fn(i)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the worker pool.
func (wp *WorkerPool) Shutdown() {
	wp.once.Do(func() { close(wp.tasks) })
}
