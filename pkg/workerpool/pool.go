// Package workerpool provides fixed-size worker pools keyed by load
// priority. Work is submitted as functions; Submit returns a Task
// handle whose Wait surfaces the deferred error after completion.
//
// Pools are explicitly constructed and injected into the components
// that need them; there is no ambient singleton, which keeps the
// loading pipeline testable without a global runtime.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Priority selects which pool class serves a load.
type Priority int

const (
	// PriorityHigh serves interactive loads.
	PriorityHigh Priority = iota
	// PriorityLow serves background loads.
	PriorityLow
)

// String returns the priority name for logging and metric labels.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Task is the handle for one submitted unit of work.
type Task struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Done returns a channel closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

type taskItem struct {
	ctx    context.Context
	fn     func(context.Context) error
	handle *Task
}

// Pool is a fixed-size worker pool with a bounded submission queue.
type Pool struct {
	tasks  chan *taskItem
	wg     sync.WaitGroup
	logger *zap.Logger

	closeOnce sync.Once
}

// NewPool creates a pool with the given number of workers. workers <= 0
// defaults to NumCPU. The queue is bounded at 4x the worker count, so
// Submit applies backpressure when the pool is saturated.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		tasks:  make(chan *taskItem, workers*4),
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for item := range p.tasks {
		p.run(item)
	}
}

func (p *Pool) run(item *taskItem) {
	defer close(item.handle.done)
	defer func() {
		if r := recover(); r != nil {
			item.handle.err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("worker task panicked", zap.Any("panic", r))
		}
	}()

	item.handle.err = item.fn(item.ctx)
}

// Submit enqueues fn and returns its handle. Submit blocks when the
// queue is full. The context is passed through to fn unchecked: fn
// always runs, even when the context is already cancelled, so its
// deferred cleanup is guaranteed on every path. Cancellation is
// cooperative and observed inside fn.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) *Task {
	item := &taskItem{
		ctx:    ctx,
		fn:     fn,
		handle: &Task{done: make(chan struct{})},
	}
	p.tasks <- item
	return item.handle
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

// Pools bundles one pool per priority class.
type Pools struct {
	high *Pool
	low  *Pool
}

// NewPools creates the priority pool set. highWorkers/lowWorkers <= 0
// default to NumCPU and NumCPU/2 respectively.
func NewPools(highWorkers, lowWorkers int, logger *zap.Logger) *Pools {
	if lowWorkers <= 0 {
		lowWorkers = runtime.NumCPU() / 2
		if lowWorkers < 1 {
			lowWorkers = 1
		}
	}
	return &Pools{
		high: NewPool(highWorkers, logger),
		low:  NewPool(lowWorkers, logger),
	}
}

// Get returns the pool serving the given priority.
func (ps *Pools) Get(priority Priority) *Pool {
	if priority == PriorityLow {
		return ps.low
	}
	return ps.high
}

// Close shuts down all pools.
func (ps *Pools) Close() {
	ps.high.Close()
	ps.low.Close()
}

// WaitAll waits on every task and returns the first error observed.
// All tasks are waited regardless of intermediate failures so no task
// outlives the call.
func WaitAll(tasks []*Task) error {
	var first error
	for _, t := range tasks {
		if err := t.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
