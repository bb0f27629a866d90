// Package workpool provides a small bounded worker pool used to dispatch
// work that must not block the caller, concretely the Committer's
// post-commit rep-cache batch writes, which run outside the repository
// write-lock and must never delay the next commit's lock acquisition.
// Built on github.com/alitto/pond.
package workpool

import "github.com/alitto/pond"

// Pool wraps a bounded pond.WorkerPool.
type Pool struct {
	wp *pond.WorkerPool
}

// New creates a pool with at most maxWorkers concurrent goroutines and a
// task queue of maxCapacity (0 for unbounded).
func New(maxWorkers, maxCapacity int) *Pool {
	return &Pool{wp: pond.New(maxWorkers, maxCapacity, pond.MinWorkers(1))}
}

// Submit enqueues fn to run asynchronously.
func (p *Pool) Submit(fn func()) {
	p.wp.Submit(fn)
}

// StopAndWait drains the queue and waits for all running tasks to finish.
func (p *Pool) StopAndWait() {
	p.wp.StopAndWait()
}

// Running returns the number of worker goroutines currently running,
// whether busy or idle.
func (p *Pool) Running() int { return p.wp.RunningWorkers() }
