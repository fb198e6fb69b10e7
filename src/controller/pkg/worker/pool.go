// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package worker runs fire-and-forget tasks on a fixed set of goroutines.
// Submitters never observe a task's result; failures and panics are logged.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// ErrStopped is returned when submitting to a stopped pool
var ErrStopped = errors.New("worker pool stopped")

// Task is a unit of asynchronous work. Name identifies it in logs.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stats are cumulative task counters
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
}

// Pool executes tasks from a bounded queue
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
	ctx   context.Context

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool starts workers goroutines sharing a queue of queueSize tasks. The
// context is passed to every task.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		tasks: make(chan Task, queueSize),
		ctx:   ctx,
	}

	log.Debugf("Starting %d workers (queue=%d)", workers, queueSize)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i + 1)
	}
	return p
}

// Submit enqueues a task. It blocks only while the queue is full.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks, runs the queued ones and waits for the workers
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	log.Debug("Worker pool stopped")
}

// Stats returns a snapshot of the task counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Pending:   len(p.tasks),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		if err := p.run(task); err != nil {
			p.failed.Add(1)
			log.WithFields(log.Fields{
				"worker": id,
				"task":   task.Name,
			}).Warnf("Task failed: %v", err)
			continue
		}
		p.completed.Add(1)
	}
}

func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if task.Run == nil {
		return nil
	}
	return task.Run(p.ctx)
}
