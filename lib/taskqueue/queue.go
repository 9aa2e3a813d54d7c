// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned when submitting to, or flushing, a closed
// Queue.
var ErrClosed = errors.New("taskqueue: queue closed")

// Queue runs submitted tasks serially on one goroutine.
type Queue struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	closed  bool
	dropped int

	done chan struct{}
}

// New starts a queue. name appears in log records. A nil logger
// discards.
func New(name string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	q := &Queue{
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit enqueues task. It never blocks on task execution.
func (q *Queue) Submit(task func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return nil
}

// Len returns the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Flush waits until every task submitted before the call has run.
// Calling Flush from a task on the same queue deadlocks until ctx
// ends.
func (q *Queue) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if err := q.Submit(func() { close(marker) }); err != nil {
		return err
	}
	select {
	case <-marker:
		return nil
	case <-q.done:
		select {
		case <-marker:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new tasks and drops unstarted ones without waiting
// for the running task. Safe to call from inside a task.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.dropped = len(q.tasks)
	q.tasks = nil
	q.cond.Signal()
}

// Close shuts the queue down and waits for the running task, if any,
// to return. Must not be called from a task on the same queue; use
// Shutdown there.
func (q *Queue) Close() {
	q.Shutdown()
	<-q.done
}

// Done is closed once the worker goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			dropped := q.dropped
			q.mu.Unlock()
			q.logger.Debug("task queue stopped", "queue", q.name, "dropped", dropped)
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.execute(task)
	}
}

func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked",
				"queue", q.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
