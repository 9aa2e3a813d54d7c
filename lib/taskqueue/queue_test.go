// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/roomsync/lib/testutil"
)

func TestTasksRunInSubmissionOrder(t *testing.T) {
	queue := New("test", nil)
	defer queue.Close()

	results := make(chan int, 100)
	for i := range 100 {
		if err := queue.Submit(func() { results <- i }); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	for want := range 100 {
		if got := testutil.RequireReceive(t, results, 5*time.Second, "task result"); got != want {
			t.Fatalf("task %d ran at position %d", got, want)
		}
	}
}

func TestTasksNeverOverlap(t *testing.T) {
	queue := New("test", nil)
	defer queue.Close()

	var running, overlapped atomic.Int32
	for range 50 {
		queue.Submit(func() {
			if running.Add(1) > 1 {
				overlapped.Store(1)
			}
			time.Sleep(100 * time.Microsecond)
			running.Add(-1)
		})
	}
	if err := queue.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if overlapped.Load() != 0 {
		t.Error("two tasks ran concurrently")
	}
}

func TestPanicDoesNotStopQueue(t *testing.T) {
	recorder, logger := testutil.NewLogRecorder()
	queue := New("delivery", logger)
	defer queue.Close()

	ran := make(chan struct{})
	queue.Submit(func() { panic("listener bug") })
	queue.Submit(func() { close(ran) })
	testutil.RequireClosed(t, ran, 5*time.Second, "task after panic")

	record, ok := recorder.Find("task panicked")
	if !ok {
		t.Fatal("no log record for the panic")
	}
	if got := record.Attrs["queue"]; got != "delivery" {
		t.Errorf("queue attr = %v, want %q", got, "delivery")
	}
}

func TestCloseDropsUnstartedAndWaitsForRunning(t *testing.T) {
	queue := New("test", nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished, dropped atomic.Bool
	queue.Submit(func() {
		close(started)
		<-release
		finished.Store(true)
	})
	queue.Submit(func() { dropped.Store(true) })
	testutil.RequireClosed(t, started, 5*time.Second, "first task start")

	closed := make(chan struct{})
	go func() {
		queue.Close()
		close(closed)
	}()

	// Close must not return while the first task is still running.
	select {
	case <-closed:
		t.Fatal("Close returned while a task was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	testutil.RequireClosed(t, closed, 5*time.Second, "Close")

	if !finished.Load() {
		t.Error("running task did not finish before Close returned")
	}
	if dropped.Load() {
		t.Error("unstarted task ran after Close")
	}
	if err := queue.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
	if err := queue.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after Close = %v, want ErrClosed", err)
	}
}

func TestShutdownFromInsideTask(t *testing.T) {
	queue := New("test", nil)
	queue.Submit(func() { queue.Shutdown() })
	testutil.RequireClosed(t, queue.Done(), 5*time.Second, "worker exit")
	queue.Close()
}

func TestFlushHonoursContext(t *testing.T) {
	queue := New("test", nil)
	defer queue.Close()

	release := make(chan struct{})
	defer close(release)
	queue.Submit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := queue.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush = %v, want DeadlineExceeded", err)
	}
}
