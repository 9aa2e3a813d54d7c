// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue provides an unbounded serial task queue backed by a
// single goroutine.
//
// A Queue runs tasks one at a time in submission order. It is the
// execution context for work that must never overlap: a session
// ingests sync batches on one Queue and delivers listener
// notifications on another, so a slow listener never stalls ingestion
// and ingestion never reorders deliveries.
//
// Close is the teardown primitive. It rejects new tasks, drops tasks
// that have not started, and waits for the running task to return.
// Shutdown does the same without waiting, for callers that may be
// running on the queue themselves.
//
// A panicking task is recovered and logged; the queue keeps running.
package taskqueue
