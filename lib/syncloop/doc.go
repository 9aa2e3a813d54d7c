// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncloop drives the /sync long-poll: it fetches batches from
// a [Transport] and hands each to an [Ingester], advancing the since
// token only after the ingester has committed the batch.
//
// Transient transport errors and retryable commit failures are retried
// with exponential backoff on the injected clock. Authentication
// failures, non-retryable commit failures, and a released session end
// the loop with an error. A finite transport signals its end with
// [ErrEndOfStream].
package syncloop
