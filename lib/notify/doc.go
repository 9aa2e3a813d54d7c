// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify fans session notifications out to registered
// listeners.
//
// A Listener has one method per notification kind; embed Base to
// implement only the ones you need. The Bus keeps listeners in a
// guarded slice. Each dispatch copies the slice under a short lock and
// delivers on the Bus's own taskqueue, never on the caller's
// goroutine, so ingestion is not slowed by listeners and listeners see
// notifications in the order they were dispatched.
//
// A listener that panics is logged and skipped; other listeners still
// receive the notification and the panic is never retried.
//
// InitialSyncComplete is sticky: once MarkInitialSyncComplete has been
// called, Register replays it synchronously to every new listener.
package notify
