// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session ties one login to its local sync state.
//
// A Session owns a [syncstore.Store], the [reconcile.Reconciler] that
// writes to it, the [notify.Bus] that reports changes, and the
// [keyshare.Manager] that tracks inbound room key requests. Sync
// batches are applied on a dedicated ingestion queue in arrival order;
// listeners are called on the bus's separate delivery queue.
//
// A Session is active from New until Close. Close is the only
// transition: it stops accepting batches, lets a batch that is already
// being applied finish, drops queued batches, unregisters every
// listener, closes the store, and releases the access token. After
// Close, operations that change state return [ErrReleased] and reads
// return zero values.
package session
