// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile folds /sync batches into a session's store.
//
// Reconcile processes one batch in a fixed order:
//
//  1. to-device events, so room keys are in place before timeline
//     events that need them are decrypted;
//  2. left rooms, deleted if known;
//  3. joined rooms: state then timeline projected forward in stream
//     order, followed by ephemeral events, room account data and
//     server unread counts;
//  4. invited rooms, with a local invite membership synthesized when
//     the server sent none;
//  5. global presence.
//
// Leaving before inviting makes a room that appears in both sets end
// up invited. Within each set rooms are processed in room ID order.
//
// Each room is an isolation unit: an error or panic while processing
// one room is reported in Result.RoomErrors and the batch carries on.
// After the sets, if the batch carried anything, the next_batch token
// is staged and the store committed. A failed commit is returned as a
// *CommitError and nothing after it happens; in particular the cursor
// is not advanced, so the same batch can be fetched and reconciled
// again.
//
// A summary is the latest summary-worthy event of a room together
// with the room state immediately before that event. Projection works
// on unpublished snapshots; a room's live state is replaced once per
// batch.
//
// The Reconciler is not safe for concurrent Reconcile calls. The
// session serializes them on its ingestion queue.
package reconcile
