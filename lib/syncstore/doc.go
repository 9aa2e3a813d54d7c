// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncstore holds a session's rooms, users, summaries, stored
// timelines, pending key requests, and stream cursor.
//
// [Store] is the contract the reconciler writes through. Writes are
// visible to readers immediately. Durability is a separate step:
// [Store.Commit] makes everything written since the previous commit
// durable as one unit, and only a successful Commit moves the value
// [Store.StreamCursor] reports. A batch whose commit fails is therefore
// retried from the old cursor, and every write the reconciler performs
// is idempotent under replay (state application is overwrite-only, and
// stored timelines deduplicate by event ID).
//
// Two implementations exist. [MemoryStore] keeps everything in process
// memory and reports IsPermanent false. [SQLiteStore] keeps the same
// in-memory view, journals which rows each write touched, and flushes
// the journal in one immediate transaction at Commit. State snapshots
// are content-addressed: encoded with lib/codec, fingerprinted with
// lib/blob, and LZ4-packed, so unchanged or identical snapshots are
// written once. Stored timelines are zstd-packed pages. Pending key
// requests are optionally sealed with age before they reach disk.
//
// A [Room] is the one live object per room ID. Its fields are guarded
// by a short internal lock; the room state itself is an immutable
// roomstate snapshot swapped atomically by [Room.SetState].
package syncstore
