// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob frames, compresses, and fingerprints the large values the
// permanent sync store writes.
//
// Two kinds of value dominate the store's size: room state snapshots
// (one per room, rewritten on every state change, highly repetitive
// across commits) and room event pages (append-mostly timelines). State
// snapshots use LZ4 for fast decode on load; event pages use zstd for
// ratio. Both are framed by [Pack] as
//
//	tag (1 byte) | uncompressed length (uvarint) | payload
//
// so [Unpack] needs no out-of-band metadata. When compression would not
// shrink the value, Pack stores it uncompressed under [None].
//
// [Fingerprint] is a keyed BLAKE3 hash of the uncompressed bytes. The
// snapshot table is keyed by it, so identical snapshots (rooms whose
// state did not change between commits, or rooms sharing identical
// state) are stored once.
package blob
