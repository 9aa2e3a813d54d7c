// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging defines the Matrix client-server wire types the sync
// core consumes: events, /sync responses, and per-room initial sync
// payloads.
//
// The transport that fetches these payloads lives outside this module.
// Callers hand decoded values to a session; [DecodeSyncResponse] and
// [DecodeSyncBatches] accept plain JSON or JSON with comments and
// trailing commas (JSONC), which is how recorded sync batches are kept
// for replay.
//
// Identifier fields use lib/ref types, so decoding validates room, user,
// and event IDs as it goes. A /sync response decodes fragment by
// fragment: a room with a malformed ID or a malformed event is left out
// and recorded as a [*FragmentError] in [SyncResponse.Malformed], and
// the rest of the response is still usable.
//
// Server errors are [*MatrixError] values. [IsMatrixError] tests for a
// specific errcode, and [IsRetryable] classifies failures for the sync
// loop's backoff.
package messaging
