// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for every record the
// permanent store writes: room rows, user rows, summaries, state
// snapshot blobs, and key request records.
//
// Matrix payloads arrive as JSON and keep their json struct tags. The
// store re-encodes them as CBOR through this package; fxamacker/cbor
// falls back to json tags when cbor tags are absent, so one set of tags
// names fields for both formats. Types that exist only on disk use cbor
// tags.
//
// Encoding is Core Deterministic (RFC 8949 section 4.2). Identical
// values always produce identical bytes, which the snapshot blob table
// relies on for content addressing.
package codec
