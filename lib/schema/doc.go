// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the Matrix event types and content shapes the
// sync core understands.
//
// Event type constants are grouped by where they appear in a /sync
// response: room state, room timeline, room ephemeral, room account
// data, global presence, and to-device. Content structs cover only the
// fields the core reads; everything else in an event's content is
// carried opaquely as map[string]any on messaging.Event.
//
// Content decoding goes through [DecodeContent], which round-trips the
// generic content map through encoding/json into a typed struct. Sync
// payloads are JSON on the wire, so this keeps field naming (json tags)
// in one place.
package schema
