// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state, timeline, ephemeral, or
// to-device event type (e.g., "m.room.member"). Constants live in
// lib/schema.
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing. The type exists for
// compile-time safety, so a state key cannot be passed where an event
// type is expected.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }
