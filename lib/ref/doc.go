// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types.
//
// [RoomID], [UserID], [EventID], and [DeviceID] are immutable value
// types wrapping a validated string. They are parsed once at the wire
// boundary (JSON decoding of sync responses goes through
// UnmarshalText) so downstream code never re-validates. All of them
// implement encoding.TextMarshaler, which lets them serve as JSON
// object keys and lets lib/codec store them as CBOR text strings.
//
// [EventType] is a plain named string: event types are opaque and need
// no validation.
package ref
