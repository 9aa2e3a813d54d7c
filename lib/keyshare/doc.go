// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyshare runs the inbound half of the room key request
// handshake.
//
// Another device that cannot decrypt a megolm session sends an
// m.room_key_request to-device event. The Manager turns each request
// into an IncomingRequest, asks the algorithm's Decryptor whether this
// device holds the session at all, and only then surfaces it to
// listeners as Pending. The application later decides by key:
//
//	Pending -> Shared      (Share: eligibility re-checked, keys sent)
//	Pending -> Ignored     (Ignore: the capability is not touched)
//	Pending -> Superseded  (a request_cancellation with the same ID)
//
// The three right-hand states are terminal. Decisions on an entry that
// is not Pending fail with ErrNotPending and change nothing. Actions
// are never stored with a request: a restored request is resolved
// against whatever Decryptors the live session has registered.
//
// m.room_key and m.forwarded_room_key events are handed to the
// matching Decryptor's OnRoomKeyEvent and OnNewSession.
package keyshare
