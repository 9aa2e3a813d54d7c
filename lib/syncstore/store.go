// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"context"
	"errors"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/messaging"
)

// ErrClosed is returned by Commit and Clear after Close.
var ErrClosed = errors.New("syncstore: store closed")

// DefaultEventsPerRoom bounds stored timelines when the caller does not.
const DefaultEventsPerRoom = 200

// Store is the session's local data. All methods are safe for
// concurrent use. Reads after Close return zero values.
type Store interface {
	// IsPermanent reports whether committed data survives the
	// process.
	IsPermanent() bool

	// Room returns the live room, or nil.
	Room(id ref.RoomID) *Room

	// Rooms returns every room, sorted by room ID.
	Rooms() []*Room

	// StoreRoom records room (new or modified) for the next commit.
	StoreRoom(room *Room)

	// DeleteRoom removes the room with its summary and timeline.
	DeleteRoom(id ref.RoomID)

	// User returns a copy of the stored user.
	User(id ref.UserID) (User, bool)

	// StoreUser records user.
	StoreUser(user User)

	// Summary returns the room's summary.
	Summary(id ref.RoomID) (Summary, bool)

	// Summaries returns every summary, sorted by room ID.
	Summaries() []Summary

	// StoreSummary records summary.
	StoreSummary(summary Summary)

	// StoreRoomEvents appends events in stream order to the room's
	// stored timeline, skipping event IDs already present and keeping
	// only the newest events up to the store's per-room bound.
	StoreRoomEvents(id ref.RoomID, events []*messaging.Event)

	// RoomEvents returns the room's stored timeline, oldest first.
	RoomEvents(id ref.RoomID) []*messaging.Event

	// StoreKeyRequest records a pending incoming key request.
	StoreKeyRequest(record KeyRequestRecord)

	// DeleteKeyRequest forgets a key request.
	DeleteKeyRequest(id KeyRequestID)

	// KeyRequests returns every stored pending key request, oldest
	// first.
	KeyRequests() []KeyRequestRecord

	// StreamCursor returns the last committed cursor, or "".
	StreamCursor() string

	// SetStreamCursor stages a cursor for the next commit.
	SetStreamCursor(token string)

	// Commit makes every write since the last commit durable and
	// publishes the staged cursor. On failure nothing is published
	// and the writes remain staged for the next Commit.
	Commit(ctx context.Context) error

	// Clear deletes everything, committed or not.
	Clear(ctx context.Context) error

	// Close releases resources. Uncommitted writes are discarded.
	Close() error
}
