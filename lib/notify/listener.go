// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"github.com/bureau-foundation/roomsync/lib/keyshare"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/messaging"
)

// Listener observes a session. Implementations must be comparable
// (typically a pointer) so Register can deduplicate them.
type Listener interface {
	// StoreReady fires once the session's store is loaded.
	StoreReady()

	// PresenceUpdate carries an m.presence event and the user record
	// it produced.
	PresenceUpdate(event *messaging.Event, user syncstore.User)

	// LiveEvent carries a timeline event together with the room state
	// immediately before it.
	LiveEvent(event *messaging.Event, stateBefore *roomstate.State)

	// LiveEventsChunkProcessed fires after each non-initial batch.
	LiveEventsChunkProcessed()

	// InitialSyncComplete fires once per session.
	InitialSyncComplete()

	// NewRoom fires when a live join creates a room.
	NewRoom(roomID ref.RoomID)

	// RoomInvited fires for each invited room in a batch.
	RoomInvited(roomID ref.RoomID)

	// JoinRoom fires for each joined room in a batch.
	JoinRoom(roomID ref.RoomID)

	// LeaveRoom fires after a left room has been deleted.
	LeaveRoom(roomID ref.RoomID)

	RoomInitialSyncComplete(roomID ref.RoomID)

	// RoomInternalUpdate fires when a room's derived data (summary,
	// receipts, unread counts) changed without a live event.
	RoomInternalUpdate(roomID ref.RoomID)

	ReceiptEvent(roomID ref.RoomID, senders []ref.UserID)

	RoomTagEvent(roomID ref.RoomID)

	// RoomSyncWithLimitedTimeline fires when the server skipped
	// timeline events; the local timeline has a gap.
	RoomSyncWithLimitedTimeline(roomID ref.RoomID)

	TypingEvent(roomID ref.RoomID, userIDs []ref.UserID)

	ToDeviceEvent(event *messaging.Event)

	KeyRequestReceived(request keyshare.IncomingRequest)
	KeyRequestCancelled(request keyshare.IncomingRequest)
	RoomKeyShared(request keyshare.IncomingRequest)
	RoomKeyIgnored(request keyshare.IncomingRequest)

	// UnreadCountChanged fires when the locally computed unread count
	// of a room changes.
	UnreadCountChanged(roomID ref.RoomID, count int)
}

// Base implements every Listener method as a no-op.
type Base struct{}

func (Base) StoreReady() {}
func (Base) PresenceUpdate(*messaging.Event, syncstore.User) {}
func (Base) LiveEvent(*messaging.Event, *roomstate.State) {}
func (Base) LiveEventsChunkProcessed() {}
func (Base) InitialSyncComplete() {}
func (Base) NewRoom(ref.RoomID) {}
func (Base) RoomInvited(ref.RoomID) {}
func (Base) JoinRoom(ref.RoomID) {}
func (Base) LeaveRoom(ref.RoomID) {}
func (Base) RoomInitialSyncComplete(ref.RoomID) {}
func (Base) RoomInternalUpdate(ref.RoomID) {}
func (Base) ReceiptEvent(ref.RoomID, []ref.UserID) {}
func (Base) RoomTagEvent(ref.RoomID) {}
func (Base) RoomSyncWithLimitedTimeline(ref.RoomID) {}
func (Base) TypingEvent(ref.RoomID, []ref.UserID) {}
func (Base) ToDeviceEvent(*messaging.Event) {}
func (Base) KeyRequestReceived(keyshare.IncomingRequest) {}
func (Base) KeyRequestCancelled(keyshare.IncomingRequest) {}
func (Base) RoomKeyShared(keyshare.IncomingRequest) {}
func (Base) RoomKeyIgnored(keyshare.IncomingRequest) {}
func (Base) UnreadCountChanged(ref.RoomID, int) {}

var _ Listener = Base{}
