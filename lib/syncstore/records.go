// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/messaging"
)

// User is what the session knows about another user from presence.
type User struct {
	UserID          ref.UserID `cbor:"user_id"`
	DisplayName     string     `cbor:"displayname,omitempty"`
	AvatarURL       string     `cbor:"avatar_url,omitempty"`
	Presence        string     `cbor:"presence,omitempty"`
	StatusMsg       string     `cbor:"status_msg,omitempty"`
	CurrentlyActive bool       `cbor:"currently_active,omitempty"`
	LastActiveAgo   int64      `cbor:"last_active_ago,omitempty"`

	// LastActiveReceived is the local Unix millisecond time at which
	// LastActiveAgo was received. LastActiveAgo is relative to it.
	LastActiveReceived int64 `cbor:"last_active_received,omitempty"`
}

// Summary is a room's list-view digest: its latest summary-worthy
// event, the state immediately preceding that event, and the read
// context.
type Summary struct {
	RoomID      ref.RoomID
	LatestEvent *messaging.Event

	// StateBefore is the room state as it was just before LatestEvent.
	// Immutable; shared with whoever else captured it.
	StateBefore *roomstate.State

	// ReadReceipt is the session user's own read marker.
	ReadReceipt ref.EventID

	// Inviter is who sent the pending invite, when known.
	Inviter ref.UserID

	UnreadCount       int
	NotificationCount int
	HighlightCount    int
}

// IsInvite reports whether the summary describes a pending invite for
// self: its latest event is self's invite membership. Invites of other
// users in a joined room do not count.
func (s Summary) IsInvite(self ref.UserID) bool {
	if s.LatestEvent == nil || s.LatestEvent.Type != schema.EventTypeRoomMember {
		return false
	}
	if self.IsZero() || s.LatestEvent.StateKeyValue() != self.String() {
		return false
	}
	membership, _ := s.LatestEvent.StringContent("membership")
	return membership == schema.MembershipInvite
}

type summaryRecord struct {
	RoomID            ref.RoomID       `cbor:"room_id"`
	LatestEvent       *messaging.Event `cbor:"latest_event,omitempty"`
	ReadReceipt       ref.EventID      `cbor:"read_receipt"`
	Inviter           ref.UserID       `cbor:"inviter"`
	UnreadCount       int              `cbor:"unread_count,omitempty"`
	NotificationCount int              `cbor:"notification_count,omitempty"`
	HighlightCount    int              `cbor:"highlight_count,omitempty"`
}

func (s Summary) record() summaryRecord {
	return summaryRecord{
		RoomID:            s.RoomID,
		LatestEvent:       s.LatestEvent,
		ReadReceipt:       s.ReadReceipt,
		Inviter:           s.Inviter,
		UnreadCount:       s.UnreadCount,
		NotificationCount: s.NotificationCount,
		HighlightCount:    s.HighlightCount,
	}
}

func summaryFromRecord(record summaryRecord, state *roomstate.State) Summary {
	return Summary{
		RoomID:            record.RoomID,
		LatestEvent:       record.LatestEvent,
		StateBefore:       state,
		ReadReceipt:       record.ReadReceipt,
		Inviter:           record.Inviter,
		UnreadCount:       record.UnreadCount,
		NotificationCount: record.NotificationCount,
		HighlightCount:    record.HighlightCount,
	}
}

// KeyRequestID identifies an incoming room key request. Request IDs are
// only unique per requesting device.
type KeyRequestID struct {
	UserID    ref.UserID   `cbor:"user_id"`
	DeviceID  ref.DeviceID `cbor:"device_id"`
	RequestID string       `cbor:"request_id"`
}

// KeyRequestRecord is a pending incoming key request as persisted. Only
// Pending requests are stored; terminal ones are deleted.
type KeyRequestRecord struct {
	ID         KeyRequestID              `cbor:"id"`
	Body       schema.RoomKeyRequestBody `cbor:"body"`
	ReceivedAt int64                     `cbor:"received_at"`
}
