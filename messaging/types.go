// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/roomsync/lib/ref"
)

// Event is a Matrix event as it appears in /sync. Ephemeral and
// to-device events leave EventID and often Sender empty.
type Event struct {
	EventID        ref.EventID    `json:"event_id,omitzero"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender,omitzero"`
	OriginServerTS int64          `json:"origin_server_ts,omitempty"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitzero"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        ref.EventID    `json:"redacts,omitzero"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`

	// LegacyPrevContent is the top-level prev_content older servers
	// send instead of unsigned.prev_content.
	LegacyPrevContent map[string]any `json:"prev_content,omitempty"`
}

// EventUnsigned is server-added metadata. For state events it carries
// the value the event replaced.
type EventUnsigned struct {
	Age           int64          `json:"age,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	PrevContent   map[string]any `json:"prev_content,omitempty"`
	ReplacesState ref.EventID    `json:"replaces_state,omitzero"`
	PrevSender    ref.UserID     `json:"prev_sender,omitzero"`
}

// IsState reports whether the event carries a state key.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// StateKeyValue returns the state key, or "" for non-state events.
func (e *Event) StateKeyValue() string {
	if e.StateKey == nil {
		return ""
	}
	return *e.StateKey
}

// PrevContent returns the content this state event replaced, or nil if
// it was the first value for its slot.
func (e *Event) PrevContent() map[string]any {
	if e.Unsigned != nil && e.Unsigned.PrevContent != nil {
		return e.Unsigned.PrevContent
	}
	return e.LegacyPrevContent
}

// ReplacesState returns the ID of the event this state event replaced.
func (e *Event) ReplacesState() ref.EventID {
	if e.Unsigned == nil {
		return ref.EventID{}
	}
	return e.Unsigned.ReplacesState
}

// PrevSender returns the sender of the replaced state event.
func (e *Event) PrevSender() ref.UserID {
	if e.Unsigned == nil {
		return ref.UserID{}
	}
	return e.Unsigned.PrevSender
}

// Clone returns a deep copy. Content maps and slices are copied
// recursively so the clone shares nothing mutable with e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Content = cloneMap(e.Content)
	clone.LegacyPrevContent = cloneMap(e.LegacyPrevContent)
	if e.StateKey != nil {
		stateKey := *e.StateKey
		clone.StateKey = &stateKey
	}
	if e.Unsigned != nil {
		unsigned := *e.Unsigned
		unsigned.PrevContent = cloneMap(e.Unsigned.PrevContent)
		clone.Unsigned = &unsigned
	}
	return &clone
}

func cloneMap(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}
	result := make(map[string]any, len(source))
	for key, value := range source {
		result[key] = cloneValue(value)
	}
	return result
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		result := make([]any, len(typed))
		for index, element := range typed {
			result[index] = cloneValue(element)
		}
		return result
	default:
		return value
	}
}

// StringContent returns content[key] if it is a string.
func (e *Event) StringContent(key string) (string, bool) {
	value, ok := e.Content[key].(string)
	return value, ok
}

// SyncResponse is the body of GET /_matrix/client/v3/sync.
type SyncResponse struct {
	NextBatch   string       `json:"next_batch"`
	Rooms       RoomsSection `json:"rooms"`
	Presence    EventSection `json:"presence"`
	AccountData EventSection `json:"account_data"`
	ToDevice    EventSection `json:"to_device"`

	// Malformed lists the fragments that were skipped while decoding.
	Malformed []*FragmentError `json:"-"`
}

// IsEmpty reports whether the response carries no room, presence, or
// to-device data, and had nothing malformed in it.
func (r *SyncResponse) IsEmpty() bool {
	return len(r.Malformed) == 0 &&
		len(r.Rooms.Join) == 0 &&
		len(r.Rooms.Invite) == 0 &&
		len(r.Rooms.Leave) == 0 &&
		len(r.Presence.Events) == 0 &&
		len(r.ToDevice.Events) == 0
}

// EventSection is the {"events": [...]} wrapper used throughout /sync.
type EventSection struct {
	Events []Event `json:"events"`
}

// RoomsSection groups rooms by the user's membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitzero"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitzero"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitzero"`
}

// JoinedRoom is one joined room's slice of a sync response.
type JoinedRoom struct {
	State               EventSection        `json:"state"`
	Timeline            TimelineSection     `json:"timeline"`
	Ephemeral           EventSection        `json:"ephemeral"`
	AccountData         EventSection        `json:"account_data"`
	UnreadNotifications *UnreadNotifications `json:"unread_notifications,omitempty"`
}

// InvitedRoom carries the stripped state the inviter shared.
type InvitedRoom struct {
	InviteState EventSection `json:"invite_state"`
}

// LeftRoom is a room the user left or was removed from since the last
// sync.
type LeftRoom struct {
	State    EventSection    `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection holds timeline events in stream order.
type TimelineSection struct {
	Events    []Event `json:"events"`
	Limited   bool    `json:"limited,omitempty"`
	PrevBatch string  `json:"prev_batch,omitempty"`
}

// UnreadNotifications are the server-computed counters for a room.
type UnreadNotifications struct {
	HighlightCount    int `json:"highlight_count"`
	NotificationCount int `json:"notification_count"`
}

// RoomInitialSync is the payload of a per-room initial sync (GET
// /rooms/{roomId}/initialSync): the room's full state plus its most
// recent messages.
type RoomInitialSync struct {
	RoomID      ref.RoomID    `json:"room_id"`
	Membership  string        `json:"membership,omitempty"`
	Inviter     ref.UserID    `json:"inviter,omitzero"`
	Messages    MessagesChunk `json:"messages"`
	State       []Event       `json:"state"`
	Presence    []Event       `json:"presence,omitempty"`
	Visibility  string        `json:"visibility,omitempty"`
	AccountData []Event       `json:"account_data,omitempty"`
}

// MessagesChunk is a paginated run of timeline events in stream order.
type MessagesChunk struct {
	Start string  `json:"start,omitempty"`
	End   string  `json:"end,omitempty"`
	Chunk []Event `json:"chunk"`
}

// Stringp returns a pointer to s. State events are built with
// StateKey: messaging.Stringp("").
func Stringp(s string) *string {
	return &s
}

// CloneContent returns a deep copy of an event content map.
func CloneContent(content map[string]any) map[string]any {
	return cloneMap(content)
}
