// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"maps"
	"sync"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/schema"
)

// Receipt is one user's read marker in a room.
type Receipt struct {
	EventID   ref.EventID `cbor:"event_id"`
	Timestamp int64       `cbor:"ts"`
}

// Room is the live object for one room. Safe for concurrent use.
type Room struct {
	id ref.RoomID

	mu                sync.Mutex
	state             *roomstate.State
	visibility        string
	receipts          map[ref.UserID]Receipt
	tags              map[string]schema.TagInfo
	notificationCount int
	highlightCount    int
	unreadCount       int
}

// NewRoom returns an empty room.
func NewRoom(id ref.RoomID) *Room {
	return &Room{
		id:       id,
		state:    roomstate.Empty(),
		receipts: make(map[ref.UserID]Receipt),
		tags:     make(map[string]schema.TagInfo),
	}
}

// ID returns the room ID.
func (r *Room) ID() ref.RoomID { return r.id }

// State returns the current live snapshot.
func (r *Room) State() *roomstate.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetState publishes a new live snapshot.
func (r *Room) SetState(state *roomstate.State) {
	if state == nil {
		state = roomstate.Empty()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// Visibility returns the directory visibility reported by a room
// initial sync ("public" or "private"), or "".
func (r *Room) Visibility() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibility
}

// SetVisibility records the directory visibility.
func (r *Room) SetVisibility(visibility string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visibility = visibility
}

// Receipt returns user's read receipt.
func (r *Room) Receipt(user ref.UserID) (Receipt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[user]
	return receipt, ok
}

// Receipts returns a copy of every read receipt.
func (r *Room) Receipts() map[ref.UserID]Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.receipts)
}

// SetReceipt records user's receipt unless the stored one is newer or
// identical. Reports whether anything changed.
func (r *Room) SetReceipt(user ref.UserID, receipt Receipt) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.receipts[user]
	if ok && (existing.Timestamp > receipt.Timestamp || existing == receipt) {
		return false
	}
	r.receipts[user] = receipt
	return true
}

// Tags returns a copy of the room's tags.
func (r *Room) Tags() map[string]schema.TagInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.tags)
}

// SetTags replaces the room's tags.
func (r *Room) SetTags(tags map[string]schema.TagInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = maps.Clone(tags)
	if r.tags == nil {
		r.tags = make(map[string]schema.TagInfo)
	}
}

// ServerCounts returns the server-computed notification and highlight
// counts.
func (r *Room) ServerCounts() (notifications, highlights int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notificationCount, r.highlightCount
}

// SetServerCounts records the server-computed counts.
func (r *Room) SetServerCounts(notifications, highlights int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notificationCount, r.highlightCount = notifications, highlights
}

// UnreadCount returns the locally computed unread message count.
func (r *Room) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unreadCount
}

// SetUnreadCount records the locally computed count. Reports whether it
// changed.
func (r *Room) SetUnreadCount(count int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.unreadCount != count
	r.unreadCount = count
	return changed
}

// roomRecord is the persisted form of a Room, without its state
// snapshot (stored separately by fingerprint).
type roomRecord struct {
	RoomID            ref.RoomID                `cbor:"room_id"`
	Visibility        string                    `cbor:"visibility,omitempty"`
	Receipts          map[string]Receipt        `cbor:"receipts,omitempty"`
	Tags              map[string]schema.TagInfo `cbor:"tags,omitempty"`
	NotificationCount int                       `cbor:"notification_count,omitempty"`
	HighlightCount    int                       `cbor:"highlight_count,omitempty"`
	UnreadCount       int                       `cbor:"unread_count,omitempty"`
}

func (r *Room) record() (roomRecord, *roomstate.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipts := make(map[string]Receipt, len(r.receipts))
	for user, receipt := range r.receipts {
		receipts[user.String()] = receipt
	}
	return roomRecord{
		RoomID:            r.id,
		Visibility:        r.visibility,
		Receipts:          receipts,
		Tags:              maps.Clone(r.tags),
		NotificationCount: r.notificationCount,
		HighlightCount:    r.highlightCount,
		UnreadCount:       r.unreadCount,
	}, r.state
}

func roomFromRecord(record roomRecord, state *roomstate.State) *Room {
	room := NewRoom(record.RoomID)
	room.state = state
	room.visibility = record.Visibility
	for user, receipt := range record.Receipts {
		parsed, err := ref.ParseUserID(user)
		if err != nil {
			continue
		}
		room.receipts[parsed] = receipt
	}
	if record.Tags != nil {
		room.tags = record.Tags
	}
	room.notificationCount = record.NotificationCount
	room.highlightCount = record.HighlightCount
	room.unreadCount = record.UnreadCount
	return room
}
