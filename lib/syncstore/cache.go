// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"cmp"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/messaging"
)

// cache is the in-memory view shared by both stores. When touched is
// non-nil, every write records its key there so SQLiteStore knows which
// rows to flush.
type cache struct {
	mu            sync.Mutex
	closed        bool
	eventsPerRoom int

	rooms       map[ref.RoomID]*Room
	users       map[ref.UserID]User
	summaries   map[ref.RoomID]Summary
	events      map[ref.RoomID][]*messaging.Event
	keyRequests map[KeyRequestID]KeyRequestRecord

	cursor       string
	stagedCursor *string

	touched *touchedKeys
}

// touchedKeys lists rows written since the last successful flush. At
// flush time the cache's current value decides between upsert and
// delete.
type touchedKeys struct {
	rooms       map[ref.RoomID]struct{}
	users       map[ref.UserID]struct{}
	summaries   map[ref.RoomID]struct{}
	events      map[ref.RoomID]struct{}
	keyRequests map[KeyRequestID]struct{}
}

func newTouchedKeys() *touchedKeys {
	return &touchedKeys{
		rooms:       make(map[ref.RoomID]struct{}),
		users:       make(map[ref.UserID]struct{}),
		summaries:   make(map[ref.RoomID]struct{}),
		events:      make(map[ref.RoomID]struct{}),
		keyRequests: make(map[KeyRequestID]struct{}),
	}
}

func (t *touchedKeys) empty() bool {
	return len(t.rooms) == 0 && len(t.users) == 0 && len(t.summaries) == 0 &&
		len(t.events) == 0 && len(t.keyRequests) == 0
}

func newCache(eventsPerRoom int) cache {
	if eventsPerRoom <= 0 {
		eventsPerRoom = DefaultEventsPerRoom
	}
	return cache{
		eventsPerRoom: eventsPerRoom,
		rooms:         make(map[ref.RoomID]*Room),
		users:         make(map[ref.UserID]User),
		summaries:     make(map[ref.RoomID]Summary),
		events:        make(map[ref.RoomID][]*messaging.Event),
		keyRequests:   make(map[KeyRequestID]KeyRequestRecord),
	}
}

// reset drops all data. Caller holds c.mu.
func (c *cache) reset() {
	c.rooms = make(map[ref.RoomID]*Room)
	c.users = make(map[ref.UserID]User)
	c.summaries = make(map[ref.RoomID]Summary)
	c.events = make(map[ref.RoomID][]*messaging.Event)
	c.keyRequests = make(map[KeyRequestID]KeyRequestRecord)
	c.cursor = ""
	c.stagedCursor = nil
	if c.touched != nil {
		c.touched = newTouchedKeys()
	}
}

func (c *cache) Room(id ref.RoomID) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[id]
}

func (c *cache) Rooms() []*Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := slices.Collect(maps.Values(c.rooms))
	slices.SortFunc(rooms, func(a, b *Room) int {
		return cmp.Compare(a.ID().String(), b.ID().String())
	})
	return rooms
}

func (c *cache) StoreRoom(room *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rooms[room.ID()] = room
	if c.touched != nil {
		c.touched.rooms[room.ID()] = struct{}{}
	}
}

func (c *cache) DeleteRoom(id ref.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	delete(c.rooms, id)
	delete(c.summaries, id)
	delete(c.events, id)
	if c.touched != nil {
		c.touched.rooms[id] = struct{}{}
		c.touched.summaries[id] = struct{}{}
		c.touched.events[id] = struct{}{}
	}
}

func (c *cache) User(id ref.UserID) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[id]
	return user, ok
}

func (c *cache) StoreUser(user User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.users[user.UserID] = user
	if c.touched != nil {
		c.touched.users[user.UserID] = struct{}{}
	}
}

func (c *cache) Summary(id ref.RoomID) (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary, ok := c.summaries[id]
	return summary, ok
}

func (c *cache) Summaries() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summaries := slices.Collect(maps.Values(c.summaries))
	slices.SortFunc(summaries, func(a, b Summary) int {
		return cmp.Compare(a.RoomID.String(), b.RoomID.String())
	})
	return summaries
}

func (c *cache) StoreSummary(summary Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.summaries[summary.RoomID] = summary
	if c.touched != nil {
		c.touched.summaries[summary.RoomID] = struct{}{}
	}
}

func (c *cache) StoreRoomEvents(id ref.RoomID, events []*messaging.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(events) == 0 {
		return
	}
	timeline := c.events[id]
	seen := make(map[ref.EventID]struct{}, len(timeline))
	for _, event := range timeline {
		if !event.EventID.IsZero() {
			seen[event.EventID] = struct{}{}
		}
	}
	appended := false
	for _, event := range events {
		if !event.EventID.IsZero() {
			if _, duplicate := seen[event.EventID]; duplicate {
				continue
			}
			seen[event.EventID] = struct{}{}
		}
		timeline = append(timeline, event)
		appended = true
	}
	if !appended {
		return
	}
	if excess := len(timeline) - c.eventsPerRoom; excess > 0 {
		timeline = slices.Clone(timeline[excess:])
	}
	c.events[id] = timeline
	if c.touched != nil {
		c.touched.events[id] = struct{}{}
	}
}

func (c *cache) RoomEvents(id ref.RoomID) []*messaging.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events[id])
}

func (c *cache) StoreKeyRequest(record KeyRequestRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.keyRequests[record.ID] = record
	if c.touched != nil {
		c.touched.keyRequests[record.ID] = struct{}{}
	}
}

func (c *cache) DeleteKeyRequest(id KeyRequestID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.keyRequests[id]; !ok {
		return
	}
	delete(c.keyRequests, id)
	if c.touched != nil {
		c.touched.keyRequests[id] = struct{}{}
	}
}

func (c *cache) KeyRequests() []KeyRequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	records := slices.Collect(maps.Values(c.keyRequests))
	slices.SortFunc(records, func(a, b KeyRequestRecord) int {
		if n := cmp.Compare(a.ReceivedAt, b.ReceivedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID.RequestID, b.ID.RequestID)
	})
	return records
}

func (c *cache) StreamCursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *cache) SetStreamCursor(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stagedCursor = &token
}
