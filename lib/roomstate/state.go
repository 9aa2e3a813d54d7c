// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstate

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/messaging"
)

// Direction is the order in which an event is being applied.
type Direction int

const (
	// Forward applies an event that happened after the snapshot.
	Forward Direction = iota

	// Backward undoes an event, producing the state before it.
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Key identifies one state slot.
type Key struct {
	Type     ref.EventType
	StateKey string
}

// State is an immutable room state snapshot. The zero value and nil
// are both the empty state. Events reachable from a State must not be
// modified.
type State struct {
	slots map[Key]*messaging.Event
}

var empty = &State{}

// Empty returns the empty snapshot.
func Empty() *State { return empty }

// Len returns the number of occupied slots.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

// Event returns the event in the given slot, or nil.
func (s *State) Event(eventType ref.EventType, stateKey string) *messaging.Event {
	if s == nil {
		return nil
	}
	return s.slots[Key{Type: eventType, StateKey: stateKey}]
}

// Keys returns the occupied slots sorted by type, then state key.
func (s *State) Keys() []Key {
	if s == nil {
		return nil
	}
	keys := slices.Collect(maps.Keys(s.slots))
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Entries returns every event in the snapshot in Keys order. The
// result is the persistence form: FromEntries(s.Entries()) is Equal to
// s.
func (s *State) Entries() []*messaging.Event {
	keys := s.Keys()
	entries := make([]*messaging.Event, len(keys))
	for index, key := range keys {
		entries[index] = s.slots[key]
	}
	return entries
}

// FromEntries rebuilds a snapshot from persisted events by applying
// them forward in order. Entries that would be ignored by Apply are
// skipped and counted.
func FromEntries(entries []*messaging.Event) (state *State, skipped int) {
	slots := make(map[Key]*messaging.Event, len(entries))
	for _, event := range entries {
		key, ok := acceptForward(event)
		if !ok {
			skipped++
			continue
		}
		slots[key] = event
	}
	if len(slots) == 0 {
		return empty, skipped
	}
	return &State{slots: slots}, skipped
}

// Equal reports whether two snapshots hold the same events in the same
// slots. Events are compared by ID, sender, and content; content is
// compared by canonical JSON so numeric representations that differ
// only in Go type (float64 from JSON, int64 from CBOR) are equal.
func Equal(a, b *State) bool {
	if a == nil {
		a = empty
	}
	if b == nil {
		b = empty
	}
	if a.Len() != b.Len() {
		return false
	}
	if a == b {
		return true
	}
	for key, left := range a.slots {
		right, ok := b.slots[key]
		if !ok || !sameEvent(left, right) {
			return false
		}
	}
	return true
}

func sameEvent(a, b *messaging.Event) bool {
	if a == b {
		return true
	}
	if a.EventID != b.EventID || a.Sender != b.Sender || a.Type != b.Type || a.StateKeyValue() != b.StateKeyValue() {
		return false
	}
	return canonicalContent(a.Content) == canonicalContent(b.Content)
}

func canonicalContent(content map[string]any) string {
	if len(content) == 0 {
		return "{}"
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("unencodable:%v", err)
	}
	return string(data)
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.StateKey, b.StateKey)
}

// with returns a copy of s with key set to event (or removed when
// event is nil).
func (s *State) with(key Key, event *messaging.Event) *State {
	slots := make(map[Key]*messaging.Event, s.Len()+1)
	if s != nil {
		maps.Copy(slots, s.slots)
	}
	if event == nil {
		delete(slots, key)
	} else {
		slots[key] = event
	}
	return &State{slots: slots}
}
