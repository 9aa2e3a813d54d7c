// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/bureau-foundation/roomsync/lib/ref"
)

// Sync response sections a FragmentError can come from.
const (
	SectionJoin        = "join"
	SectionInvite      = "invite"
	SectionLeave       = "leave"
	SectionPresence    = "presence"
	SectionAccountData = "account_data"
	SectionToDevice    = "to_device"
)

// FragmentError describes one part of a sync response that could not
// be decoded. The rest of the response decoded normally.
//
// For room sections the fragment is a whole room: one bad event (an
// invalid sender, say) rejects that room's entire slice of the
// response. For top-level event sections the fragment is a single
// event.
type FragmentError struct {
	Section string

	// Key is the raw room ID for room sections and the event's index
	// for event sections.
	Key string

	// RoomID is the parsed room ID when Key is a valid one.
	RoomID ref.RoomID

	Err error
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("messaging: malformed %s fragment %q: %v", e.Section, e.Key, e.Err)
}

func (e *FragmentError) Unwrap() error { return e.Err }

// IsRoom reports whether the fragment is a room of the join, invite, or
// leave section.
func (e *FragmentError) IsRoom() bool {
	switch e.Section {
	case SectionJoin, SectionInvite, SectionLeave:
		return true
	}
	return false
}

type rawEventSection struct {
	Events []json.RawMessage `json:"events"`
}

type rawSyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join   map[string]json.RawMessage `json:"join"`
		Invite map[string]json.RawMessage `json:"invite"`
		Leave  map[string]json.RawMessage `json:"leave"`
	} `json:"rooms"`
	Presence    rawEventSection `json:"presence"`
	AccountData rawEventSection `json:"account_data"`
	ToDevice    rawEventSection `json:"to_device"`
}

// UnmarshalJSON decodes a sync response fragment by fragment. Rooms
// and top-level events that fail to decode are left out and recorded
// in Malformed; only a response whose outer structure is invalid is an
// error.
func (r *SyncResponse) UnmarshalJSON(data []byte) error {
	var raw rawSyncResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var decoded SyncResponse
	decoded.NextBatch = raw.NextBatch
	decoded.ToDevice.Events = decodeEvents(&decoded.Malformed, SectionToDevice, raw.ToDevice.Events)
	decoded.Presence.Events = decodeEvents(&decoded.Malformed, SectionPresence, raw.Presence.Events)
	decoded.AccountData.Events = decodeEvents(&decoded.Malformed, SectionAccountData, raw.AccountData.Events)
	decoded.Rooms.Leave = decodeRooms[LeftRoom](&decoded.Malformed, SectionLeave, raw.Rooms.Leave)
	decoded.Rooms.Join = decodeRooms[JoinedRoom](&decoded.Malformed, SectionJoin, raw.Rooms.Join)
	decoded.Rooms.Invite = decodeRooms[InvitedRoom](&decoded.Malformed, SectionInvite, raw.Rooms.Invite)
	*r = decoded
	return nil
}

func decodeRooms[T any](malformed *[]*FragmentError, section string, raw map[string]json.RawMessage) map[ref.RoomID]T {
	if len(raw) == 0 {
		return nil
	}
	rooms := make(map[ref.RoomID]T, len(raw))
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		roomID, err := ref.ParseRoomID(key)
		if err != nil {
			*malformed = append(*malformed, &FragmentError{Section: section, Key: key, Err: err})
			continue
		}
		var room T
		if err := json.Unmarshal(raw[key], &room); err != nil {
			*malformed = append(*malformed, &FragmentError{Section: section, Key: key, RoomID: roomID, Err: err})
			continue
		}
		rooms[roomID] = room
	}
	if len(rooms) == 0 {
		return nil
	}
	return rooms
}

func decodeEvents(malformed *[]*FragmentError, section string, raw []json.RawMessage) []Event {
	if len(raw) == 0 {
		return nil
	}
	events := make([]Event, 0, len(raw))
	for index, data := range raw {
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			*malformed = append(*malformed, &FragmentError{Section: section, Key: strconv.Itoa(index), Err: err})
			continue
		}
		events = append(events, event)
	}
	return events
}
