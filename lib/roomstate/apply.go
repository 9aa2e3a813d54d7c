// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstate

import (
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/messaging"
)

// Apply returns the snapshot that results from applying event to state
// in the given direction. If the event does not change state (not a
// state event, unrecognized type, malformed content, or a Backward
// removal of an already empty slot) Apply returns state itself.
func Apply(state *State, event *messaging.Event, direction Direction) *State {
	if state == nil {
		state = empty
	}
	switch direction {
	case Forward:
		key, ok := acceptForward(event)
		if !ok {
			return state
		}
		return state.with(key, event)
	case Backward:
		return applyBackward(state, event)
	default:
		return state
	}
}

func acceptForward(event *messaging.Event) (Key, bool) {
	if event == nil || !event.IsState() {
		return Key{}, false
	}
	key := Key{Type: event.Type, StateKey: event.StateKeyValue()}
	if !validKey(key) || !validContent(event.Type, event.Content) {
		return Key{}, false
	}
	return key, true
}

func applyBackward(state *State, event *messaging.Event) *State {
	if event == nil || !event.IsState() {
		return state
	}
	key := Key{Type: event.Type, StateKey: event.StateKeyValue()}
	if !validKey(key) {
		return state
	}

	previous := event.PrevContent()
	if previous == nil {
		if state.Event(key.Type, key.StateKey) == nil {
			return state
		}
		return state.with(key, nil)
	}
	if !validContent(event.Type, previous) {
		return state
	}
	return state.with(key, restoredEvent(event, previous))
}

// restoredEvent reconstructs the event that event replaced, as far as
// the unsigned block describes it.
func restoredEvent(event *messaging.Event, previous map[string]any) *messaging.Event {
	sender := event.PrevSender()
	if sender.IsZero() {
		sender = event.Sender
	}
	stateKey := event.StateKeyValue()
	return &messaging.Event{
		EventID:  event.ReplacesState(),
		Type:     event.Type,
		Sender:   sender,
		RoomID:   event.RoomID,
		StateKey: &stateKey,
		Content:  messaging.CloneContent(previous),
	}
}

// singleton types live at the empty state key only.
var singleton = map[ref.EventType]bool{
	schema.EventTypeRoomCreate:            true,
	schema.EventTypeRoomName:              true,
	schema.EventTypeRoomTopic:             true,
	schema.EventTypeRoomAvatar:            true,
	schema.EventTypeRoomPowerLevels:       true,
	schema.EventTypeRoomJoinRules:         true,
	schema.EventTypeRoomHistoryVisibility: true,
	schema.EventTypeRoomGuestAccess:       true,
	schema.EventTypeRoomCanonicalAlias:    true,
	schema.EventTypeRoomEncryption:        true,
}

// IsRecognized reports whether events of this type are tracked.
func IsRecognized(eventType ref.EventType) bool {
	if singleton[eventType] {
		return true
	}
	switch eventType {
	case schema.EventTypeRoomMember, schema.EventTypeRoomAliases, schema.EventTypeRoomThirdPartyInvite:
		return true
	}
	return false
}

func validKey(key Key) bool {
	if singleton[key.Type] {
		return key.StateKey == ""
	}
	switch key.Type {
	case schema.EventTypeRoomMember:
		_, err := ref.ParseUserID(key.StateKey)
		return err == nil
	case schema.EventTypeRoomAliases, schema.EventTypeRoomThirdPartyInvite:
		return key.StateKey != ""
	}
	return false
}

var memberships = map[string]bool{
	schema.MembershipInvite: true,
	schema.MembershipJoin:   true,
	schema.MembershipLeave:  true,
	schema.MembershipBan:    true,
	schema.MembershipKnock:  true,
}

func validContent(eventType ref.EventType, content map[string]any) bool {
	switch eventType {
	case schema.EventTypeRoomMember:
		membership, ok := content["membership"].(string)
		return ok && memberships[membership]
	case schema.EventTypeRoomName:
		return optionalString(content, "name")
	case schema.EventTypeRoomTopic:
		return optionalString(content, "topic")
	case schema.EventTypeRoomAvatar:
		return optionalString(content, "url")
	case schema.EventTypeRoomCanonicalAlias:
		return optionalString(content, "alias")
	case schema.EventTypeRoomJoinRules:
		return requiredString(content, "join_rule")
	case schema.EventTypeRoomHistoryVisibility:
		return requiredString(content, "history_visibility")
	case schema.EventTypeRoomGuestAccess:
		return requiredString(content, "guest_access")
	case schema.EventTypeRoomEncryption:
		return requiredString(content, "algorithm")
	case schema.EventTypeRoomPowerLevels:
		return numericMap(content, "users") && numericMap(content, "events")
	case schema.EventTypeRoomCreate, schema.EventTypeRoomAliases, schema.EventTypeRoomThirdPartyInvite:
		return true
	}
	return false
}

func requiredString(content map[string]any, field string) bool {
	value, ok := content[field].(string)
	return ok && value != ""
}

func optionalString(content map[string]any, field string) bool {
	value, present := content[field]
	if !present {
		return true
	}
	_, ok := value.(string)
	return ok
}

func numericMap(content map[string]any, field string) bool {
	value, present := content[field]
	if !present {
		return true
	}
	entries, ok := value.(map[string]any)
	if !ok {
		return false
	}
	for _, entry := range entries {
		if _, ok := toInt(entry); !ok {
			return false
		}
	}
	return true
}

func toInt(value any) (int64, bool) {
	switch number := value.(type) {
	case float64:
		return int64(number), number == float64(int64(number))
	case int64:
		return number, true
	case uint64:
		return int64(number), true
	case int:
		return int64(number), true
	}
	return 0, false
}
