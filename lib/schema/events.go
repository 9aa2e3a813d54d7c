// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/roomsync/lib/ref"
)

// Room state event types. Each is keyed by (type, state_key) in a room
// state snapshot.
const (
	EventTypeRoomCreate            ref.EventType = "m.room.create"
	EventTypeRoomMember            ref.EventType = "m.room.member"
	EventTypeRoomName              ref.EventType = "m.room.name"
	EventTypeRoomTopic             ref.EventType = "m.room.topic"
	EventTypeRoomAvatar            ref.EventType = "m.room.avatar"
	EventTypeRoomPowerLevels       ref.EventType = "m.room.power_levels"
	EventTypeRoomJoinRules         ref.EventType = "m.room.join_rules"
	EventTypeRoomHistoryVisibility ref.EventType = "m.room.history_visibility"
	EventTypeRoomGuestAccess       ref.EventType = "m.room.guest_access"
	EventTypeRoomCanonicalAlias    ref.EventType = "m.room.canonical_alias"
	EventTypeRoomAliases           ref.EventType = "m.room.aliases"
	EventTypeRoomEncryption        ref.EventType = "m.room.encryption"
	EventTypeRoomThirdPartyInvite  ref.EventType = "m.room.third_party_invite"
)

// Room timeline (non-state) event types.
const (
	EventTypeRoomMessage   ref.EventType = "m.room.message"
	EventTypeRoomEncrypted ref.EventType = "m.room.encrypted"
	EventTypeRoomRedaction ref.EventType = "m.room.redaction"
	EventTypeSticker       ref.EventType = "m.sticker"
)

// Ephemeral, account data, and presence event types. None of these are
// summary-worthy.
const (
	EventTypeTyping    ref.EventType = "m.typing"
	EventTypeReceipt   ref.EventType = "m.receipt"
	EventTypeTag       ref.EventType = "m.tag"
	EventTypeFullyRead ref.EventType = "m.fully_read"
	EventTypePresence  ref.EventType = "m.presence"
)

// To-device event types for end-to-end encryption key exchange.
const (
	EventTypeRoomKey          ref.EventType = "m.room_key"
	EventTypeForwardedRoomKey ref.EventType = "m.forwarded_room_key"
	EventTypeRoomKeyRequest   ref.EventType = "m.room_key_request"
)

// Membership values for m.room.member content.
const (
	MembershipInvite = "invite"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// Room key request actions carried in m.room_key_request content.
const (
	KeyRequestActionRequest      = "request"
	KeyRequestActionCancellation = "request_cancellation"
)

// Receipt types inside m.receipt content.
const (
	ReceiptTypeRead = "m.read"
)

// AlgorithmMegolm is the room-event encryption algorithm identifier
// used by m.room.encryption and room key events.
const AlgorithmMegolm = "m.megolm.v1.aes-sha2"

// IsSummaryWorthy reports whether a room event of the given type may
// become a room's summary event. Ephemeral and account data types never
// are; state events and every timeline type are.
func IsSummaryWorthy(eventType ref.EventType) bool {
	switch eventType {
	case EventTypeTyping, EventTypeReceipt, EventTypeTag, EventTypeFullyRead, EventTypePresence:
		return false
	}
	return true
}

// IsMessage reports whether a timeline event type counts towards a
// room's unread count.
func IsMessage(eventType ref.EventType) bool {
	switch eventType {
	case EventTypeRoomMessage, EventTypeRoomEncrypted, EventTypeSticker:
		return true
	}
	return false
}

// DecodeContent converts a generic event content map into a typed
// content struct. The conversion goes through JSON so the struct's json
// tags define field names.
func DecodeContent(content map[string]any, target any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding content: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding content into %T: %w", target, err)
	}
	return nil
}

// EncodeContent converts a typed content struct into the generic
// content map carried by events. Used when the core fabricates events
// locally (synthetic invites).
func EncodeContent(content any) (map[string]any, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", content, err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding %T as map: %w", content, err)
	}
	return result, nil
}
