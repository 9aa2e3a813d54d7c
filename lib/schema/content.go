// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"github.com/bureau-foundation/roomsync/lib/ref"
)

// MemberContent is the content of an m.room.member state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsDirect    bool   `json:"is_direct,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// NameContent is the content of an m.room.name state event.
type NameContent struct {
	Name string `json:"name"`
}

// TopicContent is the content of an m.room.topic state event.
type TopicContent struct {
	Topic string `json:"topic"`
}

// CanonicalAliasContent is the content of an m.room.canonical_alias
// state event.
type CanonicalAliasContent struct {
	Alias      string   `json:"alias,omitempty"`
	AltAliases []string `json:"alt_aliases,omitempty"`
}

// JoinRulesContent is the content of an m.room.join_rules state event.
type JoinRulesContent struct {
	JoinRule string `json:"join_rule"`
}

// HistoryVisibilityContent is the content of an
// m.room.history_visibility state event.
type HistoryVisibilityContent struct {
	HistoryVisibility string `json:"history_visibility"`
}

// EncryptionContent is the content of an m.room.encryption state event.
type EncryptionContent struct {
	Algorithm          string `json:"algorithm"`
	RotationPeriodMS   int64  `json:"rotation_period_ms,omitempty"`
	RotationPeriodMsgs int64  `json:"rotation_period_msgs,omitempty"`
}

// PowerLevelsContent is the content of an m.room.power_levels state
// event. Only the fields the core validates are typed.
type PowerLevelsContent struct {
	Users        map[string]int `json:"users,omitempty"`
	UsersDefault int            `json:"users_default,omitempty"`
	Events       map[string]int `json:"events,omitempty"`
	StateDefault int            `json:"state_default,omitempty"`
}

// PresenceContent is the content of an m.presence event. Legacy
// servers include the user_id and profile fields; current servers
// identify the user only through the event sender.
type PresenceContent struct {
	UserID          string `json:"user_id,omitempty"`
	Presence        string `json:"presence"`
	LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
	CurrentlyActive bool   `json:"currently_active,omitempty"`
	StatusMsg       string `json:"status_msg,omitempty"`
	DisplayName     string `json:"displayname,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
}

// TypingContent is the content of an m.typing ephemeral event.
type TypingContent struct {
	UserIDs []ref.UserID `json:"user_ids"`
}

// ReceiptContent is the content of an m.receipt ephemeral event:
// event ID → receipt type → user ID → receipt metadata.
type ReceiptContent map[string]map[string]map[string]ReceiptMetadata

// ReceiptMetadata holds the timestamp of a single receipt.
type ReceiptMetadata struct {
	Timestamp int64 `json:"ts"`
}

// TagContent is the content of an m.tag room account data event.
type TagContent struct {
	Tags map[string]TagInfo `json:"tags"`
}

// TagInfo holds the ordering hint of one room tag.
type TagInfo struct {
	Order *float64 `json:"order,omitempty"`
}

// RoomKeyRequestContent is the content of an m.room_key_request
// to-device event. Body is absent on cancellations.
type RoomKeyRequestContent struct {
	Action             string              `json:"action"`
	RequestingDeviceID ref.DeviceID        `json:"requesting_device_id"`
	RequestID          string              `json:"request_id"`
	Body               *RoomKeyRequestBody `json:"body,omitempty"`
}

// RoomKeyRequestBody describes the megolm session a device is asking
// for.
type RoomKeyRequestBody struct {
	Algorithm string     `json:"algorithm"`
	RoomID    ref.RoomID `json:"room_id"`
	SenderKey string     `json:"sender_key"`
	SessionID string     `json:"session_id"`
}

// RoomKeyContent is the content of an m.room_key (or
// m.forwarded_room_key) to-device event after olm decryption.
type RoomKeyContent struct {
	Algorithm  string     `json:"algorithm"`
	RoomID     ref.RoomID `json:"room_id"`
	SessionID  string     `json:"session_id"`
	SessionKey string     `json:"session_key"`
	SenderKey  string     `json:"sender_key,omitempty"`
}
