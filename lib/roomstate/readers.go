// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstate

import (
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/schema"
)

func (s *State) stringField(eventType ref.EventType, field string) string {
	event := s.Event(eventType, "")
	if event == nil {
		return ""
	}
	value, _ := event.StringContent(field)
	return value
}

// Name returns the m.room.name value.
func (s *State) Name() string {
	return s.stringField(schema.EventTypeRoomName, "name")
}

// Topic returns the m.room.topic value.
func (s *State) Topic() string {
	return s.stringField(schema.EventTypeRoomTopic, "topic")
}

// CanonicalAlias returns the m.room.canonical_alias alias.
func (s *State) CanonicalAlias() string {
	return s.stringField(schema.EventTypeRoomCanonicalAlias, "alias")
}

// JoinRule returns the m.room.join_rules value.
func (s *State) JoinRule() string {
	return s.stringField(schema.EventTypeRoomJoinRules, "join_rule")
}

// HistoryVisibility returns the m.room.history_visibility value.
func (s *State) HistoryVisibility() string {
	return s.stringField(schema.EventTypeRoomHistoryVisibility, "history_visibility")
}

// EncryptionAlgorithm returns the room's encryption algorithm, or ""
// for an unencrypted room.
func (s *State) EncryptionAlgorithm() string {
	return s.stringField(schema.EventTypeRoomEncryption, "algorithm")
}

// Membership returns user's membership, or "" if the room has no
// member event for them.
func (s *State) Membership(user ref.UserID) string {
	event := s.Event(schema.EventTypeRoomMember, user.String())
	if event == nil {
		return ""
	}
	membership, _ := event.StringContent("membership")
	return membership
}

// Member is one m.room.member slot.
type Member struct {
	UserID      ref.UserID
	Membership  string
	DisplayName string
}

// Members returns every member slot sorted by user ID. Pass membership
// values to filter; no arguments returns all.
func (s *State) Members(filter ...string) []Member {
	if s == nil {
		return nil
	}
	var members []Member
	for key, event := range s.slots {
		if key.Type != schema.EventTypeRoomMember {
			continue
		}
		membership, _ := event.StringContent("membership")
		if len(filter) > 0 && !slices.Contains(filter, membership) {
			continue
		}
		displayName, _ := event.StringContent("displayname")
		members = append(members, Member{
			UserID:      ref.MustParseUserID(key.StateKey),
			Membership:  membership,
			DisplayName: displayName,
		})
	}
	slices.SortFunc(members, func(a, b Member) int {
		return strings.Compare(a.UserID.String(), b.UserID.String())
	})
	return members
}

// PowerLevel returns user's power level from m.room.power_levels,
// falling back to users_default. Rooms without a power levels event
// give the creator 100 and everyone else 0.
func (s *State) PowerLevel(user ref.UserID) int64 {
	event := s.Event(schema.EventTypeRoomPowerLevels, "")
	if event == nil {
		create := s.Event(schema.EventTypeRoomCreate, "")
		if create != nil && create.Sender == user {
			return 100
		}
		return 0
	}
	if users, ok := event.Content["users"].(map[string]any); ok {
		if level, ok := toInt(users[user.String()]); ok {
			return level
		}
	}
	level, _ := toInt(event.Content["users_default"])
	return level
}

// DisplayName computes the room's display name as seen by self: the
// explicit name, then the canonical alias, then the other joined
// members' names.
func (s *State) DisplayName(self ref.UserID) string {
	if name := s.Name(); name != "" {
		return name
	}
	if alias := s.CanonicalAlias(); alias != "" {
		return alias
	}
	var others []string
	for _, member := range s.Members(schema.MembershipJoin, schema.MembershipInvite) {
		if member.UserID == self {
			continue
		}
		if member.DisplayName != "" {
			others = append(others, member.DisplayName)
		} else {
			others = append(others, member.UserID.String())
		}
	}
	switch len(others) {
	case 0:
		return "Empty room"
	case 1, 2:
		return strings.Join(others, " and ")
	default:
		return others[0] + " and " + strconv.Itoa(len(others)-1) + " others"
	}
}
