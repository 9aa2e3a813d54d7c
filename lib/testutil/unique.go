// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/roomsync/lib/ref"
)

var counter atomic.Uint64

// UniqueID returns prefix-N with N unique within the test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, counter.Add(1))
}

// UniqueRoomID returns a fresh room ID on example.org.
func UniqueRoomID(prefix string) ref.RoomID {
	return ref.MustParseRoomID("!" + UniqueID(prefix) + ":example.org")
}

// UniqueUserID returns a fresh user ID on example.org.
func UniqueUserID(prefix string) ref.UserID {
	return ref.MustParseUserID("@" + UniqueID(prefix) + ":example.org")
}

// UniqueEventID returns a fresh event ID.
func UniqueEventID(prefix string) ref.EventID {
	return ref.MustParseEventID("$" + UniqueID(prefix))
}
