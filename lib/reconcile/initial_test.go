// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/messaging"
)

// backlog returns a room history whose last event is either a message
// or a name change, as both a joined-room sync fragment and a room
// initial sync payload.
func backlog(endWithStateEvent bool) (messaging.JoinedRoom, *messaging.RoomInitialSync) {
	original := nameEvent("$name1", bob, "Lobby")
	state := []messaging.Event{memberEvent("$alice", alice, "join"), memberEvent("$bob", bob, "join"), original}
	timeline := []messaging.Event{message("$m1", bob, "hello")}
	if endWithStateEvent {
		timeline = append(timeline, renamed("$name2", bob, "Atrium", original))
	} else {
		timeline = append(timeline, message("$m2", bob, "again"))
	}

	// The initial sync payload carries the state at the end of the
	// backlog, the way servers return it.
	final := append([]messaging.Event(nil), state...)
	if endWithStateEvent {
		final[2] = timeline[1]
	}
	return joined(state, timeline...), &messaging.RoomInitialSync{
		RoomID:     roomA,
		Membership: "join",
		State:      final,
		Messages:   messaging.MessagesChunk{Chunk: timeline},
	}
}

func TestSummaryMatchesAcrossPaths(t *testing.T) {
	for _, endWithStateEvent := range []bool{false, true} {
		name := "message last"
		if endWithStateEvent {
			name = "state event last"
		}
		t.Run(name, func(t *testing.T) {
			fragment, payload := backlog(endWithStateEvent)

			viaSync := newHarness(t)
			viaSync.reconcile(t, joinBatch("s1", map[ref.RoomID]messaging.JoinedRoom{roomA: fragment}), false)

			viaInitial := newHarness(t)
			if err := viaInitial.reconciler.HandleRoomInitialSync(context.Background(), payload); err != nil {
				t.Fatalf("HandleRoomInitialSync: %v", err)
			}

			fromSync, _ := viaSync.store.Summary(roomA)
			fromInitial, _ := viaInitial.store.Summary(roomA)
			if fromSync.LatestEvent.EventID != fromInitial.LatestEvent.EventID {
				t.Errorf("latest event: sync %q, initial sync %q", fromSync.LatestEvent.EventID, fromInitial.LatestEvent.EventID)
			}
			if fromSync.StateBefore.Name() != fromInitial.StateBefore.Name() {
				t.Errorf("name before latest: sync %q, initial sync %q", fromSync.StateBefore.Name(), fromInitial.StateBefore.Name())
			}
			if fromSync.StateBefore.Len() != fromInitial.StateBefore.Len() {
				t.Errorf("state size before latest: sync %d, initial sync %d", fromSync.StateBefore.Len(), fromInitial.StateBefore.Len())
			}
			if !roomstate.Equal(viaSync.store.Room(roomA).State(), viaInitial.store.Room(roomA).State()) {
				t.Error("room state differs between paths")
			}
		})
	}
}

func TestRoomInitialSyncNotifiesAndCommits(t *testing.T) {
	h := newHarness(t)
	_, payload := backlog(false)
	payload.Visibility = "private"
	payload.Presence = []messaging.Event{{
		Type:    "m.presence",
		Sender:  bob,
		Content: map[string]any{"presence": "unavailable"},
	}}
	payload.AccountData = []messaging.Event{{
		Type:    "m.tag",
		Content: map[string]any{"tags": map[string]any{"m.lowpriority": map[string]any{}}},
	}}
	if err := h.reconciler.HandleRoomInitialSync(context.Background(), payload); err != nil {
		t.Fatalf("HandleRoomInitialSync: %v", err)
	}

	room := h.store.Room(roomA)
	if room.Visibility() != "private" {
		t.Errorf("Visibility = %q, want %q", room.Visibility(), "private")
	}
	if _, ok := room.Tags()["m.lowpriority"]; !ok {
		t.Error("tag not applied")
	}
	if user, ok := h.store.User(bob); !ok || user.Presence != "unavailable" {
		t.Errorf("presence not applied: %+v", user)
	}
	if got := room.UnreadCount(); got != 0 {
		t.Errorf("UnreadCount = %d before refresh, want 0", got)
	}
	h.reconciler.RefreshUnreadCounters(context.Background())
	if got := room.UnreadCount(); got != 2 {
		t.Errorf("UnreadCount = %d, want 2", got)
	}

	lines := h.notifications(t)
	for _, want := range []string{"room_initial_sync !a:example.org", "tags !a:example.org", "presence @bob:example.org unavailable"} {
		if !contains(lines, want) {
			t.Errorf("notifications %q missing %q", lines, want)
		}
	}
}

func TestRoomInitialSyncInvite(t *testing.T) {
	h := newHarness(t)
	payload := &messaging.RoomInitialSync{
		RoomID:     roomA,
		Membership: "invite",
		Inviter:    bob,
		State:      []messaging.Event{nameEvent("$name", bob, "Party")},
	}
	if err := h.reconciler.HandleRoomInitialSync(context.Background(), payload); err != nil {
		t.Fatalf("HandleRoomInitialSync: %v", err)
	}

	summary, _ := h.store.Summary(roomA)
	if !summary.IsInvite(alice) {
		t.Fatal("summary is not an invite")
	}
	if summary.Inviter != bob || summary.LatestEvent.Sender != bob {
		t.Errorf("Inviter = %q, sender = %q, want %q", summary.Inviter, summary.LatestEvent.Sender, bob)
	}
	if summary.StateBefore.Membership(alice) != "" {
		t.Error("state before the invite already has the invite")
	}
	if got := h.store.Room(roomA).State().Membership(alice); got != "invite" {
		t.Errorf("membership = %q, want %q", got, "invite")
	}
}

func TestRoomInitialSyncErrors(t *testing.T) {
	h := newHarness(t)
	var roomErr *RoomError
	if err := h.reconciler.HandleRoomInitialSync(context.Background(), &messaging.RoomInitialSync{}); !errors.As(err, &roomErr) {
		t.Errorf("payload without room: error = %v, want a RoomError", err)
	}

	h.store.Close()
	_, payload := backlog(false)
	if err := h.reconciler.HandleRoomInitialSync(context.Background(), payload); !IsCommitError(err) {
		t.Errorf("closed store: error = %v, want a CommitError", err)
	}
	if contains(h.notifications(t), "room_initial_sync !a:example.org") {
		t.Error("RoomInitialSyncComplete delivered after a failed commit")
	}
}

func TestRoomInitialSyncDecryptFailureLeavesNoRoom(t *testing.T) {
	h := newHarness(t)
	h.decryptors.Register(schema.AlgorithmMegolm, &fakeDecryptor{panicRoom: roomA})
	payload := &messaging.RoomInitialSync{
		RoomID:     roomA,
		Membership: "join",
		State:      []messaging.Event{memberEvent("$alice", alice, "join")},
		Messages:   messaging.MessagesChunk{Chunk: []messaging.Event{encrypted("$e1", bob)}},
	}
	var roomErr *RoomError
	if err := h.reconciler.HandleRoomInitialSync(context.Background(), payload); !errors.As(err, &roomErr) {
		t.Fatalf("HandleRoomInitialSync error = %v, want a RoomError", err)
	}
	if h.store.Room(roomA) != nil {
		t.Error("failed payload left a room behind")
	}
}
