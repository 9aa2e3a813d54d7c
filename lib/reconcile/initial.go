// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/messaging"
)

// HandleRoomInitialSync applies a lazily fetched room backlog: state,
// then messages forward, then presence, then the session user's invite
// if the payload says it is one. The summary is the last message with
// the live state rolled back across it.
//
// A malformed payload returns a *RoomError. A failed commit returns a
// *CommitError.
func (r *Reconciler) HandleRoomInitialSync(ctx context.Context, payload *messaging.RoomInitialSync) error {
	if payload == nil || payload.RoomID.IsZero() {
		return &RoomError{Section: "initial_sync", Err: fmt.Errorf("payload has no room_id")}
	}
	roomID := payload.RoomID
	result := &Result{}
	r.isolate(result, "initial_sync", roomID, func() error {
		return r.applyRoomInitialSync(payload)
	})
	if len(result.RoomErrors) > 0 {
		return result.RoomErrors[0]
	}

	if err := r.store.Commit(ctx); err != nil {
		return &CommitError{Err: err}
	}
	r.notifier.RoomInitialSyncComplete(roomID)
	return nil
}

func (r *Reconciler) applyRoomInitialSync(payload *messaging.RoomInitialSync) error {
	roomID := payload.RoomID
	state := roomstate.Empty()
	if existing := r.store.Room(roomID); existing != nil {
		state = existing.State()
	}

	for i := range payload.State {
		event := roomEvent(&payload.State[i], roomID)
		state = roomstate.Apply(state, event, roomstate.Forward)
	}

	var messages []*messaging.Event
	for i := range payload.Messages.Chunk {
		event := roomEvent(&payload.Messages.Chunk[i], roomID)
		messages = append(messages, event)
		state = roomstate.Apply(state, event, roomstate.Forward)
	}
	var latest *messaging.Event
	if len(messages) > 0 {
		latest = r.decrypt(messages[len(messages)-1], liveTimelineID(roomID))
	}

	room, _ := r.getOrCreate(roomID)
	if payload.Visibility != "" {
		room.SetVisibility(payload.Visibility)
	}
	room.SetState(state)

	summary := r.currentSummary(roomID)
	if len(messages) > 0 {
		r.store.StoreRoomEvents(roomID, messages)
		last := messages[len(messages)-1]
		summary.LatestEvent = latest
		summary.StateBefore = roomstate.Apply(state, last, roomstate.Backward)
		summary.Inviter = ref.UserID{}
		if summary.IsInvite(r.userID) {
			summary.Inviter = last.Sender
		}
		r.markPending(roomID)
	}

	for i := range payload.AccountData {
		if event := &payload.AccountData[i]; event.Type == schema.EventTypeTag {
			r.handleTags(room, event)
		}
	}

	for i := range payload.Presence {
		r.handlePresence(&payload.Presence[i])
	}

	if payload.Membership == schema.MembershipInvite {
		invite, err := r.syntheticInvite(roomID, payload.Inviter)
		if err != nil {
			return err
		}
		before := state
		state = roomstate.Apply(state, invite, roomstate.Forward)
		room.SetState(state)
		summary.LatestEvent = invite
		summary.StateBefore = before
		summary.Inviter = payload.Inviter
	}

	r.store.StoreRoom(room)
	if summary.LatestEvent != nil {
		r.store.StoreSummary(summary)
	}
	return nil
}
