// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/messaging"
)

// projection tracks one room's unpublished state while a fragment is
// applied, together with the summary candidate.
type projection struct {
	state *roomstate.State

	latest       *messaging.Event
	latestBefore *roomstate.State
}

// apply projects event forward and records it as the summary candidate
// when it is summary-worthy. Returns the state before event.
func (p *projection) apply(event *messaging.Event) *roomstate.State {
	before := p.state
	if event.IsState() {
		p.state = roomstate.Apply(p.state, event, roomstate.Forward)
	}
	if schema.IsSummaryWorthy(event.Type) {
		p.latest = event
		p.latestBefore = before
	}
	return before
}

// roomEvent returns a copy of event carrying roomID. Sync omits
// room_id inside per-room sections.
func roomEvent(event *messaging.Event, roomID ref.RoomID) *messaging.Event {
	copied := event.Clone()
	if copied.RoomID.IsZero() {
		copied.RoomID = roomID
	}
	return copied
}

// heldLiveEvent is a LiveEvent notification held back until the fragment
// has been fully projected.
type heldLiveEvent struct {
	event       *messaging.Event
	stateBefore *roomstate.State
}

// joinRoom projects the whole fragment (decrypting through the external
// capability) before the room is created or any notification is sent,
// so a fragment that fails midway leaves nothing behind.
func (r *Reconciler) joinRoom(roomID ref.RoomID, joined *messaging.JoinedRoom, isInitial bool) error {
	state := roomstate.Empty()
	if existing := r.store.Room(roomID); existing != nil {
		state = existing.State()
	}
	membershipBefore := state.Membership(r.userID)
	projection := &projection{state: state}

	for i := range joined.State.Events {
		event := roomEvent(&joined.State.Events[i], roomID)
		if !event.IsState() {
			r.logger.Debug("ignoring state section event without state key", "room_id", roomID, "type", event.Type)
			continue
		}
		projection.apply(event)
	}

	timelineID := liveTimelineID(roomID)
	var timeline []*messaging.Event
	var live []heldLiveEvent
	unread := false
	for i := range joined.Timeline.Events {
		event := roomEvent(&joined.Timeline.Events[i], roomID)
		timeline = append(timeline, event)
		visible := r.decrypt(event, timelineID)
		before := projection.state
		if event.IsState() {
			projection.state = roomstate.Apply(projection.state, event, roomstate.Forward)
		}
		if schema.IsSummaryWorthy(event.Type) {
			projection.latest = visible
			projection.latestBefore = before
			unread = true
		}
		if !isInitial {
			live = append(live, heldLiveEvent{event: visible, stateBefore: before})
		}
	}

	room, created := r.getOrCreate(roomID)
	if created && !isInitial {
		r.notifier.NewRoom(roomID)
	}
	room.SetState(projection.state)
	r.store.StoreRoomEvents(roomID, timeline)
	if unread {
		r.markPending(roomID)
	}
	for _, notification := range live {
		r.notifier.LiveEvent(notification.event, notification.stateBefore)
	}

	if joined.Timeline.Limited && !isInitial {
		r.notifier.RoomSyncWithLimitedTimeline(roomID)
	}

	summary := r.currentSummary(roomID)
	if projection.latest != nil {
		summary.LatestEvent = projection.latest
		summary.StateBefore = projection.latestBefore
		summary.Inviter = ref.UserID{}
	}

	for i := range joined.Ephemeral.Events {
		event := &joined.Ephemeral.Events[i]
		switch event.Type {
		case schema.EventTypeReceipt:
			r.handleReceipts(room, &summary, event)
		case schema.EventTypeTyping:
			r.handleTyping(roomID, event)
		}
	}
	for i := range joined.AccountData.Events {
		event := &joined.AccountData.Events[i]
		if event.Type == schema.EventTypeTag {
			r.handleTags(room, event)
		}
	}

	if counts := joined.UnreadNotifications; counts != nil {
		room.SetServerCounts(counts.NotificationCount, counts.HighlightCount)
		summary.NotificationCount = counts.NotificationCount
		summary.HighlightCount = counts.HighlightCount
	}

	r.store.StoreRoom(room)
	if summary.LatestEvent != nil {
		r.store.StoreSummary(summary)
	}

	if membershipAfter := projection.state.Membership(r.userID); created || (membershipAfter == schema.MembershipJoin && membershipBefore != schema.MembershipJoin) {
		r.notifier.JoinRoom(roomID)
	}
	return nil
}

func (r *Reconciler) inviteRoom(roomID ref.RoomID, invited *messaging.InvitedRoom) error {
	room, _ := r.getOrCreate(roomID)
	projection := &projection{state: room.State()}

	var ownMember *messaging.Event
	var ownBefore *roomstate.State
	for i := range invited.InviteState.Events {
		event := roomEvent(&invited.InviteState.Events[i], roomID)
		if !event.IsState() {
			continue
		}
		before := projection.apply(event)
		if event.Type == schema.EventTypeRoomMember && event.StateKeyValue() == r.userID.String() {
			ownMember = event
			ownBefore = before
		}
	}

	if ownMember == nil {
		event, err := r.syntheticInvite(roomID, ref.UserID{})
		if err != nil {
			return err
		}
		ownBefore = projection.apply(event)
		ownMember = event
	}
	room.SetState(projection.state)

	summary := r.currentSummary(roomID)
	summary.LatestEvent = ownMember
	summary.StateBefore = ownBefore
	summary.Inviter = ownMember.Sender
	r.store.StoreRoom(room)
	r.store.StoreSummary(summary)

	r.logger.Info("invited to room", "room_id", roomID, "inviter", ownMember.Sender)
	r.notifier.RoomInvited(roomID)
	return nil
}

// syntheticInvite fabricates the session user's invite membership
// event. Servers omit it (and its timestamp) for bare invites, so it
// is stamped with local time.
func (r *Reconciler) syntheticInvite(roomID ref.RoomID, inviter ref.UserID) (*messaging.Event, error) {
	content, err := schema.EncodeContent(schema.MemberContent{Membership: schema.MembershipInvite})
	if err != nil {
		return nil, fmt.Errorf("building invite content: %w", err)
	}
	eventID, err := ref.ParseEventID("$local-" + uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &messaging.Event{
		EventID:        eventID,
		Type:           schema.EventTypeRoomMember,
		Sender:         inviter,
		OriginServerTS: clock.UnixMillis(r.clock),
		Content:        content,
		RoomID:         roomID,
		StateKey:       messaging.Stringp(r.userID.String()),
	}, nil
}

// currentSummary returns the stored summary or a fresh one carrying
// the room's server counts.
func (r *Reconciler) currentSummary(roomID ref.RoomID) syncstore.Summary {
	if summary, ok := r.store.Summary(roomID); ok {
		return summary
	}
	return syncstore.Summary{RoomID: roomID}
}

// decrypt returns the cleartext form of an encrypted event, or event
// itself when it is not encrypted or cannot be decrypted yet.
func (r *Reconciler) decrypt(event *messaging.Event, timelineID string) *messaging.Event {
	if event.Type != schema.EventTypeRoomEncrypted {
		return event
	}
	algorithm, _ := event.StringContent("algorithm")
	decryptor, ok := r.decryptors.Get(algorithm)
	if !ok {
		r.logger.Debug("no decryptor for timeline event",
			"room_id", event.RoomID,
			"event_id", event.EventID,
			"algorithm", algorithm,
		)
		return event
	}
	cleartext, err := decryptor.Decrypt(event, timelineID)
	if err != nil || cleartext == nil {
		r.logger.Warn("unable to decrypt timeline event",
			"room_id", event.RoomID,
			"event_id", event.EventID,
			"error", err,
		)
		return event
	}
	if cleartext.EventID.IsZero() {
		cleartext.EventID = event.EventID
	}
	if cleartext.RoomID.IsZero() {
		cleartext.RoomID = event.RoomID
	}
	if cleartext.Sender.IsZero() {
		cleartext.Sender = event.Sender
	}
	if cleartext.OriginServerTS == 0 {
		cleartext.OriginServerTS = event.OriginServerTS
	}
	return cleartext
}

// liveTimelineID scopes decryption replay detection to a room's live
// timeline.
func liveTimelineID(roomID ref.RoomID) string {
	return roomID.String() + "|live"
}
