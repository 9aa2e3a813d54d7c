// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"cmp"
	"slices"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/messaging"
)

// handleReceipts records m.read receipts that advance a user's
// position. The session user's receipt also moves the summary's read
// marker. Rooms with changed receipts get their unread count
// recomputed.
func (r *Reconciler) handleReceipts(room *syncstore.Room, summary *syncstore.Summary, event *messaging.Event) {
	var content schema.ReceiptContent
	if err := schema.DecodeContent(event.Content, &content); err != nil {
		r.logger.Warn("malformed receipt event", "room_id", room.ID(), "error", err)
		return
	}

	var senders []ref.UserID
	for rawEventID, byType := range content {
		eventID, err := ref.ParseEventID(rawEventID)
		if err != nil {
			continue
		}
		for rawUserID, metadata := range byType[schema.ReceiptTypeRead] {
			userID, err := ref.ParseUserID(rawUserID)
			if err != nil {
				continue
			}
			if !room.SetReceipt(userID, syncstore.Receipt{EventID: eventID, Timestamp: metadata.Timestamp}) {
				continue
			}
			if !slices.Contains(senders, userID) {
				senders = append(senders, userID)
			}
			if userID == r.userID {
				summary.ReadReceipt = eventID
			}
		}
	}
	if len(senders) == 0 {
		return
	}
	slices.SortFunc(senders, func(a, b ref.UserID) int {
		return cmp.Compare(a.String(), b.String())
	})
	r.markPending(room.ID())
	r.notifier.ReceiptEvent(room.ID(), senders)
}

func (r *Reconciler) handleTyping(roomID ref.RoomID, event *messaging.Event) {
	var content schema.TypingContent
	if err := schema.DecodeContent(event.Content, &content); err != nil {
		r.logger.Warn("malformed typing event", "room_id", roomID, "error", err)
		return
	}
	r.notifier.TypingEvent(roomID, content.UserIDs)
}

func (r *Reconciler) handleTags(room *syncstore.Room, event *messaging.Event) {
	var content schema.TagContent
	if err := schema.DecodeContent(event.Content, &content); err != nil {
		r.logger.Warn("malformed tag event", "room_id", room.ID(), "error", err)
		return
	}
	room.SetTags(content.Tags)
	r.notifier.RoomTagEvent(room.ID())
}
