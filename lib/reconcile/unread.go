// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"

	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
)

// RefreshUnreadCounters recomputes the local unread count of every
// room touched since the last refresh, then clears that set. Changed
// counts are committed and announced with UnreadCountChanged.
func (r *Reconciler) RefreshUnreadCounters(ctx context.Context) {
	changed := 0
	for _, roomID := range r.drainPending() {
		room := r.store.Room(roomID)
		if room == nil {
			continue
		}
		count := r.unreadCount(room)
		if !room.SetUnreadCount(count) {
			continue
		}
		r.store.StoreRoom(room)
		if summary, ok := r.store.Summary(roomID); ok {
			summary.UnreadCount = count
			r.store.StoreSummary(summary)
		}
		r.notifier.UnreadCountChanged(roomID, count)
		changed++
	}
	if changed == 0 {
		return
	}
	if err := r.store.Commit(ctx); err != nil {
		r.logger.Warn("committing unread counts failed; they will be retried with the next batch",
			"rooms", changed,
			"error", err,
		)
	}
}

// unreadCount counts stored messages from other users after the
// session user's read receipt. With no receipt, or a receipt older
// than the stored timeline, every stored message counts.
func (r *Reconciler) unreadCount(room *syncstore.Room) int {
	events := r.store.RoomEvents(room.ID())
	start := 0
	if receipt, ok := room.Receipt(r.userID); ok {
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].EventID == receipt.EventID {
				start = i + 1
				break
			}
		}
	}
	count := 0
	for _, event := range events[start:] {
		if schema.IsMessage(event.Type) && event.Sender != r.userID {
			count++
		}
	}
	return count
}
