// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/messaging"
)

// handlePresence folds an m.presence event into the user table. The
// sender identifies the user; legacy servers put it in content.
func (r *Reconciler) handlePresence(event *messaging.Event) {
	if event.Type != schema.EventTypePresence {
		return
	}
	var content schema.PresenceContent
	if err := schema.DecodeContent(event.Content, &content); err != nil {
		r.logger.Warn("malformed presence event", "sender", event.Sender, "error", err)
		return
	}
	userID := event.Sender
	if userID.IsZero() {
		parsed, err := ref.ParseUserID(content.UserID)
		if err != nil {
			r.logger.Warn("presence event without a user", "error", err)
			return
		}
		userID = parsed
	}

	user, ok := r.store.User(userID)
	if !ok {
		user = syncstore.User{
			UserID:      userID,
			DisplayName: content.DisplayName,
			AvatarURL:   content.AvatarURL,
		}
	}
	user.Presence = content.Presence
	user.CurrentlyActive = content.CurrentlyActive
	user.LastActiveAgo = content.LastActiveAgo
	user.StatusMsg = content.StatusMsg
	user.LastActiveReceived = clock.UnixMillis(r.clock)
	if content.DisplayName != "" {
		user.DisplayName = content.DisplayName
	}
	if content.AvatarURL != "" {
		user.AvatarURL = content.AvatarURL
	}
	r.store.StoreUser(user)
	r.notifier.PresenceUpdate(event, user)
}
