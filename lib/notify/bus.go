// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/bureau-foundation/roomsync/lib/keyshare"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/lib/taskqueue"
	"github.com/bureau-foundation/roomsync/messaging"
)

// Bus delivers notifications to listeners on one serial delivery
// queue. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger
	queue  *taskqueue.Queue

	mu                  sync.Mutex
	listeners           []Listener
	initialSyncComplete bool
	closed              bool
}

var _ keyshare.Notifier = (*Bus)(nil)

// NewBus starts a Bus. A nil logger discards.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		logger: logger,
		queue:  taskqueue.New("delivery", logger),
	}
}

// Register adds listener unless it is already registered. If initial
// sync has completed, listener.InitialSyncComplete is called before
// Register returns. Listeners must be comparable (typically pointers);
// others are rejected since they could never be unregistered.
func (b *Bus) Register(listener Listener) {
	if listener == nil {
		return
	}
	if !reflect.TypeOf(listener).Comparable() {
		b.logger.Warn("rejected non-comparable listener", "listener", fmt.Sprintf("%T", listener))
		return
	}
	b.mu.Lock()
	if b.closed || slices.ContainsFunc(b.listeners, func(l Listener) bool { return sameListener(l, listener) }) {
		b.mu.Unlock()
		return
	}
	b.listeners = append(b.listeners, listener)
	replay := b.initialSyncComplete
	b.mu.Unlock()

	if replay {
		b.deliver("initial_sync_complete", listener, Listener.InitialSyncComplete)
	}
}

// Unregister removes listener. Notifications already queued for it
// may still arrive.
func (b *Bus) Unregister(listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = slices.DeleteFunc(b.listeners, func(l Listener) bool { return sameListener(l, listener) })
}

// sameListener compares listeners without panicking on dynamic types
// that are not comparable.
func sameListener(a, b Listener) bool {
	typeA := reflect.TypeOf(a)
	if typeA != reflect.TypeOf(b) || typeA == nil || !typeA.Comparable() {
		return false
	}
	return a == b
}

// Listeners returns a snapshot of the registered listeners.
func (b *Bus) Listeners() []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.listeners)
}

// IsInitialSyncComplete reports whether MarkInitialSyncComplete has
// been called.
func (b *Bus) IsInitialSyncComplete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialSyncComplete
}

// MarkInitialSyncComplete sets the sticky flag and notifies, the first
// time only. Reports whether this call made the transition.
func (b *Bus) MarkInitialSyncComplete() bool {
	b.mu.Lock()
	if b.initialSyncComplete {
		b.mu.Unlock()
		return false
	}
	b.initialSyncComplete = true
	// Snapshot under the same lock: a listener registered after this
	// point gets the notification from Register's replay instead.
	targets := b.snapshotLocked()
	b.mu.Unlock()
	b.submit("initial_sync_complete", targets, Listener.InitialSyncComplete)
	return true
}

// Flush waits until everything dispatched so far has been delivered.
func (b *Bus) Flush(ctx context.Context) error {
	return b.queue.Flush(ctx)
}

// Close drops all listeners and pending deliveries. A delivery in
// progress finishes. Safe to call from a listener.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.listeners = nil
	b.mu.Unlock()
	b.queue.Shutdown()
}

// dispatch snapshots the listeners and queues delivery of call to each.
func (b *Bus) dispatch(kind string, call func(Listener)) {
	b.mu.Lock()
	targets := b.snapshotLocked()
	b.mu.Unlock()
	b.submit(kind, targets, call)
}

// snapshotLocked returns the current delivery targets. Callers hold mu.
func (b *Bus) snapshotLocked() []Listener {
	if b.closed {
		return nil
	}
	return slices.Clone(b.listeners)
}

func (b *Bus) submit(kind string, targets []Listener, call func(Listener)) {
	if len(targets) == 0 {
		return
	}
	err := b.queue.Submit(func() {
		for _, listener := range targets {
			b.deliver(kind, listener, call)
		}
	})
	if err != nil {
		b.logger.Debug("notification dropped after close", "kind", kind)
	}
}

func (b *Bus) deliver(kind string, listener Listener, call func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked",
				"kind", kind,
				"listener", fmt.Sprintf("%T", listener),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	call(listener)
}

func (b *Bus) StoreReady() {
	b.dispatch("store_ready", Listener.StoreReady)
}

func (b *Bus) PresenceUpdate(event *messaging.Event, user syncstore.User) {
	b.dispatch("presence_update", func(l Listener) { l.PresenceUpdate(event, user) })
}

func (b *Bus) LiveEvent(event *messaging.Event, stateBefore *roomstate.State) {
	b.dispatch("live_event", func(l Listener) { l.LiveEvent(event, stateBefore) })
}

func (b *Bus) LiveEventsChunkProcessed() {
	b.dispatch("live_events_chunk_processed", Listener.LiveEventsChunkProcessed)
}

// InitialSyncComplete dispatches the notification without touching the
// sticky flag. Use MarkInitialSyncComplete.
func (b *Bus) InitialSyncComplete() {
	b.dispatch("initial_sync_complete", Listener.InitialSyncComplete)
}

func (b *Bus) NewRoom(roomID ref.RoomID) {
	b.dispatch("new_room", func(l Listener) { l.NewRoom(roomID) })
}

func (b *Bus) RoomInvited(roomID ref.RoomID) {
	b.dispatch("room_invited", func(l Listener) { l.RoomInvited(roomID) })
}

func (b *Bus) JoinRoom(roomID ref.RoomID) {
	b.dispatch("join_room", func(l Listener) { l.JoinRoom(roomID) })
}

func (b *Bus) LeaveRoom(roomID ref.RoomID) {
	b.dispatch("leave_room", func(l Listener) { l.LeaveRoom(roomID) })
}

func (b *Bus) RoomInitialSyncComplete(roomID ref.RoomID) {
	b.dispatch("room_initial_sync_complete", func(l Listener) { l.RoomInitialSyncComplete(roomID) })
}

func (b *Bus) RoomInternalUpdate(roomID ref.RoomID) {
	b.dispatch("room_internal_update", func(l Listener) { l.RoomInternalUpdate(roomID) })
}

func (b *Bus) ReceiptEvent(roomID ref.RoomID, senders []ref.UserID) {
	senders = slices.Clone(senders)
	b.dispatch("receipt_event", func(l Listener) { l.ReceiptEvent(roomID, senders) })
}

func (b *Bus) RoomTagEvent(roomID ref.RoomID) {
	b.dispatch("room_tag_event", func(l Listener) { l.RoomTagEvent(roomID) })
}

func (b *Bus) RoomSyncWithLimitedTimeline(roomID ref.RoomID) {
	b.dispatch("room_sync_with_limited_timeline", func(l Listener) { l.RoomSyncWithLimitedTimeline(roomID) })
}

func (b *Bus) TypingEvent(roomID ref.RoomID, userIDs []ref.UserID) {
	userIDs = slices.Clone(userIDs)
	b.dispatch("typing_event", func(l Listener) { l.TypingEvent(roomID, userIDs) })
}

func (b *Bus) ToDeviceEvent(event *messaging.Event) {
	b.dispatch("to_device_event", func(l Listener) { l.ToDeviceEvent(event) })
}

func (b *Bus) KeyRequestReceived(request keyshare.IncomingRequest) {
	b.dispatch("key_request_received", func(l Listener) { l.KeyRequestReceived(request) })
}

func (b *Bus) KeyRequestCancelled(request keyshare.IncomingRequest) {
	b.dispatch("key_request_cancelled", func(l Listener) { l.KeyRequestCancelled(request) })
}

func (b *Bus) RoomKeyShared(request keyshare.IncomingRequest) {
	b.dispatch("room_key_shared", func(l Listener) { l.RoomKeyShared(request) })
}

func (b *Bus) RoomKeyIgnored(request keyshare.IncomingRequest) {
	b.dispatch("room_key_ignored", func(l Listener) { l.RoomKeyIgnored(request) })
}

func (b *Bus) UnreadCountChanged(roomID ref.RoomID, count int) {
	b.dispatch("unread_count_changed", func(l Listener) { l.UnreadCountChanged(roomID, count) })
}
