// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/keyshare"
	"github.com/bureau-foundation/roomsync/lib/notify"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/messaging"
)

var (
	alice = ref.MustParseUserID("@alice:example.org")
	bob   = ref.MustParseUserID("@bob:example.org")
	carol = ref.MustParseUserID("@carol:example.org")
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// journal is a Listener that records every notification as a line.
type journal struct {
	mu    sync.Mutex
	lines []string

	liveEvents []liveEvent
}

type liveEvent struct {
	event       *messaging.Event
	stateBefore *roomstate.State
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, fmt.Sprintf(format, args...))
}

func (j *journal) StoreReady() { j.add("store_ready") }
func (j *journal) PresenceUpdate(event *messaging.Event, user syncstore.User) {
	j.add("presence %s %s", user.UserID, user.Presence)
}
func (j *journal) LiveEvent(event *messaging.Event, stateBefore *roomstate.State) {
	j.mu.Lock()
	j.liveEvents = append(j.liveEvents, liveEvent{event, stateBefore})
	j.mu.Unlock()
	j.add("live %s", event.EventID)
}
func (j *journal) LiveEventsChunkProcessed() { j.add("chunk_processed") }
func (j *journal) InitialSyncComplete() { j.add("initial_sync_complete") }
func (j *journal) NewRoom(roomID ref.RoomID) { j.add("new_room %s", roomID) }
func (j *journal) RoomInvited(roomID ref.RoomID) { j.add("invited %s", roomID) }
func (j *journal) JoinRoom(roomID ref.RoomID) { j.add("joined %s", roomID) }
func (j *journal) LeaveRoom(roomID ref.RoomID) { j.add("left %s", roomID) }
func (j *journal) RoomInitialSyncComplete(roomID ref.RoomID) {
	j.add("room_initial_sync %s", roomID)
}
func (j *journal) RoomInternalUpdate(roomID ref.RoomID) { j.add("internal %s", roomID) }
func (j *journal) ReceiptEvent(roomID ref.RoomID, senders []ref.UserID) {
	j.add("receipt %s %v", roomID, senders)
}
func (j *journal) RoomTagEvent(roomID ref.RoomID) { j.add("tags %s", roomID) }
func (j *journal) RoomSyncWithLimitedTimeline(roomID ref.RoomID) {
	j.add("limited %s", roomID)
}
func (j *journal) TypingEvent(roomID ref.RoomID, userIDs []ref.UserID) {
	j.add("typing %s %v", roomID, userIDs)
}
func (j *journal) ToDeviceEvent(event *messaging.Event) { j.add("to_device %s", event.Type) }
func (j *journal) KeyRequestReceived(request keyshare.IncomingRequest) {
	j.add("key_request %s", request.RequestID)
}
func (j *journal) KeyRequestCancelled(request keyshare.IncomingRequest) {
	j.add("key_request_cancelled %s", request.RequestID)
}
func (j *journal) RoomKeyShared(request keyshare.IncomingRequest) { j.add("shared %s", request.RequestID) }
func (j *journal) RoomKeyIgnored(request keyshare.IncomingRequest) { j.add("ignored %s", request.RequestID) }
func (j *journal) UnreadCountChanged(roomID ref.RoomID, count int) {
	j.add("unread %s %d", roomID, count)
}

var _ notify.Listener = (*journal)(nil)

type harness struct {
	reconciler *Reconciler
	store      syncstore.Store
	bus        *notify.Bus
	journal    *journal
	clock      *clock.FakeClock
	decryptors *keyshare.Decryptors
	keyShare   *keyshare.Manager
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, syncstore.NewMemoryStore(0))
}

func newHarnessWithStore(t *testing.T, store syncstore.Store) *harness {
	t.Helper()
	bus := notify.NewBus(nil)
	t.Cleanup(bus.Close)
	journal := &journal{}
	bus.Register(journal)
	fake := clock.Fake(epoch)
	decryptors := keyshare.NewDecryptors()
	manager := keyshare.NewManager(keyshare.Config{
		UserID:     alice,
		DeviceID:   ref.MustParseDeviceID("ALICEDESK"),
		Decryptors: decryptors,
		Recorder:   store,
		Notifier:   bus,
		Clock:      fake,
	})
	reconciler, err := New(Config{
		UserID:   alice,
		Store:    store,
		Notifier: bus,
		KeyShare: manager,
		Clock:    fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{
		reconciler: reconciler,
		store:      store,
		bus:        bus,
		journal:    journal,
		clock:      fake,
		decryptors: decryptors,
		keyShare:   manager,
	}
}

func (h *harness) reconcile(t *testing.T, response *messaging.SyncResponse, isInitial bool) *Result {
	t.Helper()
	result, err := h.reconciler.Reconcile(context.Background(), response, isInitial)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return result
}

// notifications flushes the bus and returns everything delivered so
// far.
func (h *harness) notifications(t *testing.T) []string {
	t.Helper()
	if err := h.bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	h.journal.mu.Lock()
	defer h.journal.mu.Unlock()
	return append([]string(nil), h.journal.lines...)
}

func contains(lines []string, want string) bool {
	for _, line := range lines {
		if line == want {
			return true
		}
	}
	return false
}

func stateEvent(id string, eventType ref.EventType, stateKey string, sender ref.UserID, content map[string]any) messaging.Event {
	return messaging.Event{
		EventID:        ref.MustParseEventID(id),
		Type:           eventType,
		Sender:         sender,
		StateKey:       messaging.Stringp(stateKey),
		Content:        content,
		OriginServerTS: 1000,
	}
}

func memberEvent(id string, user ref.UserID, membership string) messaging.Event {
	return stateEvent(id, schema.EventTypeRoomMember, user.String(), user, map[string]any{"membership": membership})
}

func nameEvent(id string, sender ref.UserID, name string) messaging.Event {
	return stateEvent(id, schema.EventTypeRoomName, "", sender, map[string]any{"name": name})
}

// renamed builds a name change whose unsigned block describes previous.
func renamed(id string, sender ref.UserID, name string, previous messaging.Event) messaging.Event {
	event := nameEvent(id, sender, name)
	event.Unsigned = &messaging.EventUnsigned{
		PrevContent:   messaging.CloneContent(previous.Content),
		ReplacesState: previous.EventID,
		PrevSender:    previous.Sender,
	}
	return event
}

func message(id string, sender ref.UserID, body string) messaging.Event {
	return messaging.Event{
		EventID:        ref.MustParseEventID(id),
		Type:           schema.EventTypeRoomMessage,
		Sender:         sender,
		Content:        map[string]any{"msgtype": "m.text", "body": body},
		OriginServerTS: 2000,
	}
}

func joinBatch(next string, rooms map[ref.RoomID]messaging.JoinedRoom) *messaging.SyncResponse {
	return &messaging.SyncResponse{NextBatch: next, Rooms: messaging.RoomsSection{Join: rooms}}
}

func joined(state []messaging.Event, timeline ...messaging.Event) messaging.JoinedRoom {
	return messaging.JoinedRoom{
		State:    messaging.EventSection{Events: state},
		Timeline: messaging.TimelineSection{Events: timeline},
	}
}
