// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/testutil"
)

// recorder sends a line per notification it cares about.
type recorder struct {
	Base
	calls chan string
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan string, 64)}
}

func (r *recorder) InitialSyncComplete() { r.calls <- "initial_sync_complete" }
func (r *recorder) JoinRoom(roomID ref.RoomID) { r.calls <- "join:" + roomID.String() }
func (r *recorder) LeaveRoom(roomID ref.RoomID) { r.calls <- "leave:" + roomID.String() }
func (r *recorder) RoomInvited(roomID ref.RoomID) { r.calls <- "invite:" + roomID.String() }
func (r *recorder) LiveEventsChunkProcessed() { r.calls <- "chunk" }

// panicker panics on every join.
type panicker struct {
	Base
}

func (panicker) JoinRoom(ref.RoomID) { panic("listener bug") }

var (
	roomA = ref.MustParseRoomID("!a:example.org")
	roomB = ref.MustParseRoomID("!b:example.org")
)

func receive(t *testing.T, r *recorder) string {
	t.Helper()
	return testutil.RequireReceive(t, r.calls, 5*time.Second, "notification")
}

func TestRegisterIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	listener := newRecorder()

	bus.Register(listener)
	bus.Register(listener)
	if got := len(bus.Listeners()); got != 1 {
		t.Fatalf("Listeners() = %d, want 1", got)
	}

	bus.JoinRoom(roomA)
	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := receive(t, listener); got != "join:"+roomA.String() {
		t.Errorf("notification = %q", got)
	}
	testutil.RequireEmpty(t, listener.calls, "duplicate delivery")
}

func TestDeliveryPreservesOrder(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	listener := newRecorder()
	bus.Register(listener)

	bus.LeaveRoom(roomA)
	bus.RoomInvited(roomA)
	bus.JoinRoom(roomB)
	bus.LiveEventsChunkProcessed()

	want := []string{"leave:" + roomA.String(), "invite:" + roomA.String(), "join:" + roomB.String(), "chunk"}
	for _, expected := range want {
		if got := receive(t, listener); got != expected {
			t.Errorf("notification = %q, want %q", got, expected)
		}
	}
}

func TestDispatchDoesNotRunOnCaller(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	blocked := &blockingListener{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	bus.Register(blocked)

	returned := make(chan struct{})
	go func() {
		bus.JoinRoom(roomA)
		bus.JoinRoom(roomB)
		close(returned)
	}()
	testutil.RequireClosed(t, returned, 5*time.Second, "dispatch returning while listener blocks")
	testutil.RequireReceive(t, blocked.entered, 5*time.Second, "listener entry")
	close(blocked.release)
}

type blockingListener struct {
	Base
	entered chan struct{}
	release chan struct{}
}

func (b *blockingListener) JoinRoom(ref.RoomID) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	recorderLog, logger := testutil.NewLogRecorder()
	bus := NewBus(logger)
	defer bus.Close()

	bus.Register(&panicker{})
	healthy := newRecorder()
	bus.Register(healthy)

	bus.JoinRoom(roomA)
	bus.JoinRoom(roomB)
	if got := receive(t, healthy); got != "join:"+roomA.String() {
		t.Errorf("first notification = %q", got)
	}
	if got := receive(t, healthy); got != "join:"+roomB.String() {
		t.Errorf("second notification = %q", got)
	}
	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	panics := 0
	for _, record := range recorderLog.Records() {
		if record.Message == "listener panicked" {
			panics++
			if record.Attrs["kind"] != "join_room" {
				t.Errorf("kind = %v, want join_room", record.Attrs["kind"])
			}
		}
	}
	if panics != 2 {
		t.Errorf("logged %d panics, want 2 (one per dispatch, never retried)", panics)
	}
}

func TestInitialSyncCompleteReplaysOnRegister(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	early := newRecorder()
	bus.Register(early)
	if !bus.MarkInitialSyncComplete() {
		t.Fatal("first MarkInitialSyncComplete reported no transition")
	}
	if bus.MarkInitialSyncComplete() {
		t.Error("second MarkInitialSyncComplete reported a transition")
	}
	if got := receive(t, early); got != "initial_sync_complete" {
		t.Errorf("early listener got %q", got)
	}

	late := newRecorder()
	bus.Register(late)
	// The replay is synchronous: it is already in the channel.
	select {
	case got := <-late.calls:
		if got != "initial_sync_complete" {
			t.Errorf("late listener got %q", got)
		}
	default:
		t.Fatal("Register did not replay initial sync completion synchronously")
	}

	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	testutil.RequireEmpty(t, early.calls, "repeated initial sync notification")
}

func TestInitialSyncCompleteDeliveredOnceWhileRegistering(t *testing.T) {
	for iteration := range 200 {
		bus := NewBus(nil)
		listener := newRecorder()
		start := make(chan struct{})
		done := make(chan struct{})
		go func() {
			<-start
			bus.MarkInitialSyncComplete()
			close(done)
		}()
		close(start)
		bus.Register(listener)
		<-done
		if err := bus.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		bus.Close()
		if got := len(listener.calls); got != 1 {
			t.Fatalf("iteration %d: InitialSyncComplete delivered %d times, want 1", iteration, got)
		}
	}
}

// valueListener is not comparable: it holds a slice and is registered
// by value.
type valueListener struct {
	Base
	rooms []ref.RoomID
}

func TestNonComparableListenerRejected(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	pointer := newRecorder()
	bus.Register(pointer)

	bus.Register(valueListener{rooms: []ref.RoomID{roomA}})
	bus.Unregister(valueListener{})
	if got := len(bus.Listeners()); got != 1 {
		t.Errorf("Listeners() = %d, want 1", got)
	}

	bus.JoinRoom(roomA)
	if got := receive(t, pointer); got != "join:"+roomA.String() {
		t.Errorf("notification = %q", got)
	}
}

func TestUnregisterAndClose(t *testing.T) {
	bus := NewBus(nil)
	first := newRecorder()
	second := newRecorder()
	bus.Register(first)
	bus.Register(second)
	bus.Unregister(first)

	bus.JoinRoom(roomA)
	if got := receive(t, second); got != "join:"+roomA.String() {
		t.Errorf("notification = %q", got)
	}
	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	testutil.RequireEmpty(t, first.calls, "delivery after Unregister")

	bus.Close()
	if got := len(bus.Listeners()); got != 0 {
		t.Errorf("Listeners() after Close = %d, want 0", got)
	}
	bus.Register(first)
	if got := len(bus.Listeners()); got != 0 {
		t.Errorf("Register after Close added a listener")
	}
	bus.JoinRoom(roomB)
}
