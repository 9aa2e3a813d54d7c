// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/keyshare"
	"github.com/bureau-foundation/roomsync/lib/notify"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/secret"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/lib/testutil"
	"github.com/bureau-foundation/roomsync/messaging"
)

var (
	alice       = ref.MustParseUserID("@alice:example.org")
	bob         = ref.MustParseUserID("@bob:example.org")
	aliceDevice = ref.MustParseDeviceID("ALICEDESK")
	roomA       = ref.MustParseRoomID("!a:example.org")
)

// recorder collects the notifications the session tests care about.
type recorder struct {
	notify.Base

	mu     sync.Mutex
	kinds  []string
	shared chan keyshare.IncomingRequest
}

func newRecorder() *recorder {
	return &recorder{shared: make(chan keyshare.IncomingRequest, 4)}
}

func (r *recorder) add(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recorder) has(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seen := range r.kinds {
		if seen == kind {
			return true
		}
	}
	return false
}

func (r *recorder) StoreReady() { r.add("store_ready") }
func (r *recorder) InitialSyncComplete() { r.add("initial_sync_complete") }
func (r *recorder) LiveEventsChunkProcessed() { r.add("chunk_processed") }
func (r *recorder) JoinRoom(ref.RoomID) { r.add("joined") }
func (r *recorder) RoomInitialSyncComplete(ref.RoomID) {
	r.add("room_initial_sync")
}
func (r *recorder) KeyRequestReceived(keyshare.IncomingRequest) { r.add("key_request") }
func (r *recorder) KeyRequestCancelled(keyshare.IncomingRequest) { r.add("key_request_cancelled") }
func (r *recorder) RoomKeyIgnored(keyshare.IncomingRequest) { r.add("ignored") }
func (r *recorder) RoomKeyShared(request keyshare.IncomingRequest) {
	r.add("shared")
	r.shared <- request
}

// gatedDecryptor blocks Decrypt until released, so a test can hold a
// batch on the ingestion queue.
type gatedDecryptor struct {
	entered chan struct{}
	release chan struct{}

	mu       sync.Mutex
	decrypts int
	shares   []keyshare.IncomingRequest
}

func newGatedDecryptor() *gatedDecryptor {
	return &gatedDecryptor{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (d *gatedDecryptor) Decrypt(event *messaging.Event, timelineID string) (*messaging.Event, error) {
	d.mu.Lock()
	d.decrypts++
	d.mu.Unlock()
	d.entered <- struct{}{}
	<-d.release
	return nil, errors.New("unknown session")
}

func (d *gatedDecryptor) decryptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decrypts
}

func (d *gatedDecryptor) OnRoomKeyEvent(*messaging.Event) {}
func (d *gatedDecryptor) OnNewSession(string, string) {}
func (d *gatedDecryptor) HasKeysForRequest(keyshare.IncomingRequest) bool {
	return true
}
func (d *gatedDecryptor) ShareKeysWithDevice(_ context.Context, request keyshare.IncomingRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shares = append(d.shares, request)
	return nil
}

// commitLog wraps a MemoryStore and records the cursor of every
// successful commit.
type commitLog struct {
	*syncstore.MemoryStore

	mu      sync.Mutex
	cursors []string
}

func (s *commitLog) Commit(ctx context.Context) error {
	if err := s.MemoryStore.Commit(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.cursors = append(s.cursors, s.MemoryStore.StreamCursor())
	s.mu.Unlock()
	return nil
}

func (s *commitLog) committed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cursors...)
}

func token(t *testing.T) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte("syt_YWxpY2U_secret"))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	return buffer
}

func newSession(t *testing.T, store syncstore.Store, decryptors *keyshare.Decryptors, listeners ...notify.Listener) *Session {
	t.Helper()
	s, err := New(Config{
		Credentials: Credentials{UserID: alice, DeviceID: aliceDevice, AccessToken: token(t)},
		Store:       store,
		Decryptors:  decryptors,
		Listeners:   listeners,
		Clock:       clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func joinBatch(next string, events ...messaging.Event) *messaging.SyncResponse {
	member := messaging.Event{
		EventID:  ref.MustParseEventID("$alice-join"),
		Type:     schema.EventTypeRoomMember,
		Sender:   alice,
		StateKey: messaging.Stringp(alice.String()),
		Content:  map[string]any{"membership": "join"},
	}
	return &messaging.SyncResponse{
		NextBatch: next,
		Rooms: messaging.RoomsSection{Join: map[ref.RoomID]messaging.JoinedRoom{
			roomA: {
				State:    messaging.EventSection{Events: []messaging.Event{member}},
				Timeline: messaging.TimelineSection{Events: events},
			},
		}},
	}
}

func textMessage(id string) messaging.Event {
	return messaging.Event{
		EventID: ref.MustParseEventID(id),
		Type:    schema.EventTypeRoomMessage,
		Sender:  bob,
		Content: map[string]any{"msgtype": "m.text", "body": id},
	}
}

func encryptedMessage(id string) messaging.Event {
	return messaging.Event{
		EventID: ref.MustParseEventID(id),
		Type:    schema.EventTypeRoomEncrypted,
		Sender:  bob,
		Content: map[string]any{"algorithm": schema.AlgorithmMegolm, "ciphertext": "AwgA"},
	}
}

func keyRequestEvent(action, requestID string) messaging.Event {
	content := map[string]any{
		"action":               action,
		"requesting_device_id": "BOBPHONE",
		"request_id":           requestID,
	}
	if action == schema.KeyRequestActionRequest {
		content["body"] = map[string]any{
			"algorithm":  schema.AlgorithmMegolm,
			"room_id":    roomA.String(),
			"sender_key": "curve-key",
			"session_id": "session-1",
		}
	}
	return messaging.Event{Type: schema.EventTypeRoomKeyRequest, Sender: bob, Content: content}
}

func toDevice(next string, events ...messaging.Event) *messaging.SyncResponse {
	return &messaging.SyncResponse{NextBatch: next, ToDevice: messaging.EventSection{Events: events}}
}

func TestNewValidatesConfig(t *testing.T) {
	store := syncstore.NewMemoryStore(0)
	tests := []struct {
		name   string
		config Config
	}{
		{"no store", Config{Credentials: Credentials{UserID: alice, DeviceID: aliceDevice}}},
		{"no user", Config{Store: store, Credentials: Credentials{DeviceID: aliceDevice}}},
		{"no device", Config{Store: store, Credentials: Credentials{UserID: alice}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.config); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestReconcileAppliesBatch(t *testing.T) {
	listener := newRecorder()
	s := newSession(t, syncstore.NewMemoryStore(0), nil, listener)
	ctx := context.Background()

	result, err := s.Reconcile(ctx, joinBatch("s1", textMessage("$m1"), textMessage("$m2")), true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Committed {
		t.Error("batch not committed")
	}
	if !s.DoesRoomExist(roomA) {
		t.Fatal("room not created")
	}
	if got := s.StreamCursor(); got != "s1" {
		t.Errorf("StreamCursor = %q, want %q", got, "s1")
	}
	summaries := s.Summaries()
	if len(summaries) != 1 || summaries[0].LatestEvent.EventID.String() != "$m2" {
		t.Errorf("Summaries = %+v, want one summary at $m2", summaries)
	}
	if !s.IsInitialSyncComplete() {
		t.Error("IsInitialSyncComplete = false")
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !listener.has("initial_sync_complete") {
		t.Error("InitialSyncComplete not delivered")
	}

	// Late listeners get the sticky completion on registration.
	late := newRecorder()
	if err := s.Listen(late); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if !late.has("initial_sync_complete") {
		t.Error("late listener missed InitialSyncComplete")
	}
}

func TestSubmitPreservesOrder(t *testing.T) {
	s := newSession(t, syncstore.NewMemoryStore(0), nil)
	for i, next := range []string{"s1", "s2", "s3"} {
		id := testutil.UniqueID("$m")
		if err := s.Submit(joinBatch(next, textMessage(id)), i == 0); err != nil {
			t.Fatalf("Submit %s: %v", next, err)
		}
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := s.StreamCursor(); got != "s3" {
		t.Errorf("StreamCursor = %q, want %q", got, "s3")
	}
	if got := len(s.Room(roomA).State().Members()); got != 1 {
		t.Errorf("members = %d, want 1", got)
	}
}

func TestRoomOrCreate(t *testing.T) {
	s := newSession(t, syncstore.NewMemoryStore(0), nil)
	room, err := s.RoomOrCreate(roomA)
	if err != nil {
		t.Fatalf("RoomOrCreate: %v", err)
	}
	again, _ := s.RoomOrCreate(roomA)
	if again != room {
		t.Error("RoomOrCreate returned a different room")
	}
	if _, err := s.RoomOrCreate(ref.RoomID{}); err == nil {
		t.Error("RoomOrCreate accepted an empty room ID")
	}
}

func TestSubmitRoomInitialSync(t *testing.T) {
	listener := newRecorder()
	s := newSession(t, syncstore.NewMemoryStore(0), nil, listener)
	err := s.SubmitRoomInitialSync(&messaging.RoomInitialSync{
		RoomID:     roomA,
		Membership: "invite",
		Inviter:    bob,
	})
	if err != nil {
		t.Fatalf("SubmitRoomInitialSync: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !listener.has("room_initial_sync") {
		t.Error("RoomInitialSyncComplete not delivered")
	}
	summaries := s.Summaries()
	if len(summaries) != 1 || !summaries[0].IsInvite(s.UserID()) || summaries[0].Inviter != bob {
		t.Errorf("Summaries = %+v, want an invite from %s", summaries, bob)
	}
}

func TestTeardownWhileBatchesQueued(t *testing.T) {
	decryptor := newGatedDecryptor()
	decryptors := keyshare.NewDecryptors()
	decryptors.Register(schema.AlgorithmMegolm, decryptor)
	store := &commitLog{MemoryStore: syncstore.NewMemoryStore(0)}
	s := newSession(t, store, decryptors)

	if err := s.Submit(joinBatch("s1", encryptedMessage("$e1")), false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	testutil.RequireReceive(t, decryptor.entered, 5*time.Second, "first batch never started")

	if err := s.Submit(joinBatch("s2", encryptedMessage("$e2")), false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waiting := make(chan error, 1)
	go func() {
		_, err := s.Reconcile(context.Background(), joinBatch("s3", encryptedMessage("$e3")), false)
		waiting <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for s.ingestion.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("batches never queued")
		}
		time.Sleep(time.Millisecond)
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	for s.IsActive() {
		time.Sleep(time.Millisecond)
	}
	if err := s.Submit(joinBatch("s4"), false); !errors.Is(err, ErrReleased) {
		t.Errorf("Submit after Close = %v, want ErrReleased", err)
	}

	close(decryptor.release)
	testutil.RequireClosed(t, closed, 5*time.Second, "Close did not return")

	if got := decryptor.decryptCount(); got != 1 {
		t.Errorf("decrypt calls = %d, want 1 (queued batches must not start)", got)
	}
	if got := store.committed(); len(got) != 1 || got[0] != "s1" {
		t.Errorf("committed cursors = %q, want [s1]", got)
	}
	if err := testutil.RequireReceive(t, waiting, 5*time.Second, "waiting Reconcile never returned"); !errors.Is(err, ErrReleased) {
		t.Errorf("queued Reconcile = %v, want ErrReleased", err)
	}
}

func TestReleasedSession(t *testing.T) {
	buffer := token(t)
	s, err := New(Config{
		Credentials: Credentials{UserID: alice, DeviceID: aliceDevice, AccessToken: buffer},
		Store:       syncstore.NewMemoryStore(0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var seen string
	if err := s.WithAccessToken(func(token []byte) error {
		seen = string(token)
		return nil
	}); err != nil || seen != "syt_YWxpY2U_secret" {
		t.Errorf("WithAccessToken = %v, token %q", err, seen)
	}

	if _, err := s.Reconcile(context.Background(), joinBatch("s0"), true); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !s.IsInitialSyncComplete() || s.Decryptors() == nil {
		t.Fatal("session not usable before Close")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.IsActive() {
		t.Error("IsActive = true after Close")
	}
	if !buffer.Closed() {
		t.Error("access token not released")
	}

	ctx := context.Background()
	checks := []struct {
		name string
		err  error
	}{
		{"Submit", s.Submit(joinBatch("s1"), false)},
		{"SubmitRoomInitialSync", s.SubmitRoomInitialSync(&messaging.RoomInitialSync{RoomID: roomA})},
		{"Listen", s.Listen(newRecorder())},
		{"IgnoreKeyRequest", s.IgnoreKeyRequest(syncstore.KeyRequestID{})},
		{"ShareRoomKeys", s.ShareRoomKeys(ctx, syncstore.KeyRequestID{})},
		{"Flush", s.Flush(ctx)},
		{"WithAccessToken", s.WithAccessToken(func([]byte) error { return nil })},
	}
	for _, check := range checks {
		if !errors.Is(check.err, ErrReleased) {
			t.Errorf("%s = %v, want ErrReleased", check.name, check.err)
		}
	}
	if _, err := s.Reconcile(ctx, joinBatch("s1"), false); !errors.Is(err, ErrReleased) {
		t.Errorf("Reconcile = %v, want ErrReleased", err)
	}
	if _, err := s.RoomOrCreate(roomA); !errors.Is(err, ErrReleased) {
		t.Errorf("RoomOrCreate = %v, want ErrReleased", err)
	}
	if s.Room(roomA) != nil || s.Summaries() != nil || s.StreamCursor() != "" || s.PendingKeyRequests() != nil {
		t.Error("reads after Close returned data")
	}
	if s.IsInitialSyncComplete() {
		t.Error("IsInitialSyncComplete = true after Close")
	}
	if s.Decryptors() != nil {
		t.Error("Decryptors after Close returned a registry")
	}
	s.Unlisten(newRecorder())
}

func TestKeyRequestThenCancel(t *testing.T) {
	decryptors := keyshare.NewDecryptors()
	decryptors.Register(schema.AlgorithmMegolm, newGatedDecryptor())
	listener := newRecorder()
	s := newSession(t, syncstore.NewMemoryStore(0), decryptors, listener)
	ctx := context.Background()

	if _, err := s.Reconcile(ctx, toDevice("s1", keyRequestEvent("request", "r1")), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	pending := s.PendingKeyRequests()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	id := pending[0].ID()

	if _, err := s.Reconcile(ctx, toDevice("s2", keyRequestEvent("request_cancellation", "r1")), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := len(s.PendingKeyRequests()); got != 0 {
		t.Errorf("pending after cancellation = %d, want 0", got)
	}
	if err := s.ShareRoomKeys(ctx, id); !errors.Is(err, keyshare.ErrNotPending) {
		t.Errorf("ShareRoomKeys after cancellation = %v, want ErrNotPending", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, kind := range []string{"key_request", "key_request_cancelled"} {
		if !listener.has(kind) {
			t.Errorf("%s not delivered", kind)
		}
	}
}

func TestShareAndIgnorePersist(t *testing.T) {
	decryptor := newGatedDecryptor()
	decryptors := keyshare.NewDecryptors()
	decryptors.Register(schema.AlgorithmMegolm, decryptor)
	listener := newRecorder()
	store := syncstore.NewMemoryStore(0)
	s := newSession(t, store, decryptors, listener)
	ctx := context.Background()

	if _, err := s.Reconcile(ctx, toDevice("s1", keyRequestEvent("request", "r1"), keyRequestEvent("request", "r2")), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	pending := s.PendingKeyRequests()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	if err := s.ShareRoomKeys(ctx, pending[0].ID()); err != nil {
		t.Fatalf("ShareRoomKeys: %v", err)
	}
	shared := testutil.RequireReceive(t, listener.shared, 5*time.Second, "RoomKeyShared not delivered")
	if shared.RequestID != pending[0].RequestID {
		t.Errorf("shared request = %q, want %q", shared.RequestID, pending[0].RequestID)
	}
	if err := s.IgnoreKeyRequest(pending[1].ID()); err != nil {
		t.Fatalf("IgnoreKeyRequest: %v", err)
	}
	if err := s.IgnoreKeyRequest(pending[1].ID()); !errors.Is(err, keyshare.ErrNotPending) {
		t.Errorf("second IgnoreKeyRequest = %v, want ErrNotPending", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := len(store.KeyRequests()); got != 0 {
		t.Errorf("stored key requests = %d, want 0", got)
	}
	if !listener.has("ignored") {
		t.Error("RoomKeyIgnored not delivered")
	}
	decryptor.mu.Lock()
	defer decryptor.mu.Unlock()
	if len(decryptor.shares) != 1 {
		t.Errorf("ShareKeysWithDevice calls = %d, want 1", len(decryptor.shares))
	}
}

func TestPermanentStoreRestoresKeyRequests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	ctx := context.Background()
	open := func() syncstore.Store {
		store, err := syncstore.OpenSQLite(ctx, syncstore.SQLiteConfig{Path: path, Owner: alice})
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		return store
	}
	decryptors := keyshare.NewDecryptors()
	decryptors.Register(schema.AlgorithmMegolm, newGatedDecryptor())

	first := newSession(t, open(), decryptors)
	if _, err := first.Reconcile(ctx, toDevice("s1", keyRequestEvent("request", "r1")), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	listener := newRecorder()
	second := newSession(t, open(), decryptors, listener)
	pending := second.PendingKeyRequests()
	if len(pending) != 1 || pending[0].RequestID != "r1" {
		t.Fatalf("restored requests = %+v, want r1", pending)
	}
	if got := second.StreamCursor(); got != "s1" {
		t.Errorf("StreamCursor = %q, want %q", got, "s1")
	}
	if err := second.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !listener.has("store_ready") {
		t.Error("StoreReady not delivered")
	}
}

func TestClearStoreOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	ctx := context.Background()
	store, err := syncstore.OpenSQLite(ctx, syncstore.SQLiteConfig{Path: path, Owner: alice})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s, err := New(Config{
		Credentials:       Credentials{UserID: alice, DeviceID: aliceDevice},
		Store:             store,
		ClearStoreOnClose: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Reconcile(ctx, joinBatch("s1", textMessage("$m1")), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := syncstore.OpenSQLite(ctx, syncstore.SQLiteConfig{Path: path, Owner: alice})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer reopened.Close()
	if len(reopened.Rooms()) != 0 || reopened.StreamCursor() != "" {
		t.Error("store not cleared on logout")
	}
}
