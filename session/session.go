// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/keyshare"
	"github.com/bureau-foundation/roomsync/lib/notify"
	"github.com/bureau-foundation/roomsync/lib/reconcile"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/secret"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/lib/taskqueue"
	"github.com/bureau-foundation/roomsync/messaging"
)

// ErrReleased is returned by operations on a closed Session.
var ErrReleased = errors.New("session: released")

// Credentials identify the login. The Session takes ownership of
// AccessToken and closes it on Close.
type Credentials struct {
	UserID      ref.UserID
	DeviceID    ref.DeviceID
	AccessToken *secret.Buffer
}

// Config configures a Session.
type Config struct {
	Credentials Credentials

	// Store holds the session's data. Required. The Session closes it.
	Store syncstore.Store

	// Decryptors decrypts timeline events and answers key requests.
	// Optional; an empty registry is created when nil, and algorithms
	// can be registered later through Session.Decryptors.
	Decryptors *keyshare.Decryptors

	// Listeners are registered before the store's contents are
	// restored, so they observe StoreReady.
	Listeners []notify.Listener

	// ClearStoreOnClose wipes the store's data before closing it, for
	// logouts.
	ClearStoreOnClose bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is one login's sync state.
type Session struct {
	userID   ref.UserID
	deviceID ref.DeviceID
	logger   *slog.Logger

	store      syncstore.Store
	bus        *notify.Bus
	keyShare   *keyshare.Manager
	reconciler *reconcile.Reconciler

	// ingestion applies batches and room initial syncs one at a time.
	ingestion *taskqueue.Queue

	clearOnClose bool

	active    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// tokenMu keeps the token from being released while it is read.
	tokenMu sync.RWMutex
	token   *secret.Buffer
}

// New builds an active Session. With a permanent store, pending key
// requests are restored and StoreReady is announced before New
// returns.
func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: Store is required")
	}
	if cfg.Credentials.UserID.IsZero() {
		return nil, fmt.Errorf("session: Credentials.UserID is required")
	}
	if cfg.Credentials.DeviceID.IsZero() {
		return nil, fmt.Errorf("session: Credentials.DeviceID is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("user_id", cfg.Credentials.UserID, "device_id", cfg.Credentials.DeviceID)
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	decryptors := cfg.Decryptors
	if decryptors == nil {
		decryptors = keyshare.NewDecryptors()
	}

	bus := notify.NewBus(logger)
	for _, listener := range cfg.Listeners {
		bus.Register(listener)
	}
	keyShare := keyshare.NewManager(keyshare.Config{
		UserID:     cfg.Credentials.UserID,
		DeviceID:   cfg.Credentials.DeviceID,
		Decryptors: decryptors,
		Recorder:   cfg.Store,
		Notifier:   bus,
		Clock:      clk,
		Logger:     logger,
	})
	reconciler, err := reconcile.New(reconcile.Config{
		UserID:   cfg.Credentials.UserID,
		Store:    cfg.Store,
		Notifier: bus,
		KeyShare: keyShare,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		userID:       cfg.Credentials.UserID,
		deviceID:     cfg.Credentials.DeviceID,
		logger:       logger,
		store:        cfg.Store,
		bus:          bus,
		keyShare:     keyShare,
		reconciler:   reconciler,
		ingestion:    taskqueue.New("ingestion", logger),
		clearOnClose: cfg.ClearStoreOnClose,
		token:        cfg.Credentials.AccessToken,
	}
	s.active.Store(true)

	if cfg.Store.IsPermanent() {
		restored := keyShare.Restore(cfg.Store.KeyRequests())
		logger.Info("session store loaded",
			"rooms", len(cfg.Store.Rooms()),
			"stream_cursor", cfg.Store.StreamCursor(),
			"key_requests", restored,
		)
		bus.StoreReady()
	}
	return s, nil
}

// UserID returns the session user.
func (s *Session) UserID() ref.UserID { return s.userID }

// DeviceID returns the session device.
func (s *Session) DeviceID() ref.DeviceID { return s.deviceID }

// IsActive reports whether Close has not been called.
func (s *Session) IsActive() bool { return s.active.Load() }

// WithAccessToken calls fn with the access token. The slice aliases
// locked memory and must not be retained past fn.
func (s *Session) WithAccessToken(fn func(token []byte) error) error {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	if !s.active.Load() {
		return ErrReleased
	}
	if s.token == nil || s.token.Closed() {
		return fmt.Errorf("session: no access token")
	}
	return fn(s.token.Bytes())
}

// released logs and returns ErrReleased for an operation attempted
// after Close.
func (s *Session) released(operation string) error {
	s.logger.Warn("operation on released session", "operation", operation)
	return ErrReleased
}

// Submit queues a sync batch and returns without waiting for it.
// Failures are logged; use Reconcile to observe them.
func (s *Session) Submit(response *messaging.SyncResponse, isInitial bool) error {
	if !s.active.Load() {
		return s.released("submit")
	}
	err := s.ingestion.Submit(func() {
		if _, err := s.apply(context.Background(), response, isInitial); err != nil && !errors.Is(err, ErrReleased) {
			s.logger.Error("sync batch failed", "next_batch", response.NextBatch, "error", err)
		}
	})
	if errors.Is(err, taskqueue.ErrClosed) {
		return s.released("submit")
	}
	return err
}

// Reconcile queues a sync batch behind any already submitted and waits
// for it to be applied. A commit failure is returned as a
// *reconcile.CommitError; the stream cursor has not advanced and the
// batch may be retried.
func (s *Session) Reconcile(ctx context.Context, response *messaging.SyncResponse, isInitial bool) (*reconcile.Result, error) {
	type outcome struct {
		result *reconcile.Result
		err    error
	}
	if !s.active.Load() {
		return nil, s.released("reconcile")
	}
	done := make(chan outcome, 1)
	err := s.ingestion.Submit(func() {
		result, err := s.apply(ctx, response, isInitial)
		done <- outcome{result, err}
	})
	if errors.Is(err, taskqueue.ErrClosed) {
		return nil, s.released("reconcile")
	}
	if err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.result, out.err
	case <-s.ingestion.Done():
		select {
		case out := <-done:
			return out.result, out.err
		default:
			return nil, ErrReleased
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// apply runs on the ingestion queue. Batches queued before Close never
// start.
func (s *Session) apply(ctx context.Context, response *messaging.SyncResponse, isInitial bool) (*reconcile.Result, error) {
	if !s.active.Load() {
		return nil, ErrReleased
	}
	result, err := s.reconciler.Reconcile(ctx, response, isInitial)
	if result != nil {
		for _, roomErr := range result.RoomErrors {
			s.logger.Warn("room skipped", "room_id", roomErr.RoomID, "section", roomErr.Section, "error", roomErr.Err)
		}
	}
	return result, err
}

// SubmitRoomInitialSync queues a per-room initial sync payload.
func (s *Session) SubmitRoomInitialSync(payload *messaging.RoomInitialSync) error {
	if !s.active.Load() {
		return s.released("room_initial_sync")
	}
	err := s.ingestion.Submit(func() {
		if !s.active.Load() {
			return
		}
		if err := s.reconciler.HandleRoomInitialSync(context.Background(), payload); err != nil {
			s.logger.Error("room initial sync failed", "room_id", payload.RoomID, "error", err)
		}
	})
	if errors.Is(err, taskqueue.ErrClosed) {
		return s.released("room_initial_sync")
	}
	return err
}

// Listen registers listener. Registering the same listener twice has
// no effect. If the initial sync already completed, listener receives
// InitialSyncComplete before Listen returns.
func (s *Session) Listen(listener notify.Listener) error {
	if !s.active.Load() {
		return s.released("listen")
	}
	s.bus.Register(listener)
	return nil
}

// Unlisten removes listener. After Close it does nothing.
func (s *Session) Unlisten(listener notify.Listener) {
	if !s.active.Load() {
		return
	}
	s.bus.Unregister(listener)
}

// Room returns the room, or nil.
func (s *Session) Room(roomID ref.RoomID) *syncstore.Room {
	if !s.active.Load() {
		return nil
	}
	return s.reconciler.GetRoom(roomID, false)
}

// RoomOrCreate returns the room, creating an empty one if needed. The
// new room is persisted with the next commit.
func (s *Session) RoomOrCreate(roomID ref.RoomID) (*syncstore.Room, error) {
	if !s.active.Load() {
		return nil, s.released("room_or_create")
	}
	room := s.reconciler.GetRoom(roomID, true)
	if room == nil {
		return nil, fmt.Errorf("session: invalid room ID %q", roomID)
	}
	return room, nil
}

// DoesRoomExist reports whether the room is stored.
func (s *Session) DoesRoomExist(roomID ref.RoomID) bool {
	return s.Room(roomID) != nil
}

// User returns the stored user.
func (s *Session) User(userID ref.UserID) (syncstore.User, bool) {
	if !s.active.Load() {
		return syncstore.User{}, false
	}
	return s.store.User(userID)
}

// Summaries returns every room summary, sorted by room ID.
func (s *Session) Summaries() []syncstore.Summary {
	if !s.active.Load() {
		return nil
	}
	return s.store.Summaries()
}

// StreamCursor returns the last committed stream cursor.
func (s *Session) StreamCursor() string {
	if !s.active.Load() {
		return ""
	}
	return s.store.StreamCursor()
}

// IsInitialSyncComplete reports whether an initial batch has been
// committed. False after Close.
func (s *Session) IsInitialSyncComplete() bool {
	if !s.active.Load() {
		return false
	}
	return s.bus.IsInitialSyncComplete()
}

// Decryptors returns the registry used for timeline decryption and key
// requests, or nil after Close.
func (s *Session) Decryptors() *keyshare.Decryptors {
	if !s.active.Load() {
		return nil
	}
	return s.keyShare.Decryptors()
}

// PendingKeyRequests returns the key requests awaiting a decision.
func (s *Session) PendingKeyRequests() []keyshare.IncomingRequest {
	if !s.active.Load() {
		return nil
	}
	return s.keyShare.Pending()
}

// ShareRoomKeys answers a pending key request by sending the session
// key to the requesting device.
func (s *Session) ShareRoomKeys(ctx context.Context, id syncstore.KeyRequestID) error {
	if !s.active.Load() {
		return s.released("share_room_keys")
	}
	if err := s.keyShare.Share(ctx, id); err != nil {
		return err
	}
	s.persist("share_room_keys")
	return nil
}

// IgnoreKeyRequest declines a pending key request.
func (s *Session) IgnoreKeyRequest(id syncstore.KeyRequestID) error {
	if !s.active.Load() {
		return s.released("ignore_key_request")
	}
	if err := s.keyShare.Ignore(id); err != nil {
		return err
	}
	s.persist("ignore_key_request")
	return nil
}

// persist commits decisions made outside a batch. The commit runs on
// the ingestion queue so it never publishes a batch's staged cursor
// early.
func (s *Session) persist(operation string) {
	err := s.ingestion.Submit(func() {
		if err := s.store.Commit(context.Background()); err != nil {
			s.logger.Warn("commit failed", "operation", operation, "error", err)
		}
	})
	if err != nil {
		s.logger.Debug("commit not queued", "operation", operation, "error", err)
	}
}

// Flush waits until every batch submitted so far has been applied and
// every notification it produced has been delivered.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.ingestion.Flush(ctx); err != nil {
		if errors.Is(err, taskqueue.ErrClosed) {
			return ErrReleased
		}
		return err
	}
	if err := s.bus.Flush(ctx); err != nil {
		if errors.Is(err, taskqueue.ErrClosed) {
			return ErrReleased
		}
		return err
	}
	return nil
}

// Close releases the session. A batch being applied finishes; queued
// batches are dropped. Idempotent. Must not be called from a listener
// callback that a Flush is waiting on.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.active.Store(false)
		s.logger.Info("releasing session")

		s.ingestion.Close()
		s.bus.Close()

		var errs []error
		if s.clearOnClose {
			if err := s.store.Clear(context.Background()); err != nil {
				errs = append(errs, fmt.Errorf("clearing store: %w", err))
			}
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}

		s.tokenMu.Lock()
		if s.token != nil {
			if err := s.token.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.tokenMu.Unlock()

		if len(errs) > 0 {
			s.closeErr = fmt.Errorf("session: %w", errors.Join(errs...))
		}
	})
	return s.closeErr
}
