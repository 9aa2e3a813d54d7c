// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyshare

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/messaging"
)

// Recorder persists Pending requests so they survive a restart.
// syncstore.Store satisfies it.
type Recorder interface {
	StoreKeyRequest(record syncstore.KeyRequestRecord)
	DeleteKeyRequest(id syncstore.KeyRequestID)
}

// Notifier receives request lifecycle transitions. notify.Bus
// satisfies it.
type Notifier interface {
	KeyRequestReceived(request IncomingRequest)
	KeyRequestCancelled(request IncomingRequest)
	RoomKeyShared(request IncomingRequest)
	RoomKeyIgnored(request IncomingRequest)
}

// Config configures a Manager.
type Config struct {
	// UserID and DeviceID identify this device. Requests it sends to
	// itself are ignored.
	UserID   ref.UserID
	DeviceID ref.DeviceID

	Decryptors *Decryptors

	// Recorder is optional.
	Recorder Recorder

	// Notifier is optional.
	Notifier Notifier

	// Clock stamps ReceivedAt. Nil selects clock.Real.
	Clock clock.Clock

	Logger *slog.Logger
}

// Manager owns every IncomingRequest seen by one session. Safe for
// concurrent use: to-device events arrive on the ingestion context
// while decisions arrive from the application.
type Manager struct {
	userID     ref.UserID
	deviceID   ref.DeviceID
	decryptors *Decryptors
	recorder   Recorder
	notifier   Notifier
	clock      clock.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[syncstore.KeyRequestID]*entry
}

type entry struct {
	request IncomingRequest
	state   RequestState
	busy    bool
}

// NewManager returns an empty Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	decryptors := cfg.Decryptors
	if decryptors == nil {
		decryptors = NewDecryptors()
	}
	return &Manager{
		userID:     cfg.UserID,
		deviceID:   cfg.DeviceID,
		decryptors: decryptors,
		recorder:   cfg.Recorder,
		notifier:   cfg.Notifier,
		clock:      clk,
		logger:     logger,
		entries:    make(map[syncstore.KeyRequestID]*entry),
	}
}

// Decryptors returns the registry the Manager resolves against.
func (m *Manager) Decryptors() *Decryptors {
	return m.decryptors
}

// HandleToDeviceEvent routes key-related to-device events. Other
// event types are ignored. A returned error is a protocol violation
// by the sender; nothing was changed.
func (m *Manager) HandleToDeviceEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case schema.EventTypeRoomKeyRequest:
		return m.handleRequestEvent(event)
	case schema.EventTypeRoomKey, schema.EventTypeForwardedRoomKey:
		return m.handleRoomKey(event)
	default:
		return nil
	}
}

func (m *Manager) handleRequestEvent(event *messaging.Event) error {
	var content schema.RoomKeyRequestContent
	if err := schema.DecodeContent(event.Content, &content); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if event.Sender.IsZero() || content.RequestingDeviceID.IsZero() || content.RequestID == "" {
		return fmt.Errorf("%w: missing sender, requesting_device_id, or request_id", ErrMalformedRequest)
	}
	request := IncomingRequest{
		UserID:     event.Sender,
		DeviceID:   content.RequestingDeviceID,
		RequestID:  content.RequestID,
		ReceivedAt: clock.UnixMillis(m.clock),
	}

	switch content.Action {
	case schema.KeyRequestActionRequest:
		if content.Body == nil || content.Body.Algorithm == "" || content.Body.RoomID.IsZero() || content.Body.SessionID == "" {
			return fmt.Errorf("%w: request %s has no usable body", ErrMalformedRequest, content.RequestID)
		}
		request.Key = *content.Body
		m.receive(request)
		return nil
	case schema.KeyRequestActionCancellation:
		m.cancel(request.ID())
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", ErrMalformedRequest, content.Action)
	}
}

func (m *Manager) receive(request IncomingRequest) {
	logger := m.logger.With(
		"user_id", request.UserID,
		"device_id", request.DeviceID,
		"request_id", request.RequestID,
		"room_id", request.Key.RoomID,
	)
	if request.UserID == m.userID && request.DeviceID == m.deviceID {
		logger.Debug("ignoring key request from this device")
		return
	}

	m.mu.Lock()
	_, exists := m.entries[request.ID()]
	m.mu.Unlock()
	if exists {
		logger.Debug("ignoring duplicate key request")
		return
	}

	decryptor, ok := m.decryptors.Get(request.Key.Algorithm)
	if !ok {
		logger.Info("dropping key request for unsupported algorithm", "algorithm", request.Key.Algorithm)
		return
	}
	if !decryptor.HasKeysForRequest(request) {
		logger.Debug("dropping key request: no keys for session", "session_id", request.Key.SessionID)
		return
	}

	m.mu.Lock()
	if _, exists := m.entries[request.ID()]; exists {
		m.mu.Unlock()
		return
	}
	m.entries[request.ID()] = &entry{request: request, state: Pending}
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.StoreKeyRequest(request.record())
	}
	logger.Info("key request received")
	if m.notifier != nil {
		m.notifier.KeyRequestReceived(request)
	}
}

func (m *Manager) cancel(id syncstore.KeyRequestID) {
	logger := m.logger.With("user_id", id.UserID, "device_id", id.DeviceID, "request_id", id.RequestID)

	m.mu.Lock()
	current, ok := m.entries[id]
	switch {
	case !ok:
		m.mu.Unlock()
		logger.Debug("cancellation for unknown key request")
		return
	case current.state != Pending:
		m.mu.Unlock()
		logger.Debug("cancellation for settled key request", "state", current.state)
		return
	case current.busy:
		m.mu.Unlock()
		logger.Info("cancellation arrived while sharing, keys already in flight")
		return
	}
	current.state = Superseded
	request := current.request
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.DeleteKeyRequest(id)
	}
	logger.Info("key request cancelled by requester")
	if m.notifier != nil {
		m.notifier.KeyRequestCancelled(request)
	}
}

func (m *Manager) handleRoomKey(event *messaging.Event) error {
	var content schema.RoomKeyContent
	if err := schema.DecodeContent(event.Content, &content); err != nil {
		return fmt.Errorf("keyshare: malformed %s: %w", event.Type, err)
	}
	if content.Algorithm == "" || content.SessionID == "" {
		return fmt.Errorf("keyshare: %s without algorithm or session_id", event.Type)
	}
	decryptor, ok := m.decryptors.Get(content.Algorithm)
	if !ok {
		m.logger.Info("room key for unsupported algorithm",
			"algorithm", content.Algorithm,
			"room_id", content.RoomID,
		)
		return nil
	}
	decryptor.OnRoomKeyEvent(event)
	decryptor.OnNewSession(content.SenderKey, content.SessionID)
	return nil
}

// Share sends the requested keys. Eligibility is re-queried here; an
// ineligible request stays Pending and ErrNotEligible is returned. A
// failed send leaves the request Pending.
func (m *Manager) Share(ctx context.Context, id syncstore.KeyRequestID) error {
	m.mu.Lock()
	current, err := m.pendingLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	current.busy = true
	request := current.request
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		current.busy = false
		m.mu.Unlock()
	}

	decryptor, ok := m.decryptors.Get(request.Key.Algorithm)
	if !ok {
		release()
		return fmt.Errorf("%w %q", ErrNoDecryptor, request.Key.Algorithm)
	}
	if !decryptor.HasKeysForRequest(request) {
		release()
		return ErrNotEligible
	}
	if err := decryptor.ShareKeysWithDevice(ctx, request); err != nil {
		release()
		return fmt.Errorf("keyshare: sharing keys with %s/%s: %w", request.UserID, request.DeviceID, err)
	}

	m.mu.Lock()
	current.busy = false
	current.state = Shared
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.DeleteKeyRequest(id)
	}
	m.logger.Info("room keys shared",
		"user_id", request.UserID,
		"device_id", request.DeviceID,
		"request_id", request.RequestID,
	)
	if m.notifier != nil {
		m.notifier.RoomKeyShared(request)
	}
	return nil
}

// Ignore settles the request without sharing.
func (m *Manager) Ignore(id syncstore.KeyRequestID) error {
	m.mu.Lock()
	current, err := m.pendingLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	current.state = Ignored
	request := current.request
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.DeleteKeyRequest(id)
	}
	m.logger.Info("key request ignored",
		"user_id", request.UserID,
		"device_id", request.DeviceID,
		"request_id", request.RequestID,
	)
	if m.notifier != nil {
		m.notifier.RoomKeyIgnored(request)
	}
	return nil
}

// pendingLocked returns the entry if a decision may be taken on it.
// Caller holds m.mu.
func (m *Manager) pendingLocked(id syncstore.KeyRequestID) (*entry, error) {
	current, ok := m.entries[id]
	if !ok {
		return nil, ErrUnknownRequest
	}
	if current.state != Pending {
		return nil, fmt.Errorf("%w (%s)", ErrNotPending, current.state)
	}
	if current.busy {
		return nil, ErrBusy
	}
	return current, nil
}

// Get returns the request and its state.
func (m *Manager) Get(id syncstore.KeyRequestID) (IncomingRequest, RequestState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[id]
	if !ok {
		return IncomingRequest{}, 0, false
	}
	return current.request, current.state, true
}

// Pending returns every Pending request, oldest first.
func (m *Manager) Pending() []IncomingRequest {
	m.mu.Lock()
	var pending []IncomingRequest
	for _, current := range m.entries {
		if current.state == Pending {
			pending = append(pending, current.request)
		}
	}
	m.mu.Unlock()
	slices.SortFunc(pending, func(a, b IncomingRequest) int {
		if n := cmp.Compare(a.ReceivedAt, b.ReceivedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.RequestID, b.RequestID)
	})
	return pending
}

// Restore re-creates Pending entries from persisted records without
// notifying. Records already known are skipped. Returns how many were
// restored.
func (m *Manager) Restore(records []syncstore.KeyRequestRecord) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := 0
	for _, record := range records {
		if _, exists := m.entries[record.ID]; exists {
			continue
		}
		m.entries[record.ID] = &entry{request: requestFromRecord(record), state: Pending}
		restored++
	}
	if restored > 0 {
		m.logger.Info("restored pending key requests", "count", restored)
	}
	return restored
}
