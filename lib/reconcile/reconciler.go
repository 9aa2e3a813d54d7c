// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/keyshare"
	"github.com/bureau-foundation/roomsync/lib/notify"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/messaging"
)

// Notifier is what the Reconciler reports to. *notify.Bus satisfies
// it.
type Notifier interface {
	notify.Listener
	MarkInitialSyncComplete() bool
}

// Config configures a Reconciler.
type Config struct {
	// UserID is the session user; it decides own membership, own read
	// receipts, and which messages count as unread.
	UserID ref.UserID

	Store    syncstore.Store
	Notifier Notifier

	// KeyShare receives to-device events. Optional.
	KeyShare *keyshare.Manager

	// Decryptors decrypts m.room.encrypted timeline events. Optional;
	// defaults to KeyShare's registry when KeyShare is set.
	Decryptors *keyshare.Decryptors

	// Clock stamps synthesized invites and presence receipt times.
	Clock clock.Clock

	Logger *slog.Logger
}

// Reconciler applies sync batches to a store.
type Reconciler struct {
	userID     ref.UserID
	store      syncstore.Store
	notifier   Notifier
	keyShare   *keyshare.Manager
	decryptors *keyshare.Decryptors
	clock      clock.Clock
	logger     *slog.Logger

	// roomsMu makes get-or-create atomic.
	roomsMu sync.Mutex

	// pendingMu guards pending, the rooms whose unread count must be
	// recomputed at the end of the batch.
	pendingMu sync.Mutex
	pending   map[ref.RoomID]struct{}
}

// Result describes what one Reconcile call did.
type Result struct {
	Left    []ref.RoomID
	Joined  []ref.RoomID
	Invited []ref.RoomID

	// RoomErrors lists room fragments that were skipped.
	RoomErrors []*RoomError

	// Committed is true when the batch's effects and cursor were
	// committed. An empty batch commits nothing.
	Committed bool

	// Cursor is the committed stream cursor when Committed.
	Cursor string
}

// New returns a Reconciler. Store and Notifier are required.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("reconcile: Store is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("reconcile: Notifier is required")
	}
	if cfg.UserID.IsZero() {
		return nil, fmt.Errorf("reconcile: UserID is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	decryptors := cfg.Decryptors
	if decryptors == nil && cfg.KeyShare != nil {
		decryptors = cfg.KeyShare.Decryptors()
	}
	return &Reconciler{
		userID:     cfg.UserID,
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		keyShare:   cfg.KeyShare,
		decryptors: decryptors,
		clock:      clk,
		logger:     logger,
		pending:    make(map[ref.RoomID]struct{}),
	}, nil
}

// Reconcile applies one batch. The returned error is a *CommitError or
// a context error; per-room failures are in Result.RoomErrors and do
// not produce an error.
func (r *Reconciler) Reconcile(ctx context.Context, response *messaging.SyncResponse, isInitial bool) (*Result, error) {
	if response == nil {
		response = &messaging.SyncResponse{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &Result{}
	carried := r.reportMalformed(result, response.Malformed)

	if len(response.ToDevice.Events) > 0 {
		r.handleToDevice(ctx, response.ToDevice.Events)
		carried = true
	}

	rooms := response.Rooms
	if len(rooms.Leave) > 0 {
		r.logger.Debug("reconciling left rooms", "count", len(rooms.Leave))
		for _, roomID := range sortedKeys(rooms.Leave) {
			r.isolate(result, "leave", roomID, func() error {
				if r.leaveRoom(roomID) {
					result.Left = append(result.Left, roomID)
				}
				return nil
			})
		}
		carried = true
	}

	if len(rooms.Join) > 0 {
		r.logger.Debug("reconciling joined rooms", "count", len(rooms.Join))
		for _, roomID := range sortedKeys(rooms.Join) {
			joined := rooms.Join[roomID]
			r.isolate(result, "join", roomID, func() error {
				if err := r.joinRoom(roomID, &joined, isInitial); err != nil {
					return err
				}
				result.Joined = append(result.Joined, roomID)
				return nil
			})
		}
		carried = true
	}

	if len(rooms.Invite) > 0 {
		r.logger.Debug("reconciling invited rooms", "count", len(rooms.Invite))
		for _, roomID := range sortedKeys(rooms.Invite) {
			invited := rooms.Invite[roomID]
			r.isolate(result, "invite", roomID, func() error {
				if err := r.inviteRoom(roomID, &invited); err != nil {
					return err
				}
				result.Invited = append(result.Invited, roomID)
				return nil
			})
		}
		carried = true
	}

	for i := range response.Presence.Events {
		r.handlePresence(&response.Presence.Events[i])
	}

	if carried {
		r.store.SetStreamCursor(response.NextBatch)
		if err := r.store.Commit(ctx); err != nil {
			r.logger.Error("sync batch commit failed, cursor not advanced",
				"next_batch", response.NextBatch,
				"error", err,
			)
			return result, &CommitError{Cursor: response.NextBatch, Err: err}
		}
		result.Committed = true
		result.Cursor = response.NextBatch
	}

	r.RefreshUnreadCounters(ctx)
	if isInitial {
		if r.notifier.MarkInitialSyncComplete() {
			r.logger.Info("initial sync complete", "rooms", len(r.store.Rooms()))
		}
	} else {
		r.notifier.LiveEventsChunkProcessed()
	}
	return result, nil
}

// GetRoom returns the room, creating (and storing) it when create is
// set and it does not exist yet.
func (r *Reconciler) GetRoom(roomID ref.RoomID, create bool) *syncstore.Room {
	if roomID.IsZero() {
		return nil
	}
	if !create {
		return r.store.Room(roomID)
	}
	room, _ := r.getOrCreate(roomID)
	return room
}

func (r *Reconciler) getOrCreate(roomID ref.RoomID) (*syncstore.Room, bool) {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	if room := r.store.Room(roomID); room != nil {
		return room, false
	}
	room := syncstore.NewRoom(roomID)
	r.store.StoreRoom(room)
	return room, true
}

func (r *Reconciler) leaveRoom(roomID ref.RoomID) bool {
	r.roomsMu.Lock()
	exists := r.store.Room(roomID) != nil
	if exists {
		r.store.DeleteRoom(roomID)
	}
	r.roomsMu.Unlock()

	r.pendingMu.Lock()
	delete(r.pending, roomID)
	r.pendingMu.Unlock()

	if !exists {
		return false
	}
	r.logger.Info("left room", "room_id", roomID)
	r.notifier.LeaveRoom(roomID)
	return true
}

func (r *Reconciler) handleToDevice(ctx context.Context, events []messaging.Event) {
	for i := range events {
		event := &events[i]
		if r.keyShare != nil {
			if err := r.keyShare.HandleToDeviceEvent(ctx, event); err != nil {
				r.logger.Warn("rejected to-device event",
					"type", event.Type,
					"sender", event.Sender,
					"error", err,
				)
			}
		}
		r.notifier.ToDeviceEvent(event)
	}
}

// reportMalformed records fragments the decoder skipped. Malformed
// rooms become RoomErrors. Skipped rooms and to-device events count as
// batch content, so the cursor moves past them; the result reports
// whether there were any.
func (r *Reconciler) reportMalformed(result *Result, malformed []*messaging.FragmentError) bool {
	carried := false
	for _, fragment := range malformed {
		if fragment.IsRoom() {
			r.logger.Error("malformed room skipped in sync batch",
				"section", fragment.Section,
				"room_id", fragment.Key,
				"error", fragment.Err,
			)
			result.RoomErrors = append(result.RoomErrors, &RoomError{RoomID: fragment.RoomID, Section: fragment.Section, Err: fragment})
			carried = true
			continue
		}
		r.logger.Warn("malformed event skipped in sync batch",
			"section", fragment.Section,
			"index", fragment.Key,
			"error", fragment.Err,
		)
		if fragment.Section == messaging.SectionToDevice {
			carried = true
		}
	}
	return carried
}

// isolate runs fn for one room, converting errors and panics into a
// RoomError on result.
func (r *Reconciler) isolate(result *Result, section string, roomID ref.RoomID, fn func() error) {
	err := func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logger.Error("panic reconciling room",
					"section", section,
					"room_id", roomID,
					"panic", recovered,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("panic: %v", recovered)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	r.logger.Error("room skipped in sync batch",
		"section", section,
		"room_id", roomID,
		"error", err,
	)
	result.RoomErrors = append(result.RoomErrors, &RoomError{RoomID: roomID, Section: section, Err: err})
}

func (r *Reconciler) markPending(roomID ref.RoomID) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[roomID] = struct{}{}
}

// drainPending returns and clears the pending set.
func (r *Reconciler) drainPending() []ref.RoomID {
	r.pendingMu.Lock()
	pending := r.pending
	r.pending = make(map[ref.RoomID]struct{})
	r.pendingMu.Unlock()
	return sortedKeys(pending)
}

func sortedKeys[V any](m map[ref.RoomID]V) []ref.RoomID {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, func(a, b ref.RoomID) int {
		return cmp.Compare(a.String(), b.String())
	})
	return keys
}
