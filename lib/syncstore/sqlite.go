// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomsync/lib/blob"
	"github.com/bureau-foundation/roomsync/lib/codec"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/roomstate"
	"github.com/bureau-foundation/roomsync/lib/sealed"
	"github.com/bureau-foundation/roomsync/lib/sqlitepool"
	"github.com/bureau-foundation/roomsync/messaging"
)

const (
	metaOwner  = "owner"
	metaCursor = "stream_cursor"
)

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// PoolSize is the connection count. Zero selects the pool default.
	PoolSize int

	// EventsPerRoom bounds stored timelines.
	EventsPerRoom int

	// Owner is the session user. A database last opened by a
	// different user is wiped before loading.
	Owner ref.UserID

	// Sealer, when set, seals key request records at rest. It must be
	// able to open what it seals.
	Sealer *sealed.Sealer

	// Logger receives load, flush, and wipe records. Nil discards.
	Logger *slog.Logger
}

// SQLiteStore is a permanent Store backed by SQLite.
type SQLiteStore struct {
	cache

	pool   *sqlitepool.Pool
	sealer *sealed.Sealer
	logger *slog.Logger

	// fingerprints memoizes snapshot hashes by snapshot identity.
	// Snapshots are immutable, so a pointer always maps to one hash.
	fingerprints map[*roomstate.State]blob.Hash
}

// OpenSQLite opens (creating if needed) the database and loads it into
// memory.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Owner.IsZero() {
		return nil, fmt.Errorf("syncstore: Owner is required")
	}
	if cfg.Sealer != nil && !cfg.Sealer.CanOpen() {
		return nil, fmt.Errorf("syncstore: sealer has no identity; sealed key requests could not be loaded back")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       cfg.Path,
		PoolSize:   cfg.PoolSize,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("syncstore: %w", err)
	}

	store := &SQLiteStore{
		cache:        newCache(cfg.EventsPerRoom),
		pool:         pool,
		sealer:       cfg.Sealer,
		logger:       logger,
		fingerprints: make(map[*roomstate.State]blob.Hash),
	}
	store.touched = newTouchedKeys()

	if err := store.load(ctx, cfg.Owner); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// IsPermanent returns true.
func (s *SQLiteStore) IsPermanent() bool { return true }

func (s *SQLiteStore) load(ctx context.Context, owner ref.UserID) error {
	return s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		stored, err := readMeta(conn, metaOwner)
		if err != nil {
			return err
		}
		if stored != "" && stored != owner.String() {
			s.logger.Warn("sync store belongs to another user, wiping",
				"stored_owner", stored,
				"owner", owner,
			)
			if err := deleteAll(conn); err != nil {
				return err
			}
			if err := writeMeta(conn, metaCursor, ""); err != nil {
				return err
			}
		}
		if err := writeMeta(conn, metaOwner, owner.String()); err != nil {
			return err
		}

		loader := snapshotLoader{conn: conn, decoded: make(map[string]*roomstate.State)}
		if err := s.loadRooms(conn, &loader); err != nil {
			return err
		}
		if err := s.loadSummaries(conn, &loader); err != nil {
			return err
		}
		if err := s.loadUsers(conn); err != nil {
			return err
		}
		if err := s.loadEvents(conn); err != nil {
			return err
		}
		if err := s.loadKeyRequests(conn); err != nil {
			return err
		}
		s.cursor, err = readMeta(conn, metaCursor)
		if err != nil {
			return err
		}
		s.logger.Info("sync store loaded",
			"rooms", len(s.rooms),
			"summaries", len(s.summaries),
			"users", len(s.users),
			"key_requests", len(s.keyRequests),
			"snapshots", len(loader.decoded),
			"has_cursor", s.cursor != "",
		)
		return nil
	})
}

type snapshotLoader struct {
	conn    *sqlite.Conn
	decoded map[string]*roomstate.State
}

func (l *snapshotLoader) get(hash string) (*roomstate.State, error) {
	if state, ok := l.decoded[hash]; ok {
		return state, nil
	}
	var frame []byte
	found := false
	err := sqlitex.Execute(l.conn, "SELECT frame FROM snapshots WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{hash},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			frame = columnBlob(stmt, 0)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("syncstore: reading snapshot %s: %w", hash, err)
	}
	if !found {
		return nil, fmt.Errorf("syncstore: snapshot %s missing", hash)
	}
	state, err := decodeSnapshot(frame)
	if err != nil {
		return nil, fmt.Errorf("syncstore: snapshot %s: %w", hash, err)
	}
	l.decoded[hash] = state
	return state, nil
}

func (s *SQLiteStore) loadRooms(conn *sqlite.Conn, loader *snapshotLoader) error {
	type row struct {
		hash   string
		record []byte
	}
	var rows []row
	err := sqlitex.Execute(conn, "SELECT snapshot, record FROM rooms", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, row{hash: stmt.ColumnText(0), record: columnBlob(stmt, 1)})
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("syncstore: reading rooms: %w", err)
	}
	for _, row := range rows {
		var record roomRecord
		if err := codec.Unmarshal(row.record, &record); err != nil {
			return fmt.Errorf("syncstore: decoding room record: %w", err)
		}
		state, err := loader.get(row.hash)
		if err != nil {
			return err
		}
		s.rooms[record.RoomID] = roomFromRecord(record, state)
		s.rememberFingerprint(state, row.hash)
	}
	return nil
}

func (s *SQLiteStore) loadSummaries(conn *sqlite.Conn, loader *snapshotLoader) error {
	type row struct {
		hash   string
		record []byte
	}
	var rows []row
	err := sqlitex.Execute(conn, "SELECT snapshot, record FROM summaries", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, row{hash: stmt.ColumnText(0), record: columnBlob(stmt, 1)})
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("syncstore: reading summaries: %w", err)
	}
	for _, row := range rows {
		var record summaryRecord
		if err := codec.Unmarshal(row.record, &record); err != nil {
			return fmt.Errorf("syncstore: decoding summary record: %w", err)
		}
		state, err := loader.get(row.hash)
		if err != nil {
			return err
		}
		s.summaries[record.RoomID] = summaryFromRecord(record, state)
		s.rememberFingerprint(state, row.hash)
	}
	return nil
}

func (s *SQLiteStore) loadUsers(conn *sqlite.Conn) error {
	return sqlitex.Execute(conn, "SELECT record FROM users", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var user User
			if err := codec.Unmarshal(columnBlob(stmt, 0), &user); err != nil {
				return fmt.Errorf("syncstore: decoding user record: %w", err)
			}
			s.users[user.UserID] = user
			return nil
		},
	})
}

func (s *SQLiteStore) loadEvents(conn *sqlite.Conn) error {
	return sqlitex.Execute(conn, "SELECT room_id, page FROM room_events", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
			if err != nil {
				return fmt.Errorf("syncstore: room_events row: %w", err)
			}
			raw, err := blob.Unpack(columnBlob(stmt, 1))
			if err != nil {
				return fmt.Errorf("syncstore: events for %s: %w", roomID, err)
			}
			var events []*messaging.Event
			if err := codec.Unmarshal(raw, &events); err != nil {
				return fmt.Errorf("syncstore: decoding events for %s: %w", roomID, err)
			}
			s.events[roomID] = events
			return nil
		},
	})
}

func (s *SQLiteStore) loadKeyRequests(conn *sqlite.Conn) error {
	return sqlitex.Execute(conn, "SELECT sealed, record FROM key_requests", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			data := columnBlob(stmt, 1)
			if stmt.ColumnInt(0) != 0 {
				if s.sealer == nil {
					s.logger.Warn("skipping sealed key request: no sealing identity configured")
					return nil
				}
				opened, err := s.sealer.Open(data)
				if err != nil {
					s.logger.Warn("skipping key request that cannot be unsealed", "error", err)
					return nil
				}
				data = opened
			}
			var record KeyRequestRecord
			if err := codec.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("syncstore: decoding key request: %w", err)
			}
			s.keyRequests[record.ID] = record
			return nil
		},
	})
}

func (s *SQLiteStore) rememberFingerprint(state *roomstate.State, hash string) {
	parsed, err := blob.ParseHash(hash)
	if err == nil {
		s.fingerprints[state] = parsed
	}
}

// flushPlan is the fully encoded content of one commit.
type flushPlan struct {
	snapshots map[blob.Hash][]byte

	roomUpserts    []rowWithSnapshot
	roomDeletes    []string
	summaryUpserts []rowWithSnapshot
	summaryDeletes []string
	userUpserts    []keyedBlob
	userDeletes    []string
	eventUpserts   []keyedBlob
	eventDeletes   []string
	keyUpserts     []keyRequestRow
	keyDeletes     []KeyRequestID

	cursor *string
}

type rowWithSnapshot struct {
	key      string
	snapshot blob.Hash
	record   []byte
}

type keyedBlob struct {
	key  string
	data []byte
}

type keyRequestRow struct {
	id     KeyRequestID
	sealed bool
	data   []byte
}

// Commit flushes every row written since the last successful commit
// in one immediate transaction, then publishes the staged cursor.
func (s *SQLiteStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.touched.empty() && s.stagedCursor == nil {
		s.mu.Unlock()
		return nil
	}
	touched := s.touched
	s.touched = newTouchedKeys()
	plan, err := s.plan(touched)
	if err != nil {
		s.restoreTouched(touched)
		s.mu.Unlock()
		return fmt.Errorf("syncstore: commit: %w", err)
	}
	stagedCursor := s.stagedCursor
	s.mu.Unlock()

	err = s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		return plan.execute(conn)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.restoreTouched(touched)
		return fmt.Errorf("syncstore: commit: %w", err)
	}
	if plan.cursor != nil {
		s.cursor = *plan.cursor
		if s.stagedCursor == stagedCursor {
			s.stagedCursor = nil
		}
	}
	s.pruneFingerprints()
	s.logger.Debug("sync store committed",
		"rooms", len(plan.roomUpserts)+len(plan.roomDeletes),
		"summaries", len(plan.summaryUpserts)+len(plan.summaryDeletes),
		"users", len(plan.userUpserts),
		"event_pages", len(plan.eventUpserts),
		"key_requests", len(plan.keyUpserts)+len(plan.keyDeletes),
		"new_snapshots", len(plan.snapshots),
	)
	return nil
}

// pruneFingerprints forgets snapshots no room or summary references
// any more. Caller holds s.mu.
func (s *SQLiteStore) pruneFingerprints() {
	live := make(map[*roomstate.State]struct{}, len(s.rooms)+len(s.summaries))
	for _, room := range s.rooms {
		live[room.State()] = struct{}{}
	}
	for _, summary := range s.summaries {
		live[summary.StateBefore] = struct{}{}
	}
	live[roomstate.Empty()] = struct{}{}
	for state := range s.fingerprints {
		if _, ok := live[state]; !ok {
			delete(s.fingerprints, state)
		}
	}
}

// restoreTouched merges keys from a failed flush back into the
// journal. Caller holds s.mu.
func (s *SQLiteStore) restoreTouched(previous *touchedKeys) {
	for key := range previous.rooms {
		s.touched.rooms[key] = struct{}{}
	}
	for key := range previous.users {
		s.touched.users[key] = struct{}{}
	}
	for key := range previous.summaries {
		s.touched.summaries[key] = struct{}{}
	}
	for key := range previous.events {
		s.touched.events[key] = struct{}{}
	}
	for key := range previous.keyRequests {
		s.touched.keyRequests[key] = struct{}{}
	}
}

// plan encodes the touched rows. Caller holds s.mu.
func (s *SQLiteStore) plan(touched *touchedKeys) (*flushPlan, error) {
	plan := &flushPlan{snapshots: make(map[blob.Hash][]byte)}
	if s.stagedCursor != nil {
		cursor := *s.stagedCursor
		plan.cursor = &cursor
	}

	for roomID := range touched.rooms {
		room, ok := s.rooms[roomID]
		if !ok {
			plan.roomDeletes = append(plan.roomDeletes, roomID.String())
			continue
		}
		record, state := room.record()
		hash, err := s.snapshot(plan, state)
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", roomID, err)
		}
		data, err := codec.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", roomID, err)
		}
		plan.roomUpserts = append(plan.roomUpserts, rowWithSnapshot{key: roomID.String(), snapshot: hash, record: data})
	}

	for roomID := range touched.summaries {
		summary, ok := s.summaries[roomID]
		if !ok {
			plan.summaryDeletes = append(plan.summaryDeletes, roomID.String())
			continue
		}
		hash, err := s.snapshot(plan, summary.StateBefore)
		if err != nil {
			return nil, fmt.Errorf("summary %s: %w", roomID, err)
		}
		data, err := codec.Marshal(summary.record())
		if err != nil {
			return nil, fmt.Errorf("summary %s: %w", roomID, err)
		}
		plan.summaryUpserts = append(plan.summaryUpserts, rowWithSnapshot{key: roomID.String(), snapshot: hash, record: data})
	}

	for userID := range touched.users {
		user, ok := s.users[userID]
		if !ok {
			plan.userDeletes = append(plan.userDeletes, userID.String())
			continue
		}
		data, err := codec.Marshal(user)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", userID, err)
		}
		plan.userUpserts = append(plan.userUpserts, keyedBlob{key: userID.String(), data: data})
	}

	for roomID := range touched.events {
		events, ok := s.events[roomID]
		if !ok {
			plan.eventDeletes = append(plan.eventDeletes, roomID.String())
			continue
		}
		raw, err := codec.Marshal(events)
		if err != nil {
			return nil, fmt.Errorf("events %s: %w", roomID, err)
		}
		page, err := blob.Pack(raw, blob.Zstd)
		if err != nil {
			return nil, fmt.Errorf("events %s: %w", roomID, err)
		}
		plan.eventUpserts = append(plan.eventUpserts, keyedBlob{key: roomID.String(), data: page})
	}

	for id := range touched.keyRequests {
		record, ok := s.keyRequests[id]
		if !ok {
			plan.keyDeletes = append(plan.keyDeletes, id)
			continue
		}
		data, err := codec.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("key request %s: %w", id.RequestID, err)
		}
		row := keyRequestRow{id: id, data: data}
		if s.sealer != nil {
			row.data, err = s.sealer.Seal(data)
			if err != nil {
				return nil, fmt.Errorf("key request %s: %w", id.RequestID, err)
			}
			row.sealed = true
		}
		plan.keyUpserts = append(plan.keyUpserts, row)
	}
	return plan, nil
}

// snapshot returns state's fingerprint, adding its packed encoding to
// the plan when it has not been fingerprinted before.
func (s *SQLiteStore) snapshot(plan *flushPlan, state *roomstate.State) (blob.Hash, error) {
	if state == nil {
		state = roomstate.Empty()
	}
	if hash, ok := s.fingerprints[state]; ok {
		return hash, nil
	}
	raw, err := codec.Marshal(state.Entries())
	if err != nil {
		return blob.Hash{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	hash := blob.Fingerprint(raw)
	frame, err := blob.Pack(raw, blob.LZ4)
	if err != nil {
		return blob.Hash{}, err
	}
	plan.snapshots[hash] = frame
	s.fingerprints[state] = hash
	return hash, nil
}

func (plan *flushPlan) execute(conn *sqlite.Conn) error {
	for hash, frame := range plan.snapshots {
		if err := exec(conn, "INSERT OR IGNORE INTO snapshots (hash, frame) VALUES (?, ?)", hash.String(), frame); err != nil {
			return err
		}
	}
	for _, row := range plan.roomUpserts {
		if err := exec(conn, "INSERT OR REPLACE INTO rooms (room_id, snapshot, record) VALUES (?, ?, ?)", row.key, row.snapshot.String(), row.record); err != nil {
			return err
		}
	}
	for _, key := range plan.roomDeletes {
		if err := exec(conn, "DELETE FROM rooms WHERE room_id = ?", key); err != nil {
			return err
		}
	}
	for _, row := range plan.summaryUpserts {
		if err := exec(conn, "INSERT OR REPLACE INTO summaries (room_id, snapshot, record) VALUES (?, ?, ?)", row.key, row.snapshot.String(), row.record); err != nil {
			return err
		}
	}
	for _, key := range plan.summaryDeletes {
		if err := exec(conn, "DELETE FROM summaries WHERE room_id = ?", key); err != nil {
			return err
		}
	}
	for _, row := range plan.userUpserts {
		if err := exec(conn, "INSERT OR REPLACE INTO users (user_id, record) VALUES (?, ?)", row.key, row.data); err != nil {
			return err
		}
	}
	for _, key := range plan.userDeletes {
		if err := exec(conn, "DELETE FROM users WHERE user_id = ?", key); err != nil {
			return err
		}
	}
	for _, row := range plan.eventUpserts {
		if err := exec(conn, "INSERT OR REPLACE INTO room_events (room_id, page) VALUES (?, ?)", row.key, row.data); err != nil {
			return err
		}
	}
	for _, key := range plan.eventDeletes {
		if err := exec(conn, "DELETE FROM room_events WHERE room_id = ?", key); err != nil {
			return err
		}
	}
	for _, row := range plan.keyUpserts {
		sealedFlag := 0
		if row.sealed {
			sealedFlag = 1
		}
		if err := exec(conn, "INSERT OR REPLACE INTO key_requests (user_id, device_id, request_id, sealed, record) VALUES (?, ?, ?, ?, ?)",
			row.id.UserID.String(), row.id.DeviceID.String(), row.id.RequestID, sealedFlag, row.data); err != nil {
			return err
		}
	}
	for _, id := range plan.keyDeletes {
		if err := exec(conn, "DELETE FROM key_requests WHERE user_id = ? AND device_id = ? AND request_id = ?",
			id.UserID.String(), id.DeviceID.String(), id.RequestID); err != nil {
			return err
		}
	}
	if plan.cursor != nil {
		if err := writeMeta(conn, metaCursor, *plan.cursor); err != nil {
			return err
		}
	}
	if len(plan.roomDeletes) > 0 || len(plan.summaryDeletes) > 0 || len(plan.roomUpserts) > 0 || len(plan.summaryUpserts) > 0 {
		if err := exec(conn, `DELETE FROM snapshots WHERE hash NOT IN (
			SELECT snapshot FROM rooms UNION SELECT snapshot FROM summaries)`); err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes every row and empties the cache. The owner is kept.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	err := s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		if err := deleteAll(conn); err != nil {
			return err
		}
		return writeMeta(conn, metaCursor, "")
	})
	if err != nil {
		return fmt.Errorf("syncstore: clear: %w", err)
	}
	s.reset()
	clear(s.fingerprints)
	s.logger.Info("sync store cleared")
	return nil
}

// Close discards uncommitted writes and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.reset()
	clear(s.fingerprints)
	s.mu.Unlock()

	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("syncstore: %w", err)
	}
	return nil
}

func decodeSnapshot(frame []byte) (*roomstate.State, error) {
	raw, err := blob.Unpack(frame)
	if err != nil {
		return nil, err
	}
	var entries []*messaging.Event
	if err := codec.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding entries: %w", err)
	}
	state, _ := roomstate.FromEntries(entries)
	return state, nil
}

func exec(conn *sqlite.Conn, query string, args ...any) error {
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("%s: %w", firstWords(query), err)
	}
	return nil
}

func firstWords(query string) string {
	const limit = 40
	if len(query) <= limit {
		return query
	}
	return query[:limit] + "..."
}

func readMeta(conn *sqlite.Conn, key string) (string, error) {
	var value string
	err := sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return "", fmt.Errorf("syncstore: reading meta %s: %w", key, err)
	}
	return value, nil
}

func writeMeta(conn *sqlite.Conn, key, value string) error {
	return exec(conn, "INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
}

func deleteAll(conn *sqlite.Conn) error {
	for _, table := range dataTables {
		if err := exec(conn, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}
