// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

// migrations is append-only; see sqlitepool.Config.Migrations.
var migrations = []string{
	`
	CREATE TABLE meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	) WITHOUT ROWID;

	-- Content-addressed room state snapshots: blob.Fingerprint of the
	-- CBOR encoding, LZ4-packed.
	CREATE TABLE snapshots (
		hash  TEXT PRIMARY KEY,
		frame BLOB NOT NULL
	) WITHOUT ROWID;

	CREATE TABLE rooms (
		room_id  TEXT PRIMARY KEY,
		snapshot TEXT NOT NULL,
		record   BLOB NOT NULL
	) WITHOUT ROWID;

	CREATE TABLE summaries (
		room_id  TEXT PRIMARY KEY,
		snapshot TEXT NOT NULL,
		record   BLOB NOT NULL
	) WITHOUT ROWID;

	CREATE TABLE users (
		user_id TEXT PRIMARY KEY,
		record  BLOB NOT NULL
	) WITHOUT ROWID;

	-- One zstd-packed page per room holding its bounded timeline.
	CREATE TABLE room_events (
		room_id TEXT PRIMARY KEY,
		page    BLOB NOT NULL
	) WITHOUT ROWID;

	CREATE TABLE key_requests (
		user_id    TEXT NOT NULL,
		device_id  TEXT NOT NULL,
		request_id TEXT NOT NULL,
		sealed     INTEGER NOT NULL,
		record     BLOB NOT NULL,
		PRIMARY KEY (user_id, device_id, request_id)
	) WITHOUT ROWID;
	`,
}

// dataTables are cleared by Clear and by an owner change. meta keeps
// the owner row.
var dataTables = []string{"snapshots", "rooms", "summaries", "users", "room_events", "key_requests"}
