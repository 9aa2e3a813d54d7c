// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomsync/lib/sqlitepool"
)

var testMigrations = []string{
	`CREATE TABLE cursor (id INTEGER PRIMARY KEY CHECK (id = 0), token TEXT NOT NULL);`,
	`CREATE TABLE rooms (room_id TEXT PRIMARY KEY, record BLOB NOT NULL);`,
}

func openPool(t *testing.T, path string, migrations []string) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(context.Background(), sqlitepool.Config{
		Path:       path,
		PoolSize:   2,
		Migrations: migrations,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return pool
}

func queryInt(t *testing.T, pool *sqlitepool.Pool, query string) int {
	t.Helper()
	var value int
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return value
}

func TestOpenAppliesMigrations(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "sync.db"), testMigrations)
	defer pool.Close()

	if version := queryInt(t, pool, "PRAGMA user_version"); version != 2 {
		t.Errorf("user_version = %d, want 2", version)
	}
	if count := queryInt(t, pool, "SELECT count(*) FROM rooms"); count != 0 {
		t.Errorf("rooms count = %d, want 0", count)
	}
}

func TestOpenAppliesOnlyNewMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	first := openPool(t, path, testMigrations[:1])
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reapplying migration 1 would fail with "table cursor already
	// exists", so success proves it was skipped.
	second := openPool(t, path, testMigrations)
	defer second.Close()
	if version := queryInt(t, second, "PRAGMA user_version"); version != 2 {
		t.Errorf("user_version = %d, want 2", version)
	}
}

func TestOpenFailsOnBadMigration(t *testing.T) {
	_, err := sqlitepool.Open(context.Background(), sqlitepool.Config{
		Path:       filepath.Join(t.TempDir(), "sync.db"),
		Migrations: []string{"CREATE TABLE broken ("},
	})
	if err == nil {
		t.Fatal("Open succeeded with a malformed migration")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(context.Background(), sqlitepool.Config{}); err == nil {
		t.Fatal("Open succeeded without a path")
	}
}

func TestImmediateRollsBackOnError(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "sync.db"), testMigrations)
	defer pool.Close()

	failure := errors.New("injected")
	err := pool.Immediate(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO rooms (room_id, record) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"!a:example.org", []byte{1}},
		}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Immediate error = %v, want %v", err, failure)
	}
	if count := queryInt(t, pool, "SELECT count(*) FROM rooms"); count != 0 {
		t.Errorf("rooms count after rollback = %d, want 0", count)
	}

	err = pool.Immediate(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO rooms (room_id, record) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"!a:example.org", []byte{1}},
		})
	})
	if err != nil {
		t.Fatalf("Immediate: %v", err)
	}
	if count := queryInt(t, pool, "SELECT count(*) FROM rooms"); count != 1 {
		t.Errorf("rooms count after commit = %d, want 1", count)
	}
}

func TestConnectionPragmas(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "sync.db"), nil)
	defer pool.Close()

	var journalMode string
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
	}
	if synchronous := queryInt(t, pool, "PRAGMA synchronous"); synchronous != 1 {
		t.Errorf("synchronous = %d, want 1 (NORMAL)", synchronous)
	}
}
