// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config describes a pool to open.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the number of connections. Defaults to 4. SQLite
	// serializes writers, so extra connections only help readers.
	PoolSize int

	// Migrations are SQL scripts applied in order. Migration i is
	// applied when the database's user_version is <= i, and
	// user_version is then set to i+1. Never reorder or edit a
	// released migration; append a new one.
	Migrations []string

	// Logger receives open/close and migration records. Nil discards.
	Logger *slog.Logger
}

// Pool is a fixed-size set of prepared SQLite connections.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var connectionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA cache_size=-4096",
}

// Open creates the pool and brings the schema up to date.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepare,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}
	pool := &Pool{inner: inner, logger: logger, path: cfg.Path}

	applied, err := pool.migrate(ctx, cfg.Migrations)
	if err != nil {
		inner.Close()
		return nil, err
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", poolSize,
		"migrations_applied", applied,
	)
	return pool, nil
}

func prepare(conn *sqlite.Conn) error {
	for _, pragma := range connectionPragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}

func (p *Pool) migrate(ctx context.Context, migrations []string) (int, error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Put(conn)

	version, err := userVersion(conn)
	if err != nil {
		return 0, err
	}

	applied := 0
	for index := version; index < len(migrations); index++ {
		if err := applyMigration(conn, index, migrations[index]); err != nil {
			return applied, err
		}
		applied++
		p.logger.Debug("sqlite migration applied", "path", p.path, "version", index+1)
	}
	return applied, nil
}

func applyMigration(conn *sqlite.Conn, index int, script string) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: migration %d: begin: %w", index+1, err)
	}
	defer endFn(&err)

	if err = sqlitex.ExecuteScript(conn, script, nil); err != nil {
		return fmt.Errorf("sqlitepool: migration %d: %w", index+1, err)
	}
	// PRAGMA does not accept bound parameters.
	if err = sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version=%d", index+1), nil); err != nil {
		return fmt.Errorf("sqlitepool: migration %d: setting user_version: %w", index+1, err)
	}
	return nil
}

func userVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading user_version: %w", err)
	}
	return version, nil
}

// Take borrows a connection. The caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a borrowed connection. Nil is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	if conn == nil {
		return
	}
	p.inner.Put(conn)
}

// Read runs fn on a borrowed connection without opening a transaction.
func (p *Pool) Read(ctx context.Context, fn func(*sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Immediate runs fn inside BEGIN IMMEDIATE. The transaction commits
// when fn returns nil and rolls back otherwise.
func (p *Pool) Immediate(ctx context.Context, fn func(*sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin immediate: %w", err)
	}
	defer endFn(&err)
	return fn(conn)
}

// Close waits for borrowed connections to return and closes them.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}
