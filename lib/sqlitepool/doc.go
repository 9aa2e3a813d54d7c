// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database behind the permanent
// sync store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection is
// prepared with WAL journaling, NORMAL synchronous, a busy timeout, and
// in-memory temp storage. Schema setup is expressed as an ordered list
// of migrations tracked through PRAGMA user_version: Open applies the
// migrations the database has not seen yet, each in its own immediate
// transaction, before handing the pool to the caller.
//
// Writers that need all-or-nothing semantics use [Pool.Immediate],
// which takes a connection, begins BEGIN IMMEDIATE, runs the callback,
// and commits only when the callback returns nil. The sync store's
// Commit goes through it so a batch's rooms, summaries, events, and
// stream cursor land together or not at all.
package sqlitepool
