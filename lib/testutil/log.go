// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is a captured slog record flattened for assertions.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that keeps every record.
type LogRecorder struct {
	mu      sync.Mutex
	records []LogRecord
	attrs   []slog.Attr
	parent  *LogRecorder
}

// NewLogRecorder returns a recorder and a logger writing to it.
func NewLogRecorder() (*LogRecorder, *slog.Logger) {
	recorder := &LogRecorder{}
	return recorder, slog.New(recorder)
}

func (r *LogRecorder) root() *LogRecorder {
	if r.parent != nil {
		return r.parent.root()
	}
	return r
}

// Enabled accepts every level.
func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

// Handle stores the record.
func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	flattened := LogRecord{
		Level:   record.Level,
		Message: record.Message,
		Attrs:   make(map[string]any),
	}
	for _, attr := range r.attrs {
		flattened.Attrs[attr.Key] = attr.Value.Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		flattened.Attrs[attr.Key] = attr.Value.Any()
		return true
	})

	root := r.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.records = append(root.records, flattened)
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogRecorder{
		attrs:  append(append([]slog.Attr(nil), r.attrs...), attrs...),
		parent: r.root(),
	}
}

// WithGroup is not needed by any caller; groups are flattened away.
func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Records returns a copy of everything captured so far.
func (r *LogRecorder) Records() []LogRecord {
	root := r.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	return append([]LogRecord(nil), root.records...)
}

// Find returns the first record with the given message.
func (r *LogRecorder) Find(message string) (LogRecord, bool) {
	for _, record := range r.Records() {
		if record.Message == message {
			return record, true
		}
	}
	return LogRecord{}, false
}
