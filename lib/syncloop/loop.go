// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/roomsync/lib/clock"
	"github.com/bureau-foundation/roomsync/lib/reconcile"
	"github.com/bureau-foundation/roomsync/messaging"
)

// ErrEndOfStream is returned by a Transport that has no more batches.
// Run treats it as a clean stop.
var ErrEndOfStream = errors.New("syncloop: end of stream")

// SyncOptions are the parameters of one /sync request.
type SyncOptions struct {
	// Since is the stream cursor; empty requests an initial sync.
	Since string

	// Timeout is how long the server may hold the request open when
	// nothing is pending. Zero asks for an immediate response.
	Timeout time.Duration
}

// Transport performs /sync requests.
type Transport interface {
	Sync(ctx context.Context, options SyncOptions) (*messaging.SyncResponse, error)
}

// Ingester applies one batch and returns once it is committed.
// *session.Session satisfies it.
type Ingester interface {
	Reconcile(ctx context.Context, response *messaging.SyncResponse, isInitial bool) (*reconcile.Result, error)
}

// Config configures the loop.
type Config struct {
	// Timeout is the long-poll timeout. Default: 30 seconds.
	Timeout time.Duration

	// InitialBackoff is the delay before the first retry. Default: 1
	// second.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay. Default: 30 seconds.
	MaxBackoff time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// InitialSync fetches the first batch with no since token and ingests
// it as the initial sync. Returns the next_batch token for Run.
//
// Unlike incremental sync, this is not retried: the caller decides
// whether a failed first sync is fatal.
func InitialSync(ctx context.Context, transport Transport, ingester Ingester) (string, error) {
	response, err := transport.Sync(ctx, SyncOptions{})
	if err != nil {
		return "", fmt.Errorf("syncloop: initial sync: %w", err)
	}
	if _, err := ingester.Reconcile(ctx, response, true); err != nil {
		return "", fmt.Errorf("syncloop: ingesting initial sync: %w", err)
	}
	return response.NextBatch, nil
}

// Run polls from since until ctx is cancelled or the transport reports
// ErrEndOfStream, both of which return nil. An empty since makes the
// first batch the initial sync. Returns the last committed cursor
// alongside any fatal error.
func Run(ctx context.Context, transport Transport, ingester Ingester, since string, cfg Config) (string, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	backoff := cfg.InitialBackoff

	// wait sleeps for delay and doubles the backoff. Returns false if
	// ctx ended first.
	wait := func(delay time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-cfg.Clock.After(delay):
		}
		backoff = min(backoff*2, cfg.MaxBackoff)
		return true
	}

	// pending is a fetched batch that has not been committed yet. A
	// retryable ingestion failure retries it without fetching again.
	var pending *messaging.SyncResponse
	for {
		if ctx.Err() != nil {
			return since, nil
		}

		if pending == nil {
			options := SyncOptions{Since: since, Timeout: cfg.Timeout}
			if since == "" {
				options.Timeout = 0
			}
			response, err := transport.Sync(ctx, options)
			if err != nil {
				if errors.Is(err, ErrEndOfStream) {
					logger.Info("sync stream ended", "since", since)
					return since, nil
				}
				if ctx.Err() != nil {
					return since, nil
				}
				if !messaging.IsRetryable(err) {
					return since, fmt.Errorf("syncloop: sync failed: %w", err)
				}
				delay := backoff
				var matrixErr *messaging.MatrixError
				if errors.As(err, &matrixErr) && matrixErr.RetryAfterMS > 0 {
					delay = time.Duration(matrixErr.RetryAfterMS) * time.Millisecond
				}
				logger.Error("sync failed, retrying", "error", err, "backoff", delay)
				if !wait(delay) {
					return since, nil
				}
				continue
			}
			pending = response
		}

		result, err := ingester.Reconcile(ctx, pending, since == "")
		if err != nil {
			if ctx.Err() != nil {
				return since, nil
			}
			if !reconcile.IsRetryable(err) {
				return since, fmt.Errorf("syncloop: ingesting batch %s: %w", pending.NextBatch, err)
			}
			logger.Warn("sync batch not committed, retrying", "next_batch", pending.NextBatch, "error", err, "backoff", backoff)
			if !wait(backoff) {
				return since, nil
			}
			continue
		}

		backoff = cfg.InitialBackoff
		if result != nil && len(result.RoomErrors) > 0 {
			logger.Warn("sync batch applied with skipped rooms", "next_batch", pending.NextBatch, "skipped", len(result.RoomErrors))
		}
		if pending.NextBatch != "" {
			since = pending.NextBatch
		}
		pending = nil
	}
}
