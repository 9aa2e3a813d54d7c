// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncloop

import (
	"context"
	"sync"

	"github.com/bureau-foundation/roomsync/messaging"
)

// Recorded is a Transport that replays captured responses in order and
// then reports ErrEndOfStream. Since tokens are ignored.
type Recorded struct {
	mu        sync.Mutex
	responses []messaging.SyncResponse
	next      int
}

// NewRecorded returns a Transport over responses.
func NewRecorded(responses []messaging.SyncResponse) *Recorded {
	return &Recorded{responses: responses}
}

// Sync returns the next recorded response.
func (r *Recorded) Sync(ctx context.Context, _ SyncOptions) (*messaging.SyncResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.responses) {
		return nil, ErrEndOfStream
	}
	response := r.responses[r.next]
	r.next++
	return &response, nil
}

// Remaining returns how many responses have not been served.
func (r *Recorded) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses) - r.next
}
