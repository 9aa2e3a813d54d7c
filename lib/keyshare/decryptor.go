// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyshare

import (
	"context"
	"sync"

	"github.com/bureau-foundation/roomsync/messaging"
)

// Decryptor is the per-algorithm decrypting capability. The ratchet
// and cipher live behind it.
type Decryptor interface {
	// Decrypt returns the cleartext form of an m.room.encrypted event.
	// timelineID scopes replay detection: the same message index may
	// not be decrypted twice within one timeline.
	Decrypt(event *messaging.Event, timelineID string) (*messaging.Event, error)

	// OnRoomKeyEvent consumes an m.room_key or m.forwarded_room_key
	// to-device event.
	OnRoomKeyEvent(event *messaging.Event)

	// OnNewSession is called after a room key arrives so events that
	// failed to decrypt earlier can be retried.
	OnNewSession(senderKey, sessionID string)

	// HasKeysForRequest reports whether this device could answer the
	// request at all.
	HasKeysForRequest(request IncomingRequest) bool

	// ShareKeysWithDevice sends the requested session to the
	// requesting device.
	ShareKeysWithDevice(ctx context.Context, request IncomingRequest) error
}

// Decryptors maps algorithm identifiers to capabilities. Safe for
// concurrent use.
type Decryptors struct {
	mu          sync.RWMutex
	byAlgorithm map[string]Decryptor
}

// NewDecryptors returns an empty registry.
func NewDecryptors() *Decryptors {
	return &Decryptors{byAlgorithm: make(map[string]Decryptor)}
}

// Register installs (or replaces) the decryptor for algorithm.
func (d *Decryptors) Register(algorithm string, decryptor Decryptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byAlgorithm[algorithm] = decryptor
}

// Get returns the decryptor for algorithm. A nil registry has none.
func (d *Decryptors) Get(algorithm string) (Decryptor, bool) {
	if d == nil {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	decryptor, ok := d.byAlgorithm[algorithm]
	return decryptor, ok
}
