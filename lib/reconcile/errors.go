// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
)

// RoomError reports a room fragment of a batch that could not be
// applied. The rest of the batch was still reconciled.
type RoomError struct {
	// RoomID is zero when the fragment's room ID key was itself
	// malformed; Err then carries the raw key.
	RoomID ref.RoomID

	// Section is "join", "invite", "leave", or "initial_sync".
	Section string

	Err error
}

func (e *RoomError) Error() string {
	if e.RoomID.IsZero() {
		return fmt.Sprintf("reconcile: %s room: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("reconcile: %s room %s: %v", e.Section, e.RoomID, e.Err)
}

func (e *RoomError) Unwrap() error { return e.Err }

// CommitError reports that the store rejected a commit. The stream
// cursor did not advance.
type CommitError struct {
	// Cursor is the token that would have been committed, or "" for
	// commits that carry no cursor.
	Cursor string
	Err    error
}

func (e *CommitError) Error() string {
	if e.Cursor == "" {
		return fmt.Sprintf("reconcile: commit failed: %v", e.Err)
	}
	return fmt.Sprintf("reconcile: commit of cursor %q failed: %v", e.Cursor, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Retryable reports whether reconciling the same batch again may
// succeed. A closed store never recovers.
func (e *CommitError) Retryable() bool {
	return !errors.Is(e.Err, syncstore.ErrClosed)
}

// IsCommitError reports whether err is or wraps a *CommitError.
func IsCommitError(err error) bool {
	var commitErr *CommitError
	return errors.As(err, &commitErr)
}

// IsRetryable reports whether err is a retryable commit failure.
func IsRetryable(err error) bool {
	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		return commitErr.Retryable()
	}
	return false
}
