// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyshare

import "errors"

var (
	// ErrUnknownRequest means no request with that ID was ever
	// surfaced.
	ErrUnknownRequest = errors.New("keyshare: unknown key request")

	// ErrNotPending means the request already reached a terminal
	// state.
	ErrNotPending = errors.New("keyshare: key request is not pending")

	// ErrNotEligible means the capability no longer holds keys for
	// the request. The request stays Pending.
	ErrNotEligible = errors.New("keyshare: no keys to share for this request")

	// ErrBusy means a share for the request is in progress.
	ErrBusy = errors.New("keyshare: key request is being shared")

	// ErrNoDecryptor means no capability is registered for the
	// request's algorithm.
	ErrNoDecryptor = errors.New("keyshare: no decryptor for algorithm")

	// ErrMalformedRequest marks a protocol violation in a to-device
	// event.
	ErrMalformedRequest = errors.New("keyshare: malformed key request")
)
