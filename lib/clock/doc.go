// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock reads and timed waits so the sync
// core can be driven deterministically in tests.
//
// Production code receives [Real]. Tests construct [Fake] with a fixed
// starting instant and move time forward explicitly with
// [FakeClock.Advance]. Components that stamp locally fabricated events
// (synthetic invites), record when presence was received, or back off
// between failed sync requests all take a Clock rather than calling the
// time package.
//
// The fake has no background goroutine. Waiters registered through
// After fire only inside Advance, in deadline order. Tests that race a
// goroutine registering a wait against the test advancing time use
// [FakeClock.WaitForWaiters] to close the race:
//
//	go loop.Run(ctx)
//	fake.WaitForWaiters(1)
//	fake.Advance(2 * time.Second)
package clock
