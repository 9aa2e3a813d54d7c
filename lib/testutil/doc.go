// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the module's tests.
//
// The Require* functions are the only places tests wait on wall-clock
// time. Their timeouts are hang guards, not synchronization: a passing
// test never reaches them. Everything time-dependent in production code
// goes through lib/clock and is driven by a fake clock instead.
//
// [UniqueRoomID] and [UniqueUserID] produce identifiers that never
// collide across parallel subtests. [LogRecorder] captures slog records
// so tests can assert that an isolated failure was reported.
package testutil
