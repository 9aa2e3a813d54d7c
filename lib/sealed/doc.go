// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts records at rest with age (X25519).
//
// The permanent sync store persists pending incoming room key requests
// so they survive a restart. Those records name which devices asked for
// which megolm sessions; with sealing configured, each record is
// encrypted to one or more age recipients before it is written, and a
// [Sealer] holding the matching identity opens them again when the
// store loads.
//
// A Sealer built without an identity can seal but not open. A store
// configured that way writes sealed records it cannot read back, so the
// store refuses that combination at open time.
package sealed
