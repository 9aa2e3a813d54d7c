// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomstate projects Matrix state events onto immutable room
// state snapshots.
//
// A [State] maps (event type, state key) to the latest applicable state
// event. [Apply] never modifies its input: it returns a new snapshot
// when the event changes something and the input pointer itself when it
// does not. Any snapshot a caller holds therefore stays valid forever.
// The reconciler exploits this to capture "state immediately before
// event N" for summaries and live-event notifications at no cost
// beyond keeping a pointer.
//
// [Forward] overwrites the slot unconditionally. Stream order decides;
// timestamps are never consulted. [Backward] undoes an event: the slot
// is restored from the event's unsigned prev_content (with
// replaces_state and prev_sender identifying the restored event), or
// removed when the event had no predecessor. For any snapshot S whose
// slot held exactly the event the server reports as replaced,
//
//	Equal(Apply(Apply(S, e, Forward), e, Backward), S)
//
// holds.
//
// Only recognized state types are tracked. Events of other types,
// events without a state key, and recognized events whose content or
// state key fails validation leave the snapshot unchanged. A malformed
// event from a remote server is noise to be skipped, never a reason to
// fail the batch carrying it.
package roomstate
