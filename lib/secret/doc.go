// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps credentials out of the Go heap.
//
// A [Buffer] is anonymous mmap'd memory, locked against swap with
// mlock and excluded from core dumps. The session's access token and
// the age identity that unseals persisted key requests both live in
// Buffers, and both are zeroed and unmapped when the session tears
// down. Reading a closed Buffer panics: a use-after-release of a
// credential is a programming error, not a runtime condition.
package secret
