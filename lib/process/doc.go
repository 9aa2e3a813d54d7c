// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint helpers: reporting the
// error that ended run() before or without a structured logger, and
// choosing the exit status.
//
// Errors that carry an ExitCode method choose their own status. Usage
// errors (bad flags or arguments) exit with 2, everything else with 1.
package process
