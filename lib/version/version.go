// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build identity for the module's binaries.
//
// Release builds stamp the variables below with -ldflags -X. Unstamped
// builds fall back to the VCS metadata the go command embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the semantic version.
	Version = "0.1.0-dev"

	// GitCommit is the short commit SHA.
	GitCommit = ""

	// BuildTime is the UTC build timestamp.
	BuildTime = ""
)

// buildInfo is swapped in tests.
var buildInfo = debug.ReadBuildInfo

func vcs() (commit, when string, dirty bool) {
	commit, when = GitCommit, BuildTime
	info, ok := buildInfo()
	if !ok {
		return commit, when, false
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == "" && len(setting.Value) >= 12 {
				commit = setting.Value[:12]
			} else if commit == "" {
				commit = setting.Value
			}
		case "vcs.time":
			if when == "" {
				when = setting.Value
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return commit, when, dirty
}

// Info returns "version (commit[-dirty], time)".
func Info() string {
	commit, when, dirty := vcs()
	if commit == "" {
		commit = "unknown"
	}
	if when == "" {
		when = "unknown"
	}
	suffix := ""
	if dirty {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, suffix, when)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
