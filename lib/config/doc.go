// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration for sync sessions and the
// replay tool.
//
// A single file, named by --config or the BUREAU_CONFIG environment
// variable, holds four sections (store, sync, sealing, logging) plus
// optional development, staging, and production override blocks. The
// block matching the top-level environment is merged over the base
// values: non-empty override fields win. ${VAR} and ${VAR:-default}
// references in path fields are expanded against the process
// environment after merging.
//
//	environment: production
//	store:
//	  path: ${HOME}/.local/state/roomsync/sync.db
//	  events_per_room: 500
//	sync:
//	  timeout: 30s
//	sealing:
//	  recipients: [age1...]
//	  identity_file: ${HOME}/.config/roomsync/identity.txt
//	production:
//	  logging:
//	    format: json
package config
