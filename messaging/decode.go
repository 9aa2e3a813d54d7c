// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

// DecodeSyncResponse decodes one /sync response body. Comments and
// trailing commas are accepted.
func DecodeSyncResponse(data []byte) (*SyncResponse, error) {
	var response SyncResponse
	if err := json.Unmarshal(jsonc.ToJSON(data), &response); err != nil {
		return nil, fmt.Errorf("messaging: decoding sync response: %w", err)
	}
	return &response, nil
}

// DecodeSyncBatches decodes either a single sync response or a JSON
// array of them, in order.
func DecodeSyncBatches(data []byte) ([]SyncResponse, error) {
	plain := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(plain) == 0 {
		return nil, fmt.Errorf("messaging: empty sync batch document")
	}
	if plain[0] != '[' {
		response, err := DecodeSyncResponse(plain)
		if err != nil {
			return nil, err
		}
		return []SyncResponse{*response}, nil
	}
	var responses []SyncResponse
	if err := json.Unmarshal(plain, &responses); err != nil {
		return nil, fmt.Errorf("messaging: decoding sync batch array: %w", err)
	}
	return responses, nil
}

// DecodeRoomInitialSync decodes a per-room initial sync payload.
func DecodeRoomInitialSync(data []byte) (*RoomInitialSync, error) {
	var payload RoomInitialSync
	if err := json.Unmarshal(jsonc.ToJSON(data), &payload); err != nil {
		return nil, fmt.Errorf("messaging: decoding room initial sync: %w", err)
	}
	if payload.RoomID.IsZero() {
		return nil, fmt.Errorf("messaging: room initial sync has no room_id")
	}
	return &payload, nil
}
