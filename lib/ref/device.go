// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// DeviceID is a Matrix device identifier. Device IDs are opaque
// server-assigned strings with no internal structure. The type exists
// to prevent confusion with other string values (user IDs, request
// IDs, access tokens) at compile time. Room-key requests are addressed
// per (user, device), so this type is half of every request key.
type DeviceID struct {
	id string
}

// ParseDeviceID constructs a DeviceID from a raw string. Returns an
// error if the string is empty.
func ParseDeviceID(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, fmt.Errorf("device ID is empty")
	}
	return DeviceID{id: raw}, nil
}

// MustParseDeviceID is like ParseDeviceID but panics on error.
func MustParseDeviceID(raw string) DeviceID {
	deviceID, err := ParseDeviceID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseDeviceID(%q): %v", raw, err))
	}
	return deviceID
}

// String returns the raw device ID string.
func (d DeviceID) String() string {
	return d.id
}

// IsZero reports whether the DeviceID is the zero value (empty).
func (d DeviceID) IsZero() bool {
	return d.id == ""
}

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) {
	return []byte(d.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (d *DeviceID) UnmarshalText(data []byte) error {
	*d = DeviceID{id: string(data)}
	return nil
}
