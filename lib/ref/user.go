// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
//
// A Matrix user ID always starts with '@' and contains a ':'
// separating the localpart from the server name. Only the structural
// format is validated.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
// Returns an error if the string is empty, doesn't start with '@',
// has an empty localpart, or is missing the ':server' suffix.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parseUserParts(raw); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return userID
}

// String returns the full user ID string (e.g., "@alice:example.org").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart portion of the user ID (without the
// '@' prefix or ':server' suffix). Returns "" for the zero value.
func (u UserID) Localpart() string {
	localpart, _, _ := parseUserParts(u.id)
	return localpart
}

// Server returns the server portion of the user ID (after the ':').
// Returns "" for the zero value.
func (u UserID) Server() string {
	_, server, _ := parseUserParts(u.id)
	return server
}

// MarshalText implements encoding.TextMarshaler for JSON and CBOR.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and validates the
// user ID format. An empty input produces the zero value (unset user
// ID), which is how locally fabricated events without a sender decode.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// parseUserParts extracts localpart and server from @localpart:server.
func parseUserParts(identifier string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != '@' {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: must start with @", identifier)
	}
	colonIndex := strings.IndexByte(identifier[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: missing :server", identifier)
	}
	colonIndex++
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: empty localpart", identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: empty server", identifier)
	}
	return localpart, server, nil
}
