// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyshare

import (
	"fmt"

	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/schema"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
)

// RequestKey names the requested megolm session.
type RequestKey = schema.RoomKeyRequestBody

// IncomingRequest is a room key request from another device. It is
// plain data; decisions go through Manager by ID.
type IncomingRequest struct {
	UserID    ref.UserID
	DeviceID  ref.DeviceID
	RequestID string
	Key       RequestKey

	// ReceivedAt is local Unix milliseconds.
	ReceivedAt int64
}

// ID returns the request's identity.
func (r IncomingRequest) ID() syncstore.KeyRequestID {
	return syncstore.KeyRequestID{UserID: r.UserID, DeviceID: r.DeviceID, RequestID: r.RequestID}
}

func (r IncomingRequest) record() syncstore.KeyRequestRecord {
	return syncstore.KeyRequestRecord{ID: r.ID(), Body: r.Key, ReceivedAt: r.ReceivedAt}
}

func requestFromRecord(record syncstore.KeyRequestRecord) IncomingRequest {
	return IncomingRequest{
		UserID:     record.ID.UserID,
		DeviceID:   record.ID.DeviceID,
		RequestID:  record.ID.RequestID,
		Key:        record.Body,
		ReceivedAt: record.ReceivedAt,
	}
}

// RequestState is the lifecycle position of an IncomingRequest.
type RequestState int

const (
	Pending RequestState = iota
	Shared
	Ignored
	Superseded
)

func (s RequestState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Shared:
		return "shared"
	case Ignored:
		return "ignored"
	case Superseded:
		return "superseded"
	default:
		return fmt.Sprintf("RequestState(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s RequestState) IsTerminal() bool {
	return s != Pending
}
