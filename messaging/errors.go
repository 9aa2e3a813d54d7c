// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// MatrixError is an error response from a homeserver.
type MatrixError struct {
	// Code is the Matrix errcode (M_FORBIDDEN, M_UNKNOWN_TOKEN, ...).
	Code string `json:"errcode"`

	// Message is the server's human-readable description.
	Message string `json:"error"`

	// StatusCode is the HTTP status. Not part of the JSON body.
	StatusCode int `json:"-"`

	// RetryAfterMS is set on M_LIMIT_EXCEEDED.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Errcodes the sync core branches on.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// IsMatrixError reports whether err wraps a MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsRetryable reports whether a failed sync request is worth retrying.
// Authentication failures are permanent: the credentials will not start
// working on their own. Other client errors (4xx) are permanent except
// rate limiting. Server errors and anything that is not a MatrixError
// (network failures, timeouts) are transient.
func IsRetryable(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return true
	}
	switch matrixErr.Code {
	case ErrCodeUnknownToken, ErrCodeMissingToken, ErrCodeForbidden:
		return false
	case ErrCodeLimitExceeded:
		return true
	}
	return matrixErr.StatusCode == 0 || matrixErr.StatusCode >= 500
}
