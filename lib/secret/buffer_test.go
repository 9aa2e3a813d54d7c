// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("syt_access_token")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "syt_access_token" {
		t.Errorf("String() = %q, want %q", got, "syt_access_token")
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %d, want 0", index, value)
		}
	}
}

func TestNewFromBytesRejectsEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Fatal("NewFromBytes(nil) succeeded, want error")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	buffer, err := NewFromBytes([]byte("token"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !buffer.Closed() {
		t.Error("Closed() = false after Close")
	}
	if buffer.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", buffer.Len())
	}
}

func TestReadAfterClosePanics(t *testing.T) {
	buffer, err := NewFromBytes([]byte("token"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes() on closed buffer did not panic")
		}
	}()
	buffer.Bytes()
}

func TestReadFileTrims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("\n  AGE-SECRET-KEY-1XYZ \n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	buffer, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer buffer.Close()
	if got := buffer.String(); got != "AGE-SECRET-KEY-1XYZ" {
		t.Errorf("String() = %q, want %q", got, "AGE-SECRET-KEY-1XYZ")
	}
}

func TestReadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte(" \n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("ReadFile of whitespace-only file succeeded, want error")
	}
}
