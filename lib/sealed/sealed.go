// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/roomsync/lib/secret"
)

// ErrNoIdentity is returned by Open on a Sealer that has no identity.
var ErrNoIdentity = errors.New("sealed: no identity configured")

// Sealer seals to a fixed recipient set and optionally opens with one
// identity.
type Sealer struct {
	recipients []age.Recipient
	identity   *age.X25519Identity
}

// NewSealer parses recipient public keys ("age1...") and, if identity
// is non-nil, the private key it holds ("AGE-SECRET-KEY-1...").
func NewSealer(recipientKeys []string, identity *secret.Buffer) (*Sealer, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("sealed: at least one recipient is required")
	}
	sealer := &Sealer{}
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing recipient %q: %w", key, err)
		}
		sealer.recipients = append(sealer.recipients, recipient)
	}
	if identity != nil {
		parsed, err := age.ParseX25519Identity(identity.String())
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing identity: %w", err)
		}
		sealer.identity = parsed
	}
	return sealer, nil
}

// CanOpen reports whether the Sealer holds an identity.
func (s *Sealer) CanOpen() bool {
	return s.identity != nil
}

// Seal encrypts plaintext to every recipient. The result is the binary
// age format.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, s.recipients...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if s.identity == nil {
		return nil, ErrNoIdentity
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}

// Keypair is a freshly generated identity and its public recipient.
type Keypair struct {
	Identity  *secret.Buffer
	Recipient string
}

// Close releases the identity's locked memory.
func (k *Keypair) Close() error {
	if k.Identity == nil {
		return nil
	}
	return k.Identity.Close()
}

// GenerateKeypair creates a new X25519 identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	buffer, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Keypair{
		Identity:  buffer,
		Recipient: identity.Recipient().String(),
	}, nil
}
