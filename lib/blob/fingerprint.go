// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte keyed BLAKE3 digest.
type Hash [32]byte

// snapshotKey separates snapshot fingerprints from any other BLAKE3
// use. Keyed mode requires exactly 32 bytes.
var snapshotKey = [32]byte{
	'r', 'o', 'o', 'm', 's', 'y', 'n', 'c', '.', 's', 't', 'a', 't', 'e', '.',
	's', 'n', 'a', 'p', 's', 'h', 'o', 't',
}

// Fingerprint hashes an uncompressed snapshot encoding.
func Fingerprint(data []byte) Hash {
	hasher, err := blake3.NewKeyed(snapshotKey[:])
	if err != nil {
		panic("blob: blake3 keyed init: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses the hex form produced by String.
func ParseHash(text string) (Hash, error) {
	var result Hash
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return result, fmt.Errorf("blob: parsing hash: %w", err)
	}
	if len(decoded) != len(result) {
		return result, fmt.Errorf("blob: hash is %d bytes, want %d", len(decoded), len(result))
	}
	copy(result[:], decoded)
	return result, nil
}
