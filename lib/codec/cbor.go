// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// Identifier types in lib/ref keep their value in an unexported
	// field and must travel as text strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Event content is map[string]any; the CBOR default for
		// untyped maps would be map[any]any.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage

// Diagnose renders data in CBOR extended diagnostic notation. Used by
// the replay tool's debug output.
func Diagnose(data []byte) (string, error) {
	text, err := cbor.Diagnose(data)
	if err != nil {
		return "", fmt.Errorf("codec: diagnosing %d bytes: %w", len(data), err)
	}
	return text, nil
}
