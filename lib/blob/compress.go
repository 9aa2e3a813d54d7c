// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a framed blob's payload is encoded.
type Compression uint8

const (
	// None stores the payload as-is.
	None Compression = 0

	// LZ4 is a raw LZ4 block.
	LZ4 Compression = 1

	// Zstd is a single zstd frame.
	Zstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// maxUncompressed bounds the declared length Unpack will allocate for.
const maxUncompressed = 256 << 20

var errIncompressible = errors.New("blob: incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxUncompressed))
	if err != nil {
		panic("blob: zstd decoder: " + err.Error())
	}
}

// Pack compresses data with the requested algorithm and frames it.
func Pack(data []byte, compression Compression) ([]byte, error) {
	var payload []byte
	var err error
	switch compression {
	case None:
		payload = data
	case LZ4:
		payload, err = compressLZ4(data)
	case Zstd:
		payload, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("blob: unsupported compression %s", compression)
	}
	if errors.Is(err, errIncompressible) {
		compression, payload, err = None, data, nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	frame = append(frame, byte(compression))
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, payload...), nil
}

// Unpack reverses Pack.
func Unpack(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("blob: frame too short (%d bytes)", len(frame))
	}
	compression := Compression(frame[0])
	size, headerLength := binary.Uvarint(frame[1:])
	if headerLength <= 0 {
		return nil, fmt.Errorf("blob: malformed length header")
	}
	if size > maxUncompressed {
		return nil, fmt.Errorf("blob: declared size %d exceeds limit", size)
	}
	payload := frame[1+headerLength:]

	switch compression {
	case None:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("blob: stored size %d, header says %d", len(payload), size)
		}
		return payload, nil
	case LZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("blob: lz4: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("blob: lz4 produced %d bytes, header says %d", read, size)
		}
		return destination, nil
	case Zstd:
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("blob: zstd: %w", err)
		}
		if uint64(len(decoded)) != size {
			return nil, fmt.Errorf("blob: zstd produced %d bytes, header says %d", len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("blob: unsupported compression %s", compression)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: lz4: %w", err)
	}
	// CompressBlock reports 0 for input it could not shrink.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
