// Package codec supplies concrete typedmap.Codec implementations for the
// key and value types callers most commonly reach for.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Uint64Codec encodes a uint64 as 8 big-endian bytes, so byte-order
// comparison of the encoded form matches numeric order — useful if a
// future ordered-iteration mode is ever built on top of the bucket scan.
type Uint64Codec struct{}

// Uint64 is the zero-value-ready Codec[uint64].
var Uint64 Uint64Codec

func (Uint64Codec) Encode(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)

	return b
}

func (Uint64Codec) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("codec: uint64 requires 8 bytes, got %d", len(b))
	}

	return binary.BigEndian.Uint64(b), nil
}

// StringCodec encodes a string as its raw UTF-8 bytes.
type StringCodec struct{}

// String is the zero-value-ready Codec[string].
var String StringCodec

func (StringCodec) Encode(v string) []byte {
	return []byte(v)
}

func (StringCodec) Decode(b []byte) (string, error) {
	return string(b), nil
}

// BytesCodec is the identity codec for []byte, for when the caller
// already has the wire representation and only wants typedmap's typed
// method signatures.
type BytesCodec struct{}

// Bytes is the zero-value-ready Codec[[]byte].
var Bytes BytesCodec

func (BytesCodec) Encode(v []byte) []byte {
	return v
}

func (BytesCodec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)

	return out, nil
}
