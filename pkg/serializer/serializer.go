// Package serializer provides order-preserving start/finish serializers for
// bucket scanners. Each type maps a typed value to bytes whose unsigned
// byte-wise order matches the natural order of the values.
package serializer

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Bytes passes byte slices through unchanged.
type Bytes struct{}

// ToBytes returns v.
func (Bytes) ToBytes(v []byte) []byte { return v }

// String encodes strings as their UTF-8 bytes.
type String struct{}

// ToBytes returns the bytes of v.
func (String) ToBytes(v string) []byte { return []byte(v) }

// Uint64 encodes unsigned integers as 8 big-endian bytes.
type Uint64 struct{}

// ToBytes returns v in big-endian order.
func (Uint64) ToBytes(v uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), v)
}

// Int64 encodes signed integers as 8 big-endian bytes with the sign bit
// flipped, so negative values sort before positive ones.
type Int64 struct{}

// ToBytes returns the order-preserving encoding of v.
func (Int64) ToBytes(v int64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(v)^(1<<63))
}

// UUID encodes UUIDs as their 16 raw bytes.
type UUID struct{}

// ToBytes returns the raw bytes of v.
func (UUID) ToBytes(v uuid.UUID) []byte {
	b := make([]byte, len(v))
	copy(b, v[:])
	return b
}
