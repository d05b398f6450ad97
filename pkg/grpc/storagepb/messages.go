// ABOUTME: Wire messages of the bucketscan.v1.Storage service, encoded with protowire
// ABOUTME: Every message travels inside a wrapperspb.BytesValue so the stock proto codec carries it

package storagepb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/KevoDB/bucketscan/pkg/store"
)

// ErrMalformed is returned when a payload cannot be decoded
var ErrMalformed = errors.New("malformed storage message")

// Codec identifies the compression applied to a response body
type Codec int32

const (
	CodecNone Codec = iota
	CodecZstd
	CodecSnappy
)

// String returns the codec name
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("Codec(%d)", int32(c))
	}
}

// ParseCodec converts a codec name to a Codec
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "snappy":
		return CodecSnappy, nil
	default:
		return CodecNone, fmt.Errorf("unknown compression codec %q", name)
	}
}

// Field numbers. Bound fields are only written when the bound is set, so an
// empty bound survives the round trip and stays distinct from no bound.
const (
	fieldOwner        protowire.Number = 1
	fieldColumnFamily protowire.Number = 2
	fieldPartitionKey protowire.Number = 3
	fieldStart        protowire.Number = 4
	fieldFinish       protowire.Number = 5
	fieldLimit        protowire.Number = 6
	fieldReversed     protowire.Number = 7
	fieldAcceptCodec  protowire.Number = 8

	fieldColumn protowire.Number = 4

	fieldColumnName  protowire.Number = 1
	fieldColumnValue protowire.Number = 2

	fieldCodec   protowire.Number = 1
	fieldBody    protowire.Number = 2
	fieldColumns protowire.Number = 1
)

// ReadRangeRequest asks the server for one range read. AcceptCodec names the
// compression the client is prepared to decode.
type ReadRangeRequest struct {
	store.RangeRequest
	AcceptCodec Codec
}

// ReadRangeResponse carries the encoded column list, compressed with Codec.
type ReadRangeResponse struct {
	Codec Codec
	Body  []byte
}

// MutationRequest carries a Put or a Delete.
type MutationRequest struct {
	store.Mutation
}

// Marshal encodes the request.
func (r *ReadRangeRequest) Marshal() []byte {
	var b []byte
	b = appendPartition(b, r.Owner, r.ColumnFamily, r.PartitionKey)
	if r.Start != nil {
		b = protowire.AppendTag(b, fieldStart, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Start)
	}
	if r.Finish != nil {
		b = protowire.AppendTag(b, fieldFinish, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Finish)
	}
	b = protowire.AppendTag(b, fieldLimit, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Limit))
	if r.Reversed {
		b = protowire.AppendTag(b, fieldReversed, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if r.AcceptCodec != CodecNone {
		b = protowire.AppendTag(b, fieldAcceptCodec, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.AcceptCodec))
	}
	return b
}

// Unmarshal decodes b into r.
func (r *ReadRangeRequest) Unmarshal(b []byte) error {
	*r = ReadRangeRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldOwner, fieldColumnFamily, fieldPartitionKey:
			return consumePartition(num, typ, b, &r.Owner, &r.ColumnFamily, &r.PartitionKey)
		case fieldStart:
			return consumeBytes(typ, b, &r.Start)
		case fieldFinish:
			return consumeBytes(typ, b, &r.Finish)
		case fieldLimit:
			v, n, err := consumeVarint(typ, b)
			r.Limit = int(v)
			return n, err
		case fieldReversed:
			v, n, err := consumeVarint(typ, b)
			r.Reversed = protowire.DecodeBool(v)
			return n, err
		case fieldAcceptCodec:
			v, n, err := consumeVarint(typ, b)
			r.AcceptCodec = Codec(v)
			return n, err
		}
		return -1, nil
	})
}

// Marshal encodes the response.
func (r *ReadRangeResponse) Marshal() []byte {
	var b []byte
	if r.Codec != CodecNone {
		b = protowire.AppendTag(b, fieldCodec, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Codec))
	}
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	return protowire.AppendBytes(b, r.Body)
}

// Unmarshal decodes b into r.
func (r *ReadRangeResponse) Unmarshal(b []byte) error {
	*r = ReadRangeResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldCodec:
			v, n, err := consumeVarint(typ, b)
			r.Codec = Codec(v)
			return n, err
		case fieldBody:
			return consumeBytes(typ, b, &r.Body)
		}
		return -1, nil
	})
}

// Marshal encodes the mutation.
func (m *MutationRequest) Marshal() []byte {
	var b []byte
	b = appendPartition(b, m.Owner, m.ColumnFamily, m.PartitionKey)
	b = protowire.AppendTag(b, fieldColumn, protowire.BytesType)
	return protowire.AppendBytes(b, appendColumn(nil, m.Column))
}

// Unmarshal decodes b into m.
func (m *MutationRequest) Unmarshal(b []byte) error {
	*m = MutationRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldOwner, fieldColumnFamily, fieldPartitionKey:
			return consumePartition(num, typ, b, &m.Owner, &m.ColumnFamily, &m.PartitionKey)
		case fieldColumn:
			var raw []byte
			n, err := consumeBytes(typ, b, &raw)
			if err != nil {
				return n, err
			}
			return n, unmarshalColumn(raw, &m.Column)
		}
		return -1, nil
	})
}

// MarshalColumns encodes a column list as a repeated message field.
func MarshalColumns(cols []store.Column) []byte {
	var b []byte
	for _, c := range cols {
		b = protowire.AppendTag(b, fieldColumns, protowire.BytesType)
		b = protowire.AppendBytes(b, appendColumn(nil, c))
	}
	return b
}

// UnmarshalColumns decodes a column list produced by MarshalColumns.
func UnmarshalColumns(b []byte) ([]store.Column, error) {
	var cols []store.Column
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldColumns {
			return -1, nil
		}
		var raw []byte
		n, err := consumeBytes(typ, b, &raw)
		if err != nil {
			return n, err
		}
		var c store.Column
		if err := unmarshalColumn(raw, &c); err != nil {
			return n, err
		}
		cols = append(cols, c)
		return n, nil
	})
	return cols, err
}

func appendPartition(b []byte, owner uuid.UUID, cf string, key []byte) []byte {
	b = protowire.AppendTag(b, fieldOwner, protowire.BytesType)
	b = protowire.AppendBytes(b, owner[:])
	b = protowire.AppendTag(b, fieldColumnFamily, protowire.BytesType)
	b = protowire.AppendString(b, cf)
	b = protowire.AppendTag(b, fieldPartitionKey, protowire.BytesType)
	return protowire.AppendBytes(b, key)
}

func consumePartition(num protowire.Number, typ protowire.Type, b []byte, owner *uuid.UUID, cf *string, key *[]byte) (int, error) {
	var raw []byte
	n, err := consumeBytes(typ, b, &raw)
	if err != nil {
		return n, err
	}
	switch num {
	case fieldOwner:
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return n, fmt.Errorf("%w: owner: %v", ErrMalformed, err)
		}
		*owner = id
	case fieldColumnFamily:
		*cf = string(raw)
	case fieldPartitionKey:
		*key = raw
	}
	return n, nil
}

func appendColumn(b []byte, c store.Column) []byte {
	b = protowire.AppendTag(b, fieldColumnName, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Name)
	if c.Value != nil {
		b = protowire.AppendTag(b, fieldColumnValue, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Value)
	}
	return b
}

func unmarshalColumn(b []byte, c *store.Column) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldColumnName:
			return consumeBytes(typ, b, &c.Name)
		case fieldColumnValue:
			return consumeBytes(typ, b, &c.Value)
		}
		return -1, nil
	})
}

// walk iterates over the fields of b. fn returns the number of bytes it
// consumed, or -1 to have the field skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: expected bytes, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	// copy so decoded values never alias the transport buffer
	*dst = append([]byte{}, v...)
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: expected varint, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}
