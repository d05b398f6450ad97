package storagepb

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/KevoDB/bucketscan/pkg/store"
)

func TestReadRangeRequestKeepsBoundPresence(t *testing.T) {
	req := &ReadRangeRequest{
		RangeRequest: store.RangeRequest{
			Owner:        uuid.New(),
			ColumnFamily: "Entity_Index",
			PartitionKey: []byte("users:idx:001"),
			Start:        []byte{},
			Limit:        11,
			Reversed:     true,
		},
		AcceptCodec: CodecZstd,
	}

	var got ReadRangeRequest
	if err := got.Unmarshal(req.Marshal()); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.Start == nil || len(got.Start) != 0 {
		t.Errorf("empty start bound should decode as empty, got %#v", got.Start)
	}
	if got.Finish != nil {
		t.Errorf("absent finish bound should decode as nil, got %#v", got.Finish)
	}
	if got.Owner != req.Owner || got.ColumnFamily != req.ColumnFamily || !bytes.Equal(got.PartitionKey, req.PartitionKey) {
		t.Errorf("partition fields differ: %+v", got.RangeRequest)
	}
	if got.Limit != 11 || !got.Reversed || got.AcceptCodec != CodecZstd {
		t.Errorf("scalar fields differ: limit=%d reversed=%t codec=%s", got.Limit, got.Reversed, got.AcceptCodec)
	}
}

func TestColumnsPreserveHighBitNames(t *testing.T) {
	cols := []store.Column{
		{Name: []byte{0x7f}, Value: []byte("a")},
		{Name: []byte{0xff, 0x00}, Value: nil},
	}

	got, err := UnmarshalColumns(MarshalColumns(cols))
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(got))
	}
	for i := range cols {
		if !bytes.Equal(got[i].Name, cols[i].Name) || !bytes.Equal(got[i].Value, cols[i].Value) {
			t.Errorf("column %d: expected %x=%x, got %x=%x", i, cols[i].Name, cols[i].Value, got[i].Name, got[i].Value)
		}
	}

	if cols, err := UnmarshalColumns(nil); err != nil || len(cols) != 0 {
		t.Errorf("expected empty list from empty body, got %v, %v", cols, err)
	}
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	m := &MutationRequest{Mutation: store.Mutation{
		ColumnFamily: "cf",
		PartitionKey: []byte("k"),
		Column:       store.Column{Name: []byte("c"), Value: []byte("v")},
	}}

	b := m.Marshal()
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)

	var got MutationRequest
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unknown field broke decoding: %v", err)
	}
	if string(got.Column.Name) != "c" || string(got.Column.Value) != "v" {
		t.Errorf("unexpected column %q=%q", got.Column.Name, got.Column.Value)
	}
}

func TestMalformedPayload(t *testing.T) {
	var req ReadRangeRequest

	// bytes field announcing more data than present
	b := protowire.AppendTag(nil, fieldPartitionKey, protowire.BytesType)
	b = protowire.AppendVarint(b, 10)
	if err := req.Unmarshal(b); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for truncated bytes, got %v", err)
	}

	// wrong wire type for limit
	b = protowire.AppendTag(nil, fieldLimit, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("x"))
	if err := req.Unmarshal(b); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for wrong wire type, got %v", err)
	}

	// owner must be 16 bytes
	b = protowire.AppendTag(nil, fieldOwner, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{1, 2, 3})
	if err := req.Unmarshal(b); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for short owner, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	tests := map[string]Codec{"": CodecNone, "none": CodecNone, "ZSTD": CodecZstd, "snappy": CodecSnappy}
	for name, want := range tests {
		got, err := ParseCodec(name)
		if err != nil || got != want {
			t.Errorf("ParseCodec(%q) = %s, %v; want %s", name, got, err, want)
		}
	}
	if _, err := ParseCodec("lz4"); err == nil {
		t.Error("expected an error for an unknown codec")
	}
	if Codec(7).String() != "Codec(7)" {
		t.Errorf("unexpected name for unknown codec: %s", Codec(7))
	}
}
