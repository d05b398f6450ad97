// Package storetest provides a conformance suite that every store.Store
// implementation runs from its own tests.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/KevoDB/bucketscan/pkg/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

const (
	columnFamily = "Entity_Index"
)

var (
	owner      = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	otherOwner = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
	partition  = []byte("users:idx:0")
)

// Run executes the full conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ForwardRange", func(t *testing.T) { testForwardRange(t, newStore) })
	t.Run("ReverseRange", func(t *testing.T) { testReverseRange(t, newStore) })
	t.Run("Limit", func(t *testing.T) { testLimit(t, newStore) })
	t.Run("UnsignedOrder", func(t *testing.T) { testUnsignedOrder(t, newStore) })
	t.Run("PartitionIsolation", func(t *testing.T) { testPartitionIsolation(t, newStore) })
	t.Run("OverwriteAndDelete", func(t *testing.T) { testOverwriteAndDelete(t, newStore) })
	t.Run("MissingPartition", func(t *testing.T) { testMissingPartition(t, newStore) })
	t.Run("InvalidRequest", func(t *testing.T) { testInvalidRequest(t, newStore) })
}

// Seed writes one column per name with value "v-<name>".
func Seed(t *testing.T, s store.Writer, owner uuid.UUID, cf string, key []byte, names ...string) {
	t.Helper()
	for _, name := range names {
		err := s.Put(context.Background(), store.Mutation{
			Owner:        owner,
			ColumnFamily: cf,
			PartitionKey: key,
			Column:       store.Column{Name: []byte(name), Value: []byte("v-" + name)},
		})
		if err != nil {
			t.Fatalf("failed to seed column %q: %v", name, err)
		}
	}
}

// Names extracts column names as strings.
func Names(cols []store.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = string(c.Name)
	}
	return names
}

func read(t *testing.T, s store.RangeReader, start, finish []byte, limit int, reversed bool) []store.Column {
	t.Helper()
	cols, err := s.ReadRange(context.Background(), store.RangeRequest{
		Owner:        owner,
		ColumnFamily: columnFamily,
		PartitionKey: partition,
		Start:        start,
		Finish:       finish,
		Limit:        limit,
		Reversed:     reversed,
	})
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	return cols
}

func expectNames(t *testing.T, got []store.Column, want ...string) {
	t.Helper()
	names := Names(got)
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
}

func open(t *testing.T, newStore Factory) store.Store {
	s := newStore(t)
	t.Cleanup(func() { s.Close() })
	return s
}

func testForwardRange(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	Seed(t, s, owner, columnFamily, partition, "a", "b", "c", "d", "e")

	expectNames(t, read(t, s, nil, nil, 10, false), "a", "b", "c", "d", "e")
	expectNames(t, read(t, s, []byte("b"), []byte("d"), 10, false), "b", "c", "d")
	expectNames(t, read(t, s, []byte("bb"), nil, 10, false), "c", "d", "e")
	expectNames(t, read(t, s, nil, []byte("b"), 10, false), "a", "b")

	cols := read(t, s, []byte("c"), []byte("c"), 10, false)
	expectNames(t, cols, "c")
	if !bytes.Equal(cols[0].Value, []byte("v-c")) {
		t.Errorf("expected value v-c, got %q", cols[0].Value)
	}
}

func testReverseRange(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	Seed(t, s, owner, columnFamily, partition, "a", "b", "c", "d", "e")

	expectNames(t, read(t, s, nil, nil, 10, true), "e", "d", "c", "b", "a")
	expectNames(t, read(t, s, []byte("d"), []byte("b"), 10, true), "d", "c", "b")
	expectNames(t, read(t, s, []byte("cc"), nil, 10, true), "c", "b", "a")
	expectNames(t, read(t, s, []byte("zz"), []byte("d"), 10, true), "e", "d")
	expectNames(t, read(t, s, nil, []byte("d"), 10, true), "e", "d")
}

func testLimit(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	Seed(t, s, owner, columnFamily, partition, "a", "b", "c", "d", "e")

	expectNames(t, read(t, s, nil, nil, 3, false), "a", "b", "c")
	expectNames(t, read(t, s, []byte("c"), nil, 3, false), "c", "d", "e")
	expectNames(t, read(t, s, []byte("e"), nil, 3, false), "e")
	expectNames(t, read(t, s, nil, nil, 2, true), "e", "d")
}

func testUnsignedOrder(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	Seed(t, s, owner, columnFamily, partition, "\x01", "\x7f", "\x80", "\xff")

	cols := read(t, s, nil, nil, 10, false)
	want := [][]byte{{0x01}, {0x7f}, {0x80}, {0xff}}
	if len(cols) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(cols))
	}
	for i := range want {
		if !bytes.Equal(cols[i].Name, want[i]) {
			t.Errorf("position %d: expected %x, got %x", i, want[i], cols[i].Name)
		}
	}

	cols = read(t, s, []byte{0x80}, nil, 10, false)
	if len(cols) != 2 || cols[0].Name[0] != 0x80 || cols[1].Name[0] != 0xff {
		t.Errorf("expected [80 ff] from 0x80, got %x", Names(cols))
	}
}

func testPartitionIsolation(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	Seed(t, s, owner, columnFamily, partition, "a", "b")
	Seed(t, s, owner, columnFamily, []byte("users:idx:1"), "x")
	Seed(t, s, owner, "Other_CF", partition, "y")
	Seed(t, s, otherOwner, columnFamily, partition, "z")

	expectNames(t, read(t, s, nil, nil, 10, false), "a", "b")
}

func testOverwriteAndDelete(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	Seed(t, s, owner, columnFamily, partition, "a", "b", "c")

	ctx := context.Background()
	m := store.Mutation{
		Owner:        owner,
		ColumnFamily: columnFamily,
		PartitionKey: partition,
		Column:       store.Column{Name: []byte("b"), Value: []byte("updated")},
	}
	if err := s.Put(ctx, m); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cols := read(t, s, []byte("b"), []byte("b"), 1, false)
	if len(cols) != 1 || string(cols[0].Value) != "updated" {
		t.Fatalf("expected overwritten value, got %v", cols)
	}

	if err := s.Delete(ctx, m); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	expectNames(t, read(t, s, nil, nil, 10, false), "a", "c")

	// deleting again is not an error
	if err := s.Delete(ctx, m); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}

func testMissingPartition(t *testing.T, newStore Factory) {
	s := open(t, newStore)

	cols := read(t, s, nil, nil, 10, false)
	if len(cols) != 0 {
		t.Errorf("expected no columns, got %v", Names(cols))
	}
}

func testInvalidRequest(t *testing.T, newStore Factory) {
	s := open(t, newStore)

	_, err := s.ReadRange(context.Background(), store.RangeRequest{
		Owner:        owner,
		ColumnFamily: columnFamily,
		PartitionKey: partition,
		Limit:        0,
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for zero limit, got %v", err)
	}

	err = s.Put(context.Background(), store.Mutation{Owner: owner, ColumnFamily: columnFamily})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for empty partition key, got %v", err)
	}
}
