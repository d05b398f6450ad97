// Package store defines the storage client contract the bucket scanner reads
// through, plus helpers shared by the store implementations.
//
// A store holds wide rows: each partition key (scoped by owner and column family)
// maps to an ordered set of columns. Column names are ordered as unsigned byte
// strings.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest is returned for malformed read or write requests
	ErrInvalidRequest = errors.New("invalid store request")
	// ErrClosed is returned when operations are performed on a closed store
	ErrClosed = errors.New("store is closed")
)

// Column is one (name, value) entry of a wide row.
type Column struct {
	Name  []byte
	Value []byte
}

// RangeRequest describes one bounded range read against a single partition.
//
// Both bounds are inclusive. A nil bound is unbounded in that direction. For a
// reversed read Start is the upper bound and Finish the lower one, and columns
// come back in descending order.
type RangeRequest struct {
	Owner        uuid.UUID
	ColumnFamily string
	PartitionKey []byte
	Start        []byte
	Finish       []byte
	Limit        int
	Reversed     bool
}

// Validate checks the request for missing fields.
func (r RangeRequest) Validate() error {
	if r.ColumnFamily == "" {
		return fmt.Errorf("%w: column family not specified", ErrInvalidRequest)
	}
	if len(r.PartitionKey) == 0 {
		return fmt.Errorf("%w: partition key not specified", ErrInvalidRequest)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, r.Limit)
	}
	return nil
}

// InRange reports whether name lies between the request bounds.
func (r RangeRequest) InRange(name []byte) bool {
	lower, upper := r.Start, r.Finish
	if r.Reversed {
		lower, upper = r.Finish, r.Start
	}
	if lower != nil && CompareUnsigned(name, lower) < 0 {
		return false
	}
	if upper != nil && CompareUnsigned(name, upper) > 0 {
		return false
	}
	return true
}

// Mutation identifies a single column write or delete.
type Mutation struct {
	Owner        uuid.UUID
	ColumnFamily string
	PartitionKey []byte
	Column       Column
}

// Validate checks the mutation for missing fields.
func (m Mutation) Validate() error {
	if m.ColumnFamily == "" {
		return fmt.Errorf("%w: column family not specified", ErrInvalidRequest)
	}
	if len(m.PartitionKey) == 0 {
		return fmt.Errorf("%w: partition key not specified", ErrInvalidRequest)
	}
	if len(m.Column.Name) == 0 {
		return fmt.Errorf("%w: column name not specified", ErrInvalidRequest)
	}
	return nil
}

// RangeReader executes a single bounded range read against one partition.
type RangeReader interface {
	ReadRange(ctx context.Context, req RangeRequest) ([]Column, error)
}

// Writer stores and removes columns.
type Writer interface {
	Put(ctx context.Context, m Mutation) error
	// Delete removes the column named by m.Column.Name. Deleting a missing
	// column is not an error.
	Delete(ctx context.Context, m Mutation) error
}

// Store is a readable, writable store that must be closed after use.
type Store interface {
	RangeReader
	Writer
	Close() error
}

// CompareUnsigned compares two keys as unsigned byte strings, returning -1, 0
// or +1. A byte of 0xFF sorts after 0x7F.
func CompareUnsigned(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CloneColumn returns a deep copy of c.
func CloneColumn(c Column) Column {
	return Column{
		Name:  bytes.Clone(c.Name),
		Value: bytes.Clone(c.Value),
	}
}
