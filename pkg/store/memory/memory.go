// Package memory implements an in-process store.Store on B-trees.
package memory

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/KevoDB/bucketscan/pkg/store"
)

// degree of each partition's B-tree
const treeDegree = 16

type partitionID struct {
	owner        uuid.UUID
	columnFamily string
	key          string
}

func lessColumn(a, b store.Column) bool {
	return store.CompareUnsigned(a.Name, b.Name) < 0
}

// Store keeps every partition in its own B-tree ordered by column name.
// It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	partitions map[partitionID]*btree.BTreeG[store.Column]
	closed     bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		partitions: make(map[partitionID]*btree.BTreeG[store.Column]),
	}
}

func newPartitionID(owner uuid.UUID, cf string, key []byte) partitionID {
	return partitionID{owner: owner, columnFamily: cf, key: string(key)}
}

// ReadRange returns up to req.Limit columns between the request bounds.
func (s *Store) ReadRange(ctx context.Context, req store.RangeRequest) ([]store.Column, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	tree, ok := s.partitions[newPartitionID(req.Owner, req.ColumnFamily, req.PartitionKey)]
	if !ok {
		return []store.Column{}, nil
	}

	result := make([]store.Column, 0, min(req.Limit, tree.Len()))

	if !req.Reversed {
		visit := func(c store.Column) bool {
			if req.Finish != nil && store.CompareUnsigned(c.Name, req.Finish) > 0 {
				return false
			}
			result = append(result, store.CloneColumn(c))
			return len(result) < req.Limit
		}
		if req.Start == nil {
			tree.Ascend(visit)
		} else {
			tree.AscendGreaterOrEqual(store.Column{Name: req.Start}, visit)
		}
		return result, nil
	}

	visit := func(c store.Column) bool {
		if req.Finish != nil && store.CompareUnsigned(c.Name, req.Finish) < 0 {
			return false
		}
		result = append(result, store.CloneColumn(c))
		return len(result) < req.Limit
	}
	if req.Start == nil {
		tree.Descend(visit)
	} else {
		tree.DescendLessOrEqual(store.Column{Name: req.Start}, visit)
	}
	return result, nil
}

// Put inserts or replaces a column.
func (s *Store) Put(ctx context.Context, m store.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	id := newPartitionID(m.Owner, m.ColumnFamily, m.PartitionKey)
	tree, ok := s.partitions[id]
	if !ok {
		tree = btree.NewG(treeDegree, lessColumn)
		s.partitions[id] = tree
	}
	tree.ReplaceOrInsert(store.CloneColumn(m.Column))
	return nil
}

// Delete removes a column. Empty partitions are dropped.
func (s *Store) Delete(ctx context.Context, m store.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	id := newPartitionID(m.Owner, m.ColumnFamily, m.PartitionKey)
	tree, ok := s.partitions[id]
	if !ok {
		return nil
	}
	tree.Delete(store.Column{Name: m.Column.Name})
	if tree.Len() == 0 {
		delete(s.partitions, id)
	}
	return nil
}

// Stats reports partition and column counts.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	columns := 0
	for _, tree := range s.partitions {
		columns += tree.Len()
	}
	return map[string]interface{}{
		"engine":     "memory",
		"partitions": len(s.partitions),
		"columns":    columns,
	}
}

// Close releases the store. Later calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.partitions = nil
	return nil
}
