// Package bolt implements a persistent store.Store on a bolt database.
//
// Layout: one top-level bolt bucket per owner, a nested bucket per column
// family, and inside it a nested bucket per partition key holding the columns.
// Bolt orders keys with bytes.Compare, which matches store.CompareUnsigned.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/gofrs/flock"

	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/store"
)

const (
	// DefaultFileName is the database file created inside the data directory
	DefaultFileName = "bucketscan.db"
	lockFileName    = "LOCK"
)

// ErrLocked is returned when another process holds the data directory
var ErrLocked = errors.New("data directory is locked by another process")

// Options configures Open.
type Options struct {
	// Timeout bounds how long to wait for bolt's own file lock
	Timeout time.Duration
	// NoSync skips fsync after each commit; only safe for tests
	NoSync bool
	Logger log.Logger
}

// Store is a bolt-backed store.Store.
type Store struct {
	db     *bolt.DB
	lock   *flock.Flock
	dir    string
	logger log.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the store in dir.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(filepath.Join(dir, DefaultFileName), 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	db.NoSync = opts.NoSync

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.WithField("engine", "bolt")
	logger.Info("opened store at %s", dir)

	return &Store{
		db:     db,
		lock:   lock,
		dir:    dir,
		logger: logger,
	}, nil
}

// partitionBucket walks owner -> column family -> partition key.
func partitionBucket(tx *bolt.Tx, owner, cf string, key []byte) *bolt.Bucket {
	ob := tx.Bucket([]byte(owner))
	if ob == nil {
		return nil
	}
	cb := ob.Bucket([]byte(cf))
	if cb == nil {
		return nil
	}
	return cb.Bucket(key)
}

func createPartitionBucket(tx *bolt.Tx, owner, cf string, key []byte) (*bolt.Bucket, error) {
	ob, err := tx.CreateBucketIfNotExists([]byte(owner))
	if err != nil {
		return nil, err
	}
	cb, err := ob.CreateBucketIfNotExists([]byte(cf))
	if err != nil {
		return nil, err
	}
	return cb.CreateBucketIfNotExists(key)
}

func copyColumn(k, v []byte) store.Column {
	// bolt slices are only valid for the life of the transaction
	return store.CloneColumn(store.Column{Name: k, Value: v})
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

	result := make([]store.Column, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := partitionBucket(tx, req.Owner.String(), req.ColumnFamily, req.PartitionKey)
		if b == nil {
			return nil
		}
		c := b.Cursor()

		if !req.Reversed {
			var k, v []byte
			if req.Start == nil {
				k, v = c.First()
			} else {
				k, v = c.Seek(req.Start)
			}
			for ; k != nil && len(result) < req.Limit; k, v = c.Next() {
				if req.Finish != nil && store.CompareUnsigned(k, req.Finish) > 0 {
					break
				}
				result = append(result, copyColumn(k, v))
			}
			return nil
		}

		var k, v []byte
		if req.Start == nil {
			k, v = c.Last()
		} else {
			k, v = c.Seek(req.Start)
			if k == nil {
				k, v = c.Last()
			} else if store.CompareUnsigned(k, req.Start) > 0 {
				k, v = c.Prev()
			}
		}
		for ; k != nil && len(result) < req.Limit; k, v = c.Prev() {
			if req.Finish != nil && store.CompareUnsigned(k, req.Finish) < 0 {
				break
			}
			result = append(result, copyColumn(k, v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt range read: %w", err)
	}

	return result, nil
}

// Put inserts or replaces a column.
func (s *Store) Put(ctx context.Context, m store.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := createPartitionBucket(tx, m.Owner.String(), m.ColumnFamily, m.PartitionKey)
		if err != nil {
			return err
		}
		value := m.Column.Value
		if value == nil {
			value = []byte{}
		}
		return b.Put(m.Column.Name, value)
	})
	if err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

// Delete removes a column, dropping the partition bucket once it is empty.
func (s *Store) Delete(ctx context.Context, m store.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := partitionBucket(tx, m.Owner.String(), m.ColumnFamily, m.PartitionKey)
		if b == nil {
			return nil
		}
		if err := b.Delete(m.Column.Name); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return tx.Bucket([]byte(m.Owner.String())).Bucket([]byte(m.ColumnFamily)).DeleteBucket(m.PartitionKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

// Stats reports the number of partitions and columns held.
func (s *Store) Stats() map[string]interface{} {
	stats := map[string]interface{}{"engine": "bolt", "path": s.dir}

	partitions, columns := 0, 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, ob *bolt.Bucket) error {
			return ob.ForEach(func(cfName, _ []byte) error {
				cb := ob.Bucket(cfName)
				if cb == nil {
					return nil
				}
				return cb.ForEach(func(pk, _ []byte) error {
					if pb := cb.Bucket(pk); pb != nil {
						partitions++
						columns += pb.Stats().KeyN
					}
					return nil
				})
			})
		})
	})
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}

	stats["partitions"] = partitions
	stats["columns"] = columns
	return stats
}

// Close closes the database and releases the directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bolt database: %w", err))
	}
	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock data dir: %w", err))
	}
	s.logger.Info("closed store")
	return errors.Join(errs...)
}
