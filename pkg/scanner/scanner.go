// Package scanner pages through one bucket of a bucketed wide row.
//
// A BucketScanner issues bounded range reads against a single partition and
// hands the results back one page at a time. Every read asks for one column
// more than the page size: the extra column tells the scanner whether more
// data exists and becomes the start bound of the following read. Because range
// bounds are inclusive, that column comes back again at the head of the next
// read and is dropped there, so each column is delivered exactly once.
//
// Iteration follows the HasNext / Next / Err pattern:
//
//	for s.HasNext(ctx) {
//		page := s.Next()
//		...
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
//
// HasNext is idempotent: it reports true while a non-empty page is buffered,
// and only fetches when nothing is buffered. A scanner is not safe for
// concurrent use.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/bucketscan/pkg/bucket"
	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/store"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// StartSerializer converts a typed start or finish value into its
// order-preserving binary form. A nil result means unbounded.
type StartSerializer[T any] interface {
	ToBytes(value T) []byte
}

// PageScanner is the iteration surface shared by page-at-a-time scanners.
type PageScanner interface {
	// Reset returns the scanner to its initial state without any I/O.
	Reset()
	// HasNext reports whether Next will return a non-empty page, fetching
	// one if nothing is buffered.
	HasNext(ctx context.Context) bool
	// Next returns the buffered page and clears the buffer.
	Next() []store.Column
	// Err returns the error that stopped iteration, if any.
	Err() error
	// PageSize returns the number of columns requested per read.
	PageSize() int
	// IsReversed reports the scan direction.
	IsReversed() bool
}

// State describes where a scanner is in its iteration.
type State int

const (
	// StateIdle means nothing is buffered and more data may remain
	StateIdle State = iota
	// StateBuffered means a non-empty page waits for Next
	StateBuffered
	// StateExhausted means the last read came back short; only Reset leaves it
	StateExhausted
	// StateFailed means HasNext hit a storage error; only Reset leaves it
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffered:
		return "buffered"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a BucketScanner. Start and Finish are optional; nil
// means unbounded in that direction.
type Options[T any] struct {
	// Reader executes range reads; required
	Reader store.RangeReader
	// ColumnFamily names the table holding the bucketed row; required
	ColumnFamily string
	// Serializer converts Start and Finish to bytes; required
	Serializer StartSerializer[T]
	// Owner is the entity that owns the row (its keyspace)
	Owner uuid.UUID
	// KeyPrefix is combined with Bucket by bucket.Key to form the partition key
	KeyPrefix any
	Bucket    string

	Start  *T
	Finish *T

	Reversed bool
	// PageSize is the number of columns the caller wants per page; must be > 0
	PageSize int
	// SkipFirst marks Start as an already-delivered column (a resumed cursor).
	// A read that begins on an existing column never returns it, so Start is
	// not delivered either way.
	SkipFirst bool

	Logger    log.Logger
	Telemetry telemetry.Telemetry
}

// BucketScanner pages through one bucket. See the package documentation.
type BucketScanner[T any] struct {
	reader       store.RangeReader
	columnFamily string
	serializer   StartSerializer[T]
	owner        uuid.UUID
	partitionKey []byte
	bucket       string
	finish       []byte
	reversed     bool
	pageSize     int
	skipFirst    bool

	initialStart *T

	// cursor is the start bound of the next read
	cursor  []byte
	hasMore bool

	page     []store.Column
	buffered bool
	err      error

	logger  log.Logger
	tel     telemetry.Telemetry
	metrics Metrics
}

var _ PageScanner = (*BucketScanner[[]byte])(nil)

// New creates a scanner. It performs no I/O.
func New[T any](opts Options[T]) (*BucketScanner[T], error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("%w: reader is required", ErrInvalidOptions)
	}
	if opts.Serializer == nil {
		return nil, fmt.Errorf("%w: serializer is required", ErrInvalidOptions)
	}
	if opts.ColumnFamily == "" {
		return nil, fmt.Errorf("%w: column family is required", ErrInvalidOptions)
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidOptions, opts.PageSize)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.NewNoop()
	}

	s := &BucketScanner[T]{
		reader:       opts.Reader,
		columnFamily: opts.ColumnFamily,
		serializer:   opts.Serializer,
		owner:        opts.Owner,
		partitionKey: partitionKey(opts.KeyPrefix, opts.Bucket),
		bucket:       opts.Bucket,
		reversed:     opts.Reversed,
		// one extra column to detect whether another page exists
		pageSize:     opts.PageSize + 1,
		skipFirst:    opts.SkipFirst,
		initialStart: opts.Start,
		finish:       serialize(opts.Serializer, opts.Finish),
		logger: logger.WithFields(map[string]interface{}{
			"cf":     opts.ColumnFamily,
			"bucket": opts.Bucket,
		}),
		tel:     tel,
		metrics: NewMetrics(opts.Telemetry, opts.ColumnFamily, opts.Reversed),
	}
	s.Reset()

	return s, nil
}

func partitionKey(prefix any, bucketID string) []byte {
	if prefix == nil {
		return bucket.Key(bucketID)
	}
	return bucket.Key(prefix, bucketID)
}

func serialize[T any](ser StartSerializer[T], value *T) []byte {
	if value == nil {
		return nil
	}
	return ser.ToBytes(*value)
}

// Reset returns the scanner to its just-constructed state. It is idempotent.
func (s *BucketScanner[T]) Reset() {
	s.hasMore = true
	s.cursor = serialize(s.serializer, s.initialStart)
	s.page = nil
	s.buffered = false
	s.err = nil
}

// Load fetches the next page into the buffer, replacing anything buffered.
// It returns true if the page holds at least one column. Once a read comes
// back short Load returns false without touching the store.
//
// On error the cursor, end-of-stream flag and buffer are left as they were,
// so Load can simply be called again.
func (s *BucketScanner[T]) Load(ctx context.Context) (bool, error) {
	if !s.hasMore {
		return false, nil
	}

	cursor := s.cursor

	// Any read that starts from a cursor may return that cursor's column first.
	checkFirst := (s.skipFirst && s.initialStart != nil) || cursor != nil

	ctx, span := s.tel.StartSpan(ctx, "bucketscan.scanner.load",
		attribute.String(telemetry.AttrColumnFamily, s.columnFamily),
		attribute.String(telemetry.AttrBucket, s.bucket),
	)
	defer span.End()

	began := time.Now()
	cols, err := s.reader.ReadRange(ctx, store.RangeRequest{
		Owner:        s.owner,
		ColumnFamily: s.columnFamily,
		PartitionKey: s.partitionKey,
		Start:        cursor,
		Finish:       s.finish,
		Limit:        s.pageSize,
		Reversed:     s.reversed,
	})
	if err != nil {
		s.metrics.RecordLoad(ctx, time.Since(began), s.pageSize, 0, false, err)
		span.RecordError(err)
		s.logger.Warn("range read failed: %v", err)
		return false, fmt.Errorf("%w: cf %s bucket %s: %w", ErrScanFailed, s.columnFamily, s.bucket, err)
	}

	returned := len(cols)

	// The size check must see the raw result, before any trimming.
	if returned == s.pageSize {
		s.hasMore = true
		s.cursor = bytes.Clone(cols[returned-1].Name)
	} else {
		s.hasMore = false
	}

	// Drop the head only when it is byte-for-byte the column the read started
	// at. A resumed cursor may have been deleted, in which case the head is a
	// column the caller has not seen.
	trimmed := false
	if checkFirst && returned > 0 && cursor != nil && store.CompareUnsigned(cols[0].Name, cursor) == 0 {
		cols = cols[1:]
		trimmed = true
	}

	s.page = cols
	s.buffered = true

	s.metrics.RecordLoad(ctx, time.Since(began), s.pageSize, returned, trimmed, nil)
	s.logger.Debug("loaded %d columns (trimmed=%t, more=%t)", returned, trimmed, s.hasMore)

	return len(s.page) > 0, nil
}

// HasNext reports whether a call to Next will return a non-empty page. If no
// page is buffered and more data may remain it performs one Load. A load
// failure ends iteration; it is reported by Err until Reset.
func (s *BucketScanner[T]) HasNext(ctx context.Context) bool {
	if s.buffered && len(s.page) > 0 {
		return true
	}
	if s.err != nil || !s.hasMore {
		return false
	}

	ok, err := s.Load(ctx)
	if err != nil {
		s.err = err
		return false
	}
	return ok
}

// Next returns the buffered page and clears the buffer. It never fetches;
// without a preceding successful HasNext or Load it returns nil.
func (s *BucketScanner[T]) Next() []store.Column {
	page := s.page
	s.page = nil
	s.buffered = false

	if len(page) == 0 {
		return nil
	}
	s.metrics.RecordPage(context.Background(), len(page))
	return page
}

// Err returns the error that ended iteration through HasNext.
func (s *BucketScanner[T]) Err() error {
	return s.err
}

// Pages returns the remaining pages as a range-over-func sequence. A storage
// failure is yielded once as the final element.
func (s *BucketScanner[T]) Pages(ctx context.Context) iter.Seq2[[]store.Column, error] {
	return func(yield func([]store.Column, error) bool) {
		for s.HasNext(ctx) {
			if !yield(s.Next(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// PageSize returns the number of columns requested from the store per read,
// which is one more than the page size given in Options.
func (s *BucketScanner[T]) PageSize() int {
	return s.pageSize
}

// RequestedPageSize returns the page size given in Options.
func (s *BucketScanner[T]) RequestedPageSize() int {
	return s.pageSize - 1
}

// IsReversed reports whether the scan walks the bucket in descending order.
func (s *BucketScanner[T]) IsReversed() bool {
	return s.reversed
}

// Bucket returns the bucket id being scanned.
func (s *BucketScanner[T]) Bucket() string {
	return s.bucket
}

// PartitionKey returns the physical partition key read from.
func (s *BucketScanner[T]) PartitionKey() []byte {
	return bytes.Clone(s.partitionKey)
}

// Cursor returns a copy of the start bound the next read will use.
func (s *BucketScanner[T]) Cursor() []byte {
	return bytes.Clone(s.cursor)
}

// State reports the scanner's iteration state.
func (s *BucketScanner[T]) State() State {
	switch {
	case s.err != nil:
		return StateFailed
	case s.buffered && len(s.page) > 0:
		return StateBuffered
	case !s.hasMore:
		return StateExhausted
	default:
		return StateIdle
	}
}
