// Package bucket builds physical partition keys for bucketed rows and picks
// the bucket an entity is written to.
//
// A large logical row is split over a fixed set of buckets so that no single
// partition becomes a hot spot. Readers scan each bucket independently.
package bucket

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Separator joins the parts of a partition key.
const Separator = ':'

// ErrInvalidBucketCount is returned by NewLocator for a non-positive count
var ErrInvalidBucketCount = errors.New("bucket count must be positive")

// Key joins parts into a partition key, usually (prefix..., bucketID).
// UUIDs are written in canonical form, byte slices raw, strings as is and
// anything else with fmt's %v.
func Key(parts ...any) []byte {
	var buf bytes.Buffer
	for i, part := range parts {
		if i > 0 {
			buf.WriteByte(Separator)
		}
		switch p := part.(type) {
		case []byte:
			buf.Write(p)
		case string:
			buf.WriteString(p)
		case uuid.UUID:
			buf.WriteString(p.String())
		case fmt.Stringer:
			buf.WriteString(p.String())
		default:
			fmt.Fprintf(&buf, "%v", p)
		}
	}
	return buf.Bytes()
}

// Locator maps entities onto a fixed number of buckets.
type Locator struct {
	count   int
	buckets []string
}

// NewLocator creates a locator over count buckets named "000", "001", ...
func NewLocator(count int) (*Locator, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBucketCount, count)
	}

	width := len(fmt.Sprint(count - 1))
	if width < 3 {
		width = 3
	}

	buckets := make([]string, count)
	for i := range buckets {
		buckets[i] = fmt.Sprintf("%0*d", width, i)
	}

	return &Locator{count: count, buckets: buckets}, nil
}

// Bucket returns the bucket id the entity belongs to. The choice is stable
// for a given id and bucket count.
func (l *Locator) Bucket(id uuid.UUID) string {
	return l.buckets[l.index(id[:])]
}

// BucketForKey is Bucket for arbitrary byte keys.
func (l *Locator) BucketForKey(key []byte) string {
	return l.buckets[l.index(key)]
}

func (l *Locator) index(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(l.count))
}

// Buckets returns every bucket id in order. Callers must not modify it.
func (l *Locator) Buckets() []string {
	return l.buckets
}

// Count returns the number of buckets.
func (l *Locator) Count() int {
	return l.count
}
