package scanner

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/bucketscan/pkg/serializer"
	"github.com/KevoDB/bucketscan/pkg/store"
	"github.com/KevoDB/bucketscan/pkg/store/memory"
	"github.com/KevoDB/bucketscan/pkg/store/storetest"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

const testCF = "Entity_Index"

var (
	testOwner  = uuid.MustParse("0b5a3c52-6f0e-4c3a-9d6e-2f1d7c8b9a10")
	testPrefix = "users:idx"
	testBucket = "007"
	testKey    = []byte("users:idx:007")
)

// recordingReader wraps a store and records every request it sees. It can be
// told to fail the next N reads.
type recordingReader struct {
	inner    store.RangeReader
	requests []store.RangeRequest
	failures int
	failErr  error
}

func (r *recordingReader) ReadRange(ctx context.Context, req store.RangeRequest) ([]store.Column, error) {
	r.requests = append(r.requests, req)
	if r.failures > 0 {
		r.failures--
		return nil, r.failErr
	}
	return r.inner.ReadRange(ctx, req)
}

func setup(t *testing.T, names ...string) (*memory.Store, *recordingReader) {
	t.Helper()
	s := memory.New()
	t.Cleanup(func() { s.Close() })
	storetest.Seed(t, s, testOwner, testCF, testKey, names...)
	return s, &recordingReader{inner: s}
}

func newStringScanner(t *testing.T, reader store.RangeReader, pageSize int, mutate ...func(*Options[string])) *BucketScanner[string] {
	t.Helper()
	opts := Options[string]{
		Reader:       reader,
		ColumnFamily: testCF,
		Serializer:   serializer.String{},
		Owner:        testOwner,
		KeyPrefix:    testPrefix,
		Bucket:       testBucket,
		PageSize:     pageSize,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}
	return s
}

func collect(t *testing.T, s PageScanner) [][]string {
	t.Helper()
	ctx := context.Background()
	var pages [][]string
	for s.HasNext(ctx) {
		pages = append(pages, storetest.Names(s.Next()))
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	return pages
}

func expectPages(t *testing.T, got [][]string, want ...[]string) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected pages %v, got %v", want, got)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	reader := &recordingReader{inner: memory.New()}

	tests := []struct {
		name   string
		mutate func(*Options[string])
	}{
		{"missing reader", func(o *Options[string]) { o.Reader = nil }},
		{"missing serializer", func(o *Options[string]) { o.Serializer = nil }},
		{"missing column family", func(o *Options[string]) { o.ColumnFamily = "" }},
		{"zero page size", func(o *Options[string]) { o.PageSize = 0 }},
		{"negative page size", func(o *Options[string]) { o.PageSize = -3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options[string]{
				Reader:       reader,
				ColumnFamily: testCF,
				Serializer:   serializer.String{},
				Bucket:       testBucket,
				PageSize:     10,
			}
			tt.mutate(&opts)

			if _, err := New(opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}

	if len(reader.requests) != 0 {
		t.Errorf("construction must not read, saw %d requests", len(reader.requests))
	}
}

func TestPageSizeIncludesLookahead(t *testing.T) {
	_, reader := setup(t, "A")
	s := newStringScanner(t, reader, 10)

	if s.PageSize() != 11 {
		t.Errorf("expected page size 11, got %d", s.PageSize())
	}
	if s.RequestedPageSize() != 10 {
		t.Errorf("expected requested page size 10, got %d", s.RequestedPageSize())
	}
	if s.IsReversed() {
		t.Error("expected a forward scanner")
	}

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := reader.requests[0].Limit; got != 11 {
		t.Errorf("expected read limit 11, got %d", got)
	}
}

func TestScanDeliversEveryColumnOnce(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 2)

	ctx := context.Background()

	if !s.HasNext(ctx) {
		t.Fatal("expected a first page")
	}
	// HasNext is idempotent while a page is buffered
	if !s.HasNext(ctx) {
		t.Fatal("second HasNext should still report the buffered page")
	}
	if len(reader.requests) != 1 {
		t.Fatalf("expected 1 read after repeated HasNext, got %d", len(reader.requests))
	}

	expectPages(t, [][]string{storetest.Names(s.Next())}, []string{"A", "B", "C"})

	if !bytes.Equal(s.Cursor(), []byte("C")) {
		t.Errorf("expected cursor C, got %q", s.Cursor())
	}

	if !s.HasNext(ctx) {
		t.Fatal("expected a second page")
	}
	expectPages(t, [][]string{storetest.Names(s.Next())}, []string{"D", "E"})

	if s.HasNext(ctx) {
		t.Fatal("expected the scan to be exhausted")
	}
	if len(reader.requests) != 3 {
		t.Errorf("expected 3 reads, got %d", len(reader.requests))
	}

	starts := []string{"", "C", "E"}
	for i, req := range reader.requests {
		if string(req.Start) != starts[i] {
			t.Errorf("read %d: expected start %q, got %q", i, starts[i], req.Start)
		}
	}
	if reader.requests[0].Start != nil {
		t.Error("first read should be unbounded")
	}

	// Exhausted scanners never touch the store again
	if s.HasNext(ctx) {
		t.Error("exhausted scanner reported more data")
	}
	if ok, err := s.Load(ctx); ok || err != nil {
		t.Errorf("expected (false, nil) from exhausted Load, got (%t, %v)", ok, err)
	}
	if len(reader.requests) != 3 {
		t.Errorf("exhausted scanner issued reads: %d", len(reader.requests))
	}
	if s.State() != StateExhausted {
		t.Errorf("expected exhausted state, got %s", s.State())
	}
}

func TestShortFirstReadTerminates(t *testing.T) {
	_, reader := setup(t, "A", "B")
	s := newStringScanner(t, reader, 5)

	expectPages(t, collect(t, s), []string{"A", "B"})

	if len(reader.requests) != 1 {
		t.Errorf("expected a single read, got %d", len(reader.requests))
	}
}

func TestEmptyRange(t *testing.T) {
	_, reader := setup(t, "A", "B")
	s := newStringScanner(t, reader, 3, func(o *Options[string]) {
		start, finish := "M", "Z"
		o.Start = &start
		o.Finish = &finish
	})

	if s.HasNext(context.Background()) {
		t.Fatal("expected no pages for an empty range")
	}
	if s.Next() != nil {
		t.Error("expected nil from Next on an empty scan")
	}
	if len(reader.requests) != 1 {
		t.Errorf("expected 1 read, got %d", len(reader.requests))
	}
}

func TestBoundsAndPartitionKey(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 10, func(o *Options[string]) {
		start, finish := "B", "D"
		o.Start = &start
		o.Finish = &finish
	})

	// the start column itself is dropped because the read begins on it
	expectPages(t, collect(t, s), []string{"C", "D"})

	req := reader.requests[0]
	if !bytes.Equal(req.PartitionKey, testKey) {
		t.Errorf("expected partition key %q, got %q", testKey, req.PartitionKey)
	}
	if !bytes.Equal(s.PartitionKey(), testKey) {
		t.Errorf("PartitionKey() returned %q", s.PartitionKey())
	}
	if string(req.Finish) != "D" {
		t.Errorf("expected finish D, got %q", req.Finish)
	}
	if req.Owner != testOwner || req.ColumnFamily != testCF {
		t.Errorf("unexpected owner/cf in request: %v %s", req.Owner, req.ColumnFamily)
	}
}

func TestPartitionKeyWithoutPrefix(t *testing.T) {
	s, err := New(Options[string]{
		Reader:       memory.New(),
		ColumnFamily: testCF,
		Serializer:   serializer.String{},
		Bucket:       "003",
		PageSize:     1,
	})
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}
	if got := string(s.PartitionKey()); got != "003" {
		t.Errorf("expected partition key 003, got %q", got)
	}
}

func TestDeletedCursorIsNotTrimmed(t *testing.T) {
	mem, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 2)
	ctx := context.Background()

	if !s.HasNext(ctx) {
		t.Fatal("expected a first page")
	}
	expectPages(t, [][]string{storetest.Names(s.Next())}, []string{"A", "B", "C"})

	// The cursor column disappears between reads
	err := mem.Delete(ctx, store.Mutation{
		Owner:        testOwner,
		ColumnFamily: testCF,
		PartitionKey: testKey,
		Column:       store.Column{Name: []byte("C")},
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if !s.HasNext(ctx) {
		t.Fatal("expected a second page")
	}
	expectPages(t, [][]string{storetest.Names(s.Next())}, []string{"D", "E"})

	if s.HasNext(ctx) {
		t.Error("expected exhaustion")
	}
}

func TestUnsignedBoundaryComparison(t *testing.T) {
	mem := memory.New()
	defer mem.Close()

	for _, name := range [][]byte{{0x01}, {0x7f}, {0xff}} {
		err := mem.Put(context.Background(), store.Mutation{
			Owner:        testOwner,
			ColumnFamily: testCF,
			PartitionKey: testKey,
			Column:       store.Column{Name: name, Value: []byte("v")},
		})
		if err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	s, err := New(Options[[]byte]{
		Reader:       mem,
		ColumnFamily: testCF,
		Serializer:   serializer.Bytes{},
		Owner:        testOwner,
		KeyPrefix:    testPrefix,
		Bucket:       testBucket,
		PageSize:     1,
	})
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	var got [][]byte
	for cols, err := range s.Pages(context.Background()) {
		if err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		for _, c := range cols {
			got = append(got, c.Name)
		}
	}

	want := [][]byte{{0x01}, {0x7f}, {0xff}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %x, got %x", want, got)
	}
}

func TestSkipFirst(t *testing.T) {
	start := "B"

	t.Run("enabled", func(t *testing.T) {
		_, reader := setup(t, "A", "B", "C", "D", "E")
		s := newStringScanner(t, reader, 2, func(o *Options[string]) {
			o.Start = &start
			o.SkipFirst = true
		})
		expectPages(t, collect(t, s), []string{"C", "D"}, []string{"E"})
	})

	t.Run("disabled", func(t *testing.T) {
		_, reader := setup(t, "A", "B", "C", "D", "E")
		s := newStringScanner(t, reader, 2, func(o *Options[string]) {
			o.Start = &start
		})
		expectPages(t, collect(t, s), []string{"C", "D"}, []string{"E"})
	})

	t.Run("missing start column", func(t *testing.T) {
		_, reader := setup(t, "A", "C", "D")
		s := newStringScanner(t, reader, 5, func(o *Options[string]) {
			o.Start = &start
			o.SkipFirst = true
		})
		expectPages(t, collect(t, s), []string{"C", "D"})
	})
}

func TestLoadFromStartDropsStartColumn(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	start := "B"
	s := newStringScanner(t, reader, 2, func(o *Options[string]) {
		o.Start = &start
	})

	ok, err := s.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a page, got ok=%t err=%v", ok, err)
	}
	expectPages(t, [][]string{storetest.Names(s.Next())}, []string{"C", "D"})

	if string(reader.requests[0].Start) != "B" {
		t.Errorf("expected the read to start at B, got %q", reader.requests[0].Start)
	}
}

func TestReversedScan(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 2, func(o *Options[string]) {
		o.Reversed = true
	})

	if !s.IsReversed() {
		t.Fatal("expected a reversed scanner")
	}

	expectPages(t, collect(t, s), []string{"E", "D", "C"}, []string{"B", "A"})

	for i, req := range reader.requests {
		if !req.Reversed {
			t.Errorf("read %d was not reversed", i)
		}
	}
}

func TestReversedScanWithBounds(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 1, func(o *Options[string]) {
		start, finish := "D", "B"
		o.Start = &start
		o.Finish = &finish
		o.Reversed = true
	})

	expectPages(t, collect(t, s), []string{"C"}, []string{"B"})
}

func TestResetIsIdempotent(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 2)

	first := collect(t, s)
	reads := len(reader.requests)

	s.Reset()
	s.Reset()
	if len(reader.requests) != reads {
		t.Error("Reset must not read")
	}
	if s.Cursor() != nil {
		t.Errorf("expected nil cursor after reset, got %q", s.Cursor())
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle state after reset, got %s", s.State())
	}

	second := collect(t, s)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("scan after reset differs: %v vs %v", first, second)
	}
}

func TestResetRestoresStart(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	start := "C"
	s := newStringScanner(t, reader, 1, func(o *Options[string]) {
		o.Start = &start
	})

	collect(t, s)
	s.Reset()

	if string(s.Cursor()) != "C" {
		t.Errorf("expected cursor C after reset, got %q", s.Cursor())
	}
}

func TestLoadFailureLeavesStateUntouched(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 2)
	ctx := context.Background()

	if _, err := s.Load(ctx); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	page := storetest.Names(s.Next())
	expectPages(t, [][]string{page}, []string{"A", "B", "C"})

	cause := errors.New("coordinator timeout")
	reader.failures = 1
	reader.failErr = cause

	ok, err := s.Load(ctx)
	if ok {
		t.Error("failed load reported data")
	}
	if !errors.Is(err, ErrScanFailed) {
		t.Errorf("expected ErrScanFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the cause to be preserved, got %v", err)
	}
	if string(s.Cursor()) != "C" {
		t.Errorf("cursor moved on failure: %q", s.Cursor())
	}

	// Retrying picks up where the failed read would have
	ok, err = s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("retry failed: (%t, %v)", ok, err)
	}
	expectPages(t, [][]string{storetest.Names(s.Next())}, []string{"D", "E"})
}

func TestHasNextFailure(t *testing.T) {
	_, reader := setup(t, "A", "B")
	reader.failures = 1
	reader.failErr = errors.New("unavailable")

	s := newStringScanner(t, reader, 5)
	ctx := context.Background()

	if s.HasNext(ctx) {
		t.Fatal("HasNext should fail")
	}
	if !errors.Is(s.Err(), ErrScanFailed) {
		t.Fatalf("expected ErrScanFailed from Err, got %v", s.Err())
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed state, got %s", s.State())
	}

	// The failure is sticky until Reset
	if s.HasNext(ctx) {
		t.Error("HasNext should stay false after a failure")
	}
	if len(reader.requests) != 1 {
		t.Errorf("expected no reads after failure, got %d", len(reader.requests))
	}

	s.Reset()
	if s.Err() != nil {
		t.Errorf("Reset should clear the error, got %v", s.Err())
	}
	expectPages(t, collect(t, s), []string{"A", "B"})
}

func TestNextWithoutHasNext(t *testing.T) {
	_, reader := setup(t, "A")
	s := newStringScanner(t, reader, 2)

	if s.Next() != nil {
		t.Error("expected nil from Next before any load")
	}
	if len(reader.requests) != 0 {
		t.Error("Next must not read")
	}

	if !s.HasNext(context.Background()) {
		t.Fatal("expected a page")
	}
	if len(s.Next()) != 1 {
		t.Fatal("expected one column")
	}
	if s.Next() != nil {
		t.Error("Next should clear the buffer")
	}
}

func TestPagesStopsEarlyAndReportsErrors(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	s := newStringScanner(t, reader, 1)

	count := 0
	for _, err := range s.Pages(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("expected to stop after 2 pages, got %d", count)
	}
	if len(reader.requests) != 2 {
		t.Errorf("breaking early should not issue more reads, got %d", len(reader.requests))
	}

	reader.failures = 1
	reader.failErr = errors.New("boom")

	var last error
	for _, err := range s.Pages(context.Background()) {
		last = err
	}
	if !errors.Is(last, ErrScanFailed) {
		t.Errorf("expected the final element to carry ErrScanFailed, got %v", last)
	}
}

func TestIndependentScanners(t *testing.T) {
	mem, _ := setup(t, "A", "B", "C")
	storetest.Seed(t, mem, testOwner, testCF, []byte("users:idx:008"), "X", "Y")

	a := newStringScanner(t, mem, 2)
	b := newStringScanner(t, mem, 2, func(o *Options[string]) { o.Bucket = "008" })

	var wg sync.WaitGroup
	results := make([][][]string, 2)
	for i, s := range []*BucketScanner[string]{a, b} {
		wg.Add(1)
		go func(i int, s *BucketScanner[string]) {
			defer wg.Done()
			for page := range s.Pages(context.Background()) {
				results[i] = append(results[i], storetest.Names(page))
			}
		}(i, s)
	}
	wg.Wait()

	expectPages(t, results[0], []string{"A", "B", "C"})
	expectPages(t, results[1], []string{"X", "Y"})
}

type countingTelemetry struct {
	telemetry.NoopTelemetry
	mu       sync.Mutex
	counters map[string]int64
	hists    map[string][]float64
	spans    int
}

func newCountingTelemetry() *countingTelemetry {
	return &countingTelemetry{
		counters: make(map[string]int64),
		hists:    make(map[string][]float64),
	}
}

func (c *countingTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += value
}

func (c *countingTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hists[name] = append(c.hists[name], value)
}

func TestScannerMetrics(t *testing.T) {
	_, reader := setup(t, "A", "B", "C", "D", "E")
	tel := newCountingTelemetry()
	s := newStringScanner(t, reader, 2, func(o *Options[string]) {
		o.Telemetry = tel
	})

	collect(t, s)

	if got := tel.counters["bucketscan.scanner.loads.total"]; got != 3 {
		t.Errorf("expected 3 loads, got %d", got)
	}
	// pages 2 and 3 both started on an already-delivered column
	if got := tel.counters["bucketscan.scanner.boundary_trims.total"]; got != 2 {
		t.Errorf("expected 2 boundary trims, got %d", got)
	}
	if got := tel.hists["bucketscan.scanner.page.size"]; !reflect.DeepEqual(got, []float64{3, 2}) {
		t.Errorf("unexpected page sizes: %v", got)
	}
	if got := tel.hists["bucketscan.scanner.load.columns"]; !reflect.DeepEqual(got, []float64{3, 3, 1}) {
		t.Errorf("unexpected raw load sizes: %v", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:      "idle",
		StateBuffered:  "buffered",
		StateExhausted: "exhausted",
		StateFailed:    "failed",
		State(9):       "State(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
