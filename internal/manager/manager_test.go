package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
)

func testRecord(t *testing.T, rows int, tsMicros int64) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "service_name", Type: arrow.BinaryTypes.String},
		{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_us},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	svc := b.Field(0).(*array.StringBuilder)
	ts := b.Field(1).(*array.TimestampBuilder)
	for i := 0; i < rows; i++ {
		svc.Append("checkout")
		ts.Append(arrow.Timestamp(tsMicros))
	}
	return b.NewRecord()
}

func newTestManager(t *testing.T, cfg config.Batch) (*Manager, objstore.Bucket, receipt.Store) {
	t.Helper()
	bkt := objstore.NewInMemBucket()
	sk := sink.New(bkt, sink.NewDefaultOptions())
	store, err := receipt.OpenSQLStore(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(sk, store, cfg, nil), bkt, store
}

func TestIngestBelowThresholdDoesNotFlush(t *testing.T) {
	m, bkt, _ := newTestManager(t, config.Batch{MaxRows: 1000, MaxBytes: 1 << 20})
	rec := testRecord(t, 1, 1_700_000_000_000_000)
	defer rec.Release()

	require.NoError(t, m.Ingest(context.Background(), signalkey.Logs(), "checkout", rec))

	objs := 0
	require.NoError(t, bkt.Iter(context.Background(), "", func(string) error { objs++; return nil }, objstore.WithRecursiveIter()))
	assert.Zero(t, objs)
}

func TestIngestAtRowThresholdFlushesAndWritesReceipt(t *testing.T) {
	m, bkt, store := newTestManager(t, config.Batch{MaxRows: 2, MaxBytes: 1 << 20})
	rec1 := testRecord(t, 1, 1_700_000_000_000_000)
	rec2 := testRecord(t, 1, 1_700_000_000_000_000)
	defer rec1.Release()
	defer rec2.Release()

	require.NoError(t, m.Ingest(context.Background(), signalkey.Logs(), "checkout", rec1))
	require.NoError(t, m.Ingest(context.Background(), signalkey.Logs(), "checkout", rec2))

	objs := 0
	require.NoError(t, bkt.Iter(context.Background(), "", func(string) error { objs++; return nil }, objstore.WithRecursiveIter()))
	assert.Equal(t, 1, objs)

	receipts, err := store.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, int64(2), receipts[0].Rows)
}

func TestIngestRejectsPastGlobalBackpressureCeiling(t *testing.T) {
	rec := testRecord(t, 1, 1_700_000_000_000_000)
	defer rec.Release()
	size := estimateSize(rec)

	// Each per-service batch stays below the flush threshold (MaxBytes =
	// 2x one record), so nothing drains; 16 one-record batches reach the
	// global ceiling of MaxBytes x 8 and the next ingest bounces.
	m, _, _ := newTestManager(t, config.Batch{MaxRows: 1000, MaxBytes: size * 2})
	for i := 0; i < 16; i++ {
		require.NoError(t, m.Ingest(context.Background(), signalkey.Logs(), fmt.Sprintf("svc-%d", i), rec))
	}
	err := m.Ingest(context.Background(), signalkey.Logs(), "svc-overflow", rec)
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestDrainAllFlushesPartialBatches(t *testing.T) {
	m, bkt, _ := newTestManager(t, config.Batch{MaxRows: 1000, MaxBytes: 1 << 20})
	rec := testRecord(t, 1, 1_700_000_000_000_000)
	defer rec.Release()

	require.NoError(t, m.Ingest(context.Background(), signalkey.Traces(), "api", rec))
	require.NoError(t, m.DrainAll(context.Background()))

	objs := 0
	require.NoError(t, bkt.Iter(context.Background(), "", func(string) error { objs++; return nil }, objstore.WithRecursiveIter()))
	assert.Equal(t, 1, objs)

	m.mu.Lock()
	remaining := len(m.batches)
	m.mu.Unlock()
	assert.Zero(t, remaining)
}
