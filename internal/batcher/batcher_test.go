package batcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"github.com/smithclay/otlp2parquet-go/internal/arrowio"
	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/dlq"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
)

func testRecord(t *testing.T, rows int) arrow.Record {
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
		ts.Append(arrow.Timestamp(int64(1000 + i)))
	}
	return b.NewRecord()
}

func newTestBatcher(t *testing.T) (*Batcher, objstore.Bucket) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "actor.db"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bkt := objstore.NewInMemBucket()
	sk := sink.New(bkt, sink.NewDefaultOptions())
	dlqWriter := dlq.NewWriter(bkt, "")

	cfg := config.Batch{
		MaxRows:             1000,
		MaxBytes:            1 << 30, // large, so tests control flush explicitly
		ChunkThresholdBytes: 1 << 20,
		PerIngestCeiling:    800 * 1024,
		BackpressureCeiling: 20 * 1024 * 1024,
		FlushMemoryCeiling:  48 * 1024 * 1024,
		MaxWriteRetries:     3,
	}
	b := New(store, sk, dlqWriter, nil, cfg, signalkey.Logs(), "checkout", nil)
	return b, bkt
}

func TestIngestAndFlushWritesParquet(t *testing.T) {
	b, bkt := newTestBatcher(t)
	ctx := context.Background()

	rec := testRecord(t, 5)
	defer rec.Release()
	payload, err := arrowio.EncodeRecord(rec)
	require.NoError(t, err)

	flushed, err := b.Ingest(ctx, "req-1", payload, 5, 0)
	require.NoError(t, err)
	assert.False(t, flushed)

	require.NoError(t, b.Flush(ctx))

	status, failures, err := b.store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(StateIdle), status)
	assert.Equal(t, 0, failures)

	pending, err := b.store.PendingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	objs := 0
	require.NoError(t, bkt.Iter(ctx, "", func(name string) error { objs++; return nil }, objstore.WithRecursiveIter()))
	assert.Equal(t, 1, objs)
}

func TestIngestDedupesIdempotencyKey(t *testing.T) {
	b, _ := newTestBatcher(t)
	ctx := context.Background()

	rec := testRecord(t, 1)
	defer rec.Release()
	payload, err := arrowio.EncodeRecord(rec)
	require.NoError(t, err)

	_, err = b.Ingest(ctx, "dup-key", payload, 1, 0)
	require.NoError(t, err)
	_, err = b.Ingest(ctx, "dup-key", payload, 1, 0)
	require.NoError(t, err)

	pending, err := b.store.PendingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), pending)
}

func TestIngestRejectsOversizedPayload(t *testing.T) {
	b, _ := newTestBatcher(t)
	_, err := b.Ingest(context.Background(), "", make([]byte, 900*1024), 0, 0)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestIngestRejectsOverBackpressureCeiling(t *testing.T) {
	b, _ := newTestBatcher(t)
	b.cfg.BackpressureCeiling = 10
	_, err := b.Ingest(context.Background(), "", make([]byte, 100), 0, 0)
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestIngestFlushesOnMaxRowsThreshold(t *testing.T) {
	b, bkt := newTestBatcher(t)
	ctx := context.Background()
	b.cfg.MaxRows = 3

	rec := testRecord(t, 2)
	defer rec.Release()
	payload, err := arrowio.EncodeRecord(rec)
	require.NoError(t, err)

	flushed, err := b.Ingest(ctx, "req-1", payload, 2, 0)
	require.NoError(t, err)
	assert.False(t, flushed)

	flushed, err = b.Ingest(ctx, "req-2", payload, 2, 0)
	require.NoError(t, err)
	assert.True(t, flushed, "accumulated record_count crossing MaxRows should trigger a synchronous flush")

	objs := 0
	require.NoError(t, bkt.Iter(ctx, "", func(name string) error { objs++; return nil }, objstore.WithRecursiveIter()))
	assert.Equal(t, 1, objs)
}

func TestFirstEventTimestampTracksMinimumAndClearsOnFlush(t *testing.T) {
	b, _ := newTestBatcher(t)
	ctx := context.Background()

	rec := testRecord(t, 1)
	defer rec.Release()
	payload, err := arrowio.EncodeRecord(rec)
	require.NoError(t, err)

	_, err = b.Ingest(ctx, "req-1", payload, 1, 5000)
	require.NoError(t, err)
	ts, err := b.store.FirstEventTimestamp(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, ts)

	_, err = b.Ingest(ctx, "req-2", payload, 1, 2000)
	require.NoError(t, err)
	ts, err = b.store.FirstEventTimestamp(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, ts)

	_, err = b.Ingest(ctx, "req-3", payload, 1, 9000)
	require.NoError(t, err)
	ts, err = b.store.FirstEventTimestamp(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, ts, "first_event_timestamp must be monotonically non-increasing within an accumulation cycle")

	require.NoError(t, b.Flush(ctx))
	ts, err = b.store.FirstEventTimestamp(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts, "first_event_timestamp must clear on successful flush")
}

func TestFlushWithNoPendingDataIsNoop(t *testing.T) {
	b, _ := newTestBatcher(t)
	require.NoError(t, b.Flush(context.Background()))
	status, _, err := b.store.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(StateIdle), status)
}

func TestFlushEscalatesToDLQAfterMaxRetries(t *testing.T) {
	b, bkt := newTestBatcher(t)
	ctx := context.Background()
	b.cfg.MaxWriteRetries = 2

	// Corrupt chunk bytes so decode fails deterministically.
	require.NoError(t, b.store.AppendChunk(ctx, "", []byte("not-arrow-ipc"), 0, nowMS()))

	require.Error(t, b.Flush(ctx))
	status, failures, err := b.store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(StateAccumulating), status)
	assert.Equal(t, 1, failures)

	require.NoError(t, b.Flush(ctx), "a successful DLQ escalation drains the actor cleanly")
	status, failures, err = b.store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(StateIdle), status)
	assert.Equal(t, 0, failures)

	pending, err := b.store.PendingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	found := false
	require.NoError(t, bkt.Iter(ctx, "failed/", func(name string) error { found = true; return nil }, objstore.WithRecursiveIter()))
	assert.True(t, found)
}

func TestFlushEscalatesToDLQWhenArrowMemorySizeExceedsCeiling(t *testing.T) {
	b, bkt := newTestBatcher(t)
	ctx := context.Background()
	// Far below any real record's decoded buffer size, but its IPC byte
	// size is still small enough that the first (and only) chunk group is
	// admitted unconditionally by LoadForFlush's byte budget.
	b.cfg.FlushMemoryCeiling = 32

	rec := testRecord(t, 50)
	defer rec.Release()
	payload, err := arrowio.EncodeRecord(rec)
	require.NoError(t, err)

	_, err = b.Ingest(ctx, "req-1", payload, 50, 0)
	require.NoError(t, err)

	require.NoError(t, b.Flush(ctx), "an oversized group escalates to DLQ and the flush completes")

	status, failures, err := b.store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(StateIdle), status)
	assert.Equal(t, 0, failures, "an arrow-memory-ceiling escalation is immediate, not a write-retry")

	pending, err := b.store.PendingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	found := false
	require.NoError(t, bkt.Iter(ctx, "failed/", func(name string) error { found = true; return nil }, objstore.WithRecursiveIter()))
	assert.True(t, found, "oversized-in-memory batch must go to DLQ, not to Parquet")
}

func TestAlarmSchedulingAndTimeBasedFlush(t *testing.T) {
	b, bkt := newTestBatcher(t)
	ctx := context.Background()
	b.cfg.MaxAge = 60 * time.Second

	rec := testRecord(t, 2)
	defer rec.Release()
	payload, err := arrowio.EncodeRecord(rec)
	require.NoError(t, err)

	_, err = b.Ingest(ctx, "req-1", payload, 2, 0)
	require.NoError(t, err)

	alarmAt, err := b.store.NextAlarm(ctx)
	require.NoError(t, err)
	require.Positive(t, alarmAt, "a below-threshold ingest must schedule a time-based flush alarm")

	_, err = b.Ingest(ctx, "req-2", payload, 2, 0)
	require.NoError(t, err)
	again, err := b.store.NextAlarm(ctx)
	require.NoError(t, err)
	assert.Equal(t, alarmAt, again, "rescheduling is idempotent, the existing alarm never moves")

	require.NoError(t, b.MaybeFlushOnAlarm(ctx))
	objs := 0
	require.NoError(t, bkt.Iter(ctx, "", func(name string) error { objs++; return nil }, objstore.WithRecursiveIter()))
	assert.Zero(t, objs, "an alarm that is not yet due must not flush")

	require.NoError(t, b.store.SetNextAlarm(ctx, 1))
	require.NoError(t, b.MaybeFlushOnAlarm(ctx))
	require.NoError(t, bkt.Iter(ctx, "", func(name string) error { objs++; return nil }, objstore.WithRecursiveIter()))
	assert.Equal(t, 1, objs)

	alarmAt, err = b.store.NextAlarm(ctx)
	require.NoError(t, err)
	assert.Zero(t, alarmAt, "a clean drain clears the alarm")
}

func TestFailedReceiptHandoffParksAndRetriesOnAlarm(t *testing.T) {
	b, _ := newTestBatcher(t)
	ctx := context.Background()

	busDown := true
	delivered := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if busDown {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	b.receiptClient = receipt.NewClient(srv.URL)

	rec := testRecord(t, 3)
	defer rec.Release()
	payload, err := arrowio.EncodeRecord(rec)
	require.NoError(t, err)
	_, err = b.Ingest(ctx, "req-1", payload, 3, 0)
	require.NoError(t, err)

	require.NoError(t, b.Flush(ctx), "a failed receipt handoff parks the receipt, it does not fail the flush")
	parked, err := b.store.PendingReceipt(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, parked, "the receipt of the flushed file must survive a bus outage")

	busDown = false
	require.NoError(t, b.store.SetNextAlarm(ctx, 1))
	require.NoError(t, b.MaybeFlushOnAlarm(ctx), "a parked receipt alone keeps the alarm productive")
	assert.Equal(t, 1, delivered)
	parked, err = b.store.PendingReceipt(ctx)
	require.NoError(t, err)
	assert.Empty(t, parked)
}

func TestAppendChunkSplitsOversizedPayloadAcrossRows(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "actor.db"), 10)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	atThreshold := bytes.Repeat([]byte{0xAA}, 10)
	require.NoError(t, store.AppendChunk(ctx, "at-threshold", atThreshold, 1, nowMS()))

	overThreshold := make([]byte, 11)
	for i := range overThreshold {
		overThreshold[i] = byte(i)
	}
	require.NoError(t, store.AppendChunk(ctx, "over-threshold", overThreshold, 2, nowMS()))

	chunks, err := store.LoadForFlush(ctx, 1<<30)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Len(t, chunks[0].RowSeqs, 1, "a blob exactly at the chunk threshold stores as one row")
	assert.Equal(t, atThreshold, chunks[0].Payload)

	assert.Len(t, chunks[1].RowSeqs, 2, "a blob one byte over the chunk threshold splits across two rows")
	assert.Equal(t, overThreshold, chunks[1].Payload, "split rows must reassemble in chunk_index order")
	assert.Equal(t, chunks[1].RowSeqs[0], chunks[1].GroupID, "split rows share their head row's chunk_group_id")
}

func TestLoadForFlushCapsByCompleteGroupsOnly(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "actor.db"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.AppendChunk(ctx, "a", make([]byte, 40), 1, nowMS()))
	require.NoError(t, store.AppendChunk(ctx, "b", make([]byte, 40), 1, nowMS()))
	require.NoError(t, store.AppendChunk(ctx, "c", make([]byte, 40), 1, nowMS()))

	chunks, err := store.LoadForFlush(ctx, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "only whole groups fitting the byte budget load; the first group always loads regardless")

	chunks, err = store.LoadForFlush(ctx, 1<<30)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
}
