package sink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

func simpleRecord(t *testing.T, rows int) arrow.Record {
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
		ts.Append(arrow.Timestamp(1000))
	}
	return b.NewRecord()
}

func TestWriteUploadsDeterministicPath(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	s := New(bkt, NewDefaultOptions())

	rec := simpleRecord(t, 3)
	defer rec.Release()

	ts := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC).UnixMicro()
	res, err := s.Write(context.Background(), signalkey.Logs(), "checkout", ts, []arrow.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	assert.Contains(t, res.Path, "otel_logs/year=2025/month=06/day=15/hour=14/checkout-")
	assert.True(t, strings.HasSuffix(res.Path, ".parquet"))

	exists, err := bkt.Exists(context.Background(), res.Path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWritePrefix(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	opts := NewDefaultOptions()
	opts.Prefix = "raw"
	s := New(bkt, opts)

	rec := simpleRecord(t, 1)
	defer rec.Release()

	res, err := s.Write(context.Background(), signalkey.Traces(), "api", time.Now().UnixMicro(), []arrow.Record{rec})
	require.NoError(t, err)
	assert.Contains(t, res.Path, "raw/otel_traces/")
}

func TestWriteNoBatchesErrors(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	s := New(bkt, NewDefaultOptions())
	_, err := s.Write(context.Background(), signalkey.Logs(), "svc", 1, nil)
	assert.Error(t, err)
}
