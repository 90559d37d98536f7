package catalog

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smithclay/otlp2parquet-go/internal/arrowschema"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

func fieldWithID(name string, dt arrow.DataType, id int) arrow.Field {
	md := arrow.NewMetadata([]string{"PARQUET:field_id"}, []string{fmt.Sprintf("%d", id)})
	return arrow.Field{Name: name, Type: dt, Metadata: md}
}

func testReceipts() []receipt.Receipt {
	return []receipt.Receipt{{
		Key:         "pending:1:01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SignalKey:   "logs",
		ServiceName: "checkout",
		Path:        "otel_logs/year=2025/month=06/day=15/hour=14/checkout-1-uuid.parquet",
		Rows:        10,
	}}
}

func writeTestParquet(t *testing.T) []byte {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		fieldWithID("service_name", arrow.BinaryTypes.String, 1),
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append("checkout")
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestInspectReturnsRecordCountAndSize(t *testing.T) {
	data := writeTestParquet(t)
	df, err := Inspect(data, "otel_logs/year=2025/month=06/day=15/hour=14/checkout-1-uuid.parquet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), df.RecordCount)
	assert.Equal(t, int64(len(data)), df.FileSizeBytes)
	assert.Equal(t, "PARQUET", df.FileFormat)
}

func TestBuildHourlyPartitionSpecUsesTimestampFieldAsSource(t *testing.T) {
	spec := BuildHourlyPartitionSpec(42)
	fields := spec.Fields()
	require.Len(t, fields, 4)
	for _, f := range fields {
		assert.Equal(t, 42, f.SourceID)
	}
}

func TestIcebergSchemaIncludesEmbeddedFieldIDs(t *testing.T) {
	schema := arrowschema.LogsSchema()
	out, err := IcebergSchema(schema)
	require.NoError(t, err)
	fields := out.Fields()
	require.Len(t, fields, len(schema.Fields()))
	for _, f := range fields {
		assert.NotZero(t, f.ID)
		assert.NotEmpty(t, f.Name)
	}
}

func TestIcebergSchemaCoversAllSignalKeys(t *testing.T) {
	keys := []signalkey.Key{
		signalkey.Logs(),
		signalkey.Traces(),
		signalkey.Metrics(signalkey.MetricKindGauge),
		signalkey.Metrics(signalkey.MetricKindSum),
		signalkey.Metrics(signalkey.MetricKindHistogram),
		signalkey.Metrics(signalkey.MetricKindExponentialHistogram),
		signalkey.Metrics(signalkey.MetricKindSummary),
	}
	for _, k := range keys {
		_, err := IcebergSchema(arrowschema.SchemaFor(k))
		assert.NoError(t, err, k.String())
	}
}

func TestDedupByPathKeepsFirstOccurrence(t *testing.T) {
	rs := []receipt.Receipt{
		{Key: "pending:1:a", Path: "p1"},
		{Key: "pending:2:b", Path: "p2"},
		{Key: "pending:3:c", Path: "p1"},
	}
	kept, dups := dedupByPath(rs)
	require.Len(t, kept, 2)
	assert.Equal(t, "pending:1:a", kept[0].Key)
	require.Len(t, dups, 1)
	assert.Equal(t, "pending:3:c", dups[0].Key, "the later receipt for an already-seen path is the duplicate")
}

func TestGroupByTableUsesTableNameOverride(t *testing.T) {
	groups := groupByTable(testReceipts(), map[string]string{"logs": "custom_logs"})
	assert.Contains(t, groups, "custom_logs")
	assert.Len(t, groups["custom_logs"], 1)
}
