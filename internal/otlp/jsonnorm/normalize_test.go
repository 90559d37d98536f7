package jsonnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCamelToSnake(t *testing.T) {
	require.Equal(t, "start_time_unix_nano", camelToSnake("startTimeUnixNano"))
	require.Equal(t, "trace_id", camelToSnake("traceId"))
	require.Equal(t, "already_snake", camelToSnake("already_snake"))
}

func TestSnakeToPascal(t *testing.T) {
	require.Equal(t, "StringValue", snakeToPascal("string_value"))
	require.Equal(t, "BytesValue", snakeToPascal("bytes_value"))
}

func TestNormalizeLogRecordDefaultsAndNumbers(t *testing.T) {
	input := map[string]any{
		"timeUnixNano": "1700000000000000000",
		"body":         map[string]any{"stringValue": "hello"},
	}
	out, err := Normalize(input, HintLogRecords)
	require.NoError(t, err)
	m := out.(map[string]any)
	require.Equal(t, uint64(1700000000000000000), m["time_unix_nano"])
	require.Equal(t, uint32(0), m["flags"])
	require.Equal(t, int32(0), m["severity_number"])
	body := m["body"].(map[string]any)
	require.Contains(t, body, "StringValue")
	require.Equal(t, "hello", body["StringValue"])
}

func TestNormalizeTraceIDHexAndBase64(t *testing.T) {
	out, err := Normalize(map[string]any{"traceId": "0102030405060708090a0b0c0d0e0f10"}, HintSpans)
	require.NoError(t, err)
	m := out.(map[string]any)
	ids := m["trace_id"].([]any)
	require.Len(t, ids, 16)
	require.Equal(t, byte(0x01), ids[0])

	out, err = Normalize(map[string]any{"traceId": "AQIDBAUGBwgJCgsMDQ4PEA=="}, HintSpans)
	require.NoError(t, err)
	ids = out.(map[string]any)["trace_id"].([]any)
	require.Len(t, ids, 16)
	require.Equal(t, byte(0x01), ids[0])
	require.Equal(t, byte(0x10), ids[15])
}

func TestNormalizeSpanKindEnum(t *testing.T) {
	out, err := Normalize(map[string]any{"kind": "SPAN_KIND_SERVER"}, HintSpans)
	require.NoError(t, err)
	m := out.(map[string]any)
	require.Equal(t, int32(2), m["kind"])
}

func TestNormalizeMetricVariantWrap(t *testing.T) {
	out, err := Normalize(map[string]any{
		"name":  "http.requests",
		"gauge": map[string]any{"dataPoints": []any{}},
	}, HintMetrics)
	require.NoError(t, err)
	m := out.(map[string]any)
	require.NotContains(t, m, "gauge")
	data := m["data"].(map[string]any)
	require.Contains(t, data, "Gauge")
}

func TestNormalizeDataPointAsDouble(t *testing.T) {
	out, err := Normalize(map[string]any{"asDouble": "45.2"}, HintDataPoints)
	require.NoError(t, err)
	m := out.(map[string]any)
	value := m["value"].(map[string]any)
	require.Equal(t, 45.2, value["AsDouble"])
}

func TestNormalizeBucketCountsStringArray(t *testing.T) {
	out, err := Normalize([]any{"1", "2", "3"}, "bucket_counts")
	require.NoError(t, err)
	arr := out.([]any)
	require.Equal(t, uint64(1), arr[0])
	require.Equal(t, uint64(3), arr[2])
}
