package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeLogsJSON(t *testing.T) {
	body := []byte(`{"resourceLogs":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"checkout"}}]},"scopeLogs":[{"logRecords":[{"timeUnixNano":"1700000000000000000","body":{"stringValue":"hello"}}]}]}]}`)
	results, err := Decode(SignalLogs, body, FormatJSON)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "checkout", results[0].Metadata.ServiceName)
	require.Equal(t, 1, results[0].Metadata.RecordCount)
	require.Len(t, results[0].Batches, 1)
	require.EqualValues(t, 1, results[0].Batches[0].NumRows())
}

func TestDecodeTracesJSON(t *testing.T) {
	body := []byte(`{"resourceSpans":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"api"}}]},"scopeSpans":[{"spans":[{"traceId":"0102030405060708090a0b0c0d0e0f10","spanId":"0102030405060708","name":"GET /x","kind":"SPAN_KIND_SERVER","startTimeUnixNano":"1700000000000000000","endTimeUnixNano":"1700000000100000000"}]}]}]}`)
	results, err := Decode(SignalTraces, body, FormatJSON)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "api", results[0].Metadata.ServiceName)
	require.EqualValues(t, 1, results[0].Batches[0].NumRows())
}

func TestDecodeJSONLinesMergesByKey(t *testing.T) {
	line1 := `{"resourceLogs":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"svc-a"}}]},"scopeLogs":[{"logRecords":[{"timeUnixNano":"1700000000000000000","body":{"stringValue":"one"}}]}]}]}`
	line2 := `{"resourceLogs":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"svc-a"}}]},"scopeLogs":[{"logRecords":[{"timeUnixNano":"1700000000500000000","body":{"stringValue":"two"}}]}]}]}`
	body := []byte(line1 + "\n" + line2 + "\n")

	results, err := Decode(SignalLogs, body, FormatJSONLines)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].Metadata.RecordCount)
	require.Len(t, results[0].Batches, 2)
}

func TestDecodeJSONLinesSkipsBlankLines(t *testing.T) {
	line := `{"resourceLogs":[{"resource":{},"scopeLogs":[{"logRecords":[{"timeUnixNano":"1700000000000000000"}]}]}]}`
	body := []byte("\n" + line + "\n\n")

	results, err := Decode(SignalLogs, body, FormatJSONLines)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Metadata.RecordCount)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode(SignalLogs, []byte(`{not valid`), FormatJSON)
	require.Error(t, err)
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, err := Decode(SignalLogs, []byte(`{}`), Format(99))
	require.Error(t, err)
}
