package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smithclay/otlp2parquet-go/internal/otlp/decode"
)

func TestByServicePreservesFirstEncounterOrder(t *testing.T) {
	body := []byte(`{"resourceLogs":[
		{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"svc-b"}}]},
		 "scopeLogs":[{"logRecords":[{"timeUnixNano":"1700000000000000000"}]}]},
		{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"svc-a"}}]},
		 "scopeLogs":[{"logRecords":[{"timeUnixNano":"1700000000100000000"}]}]},
		{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"svc-b"}}]},
		 "scopeLogs":[{"logRecords":[{"timeUnixNano":"1700000000200000000"}]}]}
	]}`)

	results, err := decode.Decode(decode.SignalLogs, body, decode.FormatJSON)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Batches, 1)

	groups, err := ByService(results[0].Batches[0])
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "svc-b", groups[0].ServiceName)
	require.Equal(t, 2, groups[0].RecordCount)
	require.Equal(t, "svc-a", groups[1].ServiceName)
	require.Equal(t, 1, groups[1].RecordCount)
}
