package arrowschema

import (
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/require"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

type schemaCase struct {
	name   string
	schema *arrow.Schema
}

func TestFieldIDsArePresentAndUnique(t *testing.T) {
	schemas := []schemaCase{
		{"logs", LogsSchema()},
		{"traces", TracesSchema()},
		{"metrics:gauge", MetricsSchema(signalkey.MetricKindGauge)},
		{"metrics:sum", MetricsSchema(signalkey.MetricKindSum)},
		{"metrics:histogram", MetricsSchema(signalkey.MetricKindHistogram)},
		{"metrics:exponential_histogram", MetricsSchema(signalkey.MetricKindExponentialHistogram)},
		{"metrics:summary", MetricsSchema(signalkey.MetricKindSummary)},
	}
	for _, c := range schemas {
		seen := map[int]string{}
		for _, f := range c.schema.Fields() {
			id, ok := FieldID(f)
			require.Truef(t, ok, "%s: field %s missing field id", c.name, f.Name)
			if other, dup := seen[id]; dup {
				t.Fatalf("%s: field id %d reused by %s and %s", c.name, id, other, f.Name)
			}
			seen[id] = f.Name
		}
	}
}

func TestSchemaForDispatch(t *testing.T) {
	require.Equal(t, LogsSchema().String(), SchemaFor(signalkey.Logs()).String())
	require.Equal(t, TracesSchema().String(), SchemaFor(signalkey.Traces()).String())
	require.Equal(t,
		MetricsSchema(signalkey.MetricKindHistogram).String(),
		SchemaFor(signalkey.Metrics(signalkey.MetricKindHistogram)).String(),
	)
}
