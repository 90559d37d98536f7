// Package arrowschema builds the process-global, immutable Arrow schemas for
// each SignalKey and embeds the stable field IDs Iceberg needs to resolve
// columns by identity rather than by name.
package arrowschema

import (
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
)

// FieldIDKey is the Arrow field-metadata key under which the Parquet writer
// (internal/sink) looks up a column's Iceberg field ID. This mirrors the
// convention pqarrow itself recognizes (PARQUET:field_id).
const FieldIDKey = "PARQUET:field_id"

// Common field IDs (1-20), shared by every signal's schema.
const (
	FieldTimestamp           = 1
	FieldTraceID             = 2
	FieldSpanID              = 3
	FieldServiceName         = 4
	FieldServiceNamespace    = 5
	FieldServiceInstanceID   = 6
	FieldResourceAttributes  = 7
	FieldResourceSchemaURL   = 8
	FieldScopeName           = 9
	FieldScopeVersion        = 10
	FieldScopeAttributes     = 11
	FieldScopeSchemaURL      = 12
)

// Logs-specific field IDs (21-27).
const (
	FieldObservedTimestamp = 21
	FieldTraceFlags        = 22
	FieldSeverityText      = 23
	FieldSeverityNumber    = 24
	FieldBody              = 25
	FieldLogAttributes     = 26
)

// Traces-specific field IDs (51-65).
const (
	FieldParentSpanID     = 51
	FieldTraceState       = 52
	FieldSpanName         = 53
	FieldSpanKind         = 54
	FieldSpanAttributes   = 55
	FieldDuration         = 56
	FieldStatusCode       = 57
	FieldStatusMessage    = 58
	FieldEventsTimestamp  = 59
	FieldEventsName       = 60
	FieldEventsAttributes = 61
	FieldLinksTraceID     = 62
	FieldLinksSpanID      = 63
	FieldLinksTraceState  = 64
	FieldLinksAttributes  = 65
)

// Metrics base field IDs (101-104).
const (
	FieldMetricName        = 101
	FieldMetricDescription = 102
	FieldMetricUnit        = 103
	FieldDataPointAttrs    = 104
)

// Metric-variant-specific field IDs (110+).
const (
	FieldValue                   = 110
	FieldAggregationTemporality  = 111
	FieldIsMonotonic             = 112
	FieldCount                   = 113
	FieldSum                     = 114
	FieldBucketCounts            = 115
	FieldExplicitBounds          = 116
	FieldMin                     = 117
	FieldMax                     = 118
	FieldScale                   = 119
	FieldZeroCount               = 120
	FieldPositiveOffset          = 121
	FieldPositiveBucketCounts    = 122
	FieldNegativeOffset          = 123
	FieldNegativeBucketCounts    = 124
	FieldQuantileValues          = 125
	FieldQuantileQuantiles       = 126
)

// withID returns a copy of f with its Iceberg field ID embedded in metadata.
func withID(f arrow.Field, id int) arrow.Field {
	md := f.Metadata
	keys := append(append([]string{}, md.Keys()...), FieldIDKey)
	vals := append(append([]string{}, md.Values()...), strconv.Itoa(id))
	f.Metadata = arrow.NewMetadata(keys, vals)
	return f
}

// FieldID returns the Iceberg field ID embedded in f's metadata, or 0, false
// if absent.
func FieldID(f arrow.Field) (int, bool) {
	md := f.Metadata
	idx := md.FindKey(FieldIDKey)
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(md.Values()[idx])
	if err != nil {
		return 0, false
	}
	return n, true
}
