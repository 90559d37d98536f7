package arrowschema

import (
	"github.com/apache/arrow/go/v17/arrow"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// metricBaseFields returns the fields shared by every metric variant
// (field IDs 101-104), appended after the common fields.
func metricBaseFields() []arrow.Field {
	return []arrow.Field{
		withID(arrow.Field{Name: "metric_name", Type: arrow.BinaryTypes.String}, FieldMetricName),
		withID(arrow.Field{Name: "metric_description", Type: arrow.BinaryTypes.String, Nullable: true}, FieldMetricDescription),
		withID(arrow.Field{Name: "metric_unit", Type: arrow.BinaryTypes.String, Nullable: true}, FieldMetricUnit),
		withID(arrow.Field{Name: "data_point_attributes", Type: attributeMapType(), Nullable: true}, FieldDataPointAttrs),
	}
}

// MetricsSchema dispatches on the metric variant and returns that variant's
// full schema (common + base + variant-specific fields). Each variant is a
// distinct RecordBatch schema rather than a union column.
func MetricsSchema(kind signalkey.MetricKind) *arrow.Schema {
	switch kind {
	case signalkey.MetricKindGauge:
		return gaugeSchema()
	case signalkey.MetricKindSum:
		return sumSchema()
	case signalkey.MetricKindHistogram:
		return histogramSchema()
	case signalkey.MetricKindExponentialHistogram:
		return exponentialHistogramSchema()
	case signalkey.MetricKindSummary:
		return summarySchema()
	default:
		panic("arrowschema: unknown metric kind")
	}
}

func gaugeSchema() *arrow.Schema {
	fields := append(append(commonFields(), metricBaseFields()...),
		withID(arrow.Field{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldValue),
	)
	return arrow.NewSchema(fields, nil)
}

func sumSchema() *arrow.Schema {
	fields := append(append(commonFields(), metricBaseFields()...),
		withID(arrow.Field{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldValue),
		withID(arrow.Field{Name: "aggregation_temporality", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldAggregationTemporality),
		withID(arrow.Field{Name: "is_monotonic", Type: arrow.FixedWidthTypes.Boolean, Nullable: true}, FieldIsMonotonic),
	)
	return arrow.NewSchema(fields, nil)
}

func histogramSchema() *arrow.Schema {
	fields := append(append(commonFields(), metricBaseFields()...),
		withID(arrow.Field{Name: "aggregation_temporality", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldAggregationTemporality),
		withID(arrow.Field{Name: "count", Type: arrow.PrimitiveTypes.Uint64, Nullable: true}, FieldCount),
		withID(arrow.Field{Name: "sum", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldSum),
		withID(arrow.Field{Name: "bucket_counts", Type: arrow.ListOf(arrow.PrimitiveTypes.Uint64), Nullable: true}, FieldBucketCounts),
		withID(arrow.Field{Name: "explicit_bounds", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true}, FieldExplicitBounds),
		withID(arrow.Field{Name: "min", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldMin),
		withID(arrow.Field{Name: "max", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldMax),
	)
	return arrow.NewSchema(fields, nil)
}

func exponentialHistogramSchema() *arrow.Schema {
	fields := append(append(commonFields(), metricBaseFields()...),
		withID(arrow.Field{Name: "aggregation_temporality", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldAggregationTemporality),
		withID(arrow.Field{Name: "count", Type: arrow.PrimitiveTypes.Uint64, Nullable: true}, FieldCount),
		withID(arrow.Field{Name: "sum", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldSum),
		withID(arrow.Field{Name: "min", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldMin),
		withID(arrow.Field{Name: "max", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldMax),
		withID(arrow.Field{Name: "scale", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldScale),
		withID(arrow.Field{Name: "zero_count", Type: arrow.PrimitiveTypes.Uint64, Nullable: true}, FieldZeroCount),
		withID(arrow.Field{Name: "positive_offset", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldPositiveOffset),
		withID(arrow.Field{Name: "positive_bucket_counts", Type: arrow.ListOf(arrow.PrimitiveTypes.Uint64), Nullable: true}, FieldPositiveBucketCounts),
		withID(arrow.Field{Name: "negative_offset", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldNegativeOffset),
		withID(arrow.Field{Name: "negative_bucket_counts", Type: arrow.ListOf(arrow.PrimitiveTypes.Uint64), Nullable: true}, FieldNegativeBucketCounts),
	)
	return arrow.NewSchema(fields, nil)
}

// summarySchema normalizes quantiles as parallel lists rather than a
// nested struct, per 's compatibility note for catalogs with
// limited nested-type support.
func summarySchema() *arrow.Schema {
	fields := append(append(commonFields(), metricBaseFields()...),
		withID(arrow.Field{Name: "count", Type: arrow.PrimitiveTypes.Uint64, Nullable: true}, FieldCount),
		withID(arrow.Field{Name: "sum", Type: arrow.PrimitiveTypes.Float64, Nullable: true}, FieldSum),
		withID(arrow.Field{Name: "quantile_quantiles", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true}, FieldQuantileQuantiles),
		withID(arrow.Field{Name: "quantile_values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true}, FieldQuantileValues),
	)
	return arrow.NewSchema(fields, nil)
}

// SchemaFor returns the schema for any SignalKey.
func SchemaFor(key signalkey.Key) *arrow.Schema {
	switch key.Kind() {
	case signalkey.KindLogs:
		return LogsSchema()
	case signalkey.KindTraces:
		return TracesSchema()
	case signalkey.KindMetrics:
		kind, _ := key.MetricKind()
		return MetricsSchema(kind)
	default:
		panic("arrowschema: unknown signal kind")
	}
}
