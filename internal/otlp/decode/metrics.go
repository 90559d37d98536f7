package decode

import (
	"fmt"
	"math"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"

	"github.com/smithclay/otlp2parquet-go/internal/arrowschema"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// metricAccumulator collects per-variant record builders across an entire
// ExportMetricsServiceRequest, since each OTLP payload may mix gauges,
// sums, histograms, etc. and each variant is its own RecordBatch schema.
type metricAccumulator struct {
	builders map[signalkey.MetricKind]*recordBuilder
	batches  map[signalkey.MetricKind][]arrow.Record
	meta     map[signalkey.MetricKind]*Metadata
	skipped  SkippedCounts
}

func newMetricAccumulator() *metricAccumulator {
	return &metricAccumulator{
		builders: make(map[signalkey.MetricKind]*recordBuilder),
		batches:  make(map[signalkey.MetricKind][]arrow.Record),
		meta:     make(map[signalkey.MetricKind]*Metadata),
	}
}

func (a *metricAccumulator) builderFor(kind signalkey.MetricKind) *recordBuilder {
	rb, ok := a.builders[kind]
	if !ok {
		rb = newRecordBuilder(arrowschema.MetricsSchema(kind))
		a.builders[kind] = rb
		a.meta[kind] = &Metadata{}
	}
	return rb
}

func (a *metricAccumulator) record(kind signalkey.MetricKind, ts int64, service string) {
	rb := a.builderFor(kind)
	m := a.meta[kind]
	m.FirstTimestampMicros = minNonZero(m.FirstTimestampMicros, ts)
	m.RecordCount++
	if m.ServiceName == "" {
		m.ServiceName = firstNonEmpty(service)
	}
	rb.rows++
	if rb.full() {
		a.batches[kind] = append(a.batches[kind], rb.finish())
	}
}

func (a *metricAccumulator) results() []Result {
	out := make([]Result, 0, len(a.builders))
	for kind, rb := range a.builders {
		batches := a.batches[kind]
		if rec := rb.finish(); rec != nil {
			batches = append(batches, rec)
		}
		out = append(out, Result{
			Key:      signalkey.Metrics(kind),
			Batches:  batches,
			Metadata: *a.meta[kind],
			Skipped:  a.skipped,
		})
	}
	return out
}

// DecodeMetricsProto decodes a binary OTLP ExportMetricsServiceRequest into
// one Result per metric-variant signal present in the payload.
func DecodeMetricsProto(data []byte) ([]Result, error) {
	req := pmetricotlp.NewExportRequest()
	if err := req.UnmarshalProto(data); err != nil {
		return nil, fmt.Errorf("decode: metrics protobuf: %w", err)
	}
	return buildMetricsFromPdata(req.Metrics())
}

func buildMetricsFromPdata(metrics pmetric.Metrics) ([]Result, error) {
	acc := newMetricAccumulator()
	rms := metrics.ResourceMetrics()
	for i := 0; i < rms.Len(); i++ {
		rm := rms.At(i)
		res := rm.Resource()
		svc, ns, inst, resAttrs := splitServiceAttrs(attrsFromPcommon(res.Attributes()))
		common := commonRow{
			serviceName:       firstNonEmpty(svc),
			serviceNamespace:  ns,
			hasNamespace:      ns != "",
			serviceInstanceID: inst,
			hasInstanceID:     inst != "",
			resourceAttrs:     resAttrs,
			resourceSchemaURL: rm.SchemaUrl(),
		}
		sms := rm.ScopeMetrics()
		for j := 0; j < sms.Len(); j++ {
			sm := sms.At(j)
			scope := sm.Scope()
			common.scopeName = scope.Name()
			common.scopeVersion = scope.Version()
			common.scopeAttrs = attrsFromPcommon(scope.Attributes())
			common.scopeSchemaURL = sm.SchemaUrl()

			ms := sm.Metrics()
			for k := 0; k < ms.Len(); k++ {
				m := ms.At(k)
				base := metricBase{name: m.Name(), description: m.Description(), unit: m.Unit()}
				switch m.Type() {
				case pmetric.MetricTypeGauge:
					appendGaugePoints(acc, common, base, m.Gauge().DataPoints())
				case pmetric.MetricTypeSum:
					sum := m.Sum()
					appendSumPoints(acc, common, base, sum.DataPoints(), int32(sum.AggregationTemporality()), sum.IsMonotonic())
				case pmetric.MetricTypeHistogram:
					hist := m.Histogram()
					appendHistogramPoints(acc, common, base, hist.DataPoints(), int32(hist.AggregationTemporality()))
				case pmetric.MetricTypeExponentialHistogram:
					eh := m.ExponentialHistogram()
					appendExpHistogramPoints(acc, common, base, eh.DataPoints(), int32(eh.AggregationTemporality()))
				case pmetric.MetricTypeSummary:
					appendSummaryPoints(acc, common, base, m.Summary().DataPoints())
				default:
					acc.skipped.UnsupportedMetricPoints++
				}
			}
		}
	}
	return acc.results(), nil
}

type metricBase struct {
	name, description, unit string
}

func appendMetricBase(rb *recordBuilder, common commonRow, base metricBase, ts int64, traceID, spanID []byte, attrs map[string]string) {
	cr := common
	cr.timestampMicros = ts
	cr.traceID = traceID
	cr.spanID = spanID
	appendCommon(rb, cr)
	rb.field("metric_name").(*array.StringBuilder).Append(base.name)
	appendOptStringField(rb, "metric_description", base.description)
	appendOptStringField(rb, "metric_unit", base.unit)
	appendStringMap(rb.field("data_point_attributes").(*array.MapBuilder), attrs)
}

func appendGaugePoints(acc *metricAccumulator, common commonRow, base metricBase, pts pmetric.NumberDataPointSlice) {
	rb := acc.builderFor(signalkey.MetricKindGauge)
	for i := 0; i < pts.Len(); i++ {
		p := pts.At(i)
		ts := nanosToMicros(uint64(p.Timestamp()))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromPcommon(p.Attributes()))
		val, ok := numberDataPointValue(p)
		if !ok {
			acc.skipped.MissingValue++
		}
		appendFloat64Opt(rb, "value", val, ok)
		acc.record(signalkey.MetricKindGauge, ts, common.serviceName)
	}
}

func appendSumPoints(acc *metricAccumulator, common commonRow, base metricBase, pts pmetric.NumberDataPointSlice, temporality int32, monotonic bool) {
	rb := acc.builderFor(signalkey.MetricKindSum)
	for i := 0; i < pts.Len(); i++ {
		p := pts.At(i)
		ts := nanosToMicros(uint64(p.Timestamp()))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromPcommon(p.Attributes()))
		val, ok := numberDataPointValue(p)
		if !ok {
			acc.skipped.MissingValue++
		}
		appendFloat64Opt(rb, "value", val, ok)
		appendInt32(rb, "aggregation_temporality", temporality, true)
		appendBoolOpt(rb, "is_monotonic", monotonic, true)
		acc.record(signalkey.MetricKindSum, ts, common.serviceName)
	}
}

func numberDataPointValue(p pmetric.NumberDataPoint) (float64, bool) {
	switch p.ValueType() {
	case pmetric.NumberDataPointValueTypeInt:
		return float64(p.IntValue()), true
	case pmetric.NumberDataPointValueTypeDouble:
		v := p.DoubleValue()
		if isNaNOrInf(v) {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

func isNaNOrInf(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func appendHistogramPoints(acc *metricAccumulator, common commonRow, base metricBase, pts pmetric.HistogramDataPointSlice, temporality int32) {
	rb := acc.builderFor(signalkey.MetricKindHistogram)
	for i := 0; i < pts.Len(); i++ {
		p := pts.At(i)
		ts := nanosToMicros(uint64(p.Timestamp()))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromPcommon(p.Attributes()))
		appendInt32(rb, "aggregation_temporality", temporality, true)
		appendUint64Opt(rb, "count", p.Count(), true)
		appendFloat64Opt(rb, "sum", p.Sum(), p.HasSum())
		appendUint64List(rb.field("bucket_counts").(*array.ListBuilder), p.BucketCounts().AsRaw(), true)
		appendFloat64List(rb.field("explicit_bounds").(*array.ListBuilder), p.ExplicitBounds().AsRaw(), true)
		appendFloat64Opt(rb, "min", p.Min(), p.HasMin())
		appendFloat64Opt(rb, "max", p.Max(), p.HasMax())
		acc.record(signalkey.MetricKindHistogram, ts, common.serviceName)
	}
}

func appendExpHistogramPoints(acc *metricAccumulator, common commonRow, base metricBase, pts pmetric.ExponentialHistogramDataPointSlice, temporality int32) {
	rb := acc.builderFor(signalkey.MetricKindExponentialHistogram)
	for i := 0; i < pts.Len(); i++ {
		p := pts.At(i)
		ts := nanosToMicros(uint64(p.Timestamp()))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromPcommon(p.Attributes()))
		appendInt32(rb, "aggregation_temporality", temporality, true)
		appendUint64Opt(rb, "count", p.Count(), true)
		appendFloat64Opt(rb, "sum", p.Sum(), p.HasSum())
		appendFloat64Opt(rb, "min", p.Min(), p.HasMin())
		appendFloat64Opt(rb, "max", p.Max(), p.HasMax())
		appendInt32(rb, "scale", p.Scale(), true)
		appendUint64Opt(rb, "zero_count", p.ZeroCount(), true)
		appendInt32(rb, "positive_offset", p.Positive().Offset(), true)
		appendUint64List(rb.field("positive_bucket_counts").(*array.ListBuilder), p.Positive().BucketCounts().AsRaw(), true)
		appendInt32(rb, "negative_offset", p.Negative().Offset(), true)
		appendUint64List(rb.field("negative_bucket_counts").(*array.ListBuilder), p.Negative().BucketCounts().AsRaw(), true)
		acc.record(signalkey.MetricKindExponentialHistogram, ts, common.serviceName)
	}
}

func appendSummaryPoints(acc *metricAccumulator, common commonRow, base metricBase, pts pmetric.SummaryDataPointSlice) {
	rb := acc.builderFor(signalkey.MetricKindSummary)
	for i := 0; i < pts.Len(); i++ {
		p := pts.At(i)
		ts := nanosToMicros(uint64(p.Timestamp()))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromPcommon(p.Attributes()))
		appendUint64Opt(rb, "count", p.Count(), true)
		appendFloat64Opt(rb, "sum", p.Sum(), true)
		qv := p.QuantileValues()
		quantiles := make([]float64, qv.Len())
		values := make([]float64, qv.Len())
		for q := 0; q < qv.Len(); q++ {
			quantiles[q] = qv.At(q).Quantile()
			values[q] = qv.At(q).Value()
		}
		appendFloat64List(rb.field("quantile_quantiles").(*array.ListBuilder), quantiles, true)
		appendFloat64List(rb.field("quantile_values").(*array.ListBuilder), values, true)
		acc.record(signalkey.MetricKindSummary, ts, common.serviceName)
	}
}
