package decode

import (
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// DecodeMetricsJSONTree decodes a normalized OTLP JSON tree
// ("resource_metrics") into one Result per metric-variant signal present.
func DecodeMetricsJSONTree(tree map[string]any) ([]Result, error) {
	acc := newMetricAccumulator()
	resourceMetrics, _ := tree["resource_metrics"].([]any)
	for _, rmAny := range resourceMetrics {
		rm, ok := rmAny.(map[string]any)
		if !ok {
			continue
		}
		resource, _ := rm["resource"].(map[string]any)
		svc, ns, inst, resAttrs := splitServiceAttrs(attrsFromJSON(resource["attributes"]))
		common := commonRow{
			serviceName:       firstNonEmpty(svc),
			serviceNamespace:  ns,
			hasNamespace:      ns != "",
			serviceInstanceID: inst,
			hasInstanceID:     inst != "",
			resourceAttrs:     resAttrs,
			resourceSchemaURL: toString(rm["schema_url"]),
		}
		scopeMetrics, _ := rm["scope_metrics"].([]any)
		for _, smAny := range scopeMetrics {
			sm, ok := smAny.(map[string]any)
			if !ok {
				continue
			}
			scope, _ := sm["scope"].(map[string]any)
			common.scopeName = toString(scope["name"])
			common.scopeVersion = toString(scope["version"])
			common.scopeAttrs = attrsFromJSON(scope["attributes"])
			common.scopeSchemaURL = toString(sm["schema_url"])

			metrics, _ := sm["metrics"].([]any)
			for _, mAny := range metrics {
				m, ok := mAny.(map[string]any)
				if !ok {
					continue
				}
				base := metricBase{
					name:        toString(m["name"]),
					description: toString(m["description"]),
					unit:        toString(m["unit"]),
				}
				data, _ := m["data"].(map[string]any)
				switch {
				case data["Gauge"] != nil:
					appendGaugePointsJSON(acc, common, base, data["Gauge"])
				case data["Sum"] != nil:
					appendSumPointsJSON(acc, common, base, data["Sum"])
				case data["Histogram"] != nil:
					appendHistogramPointsJSON(acc, common, base, data["Histogram"])
				case data["ExponentialHistogram"] != nil:
					appendExpHistogramPointsJSON(acc, common, base, data["ExponentialHistogram"])
				case data["Summary"] != nil:
					appendSummaryPointsJSON(acc, common, base, data["Summary"])
				default:
					acc.skipped.UnsupportedMetricPoints++
				}
			}
		}
	}
	return acc.results(), nil
}

func dataPoints(variant any) []any {
	m, _ := variant.(map[string]any)
	pts, _ := m["data_points"].([]any)
	return pts
}

func numberValueJSON(node map[string]any) (float64, bool) {
	v, _ := node["value"].(map[string]any)
	if av, ok := v["AsDouble"]; ok {
		f := toFloat64(av)
		if isNaNOrInf(f) {
			return 0, false
		}
		return f, true
	}
	if av, ok := v["AsInt"]; ok {
		return float64(toInt64(av)), true
	}
	return 0, false
}

func appendGaugePointsJSON(acc *metricAccumulator, common commonRow, base metricBase, variant any) {
	rb := acc.builderFor(signalkey.MetricKindGauge)
	for _, ptAny := range dataPoints(variant) {
		pt, _ := ptAny.(map[string]any)
		ts := nanosToMicros(toUint64(pt["time_unix_nano"]))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromJSON(pt["attributes"]))
		val, ok := numberValueJSON(pt)
		if !ok {
			acc.skipped.MissingValue++
		}
		appendFloat64Opt(rb, "value", val, ok)
		acc.record(signalkey.MetricKindGauge, ts, common.serviceName)
	}
}

func appendSumPointsJSON(acc *metricAccumulator, common commonRow, base metricBase, variant any) {
	rb := acc.builderFor(signalkey.MetricKindSum)
	m, _ := variant.(map[string]any)
	temporality := toInt32(m["aggregation_temporality"])
	monotonic, _ := m["is_monotonic"].(bool)
	for _, ptAny := range dataPoints(variant) {
		pt, _ := ptAny.(map[string]any)
		ts := nanosToMicros(toUint64(pt["time_unix_nano"]))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromJSON(pt["attributes"]))
		val, ok := numberValueJSON(pt)
		if !ok {
			acc.skipped.MissingValue++
		}
		appendFloat64Opt(rb, "value", val, ok)
		appendInt32(rb, "aggregation_temporality", temporality, true)
		appendBoolOpt(rb, "is_monotonic", monotonic, true)
		acc.record(signalkey.MetricKindSum, ts, common.serviceName)
	}
}

func appendHistogramPointsJSON(acc *metricAccumulator, common commonRow, base metricBase, variant any) {
	rb := acc.builderFor(signalkey.MetricKindHistogram)
	m, _ := variant.(map[string]any)
	temporality := toInt32(m["aggregation_temporality"])
	for _, ptAny := range dataPoints(variant) {
		pt, _ := ptAny.(map[string]any)
		ts := nanosToMicros(toUint64(pt["time_unix_nano"]))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromJSON(pt["attributes"]))
		appendInt32(rb, "aggregation_temporality", temporality, true)
		appendUint64Opt(rb, "count", toUint64(pt["count"]), true)
		sum, hasSum := pt["sum"]
		appendFloat64Opt(rb, "sum", toFloat64(sum), hasSum)
		appendUint64List(rb.field("bucket_counts").(*array.ListBuilder), toUint64Slice(pt["bucket_counts"]), true)
		appendFloat64List(rb.field("explicit_bounds").(*array.ListBuilder), toFloat64Slice(pt["explicit_bounds"]), true)
		minV, hasMin := pt["min"]
		appendFloat64Opt(rb, "min", toFloat64(minV), hasMin)
		maxV, hasMax := pt["max"]
		appendFloat64Opt(rb, "max", toFloat64(maxV), hasMax)
		acc.record(signalkey.MetricKindHistogram, ts, common.serviceName)
	}
}

func appendExpHistogramPointsJSON(acc *metricAccumulator, common commonRow, base metricBase, variant any) {
	rb := acc.builderFor(signalkey.MetricKindExponentialHistogram)
	m, _ := variant.(map[string]any)
	temporality := toInt32(m["aggregation_temporality"])
	for _, ptAny := range dataPoints(variant) {
		pt, _ := ptAny.(map[string]any)
		ts := nanosToMicros(toUint64(pt["time_unix_nano"]))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromJSON(pt["attributes"]))
		appendInt32(rb, "aggregation_temporality", temporality, true)
		appendUint64Opt(rb, "count", toUint64(pt["count"]), true)
		sum, hasSum := pt["sum"]
		appendFloat64Opt(rb, "sum", toFloat64(sum), hasSum)
		minV, hasMin := pt["min"]
		appendFloat64Opt(rb, "min", toFloat64(minV), hasMin)
		maxV, hasMax := pt["max"]
		appendFloat64Opt(rb, "max", toFloat64(maxV), hasMax)
		appendInt32(rb, "scale", toInt32(pt["scale"]), true)
		appendUint64Opt(rb, "zero_count", toUint64(pt["zero_count"]), true)
		positive, _ := pt["positive"].(map[string]any)
		negative, _ := pt["negative"].(map[string]any)
		appendInt32(rb, "positive_offset", toInt32(positive["offset"]), true)
		appendUint64List(rb.field("positive_bucket_counts").(*array.ListBuilder), toUint64Slice(positive["bucket_counts"]), true)
		appendInt32(rb, "negative_offset", toInt32(negative["offset"]), true)
		appendUint64List(rb.field("negative_bucket_counts").(*array.ListBuilder), toUint64Slice(negative["bucket_counts"]), true)
		acc.record(signalkey.MetricKindExponentialHistogram, ts, common.serviceName)
	}
}

func appendSummaryPointsJSON(acc *metricAccumulator, common commonRow, base metricBase, variant any) {
	rb := acc.builderFor(signalkey.MetricKindSummary)
	for _, ptAny := range dataPoints(variant) {
		pt, _ := ptAny.(map[string]any)
		ts := nanosToMicros(toUint64(pt["time_unix_nano"]))
		appendMetricBase(rb, common, base, ts, nil, nil, attrsFromJSON(pt["attributes"]))
		appendUint64Opt(rb, "count", toUint64(pt["count"]), true)
		appendFloat64Opt(rb, "sum", toFloat64(pt["sum"]), true)
		qvs, _ := pt["quantile_values"].([]any)
		quantiles := make([]float64, len(qvs))
		values := make([]float64, len(qvs))
		for i, qAny := range qvs {
			q, _ := qAny.(map[string]any)
			quantiles[i] = toFloat64(q["quantile"])
			values[i] = toFloat64(q["value"])
		}
		appendFloat64List(rb.field("quantile_quantiles").(*array.ListBuilder), quantiles, true)
		appendFloat64List(rb.field("quantile_values").(*array.ListBuilder), values, true)
		acc.record(signalkey.MetricKindSummary, ts, common.serviceName)
	}
}

func toUint64Slice(v any) []uint64 {
	arr, _ := v.([]any)
	out := make([]uint64, len(arr))
	for i, x := range arr {
		out[i] = toUint64(x)
	}
	return out
}

func toFloat64Slice(v any) []float64 {
	arr, _ := v.([]any)
	out := make([]float64, len(arr))
	for i, x := range arr {
		out[i] = toFloat64(x)
	}
	return out
}
