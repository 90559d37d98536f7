// Package jsonnorm rewrites canonical OTLP JSON (camelCase keys,
// string-encoded 64-bit integers, hex-or-base64 IDs, symbolic enums) into
// the snake_case, natively-typed, tagged-union form the hand-rolled
// decoders in internal/otlp/decode walk directly.
package jsonnorm

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Key-hint constants the caller threads through recursive calls so that
// default-filling and structural rewrites can be context sensitive, the
// same way the field the value is nested under drives behavior in the
// OTLP wire format itself.
const (
	HintLogRecords   = "log_records"
	HintScopeLogs    = "scope_logs"
	HintResourceLogs = "resource_logs"
	HintResource     = "resource"
	HintScope        = "scope"
	HintSpans        = "spans"
	HintScopeSpans   = "scope_spans"
	HintResourceSpans = "resource_spans"
	HintEvents       = "events"
	HintLinks        = "links"
	HintStatus       = "status"

	HintResourceMetrics = "resource_metrics"
	HintScopeMetrics    = "scope_metrics"
	HintMetrics         = "metrics"
	HintDataPoints      = "data_points"
	HintGauge           = "gauge"
	HintSum             = "sum"
	HintHistogram       = "histogram"
	HintExpHistogram    = "exponential_histogram"
	HintSummary         = "summary"
	HintQuantileValues  = "quantile_values"
	HintPositive        = "positive"
	HintNegative        = "negative"
	HintValue           = "value"
)

var u64Fields = map[string]bool{
	"time_unix_nano": true, "observed_time_unix_nano": true,
	"start_time_unix_nano": true, "end_time_unix_nano": true,
	"count": true, "zero_count": true, "scale": true,
}

var u32Fields = map[string]bool{
	"dropped_attributes_count": true, "flags": true, "trace_flags": true,
	"dropped_events_count": true, "dropped_links_count": true,
}

var i64Fields = map[string]bool{"int_value": true, "as_int": true}
var f64Fields = map[string]bool{"double_value": true, "as_double": true}

var anyValueVariants = map[string]bool{
	"string_value": true, "bool_value": true, "int_value": true,
	"double_value": true, "array_value": true, "kvlist_value": true,
	"bytes_value": true,
}

var metricVariants = [...]struct {
	field, variant string
}{
	{"gauge", "Gauge"},
	{"sum", "Sum"},
	{"histogram", "Histogram"},
	{"exponential_histogram", "ExponentialHistogram"},
	{"summary", "Summary"},
}

// Normalize recursively builds a normalized copy of value and returns it;
// the input tree is left unmodified.
func Normalize(value any, keyHint string) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return normalizeObject(v, keyHint)
	case []any:
		return normalizeArray(v, keyHint)
	case string:
		return convertStringField(keyHint, v)
	default:
		return value, nil
	}
}

func normalizeObject(m map[string]any, keyHint string) (any, error) {
	out := make(map[string]any, len(m))
	for key, val := range m {
		snake := camelToSnake(key)
		hintKey := snake
		normalized, err := Normalize(val, hintKey)
		if err != nil {
			return nil, fmt.Errorf("jsonnorm: field %q: %w", key, err)
		}
		finalKey := snake
		if anyValueVariants[snake] {
			finalKey = snakeToPascal(snake)
		}
		out[finalKey] = normalized
	}
	fillDefaults(out, keyHint)
	rewriteMetricVariant(out, keyHint)
	rewriteDataPointValue(out, keyHint)
	return out, nil
}

func normalizeArray(arr []any, keyHint string) (any, error) {
	out := make([]any, len(arr))
	if keyHint == "bucket_counts" {
		for i, item := range arr {
			s, ok := item.(string)
			if !ok {
				out[i] = item
				continue
			}
			n, err := parseUint(s)
			if err != nil {
				return nil, fmt.Errorf("jsonnorm: bucket_counts[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}
	for i, item := range arr {
		normalized, err := Normalize(item, keyHint)
		if err != nil {
			return nil, fmt.Errorf("jsonnorm: element %d: %w", i, err)
		}
		out[i] = normalized
	}
	return out, nil
}

// fillDefaults backfills required-but-omitted protobuf fields, keyed on
// the hint of the object's parent field — mirroring the context-sensitive
// defaulting the original decoder needed because absent required fields
// are treated as hard errors downstream.
func fillDefaults(m map[string]any, keyHint string) {
	setDefault := func(k string, v any) {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	switch keyHint {
	case HintLogRecords:
		setDefault("dropped_attributes_count", uint32(0))
		setDefault("flags", uint32(0))
		setDefault("observed_time_unix_nano", uint64(0))
		setDefault("time_unix_nano", uint64(0))
		setDefault("severity_number", int32(0))
		setDefault("severity_text", "")
		setDefault("attributes", []any{})
		setDefault("trace_id", []any{})
		setDefault("span_id", []any{})
	case HintScopeLogs, HintResourceLogs:
		setDefault("schema_url", "")
	case HintScopeSpans:
		setDefault("schema_url", "")
		setDefault("spans", []any{})
	case HintResourceSpans:
		setDefault("schema_url", "")
		setDefault("scope_spans", []any{})
	case HintResource:
		setDefault("dropped_attributes_count", uint32(0))
		setDefault("attributes", []any{})
	case HintScope:
		setDefault("dropped_attributes_count", uint32(0))
		setDefault("name", "")
		setDefault("version", "")
		setDefault("attributes", []any{})
	case HintSpans:
		setDefault("trace_id", []any{})
		setDefault("span_id", []any{})
		setDefault("parent_span_id", []any{})
		setDefault("trace_state", "")
		setDefault("flags", uint32(0))
		setDefault("name", "")
		setDefault("kind", int32(0))
		setDefault("start_time_unix_nano", uint64(0))
		setDefault("end_time_unix_nano", uint64(0))
		setDefault("attributes", []any{})
		setDefault("dropped_attributes_count", uint32(0))
		setDefault("events", []any{})
		setDefault("dropped_events_count", uint32(0))
		setDefault("links", []any{})
		setDefault("dropped_links_count", uint32(0))
		setDefault("status", map[string]any{"code": int32(0), "message": ""})
	case HintEvents:
		setDefault("time_unix_nano", uint64(0))
		setDefault("name", "")
		setDefault("attributes", []any{})
		setDefault("dropped_attributes_count", uint32(0))
	case HintLinks:
		setDefault("trace_id", []any{})
		setDefault("span_id", []any{})
		setDefault("trace_state", "")
		setDefault("attributes", []any{})
		setDefault("dropped_attributes_count", uint32(0))
	case HintStatus:
		setDefault("code", int32(0))
		setDefault("message", "")
	case HintResourceMetrics:
		setDefault("schema_url", "")
		setDefault("scope_metrics", []any{})
	case HintScopeMetrics:
		setDefault("schema_url", "")
		setDefault("metrics", []any{})
	case HintDataPoints:
		setDefault("time_unix_nano", uint64(0))
		setDefault("start_time_unix_nano", uint64(0))
		setDefault("attributes", []any{})
		setDefault("exemplars", []any{})
		setDefault("flags", uint32(0))
		if _, hasScale := m["scale"]; hasScale {
			setDefault("zero_threshold", float64(0))
		}
	case HintGauge, HintSummary:
		setDefault("data_points", []any{})
	case HintSum:
		setDefault("data_points", []any{})
		setDefault("aggregation_temporality", int32(0))
		setDefault("is_monotonic", false)
	case HintHistogram, HintExpHistogram:
		setDefault("data_points", []any{})
		setDefault("aggregation_temporality", int32(0))
	case HintQuantileValues:
		setDefault("quantile", float64(0))
		setDefault("value", float64(0))
	case HintPositive, HintNegative:
		setDefault("offset", int32(0))
		setDefault("bucket_counts", []any{})
	}
}

// rewriteMetricVariant relocates the inline OTLP metric variant
// ("gauge"/"sum"/...) into the tagged-union shape
// {"data": {"Gauge": {...}}} the decoder's sum-type matching expects.
func rewriteMetricVariant(m map[string]any, keyHint string) {
	if keyHint != HintMetrics {
		return
	}
	for _, mv := range metricVariants {
		if data, ok := m[mv.field]; ok {
			delete(m, mv.field)
			m["data"] = map[string]any{mv.variant: data}
			return
		}
	}
}

// rewriteDataPointValue folds as_double/as_int into the tagged value
// union {"value": {"AsDouble": v}} / {"value": {"AsInt": v}}.
func rewriteDataPointValue(m map[string]any, keyHint string) {
	if keyHint != HintDataPoints {
		return
	}
	if v, ok := m["as_double"]; ok {
		delete(m, "as_double")
		m["value"] = map[string]any{"AsDouble": v}
	} else if v, ok := m["as_int"]; ok {
		delete(m, "as_int")
		m["value"] = map[string]any{"AsInt": v}
	}
}

func convertStringField(keyHint, value string) (any, error) {
	if value == "" {
		return value, nil
	}
	switch {
	case u64Fields[keyHint]:
		n, err := parseUint(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", keyHint, err)
		}
		return n, nil
	case u32Fields[keyHint]:
		n, err := parseUint(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", keyHint, err)
		}
		return uint32(n), nil
	case i64Fields[keyHint]:
		n, err := parseInt(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", keyHint, err)
		}
		return n, nil
	case f64Fields[keyHint]:
		f, err := parseFloat(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", keyHint, err)
		}
		return f, nil
	case keyHint == "trace_id" || keyHint == "span_id" || keyHint == "parent_span_id":
		return decodeID(keyHint, value)
	case keyHint == "kind":
		if n, ok := spanKindValues[value]; ok {
			return int32(n), nil
		}
	case keyHint == "code":
		if n, ok := statusCodeValues[value]; ok {
			return int32(n), nil
		}
	case keyHint == "severity_number":
		if n, ok := severityNumberValues[value]; ok {
			return int32(n), nil
		}
	case keyHint == "aggregation_temporality":
		if n, ok := aggTemporalityValues[value]; ok {
			return int32(n), nil
		}
	}
	return value, nil
}

// decodeID accepts hex (even-length, all hex digits) or base64 and
// returns a []any of bytes so the rest of the normalized tree stays a
// plain JSON-shaped value.
func decodeID(field, value string) (any, error) {
	var raw []byte
	var err error
	if isHex(value) {
		raw, err = hex.DecodeString(value)
	} else {
		raw, err = base64.StdEncoding.DecodeString(value)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", field, value, err)
	}
	out := make([]any, len(raw))
	for i, b := range raw {
		out[i] = b
	}
	return out, nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
