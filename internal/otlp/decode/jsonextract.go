package decode

import "github.com/goccy/go-json"

// scalarFromJSON converts a normalized AnyValue node — a map with exactly
// one PascalCase discriminant key (StringValue, BoolValue, IntValue,
// DoubleValue, BytesValue, ArrayValue, KvlistValue) — into a scalarValue.
func scalarFromJSON(node any) scalarValue {
	m, ok := node.(map[string]any)
	if !ok {
		return scalarValue{}
	}
	if v, ok := m["StringValue"]; ok {
		s, _ := v.(string)
		return scalarValue{valid: true, hasStr: true, str: s}
	}
	if v, ok := m["BoolValue"]; ok {
		b, _ := v.(bool)
		return scalarValue{valid: true, hasBool: true, boolean: b}
	}
	if v, ok := m["IntValue"]; ok {
		return scalarValue{valid: true, hasInt: true, i64: toInt64(v)}
	}
	if v, ok := m["DoubleValue"]; ok {
		return scalarValue{valid: true, hasDouble: true, f64: toFloat64(v)}
	}
	if v, ok := m["BytesValue"]; ok {
		return scalarValue{valid: true, hasBytes: true, bytes: toBytes(v)}
	}
	if v, ok := m["ArrayValue"]; ok {
		b, _ := json.Marshal(v)
		return scalarValue{valid: true, hasArray: true, arrayJSON: string(b)}
	}
	if v, ok := m["KvlistValue"]; ok {
		b, _ := json.Marshal(v)
		return scalarValue{valid: true, hasKVList: true, kvlistJSON: string(b)}
	}
	return scalarValue{}
}

// attrsFromJSON converts a normalized OTLP `attributes` array
// (`[{"key":"k","value":{"StringValue":"v"}}, ...]`) into a string map,
// JSON-encoding any non-string AnyValue.
func attrsFromJSON(node any) map[string]string {
	arr, _ := node.([]any)
	out := make(map[string]string, len(arr))
	for _, item := range arr {
		kv, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := kv["key"].(string)
		sv := scalarFromJSON(kv["value"])
		out[key] = scalarValueToString(sv)
	}
	return out
}

// logAttrsFromJSON is the map-of-AnyValue counterpart used for log
// attributes, which retain full type fidelity.
func logAttrsFromJSON(node any) map[string]scalarValue {
	arr, _ := node.([]any)
	out := make(map[string]scalarValue, len(arr))
	for _, item := range arr {
		kv, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := kv["key"].(string)
		out[key] = scalarFromJSON(kv["value"])
	}
	return out
}

func scalarValueToString(v scalarValue) string {
	switch {
	case v.hasStr:
		return v.str
	case v.hasBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case v.hasInt:
		b, _ := json.Marshal(v.i64)
		return string(b)
	case v.hasDouble:
		b, _ := json.Marshal(v.f64)
		return string(b)
	case v.hasBytes:
		b, _ := json.Marshal(v.bytes)
		return string(b)
	case v.hasArray:
		return v.arrayJSON
	case v.hasKVList:
		return v.kvlistJSON
	default:
		return ""
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

func toUint32(v any) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case uint64:
		return uint32(n)
	case int64:
		return uint32(n)
	case float64:
		return uint32(n)
	default:
		return 0
	}
}

func toInt32(v any) int32 {
	switch n := v.(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	case uint32:
		return int32(n)
	case uint64:
		return int32(n)
	case float64:
		return int32(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}

func toBytes(v any) []byte {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]byte, len(arr))
	for i, b := range arr {
		switch n := b.(type) {
		case byte:
			out[i] = n
		case float64:
			out[i] = byte(n)
		case int64:
			out[i] = byte(n)
		}
	}
	return out
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
