package decode

import (
	"github.com/goccy/go-json"
	"go.opentelemetry.io/collector/pdata/pcommon"
)

// scalarValue is the neutral struct-of-options representation of an OTLP
// AnyValue, populated from either a pdata pcommon.Value (protobuf path) or
// a normalized JSON tree node (JSON path) so the Arrow append logic
// downstream never needs to know which path produced it.
type scalarValue struct {
	valid      bool
	str        string
	hasStr     bool
	boolean    bool
	hasBool    bool
	i64        int64
	hasInt     bool
	f64        float64
	hasDouble  bool
	bytes      []byte
	hasBytes   bool
	arrayJSON  string
	hasArray   bool
	kvlistJSON string
	hasKVList  bool
}

func scalarFromPcommon(v pcommon.Value) scalarValue {
	switch v.Type() {
	case pcommon.ValueTypeStr:
		return scalarValue{valid: true, hasStr: true, str: v.Str()}
	case pcommon.ValueTypeBool:
		return scalarValue{valid: true, hasBool: true, boolean: v.Bool()}
	case pcommon.ValueTypeInt:
		return scalarValue{valid: true, hasInt: true, i64: v.Int()}
	case pcommon.ValueTypeDouble:
		return scalarValue{valid: true, hasDouble: true, f64: v.Double()}
	case pcommon.ValueTypeBytes:
		return scalarValue{valid: true, hasBytes: true, bytes: v.Bytes().AsRaw()}
	case pcommon.ValueTypeSlice:
		b, _ := json.Marshal(sliceToPlain(v.Slice()))
		return scalarValue{valid: true, hasArray: true, arrayJSON: string(b)}
	case pcommon.ValueTypeMap:
		b, _ := json.Marshal(mapToPlain(v.Map()))
		return scalarValue{valid: true, hasKVList: true, kvlistJSON: string(b)}
	default:
		return scalarValue{}
	}
}

func sliceToPlain(s pcommon.Slice) []any {
	out := make([]any, s.Len())
	for i := 0; i < s.Len(); i++ {
		out[i] = valueToPlain(s.At(i))
	}
	return out
}

func mapToPlain(m pcommon.Map) map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		out[k] = valueToPlain(v)
		return true
	})
	return out
}

func valueToPlain(v pcommon.Value) any {
	switch v.Type() {
	case pcommon.ValueTypeStr:
		return v.Str()
	case pcommon.ValueTypeBool:
		return v.Bool()
	case pcommon.ValueTypeInt:
		return v.Int()
	case pcommon.ValueTypeDouble:
		return v.Double()
	case pcommon.ValueTypeBytes:
		return v.Bytes().AsRaw()
	case pcommon.ValueTypeSlice:
		return sliceToPlain(v.Slice())
	case pcommon.ValueTypeMap:
		return mapToPlain(v.Map())
	default:
		return nil
	}
}

// attrsFromPcommon renders a pcommon.Map as map<string,string>, JSON
// encoding any non-string value — used for resource/scope/span attributes,
// which the Arrow schema stores as plain string maps.
func attrsFromPcommon(m pcommon.Map) map[string]string {
	out := make(map[string]string, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		if v.Type() == pcommon.ValueTypeStr {
			out[k] = v.Str()
			return true
		}
		b, _ := json.Marshal(valueToPlain(v))
		out[k] = string(b)
		return true
	})
	return out
}

// logAttrsFromPcommon preserves full AnyValue fidelity for log attributes,
// whose Arrow column is map<string, struct-of-options> rather than a
// plain string map.
func logAttrsFromPcommon(m pcommon.Map) map[string]scalarValue {
	out := make(map[string]scalarValue, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		out[k] = scalarFromPcommon(v)
		return true
	})
	return out
}
