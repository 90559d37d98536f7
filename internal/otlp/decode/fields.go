package decode

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/collector/pdata/pcommon"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// attrsToJSONString renders an attribute map as a JSON object string, used
// for trace events/links attributes columns (flattened to list<string>
// since some catalogs reject nested list<struct>).
func attrsToJSONString(m map[string]string) string {
	b, _ := json.Marshal(m)
	return string(b)
}

func logsKey() signalkey.Key   { return signalkey.Logs() }
func tracesKey() signalkey.Key { return signalkey.Traces() }

// splitServiceAttrs extracts the three well-known service.* resource
// attributes and returns the remaining attributes for the resource
// attribute map column, matching "Logs" algorithm.
func splitServiceAttrs(attrs map[string]string) (service, namespace, instance string, rest map[string]string) {
	rest = make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch k {
		case "service.name":
			service = v
		case "service.namespace":
			namespace = v
		case "service.instance.id":
			instance = v
		default:
			rest[k] = v
		}
	}
	return service, namespace, instance, rest
}

func appendTimestampOpt(rb *recordBuilder, field string, nanos uint64) {
	b := rb.field(field).(*array.TimestampBuilder)
	if nanos == 0 {
		b.AppendNull()
		return
	}
	b.Append(arrow.Timestamp(nanosToMicros(nanos)))
}

func appendUint32(rb *recordBuilder, field string, v uint32, present bool) {
	b := rb.field(field).(*array.Uint32Builder)
	if !present {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func appendInt32(rb *recordBuilder, field string, v int32, present bool) {
	b := rb.field(field).(*array.Int32Builder)
	if !present {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func appendInt64Opt(rb *recordBuilder, field string, v int64, present bool) {
	b := rb.field(field).(*array.Int64Builder)
	if !present {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func appendUint64Opt(rb *recordBuilder, field string, v uint64, present bool) {
	b := rb.field(field).(*array.Uint64Builder)
	if !present {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func appendFloat64Opt(rb *recordBuilder, field string, v float64, present bool) {
	b := rb.field(field).(*array.Float64Builder)
	if !present {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func appendBoolOpt(rb *recordBuilder, field string, v bool, present bool) {
	b := rb.field(field).(*array.BooleanBuilder)
	if !present {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func appendOptStringField(rb *recordBuilder, field, v string) {
	appendOptString(rb.field(field).(*array.StringBuilder), v, v != "")
}

func appendBodyStruct(rb *recordBuilder, v pcommon.Value) {
	appendAnyValueStruct(rb.field("body").(*array.StructBuilder), scalarFromPcommon(v))
}

func appendBodyJSON(rb *recordBuilder, node any) {
	appendAnyValueStruct(rb.field("body").(*array.StructBuilder), scalarFromJSON(node))
}

func appendLogAttrsField(rb *recordBuilder, field string, m map[string]scalarValue) {
	appendLogAttrsMap(rb.field(field).(*array.MapBuilder), m)
}
