package decode

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	otelmemory "github.com/smithclay/otlp2parquet-go/internal/memory"
)

// recordBuilder wraps an array.RecordBuilder with a row counter so callers
// can split at batchRowThreshold without tracking state themselves.
type recordBuilder struct {
	schema *arrow.Schema
	rb     *array.RecordBuilder
	rows   int
}

func newRecordBuilder(schema *arrow.Schema) *recordBuilder {
	return &recordBuilder{schema: schema, rb: array.NewRecordBuilder(otelmemory.Shared(), schema)}
}

// full reports whether the builder has reached batchRowThreshold rows and
// should be flushed into a RecordBatch before further appends.
func (b *recordBuilder) full() bool { return b.rows >= batchRowThreshold }

func (b *recordBuilder) finish() arrow.Record {
	if b.rows == 0 {
		return nil
	}
	rec := b.rb.NewRecord()
	b.rows = 0
	return rec
}

func (b *recordBuilder) field(name string) array.Builder {
	idx := b.schema.FieldIndices(name)
	if len(idx) == 0 {
		return nil
	}
	return b.rb.Field(idx[0])
}

// commonRow carries the field-ID-range-1-20 values shared by every signal.
type commonRow struct {
	timestampMicros   int64
	traceID           []byte
	spanID            []byte
	serviceName       string
	serviceNamespace  string
	hasNamespace      bool
	serviceInstanceID string
	hasInstanceID     bool
	resourceAttrs     map[string]string
	resourceSchemaURL string
	scopeName         string
	scopeVersion      string
	scopeAttrs        map[string]string
	scopeSchemaURL    string
}

func appendCommon(b *recordBuilder, r commonRow) {
	b.field("timestamp").(*array.TimestampBuilder).Append(arrow.Timestamp(r.timestampMicros))
	appendFixedBytes(b.field("trace_id").(*array.FixedSizeBinaryBuilder), 16, r.traceID)
	appendFixedBytes(b.field("span_id").(*array.FixedSizeBinaryBuilder), 8, r.spanID)
	b.field("service_name").(*array.StringBuilder).Append(r.serviceName)
	appendOptString(b.field("service_namespace").(*array.StringBuilder), r.serviceNamespace, r.hasNamespace)
	appendOptString(b.field("service_instance_id").(*array.StringBuilder), r.serviceInstanceID, r.hasInstanceID)
	appendStringMap(b.field("resource_attributes").(*array.MapBuilder), r.resourceAttrs)
	appendOptString(b.field("resource_schema_url").(*array.StringBuilder), r.resourceSchemaURL, r.resourceSchemaURL != "")
	appendOptString(b.field("scope_name").(*array.StringBuilder), r.scopeName, r.scopeName != "")
	appendOptString(b.field("scope_version").(*array.StringBuilder), r.scopeVersion, r.scopeVersion != "")
	appendStringMap(b.field("scope_attributes").(*array.MapBuilder), r.scopeAttrs)
	appendOptString(b.field("scope_schema_url").(*array.StringBuilder), r.scopeSchemaURL, r.scopeSchemaURL != "")
}

func appendFixedBytes(b *array.FixedSizeBinaryBuilder, width int, v []byte) {
	if len(v) != width {
		v = make([]byte, width)
	}
	b.Append(v)
}

func appendOptString(b *array.StringBuilder, v string, present bool) {
	if !present {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func appendStringMap(b *array.MapBuilder, m map[string]string) {
	if m == nil {
		b.AppendNull()
		return
	}
	b.Append(true)
	keyB := b.KeyBuilder().(*array.StringBuilder)
	valB := b.ItemBuilder().(*array.StringBuilder)
	for k, v := range m {
		keyB.Append(k)
		valB.Append(v)
	}
}

// appendAnyValueStruct writes a scalarValue into the struct-of-options
// column used for log bodies and log attribute values.
func appendAnyValueStruct(b *array.StructBuilder, v scalarValue) {
	if !v.valid {
		b.AppendNull()
		return
	}
	b.Append(true)
	strB := b.FieldBuilder(0).(*array.StringBuilder)
	boolB := b.FieldBuilder(1).(*array.BooleanBuilder)
	intB := b.FieldBuilder(2).(*array.Int64Builder)
	dblB := b.FieldBuilder(3).(*array.Float64Builder)
	bytesB := b.FieldBuilder(4).(*array.BinaryBuilder)
	arrB := b.FieldBuilder(5).(*array.StringBuilder)
	kvB := b.FieldBuilder(6).(*array.StringBuilder)

	appendOptString(strB, v.str, v.hasStr)
	if v.hasBool {
		boolB.Append(v.boolean)
	} else {
		boolB.AppendNull()
	}
	if v.hasInt {
		intB.Append(v.i64)
	} else {
		intB.AppendNull()
	}
	if v.hasDouble {
		dblB.Append(v.f64)
	} else {
		dblB.AppendNull()
	}
	if v.hasBytes {
		bytesB.Append(v.bytes)
	} else {
		bytesB.AppendNull()
	}
	appendOptString(arrB, v.arrayJSON, v.hasArray)
	appendOptString(kvB, v.kvlistJSON, v.hasKVList)
}

func appendLogAttrsMap(b *array.MapBuilder, m map[string]scalarValue) {
	if m == nil {
		b.AppendNull()
		return
	}
	b.Append(true)
	keyB := b.KeyBuilder().(*array.StringBuilder)
	valB := b.ItemBuilder().(*array.StructBuilder)
	for k, v := range m {
		keyB.Append(k)
		appendAnyValueStruct(valB, v)
	}
}

func appendInt64List(b *array.ListBuilder, vals []int64, present bool) {
	if !present {
		b.AppendNull()
		return
	}
	b.Append(true)
	vb := b.ValueBuilder().(*array.Int64Builder)
	for _, v := range vals {
		vb.Append(v)
	}
}

func appendFloat64List(b *array.ListBuilder, vals []float64, present bool) {
	if !present {
		b.AppendNull()
		return
	}
	b.Append(true)
	vb := b.ValueBuilder().(*array.Float64Builder)
	for _, v := range vals {
		vb.Append(v)
	}
}

func appendUint64List(b *array.ListBuilder, vals []uint64, present bool) {
	if !present {
		b.AppendNull()
		return
	}
	b.Append(true)
	vb := b.ValueBuilder().(*array.Uint64Builder)
	for _, v := range vals {
		vb.Append(v)
	}
}

func appendStringList(b *array.ListBuilder, vals []string, present bool) {
	if !present {
		b.AppendNull()
		return
	}
	b.Append(true)
	vb := b.ValueBuilder().(*array.StringBuilder)
	for _, v := range vals {
		vb.Append(v)
	}
}

func appendTimestampList(b *array.ListBuilder, vals []int64, present bool) {
	if !present {
		b.AppendNull()
		return
	}
	b.Append(true)
	vb := b.ValueBuilder().(*array.TimestampBuilder)
	for _, v := range vals {
		vb.Append(arrow.Timestamp(v))
	}
}

func appendFixedBinaryList(b *array.ListBuilder, width int, vals [][]byte, present bool) {
	if !present {
		b.AppendNull()
		return
	}
	b.Append(true)
	vb := b.ValueBuilder().(*array.FixedSizeBinaryBuilder)
	for _, v := range vals {
		appendFixedBytes(vb, width, v)
	}
}
