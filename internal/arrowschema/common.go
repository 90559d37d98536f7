package arrowschema

import "github.com/apache/arrow/go/v17/arrow"

// commonFields returns the fields shared by every signal schema (field IDs
// 1-20), in the order lists them.
func commonFields() []arrow.Field {
	return []arrow.Field{
		withID(arrow.Field{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_us}, FieldTimestamp),
		withID(arrow.Field{Name: "trace_id", Type: &arrow.FixedSizeBinaryType{ByteWidth: 16}, Nullable: true}, FieldTraceID),
		withID(arrow.Field{Name: "span_id", Type: &arrow.FixedSizeBinaryType{ByteWidth: 8}, Nullable: true}, FieldSpanID),
		withID(arrow.Field{Name: "service_name", Type: arrow.BinaryTypes.String}, FieldServiceName),
		withID(arrow.Field{Name: "service_namespace", Type: arrow.BinaryTypes.String, Nullable: true}, FieldServiceNamespace),
		withID(arrow.Field{Name: "service_instance_id", Type: arrow.BinaryTypes.String, Nullable: true}, FieldServiceInstanceID),
		withID(arrow.Field{Name: "resource_attributes", Type: attributeMapType(), Nullable: true}, FieldResourceAttributes),
		withID(arrow.Field{Name: "resource_schema_url", Type: arrow.BinaryTypes.String, Nullable: true}, FieldResourceSchemaURL),
		withID(arrow.Field{Name: "scope_name", Type: arrow.BinaryTypes.String, Nullable: true}, FieldScopeName),
		withID(arrow.Field{Name: "scope_version", Type: arrow.BinaryTypes.String, Nullable: true}, FieldScopeVersion),
		withID(arrow.Field{Name: "scope_attributes", Type: attributeMapType(), Nullable: true}, FieldScopeAttributes),
		withID(arrow.Field{Name: "scope_schema_url", Type: arrow.BinaryTypes.String, Nullable: true}, FieldScopeSchemaURL),
	}
}

// attributeMapType is the plain map<string,string> used for resource/scope
// attributes and for every signal's own attribute column except logs, whose
// body/attributes need the struct-of-options encoding below.
func attributeMapType() *arrow.MapType {
	return arrow.MapOf(arrow.BinaryTypes.String, arrow.BinaryTypes.String)
}

// anyValueStructType is the struct-of-options representation of OTLP
// AnyValue: exactly one field is non-null per row. kvlistValue and
// arrayValue are represented as JSON-encoded strings, since the target
// catalogs this system writes for have uneven nested-type support — the
// same reasoning applies to flattening trace events/links.
func anyValueStructType() *arrow.StructType {
	return arrow.StructOf(
		arrow.Field{Name: "string_value", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "bool_value", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		arrow.Field{Name: "int_value", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "double_value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		arrow.Field{Name: "bytes_value", Type: arrow.BinaryTypes.Binary, Nullable: true},
		arrow.Field{Name: "array_value_json", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "kvlist_value_json", Type: arrow.BinaryTypes.String, Nullable: true},
	)
}

// logAttributesMapType is the "map-of-struct" column used for log
// attributes, since log attribute values (unlike resource/scope attributes)
// may carry non-string OTLP AnyValue payloads.
func logAttributesMapType() *arrow.MapType {
	return arrow.MapOf(arrow.BinaryTypes.String, anyValueStructType())
}
