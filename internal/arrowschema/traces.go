package arrowschema

import "github.com/apache/arrow/go/v17/arrow"

// TracesSchema is the immutable, process-global schema for the traces
// signal. Events and links are flattened into parallel list-typed columns
// rather than list<struct>, because S3 Tables (among other Iceberg REST
// catalog targets) rejects nested list-of-struct columns.
func TracesSchema() *arrow.Schema {
	attrMap := attributeMapType()
	fields := append(commonFields(),
		withID(arrow.Field{Name: "parent_span_id", Type: &arrow.FixedSizeBinaryType{ByteWidth: 8}, Nullable: true}, FieldParentSpanID),
		withID(arrow.Field{Name: "trace_state", Type: arrow.BinaryTypes.String, Nullable: true}, FieldTraceState),
		withID(arrow.Field{Name: "span_name", Type: arrow.BinaryTypes.String}, FieldSpanName),
		withID(arrow.Field{Name: "span_kind", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldSpanKind),
		withID(arrow.Field{Name: "span_attributes", Type: attrMap, Nullable: true}, FieldSpanAttributes),
		withID(arrow.Field{Name: "duration", Type: arrow.PrimitiveTypes.Int64, Nullable: true}, FieldDuration),
		withID(arrow.Field{Name: "status_code", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldStatusCode),
		withID(arrow.Field{Name: "status_message", Type: arrow.BinaryTypes.String, Nullable: true}, FieldStatusMessage),
		withID(arrow.Field{Name: "events_timestamp", Type: arrow.ListOf(arrow.FixedWidthTypes.Timestamp_us), Nullable: true}, FieldEventsTimestamp),
		withID(arrow.Field{Name: "events_name", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true}, FieldEventsName),
		withID(arrow.Field{Name: "events_attributes", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true}, FieldEventsAttributes),
		withID(arrow.Field{Name: "links_trace_id", Type: arrow.ListOf(&arrow.FixedSizeBinaryType{ByteWidth: 16}), Nullable: true}, FieldLinksTraceID),
		withID(arrow.Field{Name: "links_span_id", Type: arrow.ListOf(&arrow.FixedSizeBinaryType{ByteWidth: 8}), Nullable: true}, FieldLinksSpanID),
		withID(arrow.Field{Name: "links_trace_state", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true}, FieldLinksTraceState),
		withID(arrow.Field{Name: "links_attributes", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true}, FieldLinksAttributes),
	)
	return arrow.NewSchema(fields, nil)
}
