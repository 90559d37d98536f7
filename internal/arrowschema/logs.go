package arrowschema

import "github.com/apache/arrow/go/v17/arrow"

// LogsSchema is the immutable, process-global schema for the logs signal
// (common fields 1-20 plus logs-specific fields 21-27).
func LogsSchema() *arrow.Schema {
	fields := append(commonFields(),
		withID(arrow.Field{Name: "observed_timestamp", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true}, FieldObservedTimestamp),
		withID(arrow.Field{Name: "trace_flags", Type: arrow.PrimitiveTypes.Uint32, Nullable: true}, FieldTraceFlags),
		withID(arrow.Field{Name: "severity_text", Type: arrow.BinaryTypes.String, Nullable: true}, FieldSeverityText),
		withID(arrow.Field{Name: "severity_number", Type: arrow.PrimitiveTypes.Int32, Nullable: true}, FieldSeverityNumber),
		withID(arrow.Field{Name: "body", Type: anyValueStructType(), Nullable: true}, FieldBody),
		withID(arrow.Field{Name: "log_attributes", Type: logAttributesMapType(), Nullable: true}, FieldLogAttributes),
	)
	return arrow.NewSchema(fields, nil)
}
