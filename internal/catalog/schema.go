package catalog

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	iceberg "github.com/polarsignals/iceberg-go"

	"github.com/smithclay/otlp2parquet-go/internal/arrowschema"
)

// IcebergSchema converts an Arrow schema carrying arrowschema's embedded
// field IDs into an *iceberg.Schema suitable for CreateTable. Every field
// must already carry a PARQUET:field_id (arrowschema.SchemaFor always
// stamps one); a field without one is a caller bug, not a skippable
// column, since Iceberg identifies columns by ID rather than position.
func IcebergSchema(schema *arrow.Schema) (*iceberg.Schema, error) {
	fields := make([]iceberg.NestedField, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		id, ok := arrowschema.FieldID(f)
		if !ok {
			return nil, fmt.Errorf("catalog: arrow field %q has no embedded field id", f.Name)
		}
		t, err := icebergType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("catalog: field %q: %w", f.Name, err)
		}
		fields = append(fields, iceberg.NestedField{
			ID:       id,
			Name:     f.Name,
			Type:     t,
			Required: !f.Nullable,
		})
	}
	return iceberg.NewSchema(0, fields...), nil
}

// icebergType maps an Arrow type to its Iceberg primitive or nested type.
// Map and struct columns are declared as Iceberg strings here, while the
// sink's Parquet files keep them as nested map/struct columns.
func icebergType(dt arrow.DataType) (iceberg.Type, error) {
	switch t := dt.(type) {
	case *arrow.StringType:
		return iceberg.PrimitiveTypes.String, nil
	case *arrow.BinaryType:
		return iceberg.PrimitiveTypes.Binary, nil
	case *arrow.BooleanType:
		return iceberg.PrimitiveTypes.Bool, nil
	case *arrow.Int32Type:
		return iceberg.PrimitiveTypes.Int32, nil
	case *arrow.Int64Type:
		return iceberg.PrimitiveTypes.Int64, nil
	case *arrow.Uint32Type:
		return iceberg.PrimitiveTypes.Int64, nil
	case *arrow.Uint64Type:
		// Iceberg has no unsigned type; Int64 holds the counts/bucket values
		// the histogram variants carry up to math.MaxInt64.
		return iceberg.PrimitiveTypes.Int64, nil
	case *arrow.Float32Type:
		return iceberg.PrimitiveTypes.Float32, nil
	case *arrow.Float64Type:
		return iceberg.PrimitiveTypes.Float64, nil
	case *arrow.FixedSizeBinaryType:
		return iceberg.FixedTypeOf(t.ByteWidth), nil
	case *arrow.TimestampType:
		return iceberg.PrimitiveTypes.Timestamp, nil
	case *arrow.MapType:
		return iceberg.PrimitiveTypes.String, nil
	case *arrow.StructType:
		return iceberg.PrimitiveTypes.String, nil
	case *arrow.ListType:
		elem, err := icebergType(t.Elem())
		if err != nil {
			return nil, err
		}
		return &iceberg.ListType{ElementID: 0, Element: elem, ElementRequired: false}, nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", dt)
	}
}
