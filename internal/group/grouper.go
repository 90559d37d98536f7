// Package group partitions a decoded RecordBatch by
// service_name, preserving first-encounter order, and computing the
// per-group row count and minimum timestamp that the sink and
// batchers need for partitioning.
package group

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	otelmemory "github.com/smithclay/otlp2parquet-go/internal/memory"
)

// Group is one (service, rows) slice of a decoded batch, in first-encounter
// order of services within the source batch.
type Group struct {
	ServiceName        string
	Batch              arrow.Record
	RecordCount        int
	MinTimestampMicros int64
}

// ByService slices rec by its service_name column, preserving the first
// occurrence order of each service. The service_name column remains in the
// output so downstream consumers stay schema-uniform.
func ByService(rec arrow.Record) ([]Group, error) {
	idx := fieldIndex(rec.Schema(), "service_name")
	if idx < 0 {
		return nil, fmt.Errorf("group: schema has no service_name column")
	}
	svcArr, ok := rec.Column(idx).(*array.String)
	if !ok {
		return nil, fmt.Errorf("group: service_name column is not string-typed")
	}

	tsIdx := fieldIndex(rec.Schema(), "timestamp")

	var order []string
	seen := make(map[string]int)
	rowsByService := make(map[string][]int)
	n := int(rec.NumRows())
	for i := 0; i < n; i++ {
		name := svcArr.Value(i)
		if _, ok := seen[name]; !ok {
			seen[name] = len(order)
			order = append(order, name)
		}
		rowsByService[name] = append(rowsByService[name], i)
	}

	groups := make([]Group, 0, len(order))
	for _, name := range order {
		rows := rowsByService[name]
		batch, err := takeRows(rec, rows)
		if err != nil {
			return nil, fmt.Errorf("group: service %q: %w", name, err)
		}
		var minTS int64
		if tsIdx >= 0 {
			minTS = minTimestamp(rec.Column(tsIdx).(*array.Timestamp), rows)
		}
		groups = append(groups, Group{
			ServiceName:        name,
			Batch:              batch,
			RecordCount:        len(rows),
			MinTimestampMicros: minTS,
		})
	}
	return groups, nil
}

func fieldIndex(schema *arrow.Schema, name string) int {
	idxs := schema.FieldIndices(name)
	if len(idxs) == 0 {
		return -1
	}
	return idxs[0]
}

func minTimestamp(col *array.Timestamp, rows []int) int64 {
	var min int64
	first := true
	for _, r := range rows {
		if col.IsNull(r) {
			continue
		}
		v := int64(col.Value(r))
		if first || v < min {
			min = v
			first = false
		}
	}
	return min
}

// takeRows builds a new RecordBatch containing only the given row indices
// of rec, in order, by re-appending each column's values through a fresh
// builder. The set of Arrow types handled is exactly the set used by
// internal/arrowschema's signal schemas.
func takeRows(rec arrow.Record, rows []int) (arrow.Record, error) {
	schema := rec.Schema()
	mem := otelmemory.Shared()
	builders := make([]array.Builder, schema.NumFields())
	for i, f := range schema.Fields() {
		builders[i] = array.NewBuilder(mem, f.Type)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for i := 0; i < schema.NumFields(); i++ {
		src := rec.Column(i)
		dst := builders[i]
		for _, row := range rows {
			if err := copyValue(dst, src, row); err != nil {
				return nil, fmt.Errorf("column %q: %w", schema.Field(i).Name, err)
			}
		}
	}

	cols := make([]arrow.Array, schema.NumFields())
	for i, b := range builders {
		cols[i] = b.NewArray()
		defer cols[i].Release()
	}
	return array.NewRecord(schema, cols, int64(len(rows))), nil
}

// copyValue appends src[row] onto dst, handling every Arrow type that
// appears in internal/arrowschema: timestamps, fixed-size binary, strings,
// ints/uints/floats/bool, map<string,string>, map<string,struct> (the
// AnyValue representation), struct (AnyValue), and list<T> for every T the
// traces/metrics schemas use.
func copyValue(dst array.Builder, src arrow.Array, row int) error {
	if src.IsNull(row) {
		dst.AppendNull()
		return nil
	}
	switch s := src.(type) {
	case *array.Timestamp:
		dst.(*array.TimestampBuilder).Append(s.Value(row))
	case *array.FixedSizeBinary:
		dst.(*array.FixedSizeBinaryBuilder).Append(s.Value(row))
	case *array.String:
		dst.(*array.StringBuilder).Append(s.Value(row))
	case *array.Binary:
		dst.(*array.BinaryBuilder).Append(s.Value(row))
	case *array.Boolean:
		dst.(*array.BooleanBuilder).Append(s.Value(row))
	case *array.Int32:
		dst.(*array.Int32Builder).Append(s.Value(row))
	case *array.Int64:
		dst.(*array.Int64Builder).Append(s.Value(row))
	case *array.Uint32:
		dst.(*array.Uint32Builder).Append(s.Value(row))
	case *array.Uint64:
		dst.(*array.Uint64Builder).Append(s.Value(row))
	case *array.Float64:
		dst.(*array.Float64Builder).Append(s.Value(row))
	case *array.Map:
		return copyMap(dst.(*array.MapBuilder), s, row)
	case *array.Struct:
		return copyStruct(dst.(*array.StructBuilder), s, row)
	case *array.List:
		return copyList(dst.(*array.ListBuilder), s, row)
	default:
		return fmt.Errorf("group: unsupported column type %s", src.DataType())
	}
	return nil
}

func copyMap(dst *array.MapBuilder, src *array.Map, row int) error {
	dst.Append(true)
	keys := src.Keys()
	items := src.Items()
	start, end := src.ValueOffsets(row)
	keyB := dst.KeyBuilder()
	itemB := dst.ItemBuilder()
	for i := start; i < end; i++ {
		if err := copyValue(keyB, keys, int(i)); err != nil {
			return err
		}
		if err := copyValue(itemB, items, int(i)); err != nil {
			return err
		}
	}
	return nil
}

func copyStruct(dst *array.StructBuilder, src *array.Struct, row int) error {
	dst.Append(true)
	for f := 0; f < src.NumField(); f++ {
		if err := copyValue(dst.FieldBuilder(f), src.Field(f), row); err != nil {
			return err
		}
	}
	return nil
}

func copyList(dst *array.ListBuilder, src *array.List, row int) error {
	start, end := src.ValueOffsets(row)
	dst.Append(true)
	values := src.ListValues()
	vb := dst.ValueBuilder()
	for i := start; i < end; i++ {
		if err := copyValue(vb, values, int(i)); err != nil {
			return err
		}
	}
	return nil
}
