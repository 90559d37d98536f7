// Package arrowio holds the Arrow IPC stream encode/decode helpers shared
// by the batchers and the DLQ writer, using a
// round-trip-through-bytes.Buffer pattern.
package arrowio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/ipc"

	otelmemory "github.com/smithclay/otlp2parquet-go/internal/memory"
)

// EncodeRecord serializes a single RecordBatch as a self-contained Arrow
// IPC stream (schema + one batch), the unit of storage for a batcher chunk
// and for a DLQ blob.
func EncodeRecord(rec arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(otelmemory.Shared()))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("arrowio: write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("arrowio: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRecords reads every RecordBatch out of an Arrow IPC stream. The
// returned records are retained; callers must Release them.
func DecodeRecords(data []byte) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(otelmemory.Shared()))
	if err != nil {
		return nil, fmt.Errorf("arrowio: new reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		for _, r := range records {
			r.Release()
		}
		return nil, fmt.Errorf("arrowio: read records: %w", err)
	}
	return records, nil
}
