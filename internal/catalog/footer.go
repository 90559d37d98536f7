package catalog

import (
	"bytes"
	"fmt"

	pq "github.com/parquet-go/parquet-go"
)

// Inspect reads a Parquet file's footer (not its row data) far enough to
// sanity-check it before handing it to a table.SnapshotWriter's Append,
// which computes the real manifest-entry statistics itself. It uses
// parquet-go/parquet-go rather than arrow/go/v17/parquet (the writer's
// library) because parquet-go exposes the raw Thrift FileMetaData this
// pipeline needs without re-materializing any column data.
func Inspect(data []byte, path string) (DataFile, error) {
	pf, err := pq.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return DataFile{}, fmt.Errorf("catalog: open parquet footer for %s: %w", path, err)
	}
	return DataFile{
		FilePath:      path,
		FileFormat:    "PARQUET",
		RecordCount:   pf.NumRows(),
		FileSizeBytes: int64(len(data)),
	}, nil
}
