// Package catalog implements the commit pipeline that folds flushed
// Parquet files into Iceberg table snapshots via a REST catalog. It lists
// uncommitted PendingReceipts, groups them by table, derives an
// Iceberg schema and partition spec on first use, and appends each
// receipted Parquet file to a table.SnapshotWriter from
// github.com/polarsignals/iceberg-go, which owns manifest encoding and
// atomic snapshot commit.
package catalog

// DataFile carries the subset of Parquet-footer facts this package logs
// or sanity-checks before handing a file to iceberg-go's SnapshotWriter,
// which recomputes its own manifest-entry statistics on Append.
type DataFile struct {
	FilePath      string
	FileFormat    string
	RecordCount   int64
	FileSizeBytes int64
}
