// Package sink writes Arrow RecordBatches to a single
// Parquet file under a deterministic, time-partitioned object-storage
// path, propagating Arrow field-ID metadata into Parquet column metadata
// so Iceberg can resolve columns by ID. It writes via a pqarrow.FileWriter
// over ArrowWriterProperties/WriterProperties, built against an
// object-storage bucket instead of a local file.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/google/uuid"
	"github.com/thanos-io/objstore"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// Options configures the writer properties used for every file this sink
// produces. The zero value is invalid; use NewDefaultOptions.
type Options struct {
	Prefix            string
	RowGroupSize      int64
	Compression       compress.Compression
	TableNameOverride map[string]string // SignalKey.String() -> table name
}

func NewDefaultOptions() Options {
	return Options{
		RowGroupSize: 32768,
		Compression:  compress.Codecs.Snappy,
	}
}

// Sink writes decoded, grouped batches to object storage.
type Sink struct {
	bucket objstore.Bucket
	opts   Options
}

func New(bucket objstore.Bucket, opts Options) *Sink {
	return &Sink{bucket: bucket, opts: opts}
}

// Result is returned by Write: the object-storage path written and the
// number of rows it contains.
type Result struct {
	Path string
	Rows int64
}

// Write concatenates batches into a single Parquet file and uploads it,
// returning the object path. timestampMicros should be the group's minimum
// event timestamp; Write falls back to wall clock if it is zero.
func (s *Sink) Write(ctx context.Context, key signalkey.Key, serviceName string, timestampMicros int64, batches []arrow.Record) (Result, error) {
	if len(batches) == 0 {
		return Result{}, fmt.Errorf("sink: no batches to write")
	}
	ts := timestampMicros
	if ts == 0 {
		ts = time.Now().UnixMicro()
	}
	path := s.path(key, serviceName, ts)

	buf, rows, err := s.encode(batches)
	if err != nil {
		return Result{}, fmt.Errorf("sink: encode %s: %w", path, err)
	}
	if err := s.bucket.Upload(ctx, path, bytes.NewReader(buf.Bytes())); err != nil {
		return Result{}, fmt.Errorf("sink: upload %s: %w", path, err)
	}
	return Result{Path: path, Rows: rows}, nil
}

func (s *Sink) encode(batches []arrow.Record) (*bytes.Buffer, int64, error) {
	schema := batches[0].Schema()
	var buf bytes.Buffer

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(s.opts.Compression),
		parquet.WithMaxRowGroupLength(s.opts.RowGroupSize),
	)
	arrowProps := pqarrow.DefaultWriterProps()

	writer, err := pqarrow.NewFileWriter(schema, &buf, writerProps, arrowProps)
	if err != nil {
		return nil, 0, fmt.Errorf("create parquet writer: %w", err)
	}

	var rows int64
	for _, rec := range batches {
		if err := writer.Write(rec); err != nil {
			writer.Close()
			return nil, 0, fmt.Errorf("write record: %w", err)
		}
		rows += rec.NumRows()
	}
	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("close parquet writer: %w", err)
	}
	return &buf, rows, nil
}

// path builds the deterministic layout
// {prefix?}/{table}/year=YYYY/month=MM/day=DD/hour=HH/{service}-{ts}-{uuid}.parquet
func (s *Sink) path(key signalkey.Key, serviceName string, timestampMicros int64) string {
	t := time.UnixMicro(timestampMicros).UTC()
	table := key.TableName()
	if s.opts.TableNameOverride != nil {
		if override, ok := s.opts.TableNameOverride[key.String()]; ok {
			table = override
		}
	}
	base := fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/hour=%02d/%s-%d-%s.parquet",
		table, t.Year(), t.Month(), t.Day(), t.Hour(), serviceName, timestampMicros, uuid.NewString())
	if s.opts.Prefix == "" {
		return base
	}
	return s.opts.Prefix + "/" + base
}
