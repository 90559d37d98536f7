// Package decode turns OTLP protobuf or normalized-JSON
// payloads into Arrow RecordBatches, one schema per SignalKey, with
// per-batch metadata (service name, first timestamp) used by the grouper
// and sink downstream.
package decode

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// Format selects which wire encoding Decode expects.
type Format int

const (
	FormatProtobuf Format = iota
	FormatJSON
	FormatJSONLines
)

func ParseFormat(contentType string) (Format, error) {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(contentType) {
	case "", "application/x-protobuf":
		return FormatProtobuf, nil
	case "application/json":
		return FormatJSON, nil
	case "application/x-ndjson", "application/jsonl":
		return FormatJSONLines, nil
	default:
		return 0, fmt.Errorf("decode: unsupported content-type %q", contentType)
	}
}

// batchRowThreshold caps in-progress Arrow builders so a single oversized
// payload does not materialize one oversized RecordBatch.
const batchRowThreshold = 65536

// Metadata is returned alongside the decoded batches for a signal.
type Metadata struct {
	ServiceName          string
	FirstTimestampMicros int64
	RecordCount          int
}

// SkippedCounts tallies rows the decoder could not represent faithfully.
type SkippedCounts struct {
	UnsupportedMetricPoints int
	NonFinite               int
	MissingValue            int
}

func (s *SkippedCounts) Total() int {
	return s.UnsupportedMetricPoints + s.NonFinite + s.MissingValue
}

// Result is the output of Decode for one signal payload. Batches are
// already capped at batchRowThreshold rows each; internal/group
// re-slices them by service.
type Result struct {
	Key      signalkey.Key
	Batches  []arrow.Record
	Metadata Metadata
	Skipped  SkippedCounts
}

func nanosToMicros(nanos uint64) int64 {
	return int64(nanos / 1000)
}

// minNonZero returns the minimum of a and b, treating 0 as "absent"
// unless both are absent.
func minNonZero(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if b < a {
		return b
	}
	return a
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown_service"
}
