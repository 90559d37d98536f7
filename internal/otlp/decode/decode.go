package decode

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/smithclay/otlp2parquet-go/internal/otlp/jsonnorm"
)

// Signal names the OTLP ingest path, independent of metric variant — the
// HTTP route selects one of these, and Decode fans a metrics
// payload out into per-variant Results internally.
type Signal int

const (
	SignalLogs Signal = iota
	SignalTraces
	SignalMetrics
)

// Decode is the decoder's public contract: decode(bytes, format) -> results.
// For logs/traces it returns exactly one Result; for metrics it returns one
// Result per metric-variant signal present in the payload. Decoding fails
// the whole request on any malformed record — no partial success.
func Decode(signal Signal, body []byte, format Format) ([]Result, error) {
	switch format {
	case FormatProtobuf:
		return decodeProto(signal, body)
	case FormatJSON:
		tree, err := decodeNormalizedJSON(body, hintFor(signal))
		if err != nil {
			return nil, err
		}
		return decodeJSONTree(signal, tree)
	case FormatJSONLines:
		return decodeJSONLines(signal, body)
	default:
		return nil, fmt.Errorf("decode: unknown format %d", format)
	}
}

func decodeProto(signal Signal, body []byte) ([]Result, error) {
	switch signal {
	case SignalLogs:
		r, err := DecodeLogsProto(body)
		if err != nil {
			return nil, err
		}
		return []Result{r}, nil
	case SignalTraces:
		r, err := DecodeTracesProto(body)
		if err != nil {
			return nil, err
		}
		return []Result{r}, nil
	case SignalMetrics:
		return DecodeMetricsProto(body)
	default:
		return nil, fmt.Errorf("decode: unknown signal %d", signal)
	}
}

func hintFor(signal Signal) string {
	switch signal {
	case SignalLogs:
		return jsonnorm.HintResourceLogs
	case SignalTraces:
		return jsonnorm.HintResourceSpans
	case SignalMetrics:
		return jsonnorm.HintResourceMetrics
	default:
		return ""
	}
}

func decodeNormalizedJSON(body []byte, topHint string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode: invalid JSON body: %w", err)
	}
	normalized, err := jsonnorm.Normalize(raw, "")
	if err != nil {
		return nil, err
	}
	tree, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode: normalized JSON body is not an object")
	}
	return tree, nil
}

func decodeJSONTree(signal Signal, tree map[string]any) ([]Result, error) {
	switch signal {
	case SignalLogs:
		r, err := DecodeLogsJSONTree(tree)
		if err != nil {
			return nil, err
		}
		return []Result{r}, nil
	case SignalTraces:
		r, err := DecodeTracesJSONTree(tree)
		if err != nil {
			return nil, err
		}
		return []Result{r}, nil
	case SignalMetrics:
		return DecodeMetricsJSONTree(tree)
	default:
		return nil, fmt.Errorf("decode: unknown signal %d", signal)
	}
}

// decodeJSONLines decodes one normalized tree per non-empty line and merges
// the Results by signal key. Each line contributes its own batches to the
// merged Result; batches from different lines are not combined into one.
func decodeJSONLines(signal Signal, body []byte) ([]Result, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var merged []Result
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		tree, err := decodeNormalizedJSON(line, hintFor(signal))
		if err != nil {
			return nil, fmt.Errorf("decode: jsonl line %d: %w", lineNo, err)
		}
		results, err := decodeJSONTree(signal, tree)
		if err != nil {
			return nil, fmt.Errorf("decode: jsonl line %d: %w", lineNo, err)
		}
		merged = mergeResults(merged, results)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("decode: jsonl scan: %w", err)
	}
	return merged, nil
}

// mergeResults combines per-line Results, keyed by SignalKey, summing
// metadata and concatenating batches. Batches are already split at
// batchRowThreshold rows each so concatenation never produces an
// oversized single batch.
func mergeResults(acc []Result, next []Result) []Result {
	byKey := make(map[string]int, len(acc))
	for i, r := range acc {
		byKey[r.Key.String()] = i
	}
	for _, r := range next {
		if idx, ok := byKey[r.Key.String()]; ok {
			existing := acc[idx]
			existing.Batches = append(existing.Batches, r.Batches...)
			existing.Metadata.RecordCount += r.Metadata.RecordCount
			existing.Metadata.FirstTimestampMicros = minNonZero(existing.Metadata.FirstTimestampMicros, r.Metadata.FirstTimestampMicros)
			if existing.Metadata.ServiceName == "" || existing.Metadata.ServiceName == "unknown_service" {
				existing.Metadata.ServiceName = r.Metadata.ServiceName
			}
			existing.Skipped.UnsupportedMetricPoints += r.Skipped.UnsupportedMetricPoints
			existing.Skipped.NonFinite += r.Skipped.NonFinite
			existing.Skipped.MissingValue += r.Skipped.MissingValue
			acc[idx] = existing
			continue
		}
		byKey[r.Key.String()] = len(acc)
		acc = append(acc, r)
	}
	return acc
}
