// Package signalkey defines the tagged identifier used throughout the
// pipeline to address one Arrow schema / Parquet table / batcher identity.
package signalkey

import (
	"fmt"
	"strings"
)

// MetricKind enumerates the five OTLP metric data-point shapes. Each one
// gets its own Arrow schema and its own Parquet table.
type MetricKind int

const (
	MetricKindGauge MetricKind = iota
	MetricKindSum
	MetricKindHistogram
	MetricKindExponentialHistogram
	MetricKindSummary
)

var metricKindNames = [...]string{
	MetricKindGauge:                "gauge",
	MetricKindSum:                  "sum",
	MetricKindHistogram:            "histogram",
	MetricKindExponentialHistogram: "exponential_histogram",
	MetricKindSummary:              "summary",
}

func (k MetricKind) String() string {
	if int(k) < 0 || int(k) >= len(metricKindNames) {
		return "unknown"
	}
	return metricKindNames[k]
}

func ParseMetricKind(s string) (MetricKind, error) {
	for i, name := range metricKindNames {
		if name == s {
			return MetricKind(i), nil
		}
	}
	return 0, fmt.Errorf("signalkey: unknown metric kind %q", s)
}

// Kind discriminates the three top-level signal families.
type Kind int

const (
	KindLogs Kind = iota
	KindTraces
	KindMetrics
)

// Key is the tagged SignalKey: Logs, Traces, or Metrics(kind).
type Key struct {
	kind   Kind
	metric MetricKind
}

func Logs() Key   { return Key{kind: KindLogs} }
func Traces() Key { return Key{kind: KindTraces} }
func Metrics(k MetricKind) Key {
	return Key{kind: KindMetrics, metric: k}
}

func (k Key) Kind() Kind { return k.kind }

// MetricKind returns the metric variant and true iff k addresses a metrics
// signal.
func (k Key) MetricKind() (MetricKind, bool) {
	if k.kind != KindMetrics {
		return 0, false
	}
	return k.metric, true
}

// String renders the canonical form: "logs", "traces", "metrics:gauge", ...
func (k Key) String() string {
	switch k.kind {
	case KindLogs:
		return "logs"
	case KindTraces:
		return "traces"
	case KindMetrics:
		return "metrics:" + k.metric.String()
	default:
		return "unknown"
	}
}

// SignalType returns the coarse signal family name ("logs", "traces",
// "metrics") independent of metric variant, used for DLQ path prefixes.
func (k Key) SignalType() string {
	switch k.kind {
	case KindLogs:
		return "logs"
	case KindTraces:
		return "traces"
	case KindMetrics:
		return "metrics"
	default:
		return "unknown"
	}
}

// Parse accepts "logs", "traces", or "metrics:<variant>".
func Parse(s string) (Key, error) {
	if s == "logs" {
		return Logs(), nil
	}
	if s == "traces" {
		return Traces(), nil
	}
	if rest, ok := strings.CutPrefix(s, "metrics:"); ok {
		mk, err := ParseMetricKind(rest)
		if err != nil {
			return Key{}, err
		}
		return Metrics(mk), nil
	}
	return Key{}, fmt.Errorf("signalkey: cannot parse %q", s)
}

// TableName returns the default Parquet/Iceberg table name for this signal,
// e.g. "otel_logs", "otel_traces", "otel_metrics_gauge". Callers may
// override per signal via configuration; this is the fallback.
func (k Key) TableName() string {
	switch k.kind {
	case KindLogs:
		return "otel_logs"
	case KindTraces:
		return "otel_traces"
	case KindMetrics:
		return "otel_metrics_" + k.metric.String()
	default:
		return "otel_unknown"
	}
}

// AnalyticsLabel is a short label suitable for metrics/log correlation.
func (k Key) AnalyticsLabel() string {
	return k.String()
}

// Identity renders the "{signal_key}|{service_name}" actor identity the
// edge profile uses to address one durable-object-style batcher.
func (k Key) Identity(serviceName string) string {
	return k.String() + "|" + serviceName
}

// ParseIdentity is Identity's inverse.
func ParseIdentity(identity string) (Key, string, error) {
	signalPart, serviceName, ok := strings.Cut(identity, "|")
	if !ok {
		return Key{}, "", fmt.Errorf("signalkey: malformed identity %q", identity)
	}
	key, err := Parse(signalPart)
	if err != nil {
		return Key{}, "", err
	}
	return key, serviceName, nil
}
