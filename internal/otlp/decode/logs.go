package decode

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"

	"github.com/smithclay/otlp2parquet-go/internal/arrowschema"
)

// DecodeLogsProto decodes a binary OTLP ExportLogsServiceRequest.
func DecodeLogsProto(data []byte) (Result, error) {
	req := plogotlp.NewExportRequest()
	if err := req.UnmarshalProto(data); err != nil {
		return Result{}, fmt.Errorf("decode: logs protobuf: %w", err)
	}
	return buildLogsFromPdata(req.Logs())
}

func buildLogsFromPdata(logs plog.Logs) (Result, error) {
	schema := arrowschema.LogsSchema()
	rb := newRecordBuilder(schema)
	var batches []arrow.Record
	var meta Metadata
	var skipped SkippedCounts
	var serviceName string

	rls := logs.ResourceLogs()
	for i := 0; i < rls.Len(); i++ {
		rl := rls.At(i)
		res := rl.Resource()
		svc, ns, inst, resAttrs := splitServiceAttrs(attrsFromPcommon(res.Attributes()))
		if serviceName == "" {
			serviceName = firstNonEmpty(svc)
		}
		sls := rl.ScopeLogs()
		for j := 0; j < sls.Len(); j++ {
			sl := sls.At(j)
			scope := sl.Scope()
			lrs := sl.LogRecords()
			for k := 0; k < lrs.Len(); k++ {
				lr := lrs.At(k)
				ts := nanosToMicros(uint64(lr.Timestamp()))
				meta.FirstTimestampMicros = minNonZero(meta.FirstTimestampMicros, ts)
				meta.RecordCount++

				traceID := lr.TraceID()
				spanID := lr.SpanID()
				appendCommon(rb, commonRow{
					timestampMicros:   ts,
					traceID:           traceID[:],
					spanID:            spanID[:],
					serviceName:       firstNonEmpty(svc),
					serviceNamespace:  ns,
					hasNamespace:      ns != "",
					serviceInstanceID: inst,
					hasInstanceID:     inst != "",
					resourceAttrs:     resAttrs,
					resourceSchemaURL: rl.SchemaUrl(),
					scopeName:         scope.Name(),
					scopeVersion:      scope.Version(),
					scopeAttrs:        attrsFromPcommon(scope.Attributes()),
					scopeSchemaURL:    sl.SchemaUrl(),
				})
				appendTimestampOpt(rb, "observed_timestamp", uint64(lr.ObservedTimestamp()))
				appendUint32(rb, "trace_flags", uint32(lr.Flags()), true)
				appendOptStringField(rb, "severity_text", lr.SeverityText())
				appendInt32(rb, "severity_number", int32(lr.SeverityNumber()), true)
				appendBodyStruct(rb, lr.Body())
				appendLogAttrsField(rb, "log_attributes", logAttrsFromPcommon(lr.Attributes()))

				rb.rows++
				if rb.full() {
					batches = append(batches, rb.finish())
				}
			}
		}
	}
	if rec := rb.finish(); rec != nil {
		batches = append(batches, rec)
	}
	meta.ServiceName = firstNonEmpty(serviceName)
	return Result{Key: logsKey(), Batches: batches, Metadata: meta, Skipped: skipped}, nil
}

// DecodeLogsJSONTree decodes an already-normalized OTLP JSON tree (object
// with a top-level "resource_logs" array) into logs RecordBatches.
func DecodeLogsJSONTree(tree map[string]any) (Result, error) {
	schema := arrowschema.LogsSchema()
	rb := newRecordBuilder(schema)
	var batches []arrow.Record
	var meta Metadata
	var serviceName string

	resourceLogs, _ := tree["resource_logs"].([]any)
	for _, rlAny := range resourceLogs {
		rl, ok := rlAny.(map[string]any)
		if !ok {
			continue
		}
		resource, _ := rl["resource"].(map[string]any)
		svc, ns, inst, resAttrs := splitServiceAttrs(attrsFromJSON(resource["attributes"]))
		if serviceName == "" {
			serviceName = firstNonEmpty(svc)
		}
		resSchemaURL := toString(rl["schema_url"])
		scopeLogs, _ := rl["scope_logs"].([]any)
		for _, slAny := range scopeLogs {
			sl, ok := slAny.(map[string]any)
			if !ok {
				continue
			}
			scope, _ := sl["scope"].(map[string]any)
			scopeName := toString(scope["name"])
			scopeVersion := toString(scope["version"])
			scopeAttrs := attrsFromJSON(scope["attributes"])
			scopeSchemaURL := toString(sl["schema_url"])

			logRecords, _ := sl["log_records"].([]any)
			for _, lrAny := range logRecords {
				lr, ok := lrAny.(map[string]any)
				if !ok {
					continue
				}
				ts := nanosToMicros(toUint64(lr["time_unix_nano"]))
				meta.FirstTimestampMicros = minNonZero(meta.FirstTimestampMicros, ts)
				meta.RecordCount++

				appendCommon(rb, commonRow{
					timestampMicros:   ts,
					traceID:           toBytes(lr["trace_id"]),
					spanID:            toBytes(lr["span_id"]),
					serviceName:       firstNonEmpty(svc),
					serviceNamespace:  ns,
					hasNamespace:      ns != "",
					serviceInstanceID: inst,
					hasInstanceID:     inst != "",
					resourceAttrs:     resAttrs,
					resourceSchemaURL: resSchemaURL,
					scopeName:         scopeName,
					scopeVersion:      scopeVersion,
					scopeAttrs:        scopeAttrs,
					scopeSchemaURL:    scopeSchemaURL,
				})
				observed := toUint64(lr["observed_time_unix_nano"])
				appendTimestampOpt(rb, "observed_timestamp", observed)
				appendUint32(rb, "trace_flags", toUint32(lr["flags"]), true)
				appendOptStringField(rb, "severity_text", toString(lr["severity_text"]))
				appendInt32(rb, "severity_number", toInt32(lr["severity_number"]), true)
				appendBodyJSON(rb, lr["body"])
				appendLogAttrsField(rb, "log_attributes", logAttrsFromJSON(lr["attributes"]))

				rb.rows++
				if rb.full() {
					batches = append(batches, rb.finish())
				}
			}
		}
	}
	if rec := rb.finish(); rec != nil {
		batches = append(batches, rec)
	}
	meta.ServiceName = firstNonEmpty(serviceName)
	return Result{Key: logsKey(), Batches: batches, Metadata: meta}, nil
}
