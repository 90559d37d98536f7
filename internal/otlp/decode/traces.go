package decode

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"

	"github.com/smithclay/otlp2parquet-go/internal/arrowschema"
)

// DecodeTracesProto decodes a binary OTLP ExportTraceServiceRequest.
func DecodeTracesProto(data []byte) (Result, error) {
	req := ptraceotlp.NewExportRequest()
	if err := req.UnmarshalProto(data); err != nil {
		return Result{}, fmt.Errorf("decode: traces protobuf: %w", err)
	}
	return buildTracesFromPdata(req.Traces())
}

func buildTracesFromPdata(traces ptrace.Traces) (Result, error) {
	schema := arrowschema.TracesSchema()
	rb := newRecordBuilder(schema)
	var batches []arrow.Record
	var meta Metadata
	var serviceName string

	rss := traces.ResourceSpans()
	for i := 0; i < rss.Len(); i++ {
		rs := rss.At(i)
		res := rs.Resource()
		svc, ns, inst, resAttrs := splitServiceAttrs(attrsFromPcommon(res.Attributes()))
		if serviceName == "" {
			serviceName = firstNonEmpty(svc)
		}
		sss := rs.ScopeSpans()
		for j := 0; j < sss.Len(); j++ {
			ss := sss.At(j)
			scope := ss.Scope()
			spans := ss.Spans()
			for k := 0; k < spans.Len(); k++ {
				span := spans.At(k)
				start := nanosToMicros(uint64(span.StartTimestamp()))
				end := nanosToMicros(uint64(span.EndTimestamp()))
				meta.FirstTimestampMicros = minNonZero(meta.FirstTimestampMicros, start)
				meta.RecordCount++

				traceID := span.TraceID()
				spanID := span.SpanID()
				parentID := span.ParentSpanID()
				appendCommon(rb, commonRow{
					timestampMicros:   start,
					traceID:           traceID[:],
					spanID:            spanID[:],
					serviceName:       firstNonEmpty(svc),
					serviceNamespace:  ns,
					hasNamespace:      ns != "",
					serviceInstanceID: inst,
					hasInstanceID:     inst != "",
					resourceAttrs:     resAttrs,
					resourceSchemaURL: rs.SchemaUrl(),
					scopeName:         scope.Name(),
					scopeVersion:      scope.Version(),
					scopeAttrs:        attrsFromPcommon(scope.Attributes()),
					scopeSchemaURL:    ss.SchemaUrl(),
				})

				appendFixedBytes(rb.field("parent_span_id").(*array.FixedSizeBinaryBuilder), 8, parentID[:])
				appendOptStringField(rb, "trace_state", span.TraceState().AsRaw())
				rb.field("span_name").(*array.StringBuilder).Append(span.Name())
				appendInt32(rb, "span_kind", int32(span.Kind()), true)
				appendStringMap(rb.field("span_attributes").(*array.MapBuilder), attrsFromPcommon(span.Attributes()))
				appendInt64Opt(rb, "duration", end-start, true)
				status := span.Status()
				appendInt32(rb, "status_code", int32(status.Code()), true)
				appendOptStringField(rb, "status_message", status.Message())

				appendSpanEvents(rb, span.Events())
				appendSpanLinks(rb, span.Links())

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
	return Result{Key: tracesKey(), Batches: batches, Metadata: meta}, nil
}

func appendSpanEvents(rb *recordBuilder, events ptrace.SpanEventSlice) {
	n := events.Len()
	tsB := rb.field("events_timestamp").(*array.ListBuilder)
	nameB := rb.field("events_name").(*array.ListBuilder)
	attrB := rb.field("events_attributes").(*array.ListBuilder)
	if n == 0 {
		tsB.AppendNull()
		nameB.AppendNull()
		attrB.AppendNull()
		return
	}
	ts := make([]int64, n)
	names := make([]string, n)
	attrs := make([]string, n)
	for i := 0; i < n; i++ {
		e := events.At(i)
		ts[i] = nanosToMicros(uint64(e.Timestamp()))
		names[i] = e.Name()
		attrs[i] = attrsToJSONString(attrsFromPcommon(e.Attributes()))
	}
	appendTimestampList(tsB, ts, true)
	appendStringList(nameB, names, true)
	appendStringList(attrB, attrs, true)
}

func appendSpanLinks(rb *recordBuilder, links ptrace.SpanLinkSlice) {
	n := links.Len()
	traceB := rb.field("links_trace_id").(*array.ListBuilder)
	spanB := rb.field("links_span_id").(*array.ListBuilder)
	stateB := rb.field("links_trace_state").(*array.ListBuilder)
	attrB := rb.field("links_attributes").(*array.ListBuilder)
	if n == 0 {
		traceB.AppendNull()
		spanB.AppendNull()
		stateB.AppendNull()
		attrB.AppendNull()
		return
	}
	traceIDs := make([][]byte, n)
	spanIDs := make([][]byte, n)
	states := make([]string, n)
	attrs := make([]string, n)
	for i := 0; i < n; i++ {
		l := links.At(i)
		tid := l.TraceID()
		sid := l.SpanID()
		traceIDs[i] = tid[:]
		spanIDs[i] = sid[:]
		states[i] = l.TraceState().AsRaw()
		attrs[i] = attrsToJSONString(attrsFromPcommon(l.Attributes()))
	}
	appendFixedBinaryList(traceB, 16, traceIDs, true)
	appendFixedBinaryList(spanB, 8, spanIDs, true)
	appendStringList(stateB, states, true)
	appendStringList(attrB, attrs, true)
}

// DecodeTracesJSONTree decodes a normalized OTLP JSON tree ("resource_spans").
func DecodeTracesJSONTree(tree map[string]any) (Result, error) {
	schema := arrowschema.TracesSchema()
	rb := newRecordBuilder(schema)
	var batches []arrow.Record
	var meta Metadata
	var serviceName string

	resourceSpans, _ := tree["resource_spans"].([]any)
	for _, rsAny := range resourceSpans {
		rs, ok := rsAny.(map[string]any)
		if !ok {
			continue
		}
		resource, _ := rs["resource"].(map[string]any)
		svc, ns, inst, resAttrs := splitServiceAttrs(attrsFromJSON(resource["attributes"]))
		if serviceName == "" {
			serviceName = firstNonEmpty(svc)
		}
		resSchemaURL := toString(rs["schema_url"])
		scopeSpans, _ := rs["scope_spans"].([]any)
		for _, ssAny := range scopeSpans {
			ss, ok := ssAny.(map[string]any)
			if !ok {
				continue
			}
			scope, _ := ss["scope"].(map[string]any)
			scopeName := toString(scope["name"])
			scopeVersion := toString(scope["version"])
			scopeAttrs := attrsFromJSON(scope["attributes"])
			scopeSchemaURL := toString(ss["schema_url"])

			spans, _ := ss["spans"].([]any)
			for _, spAny := range spans {
				sp, ok := spAny.(map[string]any)
				if !ok {
					continue
				}
				start := nanosToMicros(toUint64(sp["start_time_unix_nano"]))
				end := nanosToMicros(toUint64(sp["end_time_unix_nano"]))
				meta.FirstTimestampMicros = minNonZero(meta.FirstTimestampMicros, start)
				meta.RecordCount++

				appendCommon(rb, commonRow{
					timestampMicros:   start,
					traceID:           toBytes(sp["trace_id"]),
					spanID:            toBytes(sp["span_id"]),
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

				appendFixedBytes(rb.field("parent_span_id").(*array.FixedSizeBinaryBuilder), 8, toBytes(sp["parent_span_id"]))
				appendOptStringField(rb, "trace_state", toString(sp["trace_state"]))
				rb.field("span_name").(*array.StringBuilder).Append(toString(sp["name"]))
				appendInt32(rb, "span_kind", toInt32(sp["kind"]), true)
				appendStringMap(rb.field("span_attributes").(*array.MapBuilder), attrsFromJSON(sp["attributes"]))
				appendInt64Opt(rb, "duration", end-start, true)
				status, _ := sp["status"].(map[string]any)
				appendInt32(rb, "status_code", toInt32(status["code"]), true)
				appendOptStringField(rb, "status_message", toString(status["message"]))

				appendSpanEventsJSON(rb, sp["events"])
				appendSpanLinksJSON(rb, sp["links"])

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
	return Result{Key: tracesKey(), Batches: batches, Metadata: meta}, nil
}

func appendSpanEventsJSON(rb *recordBuilder, node any) {
	arr, _ := node.([]any)
	tsB := rb.field("events_timestamp").(*array.ListBuilder)
	nameB := rb.field("events_name").(*array.ListBuilder)
	attrB := rb.field("events_attributes").(*array.ListBuilder)
	if len(arr) == 0 {
		tsB.AppendNull()
		nameB.AppendNull()
		attrB.AppendNull()
		return
	}
	ts := make([]int64, len(arr))
	names := make([]string, len(arr))
	attrs := make([]string, len(arr))
	for i, item := range arr {
		e, _ := item.(map[string]any)
		ts[i] = nanosToMicros(toUint64(e["time_unix_nano"]))
		names[i] = toString(e["name"])
		attrs[i] = attrsToJSONString(attrsFromJSON(e["attributes"]))
	}
	appendTimestampList(tsB, ts, true)
	appendStringList(nameB, names, true)
	appendStringList(attrB, attrs, true)
}

func appendSpanLinksJSON(rb *recordBuilder, node any) {
	arr, _ := node.([]any)
	traceB := rb.field("links_trace_id").(*array.ListBuilder)
	spanB := rb.field("links_span_id").(*array.ListBuilder)
	stateB := rb.field("links_trace_state").(*array.ListBuilder)
	attrB := rb.field("links_attributes").(*array.ListBuilder)
	if len(arr) == 0 {
		traceB.AppendNull()
		spanB.AppendNull()
		stateB.AppendNull()
		attrB.AppendNull()
		return
	}
	traceIDs := make([][]byte, len(arr))
	spanIDs := make([][]byte, len(arr))
	states := make([]string, len(arr))
	attrs := make([]string, len(arr))
	for i, item := range arr {
		l, _ := item.(map[string]any)
		traceIDs[i] = toBytes(l["trace_id"])
		spanIDs[i] = toBytes(l["span_id"])
		states[i] = toString(l["trace_state"])
		attrs[i] = attrsToJSONString(attrsFromJSON(l["attributes"]))
	}
	appendFixedBinaryList(traceB, 16, traceIDs, true)
	appendFixedBinaryList(spanB, 8, spanIDs, true)
	appendStringList(stateB, states, true)
	appendStringList(attrB, attrs, true)
}
