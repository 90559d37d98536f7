package batcher

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/smithclay/otlp2parquet-go/internal/arrowio"
	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/dlq"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
)

// Batcher is one (signal_key, service_name) edge actor: it accumulates
// Arrow IPC-encoded RecordBatches durably (Store), and flushes them to the
// Parquet sink on a size/row/age threshold, handing the resulting receipt
// to the server profile's receipt bus. Lifecycle:
// Uninitialized -> Idle -> Accumulating -> Flushing -> {Idle,
// Accumulating, DLQ}.
type Batcher struct {
	store         *Store
	sink          *sink.Sink
	dlqWriter     *dlq.Writer
	receiptClient *receipt.Client
	cfg           config.Batch
	key           signalkey.Key
	serviceName   string
	logger        log.Logger
}

func New(store *Store, sk *sink.Sink, dlqWriter *dlq.Writer, receiptClient *receipt.Client, cfg config.Batch, key signalkey.Key, serviceName string, logger log.Logger) *Batcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Batcher{
		store:         store,
		sink:          sk,
		dlqWriter:     dlqWriter,
		receiptClient: receiptClient,
		cfg:           cfg,
		key:           key,
		serviceName:   serviceName,
		logger:        logger,
	}
}

// ErrBackpressure is returned by Ingest when accepting the payload would
// push the accumulated pending size past the configured backpressure
// ceiling (callers should retry after a flush drains the actor).
var ErrBackpressure = fmt.Errorf("batcher: backpressure ceiling exceeded")

// ErrPayloadTooLarge is returned when a single ingest exceeds the
// per-ingest ceiling (default 800KiB).
var ErrPayloadTooLarge = fmt.Errorf("batcher: payload exceeds per-ingest ceiling")

// Ingest durably stores one Arrow IPC-encoded RecordBatch (already grouped
// to this actor's service_name upstream), deduplicating on idempotencyKey
// when present, and synchronously flushes once the accumulated size or row
// count crosses the configured threshold. recordCount and
// firstTimestampMicros carry the X-Record-Count/X-First-Timestamp-Micros
// request headers (0 when absent); firstTimestampMicros updates the
// actor's first_event_timestamp floor via min(current, header). It
// returns whether a flush was triggered.
func (b *Batcher) Ingest(ctx context.Context, idempotencyKey string, payload []byte, recordCount int64, firstTimestampMicros int64) (flushed bool, err error) {
	ceiling := b.cfg.PerIngestCeiling
	if ceiling <= 0 {
		ceiling = 800 * 1024
	}
	if int64(len(payload)) > ceiling {
		return false, ErrPayloadTooLarge
	}

	status, _, err := b.store.Status(ctx)
	if err != nil {
		return false, err
	}
	if status == string(StateUninitialized) {
		if err := b.store.SetStatus(ctx, string(StateIdle)); err != nil {
			return false, err
		}
	}

	seen, err := b.store.SeenIdempotencyID(ctx, idempotencyKey)
	if err != nil {
		return false, err
	}
	if seen {
		level.Debug(b.logger).Log("msg", "duplicate ingest suppressed", "idempotency_key", idempotencyKey)
		return false, nil
	}

	pending, err := b.store.PendingSize(ctx)
	if err != nil {
		return false, err
	}
	backpressure := b.cfg.BackpressureCeiling
	if backpressure <= 0 {
		backpressure = 20 * 1024 * 1024
	}
	if pending+int64(len(payload)) > backpressure {
		return false, ErrBackpressure
	}

	if err := b.store.AppendChunk(ctx, idempotencyKey, payload, recordCount, nowMS()); err != nil {
		return false, err
	}
	if err := b.store.UpdateFirstEventTimestamp(ctx, firstTimestampMicros); err != nil {
		return false, err
	}
	if err := b.store.SetStatus(ctx, string(StateAccumulating)); err != nil {
		return false, err
	}

	maxBytes := b.cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 16 * 1024 * 1024
	}
	maxRows := b.cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 100_000
	}
	newPending := pending + int64(len(payload))
	pendingRecords, err := b.store.PendingRecords(ctx)
	if err != nil {
		return false, err
	}
	if newPending >= maxBytes || pendingRecords >= int64(maxRows) {
		if err := b.Flush(ctx); err != nil {
			return true, err
		}
		return true, nil
	}

	// Below threshold: ensure a time-based flush alarm is scheduled for
	// MaxAge from now. Scheduling is idempotent; an existing alarm is
	// never moved.
	alarmAt, err := b.store.NextAlarm(ctx)
	if err != nil {
		return false, err
	}
	if alarmAt == 0 {
		if err := b.store.SetNextAlarm(ctx, nowMS()+b.NextAlarmDelay().Milliseconds()); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Flush implements the partial-flush loop: retry any parked receipt from a
// previous cycle, then repeatedly FIFO-load pending chunk groups up to the
// flush memory ceiling's IPC byte budget, decode them, check the decoded
// Arrow in-memory size (which can run 2-3x the IPC size) against that same
// ceiling, write the combined batch through the Parquet sink, hand the
// resulting receipt to the receipt bus, and delete the flushed groups --
// until no groups remain or an error occurs. Escalates to the dead-letter
// queue after MAX_WRITE_RETRIES consecutive write failures, or immediately
// when even a single chunk group's decoded Arrow size alone exceeds the
// flush ceiling. Chunk groups are deleted from durable storage only after
// the object-storage (or DLQ) write succeeded.
func (b *Batcher) Flush(ctx context.Context) error {
	if err := b.store.SetStatus(ctx, string(StateFlushing)); err != nil {
		return err
	}
	if err := b.retryPendingReceipt(ctx); err != nil {
		if stateErr := b.store.SetStatus(ctx, string(StateAccumulating)); stateErr != nil {
			return stateErr
		}
		return err
	}

	flushCeiling := b.cfg.FlushMemoryCeiling
	if flushCeiling <= 0 {
		flushCeiling = 48 * 1024 * 1024
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, err := b.store.LoadForFlush(ctx, flushCeiling)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			break
		}
		if err := b.flushOnce(ctx, chunks, flushCeiling); err != nil {
			return err
		}
	}

	if err := b.store.ClearFirstEventTimestamp(ctx); err != nil {
		return err
	}
	return b.store.SetStatus(ctx, string(StateIdle))
}

// flushOnce processes one loaded window of chunk groups. A nil return means
// the groups were removed from durable storage, either flushed to Parquet
// or escalated to the DLQ; the caller's loop continues with whatever is
// left.
func (b *Batcher) flushOnce(ctx context.Context, chunks []Chunk, flushCeiling int64) error {
	records, decodeErr := decodeChunks(chunks)
	if decodeErr != nil {
		return b.handleFlushFailure(ctx, chunks, decodeErr)
	}

	if arrowMemorySize(records) > flushCeiling && len(chunks) > 1 {
		// The IPC-byte budget admitted several chunk groups, but decoded
		// Arrow memory (uncompressed, columnar) overruns the ceiling.
		// Narrow to just the oldest group and retry.
		releaseRecords(records)
		chunks = chunks[:1]
		records, decodeErr = decodeChunks(chunks)
		if decodeErr != nil {
			return b.handleFlushFailure(ctx, chunks, decodeErr)
		}
	}
	if size := arrowMemorySize(records); size > flushCeiling {
		releaseRecords(records)
		return b.escalateToDLQ(ctx, chunks, fmt.Errorf("batcher: decoded arrow size %d exceeds flush ceiling %d", size, flushCeiling))
	}
	defer releaseRecords(records)

	storedTS, err := b.store.FirstEventTimestamp(ctx)
	if err != nil {
		return err
	}
	minTS := storedTS
	if minTS <= 0 {
		minTS = minTimestampMicros(records)
	}

	res, writeErr := b.sink.Write(ctx, b.key, b.serviceName, minTS, records)
	if writeErr != nil {
		return b.handleFlushFailure(ctx, chunks, writeErr)
	}

	r := receipt.Receipt{
		Key:             receipt.NewKey(nowMS()),
		SignalKey:       b.key.String(),
		ServiceName:     b.serviceName,
		Path:            res.Path,
		Rows:            res.Rows,
		TimestampMicros: minTS,
		CreatedAtMS:     nowMS(),
	}
	if b.receiptClient != nil {
		if err := b.receiptClient.Post(ctx, r); err != nil {
			// The Parquet file exists, so the receipt must not be lost:
			// park it durably and retry it at the start of the next flush
			// or alarm.
			level.Warn(b.logger).Log("msg", "receipt handoff failed after write succeeded, parking", "path", res.Path, "err", err)
			body, marshalErr := receipt.Marshal(r)
			if marshalErr != nil {
				return marshalErr
			}
			if err := b.store.SetPendingReceipt(ctx, string(body)); err != nil {
				return err
			}
		}
	}

	if err := b.store.DeleteChunks(ctx, chunks); err != nil {
		return err
	}
	return b.store.ResetFailureCount(ctx)
}

// retryPendingReceipt re-posts a receipt parked by an earlier flush whose
// bus handoff failed. Delivery failure aborts the flush; the receipt stays
// parked for the next attempt.
func (b *Batcher) retryPendingReceipt(ctx context.Context) error {
	parked, err := b.store.PendingReceipt(ctx)
	if err != nil {
		return err
	}
	if parked == "" || b.receiptClient == nil {
		return nil
	}
	r, err := receipt.Unmarshal([]byte(parked))
	if err != nil {
		// Unparseable parked state is unrecoverable; drop it rather than
		// wedge the actor forever.
		level.Error(b.logger).Log("msg", "discarding unparseable pending receipt", "err", err)
		return b.store.ClearPendingReceipt(ctx)
	}
	if err := b.receiptClient.Post(ctx, r); err != nil {
		return fmt.Errorf("batcher: pending receipt handoff: %w", err)
	}
	return b.store.ClearPendingReceipt(ctx)
}

// handleFlushFailure increments the actor's consecutive failure count and,
// once it reaches MAX_WRITE_RETRIES, escalates the raw pending chunks to
// the dead-letter queue rather than retrying forever.
func (b *Batcher) handleFlushFailure(ctx context.Context, chunks []Chunk, cause error) error {
	level.Error(b.logger).Log("msg", "flush failed", "service", b.serviceName, "signal", b.key.String(), "err", cause)

	failures, err := b.store.IncrementFailureCount(ctx)
	if err != nil {
		return err
	}

	maxRetries := b.cfg.MaxWriteRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if failures < maxRetries {
		var stateErr error
		if len(chunks) > 0 {
			stateErr = b.store.SetStatus(ctx, string(StateAccumulating))
		} else {
			stateErr = b.store.SetStatus(ctx, string(StateIdle))
		}
		if stateErr != nil {
			return stateErr
		}
		return cause
	}

	return b.escalateToDLQ(ctx, chunks, cause)
}

// escalateToDLQ writes every chunk group's payload to the dead-letter
// queue, deletes the underlying rows only if the DLQ write succeeded, and
// resets the actor's failure count, mirroring the state machine's DLQ
// transition. Returns nil on successful escalation so the flush loop can
// continue with remaining groups.
func (b *Batcher) escalateToDLQ(ctx context.Context, chunks []Chunk, cause error) error {
	level.Error(b.logger).Log("msg", "escalating flush to dead-letter queue", "service", b.serviceName, "signal", b.key.String(), "err", cause)

	blobs := make([][]byte, len(chunks))
	for i, c := range chunks {
		blobs[i] = c.Payload
	}
	if b.dlqWriter != nil {
		if _, dlqErr := b.dlqWriter.Write(ctx, b.key, b.serviceName, blobs); dlqErr != nil {
			level.Error(b.logger).Log("msg", "dlq write failed", "err", dlqErr)
			return dlqErr
		}
	}
	if err := b.store.DeleteChunks(ctx, chunks); err != nil {
		return err
	}
	if err := b.store.ResetFailureCount(ctx); err != nil {
		return err
	}
	return b.store.SetStatus(ctx, string(StateDLQ))
}

// PendingBytes reports the actor's currently buffered, unflushed size, for
// callers that want to surface it back to an ingest caller in a
// buffered_bytes response field.
func (b *Batcher) PendingBytes(ctx context.Context) (int64, error) {
	return b.store.PendingSize(ctx)
}

// PendingRecords reports the actor's currently buffered, unflushed record
// count, for callers that want to surface it back as buffered_records.
func (b *Batcher) PendingRecords(ctx context.Context) (int64, error) {
	return b.store.PendingRecords(ctx)
}

// MaybeFlushOnAlarm implements the time-based alarm flush: once the
// scheduled wall-clock alarm is due and data (or a parked receipt from a
// failed bus handoff) is pending, flush. If the flush leaves batches or a
// parked receipt behind, the alarm is rescheduled for another MaxAge from
// now; a clean drain clears it.
func (b *Batcher) MaybeFlushOnAlarm(ctx context.Context) error {
	pending, err := b.store.PendingSize(ctx)
	if err != nil {
		return err
	}
	parked, err := b.store.PendingReceipt(ctx)
	if err != nil {
		return err
	}
	if pending == 0 && parked == "" {
		return b.store.SetNextAlarm(ctx, 0)
	}

	alarmAt, err := b.store.NextAlarm(ctx)
	if err != nil {
		return err
	}
	now := nowMS()
	if alarmAt == 0 {
		// Pending work with no alarm, e.g. state rehydrated from before a
		// crash: schedule one rather than flushing early.
		return b.store.SetNextAlarm(ctx, now+b.NextAlarmDelay().Milliseconds())
	}
	if now < alarmAt {
		return nil
	}

	flushErr := b.Flush(ctx)

	remaining, err := b.store.PendingSize(ctx)
	if err != nil {
		return err
	}
	parked, err = b.store.PendingReceipt(ctx)
	if err != nil {
		return err
	}
	if remaining > 0 || parked != "" {
		if err := b.store.SetNextAlarm(ctx, now+b.NextAlarmDelay().Milliseconds()); err != nil {
			return err
		}
	} else if err := b.store.SetNextAlarm(ctx, 0); err != nil {
		return err
	}
	return flushErr
}

// NextAlarmDelay returns how long to wait before scheduling the next
// time-based flush alarm, per cfg.MaxAge.
func (b *Batcher) NextAlarmDelay() time.Duration {
	if b.cfg.MaxAge <= 0 {
		return 60 * time.Second
	}
	return b.cfg.MaxAge
}

func decodeChunks(chunks []Chunk) ([]arrow.Record, error) {
	var records []arrow.Record
	for _, c := range chunks {
		recs, err := arrowio.DecodeRecords(c.Payload)
		if err != nil {
			releaseRecords(records)
			return nil, fmt.Errorf("batcher: decode chunk group %d: %w", c.GroupID, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func releaseRecords(records []arrow.Record) {
	for _, r := range records {
		r.Release()
	}
}

// arrowMemorySize sums the byte length of every buffer backing every
// column across records, the decoded in-memory footprint used to enforce
// the flush ceiling against Arrow's columnar representation rather than
// the (typically smaller) IPC wire encoding.
func arrowMemorySize(records []arrow.Record) int64 {
	var total int64
	for _, rec := range records {
		for _, col := range rec.Columns() {
			for _, buf := range col.Data().Buffers() {
				if buf != nil {
					total += int64(buf.Len())
				}
			}
		}
	}
	return total
}

// minTimestampMicros scans every record's "timestamp" column for the
// smallest non-null value, the group minimum the sink uses to derive the
// time-partitioned path.
func minTimestampMicros(records []arrow.Record) int64 {
	var min int64
	first := true
	for _, rec := range records {
		idxs := rec.Schema().FieldIndices("timestamp")
		if len(idxs) == 0 {
			continue
		}
		col, ok := rec.Column(idxs[0]).(*array.Timestamp)
		if !ok {
			continue
		}
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				continue
			}
			v := int64(col.Value(i))
			if first || v < min {
				min = v
				first = false
			}
		}
	}
	return min
}

func nowMS() int64 { return time.Now().UnixMilli() }
