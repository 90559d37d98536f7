// Package manager implements the in-memory batch manager used by the
// long-lived server profile. Unlike the edge actor, the server
// profile keeps accumulating RecordBatches purely in memory, keyed by
// (service_name, minute bucket), and flushes on the same size/row/age
// thresholds without any durable storage of its own — a crash loses only
// the batches currently in flight, which the server profile accepts in
// exchange for never touching disk on the hot path.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
)

// bucketKey identifies one pending batch: a signal, a service, and the
// 60-second window its first row landed in, keyed by
// (service_name, floor(first_timestamp/60s)).
type bucketKey struct {
	signal      string
	serviceName string
	windowSec   int64
}

// pendingBatch accumulates records for one bucketKey until a threshold
// fires.
type pendingBatch struct {
	key          signalkey.Key
	serviceName  string
	records      []arrow.Record
	rows         int64
	bytes        int64
	firstSeenMS  int64
	minTimestamp int64
}

// Manager is the server profile's process-wide in-memory batch table.
type Manager struct {
	mu      sync.Mutex
	batches map[bucketKey]*pendingBatch

	sink         *sink.Sink
	receiptStore receipt.Store
	cfg          config.Batch
	logger       log.Logger
}

func New(sk *sink.Sink, receiptStore receipt.Store, cfg config.Batch, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		batches:      make(map[bucketKey]*pendingBatch),
		sink:         sk,
		receiptStore: receiptStore,
		cfg:          cfg,
		logger:       logger,
	}
}

// ErrBackpressure is returned by Ingest when the manager's global buffered
// size has crossed the backpressure ceiling (MaxBytes x 8 across all
// pending batches); callers surface it as a 503.
var ErrBackpressure = fmt.Errorf("manager: global backpressure ceiling exceeded")

// Ingest adds rec (already grouped to a single service_name) to its
// pending batch, flushing synchronously if the batch crosses the row or
// byte threshold. rec is retained for as long as it stays pending.
func (m *Manager) Ingest(ctx context.Context, key signalkey.Key, serviceName string, rec arrow.Record) error {
	minTS := minTimestampMicros(rec)
	window := floorToWindow(minTS)

	m.mu.Lock()
	maxBytes := m.cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 16 * 1024 * 1024
	}
	var globalBytes int64
	for _, pb := range m.batches {
		globalBytes += pb.bytes
	}
	if globalBytes >= maxBytes*8 {
		m.mu.Unlock()
		return ErrBackpressure
	}

	bk := bucketKey{signal: key.String(), serviceName: serviceName, windowSec: window}
	pb, ok := m.batches[bk]
	if !ok {
		pb = &pendingBatch{key: key, serviceName: serviceName, firstSeenMS: nowMS(), minTimestamp: minTS}
		m.batches[bk] = pb
	}
	rec.Retain()
	pb.records = append(pb.records, rec)
	pb.rows += rec.NumRows()
	pb.bytes += estimateSize(rec)
	if minTS != 0 && (pb.minTimestamp == 0 || minTS < pb.minTimestamp) {
		pb.minTimestamp = minTS
	}

	shouldFlush := m.shouldFlushLocked(pb)
	if shouldFlush {
		delete(m.batches, bk)
	}
	m.mu.Unlock()

	if shouldFlush {
		return m.flushBatch(ctx, pb)
	}
	return nil
}

func (m *Manager) shouldFlushLocked(pb *pendingBatch) bool {
	maxRows := m.cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 100_000
	}
	maxBytes := m.cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 16 * 1024 * 1024
	}
	return pb.rows >= int64(maxRows) || pb.bytes >= maxBytes
}

// DrainExpired flushes every pending batch whose age exceeds cfg.MaxAge,
// the time-based half of the threshold policy.
func (m *Manager) DrainExpired(ctx context.Context) error {
	maxAge := m.cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 60 * time.Second
	}
	cutoff := nowMS() - maxAge.Milliseconds()

	var toFlush []*pendingBatch
	m.mu.Lock()
	for bk, pb := range m.batches {
		if pb.firstSeenMS <= cutoff {
			toFlush = append(toFlush, pb)
			delete(m.batches, bk)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, pb := range toFlush {
		if err := m.flushBatch(ctx, pb); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DrainAll flushes every pending batch unconditionally, used on graceful
// shutdown so no accumulated data is lost.
func (m *Manager) DrainAll(ctx context.Context) error {
	m.mu.Lock()
	toFlush := make([]*pendingBatch, 0, len(m.batches))
	for bk, pb := range m.batches {
		toFlush = append(toFlush, pb)
		delete(m.batches, bk)
	}
	m.mu.Unlock()

	var firstErr error
	for _, pb := range toFlush {
		if err := m.flushBatch(ctx, pb); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) flushBatch(ctx context.Context, pb *pendingBatch) error {
	defer func() {
		for _, r := range pb.records {
			r.Release()
		}
	}()

	res, err := m.sink.Write(ctx, pb.key, pb.serviceName, pb.minTimestamp, pb.records)
	if err != nil {
		level.Error(m.logger).Log("msg", "manager flush failed", "service", pb.serviceName, "signal", pb.key.String(), "err", err)
		return fmt.Errorf("manager: flush %s/%s: %w", pb.key.String(), pb.serviceName, err)
	}

	if m.receiptStore != nil {
		r := receipt.Receipt{
			Key:             receipt.NewKey(nowMS()),
			SignalKey:       pb.key.String(),
			ServiceName:     pb.serviceName,
			Path:            res.Path,
			Rows:            res.Rows,
			TimestampMicros: pb.minTimestamp,
			CreatedAtMS:     nowMS(),
		}
		if err := m.receiptStore.Put(ctx, r); err != nil {
			level.Error(m.logger).Log("msg", "manager receipt write failed", "path", res.Path, "err", err)
			return fmt.Errorf("manager: write receipt for %s: %w", res.Path, err)
		}
	}
	return nil
}

func estimateSize(rec arrow.Record) int64 {
	var total int64
	for _, col := range rec.Columns() {
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

func minTimestampMicros(rec arrow.Record) int64 {
	idxs := rec.Schema().FieldIndices("timestamp")
	if len(idxs) == 0 {
		return 0
	}
	col, ok := rec.Column(idxs[0]).(*array.Timestamp)
	if !ok {
		return 0
	}
	var min int64
	first := true
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
	return min
}

func floorToWindow(tsMicros int64) int64 {
	if tsMicros == 0 {
		return nowMS() / 1000 / 60
	}
	return (tsMicros / 1_000_000) / 60
}

func nowMS() int64 { return time.Now().UnixMilli() }
