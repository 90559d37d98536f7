package httpapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/smithclay/otlp2parquet-go/internal/arrowio"
	"github.com/smithclay/otlp2parquet-go/internal/batcher"
	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/dlq"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
)

// EdgeIngestResult reports an edge actor's buffered state back to the
// caller right after an ingest, the only feedback a fire-and-forget edge
// client gets since the flush itself is asynchronous.
type EdgeIngestResult struct {
	BufferedRecords int64
	BufferedBytes   int64
}

// EdgeIngester simulates the edge runtime's durable-object actor model in
// a single process: one batcher.Batcher per (signal_key, service_name)
// identity, each backed by its own SQLite database opened lazily under
// BaseDir. A real edge deployment runs one durable object per identity
// with the platform handling placement, hibernation, and alarms; this
// registry plus the alarm loop below (Run) stand in for that runtime so
// the same Batcher/Store code serves every profile.
type EdgeIngester struct {
	baseDir       string
	sk            *sink.Sink
	dlqWriter     *dlq.Writer
	receiptClient *receipt.Client
	cfg           config.Batch
	logger        log.Logger

	mu     sync.Mutex
	actors map[string]*edgeActor
}

type edgeActor struct {
	store   *batcher.Store
	batcher *batcher.Batcher
}

func NewEdgeIngester(baseDir string, sk *sink.Sink, dlqWriter *dlq.Writer, receiptClient *receipt.Client, cfg config.Batch, logger log.Logger) *EdgeIngester {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &EdgeIngester{
		baseDir:       baseDir,
		sk:            sk,
		dlqWriter:     dlqWriter,
		receiptClient: receiptClient,
		cfg:           cfg,
		logger:        logger,
		actors:        make(map[string]*edgeActor),
	}
}

// actorFor returns the actor for identity, opening its durable store on
// first use. Once created an actor lives for the process lifetime,
// mirroring a durable object's single-threaded ownership of its identity.
func (e *EdgeIngester) actorFor(key signalkey.Key, serviceName string) (*edgeActor, error) {
	identity := key.Identity(serviceName)

	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.actors[identity]; ok {
		return a, nil
	}

	if err := os.MkdirAll(e.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("httpapi: create edge store dir: %w", err)
	}
	dbPath := filepath.Join(e.baseDir, safeFileName(identity)+".db")
	store, err := batcher.OpenStore(dbPath, e.cfg.ChunkThresholdBytes)
	if err != nil {
		return nil, fmt.Errorf("httpapi: open edge store for %s: %w", identity, err)
	}
	b := batcher.New(store, e.sk, e.dlqWriter, e.receiptClient, e.cfg, key, serviceName, log.With(e.logger, "identity", identity))
	a := &edgeActor{store: store, batcher: b}
	e.actors[identity] = a
	return a, nil
}

// Ingest implements the edge internal ingest route's contract: one
// Arrow IPC-encoded blob, deduplicated on (requestID, batchIndex).
// recordCount and firstTSMicros carry the X-Record-Count and
// X-First-Timestamp-Micros request headers (0 when absent).
func (e *EdgeIngester) Ingest(ctx context.Context, key signalkey.Key, serviceName, requestID string, batchIndex uint32, recordCount int64, firstTSMicros int64, payload []byte) (EdgeIngestResult, error) {
	a, err := e.actorFor(key, serviceName)
	if err != nil {
		return EdgeIngestResult{}, err
	}

	idempotencyKey := fmt.Sprintf("%s:%d", requestID, batchIndex)
	if _, err := a.batcher.Ingest(ctx, idempotencyKey, payload, recordCount, firstTSMicros); err != nil {
		switch err {
		case batcher.ErrPayloadTooLarge:
			return EdgeIngestResult{}, ErrPayloadTooLarge
		case batcher.ErrBackpressure:
			return EdgeIngestResult{}, ErrBackpressure
		default:
			return EdgeIngestResult{}, err
		}
	}

	bufferedBytes, err := a.batcher.PendingBytes(ctx)
	if err != nil {
		level.Error(e.logger).Log("msg", "pending size lookup failed after ingest", "identity", key.Identity(serviceName), "err", err)
	}
	bufferedRecords, err := a.batcher.PendingRecords(ctx)
	if err != nil {
		level.Error(e.logger).Log("msg", "pending record count lookup failed after ingest", "identity", key.Identity(serviceName), "err", err)
	}
	return EdgeIngestResult{BufferedRecords: bufferedRecords, BufferedBytes: bufferedBytes}, nil
}

// IngestRecord satisfies the Ingester interface for deployments where the
// edge profile itself exposes /v1/logs|traces|metrics directly instead of
// behind a separate public ingress. It encodes rec to an Arrow IPC blob and
// ingests it under a synthesized idempotency key, since there is no
// upstream request_id/batch_index pair in this call path.
func (e *EdgeIngester) IngestRecord(ctx context.Context, key signalkey.Key, serviceName string, rec arrow.Record) (string, error) {
	payload, err := arrowio.EncodeRecord(rec)
	if err != nil {
		return "", fmt.Errorf("httpapi: encode record for edge ingest: %w", err)
	}
	_, err = e.Ingest(ctx, key, serviceName, uuid.NewString(), 0, rec.NumRows(), 0, payload)
	return "", err
}

// Run drives the alarm/hibernation loop: periodically check every
// known actor for a due time-based flush. A real edge runtime schedules
// one alarm per durable object and wakes only that object; polling all
// actors on an interval is this single-process stand-in's equivalent.
func (e *EdgeIngester) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *EdgeIngester) tick(ctx context.Context) {
	e.mu.Lock()
	actors := make([]*edgeActor, 0, len(e.actors))
	for _, a := range e.actors {
		actors = append(actors, a)
	}
	e.mu.Unlock()

	for _, a := range actors {
		if err := a.batcher.MaybeFlushOnAlarm(ctx); err != nil {
			level.Error(e.logger).Log("msg", "alarm flush failed", "err", err)
		}
	}
}

// Close closes every open actor store, for graceful shutdown.
func (e *EdgeIngester) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, a := range e.actors {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EdgeDirectIngester adapts EdgeIngester to the Ingester interface for
// deployments where the edge profile serves /v1/logs|traces|metrics
// directly rather than routing through the internal ingest endpoint.
type EdgeDirectIngester struct {
	Edge *EdgeIngester
}

func (a EdgeDirectIngester) Ingest(ctx context.Context, key signalkey.Key, serviceName string, rec arrow.Record) (string, error) {
	return a.Edge.IngestRecord(ctx, key, serviceName, rec)
}

func safeFileName(identity string) string {
	out := make([]rune, 0, len(identity))
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
