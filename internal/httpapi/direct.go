package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/smithclay/otlp2parquet-go/internal/manager"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
)

// ManagerSink is the narrow slice of manager.Manager the server profile's
// Ingester adapter needs.
type ManagerSink interface {
	Ingest(ctx context.Context, key signalkey.Key, serviceName string, rec arrow.Record) error
}

// ManagerIngester adapts the in-memory batch manager to the Ingester
// interface for the server profile. The manager defers its flush, so the
// partition path is never known synchronously; callers only learn it (if
// they care) from the receipt bus.
type ManagerIngester struct {
	Manager ManagerSink
}

func (m ManagerIngester) Ingest(ctx context.Context, key signalkey.Key, serviceName string, rec arrow.Record) (string, error) {
	if err := m.Manager.Ingest(ctx, key, serviceName, rec); err != nil {
		if errors.Is(err, manager.ErrBackpressure) {
			return "", ErrBackpressure
		}
		return "", err
	}
	return "", nil
}

// DirectIngester adapts the Parquet sink directly to the Ingester
// interface for the function profile: every ingest writes its own Parquet
// file immediately and returns the real partition path, trading
// small-file overhead for a profile with no durable state of its own
// ("function: stateless, direct write").
type DirectIngester struct {
	Sink     *sink.Sink
	Receipts receipt.Store
	Logger   log.Logger
}

func (d DirectIngester) Ingest(ctx context.Context, key signalkey.Key, serviceName string, rec arrow.Record) (string, error) {
	minTS := minTimestampMicros(rec)
	res, err := d.Sink.Write(ctx, key, serviceName, minTS, []arrow.Record{rec})
	if err != nil {
		return "", fmt.Errorf("httpapi: direct write failed: %w", err)
	}
	if d.Receipts != nil {
		r := receipt.Receipt{
			Key:             receipt.NewKey(time.Now().UnixMilli()),
			SignalKey:       key.String(),
			ServiceName:     serviceName,
			Path:            res.Path,
			Rows:            res.Rows,
			TimestampMicros: minTS,
			CreatedAtMS:     time.Now().UnixMilli(),
		}
		if err := d.Receipts.Put(ctx, r); err != nil {
			logger := d.Logger
			if logger == nil {
				logger = log.NewNopLogger()
			}
			level.Error(logger).Log("msg", "direct ingest receipt write failed", "path", res.Path, "err", err)
		}
	}
	return res.Path, nil
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
