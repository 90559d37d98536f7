// Package httpapi implements the HTTP surface: the OTLP ingest
// routes (/v1/logs, /v1/traces, /v1/metrics), the edge worker's internal
// ingest route, the receipt callback, and the test-only catalog sync
// trigger. Routing uses gorilla/mux.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/go-kit/log"

	"github.com/smithclay/otlp2parquet-go/internal/catalog"
	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// Ingester accepts one service-grouped RecordBatch and returns the
// partition path it was (or will be) written to, if known synchronously.
// ManagerIngester (server profile) always returns "" since the flush
// is deferred; DirectIngester (function profile) writes immediately and
// returns the real path.
type Ingester interface {
	Ingest(ctx context.Context, key signalkey.Key, serviceName string, rec arrow.Record) (path string, err error)
}

// Server holds the dependencies the HTTP handlers need. Not every field is
// populated in every runtime profile: Receipts and Catalog are
// server/function-only, Edge is edge-only.
type Server struct {
	Cfg      config.Config
	Ingester Ingester
	Edge     *EdgeIngester
	Receipts receipt.Store
	Catalog  CatalogSyncer
	Logger   log.Logger
	started  time.Time
}

// CatalogSyncer is the narrow catalog.Pipeline slice the sync-trigger
// handler needs.
type CatalogSyncer interface {
	Sync(ctx context.Context) (catalog.Report, error)
}

func New(cfg config.Config, ingester Ingester, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{Cfg: cfg, Ingester: ingester, Logger: logger, started: time.Now()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encodeJSON(w, body)
}

// putReceipt persists a receipt POSTed by an edge actor (receipt
// callback) under the key the actor assigned it.
func (s *Server) putReceipt(ctx context.Context, r receipt.Receipt) error {
	if r.Key == "" {
		r.Key = receipt.NewKey(r.CreatedAtMS)
	}
	return s.Receipts.Put(ctx, r)
}
