package httpapi

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"

	"github.com/smithclay/otlp2parquet-go/internal/group"
	"github.com/smithclay/otlp2parquet-go/internal/otlp/decode"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// Router builds the mux.Router serving every route in the
// three OTLP ingest paths, the edge actor's internal ingest route, the
// receipt callback, and the test-only catalog sync trigger.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "unknown path")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	ingest := r.PathPrefix("/v1").Subrouter()
	ingest.Use(s.authMiddleware)
	ingest.HandleFunc("/logs", s.handleIngest(decode.SignalLogs)).Methods(http.MethodPost)
	ingest.HandleFunc("/traces", s.handleIngest(decode.SignalTraces)).Methods(http.MethodPost)
	ingest.HandleFunc("/metrics", s.handleIngest(decode.SignalMetrics)).Methods(http.MethodPost)

	r.HandleFunc("/", s.handleEdgeIngest).Methods(http.MethodPost)
	r.HandleFunc("/__internal/receipt", s.handleReceipt).Methods(http.MethodPost)
	r.HandleFunc("/__internal/sync_catalog", s.handleSyncCatalog).Methods(http.MethodPost)
	return r
}

// authMiddleware enforces the optional HTTP Basic auth gate ("Auth
// failure -> 401 (scheme is HTTP Basic when enabled)").
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Cfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.Cfg.Auth.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.Cfg.Auth.Password)) != 1 {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleIngest builds the POST /v1/{signal} handler: decode the body
// (protobuf, JSON, or NDJSON, optionally gzip-compressed), group the
// decoded rows by service, and hand each group to the profile's Ingester
// (the in-memory manager for server, direct writes for function, the
// edge actor registry for edge).
func (s *Server) handleIngest(signal decode.Signal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := decode.ParseFormat(r.Header.Get("Content-Type"))
		if err != nil {
			clientError(w, err.Error())
			return
		}

		body, err := s.readBody(r)
		if err != nil {
			if err == errTooLarge {
				tooLarge(w)
				return
			}
			clientError(w, err.Error())
			return
		}

		results, err := decode.Decode(signal, body, format)
		if err != nil {
			clientError(w, err.Error())
			return
		}

		ctx := r.Context()
		var recordsProcessed int
		var partitions []string
		for _, result := range results {
			for _, batch := range result.Batches {
				groups, err := group.ByService(batch)
				batch.Release()
				if err != nil {
					serverError(w, "group-by-service-failed")
					return
				}
				for _, g := range groups {
					path, err := s.Ingester.Ingest(ctx, result.Key, g.ServiceName, g.Batch)
					g.Batch.Release()
					if err != nil {
						if err == ErrBackpressure {
							backpressure(w)
							return
						}
						level.Error(s.Logger).Log("msg", "ingest failed", "signal", result.Key.String(), "service", g.ServiceName, "err", err)
						serverError(w, "ingest-failed")
						return
					}
					recordsProcessed += g.RecordCount
					if path != "" {
						partitions = append(partitions, path)
					}
				}
			}
		}

		writeJSON(w, http.StatusOK, ingestResponse{
			Status:           "ok",
			RecordsProcessed: recordsProcessed,
			Partitions:       partitions,
		})
	}
}

type ingestResponse struct {
	Status           string   `json:"status"`
	RecordsProcessed int      `json:"records_processed"`
	Partitions       []string `json:"partitions"`
}

// ErrBackpressure is returned by an Ingester when the configured buffer or
// global limits are exceeded ("Backpressure -> 503").
var ErrBackpressure = errBackpressureSentinel{}

type errBackpressureSentinel struct{}

func (errBackpressureSentinel) Error() string { return "httpapi: backpressure" }

var errTooLarge = errTooLargeSentinel{}

type errTooLargeSentinel struct{}

func (errTooLargeSentinel) Error() string { return "httpapi: payload too large" }

// readBody enforces /size limits, transparently gunzipping a
// Content-Encoding: gzip body and checking the decompressed size against
// Request.MaxDecompressedBytes.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	maxBody := s.Cfg.Request.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 32 * 1024 * 1024
	}
	limited := io.LimitReader(r.Body, maxBody+1)

	var reader io.Reader = limited
	maxOut := maxBody
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(limited)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		maxOut = s.Cfg.Request.MaxDecompressedBytes
		if maxOut <= 0 {
			maxOut = 64 * 1024 * 1024
		}
		reader = io.LimitReader(gz, maxOut+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxOut {
		return nil, errTooLarge
	}
	return body, nil
}

// handleEdgeIngest is the edge actor's internal ingest route: the
// per-(signal,service) identity is parsed from the "identity" query
// parameter on every request; it is not written to the actor's durable
// state.
func (s *Server) handleEdgeIngest(w http.ResponseWriter, r *http.Request) {
	if s.Edge == nil {
		writeError(w, http.StatusNotFound, "edge ingest not enabled on this deployment")
		return
	}

	requestID := r.Header.Get("X-Request-Id")
	batchIndexHeader := r.Header.Get("X-Batch-Index")
	if requestID == "" || batchIndexHeader == "" {
		clientError(w, "missing X-Request-Id or X-Batch-Index header")
		return
	}
	batchIndex, err := parseUint32(batchIndexHeader)
	if err != nil {
		clientError(w, "invalid X-Batch-Index header")
		return
	}

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		clientError(w, "missing identity query parameter")
		return
	}
	key, serviceName, err := signalkey.ParseIdentity(identity)
	if err != nil {
		clientError(w, err.Error())
		return
	}

	firstTSMicros := parseOptionalInt64(r.Header.Get("X-First-Timestamp-Micros"))
	recordCount := parseOptionalInt64(r.Header.Get("X-Record-Count"))

	body, err := s.readBody(r)
	if err != nil {
		if err == errTooLarge {
			tooLarge(w)
			return
		}
		clientError(w, err.Error())
		return
	}

	result, err := s.Edge.Ingest(r.Context(), key, serviceName, requestID, batchIndex, recordCount, firstTSMicros, body)
	if err != nil {
		switch err {
		case ErrPayloadTooLarge:
			tooLarge(w)
		case ErrBackpressure:
			backpressure(w)
		default:
			level.Error(s.Logger).Log("msg", "edge ingest failed", "identity", identity, "err", err)
			serverError(w, "edge-ingest-failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, edgeIngestResponse{
		Status:          "accepted",
		BufferedRecords: result.BufferedRecords,
		BufferedBytes:   result.BufferedBytes,
	})
}

type edgeIngestResponse struct {
	Status          string `json:"status"`
	BufferedRecords int64  `json:"buffered_records"`
	BufferedBytes   int64  `json:"buffered_bytes"`
}

// ErrPayloadTooLarge mirrors batcher.ErrPayloadTooLarge for callers that
// only import httpapi.
var ErrPayloadTooLarge = errTooLargeSentinel{}

// handleReceipt persists a PendingReceipt POSTed by an edge actor after a
// successful flush (receipt callback).
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if s.Receipts == nil {
		writeError(w, http.StatusNotFound, "receipt store not enabled on this deployment")
		return
	}
	var rec receipt.Receipt
	if err := decodeJSON(r.Body, &rec); err != nil {
		clientError(w, "invalid receipt body")
		return
	}
	if rec.Path == "" || rec.SignalKey == "" {
		clientError(w, "receipt missing path or signal_key")
		return
	}
	if err := s.putReceipt(r.Context(), rec); err != nil {
		level.Error(s.Logger).Log("msg", "receipt persist failed", "path", rec.Path, "err", err)
		serverError(w, "receipt-persist-failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "persisted"})
}

// handleSyncCatalog is the test-only trigger that runs the commit
// pipeline synchronously instead of waiting for its schedule, returning
// the pipeline's per-table report. Commit failures are already reflected
// in the report, so the response is 200 either way.
func (s *Server) handleSyncCatalog(w http.ResponseWriter, r *http.Request) {
	if s.Catalog == nil {
		writeError(w, http.StatusNotFound, "catalog sync not enabled on this deployment")
		return
	}
	report, err := s.Catalog.Sync(r.Context())
	if err != nil {
		level.Warn(s.Logger).Log("msg", "catalog sync completed with errors", "err", err)
	}
	writeJSON(w, http.StatusOK, report)
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// parseOptionalInt64 reads an optional positive-integer header; absent,
// malformed, or non-positive values all collapse to 0 (header not
// applied).
func parseOptionalInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
