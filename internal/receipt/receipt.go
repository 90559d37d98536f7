// Package receipt implements the receipt bus, the durable record of every Parquet file
// the batchers have written but the commit pipeline has not yet
// folded into an Iceberg snapshot. Edge actors POST a Receipt to the
// server profile's /__internal/receipt endpoint after every successful
// flush; the server profile persists it in a SQLite table keyed
// "pending:{ts_ms}:{id}" so the commit pipeline can range-scan by arrival
// order.
package receipt

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid"
	_ "modernc.org/sqlite"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// Receipt is the durable record of one Parquet file written by a batcher,
// awaiting inclusion in an Iceberg snapshot.
type Receipt struct {
	Key             string      `json:"key"`
	SignalKey       string      `json:"signal_key"`
	ServiceName     string      `json:"service_name"`
	Path            string      `json:"path"`
	Rows            int64       `json:"rows"`
	TimestampMicros int64       `json:"timestamp_micros"`
	CreatedAtMS     int64       `json:"created_at_ms"`
	RetryCount      int         `json:"retry_count"`
	Committed       bool        `json:"committed"`
	CommittedAtMS   int64       `json:"committed_at_ms,omitempty"`
}

func (r Receipt) SignalKeyParsed() (signalkey.Key, error) { return signalkey.Parse(r.SignalKey) }

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewKey builds the "pending:{ts_ms}:{ulid}" key, using ulid so keys sort
// lexicographically in arrival order within the same millisecond.
func NewKey(createdAtMS int64) string {
	t := time.UnixMilli(createdAtMS)
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyMu.Unlock()
	return fmt.Sprintf("pending:%d:%s", createdAtMS, id.String())
}

// Store is the durable KV the commit pipeline scans. The SQL-backed
// implementation below serves the server profile directly; the edge
// profile reaches the same Store indirectly over HTTP via Client.
type Store interface {
	Put(ctx context.Context, r Receipt) error
	List(ctx context.Context, onlyUncommitted bool) ([]Receipt, error)
	MarkCommitted(ctx context.Context, key string, committedAtMS int64) error
	IncrementRetry(ctx context.Context, key string) (int, error)
	Delete(ctx context.Context, key string) error
	// MarkDead moves a receipt to the dead-letter namespace
	// ("dead:{original_key}") rather than retrying it further. Dead
	// receipts are excluded from List's uncommitted scan.
	MarkDead(ctx context.Context, key string) error
}

// SQLStore persists receipts in a local SQLite database, following the
// database/sql + prepared-statement shape
// (internal/database/store.go) with modernc.org/sqlite's pure-Go driver in
// place of cgo mattn/go-sqlite3.
type SQLStore struct {
	db *sql.DB
}

func OpenSQLStore(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("receipt: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	key             TEXT PRIMARY KEY,
	signal_key      TEXT NOT NULL,
	service_name    TEXT NOT NULL,
	path            TEXT NOT NULL,
	rows            INTEGER NOT NULL,
	timestamp_micros INTEGER NOT NULL,
	created_at_ms   INTEGER NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	committed       INTEGER NOT NULL DEFAULT 0,
	committed_at_ms INTEGER NOT NULL DEFAULT 0,
	dead            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_receipts_committed ON receipts(committed, dead, created_at_ms);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("receipt: init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Put(ctx context.Context, r Receipt) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO receipts (key, signal_key, service_name, path, rows, timestamp_micros, created_at_ms, retry_count, committed, committed_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET rows = excluded.rows, path = excluded.path`,
		r.Key, r.SignalKey, r.ServiceName, r.Path, r.Rows, r.TimestampMicros, r.CreatedAtMS, r.RetryCount, boolToInt(r.Committed), r.CommittedAtMS)
	if err != nil {
		return fmt.Errorf("receipt: put %s: %w", r.Key, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, onlyUncommitted bool) ([]Receipt, error) {
	query := `SELECT key, signal_key, service_name, path, rows, timestamp_micros, created_at_ms, retry_count, committed, committed_at_ms FROM receipts WHERE dead = 0`
	if onlyUncommitted {
		query += ` AND committed = 0`
	}
	query += ` ORDER BY created_at_ms ASC, key ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("receipt: list: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		var committed int
		if err := rows.Scan(&r.Key, &r.SignalKey, &r.ServiceName, &r.Path, &r.Rows, &r.TimestampMicros, &r.CreatedAtMS, &r.RetryCount, &committed, &r.CommittedAtMS); err != nil {
			return nil, fmt.Errorf("receipt: scan: %w", err)
		}
		r.Committed = committed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkCommitted(ctx context.Context, key string, committedAtMS int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE receipts SET committed = 1, committed_at_ms = ? WHERE key = ?`, committedAtMS, key)
	if err != nil {
		return fmt.Errorf("receipt: mark committed %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) IncrementRetry(ctx context.Context, key string) (int, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE receipts SET retry_count = retry_count + 1 WHERE key = ?`, key); err != nil {
		return 0, fmt.Errorf("receipt: increment retry %s: %w", key, err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM receipts WHERE key = ?`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("receipt: read retry count %s: %w", key, err)
	}
	return n, nil
}

// MarkDead flags key as permanently undeliverable and renames it to
// "dead:{key}": dead-letter escalation for receipts whose underlying
// Parquet file is gone (catalog NotFound) or that exhausted
// MaxCatalogRetries.
func (s *SQLStore) MarkDead(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE receipts SET dead = 1, key = 'dead:' || key WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("receipt: mark dead %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM receipts WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("receipt: delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Marshal/Unmarshal use goccy/go-json per the codebase's JSON convention
// (internal/otlp/decode), for the wire form POSTed by edge actors.
func Marshal(r Receipt) ([]byte, error) { return json.Marshal(r) }
func Unmarshal(data []byte) (Receipt, error) {
	var r Receipt
	err := json.Unmarshal(data, &r)
	return r, err
}
