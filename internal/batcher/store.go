// Package batcher implements the edge actor's durable, single-threaded
// accumulate-then-flush batcher. It is modeled as a Durable-Object-style
// actor: one instance per (signal_key, service_name) identity, backed by a
// SQLite database for crash-proof state (modernc.org/sqlite), following
// the database/sql plus prepared-statement shape used elsewhere in this
// codebase's storage layers.
package batcher

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// defaultChunkThresholdBytes is the row-size ceiling an ingested Arrow IPC
// blob is split at when no config.Batch.ChunkThresholdBytes override is
// set, matching the durable-state schema's "roughly 1MiB per row" design.
const defaultChunkThresholdBytes = 1 << 20

// Chunk is one pending accumulation, reassembled from the one or more
// storage rows (a "chunk group") an oversized Arrow IPC blob was split
// across on ingest. RowSeqs holds every underlying row's seq, in
// chunk_index order, for deletion after a successful flush.
type Chunk struct {
	GroupID       int64
	IdempotencyID string
	Payload       []byte
	SizeBytes     int64
	RecordCount   int64
	CreatedAtMS   int64
	RowSeqs       []int64
}

// Store is the actor's durable SQLite-backed state: pending chunk groups,
// the idempotency dedup set, and the actor's own state-machine row.
type Store struct {
	db                  *sql.DB
	chunkThresholdBytes int64
}

// OpenStore opens (creating if necessary) the actor's SQLite database at
// path. chunkThresholdBytes bounds how large a single storage row's payload
// may be before AppendChunk splits the blob across multiple rows sharing a
// chunk_group_id; zero selects defaultChunkThresholdBytes.
func OpenStore(path string, chunkThresholdBytes int64) (*Store, error) {
	if chunkThresholdBytes <= 0 {
		chunkThresholdBytes = defaultChunkThresholdBytes
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("batcher: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, chunkThresholdBytes: chunkThresholdBytes}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_group_id  INTEGER NOT NULL,
	chunk_index     INTEGER NOT NULL,
	idempotency_id  TEXT,
	payload         BLOB NOT NULL,
	size_bytes      INTEGER NOT NULL,
	record_count    INTEGER NOT NULL DEFAULT 0,
	created_at_ms   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_idempotency ON chunks(idempotency_id) WHERE idempotency_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_chunks_group ON chunks(chunk_group_id, chunk_index);

CREATE TABLE IF NOT EXISTS actor_state (
	id                           INTEGER PRIMARY KEY CHECK (id = 1),
	status                       TEXT NOT NULL DEFAULT 'uninitialized',
	failure_count                INTEGER NOT NULL DEFAULT 0,
	last_flush_at_ms             INTEGER NOT NULL DEFAULT 0,
	next_alarm_at_ms             INTEGER NOT NULL DEFAULT 0,
	first_event_timestamp_micros INTEGER NOT NULL DEFAULT 0,
	pending_receipt              TEXT NOT NULL DEFAULT ''
);
INSERT OR IGNORE INTO actor_state (id, status) VALUES (1, 'uninitialized');
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("batcher: init schema: %w", err)
	}
	return nil
}

// SeenIdempotencyID reports whether idempotencyID has already been
// accepted, implementing the ingest-side dedup check.
func (s *Store) SeenIdempotencyID(ctx context.Context, idempotencyID string) (bool, error) {
	if idempotencyID == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE idempotency_id = ?`, idempotencyID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("batcher: check idempotency %s: %w", idempotencyID, err)
	}
	return n > 0, nil
}

// AppendChunk stores one pending IPC blob. idempotencyID may be empty, in
// which case the chunk takes no part in dedup. Blobs larger than the store's
// chunk threshold are split across multiple rows sharing a chunk_group_id
// (the seq of the row's chunk_index 0 member), ordered by chunk_index, so
// a single oversized ingest never forces an unbounded single SQL blob.
// recordCount is attached to the group's first row only; PendingRecords
// sums across chunk_index = 0 rows.
func (s *Store) AppendChunk(ctx context.Context, idempotencyID string, payload []byte, recordCount int64, createdAtMS int64) error {
	threshold := s.chunkThresholdBytes
	if threshold <= 0 {
		threshold = defaultChunkThresholdBytes
	}

	var parts [][]byte
	if len(payload) == 0 {
		parts = [][]byte{payload}
	} else {
		for offset := 0; offset < len(payload); offset += int(threshold) {
			end := offset + int(threshold)
			if end > len(payload) {
				end = len(payload)
			}
			parts = append(parts, payload[offset:end])
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batcher: append chunk: begin: %w", err)
	}
	defer tx.Rollback()

	var idem interface{}
	if idempotencyID != "" {
		idem = idempotencyID
	}

	var groupID int64
	for i, part := range parts {
		if i == 0 {
			res, err := tx.ExecContext(ctx, `INSERT INTO chunks (chunk_group_id, chunk_index, idempotency_id, payload, size_bytes, record_count, created_at_ms) VALUES (0, 0, ?, ?, ?, ?, ?)`,
				idem, part, len(part), recordCount, createdAtMS)
			if err != nil {
				return fmt.Errorf("batcher: append chunk: insert head: %w", err)
			}
			groupID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("batcher: append chunk: head seq: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE chunks SET chunk_group_id = ? WHERE seq = ?`, groupID, groupID); err != nil {
				return fmt.Errorf("batcher: append chunk: set group id: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks (chunk_group_id, chunk_index, idempotency_id, payload, size_bytes, record_count, created_at_ms) VALUES (?, ?, NULL, ?, ?, 0, ?)`,
			groupID, i, part, len(part), createdAtMS); err != nil {
			return fmt.Errorf("batcher: append chunk: insert continuation %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// PendingSize returns the total bytes of all chunk rows not yet flushed.
func (s *Store) PendingSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM chunks`).Scan(&total); err != nil {
		return 0, fmt.Errorf("batcher: pending size: %w", err)
	}
	return total.Int64, nil
}

// PendingRecords returns the total record count of all chunk groups not
// yet flushed.
func (s *Store) PendingRecords(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(record_count) FROM chunks WHERE chunk_index = 0`).Scan(&total); err != nil {
		return 0, fmt.Errorf("batcher: pending records: %w", err)
	}
	return total.Int64, nil
}

// LoadForFlush returns whole, reassembled chunk groups in arrival (FIFO)
// order, including complete groups only up to maxBytes total across
// already-included groups -- the first group is always included even if
// its own size exceeds maxBytes, since a group's rows are never split
// across flushes.
func (s *Store) LoadForFlush(ctx context.Context, maxBytes int64) ([]Chunk, error) {
	groupRows, err := s.db.QueryContext(ctx, `SELECT chunk_group_id, SUM(size_bytes) FROM chunks GROUP BY chunk_group_id ORDER BY chunk_group_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("batcher: load for flush: group scan: %w", err)
	}
	var groupIDs []int64
	var loaded int64
	for groupRows.Next() {
		var gid int64
		var total int64
		if err := groupRows.Scan(&gid, &total); err != nil {
			groupRows.Close()
			return nil, fmt.Errorf("batcher: load for flush: scan group: %w", err)
		}
		if len(groupIDs) > 0 && loaded+total > maxBytes {
			break
		}
		groupIDs = append(groupIDs, gid)
		loaded += total
	}
	if err := groupRows.Err(); err != nil {
		groupRows.Close()
		return nil, err
	}
	groupRows.Close()
	if len(groupIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(groupIDs))
	args := make([]interface{}, len(groupIDs))
	for i, gid := range groupIDs {
		placeholders[i] = "?"
		args[i] = gid
	}
	query := fmt.Sprintf(`SELECT seq, chunk_group_id, chunk_index, COALESCE(idempotency_id, ''), payload, size_bytes, record_count, created_at_ms FROM chunks WHERE chunk_group_id IN (%s) ORDER BY chunk_group_id ASC, chunk_index ASC`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batcher: load for flush: %w", err)
	}
	defer rows.Close()

	order := make([]int64, 0, len(groupIDs))
	byGroup := make(map[int64]*Chunk, len(groupIDs))
	for rows.Next() {
		var seq, gid int64
		var idx int
		var idem string
		var payload []byte
		var size, recordCount, createdAtMS int64
		if err := rows.Scan(&seq, &gid, &idx, &idem, &payload, &size, &recordCount, &createdAtMS); err != nil {
			return nil, fmt.Errorf("batcher: scan chunk: %w", err)
		}
		c, ok := byGroup[gid]
		if !ok {
			c = &Chunk{GroupID: gid, CreatedAtMS: createdAtMS}
			byGroup[gid] = c
			order = append(order, gid)
		}
		if idx == 0 {
			c.IdempotencyID = idem
			c.RecordCount = recordCount
		}
		c.Payload = append(c.Payload, payload...)
		c.SizeBytes += size
		c.RowSeqs = append(c.RowSeqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Chunk, 0, len(order))
	for _, gid := range order {
		out = append(out, *byGroup[gid])
	}
	return out, nil
}

// DeleteChunks removes every underlying row (across every chunk's RowSeqs)
// after a successful flush.
func (s *Store) DeleteChunks(ctx context.Context, chunks []Chunk) error {
	var seqs []int64
	for _, c := range chunks {
		seqs = append(seqs, c.RowSeqs...)
	}
	if len(seqs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batcher: delete chunks: begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE seq = ?`)
	if err != nil {
		return fmt.Errorf("batcher: delete chunks: prepare: %w", err)
	}
	defer stmt.Close()
	for _, seq := range seqs {
		if _, err := stmt.ExecContext(ctx, seq); err != nil {
			return fmt.Errorf("batcher: delete chunk %d: %w", seq, err)
		}
	}
	return tx.Commit()
}

// Status returns the actor's current state-machine status and failure
// count.
func (s *Store) Status(ctx context.Context) (status string, failureCount int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT status, failure_count FROM actor_state WHERE id = 1`).Scan(&status, &failureCount)
	if err != nil {
		return "", 0, fmt.Errorf("batcher: status: %w", err)
	}
	return status, failureCount, nil
}

func (s *Store) SetStatus(ctx context.Context, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE actor_state SET status = ? WHERE id = 1`, status)
	if err != nil {
		return fmt.Errorf("batcher: set status: %w", err)
	}
	return nil
}

func (s *Store) IncrementFailureCount(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE actor_state SET failure_count = failure_count + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("batcher: increment failure count: %w", err)
	}
	_, failures, err := s.Status(ctx)
	return failures, err
}

func (s *Store) ResetFailureCount(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE actor_state SET failure_count = 0, last_flush_at_ms = ? WHERE id = 1`, nowMS())
	if err != nil {
		return fmt.Errorf("batcher: reset failure count: %w", err)
	}
	return nil
}

// UpdateFirstEventTimestamp implements the durable-state update rule:
// first_event_timestamp_micros becomes min(current, headerTSMicros),
// treating a current value of zero (unset) as "no floor yet". Within one
// accumulation cycle the stored value is therefore monotonically
// non-increasing.
func (s *Store) UpdateFirstEventTimestamp(ctx context.Context, headerTSMicros int64) error {
	if headerTSMicros <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE actor_state SET first_event_timestamp_micros = CASE
		WHEN first_event_timestamp_micros <= 0 THEN ?
		WHEN ? < first_event_timestamp_micros THEN ?
		ELSE first_event_timestamp_micros END WHERE id = 1`, headerTSMicros, headerTSMicros, headerTSMicros)
	if err != nil {
		return fmt.Errorf("batcher: update first event timestamp: %w", err)
	}
	return nil
}

// FirstEventTimestamp returns the actor's current accumulation-cycle floor
// timestamp, or 0 if unset.
func (s *Store) FirstEventTimestamp(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT first_event_timestamp_micros FROM actor_state WHERE id = 1`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("batcher: first event timestamp: %w", err)
	}
	return ts, nil
}

// ClearFirstEventTimestamp resets the floor timestamp, called once a flush
// completes successfully and a new accumulation cycle begins.
func (s *Store) ClearFirstEventTimestamp(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE actor_state SET first_event_timestamp_micros = 0 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("batcher: clear first event timestamp: %w", err)
	}
	return nil
}

// SetPendingReceipt durably parks the JSON-serialized receipt of a flush
// whose receipt-bus handoff failed. At most one receipt is outstanding per
// actor; it is retried at the start of the next flush or alarm.
func (s *Store) SetPendingReceipt(ctx context.Context, receiptJSON string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE actor_state SET pending_receipt = ? WHERE id = 1`, receiptJSON)
	if err != nil {
		return fmt.Errorf("batcher: set pending receipt: %w", err)
	}
	return nil
}

// PendingReceipt returns the parked receipt JSON, or "" when none is
// outstanding.
func (s *Store) PendingReceipt(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT pending_receipt FROM actor_state WHERE id = 1`).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("batcher: pending receipt: %w", err)
	}
	return v, nil
}

func (s *Store) ClearPendingReceipt(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE actor_state SET pending_receipt = '' WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("batcher: clear pending receipt: %w", err)
	}
	return nil
}

func (s *Store) SetNextAlarm(ctx context.Context, atMS int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE actor_state SET next_alarm_at_ms = ? WHERE id = 1`, atMS)
	if err != nil {
		return fmt.Errorf("batcher: set next alarm: %w", err)
	}
	return nil
}

func (s *Store) NextAlarm(ctx context.Context) (int64, error) {
	var atMS int64
	err := s.db.QueryRowContext(ctx, `SELECT next_alarm_at_ms FROM actor_state WHERE id = 1`).Scan(&atMS)
	if err != nil {
		return 0, fmt.Errorf("batcher: next alarm: %w", err)
	}
	return atMS, nil
}

func (s *Store) Close() error { return s.db.Close() }
