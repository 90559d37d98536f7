package receipt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenSQLStore(filepath.Join(dir, "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndListUncommitted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := Receipt{
		Key:             NewKey(1000),
		SignalKey:       "logs",
		ServiceName:     "checkout",
		Path:            "otel_logs/year=2025/month=01/day=01/hour=00/checkout-1-uuid.parquet",
		Rows:            42,
		TimestampMicros: 1000000,
		CreatedAtMS:     1000,
	}
	require.NoError(t, s.Put(ctx, r))

	got, err := s.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.Key, got[0].Key)
	assert.False(t, got[0].Committed)
}

func TestMarkCommittedExcludesFromUncommittedList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := NewKey(2000)
	require.NoError(t, s.Put(ctx, Receipt{Key: key, SignalKey: "traces", ServiceName: "api", Path: "p", Rows: 1, CreatedAtMS: 2000}))
	require.NoError(t, s.MarkCommitted(ctx, key, 2500))

	uncommitted, err := s.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, uncommitted)

	all, err := s.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Committed)
	assert.Equal(t, int64(2500), all[0].CommittedAtMS)
}

func TestIncrementRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := NewKey(3000)
	require.NoError(t, s.Put(ctx, Receipt{Key: key, SignalKey: "logs", ServiceName: "svc", Path: "p", CreatedAtMS: 3000}))

	n, err := s.IncrementRetry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.IncrementRetry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	r := Receipt{Key: NewKey(1), SignalKey: "metrics:gauge", ServiceName: "svc", Path: "p", Rows: 10}
	data, err := Marshal(r)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, r.Key, got.Key)
	assert.Equal(t, r.SignalKey, got.SignalKey)

	parsed, err := got.SignalKeyParsed()
	require.NoError(t, err)
	assert.Equal(t, "metrics:gauge", parsed.String())
}

func TestNewKeyFormat(t *testing.T) {
	k := NewKey(123456789)
	assert.Contains(t, k, "pending:123456789:")
}
