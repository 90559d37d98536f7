package dlq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	blobs := [][]byte{[]byte("arrow-ipc-one"), []byte("arrow-ipc-two"), {}}
	encoded := Encode(blobs)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, blobs[0], decoded[0])
	assert.Equal(t, blobs[1], decoded[1])
	assert.Equal(t, blobs[2], decoded[2])
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not-a-dlq-container-at-all"))
	assert.Error(t, err)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	encoded := Encode([][]byte{[]byte("hello")})
	_, err := Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestWriterWritesUnderFailedPrefix(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	w := NewWriter(bkt, "")

	path, err := w.Write(context.Background(), signalkey.Traces(), "checkout", [][]byte{[]byte("x")})
	require.NoError(t, err)
	assert.Contains(t, path, "failed/traces/checkout/")

	exists, err := bkt.Exists(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, exists)
}
