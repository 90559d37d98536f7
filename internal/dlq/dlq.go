// Package dlq implements the dead-letter container format and writer the
// batcher uses when a batch exhausts its write retries ("MAX_WRITE_RETRIES")
// or its flush exceeds the memory ceiling. Receipts that exhaust their
// catalog retries are marked dead in the receipt store instead. A DLQ object bundles one or more Arrow IPC
// stream blobs behind a small self-describing header so an operator (or a
// future replay tool) can recover the original RecordBatches without
// needing the Parquet schema registry or any out-of-band index.
package dlq

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thanos-io/objstore"

	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// magic identifies the container format. "OTLPIPC1" is 8 bytes, matching
// the fixed Arrow IPC alignment convention the rest of this codebase uses.
var magic = [8]byte{'O', 'T', 'L', 'P', 'I', 'P', 'C', '1'}

// Encode packs one or more Arrow IPC stream byte slices into a single DLQ
// blob: magic, uint32 blob count, then per blob a uint32 length prefix
// followed by the raw bytes.
func Encode(ipcBlobs [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])
	writeUint32(&buf, uint32(len(ipcBlobs)))
	for _, b := range ipcBlobs {
		writeUint32(&buf, uint32(len(b)))
		buf.Write(b)
	}
	return buf.Bytes()
}

// Decode is Encode's inverse.
func Decode(data []byte) ([][]byte, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("dlq: container too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:8], magic[:]) {
		return nil, fmt.Errorf("dlq: bad magic %q", data[:8])
	}
	count := binary.LittleEndian.Uint32(data[8:12])
	rest := data[12:]
	blobs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("dlq: truncated length prefix for blob %d", i)
		}
		n := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(n) {
			return nil, fmt.Errorf("dlq: truncated blob %d: want %d bytes, have %d", i, n, len(rest))
		}
		blobs = append(blobs, rest[:n])
		rest = rest[n:]
	}
	return blobs, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// Writer uploads DLQ containers under the deterministic path layout
// failed/{signal_type}/{service}/{ts_ms}-{uuid}.ipc.
type Writer struct {
	bucket objstore.Bucket
	prefix string
}

func NewWriter(bucket objstore.Bucket, prefix string) *Writer {
	return &Writer{bucket: bucket, prefix: prefix}
}

// Write encodes ipcBlobs and uploads them, returning the path written.
func (w *Writer) Write(ctx context.Context, key signalkey.Key, serviceName string, ipcBlobs [][]byte) (string, error) {
	path := w.path(key, serviceName)
	if err := w.bucket.Upload(ctx, path, bytes.NewReader(Encode(ipcBlobs))); err != nil {
		return "", fmt.Errorf("dlq: upload %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) path(key signalkey.Key, serviceName string) string {
	base := fmt.Sprintf("failed/%s/%s/%d-%s.ipc", key.SignalType(), serviceName, time.Now().UnixMilli(), uuid.NewString())
	if w.prefix == "" {
		return base
	}
	return w.prefix + "/" + base
}
