// Package memory holds the single process-wide Arrow allocator shared by
// the decoder's record builders and the service grouper, treated as a
// shared-immutable resource initialized once at process start — the same
// policy applied to the global object-storage client handle.
package memory

import (
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var shared = memory.NewGoAllocator()

// Shared returns the process-wide Arrow allocator. GoAllocator has no
// per-instance state, so a single shared value is safe for concurrent use
// across the decoder and grouper without pooling.
func Shared() memory.Allocator {
	return shared
}
