// Package pump implements the I/O Pump (§4.2): one writer goroutine draining
// a FIFO packet queue into the child's stdin, and two reader goroutines
// copying the child's stdout/stderr into the Command Tracker.
package pump

import "sync"

// Buffer size classes for the reader pool. Readers see short command output
// far more often than multi-megabyte payloads, so most traffic stays in the
// smallest bucket.
const (
	size32k  = 32 * 1024
	size128k = 128 * 1024
	size1m   = 1024 * 1024
)

var globalPool = struct {
	pool32k  sync.Pool
	pool128k sync.Pool
	pool1m   sync.Pool
}{
	pool32k:  sync.Pool{New: func() any { b := make([]byte, size32k); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// getBuffer returns a pooled buffer of at least size bytes. Caller must call
// putBuffer when done.
func getBuffer(size int) []byte {
	switch {
	case size <= size32k:
		return (*globalPool.pool32k.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*globalPool.pool128k.Get().(*[]byte))[:size]
	default:
		return (*globalPool.pool1m.Get().(*[]byte))[:size]
	}
}

// putBuffer returns a buffer to the pool matching its capacity.
func putBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size32k:
		globalPool.pool32k.Put(&buf)
	case size128k:
		globalPool.pool128k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
	}
}
