package bulk

import (
	"sync/atomic"
	"time"

	"github.com/vshell-go/vshell/internal/wire"
)

// Write publishes payload into direction dir's frame and bumps its sequence
// counter (§4.4 Write). Returns the new sequence number.
func (c *Channel) Write(dir Direction, payload []byte, timeout time.Duration) (uint64, error) {
	if uint64(len(payload)) > c.frameBytes {
		return 0, statusErr(StatusInvalidArg, "payload %d bytes exceeds frame_bytes %d", len(payload), c.frameBytes)
	}

	if !c.lock.tryLock(timeout) {
		return 0, statusErr(StatusTimeout, "acquire mutex")
	}

	copy(c.frame(dir), payload)
	// Length is published before the sequence is bumped: readers that
	// observe the new sequence are guaranteed to see the matching length
	// once they too take the mutex (§3 invariant).
	atomic.StoreUint64(c.lengthPtr(dir), uint64(len(payload)))
	next := atomic.AddUint64(c.seqPtr(dir), 1)

	c.lock.unlock()

	c.ev[dir].req.signal()
	c.ev[dir].ack.drain()

	return next, nil
}

// Read consumes the next payload published in direction dir, or blocks (per
// timeout) until one arrives (§4.4 Read). Passing out == nil performs a
// probe read: it reports the stored length without consuming the sequence
// counter and never copies. If len(out) is smaller than the stored length,
// Read fails with StatusBufferTooSmall and reports the required length; the
// sequence counter is not consumed in that case either, so the caller can
// retry with a bigger buffer.
func (c *Channel) Read(dir Direction, out []byte, timeout time.Duration) (n int, requiredLen int, err error) {
	deadline := time.Now().Add(timeout)

	if !c.waitForAdvance(dir, deadline, timeout) {
		if timeout <= 0 {
			return 0, 0, statusErr(StatusWouldBlock, "no payload available")
		}
		return 0, 0, statusErr(StatusTimeout, "wait for %s sequence advance", dir)
	}

	remaining := time.Until(deadline)
	if timeout <= 0 {
		remaining = mutexPollInterval * 10
	}
	if !c.lock.tryLock(remaining) {
		return 0, 0, statusErr(StatusTimeout, "acquire mutex")
	}
	defer c.lock.unlock()

	length := atomic.LoadUint64(c.lengthPtr(dir))
	if length > c.frameBytes {
		return 0, 0, statusErr(StatusBadState, "stored length %d exceeds frame_bytes %d", length, c.frameBytes)
	}
	seq := atomic.LoadUint64(c.seqPtr(dir))

	if out == nil {
		return 0, int(length), nil
	}
	if uint64(len(out)) < length {
		return 0, int(length), statusErr(StatusBufferTooSmall, "buffer holds %d bytes, need %d", len(out), length)
	}

	n = copy(out, c.frame(dir)[:length])
	c.lastConsumedSeq[dir] = seq

	c.ev[dir].ack.signal()

	return n, int(length), nil
}

// waitForAdvance blocks until the direction's sequence counter advances past
// the reader's last-consumed value, or timeout elapses (§4.4 Read steps
// 1-4). It returns true as soon as an advance is observed.
func (c *Channel) waitForAdvance(dir Direction, deadline time.Time, timeout time.Duration) bool {
	if atomic.LoadUint64(c.seqPtr(dir)) > c.lastConsumedSeq[dir] {
		return true
	}
	if timeout <= 0 {
		return false
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return atomic.LoadUint64(c.seqPtr(dir)) > c.lastConsumedSeq[dir]
		}

		// Every wake (event or poll tick) is a hint; only the sequence
		// counter is authoritative (§9).
		woke := c.ev[dir].req.wait(minDuration(remaining, wire.BulkPollInterval*50))
		if atomic.LoadUint64(c.seqPtr(dir)) > c.lastConsumedSeq[dir] {
			return true
		}
		if woke {
			continue
		}
		time.Sleep(wire.BulkPollInterval)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
