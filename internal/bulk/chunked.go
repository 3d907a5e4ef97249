package bulk

import (
	"encoding/binary"
	"sync/atomic"
	"time"
)

// Chunk header field offsets within the 128-byte header (§3, §6): the
// extended-header profile this repository selected for chunked transfer
// (§9 Open Questions, resolution #1 in DESIGN.md).
const (
	chunkOffsetOff     = 48
	chunkLengthOff     = 56
	chunkSeqOff        = 64
	chunkValidOff      = 72
	chunkIndexOff      = 76
	chunkTotalSizeOff  = 80
	chunkSizeOff       = 88
	chunkCountOff      = 96
)

// WriteChunked sends a payload larger than the frame capacity by splitting
// it into chunkSize-sized pieces and driving them one at a time through the
// header's chunk metadata fields and the direction's req/ack events (§4.4
// Chunked transfer). It aborts on the first ack timeout.
func (c *Channel) WriteChunked(dir Direction, payload []byte, chunkSize uint64, timeout time.Duration) error {
	if chunkSize == 0 || chunkSize > c.frameBytes {
		return statusErr(StatusInvalidArg, "chunk_size must be in (0, frame_bytes]")
	}

	total := uint64(len(payload))
	count := (total + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1 // an empty payload is still one (zero-length) chunk
	}

	for k := uint64(0); k < count; k++ {
		start := k * chunkSize
		end := start + chunkSize
		if end > total {
			end = total
		}
		chunk := payload[start:end]

		if !c.lock.tryLock(timeout) {
			return statusErr(StatusTimeout, "acquire mutex for chunk %d", k)
		}
		copy(c.frame(dir), chunk)
		c.putU64(chunkOffsetOff, start)
		c.putU64(chunkLengthOff, uint64(len(chunk)))
		c.putU64(chunkTotalSizeOff, total)
		c.putU64(chunkSizeOff, chunkSize)
		c.putU32(chunkCountOff, uint32(count))
		c.putU32(chunkIndexOff, uint32(k))
		c.putU32(chunkValidOff, 1)
		atomic.AddUint64(c.u64(chunkSeqOff), 1)
		c.lock.unlock()

		c.ev[dir].req.signal()
		if !c.ev[dir].ack.wait(timeout) {
			return statusErr(StatusTimeout, "ack timeout for chunk %d/%d", k, count)
		}
	}

	return nil
}

// ReadChunked reassembles a payload sent via WriteChunked, returning once
// the final chunk (chunk_index == chunk_count-1) has been consumed.
func (c *Channel) ReadChunked(dir Direction, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var out []byte

	for {
		if !c.waitForChunkAdvance(dir, deadline) {
			return nil, statusErr(StatusTimeout, "wait for %s chunk sequence advance", dir)
		}

		remaining := time.Until(deadline)
		if !c.lock.tryLock(remaining) {
			return nil, statusErr(StatusTimeout, "acquire mutex")
		}

		valid := c.getU32(chunkValidOff)
		if valid == 0 {
			c.lock.unlock()
			return nil, statusErr(StatusBadState, "chunk metadata not valid")
		}
		offset := c.getU64(chunkOffsetOff)
		length := c.getU64(chunkLengthOff)
		total := c.getU64(chunkTotalSizeOff)
		index := c.getU32(chunkIndexOff)
		count := c.getU32(chunkCountOff)
		seq := atomic.LoadUint64(c.u64(chunkSeqOff))

		if out == nil {
			out = make([]byte, total)
		}
		if offset+length > uint64(len(out)) {
			c.lock.unlock()
			return nil, statusErr(StatusBadState, "chunk %d out of bounds", index)
		}
		copy(out[offset:offset+length], c.frame(dir)[:length])
		c.lastConsumedChunkSeq[dir] = seq

		c.lock.unlock()
		c.ev[dir].ack.signal()

		if index+1 >= count {
			return out, nil
		}
	}
}

func (c *Channel) waitForChunkAdvance(dir Direction, deadline time.Time) bool {
	if atomic.LoadUint64(c.u64(chunkSeqOff)) > c.lastConsumedChunkSeq[dir] {
		return true
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return atomic.LoadUint64(c.u64(chunkSeqOff)) > c.lastConsumedChunkSeq[dir]
		}
		woke := c.ev[dir].req.wait(minDuration(remaining, 50*time.Millisecond))
		if atomic.LoadUint64(c.u64(chunkSeqOff)) > c.lastConsumedChunkSeq[dir] {
			return true
		}
		if !woke {
			time.Sleep(mutexPollInterval)
		}
	}
}

func (c *Channel) putU32(off int, v uint32) { binary.LittleEndian.PutUint32(c.region[off:off+4], v) }
func (c *Channel) putU64(off int, v uint64) { binary.LittleEndian.PutUint64(c.region[off:off+8], v) }
func (c *Channel) getU32(off int) uint32    { return binary.LittleEndian.Uint32(c.region[off : off+4]) }
func (c *Channel) getU64(off int) uint64    { return binary.LittleEndian.Uint64(c.region[off : off+8]) }
