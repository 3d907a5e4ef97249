// Package bulk implements the Shared-Memory Bulk Channel (§4.4): a
// memory-mapped region, a cross-process mutex, four named "events", and the
// §3/§6 128-byte header, used to move payloads too large or too hot for the
// text pipes between the host and the interpreter.
//
// POSIX has no first-class named event object the way the source platform
// does, so named FIFOs stand in for the four named events (§4.4's "request"
// and "ack" signals per direction), and an flock'd lock file stands in for
// the named mutex — the same substitution the rest of the retrieval pack
// reaches for around control-plane signaling over named pipes. Both choices
// are recorded in DESIGN.md.
package bulk

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vshell-go/vshell/internal/wire"
)

// Direction identifies one of the channel's two payload regions (§4.4).
type Direction int

const (
	// AToB is the "A to B" direction.
	AToB Direction = iota
	// BToA is the "B to A" direction.
	BToA
)

func (d Direction) String() string {
	if d == AToB {
		return "a2b"
	}
	return "b2a"
}

// Status mirrors wire.Status; re-exported so callers need only import bulk.
type Status = wire.Status

const (
	StatusOK             = wire.StatusOK
	StatusTimeout        = wire.StatusTimeout
	StatusWouldBlock     = wire.StatusWouldBlock
	StatusBufferTooSmall = wire.StatusBufferTooSmall
	StatusInvalidArg     = wire.StatusInvalidArg
	StatusSystemError    = wire.StatusSystemError
	StatusBadState       = wire.StatusBadState
)

// StatusError pairs a §6 status code with a descriptive message, satisfying
// the error interface so bulk-channel failures compose with errors.Is/As.
type StatusError struct {
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bulk: %s: %s", e.Status, e.Message)
}

func statusErr(s Status, format string, args ...any) *StatusError {
	return &StatusError{Status: s, Message: fmt.Sprintf(format, args...)}
}

// ErrIncompatible is returned by Open when an existing mapping's frame_bytes
// does not match the requested capacity (§4.4 Open).
var ErrIncompatible = errors.New("bulk: existing mapping has incompatible frame_bytes")

// mutexPollInterval bounds how often Open/Write/Read retry a failed
// non-blocking flock attempt while waiting out a caller-supplied timeout.
const mutexPollInterval = 500 * time.Microsecond

// Channel is one endpoint of the shared-memory bulk channel (§4.4). A single
// process typically acts as the writer for one direction and the reader for
// the other; the API is symmetric so tests and simple tools can drive both
// directions from one Channel value.
type Channel struct {
	name       string
	frameBytes uint64

	backing *backingFile
	region  []byte // mmap'd: [header][A->B frame][B->A frame]

	lock *lockFile
	ev   [2]eventPair // indexed by Direction

	lastConsumedSeq      [2]uint64
	lastConsumedChunkSeq [2]uint64
}

type eventPair struct {
	req *namedEvent
	ack *namedEvent
}

// Open creates or attaches to the named shared-memory bulk channel, sized
// to hold a header plus two frames of frameBytes (§4.4 Open). If the header
// is uninitialized (magic mismatch), the opener zero-fills and writes it. If
// the header is already initialized with a different frame_bytes, Open
// closes everything it created and returns ErrIncompatible — the spec's §9
// open question about a leaked handle on this path is resolved in favor of
// always closing before returning (see DESIGN.md).
func Open(name string, frameBytes uint64) (*Channel, error) {
	if frameBytes == 0 {
		return nil, statusErr(StatusInvalidArg, "frame_bytes must be > 0")
	}

	totalSize := int64(wire.HeaderSize) + 2*int64(frameBytes)

	backing, err := openBackingFile(name, totalSize)
	if err != nil {
		return nil, statusErr(StatusSystemError, "open backing file: %v", err)
	}

	region, err := unix.Mmap(int(backing.file.Fd()), 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		backing.Close()
		return nil, statusErr(StatusSystemError, "mmap: %v", err)
	}

	lock, err := openLockFile(name)
	if err != nil {
		unix.Munmap(region)
		backing.Close()
		return nil, statusErr(StatusSystemError, "open lock file: %v", err)
	}

	c := &Channel{
		name:       name,
		frameBytes: frameBytes,
		backing:    backing,
		region:     region,
		lock:       lock,
	}

	for _, dir := range [2]Direction{AToB, BToA} {
		req, err := openNamedEvent(name, dir, "req")
		if err != nil {
			c.Close()
			return nil, statusErr(StatusSystemError, "open %s req event: %v", dir, err)
		}
		ack, err := openNamedEvent(name, dir, "ack")
		if err != nil {
			c.Close()
			return nil, statusErr(StatusSystemError, "open %s ack event: %v", dir, err)
		}
		c.ev[dir] = eventPair{req: req, ack: ack}
	}

	if err := c.initOrValidateHeader(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Channel) initOrValidateHeader() error {
	if !c.lock.tryLock(5 * time.Second) {
		return statusErr(StatusTimeout, "acquire mutex to validate header")
	}
	defer c.lock.unlock()

	magic := atomic.LoadUint32(c.u32(0))
	version := atomic.LoadUint32(c.u32(4))

	if magic != wire.HeaderMagic || version != wire.HeaderVersion {
		h := wire.Header{
			Magic:      wire.HeaderMagic,
			Version:    wire.HeaderVersion,
			FrameBytes: c.frameBytes,
		}
		copy(c.region[:wire.HeaderSize], wire.MarshalHeader(&h))
		return nil
	}

	existing := atomic.LoadUint64(c.u64(8))
	if existing != c.frameBytes {
		return fmt.Errorf("%w: have %d, want %d", ErrIncompatible, existing, c.frameBytes)
	}
	return nil
}

// Close unmaps the region and releases all named objects. Safe to call on a
// partially constructed Channel (e.g. from a failed Open).
func (c *Channel) Close() error {
	for _, ev := range c.ev {
		if ev.req != nil {
			ev.req.Close()
		}
		if ev.ack != nil {
			ev.ack.Close()
		}
	}
	if c.lock != nil {
		c.lock.Close()
	}
	if c.region != nil {
		unix.Munmap(c.region)
		c.region = nil
	}
	if c.backing != nil {
		return c.backing.Close()
	}
	return nil
}

// frameOffset returns the byte offset of direction dir's frame region.
func (c *Channel) frameOffset(dir Direction) int {
	off := wire.HeaderSize
	if dir == BToA {
		off += int(c.frameBytes)
	}
	return off
}

func (c *Channel) frame(dir Direction) []byte {
	off := c.frameOffset(dir)
	return c.region[off : off+int(c.frameBytes)]
}

func (c *Channel) seqOffset(dir Direction) int {
	if dir == AToB {
		return 16
	}
	return 24
}

func (c *Channel) lengthOffset(dir Direction) int {
	if dir == AToB {
		return 32
	}
	return 40
}

func (c *Channel) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&c.region[off]))
}

func (c *Channel) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&c.region[off]))
}

func (c *Channel) seqPtr(dir Direction) *uint64    { return c.u64(c.seqOffset(dir)) }
func (c *Channel) lengthPtr(dir Direction) *uint64 { return c.u64(c.lengthOffset(dir)) }

// FrameBytes returns the per-direction frame capacity this channel was
// opened with.
func (c *Channel) FrameBytes() uint64 { return c.frameBytes }
