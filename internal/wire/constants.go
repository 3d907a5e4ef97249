// Package wire defines the on-the-wire packet format exchanged with the
// interpreter's stdin/stdout, shared by the Tracker and the I/O Pump.
package wire

import (
	"fmt"
	"time"
)

// BeginMarker returns the literal begin-marker string for a command ID,
// per §6: "<<<SS_BEG_<decimal id>>>>".
func BeginMarker(id uint64) string {
	return fmt.Sprintf("<<<SS_BEG_%d>>>", id)
}

// EndMarker returns the literal end-marker string for a command ID,
// per §6: "<<<SS_END_<decimal id>>>>".
func EndMarker(id uint64) string {
	return fmt.Sprintf("<<<SS_END_%d>>>", id)
}

// InternalTimeoutSentinel is the stderr sentinel that marks a forced
// interpreter restart (§4.3). The Subprocess Engine in this repository does
// not emit it; the Tracker strips it from any stderr chunk that contains it
// and treats it as an immediate timeout signal for the FIFO head.
const InternalTimeoutSentinel = "__VS_INTERNAL_TIMEOUT__"

// Status mirrors the §6 status-code vocabulary used by bulk-channel calls.
type Status int

const (
	StatusOK             Status = 0
	StatusTimeout        Status = 1
	StatusWouldBlock     Status = 2
	StatusBufferTooSmall Status = 3
	StatusInvalidArg     Status = -1
	StatusSystemError    Status = -2
	StatusBadState       Status = -3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusWouldBlock:
		return "would_block"
	case StatusBufferTooSmall:
		return "buffer_too_small"
	case StatusInvalidArg:
		return "invalid_arg"
	case StatusSystemError:
		return "system_error"
	case StatusBadState:
		return "bad_state"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ReaderBufferSize is the size of each reader thread's fixed stack buffer
// (§4.2: "8-64 KiB"); a single blocking read fills at most this many bytes.
const ReaderBufferSize = 32 * 1024

// PreBufferCap bounds how much of stdout is buffered while scanning for a
// command's begin marker (§4.3: "cap pre-buffer at a bounded size").
const PreBufferCap = 4096

// DeadlineScanInterval is the deadline scanner's tick period (§4.3, §8).
const DeadlineScanInterval = 10 * time.Millisecond

// StopGracePeriod is how long stop(force) waits for the child to exit
// cooperatively before forcibly terminating it (§4.1).
const StopGracePeriod = 5 * time.Second

// BulkPollInterval is the poll period used by a bulk-channel Read when no
// named event is available to wait on (§4.4 step 4).
const BulkPollInterval = 1 * time.Millisecond
