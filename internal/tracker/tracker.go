// Package tracker implements the Command Tracker (§4.3): command ID
// allocation, the in-flight map and FIFO, the marker-based demultiplexer,
// the deadline scanner, and promise/callback fulfillment. This is the
// algorithmic heart of the multiplexer.
package tracker

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vshell-go/vshell/internal/interfaces"
	"github.com/vshell-go/vshell/internal/wire"
)

// Writer enqueues a wire packet for the I/O Pump's writer thread.
type Writer interface {
	Enqueue(packet []byte) error
}

// Tracker demultiplexes interleaved stdout/stderr chunks to in-flight
// commands using a single FIFO-head pointer (§4.3), under the assumption
// that the interpreter runs packets in submit order.
type Tracker struct {
	mu      sync.Mutex
	nextID  uint64
	records map[uint64]*record
	fifo    []uint64

	adapter  interfaces.Adapter
	writer   Writer
	logger   interfaces.Logger
	observer interfaces.Observer

	autoRestart bool
	onExpire    func() // invoked asynchronously on the first expiry of a batch, if autoRestart

	stopCh   chan struct{}
	stopOnce sync.Once
	scanDone chan struct{}
}

// New creates a Tracker and starts its deadline scanner goroutine.
// onExpire, if non-nil and autoRestart is true, is invoked (in its own
// goroutine) once for every deadline-scan tick that expires at least one
// command.
func New(adapter interfaces.Adapter, writer Writer, logger interfaces.Logger, observer interfaces.Observer, autoRestart bool, onExpire func()) *Tracker {
	t := &Tracker{
		records:     make(map[uint64]*record),
		adapter:     adapter,
		writer:      writer,
		logger:      logger,
		observer:    observer,
		autoRestart: autoRestart,
		onExpire:    onExpire,
		stopCh:      make(chan struct{}),
		scanDone:    make(chan struct{}),
	}
	go t.scanDeadlines()
	return t
}

// SetWriter binds the I/O Pump the Tracker enqueues packets to. The
// Subprocess Engine calls this once, right after constructing both, since
// the Pump itself depends on the Tracker as its Sink (§4.1 Start).
func (t *Tracker) SetWriter(w Writer) {
	t.mu.Lock()
	t.writer = w
	t.mu.Unlock()
}

// Submit allocates the next command ID, registers its record, builds the
// wire packet, and enqueues it for writing (§4.3 Submit). The record is
// inserted into the in-flight set before the packet is handed to the
// writer, per §3's ordering invariant.
func (t *Tracker) Submit(body string, timeout time.Duration, callback func(Result)) (*Future, error) {
	id := atomic.AddUint64(&t.nextID, 1)

	rec := &record{
		id:          id,
		beginMarker: []byte(wire.BeginMarker(id)),
		endMarker:   []byte(wire.EndMarker(id)),
		start:       time.Now(),
		state:       StateCreated,
		future:      newFuture(),
		callback:    callback,
	}
	if timeout > 0 {
		rec.hasDeadline = true
		rec.deadline = rec.start.Add(timeout)
	}

	t.mu.Lock()
	rec.state = StateQueued
	t.records[id] = rec
	t.fifo = append(t.fifo, id)
	depth := len(t.fifo)
	t.mu.Unlock()

	if t.observer != nil {
		t.observer.ObserveSubmit()
		t.observer.ObserveQueueDepth(uint32(depth))
	}

	packet := wire.BuildPacket(t.adapter, id, body)
	if err := t.writer.Enqueue(packet); err != nil {
		t.failSubmit(id, err)
		return rec.future, err
	}
	return rec.future, nil
}

// failSubmit aborts a record that never made it onto the writer queue.
func (t *Tracker) failSubmit(id uint64, _ error) {
	t.mu.Lock()
	rec, ok := t.records[id]
	if ok {
		delete(t.records, id)
		t.removeFromFIFOLocked(id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	rec.state = StateAborted
	rec.future.resolve(Result{ExitCode: -1, Success: false})
}

func (t *Tracker) removeFromFIFOLocked(id uint64) {
	for i, fid := range t.fifo {
		if fid == id {
			t.fifo = append(t.fifo[:i], t.fifo[i+1:]...)
			return
		}
	}
}

// OnStdout feeds a raw stdout chunk through the demultiplexer (§4.3).
// chunk must not be retained past the call; the Tracker copies what it
// needs into per-command buffers.
func (t *Tracker) OnStdout(chunk []byte) {
	for len(chunk) > 0 {
		t.mu.Lock()
		if len(t.fifo) == 0 {
			t.mu.Unlock()
			return
		}
		head := t.fifo[0]
		rec := t.records[head]
		t.mu.Unlock()

		if rec == nil {
			return
		}

		rec.buf.Lock()
		if !rec.begun {
			rec.preBuffer = append(rec.preBuffer, chunk...)
			idx := bytes.Index(rec.preBuffer, rec.beginMarker)
			if idx < 0 {
				if len(rec.preBuffer) > wire.PreBufferCap {
					rec.preBuffer = append([]byte(nil), rec.preBuffer[len(rec.preBuffer)-wire.PreBufferCap:]...)
				}
				rec.buf.Unlock()
				return
			}
			rest := rec.preBuffer[idx+len(rec.beginMarker):]
			if len(rest) == 0 || (len(rest) == 1 && rest[0] == '\r') {
				// Wait for the bytes after the marker, so a CR/LF that
				// arrives in the next chunk is still trimmed.
				rec.buf.Unlock()
				return
			}
			rest = trimLeadingCRLF(rest)
			rec.begun = true
			rec.state = StateStreaming
			rec.preBuffer = nil
			chunk = append([]byte(nil), rest...)
			rec.buf.Unlock()
			continue
		}

		rec.outBuffer = append(rec.outBuffer, chunk...)
		idx := bytes.Index(rec.outBuffer, rec.endMarker)
		if idx < 0 {
			rec.buf.Unlock()
			return
		}
		carry := append([]byte(nil), rec.outBuffer[idx+len(rec.endMarker):]...)
		carry = trimLeadingCRLF(carry)
		rec.outBuffer = rec.outBuffer[:idx]
		rec.buf.Unlock()

		t.complete(rec, StateSucceeded)
		chunk = carry
	}
}

// OnStderr delivers a raw stderr chunk, attributed best-effort to the
// current FIFO head (§4.3). The internal restart sentinel, if present, is
// stripped and triggers immediate timeout of the head command.
func (t *Tracker) OnStderr(chunk []byte) {
	sentinel := []byte(wire.InternalTimeoutSentinel)
	hasSentinel := bytes.Contains(chunk, sentinel)
	if hasSentinel {
		chunk = bytes.ReplaceAll(chunk, sentinel, nil)
	}

	t.mu.Lock()
	if len(t.fifo) == 0 {
		t.mu.Unlock()
		if t.observer != nil {
			t.observer.ObserveStderrDropped()
		}
		return
	}
	head := t.fifo[0]
	rec := t.records[head]
	t.mu.Unlock()

	if rec == nil {
		return
	}

	if len(chunk) > 0 {
		rec.buf.Lock()
		rec.errBuffer = append(rec.errBuffer, chunk...)
		rec.buf.Unlock()
	}

	if hasSentinel {
		t.failTimeout(rec)
	}
}

func (t *Tracker) failTimeout(rec *record) {
	rec.buf.Lock()
	if rec.done {
		rec.buf.Unlock()
		return
	}
	rec.done = true
	rec.timedOut = true
	rec.buf.Unlock()

	t.complete(rec, StateTimedOut)
	if t.observer != nil {
		t.observer.ObserveTimeout()
	}
}

// complete pops rec from the FIFO head and the in-flight map, resolves its
// promise exactly once, and invokes its callback with panics swallowed
// (§4.3 Completion, §9 "callback exceptions must be swallowed").
func (t *Tracker) complete(rec *record, state State) {
	t.mu.Lock()
	if len(t.fifo) > 0 && t.fifo[0] == rec.id {
		t.fifo = t.fifo[1:]
	} else {
		t.removeFromFIFOLocked(rec.id)
	}
	delete(t.records, rec.id)
	t.mu.Unlock()

	rec.buf.Lock()
	rec.done = true
	rec.state = state
	out := rec.outBuffer
	errb := rec.errBuffer
	timedOut := rec.timedOut
	rec.buf.Unlock()

	elapsed := time.Since(rec.start).Seconds()
	success := state == StateSucceeded && !timedOut
	result := Result{
		Stdout:           out,
		Stderr:           errb,
		ExecutionSeconds: elapsed,
	}
	if success {
		result.Success = true
		result.ExitCode = 0
	} else {
		result.Success = false
		result.ExitCode = -1
	}

	rec.future.resolve(result)

	if t.observer != nil {
		t.observer.ObserveComplete(uint64(elapsed*float64(time.Second)), result.Success)
	}

	if rec.callback != nil {
		t.invokeCallback(rec.callback, result)
	}
}

func (t *Tracker) invokeCallback(cb func(Result), r Result) {
	defer func() { _ = recover() }()
	cb(r)
}

// scanDeadlines is the dedicated deadline-scanner goroutine (§4.3), waking
// every wire.DeadlineScanInterval to expire overdue commands.
func (t *Tracker) scanDeadlines() {
	defer close(t.scanDone)
	ticker := time.NewTicker(wire.DeadlineScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.expireDeadlines(now)
		}
	}
}

func (t *Tracker) expireDeadlines(now time.Time) {
	t.mu.Lock()
	var expired []*record
	remaining := make([]uint64, 0, len(t.fifo))
	for _, id := range t.fifo {
		rec := t.records[id]
		if rec == nil {
			continue
		}
		expire := false
		if rec.hasDeadline && !now.Before(rec.deadline) {
			// rec.done/timedOut/state are shared with the stdout/stderr reader
			// goroutines (see complete/failTimeout), so mutate them under
			// rec.buf here too, not just t.mu (§5 "all parsing and completion
			// happens under this mutex").
			rec.buf.Lock()
			if !rec.done {
				rec.done = true
				rec.timedOut = true
				rec.state = StateTimedOut
				expire = true
			}
			rec.buf.Unlock()
		}
		if expire {
			expired = append(expired, rec)
			delete(t.records, id)
			continue
		}
		remaining = append(remaining, id)
	}
	t.fifo = remaining
	t.mu.Unlock()

	for _, rec := range expired {
		elapsed := time.Since(rec.start).Seconds()
		result := Result{ExitCode: -1, Success: false, ExecutionSeconds: elapsed}
		rec.future.resolve(result)

		if t.observer != nil {
			t.observer.ObserveTimeout()
			t.observer.ObserveComplete(uint64(elapsed*float64(time.Second)), false)
		}
		if rec.callback != nil {
			t.invokeCallback(rec.callback, result)
		}
	}

	if len(expired) > 0 && t.autoRestart && t.onExpire != nil {
		go t.onExpire()
	}
}

// AbortAll fails every in-flight command with an Aborted-shaped result
// (§4.1 stop, §5 "stop cancels everything").
func (t *Tracker) AbortAll() {
	t.mu.Lock()
	recs := make([]*record, 0, len(t.fifo))
	for _, id := range t.fifo {
		if rec := t.records[id]; rec != nil {
			recs = append(recs, rec)
		}
	}
	t.fifo = nil
	t.records = make(map[uint64]*record)
	t.mu.Unlock()

	for _, rec := range recs {
		elapsed := time.Since(rec.start).Seconds()
		rec.state = StateAborted
		result := Result{ExitCode: -1, Success: false, ExecutionSeconds: elapsed}
		rec.future.resolve(result)
		if rec.callback != nil {
			t.invokeCallback(rec.callback, result)
		}
	}
}

// QueueDepth returns the number of currently in-flight commands.
func (t *Tracker) QueueDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fifo)
}

// Close stops the deadline scanner and waits for it to exit.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.scanDone
}

func trimLeadingCRLF(b []byte) []byte {
	if len(b) > 0 && b[0] == '\r' {
		b = b[1:]
	}
	if len(b) > 0 && b[0] == '\n' {
		b = b[1:]
	}
	return b
}
