// Package vshell provides a Host that embeds a foreign command interpreter
// as a long-lived child process, multiplexing many logical commands over
// its stdin/stdout/stderr with per-command timeouts, plus a zero-copy
// shared-memory bulk-transfer side channel for payloads the text pipes
// aren't suited for.
package vshell

import (
	"context"
	"time"

	"github.com/vshell-go/vshell/internal/bulk"
	"github.com/vshell-go/vshell/internal/constants"
	"github.com/vshell-go/vshell/internal/interfaces"
	"github.com/vshell-go/vshell/internal/proc"
	"github.com/vshell-go/vshell/internal/tracker"
)

// Adapter isolates interpreter-specific syntax from the multiplexer core
// (§9 DESIGN NOTES). Concrete adapters (e.g. package adapter/shell) tell the
// Host how to print a literal, how lines are terminated, how to ask the
// interpreter to exit, and how to build a session-restore command.
type Adapter = interfaces.Adapter

// Logger is the minimal logging contract a Host depends on; *logging.Logger
// satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Result is the outcome of a submitted command (§6 Host API).
type Result = tracker.Result

// Future is a command's resolvable promise, returned by Submit/ExecuteAsync.
type Future = tracker.Future

// HostParams configures a Host, mirroring the teacher's
// DeviceParams/DefaultParams trio (§6 Environment).
type HostParams struct {
	// Adapter tells the Host how to talk to the interpreter. Required.
	Adapter Adapter

	// Interpreter is the path to the executable to spawn (e.g. "/bin/sh").
	Interpreter string
	// Args are extra arguments passed to Interpreter.
	Args []string
	// Env is merged into the child's inherited environment.
	Env map[string]string
	// WorkDir is the child's working directory; empty means inherit.
	WorkDir string

	// StartupCommands run once, in order, immediately after spawn.
	StartupCommands []string
	// RestoreScript and SnapshotPath, if both set, run a session-restore
	// hook immediately after StartupCommands.
	RestoreScript string
	SnapshotPath  string

	// AutoRestart enables the auto-restart-on-timeout behavior of §4.1/§4.3.
	AutoRestart bool
	// StopGrace bounds how long Stop waits for cooperative exit before a
	// forced kill; zero selects DefaultStopGrace.
	StopGrace time.Duration
	// CommandTimeout is the default per-command timeout used by Submit/
	// Execute when the caller passes zero; zero means no deadline.
	CommandTimeout time.Duration
	// ProcessGroup puts the child in its own process group so a forced Stop
	// can signal the whole group, not just the direct child.
	ProcessGroup bool

	// BulkName, if non-empty, is the shared-memory bulk channel's name;
	// OpenBulk uses it (or an explicit name override) to create/attach the
	// channel on demand.
	BulkName string
	// BulkFrameBytes is the per-direction frame capacity used by OpenBulk
	// when the caller doesn't pass one explicitly; zero selects
	// DefaultFrameBytes.
	BulkFrameBytes uint64
}

// DefaultParams returns default host parameters for the given interpreter
// and adapter.
func DefaultParams(interpreter string, adapter Adapter) HostParams {
	return HostParams{
		Adapter:        adapter,
		Interpreter:    interpreter,
		StopGrace:      constants.DefaultStopGrace,
		BulkFrameBytes: constants.DefaultFrameBytes,
	}
}

// Options contains additional options for Host construction.
type Options struct {
	// Context for cancellation (if nil, uses context.Background()).
	Context context.Context

	// Logger for debug/info/warn/error messages (if nil, no logging).
	Logger Logger

	// Observer for metrics collection (if nil, uses a MetricsObserver over
	// a fresh Metrics instance reachable via Host.Metrics()).
	Observer Observer
}

// Host is the multiplexer's public façade: it owns the interpreter child's
// lifecycle (via internal/proc.Engine) and, lazily, the bulk channel (via
// internal/bulk.Channel). Like the teacher's Device, it is an explicit,
// documented-lifecycle object rather than an ambient singleton (§9).
type Host struct {
	params HostParams

	engine   *proc.Engine
	logger   Logger
	metrics  *Metrics
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc

	bulkName       string
	bulkFrameBytes uint64
	bulkChan       *bulk.Channel
}

// NewHost constructs a Host, spawns the interpreter, and runs its startup
// commands and restore hook — the combined "create and start serving"
// contract the teacher exposes as CreateAndServe.
func NewHost(ctx context.Context, params HostParams, options *Options) (*Host, error) {
	if params.Adapter == nil {
		return nil, NewError("new_host", ErrCodeInvalidArg, "HostParams.Adapter is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	cfg := proc.Config{
		Interpreter:     params.Interpreter,
		Args:            params.Args,
		Env:             params.Env,
		WorkDir:         params.WorkDir,
		StartupCommands: params.StartupCommands,
		RestoreScript:   params.RestoreScript,
		SnapshotPath:    params.SnapshotPath,
		AutoRestart:     params.AutoRestart,
		StopGrace:       params.StopGrace,
		CommandTimeout:  params.CommandTimeout,
		ProcessGroup:    params.ProcessGroup,
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = constants.DefaultStopGrace
	}

	engine := proc.New(cfg, params.Adapter, options.Logger, observer)
	if err := engine.Start(); err != nil {
		return nil, WrapError("new_host", err)
	}

	frameBytes := params.BulkFrameBytes
	if frameBytes == 0 {
		frameBytes = constants.DefaultFrameBytes
	}

	hostCtx, cancel := context.WithCancel(ctx)
	h := &Host{
		params:         params,
		engine:         engine,
		logger:         options.Logger,
		metrics:        metrics,
		observer:       observer,
		ctx:            hostCtx,
		cancel:         cancel,
		bulkName:       params.BulkName,
		bulkFrameBytes: frameBytes,
	}

	go func() {
		<-hostCtx.Done()
		h.Stop(true)
	}()

	return h, nil
}

// Submit enqueues command_text for execution and returns a Future resolved
// with its Result once complete (§6 Host API). If callback is non-nil, it
// is invoked exactly once with the same Result when the command resolves.
func (h *Host) Submit(commandText string, timeout time.Duration, callback func(Result)) (*Future, error) {
	if timeout <= 0 {
		timeout = h.params.CommandTimeout
	}
	f, err := h.engine.Submit(commandText, timeout, callback)
	if err != nil {
		return nil, mapEngineErr("submit", err)
	}
	return f, nil
}

// Execute submits command_text and blocks until it resolves or ctx is
// cancelled (§6 Host API).
func (h *Host) Execute(ctx context.Context, commandText string, timeout time.Duration) (Result, error) {
	f, err := h.Submit(commandText, timeout, nil)
	if err != nil {
		return Result{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return f.Wait(ctx)
}

// ExecuteAsync submits command_text and returns its Future without
// blocking; callback, if non-nil, still fires on resolution (§6 Host API).
// It is a synonym for Submit kept for symmetry with the language-neutral
// External Interfaces list.
func (h *Host) ExecuteAsync(commandText string, timeout time.Duration, callback func(Result)) (*Future, error) {
	return h.Submit(commandText, timeout, callback)
}

// Stop requests cooperative shutdown of the interpreter, aborting any
// in-flight commands, and force-kills after the grace period if force is
// true. Idempotent: a second call is a no-op (§8 property 6).
func (h *Host) Stop(force bool) {
	h.engine.Stop(force)
	h.metrics.Stop()
	if h.bulkChan != nil {
		h.bulkChan.Close()
		h.bulkChan = nil
	}
}

// IsAlive reports whether the interpreter child is believed to be running.
func (h *Host) IsAlive() bool {
	return h.engine.IsAlive()
}

// Wait blocks until IsAlive() becomes false or ctx is cancelled. It is an
// additive convenience (not part of spec.md's External Interfaces list; see
// DESIGN.md) over the non-blocking IsAlive poll.
func (h *Host) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(constants.DeadlinePollInterval)
	defer ticker.Stop()
	for {
		if !h.IsAlive() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Metrics returns the Host's live metrics instance.
func (h *Host) Metrics() *Metrics {
	return h.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the Host's metrics.
func (h *Host) MetricsSnapshot() MetricsSnapshot {
	return h.metrics.Snapshot()
}

// OpenBulk creates or attaches to the Host's shared-memory bulk channel
// (§4.4 Open), sized to frameBytes per direction. Passing frameBytes == 0
// uses HostParams.BulkFrameBytes (or DefaultFrameBytes). Safe to call more
// than once; later calls return the already-open channel as long as
// frameBytes matches.
func (h *Host) OpenBulk(frameBytes uint64) (*bulk.Channel, error) {
	if frameBytes == 0 {
		frameBytes = h.bulkFrameBytes
	}
	if h.bulkChan != nil {
		if h.bulkChan.FrameBytes() != frameBytes {
			return nil, NewError("open_bulk", ErrCodeInvalidArg, "bulk channel already open with a different frame size")
		}
		return h.bulkChan, nil
	}
	if h.bulkName == "" {
		return nil, NewError("open_bulk", ErrCodeInvalidArg, "HostParams.BulkName is empty")
	}
	c, err := bulk.Open(h.bulkName, frameBytes)
	if err != nil {
		return nil, WrapError("open_bulk", err)
	}
	h.bulkChan = c
	return c, nil
}

// BulkWrite writes payload to the bulk channel's dir direction (§4.4
// Write). OpenBulk must have been called first.
func (h *Host) BulkWrite(dir bulk.Direction, payload []byte, timeout time.Duration) (uint64, error) {
	if h.bulkChan == nil {
		return 0, NewError("bulk_write", ErrCodeBadState, "bulk channel not open")
	}
	seq, err := h.bulkChan.Write(dir, payload, timeout)
	if err != nil {
		return 0, WrapError("bulk_write", err)
	}
	if h.observer != nil {
		h.observer.ObserveBulkWrite(uint64(len(payload)))
	}
	return seq, nil
}

// BulkRead reads the next payload from the bulk channel's dir direction
// into out (§4.4 Read). OpenBulk must have been called first.
func (h *Host) BulkRead(dir bulk.Direction, out []byte, timeout time.Duration) (n int, requiredLen int, err error) {
	if h.bulkChan == nil {
		return 0, 0, NewError("bulk_read", ErrCodeBadState, "bulk channel not open")
	}
	n, requiredLen, err = h.bulkChan.Read(dir, out, timeout)
	if err != nil {
		return n, requiredLen, WrapError("bulk_read", err)
	}
	if h.observer != nil {
		h.observer.ObserveBulkRead(uint64(n))
	}
	return n, requiredLen, nil
}

// BulkWriteChunked sends a payload larger than a single frame via the
// chunked-transfer protocol (§4.4 Chunked transfer).
func (h *Host) BulkWriteChunked(dir bulk.Direction, payload []byte, chunkSize uint64, timeout time.Duration) error {
	if h.bulkChan == nil {
		return NewError("bulk_write_chunked", ErrCodeBadState, "bulk channel not open")
	}
	if chunkSize == 0 {
		chunkSize = constants.DefaultChunkSize
	}
	if err := h.bulkChan.WriteChunked(dir, payload, chunkSize, timeout); err != nil {
		return WrapError("bulk_write_chunked", err)
	}
	if h.observer != nil {
		h.observer.ObserveBulkWrite(uint64(len(payload)))
	}
	return nil
}

// BulkReadChunked reassembles a payload sent via BulkWriteChunked.
func (h *Host) BulkReadChunked(dir bulk.Direction, timeout time.Duration) ([]byte, error) {
	if h.bulkChan == nil {
		return nil, NewError("bulk_read_chunked", ErrCodeBadState, "bulk channel not open")
	}
	payload, err := h.bulkChan.ReadChunked(dir, timeout)
	if err != nil {
		return nil, WrapError("bulk_read_chunked", err)
	}
	if h.observer != nil {
		h.observer.ObserveBulkRead(uint64(len(payload)))
	}
	return payload, nil
}

// mapEngineErr translates internal/proc sentinel errors into the root
// package's structured *Error (§7).
func mapEngineErr(op string, err error) error {
	switch err {
	case proc.ErrNotRunning:
		return NewError(op, ErrCodeNotRunning, "interpreter is not running")
	case proc.ErrRestarting:
		return NewError(op, ErrCodeRestarting, "interpreter is restarting")
	default:
		return WrapError(op, err)
	}
}
