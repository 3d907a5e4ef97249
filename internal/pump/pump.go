package pump

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vshell-go/vshell/internal/interfaces"
	"github.com/vshell-go/vshell/internal/wire"
)

// ErrClosed is returned by Enqueue once the Pump has been stopped.
var ErrClosed = errors.New("pump: closed")

// Sink receives demultiplexed stdout/stderr chunks. *tracker.Tracker
// satisfies this interface.
type Sink interface {
	OnStdout(chunk []byte)
	OnStderr(chunk []byte)
}

// Pump owns the three goroutines that move bytes between the host and the
// child process's pipes (§4.2): one writer draining a FIFO packet queue into
// stdin, and two readers copying stdout/stderr chunks into a Sink.
type Pump struct {
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	sink     Sink
	logger   interfaces.Logger
	observer interfaces.Observer

	queue chan []byte

	closed   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	group *errgroup.Group
}

// New constructs a Pump bound to a child process's pipes. Call Start to
// launch its goroutines.
func New(stdin io.WriteCloser, stdout, stderr io.Reader, sink Sink, logger interfaces.Logger, observer interfaces.Observer) *Pump {
	return &Pump{
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		sink:     sink,
		logger:   logger,
		observer: observer,
		queue:    make(chan []byte, 4096),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the writer and reader goroutines. A stdin write failure is
// logged, ends the writer and marks the Pump closed, so subsequent Enqueue
// calls return ErrClosed; reader errors other than EOF are logged at debug
// level.
func (p *Pump) Start() {
	g := &errgroup.Group{}
	p.group = g

	g.Go(func() error {
		p.writeLoop()
		return nil
	})
	g.Go(func() error {
		p.readLoop(p.stdout, p.sink.OnStdout)
		return nil
	})
	g.Go(func() error {
		p.readLoop(p.stderr, p.sink.OnStderr)
		return nil
	})
}

// Enqueue appends a wire packet to the writer's FIFO queue (§4.2, §3's
// submit-before-write ordering invariant is the caller's responsibility).
func (p *Pump) Enqueue(packet []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.queue <- packet:
		return nil
	case <-p.stopCh:
		return ErrClosed
	}
}

func (p *Pump) writeLoop() {
	for {
		select {
		case pkt := <-p.queue:
			if _, err := p.stdin.Write(pkt); err != nil {
				if p.logger != nil {
					p.logger.Errorf("pump: stdin write failed: %v", err)
				}
				p.closed.Store(true)
				return
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pump) readLoop(r io.Reader, deliver func([]byte)) {
	buf := getBuffer(wire.ReaderBufferSize)
	defer putBuffer(buf)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			deliver(chunk)
		}
		if err != nil {
			if err != io.EOF && p.logger != nil {
				p.logger.Debugf("pump: reader stopped: %v", err)
			}
			return
		}
		select {
		case <-p.stopCh:
			return
		default:
		}
	}
}

// Stop signals all goroutines to exit and waits for them to finish. It does
// not close the underlying pipes; the caller (Subprocess Engine) owns that.
func (p *Pump) Stop() {
	p.closed.Store(true)
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.group != nil {
		_ = p.group.Wait()
	}
}
