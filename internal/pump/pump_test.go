package pump

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	stdout [][]byte
	stderr [][]byte
}

func (s *fakeSink) OnStdout(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdout = append(s.stdout, append([]byte(nil), chunk...))
}

func (s *fakeSink) OnStderr(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stderr = append(s.stderr, append([]byte(nil), chunk...))
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestPumpDeliversStdoutAndStderr(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	defer stdinR.Close()

	sink := &fakeSink{}
	p := New(nopWriteCloser{stdinW}, stdoutR, stderrR, sink, nil, nil)
	p.Start()

	go func() {
		buf := make([]byte, 64)
		n, _ := stdinR.Read(buf)
		_, _ = stdoutW.Write(buf[:n])
	}()

	require.NoError(t, p.Enqueue([]byte("hello")))

	_, _ = stderrW.Write([]byte("warn"))

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.stdout) > 0 && len(sink.stderr) > 0
	}, time.Second, 5*time.Millisecond)

	_ = stdoutW.Close()
	_ = stderrW.Close()
	p.Stop()
}

func TestEnqueueFailsAfterStop(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	defer stdinR.Close()
	defer stdoutW.Close()
	defer stderrW.Close()

	sink := &fakeSink{}
	p := New(nopWriteCloser{stdinW}, stdoutR, stderrR, sink, nil, nil)
	p.Start()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	p.Stop()

	err := p.Enqueue([]byte("late"))
	require.ErrorIs(t, err, ErrClosed)
}
