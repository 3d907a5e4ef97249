package proc_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vshell-go/vshell/adapter/shell"
	"github.com/vshell-go/vshell/internal/proc"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func newEngine(t *testing.T, configure func(*proc.Config)) *proc.Engine {
	t.Helper()
	requireSh(t)

	cfg := proc.DefaultConfig("/bin/sh")
	if configure != nil {
		configure(&cfg)
	}
	e := proc.New(cfg, shell.New(), nil, nil)
	require.NoError(t, e.Start())
	t.Cleanup(func() { e.Stop(true) })
	return e
}

func TestEngineStartIsAlive(t *testing.T) {
	e := newEngine(t, nil)
	require.True(t, e.IsAlive())
}

func TestEngineStartIsIdempotent(t *testing.T) {
	e := newEngine(t, nil)
	require.NoError(t, e.Start())
	require.True(t, e.IsAlive())
}

func TestEngineSubmitReturnsExactOutput(t *testing.T) {
	e := newEngine(t, nil)

	f, err := e.Submit(`printf 'hello\n'`, time.Second, nil)
	require.NoError(t, err)

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "hello\n", string(result.Stdout))
	require.Equal(t, 0, result.ExitCode)
}

func TestEngineSubmitAfterStopFails(t *testing.T) {
	e := newEngine(t, nil)
	e.Stop(true)

	_, err := e.Submit(`printf 'x\n'`, time.Second, nil)
	require.ErrorIs(t, err, proc.ErrNotRunning)
	require.False(t, e.IsAlive())
}

func TestEngineStopIsIdempotent(t *testing.T) {
	e := newEngine(t, nil)
	e.Stop(true)
	e.Stop(true) // must not panic or block
	require.False(t, e.IsAlive())
}

func TestEngineStopAbortsInFlightCommand(t *testing.T) {
	e := newEngine(t, func(cfg *proc.Config) {
		cfg.StopGrace = 500 * time.Millisecond
	})

	f, err := e.Submit("sleep 10", 0, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		e.Stop(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return within grace period")
	}

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestEngineRunsStartupCommands(t *testing.T) {
	e := newEngine(t, func(cfg *proc.Config) {
		cfg.StartupCommands = []string{`printf 'startup\n' > /dev/null`}
	})
	require.True(t, e.IsAlive())

	f, err := e.Submit(`printf 'after\n'`, time.Second, nil)
	require.NoError(t, err)
	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "after\n", string(result.Stdout))
}

func TestEngineAutoRestartAfterTimeout(t *testing.T) {
	e := newEngine(t, func(cfg *proc.Config) {
		cfg.AutoRestart = true
	})

	f, err := e.Submit("sleep 5", 200*time.Millisecond, nil)
	require.NoError(t, err)
	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.False(t, result.Success)

	require.Eventually(t, func() bool {
		f2, err := e.Submit(`printf 'ok\n'`, time.Second, nil)
		if err != nil {
			return false
		}
		r2, err := f2.Wait(context.Background())
		return err == nil && r2.Success && string(r2.Stdout) == "ok\n"
	}, 5*time.Second, 50*time.Millisecond)

	require.True(t, e.IsAlive())
}

func TestEngineProcessGroupConfig(t *testing.T) {
	e := newEngine(t, func(cfg *proc.Config) {
		cfg.ProcessGroup = true
	})
	require.True(t, e.IsAlive())

	f, err := e.Submit(`printf 'grouped\n'`, time.Second, nil)
	require.NoError(t, err)
	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "grouped\n", string(result.Stdout))
}
