package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/vshell-go/vshell/internal/constants"
	"github.com/vshell-go/vshell/internal/interfaces"
	"github.com/vshell-go/vshell/internal/pump"
	"github.com/vshell-go/vshell/internal/tracker"
	"github.com/vshell-go/vshell/internal/wire"
)

// Sentinel errors surfaced synchronously by Submit, before a command ever
// reaches the Tracker (§7: Restarting, NotRunning).
var (
	ErrNotRunning = errors.New("proc: interpreter is not running")
	ErrRestarting = errors.New("proc: interpreter is restarting")
)

// Engine owns the interpreter child's lifecycle: start, stop(force),
// is_alive (§4.1), plus Submit which threads through to the Command
// Tracker.
type Engine struct {
	cfg      Config
	adapter  interfaces.Adapter
	logger   interfaces.Logger
	observer interfaces.Observer

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	pump    *pump.Pump
	tracker *tracker.Tracker

	alive      bool
	restarting bool
	stopped    bool
}

// New constructs an Engine. Call Start to spawn the interpreter.
func New(cfg Config, adapter interfaces.Adapter, logger interfaces.Logger, observer interfaces.Observer) *Engine {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = wire.StopGracePeriod
	}
	return &Engine{cfg: cfg, adapter: adapter, logger: logger, observer: observer}
}

// Start spawns the interpreter, wires the I/O Pump and Command Tracker, and
// runs the optional startup commands and restore hook (§4.1).
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.alive {
		return nil
	}

	cmd := exec.Command(e.cfg.Interpreter, e.cfg.Args...)
	if e.cfg.WorkDir != "" {
		cmd.Dir = e.cfg.WorkDir
	}
	if len(e.cfg.Env) > 0 {
		cmd.Env = mergeEnv(e.cfg.Env)
	}
	if e.cfg.ProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("proc: create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("proc: create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("proc: create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("proc: spawn %s: %w", e.cfg.Interpreter, err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout
	e.stderr = stderr

	tr := tracker.New(e.adapter, nil, e.logger, e.observer, e.cfg.AutoRestart, e.triggerRestart)
	p := pump.New(stdin, stdout, stderr, tr, e.logger, e.observer)
	tr.SetWriter(p)
	p.Start()

	e.tracker = tr
	e.pump = p
	e.alive = true
	e.stopped = false

	if err := e.runStartupLocked(); err != nil {
		if e.logger != nil {
			e.logger.Warnf("proc: startup commands failed: %v", err)
		}
	}
	if err := e.runRestoreLocked(); err != nil {
		if e.logger != nil {
			e.logger.Warnf("proc: restore hook failed: %v", err)
		}
	}

	return nil
}

func (e *Engine) runStartupLocked() error {
	for _, body := range e.cfg.StartupCommands {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultStartupTimeout)
		f, err := e.tracker.Submit(body, constants.DefaultStartupTimeout, nil)
		if err != nil {
			cancel()
			return err
		}
		_, err = f.Wait(ctx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runRestoreLocked() error {
	if e.cfg.RestoreScript == "" || e.cfg.SnapshotPath == "" {
		return nil
	}
	body := e.adapter.RestoreCommand(e.cfg.RestoreScript, e.cfg.SnapshotPath)
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultStartupTimeout)
	defer cancel()
	f, err := e.tracker.Submit(body, constants.DefaultStartupTimeout, nil)
	if err != nil {
		return err
	}
	_, err = f.Wait(ctx)
	return err
}

// Submit threads a command through to the Command Tracker, subject to the
// lifecycle gate (§4.1, §7 Restarting/NotRunning).
func (e *Engine) Submit(body string, timeout time.Duration, callback func(tracker.Result)) (*tracker.Future, error) {
	if timeout <= 0 {
		timeout = e.cfg.CommandTimeout
	}
	e.mu.Lock()
	if e.restarting {
		e.mu.Unlock()
		return nil, ErrRestarting
	}
	if !e.alive {
		e.mu.Unlock()
		return nil, ErrNotRunning
	}
	tr := e.tracker
	e.mu.Unlock()

	return tr.Submit(body, timeout, callback)
}

// IsAlive reports whether the child process is believed to be running.
func (e *Engine) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

// Stop is idempotent (§8 property 6): it requests cooperative shutdown,
// closes pipes to unblock readers, fails in-flight commands, waits up to
// the configured grace period, and force-kills if requested.
func (e *Engine) Stop(force bool) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.alive = false
	cmd, stdin, stdout, stderr, tr, p := e.cmd, e.stdin, e.stdout, e.stderr, e.tracker, e.pump
	e.mu.Unlock()

	if stdin != nil {
		exitPkt := []byte(e.adapter.ExitCommand() + e.adapter.Newline())
		_, _ = stdin.Write(exitPkt)
	}

	// Close the parent-side pipe ends to unblock the reader threads' blocking
	// reads and the writer thread's blocking write (§4.1 stop). This must
	// happen before waiting on the pump, not after: the readers only return
	// from Read on EOF/error, which otherwise requires the child to have
	// already exited.
	if stdin != nil {
		_ = stdin.Close()
	}
	if stdout != nil {
		_ = stdout.Close()
	}
	if stderr != nil {
		_ = stderr.Close()
	}

	if p != nil {
		p.Stop()
	}

	if tr != nil {
		tr.AbortAll()
		tr.Close()
	}

	if cmd != nil && cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(e.cfg.StopGrace):
			if force {
				e.killLocked(cmd)
				<-done
			}
		}
	}
}

// killLocked force-terminates the child. When ProcessGroup is set, it
// signals the whole process group so forked helpers die too, not just the
// direct child.
func (e *Engine) killLocked(cmd *exec.Cmd) {
	if e.cfg.ProcessGroup {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

// triggerRestart is invoked by the Tracker's deadline scanner on the first
// timeout expiry of a batch when auto-restart is configured (§4.1, §4.3).
func (e *Engine) triggerRestart() {
	e.mu.Lock()
	if e.restarting || !e.cfg.AutoRestart {
		e.mu.Unlock()
		return
	}
	e.restarting = true
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Warnf("proc: restarting interpreter after command timeout")
	}

	e.Stop(true)
	e.mu.Lock()
	e.stopped = false
	e.mu.Unlock()

	if err := e.Start(); err != nil && e.logger != nil {
		e.logger.Errorf("proc: restart failed: %v", err)
	}
	if e.observer != nil {
		e.observer.ObserveRestart()
	}

	e.mu.Lock()
	e.restarting = false
	e.mu.Unlock()
}

func mergeEnv(overrides map[string]string) []string {
	base := append([]string(nil), os.Environ()...)
	for k, v := range overrides {
		base = append(base, k+"="+v)
	}
	return base
}
