package proc

import (
	"time"

	"github.com/vshell-go/vshell/internal/constants"
)

// Config describes how to spawn and supervise the interpreter child process
// (§4.1, §6 Environment).
type Config struct {
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
	// forced kill; zero selects the default of 5 seconds.
	StopGrace time.Duration
	// CommandTimeout is the default per-command timeout used by Submit when
	// the caller does not specify one; zero means no deadline.
	CommandTimeout time.Duration

	// ProcessGroup puts the child in its own process group (Setpgid) so a
	// forced Stop can signal the whole group rather than just the direct
	// child. Needed for interpreters that fork helpers of their own.
	ProcessGroup bool
}

// DefaultConfig returns a Config with the package's documented defaults.
func DefaultConfig(interpreter string) Config {
	return Config{
		Interpreter: interpreter,
		StopGrace:   constants.DefaultStopGrace,
	}
}
