// Package interfaces provides internal interface definitions for vshell.
// These are separate from the public interfaces to avoid circular imports
// between the root package and the internal packages that need them.
package interfaces

// Adapter isolates interpreter-specific syntax from the multiplexer core.
// The only interpreter-specific knowledge the host needs is "how to print a
// literal to stdout" and the newline convention (§9 DESIGN NOTES).
type Adapter interface {
	// PrintLiteral returns the command text that makes the interpreter print
	// s verbatim to stdout. The Tracker uses this to emit begin/end markers.
	PrintLiteral(s string) string

	// Newline is the line terminator the interpreter expects a command to be
	// terminated with when the caller's command body doesn't already end
	// in one (§4.2).
	Newline() string

	// ExitCommand returns the command text used to request cooperative
	// shutdown of the interpreter (§4.1 stop: "attempts to send exit\n").
	ExitCommand() string

	// RestoreCommand builds the command text that runs scriptPath against
	// snapshotPath as a session-restore hook (§4.1, §6 Environment). Returns
	// "" if this adapter has no restore support.
	RestoreCommand(scriptPath, snapshotPath string) string
}

// Logger is the minimal logging contract internal packages depend on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer is the metrics-collection contract internal packages depend on.
// It is structurally identical to the root package's Observer interface;
// keeping a duplicate here (rather than importing the root package) avoids
// an import cycle, and any concrete type satisfying one satisfies both.
type Observer interface {
	ObserveSubmit()
	ObserveComplete(latencyNs uint64, success bool)
	ObserveTimeout()
	ObserveRestart()
	ObserveBulkWrite(bytes uint64)
	ObserveBulkRead(bytes uint64)
	ObserveStderrDropped()
	ObserveQueueDepth(depth uint32)
}
