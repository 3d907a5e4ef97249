// Package shell provides a vshell.Adapter for POSIX shells (/bin/sh and
// compatible), the simplest interpreter the Command Tracker's marker scheme
// can drive: printf for literal output, a trailing exit for shutdown.
package shell

import (
	"fmt"
	"strings"
)

// Adapter drives a POSIX shell interpreter (§9 DESIGN NOTES: "the only
// interpreter-specific knowledge the host needs").
type Adapter struct{}

// New returns a shell Adapter.
func New() *Adapter {
	return &Adapter{}
}

// PrintLiteral returns a printf invocation that writes s verbatim, followed
// by a newline, to stdout. s is single-quoted with embedded single quotes
// escaped the standard POSIX way ('\'').
func (Adapter) PrintLiteral(s string) string {
	return "printf '%s\\n' '" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Newline is "\n": shells terminate commands with a line feed.
func (Adapter) Newline() string {
	return "\n"
}

// ExitCommand requests the shell exit cooperatively.
func (Adapter) ExitCommand() string {
	return "exit"
}

// RestoreCommand runs scriptPath with snapshotPath as its sole argument,
// both single-quoted. Returns "" if scriptPath is empty (no restore
// support configured).
func (a Adapter) RestoreCommand(scriptPath, snapshotPath string) string {
	if scriptPath == "" {
		return ""
	}
	return fmt.Sprintf("'%s' '%s'",
		strings.ReplaceAll(scriptPath, "'", `'\''`),
		strings.ReplaceAll(snapshotPath, "'", `'\''`))
}
