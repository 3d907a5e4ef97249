// Package vshell provides a host that multiplexes commands over a
// long-lived interpreter subprocess.
package vshell

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/vshell-go/vshell/internal/bulk"
)

// Error represents a structured vshell error with context and errno mapping.
type Error struct {
	Op      string    // Operation that failed (e.g., "submit", "start", "bulk.read")
	Command uint64    // Command identifier (0 if not applicable)
	Code    ErrorCode // High-level error category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Command != 0 {
		parts = append(parts, fmt.Sprintf("cmd=%d", e.Command))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("vshell: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("vshell: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support, including against the legacy Status sentinels below.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(Status); ok {
		return statusCode(se) == e.Code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents one of the §7 error kinds.
type ErrorCode string

// Error kinds from spec §7.
const (
	ErrCodeTimedOut       ErrorCode = "timed out"
	ErrCodeAborted        ErrorCode = "aborted"
	ErrCodeRestarting     ErrorCode = "restarting"
	ErrCodeNotRunning     ErrorCode = "not running"
	ErrCodeBadState       ErrorCode = "bad state"
	ErrCodeBufferTooSmall ErrorCode = "buffer too small"
	ErrCodeInvalidArg     ErrorCode = "invalid argument"
	ErrCodeSystemError    ErrorCode = "system error"
)

// Status is a lightweight sentinel error usable with errors.Is, carrying the
// §6 status-code vocabulary used by the bulk-channel primitives.
type Status string

func (s Status) Error() string { return string(s) }

// Sentinel statuses matching §6's status codes.
const (
	StatusTimeout        Status = "timeout"
	StatusWouldBlock     Status = "would_block"
	StatusBufferTooSmall Status = "buffer_too_small"
	StatusInvalidArg     Status = "invalid_arg"
	StatusSystemError    Status = "system_error"
	StatusBadState       Status = "bad_state"
)

func statusCode(s Status) ErrorCode {
	switch s {
	case StatusTimeout:
		return ErrCodeTimedOut
	case StatusWouldBlock:
		return ErrCodeTimedOut
	case StatusBufferTooSmall:
		return ErrCodeBufferTooSmall
	case StatusInvalidArg:
		return ErrCodeInvalidArg
	case StatusBadState:
		return ErrCodeBadState
	default:
		return ErrCodeSystemError
	}
}

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying a syscall errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewCommandError creates a new error scoped to a specific command identifier.
func NewCommandError(op string, cmd uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Command: cmd, Code: code, Msg: msg}
}

// WrapError wraps an existing error with vshell context, mapping syscall
// errnos to error codes.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ve, ok := inner.(*Error); ok {
		return &Error{
			Op:      op,
			Command: ve.Command,
			Code:    ve.Code,
			Errno:   ve.Errno,
			Msg:     ve.Msg,
			Inner:   ve.Inner,
		}
	}

	if se, ok := inner.(*bulk.StatusError); ok {
		return &Error{Op: op, Code: mapBulkStatusToCode(se.Status), Msg: se.Message, Inner: inner}
	}

	if errors.Is(inner, bulk.ErrIncompatible) {
		return &Error{Op: op, Code: ErrCodeInvalidArg, Msg: inner.Error(), Inner: inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Code: ErrCodeSystemError, Msg: inner.Error(), Inner: inner}
}

// mapBulkStatusToCode maps a bulk-channel §6 status code to its §7 error
// kind, preserving the distinction WrapError would otherwise collapse into
// a generic SystemError.
func mapBulkStatusToCode(s bulk.Status) ErrorCode {
	switch s {
	case bulk.StatusTimeout, bulk.StatusWouldBlock:
		return ErrCodeTimedOut
	case bulk.StatusBufferTooSmall:
		return ErrCodeBufferTooSmall
	case bulk.StatusInvalidArg:
		return ErrCodeInvalidArg
	case bulk.StatusBadState:
		return ErrCodeBadState
	default:
		return ErrCodeSystemError
	}
}

// mapErrnoToCode maps syscall errno to vshell error codes.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ESRCH:
		return ErrCodeNotRunning
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidArg
	case syscall.ETIMEDOUT:
		return ErrCodeTimedOut
	case syscall.EPIPE, syscall.ECONNRESET:
		return ErrCodeAborted
	default:
		return ErrCodeSystemError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Errno == errno
	}
	return false
}
