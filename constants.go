package vshell

import "github.com/vshell-go/vshell/internal/constants"

// Re-export constants for public API
const (
	DefaultFrameBytes     = constants.DefaultFrameBytes
	DefaultChunkSize      = constants.DefaultChunkSize
	DefaultBulkTimeout    = constants.DefaultBulkTimeout
	DefaultStopGrace      = constants.DefaultStopGrace
	DefaultStartupTimeout = constants.DefaultStartupTimeout
)
