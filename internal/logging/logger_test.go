package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
			if logger.format != tt.want {
				t.Errorf("NewLogger() format = %q, want %q", logger.format, tt.want)
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	cmdLogger := logger.WithCommand(42)
	cmdLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "cmd=42") {
		t.Errorf("Expected cmd=42 in output, got: %s", output)
	}

	buf.Reset()
	opLogger := cmdLogger.WithOp("submit")
	opLogger.Info("op message")

	output = buf.String()
	if !strings.Contains(output, "cmd=42") {
		t.Errorf("Expected cmd=42 in op logger output, got: %s", output)
	}
	if !strings.Contains(output, "op=submit") {
		t.Errorf("Expected op=submit in output, got: %s", output)
	}
}

func TestLoggerWithCommandOp(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	requestLogger := logger.WithCommandOp(123, "begin")
	requestLogger.Debug("processing command")

	output := buf.String()
	if !strings.Contains(output, "cmd=123") {
		t.Errorf("Expected cmd=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=begin") {
		t.Errorf("Expected op=begin in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}
