// Package logging provides the colored, leveled logger used across
// mcp-doctor. Verbosity and JSON-RPC message logging are opt-in so the
// default output stays readable during a diagnosis run.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
)

// Logger writes leveled, optionally colored messages to a single writer.
type Logger struct {
	verbose     bool
	useColor    bool
	jsonRPCMode bool
	writer      io.Writer
}

// NewLogger creates a logger that writes to stdout.
func NewLogger(verbose, useColor, jsonRPCMode bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, jsonRPCMode, os.Stdout)
}

// NewLoggerWithWriter creates a logger that writes to the given writer.
// Tests use this to capture output.
func NewLoggerWithWriter(verbose, useColor, jsonRPCMode bool, w io.Writer) *Logger {
	return &Logger{
		verbose:     verbose,
		useColor:    useColor,
		jsonRPCMode: jsonRPCMode,
		writer:      w,
	}
}

// SetVerbose toggles verbose output at runtime.
func (l *Logger) SetVerbose(verbose bool) {
	if l == nil {
		return
	}
	l.verbose = verbose
}

// SetWriter redirects subsequent output to w.
func (l *Logger) SetWriter(w io.Writer) {
	if l == nil {
		return
	}
	l.writer = w
}

// Verbose reports whether verbose output is enabled.
func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

func (l *Logger) log(color, prefix, format string, args ...interface{}) {
	if l == nil || l.writer == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.useColor && color != "" {
		fmt.Fprintf(l.writer, "%s%s %s%s\n", color, prefix, msg, colorReset)
	} else {
		fmt.Fprintf(l.writer, "%s %s\n", prefix, msg)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(colorBlue, "ℹ", format, args...)
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	l.log(colorGreen, "✓", format, args...)
}

// Warning logs a warning message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(colorYellow, "⚠", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(colorRed, "✗", format, args...)
}

// Debug logs a message only when verbose mode is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.log(colorGray, "·", format, args...)
}

// InfoVerbose logs an informational message only in verbose mode.
// Safe to call on a nil logger.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.Info(format, args...)
}

// WarningVerbose logs a warning only in verbose mode.
// Safe to call on a nil logger.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.Warning(format, args...)
}

// Request logs an outgoing JSON-RPC request when JSON-RPC logging is enabled.
func (l *Logger) Request(method string, params interface{}) {
	if l == nil || !l.jsonRPCMode {
		return
	}
	l.log(colorCyan, "→", "%s\n%s", method, PrettyJSON(params))
}

// Response logs an incoming JSON-RPC response when JSON-RPC logging is enabled.
func (l *Logger) Response(method string, result interface{}) {
	if l == nil || !l.jsonRPCMode {
		return
	}
	l.log(colorCyan, "←", "%s\n%s", method, PrettyJSON(result))
}

// PrettyJSON pretty-prints a value as indented JSON for logging.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
