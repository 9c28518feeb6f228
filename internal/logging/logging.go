// Package logging provides structured logging for echoip.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a logger writing to stderr. Level and format are
// validated by config; unknown values fall back to info and text.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter is NewLogger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}

	newHandler, ok := handlers[strings.ToLower(format)]
	if !ok {
		newHandler = handlers["text"]
	}

	return slog.New(newHandler(w, &slog.HandlerOptions{Level: lvl}))
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

var handlers = map[string]func(io.Writer, *slog.HandlerOptions) slog.Handler{
	"text": func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewTextHandler(w, opts)
	},
	"json": func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewJSONHandler(w, opts)
	},
}

// ParseLevel maps a case-insensitive level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (must be debug, info, warn, or error)", level)
	}
	return lvl, nil
}

// ParseFormat checks a case-insensitive format name and returns it lowercased.
func ParseFormat(format string) (string, error) {
	f := strings.ToLower(format)
	if _, ok := handlers[f]; !ok {
		return "", fmt.Errorf("unknown log format %q (must be text or json)", format)
	}
	return f, nil
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Common attribute keys for consistent logging.
const (
	KeyComponent  = "component"
	KeyError      = "error"
	KeyKind       = "kind"
	KeyAddress    = "address"
	KeyRemoteAddr = "remote_addr"
	KeyLocalAddr  = "local_addr"
	KeyBytes      = "bytes"
	KeyDuration   = "duration"
	KeyCount      = "count"
)
