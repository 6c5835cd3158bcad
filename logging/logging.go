// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging is a thin structured, leveled logging layer. Messages
// take alternating key/value context pairs:
//
//	logger.Warn("packet event for unknown queue", "queue", num)
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level controls which messages a logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config controls logger construction.
type Config struct {
	Level Level
	// JSON switches from the human-readable text format to one JSON object
	// per line.
	JSON bool
	// Output defaults to stderr.
	Output io.Writer
	// Prefix is prepended to every message, e.g. a component name.
	Prefix string
}

// DefaultConfig returns the config used by the package-level logger: info
// level, text format, stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo}
}

// Logger is a leveled, structured logger.
type Logger struct {
	l *log.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{
		ReportTimestamp: true,
		Level:           charmLevel(cfg.Level),
		Prefix:          cfg.Prefix,
	}
	if cfg.JSON {
		opts.Formatter = log.JSONFormatter
	}
	return &Logger{l: log.NewWithOptions(w, opts)}
}

func charmLevel(lvl Level) log.Level {
	switch lvl {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn" or "error" to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.l.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.l.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.l.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.l.Error(msg, keyvals...) }

// With returns a logger that adds the given key/value context to every
// message.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{l: l.l.With(keyvals...)}
}

var std = New(DefaultConfig())

// Default returns the package-level logger.
func Default() *Logger { return std }

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) {
	if l != nil {
		std = l
	}
}

func Debug(msg string, keyvals ...any) { std.Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { std.Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { std.Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { std.Error(msg, keyvals...) }
