// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelCrit  = slog.Level(12)

	levelMaxVerbosity = LevelTrace
)

// Logger is the leveled, key-value logger used across the codebase.
type Logger interface {
	// WithContext returns a new Logger that has this logger's attributes plus the given attributes.
	WithContext(ctx ...any) Logger

	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)

	// Write logs a message at the specified level.
	Write(level slog.Level, msg string, ctx ...any)

	// Enabled reports whether the logger emits records at the given level.
	Enabled(level slog.Level) bool
}

type logger struct {
	inner *slog.Logger
}

// New returns a Logger backed by the given slog handler.
func New(h slog.Handler) Logger {
	return &logger{slog.New(h)}
}

func (l *logger) WithContext(ctx ...any) Logger {
	return &logger{l.inner.With(ctx...)}
}

func (l *logger) Trace(msg string, ctx ...any) { l.Write(LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.Write(LevelDebug, msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.Write(LevelInfo, msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.Write(LevelWarn, msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.Write(LevelError, msg, ctx...) }

func (l *logger) Write(level slog.Level, msg string, ctx ...any) {
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Enabled(level slog.Level) bool {
	return l.inner.Enabled(context.Background(), level)
}

var root atomic.Value

func init() {
	root.Store(&logger{slog.New(DiscardHandler())})
}

// SetDefault sets the default global logger.
func SetDefault(l Logger) {
	root.Store(l.(*logger))
}

// Root returns the root logger.
func Root() Logger {
	return root.Load().(*logger)
}

// WithContext returns a logger derived from the root logger with the given attributes.
func WithContext(ctx ...any) Logger {
	return Root().WithContext(ctx...)
}

// InitTerminal replaces the root logger with a terminal handler writing to stderr.
func InitTerminal(lvl slog.Level, useColor bool) {
	var level slog.LevelVar
	level.Set(lvl)
	SetDefault(New(NewTerminalHandlerWithLevel(os.Stderr, &level, useColor)))
}
