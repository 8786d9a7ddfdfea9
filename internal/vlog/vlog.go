// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package vlog is a thin wrapper around log/slog giving every vaultpack
// component a named logger and a process-wide level that can be raised
// via VAULTPACK_LOG_LEVEL (see internal/config). It exists so call
// sites read "vlog.Named(...)" instead of repeating slog boilerplate,
// the way the teacher package wraps its own cross-cutting concerns in
// small named helpers.
package vlog

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var level = new(slog.LevelVar)

var base atomic.Pointer[slog.Logger]

func init() {
	level.Set(slog.LevelInfo)
	base.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// SetLevel adjusts the process-wide minimum log level.
func SetLevel(l slog.Level) { level.Set(l) }

// Logger is a named slog.Logger handle.
type Logger struct {
	*slog.Logger
}

// Named returns a Logger that tags every record with component=name.
func Named(name string) *Logger {
	return &Logger{base.Load().With("component", name)}
}

// SetOutput replaces the base handler's output; intended for tests
// that want to assert on emitted log lines.
func SetOutput(h slog.Handler) {
	base.Store(slog.New(h))
}
