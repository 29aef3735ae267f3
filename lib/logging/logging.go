// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog loggers the Snag binaries inject into
// their components.
package logging

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// New creates a logger writing to stderr at level.
func New(level slog.Level) *slog.Logger {
	return NewTo(os.Stderr, level)
}

// NewTo creates a logger writing to file. When file is a terminal the
// output is slog's human-readable text format; when it is piped or
// redirected it is JSON, one object per line.
//
// Callers scope the logger with component context via With():
//
//	logger := logging.New(slog.LevelInfo).With("component", "publisher")
func NewTo(file *os.File, level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(file.Fd())) {
		handler = slog.NewTextHandler(file, options)
	} else {
		handler = slog.NewJSONHandler(file, options)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Components use it
// when their Config carries no logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
