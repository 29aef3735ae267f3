// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// maxLineLength bounds a single physical line read by ForwardLines.
const maxLineLength = 1 << 20

// ForwardLines reads raw log lines from source and forwards the entries
// the accumulator assembles. Lines that arrive while streaming is off
// are discarded. A pending multi-line message is emitted after
// IdleFlush without a new line, and when source ends.
//
// It returns nil at end of input, ctx.Err() on cancellation, or the
// read error.
func (a *Agent) ForwardLines(ctx context.Context, source io.Reader) error {
	type result struct {
		line string
		err  error
	}
	lines := make(chan result)
	readerDone := make(chan struct{})
	defer close(readerDone)

	go func() {
		scanner := bufio.NewScanner(source)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
		for scanner.Scan() {
			select {
			case lines <- result{line: scanner.Text()}:
			case <-readerDone:
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case lines <- result{err: err}:
		case <-readerDone:
		}
	}()

	for {
		var idle <-chan time.Time
		if a.pendingLines() {
			idle = a.clock.After(a.idleFlush)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle:
			a.flushLines()

		case next := <-lines:
			if next.err != nil {
				a.flushLines()
				if next.err == io.EOF {
					return nil
				}
				return fmt.Errorf("reading log source: %w", next.err)
			}
			a.pushLine(next.line)
		}
	}
}

func (a *Agent) pendingLines() bool {
	a.lineMu.Lock()
	defer a.lineMu.Unlock()
	return a.lines.Pending()
}

func (a *Agent) pushLine(line string) {
	if !a.streaming.Load() {
		return
	}
	a.lineMu.Lock()
	entries := a.lines.Push(line)
	a.lineMu.Unlock()
	a.sendEntries(entries)
}

func (a *Agent) flushLines() {
	a.lineMu.Lock()
	entry, ok := a.lines.Flush()
	a.lineMu.Unlock()
	if ok && a.streaming.Load() {
		a.sendEntries([]protocol.LogEntry{entry})
	}
}

func (a *Agent) sendEntries(entries []protocol.LogEntry) {
	for _, entry := range entries {
		if err := a.Send(protocol.NewLogPacket(entry)); err != nil {
			a.logger.Debug("log entry dropped", "error", err)
		}
	}
}
