// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package logline

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

var epoch = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func newTestAccumulator(options Options) *Accumulator {
	options.Clock = clock.Fake(epoch)
	return New(options)
}

// pushAll feeds lines and collects every emitted entry.
func pushAll(accumulator *Accumulator, lines ...string) []protocol.LogEntry {
	var entries []protocol.LogEntry
	for _, line := range lines {
		entries = append(entries, accumulator.Push(line)...)
	}
	return entries
}

func TestBalancedMessageIsMerged(t *testing.T) {
	accumulator := newTestAccumulator(Options{})

	if got := accumulator.Push("I Tag: start {"); len(got) != 0 {
		t.Fatalf("first line emitted %d entries, want 0", len(got))
	}
	if got := accumulator.Push(`  "a": 1,`); len(got) != 0 {
		t.Fatalf("continuation emitted %d entries, want 0", len(got))
	}
	entries := accumulator.Push("}")
	if len(entries) != 1 {
		t.Fatalf("closing line emitted %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if want := "start {\n  \"a\": 1,\n}"; entry.Message != want {
		t.Errorf("Message = %q, want %q", entry.Message, want)
	}
	if entry.Tag != "Tag" || entry.Level != protocol.LevelInfo {
		t.Errorf("Tag/Level = %q/%q", entry.Tag, entry.Level)
	}
	if entry.Details != `{"a":1}` {
		t.Errorf("Details = %q, want compact JSON", entry.Details)
	}
	if accumulator.Pending() {
		t.Error("accumulator still pending after flush")
	}
}

func TestSelfContainedObjectEmitsImmediately(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := accumulator.Push("I Tag: {}")
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "{}" {
		t.Errorf("Message = %q", entries[0].Message)
	}
	// The next structured line starts a fresh entry rather than
	// continuing the previous one.
	next := accumulator.Push("I Tag: hello")
	if len(next) != 1 || next[0].Message != "hello" {
		t.Fatalf("next = %+v", next)
	}
}

func TestSameTagStructuredLinesContinue(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		"I/ReactNativeJS( 4242): {",
		`I/ReactNativeJS( 4242):   "user": {"id": 7},`,
		"I/ReactNativeJS( 4242): }",
	)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Tag != protocol.RuntimeLogTag {
		t.Errorf("Tag = %q, want %q", entries[0].Tag, protocol.RuntimeLogTag)
	}
	if entries[0].Details != `{"user":{"id":7}}` {
		t.Errorf("Details = %q", entries[0].Details)
	}
}

func TestUnrelatedStructuredLineFlushesPending(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		"D Network: payload [",
		"  1, 2,",
		"W Other: disk almost full",
	)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Tag != "Network" || entries[0].Message != "payload [\n  1, 2," {
		t.Errorf("flushed entry = %+v", entries[0])
	}
	if entries[1].Tag != "Other" || entries[1].Level != protocol.LevelWarn {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestBracesInsideStringsAreIgnored(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		`I Tag: {"text": "a } inside",`,
		`  "escaped": "quote \" and { brace"`,
		`}`,
	)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Details == "" {
		t.Errorf("Details empty for valid object: %q", entries[0].Message)
	}
}

func TestUnstructuredNoiseWithoutPendingIsDropped(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	if entries := pushAll(accumulator, "random noise", "  }", ""); len(entries) != 0 {
		t.Fatalf("noise produced entries: %+v", entries)
	}
}

func TestDatedLineDoesNotContinue(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		"I Tag: open {",
		"2026-10-16 09:30:01 some other format",
		"}",
	)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "open {\n}" {
		t.Errorf("Message = %q", entries[0].Message)
	}
}

func TestLineCapFlushes(t *testing.T) {
	accumulator := newTestAccumulator(Options{MaxLines: 5})
	lines := []string{"I Tag: never closed {"}
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("  line %d", i))
	}
	entries := pushAll(accumulator, lines...)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "never closed {\n  line 0\n  line 1\n  line 2\n  line 3\n  line 4" {
		t.Errorf("capped entry = %q", entries[0].Message)
	}
	// Once the capped entry is out, the remaining unstructured lines
	// have nothing to continue.
	if accumulator.Pending() {
		t.Error("accumulator pending after cap")
	}
}

func TestThreadtimeFormat(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := accumulator.Push("10-16 08:15:42.123  1234  5678 E Hermes: boom")
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Tag != protocol.RuntimeLogTag || entry.Level != protocol.LevelError || entry.Message != "boom" {
		t.Errorf("entry = %+v", entry)
	}
	want := time.Date(2026, 10, 16, 8, 15, 42, 123_000_000, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", entry.Timestamp.Time, want)
	}
}

func TestStackTraceIsMerged(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		"E AndroidRuntime: FATAL EXCEPTION: main",
		"E AndroidRuntime: java.lang.IllegalStateException: boom",
		"E AndroidRuntime: \tat com.example.Main.run(Main.java:10)",
		"\tat com.example.Main.main(Main.java:3)",
		"E AndroidRuntime: Caused by: java.io.IOException",
		"E AndroidRuntime: \t... 3 more",
		"I Next: done",
	)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Message != "FATAL EXCEPTION: main\njava.lang.IllegalStateException: boom\n\tat com.example.Main.run(Main.java:10)\n\tat com.example.Main.main(Main.java:3)\nCaused by: java.io.IOException\n\t... 3 more" {
		t.Errorf("trace = %q", entries[0].Message)
	}
	if entries[1].Message != "done" {
		t.Errorf("last = %+v", entries[1])
	}
}

func TestCrashReportIsOneEntry(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		"E AndroidRuntime: FATAL EXCEPTION: main",
		"E AndroidRuntime: Process: com.example, PID: 1234",
		"E AndroidRuntime: java.lang.RuntimeException: boom",
		"E AndroidRuntime: \tat com.example.Main.run(Main.java:10)",
		"I Other: done",
	)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	want := "FATAL EXCEPTION: main\nProcess: com.example, PID: 1234\njava.lang.RuntimeException: boom\n\tat com.example.Main.run(Main.java:10)"
	if entries[0].Message != want || entries[0].Level != protocol.LevelError {
		t.Errorf("crash = %+v", entries[0])
	}
	if entries[1].Tag != "Other" {
		t.Errorf("last = %+v", entries[1])
	}
}

func TestStackTraceEndsOnLevelChange(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		"E App: java.lang.IllegalStateException: boom",
		"E App: \tat com.example.Main.run(Main.java:10)",
		"I App: recovered",
	)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Message != "java.lang.IllegalStateException: boom\n\tat com.example.Main.run(Main.java:10)" {
		t.Errorf("trace = %q", entries[0].Message)
	}
	if entries[1].Message != "recovered" || entries[1].Level != protocol.LevelInfo {
		t.Errorf("follow-up = %+v", entries[1])
	}
}

func TestIgnoreListSparesContinuationLines(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	entries := pushAll(accumulator,
		"I App: {",
		`  "client": "snag",`,
		`  "x": 1`,
		"}",
	)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}
	if want := "{\n  \"client\": \"snag\",\n  \"x\": 1\n}"; entries[0].Message != want {
		t.Errorf("Message = %q, want %q", entries[0].Message, want)
	}
	if accumulator.Pending() {
		t.Error("closing brace left the message pending")
	}
	// A structured line is still filtered.
	if entries := accumulator.Push("I Snag: connected"); len(entries) != 0 {
		t.Errorf("own chatter emitted: %+v", entries)
	}
}

func TestIgnoreListAndVerboseMode(t *testing.T) {
	accumulator := newTestAccumulator(Options{
		Allow: []*regexp.Regexp{regexp.MustCompile(`ReactNativeJS|Hermes`)},
	})
	if entries := accumulator.Push("D OpenGLRenderer: frame"); len(entries) != 0 {
		t.Fatalf("ignored line emitted: %+v", entries)
	}
	if entries := accumulator.Push("I Snag: sent 3 packets"); len(entries) != 0 {
		t.Fatalf("own chatter emitted: %+v", entries)
	}

	accumulator.SetVerbose(true)
	if entries := accumulator.Push("D OpenGLRenderer: frame"); len(entries) != 0 {
		t.Fatalf("verbose mode admitted a line outside the allow list: %+v", entries)
	}
	entries := pushAll(accumulator, "I ReactNativeJS: [", "  1", "]")
	if len(entries) != 1 || entries[0].Details != "[1]" {
		t.Fatalf("verbose runtime entries = %+v", entries)
	}
}

func TestResetDiscardsPending(t *testing.T) {
	accumulator := newTestAccumulator(Options{})
	accumulator.Push("I Tag: {")
	accumulator.Reset()
	if accumulator.Pending() {
		t.Fatal("Pending() after Reset")
	}
	if entries := accumulator.Push("  \"a\": 1"); len(entries) != 0 {
		t.Fatalf("continuation after reset emitted %+v", entries)
	}
	if _, ok := accumulator.Flush(); ok {
		t.Fatal("Flush() after Reset returned an entry")
	}
}

func TestExtractObjectToleratesTrailingCommas(t *testing.T) {
	got := extractObject("state {\n  \"a\": [1, 2,],\n  // comment\n  \"b\": true,\n}")
	if got != `{"a":[1,2],"b":true}` {
		t.Fatalf("extractObject = %q", got)
	}
	if extractObject("no object here") != "" {
		t.Fatal("extractObject invented an object")
	}
}
