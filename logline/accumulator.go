// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package logline turns a raw stream of platform log lines into
// structured log entries.
//
// Platform log sources (logcat, simulator consoles, process stderr)
// emit one physical line at a time, but applications frequently log
// multi-line values: pretty-printed JSON, object dumps from a JS
// runtime, exception stack traces. The Accumulator reassembles those
// into one entry per logical message by tracking the brace/bracket
// balance of the pending text and recognizing stack trace shapes.
//
// It is a single-pass state machine. It never looks back at text it
// has already emitted, and Reset returns it to the idle state at any
// point in the stream.
package logline

import (
	"regexp"
	"strings"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// DefaultMaxLines caps the physical lines merged into one entry. A
// runaway message (an unbalanced brace in free text) is emitted once it
// exceeds the cap instead of swallowing the rest of the stream.
const DefaultMaxLines = 1000

// DefaultRuntimeTags are tags emitted by JavaScript bridge runtimes.
// All of them are reported as protocol.RuntimeLogTag.
var DefaultRuntimeTags = []string{
	protocol.RuntimeLogTag,
	"ReactNative",
	"ReactNativeJNI",
	"RNLog",
	"Hermes",
	"HermesVM",
}

// DefaultIgnore matches the client's own transport chatter and the
// framework noise that drowns out application output on a busy device.
var DefaultIgnore = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsnag\b`),
	regexp.MustCompile(`^[VDIWEFA][/ ]\s*(?:chatty|OpenGLRenderer|EGL_emulation|HostConnection|gralloc\w*|Choreographer|ViewRootImpl\S*|InputMethodManager|ProfileInstaller|Gralloc\d*)\b`),
	regexp.MustCompile(`^\s*-+ beginning of \w+`),
}

// Options configures an Accumulator. The zero value is usable: it
// applies DefaultIgnore, DefaultRuntimeTags, and DefaultMaxLines.
type Options struct {
	// Ignore drops matching lines when not in verbose mode.
	// Continuation lines of a pending message are exempt.
	Ignore []*regexp.Regexp

	// Allow, in verbose mode, keeps only matching lines. An empty
	// allow list keeps everything. Continuation lines of a pending
	// message are exempt so a merged value is never cut in half.
	Allow []*regexp.Regexp

	// RuntimeTags are normalized to protocol.RuntimeLogTag.
	RuntimeTags []string

	// Verbose switches from ignore-list to allow-list filtering.
	Verbose bool

	// MaxLines caps lines per merged entry: a message is emitted as
	// soon as it holds more than MaxLines lines.
	MaxLines int

	// Clock stamps entries whose line format carries no timestamp.
	Clock clock.Clock
}

// Accumulator reassembles multi-line log messages. Not safe for
// concurrent use; feed it from the goroutine reading the log source.
type Accumulator struct {
	ignore      []*regexp.Regexp
	allow       []*regexp.Regexp
	runtimeTags map[string]bool
	verbose     bool
	maxLines    int
	clock       clock.Clock

	pending *message
}

// New creates an Accumulator.
func New(options Options) *Accumulator {
	if options.Ignore == nil {
		options.Ignore = DefaultIgnore
	}
	if options.RuntimeTags == nil {
		options.RuntimeTags = DefaultRuntimeTags
	}
	if options.MaxLines <= 0 {
		options.MaxLines = DefaultMaxLines
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	runtimeTags := make(map[string]bool, len(options.RuntimeTags))
	for _, tag := range options.RuntimeTags {
		runtimeTags[tag] = true
	}
	return &Accumulator{
		ignore:      options.Ignore,
		allow:       options.Allow,
		runtimeTags: runtimeTags,
		verbose:     options.Verbose,
		maxLines:    options.MaxLines,
		clock:       options.Clock,
	}
}

// SetVerbose switches filtering mode.
func (a *Accumulator) SetVerbose(verbose bool) { a.verbose = verbose }

// Pending reports whether a multi-line message is being assembled.
func (a *Accumulator) Pending() bool { return a.pending != nil }

// Reset discards any pending message.
func (a *Accumulator) Reset() { a.pending = nil }

// Flush emits the pending message, if any.
func (a *Accumulator) Flush() (protocol.LogEntry, bool) {
	if a.pending == nil {
		return protocol.LogEntry{}, false
	}
	entry := a.pending.entry()
	a.pending = nil
	return entry, true
}

// Push feeds one physical line and returns the entries it completed:
// none while a message is still pending, one in the common case, two
// when an unrelated line both ends a pending message and is itself a
// complete entry.
func (a *Accumulator) Push(line string) []protocol.LogEntry {
	line = strings.TrimRight(line, "\r\n")

	var emitted []protocol.LogEntry
	parsed, structured := a.parse(line)
	if !a.admit(line, structured) {
		return nil
	}

	if !structured {
		if a.pending == nil || !contentLike(line) {
			return nil
		}
		if a.pending.kind == kindStackTrace && !stackFrame.MatchString(line) {
			entry, _ := a.Flush()
			return append(emitted, entry)
		}
		return a.extend(line)
	}

	if a.pending != nil {
		if a.pending.continuedBy(parsed) {
			return a.extend(parsed.text)
		}
		entry, _ := a.Flush()
		emitted = append(emitted, entry)
	}
	return append(emitted, a.begin(parsed)...)
}

// admit applies the ignore or allow list. Unstructured continuation
// lines of a pending message are exempt from both so a merged value is
// never cut in half.
func (a *Accumulator) admit(line string, structured bool) bool {
	if !structured && a.pending != nil {
		return true
	}
	if a.verbose {
		return len(a.allow) == 0 || matchesAny(a.allow, line)
	}
	return !matchesAny(a.ignore, line)
}

// begin starts a new message from a structured line, emitting it
// immediately when it is already complete.
func (a *Accumulator) begin(parsed record) []protocol.LogEntry {
	pending := &message{record: parsed}
	pending.append(parsed.text)
	switch {
	case pending.depth > 0:
		pending.kind = kindBalanced
	case stackHeader.MatchString(parsed.text):
		pending.kind = kindStackTrace
	default:
		return []protocol.LogEntry{pending.entry()}
	}
	a.pending = pending
	return nil
}

// extend appends a continuation line to the pending message and emits
// it if that completed the message.
func (a *Accumulator) extend(text string) []protocol.LogEntry {
	a.pending.append(text)
	complete := a.pending.kind == kindBalanced && a.pending.depth <= 0
	if complete || len(a.pending.lines) > a.maxLines {
		entry, _ := a.Flush()
		return []protocol.LogEntry{entry}
	}
	return nil
}

func matchesAny(patterns []*regexp.Regexp, line string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

// contentLike reports whether an unstructured line can continue a
// pending message: it has content and is not the start of some other
// dated log line.
func contentLike(line string) bool {
	return strings.TrimSpace(line) != "" && !datedLine.MatchString(line)
}

type messageKind int

const (
	kindBalanced messageKind = iota + 1
	kindStackTrace
)

// message is a multi-line entry under construction.
type message struct {
	record
	kind  messageKind
	lines []string

	// depth is the running count of open braces and brackets outside
	// quoted strings.
	depth    int
	inString bool
	escaped  bool
}

// continuedBy reports whether a structured line belongs to this
// message: same source tag and level. A crash report interleaves its
// banner, process line, exception header, and frames under one tag, so
// a stack trace runs until the tag or level changes.
func (m *message) continuedBy(next record) bool {
	return next.tag == m.tag && next.level == m.level
}

func (m *message) append(text string) {
	m.lines = append(m.lines, text)
	for i := 0; i < len(text); i++ {
		character := text[i]
		if m.escaped {
			m.escaped = false
			continue
		}
		switch character {
		case '\\':
			m.escaped = true
		case '"':
			m.inString = !m.inString
		case '{', '[':
			if !m.inString {
				m.depth++
			}
		case '}', ']':
			if !m.inString {
				m.depth--
			}
		}
	}
	// Strings never span physical lines in the formats we merge; an
	// unmatched quote in prose must not poison the following lines.
	m.inString = false
	m.escaped = false
}

func (m *message) entry() protocol.LogEntry {
	text := strings.Join(m.lines, "\n")
	entry := protocol.LogEntry{
		Timestamp: protocol.At(m.timestamp),
		Level:     m.level,
		Tag:       m.tag,
		Message:   text,
	}
	if m.kind == kindBalanced || len(m.lines) == 1 {
		entry.Details = extractObject(text)
	}
	return entry
}

// record is the parsed form of one structured line.
type record struct {
	timestamp time.Time
	level     protocol.LogLevel
	tag       string
	text      string
}
