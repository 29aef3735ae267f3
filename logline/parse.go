// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package logline

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

var (
	// briefLine matches "I Tag: message" and "I/Tag( 1234): message".
	briefLine = regexp.MustCompile(`^([VDIWEFA])[/ ]\s*([^\s:(]+)\s*(?:\(\s*\d+\))?\s*: ?(.*)$`)

	// threadtimeLine matches
	// "10-16 12:34:56.789  1234  5678 I Tag: message", optionally with
	// a four-digit year.
	threadtimeLine = regexp.MustCompile(`^((?:\d{4}-)?\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2}(?:\.\d+)?)\s+\d+\s+\d+\s+([VDIWEFA])\s+([^:]*?)\s*: ?(.*)$`)

	// datedLine matches the start of any timestamped log line, even one
	// in a format we cannot parse. Such a line never continues a
	// pending message.
	datedLine = regexp.MustCompile(`^\s*(?:\d{4}-)?\d{2}-\d{2}[ T]\d{2}:\d{2}`)

	// stackHeader matches the first line of an exception report.
	stackHeader = regexp.MustCompile(`FATAL EXCEPTION|(?:^|[\s.$])\w*(?:Exception|Error)(?::|\s*$)`)

	// stackFrame matches the follow-on lines of an exception report.
	stackFrame = regexp.MustCompile(`^\s*(?:at\s|Caused by:|Suppressed:|\.\.\.\s*\d+\s+more)`)
)

var levels = map[string]protocol.LogLevel{
	"V": protocol.LevelVerbose,
	"D": protocol.LevelDebug,
	"I": protocol.LevelInfo,
	"W": protocol.LevelWarn,
	"E": protocol.LevelError,
	"F": protocol.LevelFatal,
	"A": protocol.LevelFatal,
}

// parse recognizes a structured line.
func (a *Accumulator) parse(line string) (record, bool) {
	if match := threadtimeLine.FindStringSubmatch(line); match != nil {
		return record{
			timestamp: a.parseTimestamp(match[1], match[2]),
			level:     levels[match[3]],
			tag:       a.canonicalTag(match[4]),
			text:      match[5],
		}, true
	}
	if match := briefLine.FindStringSubmatch(line); match != nil {
		return record{
			timestamp: a.clock.Now(),
			level:     levels[match[1]],
			tag:       a.canonicalTag(match[2]),
			text:      match[3],
		}, true
	}
	return record{}, false
}

func (a *Accumulator) canonicalTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if a.runtimeTags[tag] {
		return protocol.RuntimeLogTag
	}
	return tag
}

// parseTimestamp interprets a threadtime date and time. Logcat omits
// the year, so the current year is assumed. Unparseable stamps fall
// back to the receive time.
func (a *Accumulator) parseTimestamp(date, clockTime string) time.Time {
	now := a.clock.Now()
	if len(date) == len("01-02") {
		date = now.Format("2006") + "-" + date
	}
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05.999999999", date+" "+clockTime, now.Location())
	if err != nil {
		return now
	}
	return parsed
}

// extractObject returns the first object or array literal in text as
// compact JSON, or "" if there is none. Trailing commas and comments,
// common in JS object dumps, are tolerated.
func extractObject(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closing := byte('}')
	if text[start] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(text, closing)
	if end <= start {
		return ""
	}
	candidate := jsonc.ToJSON([]byte(text[start : end+1]))
	if !json.Valid(candidate) {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, candidate); err != nil {
		return ""
	}
	return compact.String()
}
