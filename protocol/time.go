// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/codec"
)

// Time is a timestamp encoded on the wire as fractional Unix seconds,
// the representation every Snag client emits. Decoding also accepts an
// RFC 3339 string. The zero Time encodes as 0.
type Time struct {
	time.Time
}

// At wraps t for the wire.
func At(t time.Time) Time { return Time{Time: t} }

// Seconds returns t as fractional Unix seconds, or 0 for the zero Time.
func (t Time) Seconds() float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func fromSeconds(seconds float64) Time {
	if seconds == 0 {
		return Time{}
	}
	whole, fraction := math.Modf(seconds)
	return Time{Time: time.Unix(int64(whole), int64(math.Round(fraction*1e9)))}
}

func (t Time) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, t.Seconds(), 'f', -1, 64), nil
}

// MarshalCBOR keeps snapshot exports in the same unit as the wire.
// The embedded time.Time would otherwise be encoded through its
// binary or text marshaler.
func (t Time) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(t.Seconds())
}

func (t *Time) UnmarshalCBOR(data []byte) error {
	var seconds float64
	if err := codec.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = fromSeconds(seconds)
	return nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = Time{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		if text == "" {
			*t = Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", text, err)
		}
		*t = Time{Time: parsed}
		return nil
	}
	seconds, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	*t = fromSeconds(seconds)
	return nil
}

// StatusCode is the response status of a captured request: a decimal
// HTTP status, StatusError for a transport failure, or StatusPending
// while the request is in flight.
type StatusCode string

const (
	StatusPending StatusCode = "pending"
	StatusError   StatusCode = "ERR"
)

// HTTPStatus formats a numeric status code.
func HTTPStatus(code int) StatusCode { return StatusCode(strconv.Itoa(code)) }

// IsFinal reports whether the request has completed, successfully or not.
func (s StatusCode) IsFinal() bool { return s != "" && s != StatusPending }

// Code returns the numeric status, or 0 when s is pending or an error.
func (s StatusCode) Code() int {
	code, err := strconv.Atoi(string(s))
	if err != nil {
		return 0
	}
	return code
}

// UnmarshalJSON accepts both "200" and 200.
func (s *StatusCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = StatusCode(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("status code %s: %w", data, err)
	}
	if code, err := number.Int64(); err == nil {
		*s = StatusCode(strconv.FormatInt(code, 10))
		return nil
	}
	*s = StatusCode(number.String())
	return nil
}
