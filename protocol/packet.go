// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RuntimeLogTag is the canonical tag for output from a JavaScript
// bridge runtime. Clients normalize every runtime-specific tag to this
// value so the collector can bucket runtime logs without knowing which
// engine produced them.
const RuntimeLogTag = "ReactNativeJS"

// Packet is the unit of exchange on a Snag connection. It carries at
// most one payload (RequestInfo, Log, or Control). Device and Project
// identify the sender; clients send them on the first packet of a
// connection and may omit them afterwards, so receivers remember the
// last identity seen per connection.
type Packet struct {
	// ID is unique per packet. Progressive snapshots of one HTTP
	// request share an ID so the collector can merge them.
	ID string `json:"id"`

	RequestInfo *RequestInfo `json:"requestInfo,omitempty"`
	Log         *LogEntry    `json:"log,omitempty"`
	Control     *Control     `json:"control,omitempty"`

	Device  *DeviceInfo  `json:"device,omitempty"`
	Project *ProjectInfo `json:"project,omitempty"`

	// Unauthenticated is set by the publisher on packets from a
	// connection that has not presented the pairing PIN. It never
	// travels on the wire.
	Unauthenticated bool `json:"-"`
}

// Kind identifies which payload a packet carries.
type Kind int

const (
	KindEmpty Kind = iota
	KindRequest
	KindLog
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindLog:
		return "log"
	case KindControl:
		return "control"
	default:
		return "empty"
	}
}

// Kind returns the packet's payload kind. The result is meaningless
// for a packet with more than one payload; Validate rejects those.
func (p *Packet) Kind() Kind {
	switch {
	case p.RequestInfo != nil:
		return KindRequest
	case p.Log != nil:
		return KindLog
	case p.Control != nil:
		return KindControl
	default:
		return KindEmpty
	}
}

// Validate checks the at-most-one-payload invariant.
func (p *Packet) Validate() error {
	payloads := 0
	if p.RequestInfo != nil {
		payloads++
	}
	if p.Log != nil {
		payloads++
	}
	if p.Control != nil {
		payloads++
	}
	if payloads > 1 {
		return fmt.Errorf("packet %q carries %d payloads, at most one allowed", p.ID, payloads)
	}
	return nil
}

// Clone returns a deep copy, so a snapshot handed to a consumer is not
// mutated by later merges.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	clone := *p
	if p.RequestInfo != nil {
		info := p.RequestInfo.Clone()
		clone.RequestInfo = &info
	}
	if p.Log != nil {
		entry := *p.Log
		clone.Log = &entry
	}
	if p.Control != nil {
		control := *p.Control
		if p.Control.AppInfo != nil {
			appInfo := *p.Control.AppInfo
			control.AppInfo = &appInfo
		}
		if p.Control.ShouldStreamLogs != nil {
			streaming := *p.Control.ShouldStreamLogs
			control.ShouldStreamLogs = &streaming
		}
		clone.Control = &control
	}
	if p.Device != nil {
		device := *p.Device
		clone.Device = &device
	}
	if p.Project != nil {
		project := *p.Project
		clone.Project = &project
	}
	return &clone
}

// NewID returns a fresh packet identifier.
func NewID() string { return uuid.NewString() }

// DecodeError reports a frame body that is not a valid packet. The
// frame is dropped; the connection stays open.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode packet: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes p to JSON, assigning an ID if it has none.
func Encode(p *Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode packet %s: %w", p.ID, err)
	}
	return data, nil
}

// EncodeFrame is Encode followed by Frame.
func EncodeFrame(p *Packet) ([]byte, error) {
	data, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return Frame(data), nil
}

// Decode parses a frame body. Unknown fields are ignored so newer
// clients can talk to older collectors. A packet without an ID is
// given one.
func Decode(data []byte) (*Packet, error) {
	var packet Packet
	if err := json.Unmarshal(data, &packet); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := packet.Validate(); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if packet.ID == "" {
		packet.ID = NewID()
	}
	return &packet, nil
}

// RequestInfo describes one captured HTTP exchange. It is created with
// request metadata when the request starts and filled in as the
// response arrives; every snapshot of the same request shares the
// packet ID.
type RequestInfo struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     []byte            `json:"requestBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseData    []byte            `json:"responseData,omitempty"`
	StatusCode      StatusCode        `json:"statusCode,omitempty"`
	StartTime       Time              `json:"startTime,omitzero"`
	EndTime         Time              `json:"endTime,omitzero"`
}

// Clone returns a deep copy of the request info.
func (r RequestInfo) Clone() RequestInfo {
	clone := r
	clone.RequestHeaders = cloneHeaders(r.RequestHeaders)
	clone.ResponseHeaders = cloneHeaders(r.ResponseHeaders)
	clone.RequestBody = cloneBytes(r.RequestBody)
	clone.ResponseData = cloneBytes(r.ResponseData)
	return clone
}

// Merge folds a newer snapshot of the same request into r. Fields the
// newer snapshot carries replace r's; fields it omits are kept. A
// pending status never replaces a final one, so a stale snapshot that
// arrives late on a second connection cannot regress a completed
// request.
func (r *RequestInfo) Merge(newer *RequestInfo) {
	if newer.URL != "" {
		r.URL = newer.URL
	}
	if newer.Method != "" {
		r.Method = newer.Method
	}
	if len(newer.RequestHeaders) > 0 {
		r.RequestHeaders = cloneHeaders(newer.RequestHeaders)
	}
	if len(newer.ResponseHeaders) > 0 {
		r.ResponseHeaders = cloneHeaders(newer.ResponseHeaders)
	}
	if newer.RequestBody != nil {
		r.RequestBody = cloneBytes(newer.RequestBody)
	}
	if newer.ResponseData != nil {
		r.ResponseData = cloneBytes(newer.ResponseData)
	}
	if newer.StatusCode.IsFinal() || !r.StatusCode.IsFinal() && newer.StatusCode != "" {
		r.StatusCode = newer.StatusCode
	}
	if !newer.StartTime.IsZero() {
		r.StartTime = newer.StartTime
	}
	if !newer.EndTime.IsZero() {
		r.EndTime = newer.EndTime
	}
}

// LogLevel is the severity of a LogEntry.
type LogLevel string

const (
	LevelVerbose LogLevel = "verbose"
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarn    LogLevel = "warn"
	LevelError   LogLevel = "error"
	LevelFatal   LogLevel = "fatal"
)

// LogEntry is one logical log message. A multi-line message merged by
// the client's accumulator is still one entry.
type LogEntry struct {
	Timestamp Time     `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
	Tag       string   `json:"tag,omitempty"`
	Details   string   `json:"details,omitempty"`
}

// DeviceInfo identifies the sending device. DeviceID routes targeted
// control packets back to the client and keys the device inside its
// project.
type DeviceInfo struct {
	DeviceID          string `json:"deviceId"`
	DeviceName        string `json:"deviceName,omitempty"`
	DeviceDescription string `json:"deviceDescription,omitempty"`
	HostName          string `json:"hostName,omitempty"`
	IPAddress         string `json:"ipAddress,omitempty"`
}

// ProjectInfo identifies the application the device is running.
type ProjectInfo struct {
	ProjectName string `json:"projectName"`
	AppIcon     string `json:"appIcon,omitempty"`
	BundleID    string `json:"bundleId,omitempty"`
}

// NewRequestPacket wraps a request snapshot.
func NewRequestPacket(id string, info RequestInfo) *Packet {
	return &Packet{ID: id, RequestInfo: &info}
}

// NewLogPacket wraps a log entry in a packet with a fresh ID.
func NewLogPacket(entry LogEntry) *Packet {
	return &Packet{ID: NewID(), Log: &entry}
}

func cloneHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	clone := make(map[string]string, len(headers))
	for key, value := range headers {
		clone[key] = value
	}
	return clone
}

func cloneBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte{}, data...)
}
