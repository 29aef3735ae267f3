// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// ControlType names a control message. Control packets drive the
// session handshake and are never shown as traffic.
type ControlType string

const (
	// ControlAppInfoRequest asks the client to describe its app.
	// Collector → client.
	ControlAppInfoRequest ControlType = "appInfoRequest"

	// ControlAppInfoResponse answers an app-info request. Carries
	// AppInfo. Client → collector.
	ControlAppInfoResponse ControlType = "appInfoResponse"

	// ControlLogStreaming tells the client whether to forward log
	// lines. Carries ShouldStreamLogs. Collector → client.
	ControlLogStreaming ControlType = "logStreamingControl"

	// ControlLogStreamingStatusRequest asks the collector for the
	// current streaming flag; the collector replies with
	// ControlLogStreaming. Client → collector.
	ControlLogStreamingStatusRequest ControlType = "logStreamingStatusRequest"

	// ControlAuthPIN presents the pairing PIN. Carries AuthPIN. Sent
	// first on every connection when authentication is enabled.
	// Client → collector.
	ControlAuthPIN ControlType = "authPIN"
)

// Control is the payload of a control packet. Only the fields relevant
// to Type are set.
type Control struct {
	Type             ControlType `json:"type"`
	AppInfo          *AppInfo    `json:"appInfo,omitempty"`
	ShouldStreamLogs *bool       `json:"shouldStreamLogs,omitempty"`
	AuthPIN          string      `json:"authPIN,omitempty"`
}

// AppInfo describes the client application.
type AppInfo struct {
	BundleID      string `json:"bundleId,omitempty"`
	IsReactNative bool   `json:"isReactNative"`
}

// NewControl returns a control packet of the given type.
func NewControl(controlType ControlType) *Packet {
	return &Packet{ID: NewID(), Control: &Control{Type: controlType}}
}

// NewLogStreamingControl returns a logStreamingControl packet.
func NewLogStreamingControl(stream bool) *Packet {
	packet := NewControl(ControlLogStreaming)
	packet.Control.ShouldStreamLogs = &stream
	return packet
}

// NewAuthPIN returns an authPIN packet presenting pin.
func NewAuthPIN(pin string) *Packet {
	packet := NewControl(ControlAuthPIN)
	packet.Control.AuthPIN = pin
	return packet
}

// NewAppInfoResponse returns an appInfoResponse packet.
func NewAppInfoResponse(info AppInfo) *Packet {
	packet := NewControl(ControlAppInfoResponse)
	packet.Control.AppInfo = &info
	return packet
}
