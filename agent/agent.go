// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the client runtime that feeds a Snag collector.
//
// An Agent owns a transport.Transport, a carrier.Registry for HTTP
// capture, and a logline.Accumulator for log forwarding. Every packet it
// sends is stamped with the agent's device and project identity. It
// answers the collector's control traffic: app-info requests get an
// app-info response, and logStreamingControl switches log forwarding on
// or off. Each time a connection becomes ready the agent asks the
// collector for the current streaming flag.
//
// Typical use:
//
//	a, err := agent.New(agent.Config{...})
//	go a.Run(ctx)
//	client := &http.Client{Transport: a.RoundTripper(nil)}
//	go a.ForwardLines(ctx, logcat)
package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/carrier"
	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/logline"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
	"github.com/thanhcuong1990/Snag-sub000/transport"
)

// DefaultIdleFlush is how long ForwardLines waits for a continuation
// line before emitting a pending multi-line message.
const DefaultIdleFlush = 500 * time.Millisecond

// Config configures an Agent.
type Config struct {
	Project protocol.ProjectInfo
	Device  protocol.DeviceInfo
	AppInfo protocol.AppInfo

	// Transport configures discovery and delivery. Its Stamp, OnPacket
	// and OnReady hooks are owned by the Agent and overwritten.
	Transport transport.Config

	// StreamLogs is the streaming flag before the collector says
	// otherwise.
	StreamLogs bool

	// Lines configures the log accumulator.
	Lines logline.Options

	// IdleFlush defaults to DefaultIdleFlush.
	IdleFlush time.Duration

	// SkipBody overrides carrier.DefaultSkipBody.
	SkipBody func(*url.URL) bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Agent is the client runtime.
type Agent struct {
	project protocol.ProjectInfo
	device  protocol.DeviceInfo
	appInfo protocol.AppInfo

	transport *transport.Transport
	carriers  *carrier.Registry
	idleFlush time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	streaming atomic.Bool

	// lineMu guards the accumulator, which is fed by ForwardLines and
	// reset by streaming control from a connection goroutine.
	lineMu sync.Mutex
	lines  *logline.Accumulator
}

// New creates an Agent. A missing device ID is generated.
func New(config Config) (*Agent, error) {
	if config.Project.ProjectName == "" {
		return nil, errors.New("agent: project name is required")
	}
	if config.Device.DeviceID == "" {
		config.Device.DeviceID = protocol.NewID()
	}
	if config.AppInfo.BundleID == "" {
		config.AppInfo.BundleID = config.Project.BundleID
	}
	if config.IdleFlush <= 0 {
		config.IdleFlush = DefaultIdleFlush
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Lines.Clock == nil {
		config.Lines.Clock = config.Clock
	}

	a := &Agent{
		project:   config.Project,
		device:    config.Device,
		appInfo:   config.AppInfo,
		idleFlush: config.IdleFlush,
		clock:     config.Clock,
		logger:    config.Logger.With("device", config.Device.DeviceID),
		lines:     logline.New(config.Lines),
	}
	a.streaming.Store(config.StreamLogs)

	transportConfig := config.Transport
	transportConfig.Stamp = a.stamp
	transportConfig.OnPacket = a.handlePacket
	transportConfig.OnReady = a.connectionReady
	if transportConfig.Clock == nil {
		transportConfig.Clock = config.Clock
	}
	if transportConfig.Logger == nil {
		transportConfig.Logger = config.Logger
	}
	t, err := transport.New(transportConfig)
	if err != nil {
		return nil, err
	}
	a.transport = t

	a.carriers = carrier.NewRegistry(carrier.Config{
		Sink:     a,
		SkipBody: config.SkipBody,
		Clock:    config.Clock,
		Logger:   config.Logger,
	})
	return a, nil
}

// Run discovers collectors and delivers packets until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "project", a.project.ProjectName, "streaming", a.streaming.Load())
	return a.transport.Run(ctx)
}

// Send stamps packet with the agent's identity and queues it. It
// satisfies carrier.Sink.
func (a *Agent) Send(packet *protocol.Packet) error {
	a.stamp(packet)
	return a.transport.Send(packet)
}

// Carriers returns the registry HTTP interception shims report to.
func (a *Agent) Carriers() *carrier.Registry { return a.carriers }

// RoundTripper wraps next so every exchange through it is captured.
func (a *Agent) RoundTripper(next http.RoundTripper) http.RoundTripper {
	return &carrier.RoundTripper{Registry: a.carriers, Next: next}
}

// Log sends one structured entry when streaming is enabled.
func (a *Agent) Log(entry protocol.LogEntry) error {
	if !a.streaming.Load() {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = protocol.At(a.clock.Now())
	}
	return a.Send(protocol.NewLogPacket(entry))
}

// Streaming reports whether log lines are being forwarded.
func (a *Agent) Streaming() bool { return a.streaming.Load() }

// Stats reports transport counters.
func (a *Agent) Stats() transport.Stats { return a.transport.Stats() }

// DeviceID returns the identity the agent reports.
func (a *Agent) DeviceID() string { return a.device.DeviceID }

func (a *Agent) stamp(packet *protocol.Packet) {
	device := a.device
	project := a.project
	packet.Device = &device
	packet.Project = &project
}

func (a *Agent) connectionReady(address string) {
	if err := a.Send(protocol.NewControl(protocol.ControlLogStreamingStatusRequest)); err != nil {
		a.logger.Warn("could not request streaming status", "collector", address, "error", err)
	}
}

func (a *Agent) handlePacket(packet *protocol.Packet) {
	if packet.Control == nil {
		a.logger.Debug("ignoring non-control packet from collector", "id", packet.ID, "kind", packet.Kind())
		return
	}
	switch packet.Control.Type {
	case protocol.ControlAppInfoRequest:
		if err := a.Send(protocol.NewAppInfoResponse(a.appInfo)); err != nil {
			a.logger.Warn("could not answer app info request", "error", err)
		}

	case protocol.ControlLogStreaming:
		if packet.Control.ShouldStreamLogs == nil {
			return
		}
		a.setStreaming(*packet.Control.ShouldStreamLogs)

	default:
		a.logger.Debug("ignoring control packet", "type", packet.Control.Type)
	}
}

func (a *Agent) setStreaming(stream bool) {
	if a.streaming.Swap(stream) == stream {
		return
	}
	a.logger.Info("log streaming changed", "streaming", stream)
	if !stream {
		a.lineMu.Lock()
		a.lines.Reset()
		a.lineMu.Unlock()
	}
}
