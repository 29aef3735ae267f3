// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/lib/discovery"
	"github.com/thanhcuong1990/Snag-sub000/lib/testutil"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
	"github.com/thanhcuong1990/Snag-sub000/publisher"
	"github.com/thanhcuong1990/Snag-sub000/session"
	"github.com/thanhcuong1990/Snag-sub000/transport"
)

const testTimeout = 5 * time.Second

func testConfig(browser discovery.Browser) Config {
	return Config{
		Project:   protocol.ProjectInfo{ProjectName: "Shop", BundleID: "com.example.shop"},
		Device:    protocol.DeviceInfo{DeviceID: "device-1", DeviceName: "Pixel 8"},
		AppInfo:   protocol.AppInfo{IsReactNative: true},
		Transport: transport.Config{Browser: browser},
		SkipBody:  func(*url.URL) bool { return false },
	}
}

// stack runs an agent against a real publisher and session over
// in-memory discovery.
type stack struct {
	agent     *Agent
	collector *session.Collector
}

func startStack(t *testing.T, agentConfig func(*Config), sessionConfig session.Config) *stack {
	t.Helper()
	memory := discovery.NewMemory()

	pub, err := publisher.New(publisher.Config{Address: "127.0.0.1:0", Advertiser: memory})
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	sessionConfig.Sender = pub
	collector := session.New(sessionConfig)

	config := testConfig(memory)
	if agentConfig != nil {
		agentConfig(&config)
	}
	a, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	served := make(chan error, 1)
	ran := make(chan error, 1)
	go func() { served <- pub.Serve(ctx, collector) }()
	go func() { ran <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, ran, testTimeout, "waiting for agent to stop")
		testutil.RequireReceive(t, served, testTimeout, "waiting for publisher to stop")
	})
	return &stack{agent: a, collector: collector}
}

// device waits for the collector to list the agent's device.
func (s *stack) device(t *testing.T, condition func(session.Device) bool, msg string) session.Device {
	t.Helper()
	var device session.Device
	testutil.Eventually(t, testTimeout, func() bool {
		var err error
		device, err = s.collector.Device("Shop", "device-1")
		return err == nil && condition(device)
	}, msg)
	return device
}

func TestHTTPExchangeReachesCollector(t *testing.T) {
	s := startStack(t, nil, session.Config{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "pong")
	}))
	defer server.Close()

	client := &http.Client{Transport: s.agent.RoundTripper(nil)}
	response, err := client.Post(server.URL+"/ping", "text/plain", strings.NewReader("ping"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	io.Copy(io.Discard, response.Body)
	response.Body.Close()

	var packets []*protocol.Packet
	testutil.Eventually(t, testTimeout, func() bool {
		packets, _ = s.collector.Packets("Shop", "device-1")
		return len(packets) == 1 && packets[0].RequestInfo.StatusCode.IsFinal()
	}, "completed request at the collector")

	info := packets[0].RequestInfo
	if info.StatusCode.Code() != http.StatusOK || info.Method != http.MethodPost {
		t.Fatalf("request = %+v", info)
	}
	if string(info.RequestBody) != "ping" || string(info.ResponseData) != "pong" {
		t.Fatalf("bodies = %q / %q", info.RequestBody, info.ResponseData)
	}
}

func TestAppInfoHandshake(t *testing.T) {
	s := startStack(t, nil, session.Config{})

	device := s.device(t, func(d session.Device) bool { return d.AppInfo != nil }, "app info learned")
	if device.AppInfo.BundleID != "com.example.shop" || !device.AppInfo.IsReactNative {
		t.Fatalf("app info = %+v", device.AppInfo)
	}
	if device.Name != "Pixel 8" {
		t.Errorf("device name = %q", device.Name)
	}
}

func TestCollectorControlsStreaming(t *testing.T) {
	s := startStack(t, nil, session.Config{})
	s.device(t, func(session.Device) bool { return true }, "device listed")

	if err := s.collector.SetLogStreaming("Shop", "device-1", true); err != nil {
		t.Fatalf("SetLogStreaming: %v", err)
	}
	testutil.Eventually(t, testTimeout, s.agent.Streaming, "agent streaming")

	source := strings.NewReader("I ReactNativeJS: hello\nD OkHttp: --> GET /orders\n")
	if err := s.agent.ForwardLines(t.Context(), source); err != nil {
		t.Fatalf("ForwardLines: %v", err)
	}

	var logs []protocol.LogEntry
	testutil.Eventually(t, testTimeout, func() bool {
		logs, _ = s.collector.Logs("Shop", "device-1", session.BucketRuntime)
		return len(logs) == 1
	}, "runtime log at the collector")
	if logs[0].Message != "hello" || logs[0].Tag != protocol.RuntimeLogTag {
		t.Fatalf("log = %+v", logs[0])
	}
}

func TestStatusRequestSyncsStreaming(t *testing.T) {
	s := startStack(t, func(config *Config) { config.StreamLogs = true }, session.Config{})
	testutil.Eventually(t, testTimeout, func() bool { return !s.agent.Streaming() },
		"collector turning streaming off")

	s.collector.SetLogStreaming("Shop", "device-1", true)
	testutil.Eventually(t, testTimeout, s.agent.Streaming, "collector turning streaming back on")
}

func TestNewValidatesIdentity(t *testing.T) {
	if _, err := New(Config{Transport: transport.Config{Browser: discovery.NewMemory()}}); err == nil {
		t.Fatal("New without a project name succeeded")
	}

	config := testConfig(discovery.NewMemory())
	config.Device.DeviceID = ""
	a, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.DeviceID() == "" {
		t.Fatal("no device ID generated")
	}
	if a.appInfo.BundleID != "com.example.shop" {
		t.Errorf("app info bundle id = %q, want the project's", a.appInfo.BundleID)
	}
}

func TestStoppingStreamResetsAccumulator(t *testing.T) {
	config := testConfig(discovery.NewMemory())
	config.StreamLogs = true
	a, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.pushLine("I ShopApp: order {")
	if !a.pendingLines() {
		t.Fatal("open brace left nothing pending")
	}
	a.handlePacket(protocol.NewLogStreamingControl(false))
	if a.Streaming() || a.pendingLines() {
		t.Fatalf("streaming = %v, pending = %v after stop", a.Streaming(), a.pendingLines())
	}

	a.pushLine("I ShopApp: ignored")
	if queued := a.Stats().Queued; queued != 0 {
		t.Fatalf("queued %d packets while streaming is off", queued)
	}
}

func TestIdleFlushEmitsPendingMessage(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	config := testConfig(discovery.NewMemory())
	config.StreamLogs = true
	config.Clock = fake
	config.Transport.Clock = clock.Real()
	a, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reader, writer := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.ForwardLines(t.Context(), reader) }()

	io.WriteString(writer, "I ShopApp: order {\n")
	fake.WaitForTimers(1)
	if queued := a.Stats().Queued; queued != 0 {
		t.Fatalf("queued %d packets before the idle flush", queued)
	}
	fake.Advance(DefaultIdleFlush)
	testutil.Eventually(t, testTimeout, func() bool { return a.Stats().Queued == 1 }, "idle flush")

	writer.Close()
	if err := testutil.RequireReceive(t, done, testTimeout, "ForwardLines returning"); err != nil {
		t.Fatalf("ForwardLines: %v", err)
	}
}

func TestLogRespectsStreaming(t *testing.T) {
	a, err := New(testConfig(discovery.NewMemory()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Log(protocol.LogEntry{Level: protocol.LevelInfo, Message: "dropped"})
	a.setStreaming(true)
	a.Log(protocol.LogEntry{Level: protocol.LevelInfo, Message: "kept"})
	if queued := a.Stats().Queued; queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}
}

func TestForwardLinesStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(discovery.NewMemory()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reader, writer := io.Pipe()
	defer writer.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.ForwardLines(ctx, reader) }()
	cancel()
	if err := testutil.RequireReceive(t, done, testTimeout, "ForwardLines returning"); err != context.Canceled {
		t.Fatalf("ForwardLines = %v, want context.Canceled", err)
	}
}
