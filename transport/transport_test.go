// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/lib/discovery"
	"github.com/thanhcuong1990/Snag-sub000/lib/testutil"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

const testTimeout = 5 * time.Second

// fakeCollector accepts connections on loopback and hands them to the
// test.
type fakeCollector struct {
	listener net.Listener
	conns    chan net.Conn
}

func newFakeCollector(t *testing.T) *fakeCollector {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	collector := &fakeCollector{listener: listener, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			collector.conns <- conn
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return collector
}

func (f *fakeCollector) endpoint() discovery.Endpoint {
	port := f.listener.Addr().(*net.TCPAddr).Port
	return discovery.Endpoint{
		Instance: "test-collector",
		Host:     "localhost",
		Port:     port,
		Addrs:    []net.IP{net.IPv4(127, 0, 0, 1)},
	}
}

func (f *fakeCollector) accept(t *testing.T) net.Conn {
	t.Helper()
	conn := testutil.RequireReceive(t, f.conns, testTimeout, "waiting for transport to connect")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPacket(t *testing.T, conn net.Conn) *protocol.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	payload, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	packet, err := protocol.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return packet
}

func startTransport(t *testing.T, config Config) *Transport {
	t.Helper()
	transport, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- transport.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, testTimeout, "waiting for Run to return"); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return transport
}

func logPacket(message string) *protocol.Packet {
	return protocol.NewLogPacket(protocol.LogEntry{Level: protocol.LevelInfo, Message: message})
}

func TestNewRequiresEndpointsSource(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without browser or static endpoints succeeded")
	}
	if _, err := New(Config{StaticEndpoints: []string{"no-port"}}); err == nil {
		t.Error("New accepted a static endpoint without a port")
	}
}

func TestSendSaturatesOnParkedFrames(t *testing.T) {
	memory := discovery.NewMemory()
	transport := startTransport(t, Config{Browser: memory, MaxInFlight: 3, OfflineCapacity: 10})

	for i := range 3 {
		if err := transport.Send(logPacket("x")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	testutil.Eventually(t, testTimeout, func() bool { return transport.Stats().Offline == 3 },
		"packets parked offline")
	if stats := transport.Stats(); stats.InFlight != 3 || stats.Queued != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if err := transport.Send(logPacket("x")); !errors.Is(err, ErrSaturated) {
		t.Fatalf("fourth Send = %v, want ErrSaturated", err)
	}

	collector := newFakeCollector(t)
	memory.Add(discovery.ServiceType, discovery.Domain, collector.endpoint())
	conn := collector.accept(t)
	for range 3 {
		readPacket(t, conn)
	}
	testutil.Eventually(t, testTimeout, func() bool { return transport.Stats().InFlight == 0 },
		"flushed frames leaving flight")
	if err := transport.Send(logPacket("x")); err != nil {
		t.Fatalf("Send after flush: %v", err)
	}
}

func TestDefaultQueueOverflowsBeforeSaturating(t *testing.T) {
	transport, err := New(Config{Browser: discovery.NewMemory()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range DefaultMaxInFlight + 10 {
		if err := transport.Send(logPacket("x")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	stats := transport.Stats()
	if stats.Queued != DefaultQueueCapacity || stats.QueueDropped != 10 || stats.InFlight != DefaultQueueCapacity {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestQueueCapacityClampedToMaxInFlight(t *testing.T) {
	transport, err := New(Config{Browser: discovery.NewMemory(), QueueCapacity: 100, MaxInFlight: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 3 {
		if err := transport.Send(logPacket("x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if stats := transport.Stats(); stats.Queued != 2 || stats.QueueDropped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestQueueOverflowReleasesInFlight(t *testing.T) {
	transport, err := New(Config{Browser: discovery.NewMemory(), QueueCapacity: 2, MaxInFlight: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 3 {
		if err := transport.Send(logPacket("x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	stats := transport.Stats()
	if stats.Queued != 2 || stats.QueueDropped != 1 || stats.InFlight != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestOfflineBufferFlushesInOrderAfterPIN(t *testing.T) {
	memory := discovery.NewMemory()
	transport := startTransport(t, Config{
		Browser: memory,
		AuthPIN: "4321",
		Stamp: func(packet *protocol.Packet) {
			packet.Device = &protocol.DeviceInfo{DeviceID: "device-1"}
		},
	})

	for _, message := range []string{"one", "two", "three"} {
		if err := transport.Send(logPacket(message)); err != nil {
			t.Fatalf("Send(%s): %v", message, err)
		}
	}
	testutil.Eventually(t, testTimeout, func() bool { return transport.Stats().Offline == 3 },
		"packets reaching the offline buffer")

	collector := newFakeCollector(t)
	memory.Add(discovery.ServiceType, discovery.Domain, collector.endpoint())
	conn := collector.accept(t)

	auth := readPacket(t, conn)
	if auth.Control == nil || auth.Control.Type != protocol.ControlAuthPIN || auth.Control.AuthPIN != "4321" {
		t.Fatalf("first packet = %+v, want auth PIN", auth)
	}
	if auth.Device == nil || auth.Device.DeviceID != "device-1" {
		t.Errorf("auth PIN not stamped: %+v", auth.Device)
	}
	for _, want := range []string{"one", "two", "three"} {
		packet := readPacket(t, conn)
		if packet.Log == nil || packet.Log.Message != want {
			t.Fatalf("got %+v, want log %q", packet, want)
		}
	}

	// New traffic follows the flushed frames, each exactly once.
	if err := transport.Send(logPacket("four")); err != nil {
		t.Fatalf("Send(four): %v", err)
	}
	if packet := readPacket(t, conn); packet.Log == nil || packet.Log.Message != "four" {
		t.Fatalf("got %+v, want log four", packet)
	}
	testutil.Eventually(t, testTimeout, func() bool {
		stats := transport.Stats()
		return stats.Offline == 0 && stats.Ready == 1 && stats.InFlight == 0 && stats.Sent == 1
	}, "settled stats")
}

func TestOfflineBufferDropsOldest(t *testing.T) {
	memory := discovery.NewMemory()
	transport := startTransport(t, Config{Browser: memory, OfflineCapacity: 2})

	for _, message := range []string{"one", "two", "three"} {
		transport.Send(logPacket(message))
	}
	testutil.Eventually(t, testTimeout, func() bool { return transport.Stats().OfflineDropped == 1 },
		"offline overflow")

	collector := newFakeCollector(t)
	memory.Add(discovery.ServiceType, discovery.Domain, collector.endpoint())
	conn := collector.accept(t)
	for _, want := range []string{"two", "three"} {
		if packet := readPacket(t, conn); packet.Log == nil || packet.Log.Message != want {
			t.Fatalf("got %+v, want log %q", packet, want)
		}
	}
}

func TestReceiveLoopSurvivesUndecodableFrame(t *testing.T) {
	collector := newFakeCollector(t)
	memory := discovery.NewMemory()
	memory.Add(discovery.ServiceType, discovery.Domain, collector.endpoint())

	received := make(chan *protocol.Packet, 4)
	transport := startTransport(t, Config{
		Browser:  memory,
		OnPacket: func(packet *protocol.Packet) { received <- packet },
	})
	conn := collector.accept(t)
	testutil.Eventually(t, testTimeout, func() bool { return transport.Ready() == 1 }, "connection ready")

	if err := protocol.WriteFrame(conn, []byte("{not json")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err := protocol.EncodeFrame(protocol.NewControl(protocol.ControlAppInfoRequest))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	packet := testutil.RequireReceive(t, received, testTimeout, "control packet after bad frame")
	if packet.Control == nil || packet.Control.Type != protocol.ControlAppInfoRequest {
		t.Fatalf("received %+v", packet)
	}
	if transport.Ready() != 1 {
		t.Fatal("undecodable frame closed the connection")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	collector := newFakeCollector(t)
	memory := discovery.NewMemory()
	memory.Add(discovery.ServiceType, discovery.Domain, collector.endpoint())

	var readies atomic.Int32
	transport := startTransport(t, Config{
		Browser: memory,
		Clock:   fake,
		OnReady: func(string) { readies.Add(1) },
	})
	first := collector.accept(t)
	testutil.Eventually(t, testTimeout, func() bool { return transport.Ready() == 1 }, "first connection ready")

	first.Close()
	fake.WaitForTimers(1)
	if transport.Ready() != 0 {
		t.Fatal("dropped connection still ready")
	}
	if fake.Pending() != 1 {
		t.Fatalf("pending timers = %d, want exactly one reconnect", fake.Pending())
	}

	fake.Advance(DefaultReconnectDelay)
	collector.accept(t)
	testutil.Eventually(t, testTimeout, func() bool { return readies.Load() == 2 }, "second connection ready")
}

func TestFramingErrorClosesConnection(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	collector := newFakeCollector(t)
	memory := discovery.NewMemory()
	memory.Add(discovery.ServiceType, discovery.Domain, collector.endpoint())

	transport := startTransport(t, Config{Browser: memory, Clock: fake})
	conn := collector.accept(t)
	testutil.Eventually(t, testTimeout, func() bool { return transport.Ready() == 1 }, "connection ready")

	// A zero length prefix is a framing error.
	if _, err := conn.Write(make([]byte, protocol.FrameHeaderLength)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	fake.WaitForTimers(1)
	if transport.Ready() != 0 {
		t.Fatal("connection survived a framing error")
	}
}

func TestEndpointRemovalClosesWithoutReconnect(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	collector := newFakeCollector(t)
	memory := discovery.NewMemory()
	endpoint := collector.endpoint()
	memory.Add(discovery.ServiceType, discovery.Domain, endpoint)

	transport := startTransport(t, Config{Browser: memory, Clock: fake})
	conn := collector.accept(t)
	testutil.Eventually(t, testTimeout, func() bool { return transport.Ready() == 1 }, "connection ready")

	memory.Remove(discovery.ServiceType, discovery.Domain, endpoint.Key())

	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := protocol.ReadFrame(conn); err == nil {
		t.Fatal("connection to removed endpoint still open")
	}
	testutil.Eventually(t, testTimeout, func() bool { return transport.Stats().Known == 0 && transport.Ready() == 0 },
		"endpoint forgotten")
	if fake.Pending() != 0 {
		t.Fatalf("reconnect scheduled for a removed endpoint (%d timers)", fake.Pending())
	}
}

// failingDialer refuses every connection.
type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string) (net.Conn, error) {
	d.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestConnectFailureRetriesOnce(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	dialer := &failingDialer{}
	startTransport(t, Config{
		StaticEndpoints: []string{"127.0.0.1:43435"},
		Dialer:          dialer,
		Clock:           fake,
	})

	fake.WaitForTimers(1)
	if dialer.calls.Load() != 1 {
		t.Fatalf("dial calls = %d before backoff", dialer.calls.Load())
	}
	fake.Advance(DefaultReconnectDelay)
	fake.WaitForTimers(1)
	if calls := dialer.calls.Load(); calls != 2 {
		t.Fatalf("dial calls = %d after one backoff, want 2", calls)
	}
	if fake.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", fake.Pending())
	}
}

func TestTCPDialerTimeout(t *testing.T) {
	dialer := &TCPDialer{Timeout: time.Millisecond}
	// 192.0.2.0/24 is reserved for documentation and never routed.
	_, err := dialer.DialContext(t.Context(), "192.0.2.1:43435")
	if err == nil {
		t.Fatal("dial to an unroutable address succeeded")
	}
}
