// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/lib/discovery"
	"github.com/thanhcuong1990/Snag-sub000/lib/netutil"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

const (
	DefaultQueueCapacity   = 500
	DefaultOfflineCapacity = 50
	DefaultMaxInFlight     = 500
	DefaultReconnectDelay  = time.Second
	DefaultConnectTimeout  = 1500 * time.Millisecond
	DefaultWriteTimeout    = 5 * time.Second
)

var (
	// ErrSaturated is returned by Send when MaxInFlight packets are
	// already accepted and not yet written and the queue is not full.
	ErrSaturated = errors.New("transport: too many packets in flight")

	// ErrClosed is returned by Send after Run has returned.
	ErrClosed = errors.New("transport: closed")
)

// Config configures a Transport. Zero values select the defaults.
type Config struct {
	// ServiceType and Domain select the collector service to browse.
	ServiceType string
	Domain      string

	// Browser finds collectors. Nil disables discovery; then
	// StaticEndpoints must be set.
	Browser discovery.Browser

	// StaticEndpoints are host:port collector addresses used in
	// addition to discovered ones.
	StaticEndpoints []string

	// Dialer opens connections. Nil selects a TCPDialer using
	// ConnectTimeout and TLS.
	Dialer Dialer

	// TLS, when non-nil, encrypts connections made by the default
	// dialer. See lib/tlsutil.ClientConfig.
	TLS *tls.Config

	// AuthPIN, when set, is presented to each collector before any
	// other traffic.
	AuthPIN string

	// Stamp, when set, is applied to the packets the transport creates
	// itself (the auth PIN) so they carry the sender's identity.
	Stamp func(*protocol.Packet)

	QueueCapacity   int
	OfflineCapacity int
	MaxInFlight     int
	ReconnectDelay  time.Duration
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration

	// OnPacket receives every packet a collector sends. It is called
	// from the connection's read goroutine, so calls for different
	// connections may be concurrent.
	OnPacket func(*protocol.Packet)

	// OnReady is called with the collector address each time a
	// connection becomes ready.
	OnReady func(address string)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats is a point-in-time view of a Transport.
type Stats struct {
	Known    int // endpoints currently advertised
	Ready    int // connections accepting traffic
	Queued   int // packets waiting for the send worker
	Offline  int // frames held for the next connection
	InFlight int // packets accepted and not yet written, offline frames included

	Sent           uint64 // packets written to at least one connection
	QueueDropped   uint64 // packets evicted from a full queue
	OfflineDropped uint64 // frames evicted from a full offline buffer
}

// Transport streams packets to collectors.
type Transport struct {
	serviceType    string
	domain         string
	browser        discovery.Browser
	static         []string
	dialer         Dialer
	authPIN        string
	stamp          func(*protocol.Packet)
	maxInFlight    int64
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	onPacket       func(*protocol.Packet)
	onReady        func(string)
	clock          clock.Clock
	logger         *slog.Logger

	queue    *Buffer[*protocol.Packet]
	offline  *Buffer[[]byte]
	inFlight atomic.Int64
	sent     atomic.Uint64
	closed   atomic.Bool

	// writeMu serializes every frame write. A connection flushes the
	// offline buffer and becomes ready while holding it, so the send
	// worker cannot interleave new traffic ahead of buffered frames.
	writeMu sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	endpoints   map[string]discovery.Endpoint
	connections map[string]*connection
	reconnects  map[string]clock.Timer
	wg          sync.WaitGroup
}

// New creates a Transport. Call Run to start it; Send may be called
// before Run, and packets sent early are delivered once a collector is
// reachable.
func New(config Config) (*Transport, error) {
	if config.Browser == nil && len(config.StaticEndpoints) == 0 {
		return nil, errors.New("transport: no browser and no static endpoints")
	}
	for _, address := range config.StaticEndpoints {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return nil, fmt.Errorf("transport: static endpoint %q: %w", address, err)
		}
	}
	if config.ServiceType == "" {
		config.ServiceType = discovery.ServiceType
	}
	if config.Domain == "" {
		config.Domain = discovery.Domain
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = DefaultQueueCapacity
	}
	if config.OfflineCapacity <= 0 {
		config.OfflineCapacity = DefaultOfflineCapacity
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	// The queue overflows by dropping its oldest packet; a queue longer
	// than MaxInFlight would saturate first and never overflow.
	config.QueueCapacity = min(config.QueueCapacity, config.MaxInFlight)
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Dialer == nil {
		config.Dialer = &TCPDialer{Timeout: config.ConnectTimeout, TLS: config.TLS}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &Transport{
		serviceType:    config.ServiceType,
		domain:         config.Domain,
		browser:        config.Browser,
		static:         config.StaticEndpoints,
		dialer:         config.Dialer,
		authPIN:        config.AuthPIN,
		stamp:          config.Stamp,
		maxInFlight:    int64(config.MaxInFlight),
		reconnectDelay: config.ReconnectDelay,
		writeTimeout:   config.WriteTimeout,
		onPacket:       config.OnPacket,
		onReady:        config.OnReady,
		clock:          config.Clock,
		logger:         config.Logger,
		queue:          NewBuffer[*protocol.Packet](config.QueueCapacity),
		offline:        NewBuffer[[]byte](config.OfflineCapacity),
		endpoints:      make(map[string]discovery.Endpoint),
		connections:    make(map[string]*connection),
		reconnects:     make(map[string]clock.Timer),
	}, nil
}

// Send queues packet for delivery. It never blocks. When the queue is
// full the oldest queued packet is dropped to make room. Otherwise,
// when MaxInFlight packets are already accepted and not yet written
// (queued, being written, or parked in the offline buffer), Send
// returns ErrSaturated. The caller must not modify packet afterwards.
func (t *Transport) Send(packet *protocol.Packet) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if !t.queue.Full() && t.inFlight.Load() >= t.maxInFlight {
		return ErrSaturated
	}
	if !t.queue.Push(packet) {
		// An eviction swaps one pending packet for another.
		t.inFlight.Add(1)
	}
	return nil
}

// Run discovers collectors and delivers packets until ctx is done. It
// closes every connection before returning.
func (t *Transport) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.ctx != nil {
		t.mu.Unlock()
		return errors.New("transport: Run called twice")
	}
	t.ctx = ctx
	t.mu.Unlock()
	defer func() {
		cancel()
		t.shutdown()
	}()

	var discovered, static <-chan discovery.Event
	var err error
	if t.browser != nil {
		discovered, err = t.browser.Browse(ctx, t.serviceType, t.domain)
		if err != nil {
			return fmt.Errorf("browsing for collectors: %w", err)
		}
	}
	if len(t.static) > 0 {
		static, err = discovery.Static(t.static...).Browse(ctx, t.serviceType, t.domain)
		if err != nil {
			return fmt.Errorf("static endpoints: %w", err)
		}
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runSender(ctx)
	}()

	for {
		select {
		case event, ok := <-discovered:
			if !ok {
				discovered = nil
				continue
			}
			t.handleEvent(event)
		case event, ok := <-static:
			if !ok {
				static = nil
				continue
			}
			t.handleEvent(event)
		case <-ctx.Done():
			return nil
		}
	}
}

// Ready returns the number of connections accepting traffic.
func (t *Transport) Ready() int {
	return len(t.readyConnections())
}

// Stats returns current counters.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	known := len(t.endpoints)
	t.mu.Unlock()
	return Stats{
		Known:          known,
		Ready:          t.Ready(),
		Queued:         t.queue.Len(),
		Offline:        t.offline.Len(),
		InFlight:       int(t.inFlight.Load()),
		Sent:           t.sent.Load(),
		QueueDropped:   t.queue.Dropped(),
		OfflineDropped: t.offline.Dropped(),
	}
}

func (t *Transport) shutdown() {
	t.mu.Lock()
	t.closed.Store(true)
	for key, timer := range t.reconnects {
		timer.Stop()
		delete(t.reconnects, key)
	}
	for _, c := range t.connections {
		c.close()
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Transport) handleEvent(event discovery.Event) {
	key := event.Endpoint.Key()
	switch event.Kind {
	case discovery.EndpointAdded:
		t.logger.Debug("collector appeared", "instance", key, "address", event.Endpoint.Address())
		t.mu.Lock()
		t.endpoints[key] = event.Endpoint
		t.mu.Unlock()
		t.connect(event.Endpoint)

	case discovery.EndpointRemoved:
		t.logger.Debug("collector went away", "instance", key)
		t.mu.Lock()
		delete(t.endpoints, key)
		if timer, scheduled := t.reconnects[key]; scheduled {
			timer.Stop()
			delete(t.reconnects, key)
		}
		c := t.connections[key]
		t.mu.Unlock()
		if c != nil {
			c.close()
		}
	}
}

// connect starts a connection attempt unless one is already open or in
// progress for the endpoint.
func (t *Transport) connect(endpoint discovery.Endpoint) {
	key := endpoint.Key()

	t.mu.Lock()
	if t.closed.Load() || t.ctx == nil {
		t.mu.Unlock()
		return
	}
	if _, busy := t.connections[key]; busy {
		t.mu.Unlock()
		return
	}
	c := &connection{
		key:      key,
		endpoint: endpoint,
		logger:   t.logger.With("collector", endpoint.Address()),
	}
	t.connections[key] = c
	t.wg.Add(1)
	ctx := t.ctx
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.runConnection(ctx, c)
	}()
}

// scheduleReconnect arranges one connection attempt after
// ReconnectDelay, if the endpoint is still known and nothing is
// connected, connecting, or already scheduled for it.
func (t *Transport) scheduleReconnect(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return
	}
	if _, known := t.endpoints[key]; !known {
		return
	}
	if _, busy := t.connections[key]; busy {
		return
	}
	if _, scheduled := t.reconnects[key]; scheduled {
		return
	}
	t.reconnects[key] = t.clock.AfterFunc(t.reconnectDelay, func() {
		t.mu.Lock()
		delete(t.reconnects, key)
		endpoint, known := t.endpoints[key]
		t.mu.Unlock()
		if known {
			t.connect(endpoint)
		}
	})
}

func (t *Transport) runConnection(ctx context.Context, c *connection) {
	defer t.connectionEnded(c)

	address := c.endpoint.Address()
	conn, err := t.dialer.DialContext(ctx, address)
	if err != nil {
		c.logger.Debug("connect failed", "error", err)
		return
	}
	if !c.attach(conn) {
		conn.Close()
		return
	}
	defer c.close()

	if err := t.handshake(c); err != nil {
		c.logger.Warn("collector handshake failed", "error", err)
		return
	}
	c.logger.Info("connected to collector")
	if t.onReady != nil {
		t.onReady(address)
	}

	err = t.readLoop(c, conn)
	if netutil.IsExpectedCloseError(err) || ctx.Err() != nil {
		c.logger.Debug("collector connection closed", "error", err)
	} else {
		c.logger.Warn("collector connection failed", "error", err)
	}
}

// handshake presents the auth PIN, flushes the offline buffer, and
// marks the connection ready, all before any new traffic is written.
func (t *Transport) handshake(c *connection) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.authPIN != "" {
		packet := protocol.NewAuthPIN(t.authPIN)
		if t.stamp != nil {
			t.stamp(packet)
		}
		frame, err := protocol.EncodeFrame(packet)
		if err != nil {
			return err
		}
		if err := c.write(frame, t.writeTimeout); err != nil {
			return fmt.Errorf("sending auth PIN: %w", err)
		}
	}

	flushed := 0
	for {
		frame, ok := t.offline.Peek()
		if !ok {
			break
		}
		if err := c.write(frame, t.writeTimeout); err != nil {
			return fmt.Errorf("flushing offline buffer: %w", err)
		}
		t.offline.Pop()
		t.inFlight.Add(-1)
		flushed++
	}
	if flushed > 0 {
		c.logger.Debug("flushed offline buffer", "frames", flushed)
	}

	c.markReady()
	return nil
}

func (t *Transport) readLoop(c *connection, conn net.Conn) error {
	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return err
		}
		packet, err := protocol.Decode(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err, "bytes", len(payload))
			continue
		}
		if t.onPacket != nil {
			t.onPacket(packet)
		}
	}
}

func (t *Transport) connectionEnded(c *connection) {
	t.mu.Lock()
	if t.connections[c.key] == c {
		delete(t.connections, c.key)
	}
	t.mu.Unlock()
	t.scheduleReconnect(c.key)
}

func (t *Transport) runSender(ctx context.Context) {
	for {
		select {
		case <-t.queue.Notify():
		case <-ctx.Done():
			return
		}
		for {
			packet, ok := t.queue.Pop()
			if !ok {
				break
			}
			if !t.deliver(packet) {
				t.inFlight.Add(-1)
			}
		}
	}
}

// deliver writes one packet to every ready connection, or to the
// offline buffer when none accepts it. It reports whether the packet
// was parked offline and so is still in flight.
func (t *Transport) deliver(packet *protocol.Packet) (parked bool) {
	frame, err := protocol.EncodeFrame(packet)
	if err != nil {
		t.logger.Warn("dropping unencodable packet", "id", packet.ID, "error", err)
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	delivered := false
	for _, c := range t.readyConnections() {
		if err := c.write(frame, t.writeTimeout); err != nil {
			if netutil.IsTimeout(err) {
				c.logger.Warn("collector stopped reading, closing connection", "timeout", t.writeTimeout)
			} else {
				c.logger.Debug("write failed, closing connection", "error", err)
			}
			c.close()
			continue
		}
		delivered = true
	}
	if !delivered {
		if t.offline.Push(frame) {
			t.inFlight.Add(-1)
			t.logger.Debug("offline buffer full, dropped oldest frame")
		}
		return true
	}
	t.sent.Add(1)
	return false
}

func (t *Transport) readyConnections() []*connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	ready := make([]*connection, 0, len(t.connections))
	for _, c := range t.connections {
		if c.isReady() {
			ready = append(ready, c)
		}
	}
	return ready
}

// connection is one collector connection, from dial to close.
type connection struct {
	key      string
	endpoint discovery.Endpoint
	logger   *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	ready  bool
	closed bool
}

// attach records the dialed conn unless the connection was closed
// while dialing.
func (c *connection) attach(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *connection) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.ready = true
	}
}

func (c *connection) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// write sends one frame. Callers hold Transport.writeMu.
func (c *connection) write(frame []byte, timeout time.Duration) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := conn.Write(frame)
	return err
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.ready = false
	if c.conn != nil {
		c.conn.Close()
	}
}
