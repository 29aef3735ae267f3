// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package publisher is the collector side of the Snag wire protocol.
//
// A Publisher listens for client connections, advertises itself
// through discovery, and hands every decoded packet to a Handler on the
// connection's own goroutine before reading the next frame. A slow
// handler therefore throttles only the connection that feeds it.
//
// Clients send their device and project identity on the first packet
// of a connection and may omit it afterwards; the publisher remembers
// the last identity seen on each connection and fills it into packets
// that leave it out. The same identity keys the deviceId → connection
// map behind SendTo.
//
// When an auth PIN is configured, a connection is unauthenticated until
// it sends an authPIN control packet with the matching PIN. Packets
// from an unauthenticated connection are still delivered, flagged
// Unauthenticated, so the session can show the device as locked.
package publisher

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/discovery"
	"github.com/thanhcuong1990/Snag-sub000/lib/netutil"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// DefaultWriteTimeout bounds each frame write to a client.
const DefaultWriteTimeout = 5 * time.Second

var (
	// ErrUnknownDevice is returned by SendTo when no open connection
	// has reported the device ID.
	ErrUnknownDevice = errors.New("publisher: no connection for device")

	// ErrClosed is returned by Serve after Close.
	ErrClosed = errors.New("publisher: closed")
)

// Handler receives every packet a client sends. HandlePacket is called
// synchronously from the connection's read goroutine; calls for
// different connections may be concurrent.
type Handler interface {
	HandlePacket(*protocol.Packet)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(*protocol.Packet)

func (f HandlerFunc) HandlePacket(packet *protocol.Packet) { f(packet) }

// Config configures a Publisher.
type Config struct {
	// Address is the TCP listen address. Defaults to ":43435".
	Address string

	// TLS, when non-nil, wraps every connection. See
	// lib/tlsutil.ServerConfig.
	TLS *tls.Config

	// AuthPIN, when set, gates connections until they present it.
	AuthPIN string

	// Advertiser registers the collector for discovery. Nil disables
	// advertising.
	Advertiser discovery.Advertiser

	ServiceType string
	Domain      string

	// InstanceName is the advertised instance. Defaults to the host
	// name.
	InstanceName string

	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Publisher accepts client connections.
type Publisher struct {
	listener     net.Listener
	authPIN      string
	advertiser   discovery.Advertiser
	service      discovery.Service
	writeTimeout time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	connections map[*connection]struct{}
	devices     map[string]*connection
	closed      bool

	activeConnections sync.WaitGroup
}

// New binds the listen address. Clients can connect as soon as New
// returns; their packets are read once Serve runs.
func New(config Config) (*Publisher, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", discovery.DefaultPort)
	}
	if config.ServiceType == "" {
		config.ServiceType = discovery.ServiceType
	}
	if config.Domain == "" {
		config.Domain = discovery.Domain
	}
	if config.InstanceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "snag-collector"
		}
		config.InstanceName = hostname
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", config.Address, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if config.TLS != nil {
		listener = tls.NewListener(listener, config.TLS)
	}

	return &Publisher{
		listener:   listener,
		authPIN:    config.AuthPIN,
		advertiser: config.Advertiser,
		service: discovery.Service{
			Instance: config.InstanceName,
			Type:     config.ServiceType,
			Domain:   config.Domain,
			Port:     port,
			Text:     []string{"protocol=1", fmt.Sprintf("tls=%t", config.TLS != nil)},
		},
		writeTimeout: config.WriteTimeout,
		logger:       config.Logger,
		connections:  make(map[*connection]struct{}),
		devices:      make(map[string]*connection),
	}, nil
}

// Address returns the bound listen address.
func (p *Publisher) Address() string {
	return p.listener.Addr().String()
}

// Serve advertises the collector and accepts connections until ctx is
// done or Close is called. It closes every connection and waits for
// their goroutines before returning.
func (p *Publisher) Serve(ctx context.Context, handler Handler) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.advertiser != nil {
		stop, err := p.advertiser.Advertise(ctx, p.service)
		if err != nil {
			p.logger.Warn("advertising failed; clients must be pointed at the collector directly", "error", err)
		} else {
			defer stop()
		}
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()

	p.logger.Info("collector listening", "address", p.Address(), "instance", p.service.Instance, "auth", p.authPIN != "")

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			p.logger.Error("accept failed", "error", err)
			continue
		}

		c := p.track(conn)
		if c == nil {
			conn.Close()
			break
		}
		p.activeConnections.Add(1)
		go func() {
			defer p.activeConnections.Done()
			p.handleConnection(c, handler)
		}()
	}

	p.mu.Lock()
	p.closed = true
	for c := range p.connections {
		c.close()
	}
	p.mu.Unlock()

	p.activeConnections.Wait()
	return nil
}

// Close stops Serve.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	err := p.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Connections returns the number of open client connections.
func (p *Publisher) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// SendTo writes packet to the connection that most recently reported
// deviceID.
func (p *Publisher) SendTo(deviceID string, packet *protocol.Packet) error {
	frame, err := protocol.EncodeFrame(packet)
	if err != nil {
		return err
	}
	p.mu.Lock()
	c, ok := p.devices[deviceID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return c.write(frame, p.writeTimeout)
}

// Broadcast writes packet to every open connection. It returns the
// joined errors of the connections that failed.
func (p *Publisher) Broadcast(packet *protocol.Packet) error {
	frame, err := protocol.EncodeFrame(packet)
	if err != nil {
		return err
	}
	p.mu.Lock()
	targets := make([]*connection, 0, len(p.connections))
	for c := range p.connections {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	var errs []error
	for _, c := range targets {
		if err := c.write(frame, p.writeTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) track(conn net.Conn) *connection {
	c := &connection{
		conn:          conn,
		logger:        p.logger.With("remote", conn.RemoteAddr().String()),
		authenticated: p.authPIN == "",
	}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		c.remoteIP = addr.IP.String()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.connections[c] = struct{}{}
	return c
}

func (p *Publisher) untrack(c *connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.connections, c)
	if c.deviceID != "" && p.devices[c.deviceID] == c {
		delete(p.devices, c.deviceID)
	}
}

// route points deviceID at c.
func (p *Publisher) route(c *connection, deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.deviceID == deviceID {
		p.devices[deviceID] = c
		return
	}
	if c.deviceID != "" && p.devices[c.deviceID] == c {
		delete(p.devices, c.deviceID)
	}
	c.deviceID = deviceID
	p.devices[deviceID] = c
}

func (p *Publisher) handleConnection(c *connection, handler Handler) {
	defer p.untrack(c)
	defer c.close()

	c.logger.Info("client connected")
	for {
		payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			var framing *protocol.FramingError
			switch {
			case errors.As(err, &framing):
				c.logger.Warn("closing connection on framing error", "error", err)
			case netutil.IsExpectedCloseError(err):
				c.logger.Info("client disconnected")
			default:
				c.logger.Warn("client connection failed", "error", err)
			}
			return
		}

		packet, err := protocol.Decode(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err, "bytes", len(payload))
			continue
		}

		c.fillIdentity(packet)
		if packet.Device != nil && packet.Device.DeviceID != "" {
			p.route(c, packet.Device.DeviceID)
		}
		if p.consumeAuth(c, packet) {
			continue
		}
		handler.HandlePacket(packet)
	}
}

// consumeAuth applies the PIN gate. It reports whether the packet was
// an accepted PIN, which is not forwarded.
func (p *Publisher) consumeAuth(c *connection, packet *protocol.Packet) bool {
	isPIN := packet.Control != nil && packet.Control.Type == protocol.ControlAuthPIN
	if p.authPIN == "" {
		return isPIN
	}
	if isPIN {
		if subtle.ConstantTimeCompare([]byte(packet.Control.AuthPIN), []byte(p.authPIN)) == 1 {
			if !c.authenticated {
				c.logger.Info("client authenticated")
			}
			c.authenticated = true
			return true
		}
		c.logger.Warn("client offered a wrong PIN")
	}
	if !c.authenticated {
		packet.Unauthenticated = true
	}
	return false
}
