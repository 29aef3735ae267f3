// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package carrier assembles a captured HTTP exchange from the
// asynchronous callbacks an interception shim delivers.
//
// A Carrier moves through three states:
//
//	Started ──ReceiveResponse──▶ ResponseReceived ──Finish──▶ Completed
//	   └───────────────────────Finish──────────────────────────┘
//
// Every transition sends a full snapshot of what is known so far, all
// under the same packet ID. The collector merges snapshots by ID, so a
// viewer sees one entry that fills in as the exchange progresses. The
// carrier never waits for a later callback before sending.
//
// Response bytes from ReceiveData accumulate in a private buffer and
// are only sent with the terminal snapshot. Carriers for development
// traffic (the JS bundler, loopback services) are flagged skip-body:
// their buffer is discarded so the client never captures its own
// tooling into a loop.
package carrier

import (
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// DefaultMaxBody caps the captured bytes of each body. Larger bodies
// are truncated so a single download cannot produce an oversized frame.
const DefaultMaxBody = 8 << 20

// ErrCompleted is returned for callbacks that arrive after Finish.
var ErrCompleted = errors.New("carrier: request already completed")

// State is the lifecycle position of a Carrier.
type State int

const (
	StateStarted State = iota + 1
	StateResponseReceived
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateResponseReceived:
		return "response-received"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Sink receives snapshots. transport.Transport and agent.Agent
// implement it.
type Sink interface {
	Send(*protocol.Packet) error
}

// Request is the metadata available when a request starts.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
}

// Config configures a Registry.
type Config struct {
	Sink Sink

	// SkipBody decides which requests are flagged skip-body. Nil
	// selects DefaultSkipBody.
	SkipBody func(*url.URL) bool

	// MaxBody caps captured body bytes; zero selects DefaultMaxBody.
	MaxBody int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Registry tracks in-flight carriers by packet ID.
type Registry struct {
	sink     Sink
	skipBody func(*url.URL) bool
	maxBody  int
	clock    clock.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*Carrier
}

// NewRegistry creates a Registry.
func NewRegistry(config Config) *Registry {
	if config.SkipBody == nil {
		config.SkipBody = DefaultSkipBody
	}
	if config.MaxBody <= 0 {
		config.MaxBody = DefaultMaxBody
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		sink:     config.Sink,
		skipBody: config.SkipBody,
		maxBody:  config.MaxBody,
		clock:    config.Clock,
		logger:   config.Logger,
		active:   make(map[string]*Carrier),
	}
}

// Start registers a carrier for a request that has just been issued
// and sends its first snapshot: request metadata with a pending status.
func (r *Registry) Start(request Request) *Carrier {
	skip := false
	if parsed, err := url.Parse(request.URL); err == nil {
		skip = r.skipBody(parsed)
	}

	c := &Carrier{
		registry: r,
		id:       protocol.NewID(),
		state:    StateStarted,
		skipBody: skip,
		info: protocol.RequestInfo{
			URL:            request.URL,
			Method:         request.Method,
			RequestHeaders: maps.Clone(request.Headers),
			StatusCode:     protocol.StatusPending,
			StartTime:      protocol.At(r.clock.Now()),
		},
	}

	r.mu.Lock()
	r.active[c.id] = c
	r.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked()
	return c
}

// Get returns the active carrier with id.
func (r *Registry) Get(id string) (*Carrier, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[id]
	return c, ok
}

// Active returns the number of carriers still in flight.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Carrier is one in-flight exchange. Its methods are safe for
// concurrent use; shims commonly deliver callbacks on several threads.
type Carrier struct {
	registry *Registry
	id       string
	skipBody bool

	mu    sync.Mutex
	state State
	info  protocol.RequestInfo
	data  []byte
}

// ID returns the packet ID shared by all of this carrier's snapshots.
func (c *Carrier) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Carrier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SkipBody reports whether response bytes are being discarded.
func (c *Carrier) SkipBody() bool { return c.skipBody }

// SetRequestBody records the request body. Some HTTP stacks only make
// it readable once the request is underway; it is sent with the next
// snapshot.
func (c *Carrier) SetRequestBody(body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCompleted {
		return
	}
	c.info.RequestBody = truncate(body, c.registry.maxBody)
}

// ReceiveResponse records the response status and headers and sends a
// snapshot. It is valid only once, before Finish.
func (c *Carrier) ReceiveResponse(status int, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateCompleted:
		return ErrCompleted
	case StateResponseReceived:
		return errors.New("carrier: response already received")
	}
	c.state = StateResponseReceived
	c.info.StatusCode = protocol.HTTPStatus(status)
	c.info.ResponseHeaders = maps.Clone(headers)
	return c.emitLocked()
}

// ReceiveData appends a chunk of the response body. Nothing is sent.
func (c *Carrier) ReceiveData(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCompleted || c.skipBody {
		return
	}
	room := c.registry.maxBody - len(c.data)
	if room <= 0 {
		return
	}
	if len(chunk) > room {
		chunk = chunk[:room]
	}
	c.data = append(c.data, chunk...)
}

// Finish completes the exchange and sends the terminal snapshot, then
// removes the carrier from its registry. A non-nil err marks a
// transport failure; so does finishing without a response.
func (c *Carrier) Finish(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCompleted {
		return ErrCompleted
	}
	c.state = StateCompleted
	c.info.EndTime = protocol.At(c.registry.clock.Now())
	if err != nil || !c.info.StatusCode.IsFinal() {
		c.info.StatusCode = protocol.StatusError
	}
	if c.skipBody {
		c.data = nil
	}
	c.info.ResponseData = c.data
	sendErr := c.emitLocked()
	c.registry.remove(c.id)
	return sendErr
}

func (c *Carrier) emitLocked() error {
	packet := protocol.NewRequestPacket(c.id, c.info.Clone())
	if err := c.registry.sink.Send(packet); err != nil {
		c.registry.logger.Debug("request snapshot dropped",
			"id", c.id, "state", c.state.String(), "error", err)
		return err
	}
	return nil
}

// DefaultSkipBody flags React Native bundler traffic and loopback
// services. The bundler serves multi-megabyte bundles and source maps
// and receives the client's own symbolication requests.
func DefaultSkipBody(u *url.URL) bool {
	if u == nil {
		return false
	}
	switch u.Port() {
	case "8081", "8097", "19000", "19001":
		return true
	}
	for _, suffix := range []string{".bundle", ".map", "/symbolicate", "/logs", "/hot"} {
		if strings.HasSuffix(u.Path, suffix) {
			return true
		}
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func truncate(data []byte, limit int) []byte {
	if data == nil {
		return nil
	}
	if len(data) > limit {
		data = data[:limit]
	}
	return append([]byte(nil), data...)
}
