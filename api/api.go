// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes a session over HTTP for presentation layers.
//
// Reads return copies of the aggregation tree as JSON, or CBOR when the
// request sends "Accept: application/cbor". Commands (selection, clear,
// log streaming) are POSTs. GET /api/v1/events upgrades to a WebSocket
// that first sends a hello message carrying the current selection and
// then one JSON session.Event per change.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/lib/codec"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
	"github.com/thanhcuong1990/Snag-sub000/session"
)

const (
	DefaultEventBuffer  = 256
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Session is the part of session.Collector the API drives.
type Session interface {
	Snapshot() session.Snapshot
	Projects() []session.Project
	Selection() session.Selection
	Device(project, device string) (session.Device, error)
	Packets(project, device string) ([]*protocol.Packet, error)
	Logs(project, device string, bucket session.Bucket) ([]protocol.LogEntry, error)

	SelectProject(project string) error
	SelectDevice(project, device string) error
	SelectPacket(project, device, packetID string) error
	ClearDevice(project, device string) error
	Clear()
	SetLogStreaming(project, device string, stream bool) error
	ToggleLogStreaming(project, device string) (bool, error)

	Subscribe(buffer int) (<-chan session.Event, func())
}

// Config configures a Server.
type Config struct {
	Session Session

	// EventBuffer is the per-stream subscription buffer. A client that
	// falls further behind loses events.
	EventBuffer int

	PingInterval time.Duration
	WriteTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server serves the presentation API.
type Server struct {
	session      Session
	eventBuffer  int
	pingInterval time.Duration
	writeTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	router   *gin.Engine
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

// New builds the router.
func New(config Config) *Server {
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		session:      config.Session,
		eventBuffer:  config.EventBuffer,
		pingInterval: config.PingInterval,
		writeTimeout: config.WriteTimeout,
		clock:        config.Clock,
		logger:       config.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests)

	v1 := router.Group("/api/v1")
	v1.GET("/projects", s.snapshot)
	v1.DELETE("/projects", s.clearAll)
	v1.GET("/selection", s.selection)
	v1.POST("/projects/:project/select", s.selectProject)
	v1.GET("/events", s.streamEvents)

	device := v1.Group("/projects/:project/devices/:device")
	device.GET("", s.device)
	device.GET("/packets", s.packets)
	device.GET("/logs/:bucket", s.logs)
	device.POST("/select", s.selectDevice)
	device.POST("/packets/:packet/select", s.selectPacket)
	device.POST("/clear", s.clearDevice)
	device.POST("/log-streaming", s.logStreaming)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve serves HTTP on listener until ctx is done, then shuts down and
// closes event streams.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() { errs <- server.Serve(listener) }()
	s.logger.Info("api listening", "address", listener.Addr().String())

	select {
	case err := <-errs:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends every open event stream.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	level := slog.LevelDebug
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	s.logger.Log(c.Request.Context(), level, "api request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

// respond writes body as CBOR when the client accepts it, JSON
// otherwise.
func (s *Server) respond(c *gin.Context, status int, body any) {
	if strings.Contains(c.GetHeader("Accept"), codec.ContentType) {
		data, err := codec.Marshal(body)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Data(status, codec.ContentType, data)
		return
	}
	c.JSON(status, body)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrUnknownProject),
		errors.Is(err, session.ErrUnknownDevice),
		errors.Is(err, session.ErrUnknownPacket):
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
