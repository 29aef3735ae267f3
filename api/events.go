// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thanhcuong1990/Snag-sub000/lib/codec"
	"github.com/thanhcuong1990/Snag-sub000/session"
)

// hello is the first message on an event stream. Events that happen
// after it are delivered; earlier state comes from GET /api/v1/projects.
type hello struct {
	Kind      string            `json:"kind"`
	Selection session.Selection `json:"selection"`
}

func (s *Server) streamEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	binary := c.Query("format") == "cbor"

	events, cancel := s.session.Subscribe(s.eventBuffer)
	defer cancel()

	remote := conn.RemoteAddr().String()
	s.logger.Info("event stream opened", "remote", remote)
	defer s.logger.Info("event stream closed", "remote", remote)

	if err := s.write(conn, binary, hello{Kind: "hello", Selection: s.session.Selection()}); err != nil {
		return
	}

	// The client sends nothing; reading surfaces its close and
	// processes pongs.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return

		case <-s.closing:
			deadline := time.Now().Add(s.writeTimeout)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "collector shutting down"), deadline)
			return

		case <-s.clock.After(s.pingInterval):
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return
			}

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.write(conn, binary, event); err != nil {
				s.logger.Debug("event stream write failed", "remote", remote, "error", err)
				return
			}
		}
	}
}

// write sends one message as a JSON text frame, or as a CBOR binary
// frame on streams opened with ?format=cbor.
func (s *Server) write(conn *websocket.Conn, binary bool, message any) error {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if !binary {
		return conn.WriteJSON(message)
	}
	w, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := codec.NewEncoder(w).Encode(message); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
