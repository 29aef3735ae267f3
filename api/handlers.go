// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thanhcuong1990/Snag-sub000/lib/codec"
	"github.com/thanhcuong1990/Snag-sub000/session"
)

func (s *Server) snapshot(c *gin.Context) {
	s.respond(c, http.StatusOK, s.session.Snapshot())
}

func (s *Server) clearAll(c *gin.Context) {
	s.session.Clear()
	c.Status(http.StatusNoContent)
}

func (s *Server) selection(c *gin.Context) {
	s.respond(c, http.StatusOK, s.session.Selection())
}

func (s *Server) selectProject(c *gin.Context) {
	if err := s.session.SelectProject(c.Param("project")); err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, s.session.Selection())
}

func (s *Server) device(c *gin.Context) {
	device, err := s.session.Device(c.Param("project"), c.Param("device"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, device)
}

func (s *Server) packets(c *gin.Context) {
	packets, err := s.session.Packets(c.Param("project"), c.Param("device"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, packets)
}

func (s *Server) logs(c *gin.Context) {
	bucket, err := session.ParseBucket(c.Param("bucket"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logs, err := s.session.Logs(c.Param("project"), c.Param("device"), bucket)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, logs)
}

func (s *Server) selectDevice(c *gin.Context) {
	if err := s.session.SelectDevice(c.Param("project"), c.Param("device")); err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, s.session.Selection())
}

func (s *Server) selectPacket(c *gin.Context) {
	if err := s.session.SelectPacket(c.Param("project"), c.Param("device"), c.Param("packet")); err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, s.session.Selection())
}

func (s *Server) clearDevice(c *gin.Context) {
	if err := s.session.ClearDevice(c.Param("project"), c.Param("device")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// streamingRequest is the optional JSON or CBOR body of POST
// .../log-streaming. An empty body toggles.
type streamingRequest struct {
	Enabled *bool `json:"enabled"`
}

type streamingResponse struct {
	Streaming bool   `json:"streaming"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) logStreaming(c *gin.Context) {
	project, deviceID := c.Param("project"), c.Param("device")

	var request streamingRequest
	if c.Request.ContentLength != 0 {
		var err error
		if c.ContentType() == codec.ContentType {
			err = codec.NewDecoder(c.Request.Body).Decode(&request)
		} else {
			err = c.ShouldBindJSON(&request)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	device, err := s.session.Device(project, deviceID)
	if err != nil {
		s.fail(c, err)
		return
	}

	stream := !device.StreamingLogs
	if request.Enabled != nil {
		stream = *request.Enabled
		err = s.session.SetLogStreaming(project, deviceID, stream)
	} else {
		stream, err = s.session.ToggleLogStreaming(project, deviceID)
	}

	// The flag is stored even when the device cannot be told.
	response := streamingResponse{Streaming: stream, Delivered: err == nil}
	if err != nil {
		response.Error = err.Error()
		s.logger.Warn("log streaming change not delivered", "project", project, "device", deviceID, "error", err)
	}
	s.respond(c, http.StatusOK, response)
}
