// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/netutil"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// connection is one client connection. The identity and auth fields
// belong to the read goroutine; deviceID is guarded by Publisher.mu.
type connection struct {
	conn     net.Conn
	remoteIP string
	logger   *slog.Logger

	writeMu sync.Mutex

	device        *protocol.DeviceInfo
	project       *protocol.ProjectInfo
	authenticated bool

	deviceID string
}

// write sends one frame. Writes from SendTo, Broadcast, and the session
// may race; writeMu keeps frames whole. A failed write closes the
// connection, which ends its read loop.
func (c *connection) write(frame []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := c.conn.Write(frame); err != nil {
		if netutil.IsTimeout(err) {
			c.logger.Warn("client stopped reading, closing connection", "timeout", timeout)
		} else {
			c.logger.Debug("write failed, closing connection", "error", err)
		}
		c.conn.Close()
		return err
	}
	return nil
}

func (c *connection) close() {
	c.conn.Close()
}

// fillIdentity merges the packet's identity into what the connection
// last reported and writes the merged identity back into the packet.
func (c *connection) fillIdentity(packet *protocol.Packet) {
	c.device = mergeDevice(c.device, packet.Device)
	if c.device != nil && c.device.IPAddress == "" {
		c.device.IPAddress = c.remoteIP
	}
	c.project = mergeProject(c.project, packet.Project)

	if c.device != nil {
		device := *c.device
		packet.Device = &device
	}
	if c.project != nil {
		project := *c.project
		packet.Project = &project
	}
}

func mergeDevice(known, incoming *protocol.DeviceInfo) *protocol.DeviceInfo {
	if incoming == nil {
		return known
	}
	if known == nil || incoming.DeviceID != "" && incoming.DeviceID != known.DeviceID {
		merged := *incoming
		return &merged
	}
	merged := *known
	if incoming.DeviceName != "" {
		merged.DeviceName = incoming.DeviceName
	}
	if incoming.DeviceDescription != "" {
		merged.DeviceDescription = incoming.DeviceDescription
	}
	if incoming.HostName != "" {
		merged.HostName = incoming.HostName
	}
	if incoming.IPAddress != "" {
		merged.IPAddress = incoming.IPAddress
	}
	return &merged
}

func mergeProject(known, incoming *protocol.ProjectInfo) *protocol.ProjectInfo {
	if incoming == nil {
		return known
	}
	if known == nil || incoming.ProjectName != "" && incoming.ProjectName != known.ProjectName {
		merged := *incoming
		return &merged
	}
	merged := *known
	if incoming.AppIcon != "" {
		merged.AppIcon = incoming.AppIcon
	}
	if incoming.BundleID != "" {
		merged.BundleID = incoming.BundleID
	}
	return &merged
}
