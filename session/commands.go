// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// SelectProject focuses the named project and its selected device.
func (c *Collector) SelectProject(projectName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	project, _, err := c.lookup(projectName, "")
	if err != nil {
		return err
	}
	c.selectedProject = projectName
	c.events.publish([]Event{{Kind: EventProjectSelected, Project: projectName, Device: project.selectedDevice}})
	return nil
}

// SelectDevice focuses a device within its project and makes the project
// current.
func (c *Collector) SelectDevice(projectName, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	project, _, err := c.lookup(projectName, deviceID)
	if err != nil {
		return err
	}
	project.selectedDevice = deviceID
	c.selectedProject = projectName
	c.events.publish([]Event{{Kind: EventDeviceSelected, Project: projectName, Device: deviceID}})
	return nil
}

// SelectPacket focuses one request entry on a device.
func (c *Collector) SelectPacket(projectName, deviceID, packetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, device, err := c.lookup(projectName, deviceID)
	if err != nil {
		return err
	}
	if _, ok := device.index[packetID]; !ok {
		return fmt.Errorf("%w: %s on device %s", ErrUnknownPacket, packetID, deviceID)
	}
	device.selectedPacket = packetID
	c.events.publish([]Event{{Kind: EventPacketSelected, Project: projectName, Device: deviceID, PacketID: packetID}})
	return nil
}

// ClearDevice discards a device's packets and logs. The device itself
// stays listed with its identity and streaming state.
func (c *Collector) ClearDevice(projectName, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, device, err := c.lookup(projectName, deviceID)
	if err != nil {
		return err
	}
	device.clear()
	c.logger.Info("device cleared", "project", projectName, "device", deviceID)
	c.events.publish([]Event{{Kind: EventDeviceCleared, Project: projectName, Device: deviceID}})
	return nil
}

// Clear removes every project and device.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []Event
	for _, projectName := range c.order {
		for _, deviceID := range c.projects[projectName].order {
			events = append(events, Event{Kind: EventDeviceCleared, Project: projectName, Device: deviceID})
		}
	}
	clear(c.projects)
	c.order = nil
	c.selectedProject = ""
	c.logger.Info("session cleared")
	c.events.publish(events)
}

// SetLogStreaming records whether a device should forward logs and
// tells the device. The flag is stored even when the device cannot be
// reached; the error reports the failed delivery.
func (c *Collector) SetLogStreaming(projectName, deviceID string, stream bool) error {
	c.mu.Lock()
	_, device, err := c.lookup(projectName, deviceID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setStreamingLocked(projectName, device, stream)
	c.mu.Unlock()

	return c.deliver([]outbound{{deviceID, protocol.NewLogStreamingControl(stream)}})
}

// ToggleLogStreaming flips a device's streaming flag and returns the new
// value.
func (c *Collector) ToggleLogStreaming(projectName, deviceID string) (bool, error) {
	c.mu.Lock()
	_, device, err := c.lookup(projectName, deviceID)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	stream := !device.streaming
	c.setStreamingLocked(projectName, device, stream)
	c.mu.Unlock()

	return stream, c.deliver([]outbound{{deviceID, protocol.NewLogStreamingControl(stream)}})
}

func (c *Collector) setStreamingLocked(projectName string, device *DeviceNode, stream bool) {
	if device.streaming == stream {
		return
	}
	device.streaming = stream
	c.logger.Info("log streaming changed", "project", projectName, "device", device.info.DeviceID, "streaming", stream)
	c.events.publish([]Event{{Kind: EventDeviceUpdated, Project: projectName, Device: device.info.DeviceID}})
}

// Projects lists every project with device summaries, in the order they
// were first seen.
func (c *Collector) Projects() []Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	projects := make([]Project, 0, len(c.order))
	for _, name := range c.order {
		projects = append(projects, c.projects[name].view(false))
	}
	return projects
}

// Snapshot returns a deep copy of the tree including every stored
// packet and log.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := Snapshot{
		Projects:  make([]Project, 0, len(c.order)),
		Selection: c.selectionLocked(),
	}
	for _, name := range c.order {
		snapshot.Projects = append(snapshot.Projects, c.projects[name].view(true))
	}
	return snapshot
}

// Device returns a summary of one device.
func (c *Collector) Device(projectName, deviceID string) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, device, err := c.lookup(projectName, deviceID)
	if err != nil {
		return Device{}, err
	}
	return device.view(false), nil
}

// Packets returns copies of a device's request entries, oldest first.
func (c *Collector) Packets(projectName, deviceID string) ([]*protocol.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, device, err := c.lookup(projectName, deviceID)
	if err != nil {
		return nil, err
	}
	return device.packetsCopy(), nil
}

// Logs returns a device's log entries in one bucket, oldest first.
func (c *Collector) Logs(projectName, deviceID string, bucket Bucket) ([]protocol.LogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, device, err := c.lookup(projectName, deviceID)
	if err != nil {
		return nil, err
	}
	logs, ok := device.logs[bucket]
	if !ok {
		return nil, fmt.Errorf("unknown log bucket %q", bucket)
	}
	return logs.values(), nil
}

// Selection returns the current focus.
func (c *Collector) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectionLocked()
}

func (c *Collector) selectionLocked() Selection {
	selection := Selection{Project: c.selectedProject}
	project, ok := c.projects[c.selectedProject]
	if !ok {
		return selection
	}
	selection.Device = project.selectedDevice
	if device, ok := project.devices[project.selectedDevice]; ok {
		selection.Packet = device.selectedPacket
	}
	return selection
}
