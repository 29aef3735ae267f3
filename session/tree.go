// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// ProjectNode groups the devices running one application. It is keyed
// by project name.
type ProjectNode struct {
	info           protocol.ProjectInfo
	devices        map[string]*DeviceNode
	order          []string
	selectedDevice string
}

func newProjectNode(info protocol.ProjectInfo) *ProjectNode {
	return &ProjectNode{info: info, devices: make(map[string]*DeviceNode)}
}

// updateInfo fills fields still unknown. It reports whether anything
// changed.
func (p *ProjectNode) updateInfo(incoming *protocol.ProjectInfo) bool {
	changed := false
	if p.info.AppIcon == "" && incoming.AppIcon != "" {
		p.info.AppIcon = incoming.AppIcon
		changed = true
	}
	if p.info.BundleID == "" && incoming.BundleID != "" {
		p.info.BundleID = incoming.BundleID
		changed = true
	}
	return changed
}

// DeviceNode holds one device's traffic and logs.
type DeviceNode struct {
	project *ProjectNode
	info    protocol.DeviceInfo

	appInfo            *protocol.AppInfo
	lastAppInfoRequest time.Time

	locked     bool
	offeredPIN string

	streaming bool
	lastSeen  time.Time

	packets        *ring[*protocol.Packet]
	index          map[string]*protocol.Packet
	selectedPacket string

	logs map[Bucket]*ring[protocol.LogEntry]
	tags tagStats
}

func newDeviceNode(project *ProjectNode, info protocol.DeviceInfo, config *Config) *DeviceNode {
	device := &DeviceNode{
		project:   project,
		info:      info,
		streaming: config.StreamLogsByDefault,
		packets:   newRing[*protocol.Packet](config.RequestCapacity),
		index:     make(map[string]*protocol.Packet),
		logs:      make(map[Bucket]*ring[protocol.LogEntry], len(Buckets)),
	}
	for _, bucket := range Buckets {
		device.logs[bucket] = newRing[protocol.LogEntry](config.LogCapacity)
	}
	return device
}

// updateInfo fills fields still unknown. The IP address always tracks
// the latest connection.
func (d *DeviceNode) updateInfo(incoming *protocol.DeviceInfo) bool {
	changed := false
	fill := func(field *string, value string) {
		if *field == "" && value != "" {
			*field = value
			changed = true
		}
	}
	fill(&d.info.DeviceName, incoming.DeviceName)
	fill(&d.info.DeviceDescription, incoming.DeviceDescription)
	fill(&d.info.HostName, incoming.HostName)
	if incoming.IPAddress != "" && incoming.IPAddress != d.info.IPAddress {
		d.info.IPAddress = incoming.IPAddress
		changed = true
	}
	return changed
}

func (d *DeviceNode) bundleID() string {
	if d.appInfo != nil && d.appInfo.BundleID != "" {
		return d.appInfo.BundleID
	}
	return d.project.info.BundleID
}

// addRequest inserts or merges a request snapshot.
func (d *DeviceNode) addRequest(packet *protocol.Packet) (added bool, stored *protocol.Packet) {
	if existing, ok := d.index[packet.ID]; ok {
		existing.RequestInfo.Merge(packet.RequestInfo)
		return false, existing
	}

	stored = &protocol.Packet{ID: packet.ID}
	info := packet.RequestInfo.Clone()
	stored.RequestInfo = &info
	if evicted, ok := d.packets.push(stored); ok {
		delete(d.index, evicted.ID)
		if d.selectedPacket == evicted.ID {
			d.selectedPacket = ""
		}
	}
	d.index[stored.ID] = stored
	return true, stored
}

func (d *DeviceNode) clear() {
	d.packets.reset()
	clear(d.index)
	d.selectedPacket = ""
	for _, logs := range d.logs {
		logs.reset()
	}
}

// Project is a read-only view of a ProjectNode.
type Project struct {
	Name           string   `json:"name"`
	AppIcon        string   `json:"appIcon,omitempty"`
	BundleID       string   `json:"bundleId,omitempty"`
	SelectedDevice string   `json:"selectedDevice,omitempty"`
	Devices        []Device `json:"devices"`
}

// Device is a read-only view of a DeviceNode. Packets and Logs are only
// filled by Collector.Snapshot.
type Device struct {
	ID             string                         `json:"id"`
	Name           string                         `json:"name,omitempty"`
	Description    string                         `json:"description,omitempty"`
	HostName       string                         `json:"hostName,omitempty"`
	IPAddress      string                         `json:"ipAddress,omitempty"`
	AppInfo        *protocol.AppInfo              `json:"appInfo,omitempty"`
	Locked         bool                           `json:"locked"`
	OfferedPIN     string                         `json:"offeredPin,omitempty"`
	StreamingLogs  bool                           `json:"streamingLogs"`
	PrimaryTag     string                         `json:"primaryTag,omitempty"`
	LastSeen       time.Time                      `json:"lastSeen"`
	SelectedPacket string                         `json:"selectedPacket,omitempty"`
	PacketCount    int                            `json:"packetCount"`
	LogCounts      map[Bucket]int                 `json:"logCounts"`
	Packets        []*protocol.Packet             `json:"packets,omitempty"`
	Logs           map[Bucket][]protocol.LogEntry `json:"logs,omitempty"`
}

func (d *DeviceNode) view(full bool) Device {
	view := Device{
		ID:             d.info.DeviceID,
		Name:           d.info.DeviceName,
		Description:    d.info.DeviceDescription,
		HostName:       d.info.HostName,
		IPAddress:      d.info.IPAddress,
		Locked:         d.locked,
		OfferedPIN:     d.offeredPIN,
		StreamingLogs:  d.streaming,
		PrimaryTag:     d.tags.primary,
		LastSeen:       d.lastSeen,
		SelectedPacket: d.selectedPacket,
		PacketCount:    d.packets.len(),
		LogCounts:      make(map[Bucket]int, len(d.logs)),
	}
	if d.appInfo != nil {
		appInfo := *d.appInfo
		view.AppInfo = &appInfo
	}
	for bucket, logs := range d.logs {
		view.LogCounts[bucket] = logs.len()
	}
	if full {
		view.Packets = d.packetsCopy()
		view.Logs = make(map[Bucket][]protocol.LogEntry, len(d.logs))
		for bucket, logs := range d.logs {
			view.Logs[bucket] = logs.values()
		}
	}
	return view
}

func (d *DeviceNode) packetsCopy() []*protocol.Packet {
	packets := make([]*protocol.Packet, 0, d.packets.len())
	d.packets.each(func(packet *protocol.Packet) {
		packets = append(packets, packet.Clone())
	})
	return packets
}

func (p *ProjectNode) view(full bool) Project {
	view := Project{
		Name:           p.info.ProjectName,
		AppIcon:        p.info.AppIcon,
		BundleID:       p.info.BundleID,
		SelectedDevice: p.selectedDevice,
		Devices:        make([]Device, 0, len(p.order)),
	}
	for _, id := range p.order {
		view.Devices = append(view.Devices, p.devices[id].view(full))
	}
	return view
}
