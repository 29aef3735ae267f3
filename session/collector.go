// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package session aggregates packets from every connected client into a
// Project → Device → {packets, logs} tree.
//
// The Collector is purely reactive: it changes only when a packet
// arrives or a command is issued. Request snapshots that share a packet
// ID merge into one entry, so the progressive snapshots a carrier
// emits converge on a single visible request. Packets and logs are held
// in bounded rings that evict the oldest entry first.
//
// Presentation layers read the tree through queries that return copies
// and follow changes through Subscribe. The only traffic the Collector
// sends back to clients is app-info requests, log streaming control,
// and replies to streaming status requests, all through the Sender.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

const (
	DefaultRequestCapacity      = 2000
	DefaultLogCapacity          = 1500
	DefaultAppInfoRetryInterval = 3 * time.Second
)

var (
	ErrUnknownProject = errors.New("unknown project")
	ErrUnknownDevice  = errors.New("unknown device")
	ErrUnknownPacket  = errors.New("unknown packet")
)

// Change is the result of AddPacket.
type Change int

const (
	// ChangeNone means no visible entry was stored: control packets,
	// unauthenticated packets, logs while streaming is off, and packets
	// without an identity.
	ChangeNone Change = iota
	ChangePacketAdded
	ChangePacketUpdated
	ChangeLogAdded
)

func (c Change) String() string {
	switch c {
	case ChangePacketAdded:
		return "packetAdded"
	case ChangePacketUpdated:
		return "packetUpdated"
	case ChangeLogAdded:
		return "logAdded"
	default:
		return "none"
	}
}

// Sender delivers control packets to one device. publisher.Publisher
// implements it.
type Sender interface {
	SendTo(deviceID string, packet *protocol.Packet) error
}

// Config configures a Collector.
type Config struct {
	// Sender carries control packets back to devices. Nil drops them.
	Sender Sender

	RequestCapacity int
	LogCapacity     int

	// AppInfoRetryInterval is the minimum time between app-info
	// requests to a device that has not answered yet.
	AppInfoRetryInterval time.Duration

	// StreamLogsByDefault is the streaming flag new devices start
	// with.
	StreamLogsByDefault bool

	// SystemTags are filed under BucketSystem. Defaults to
	// DefaultSystemTags.
	SystemTags []string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Selection is the presentation layer's current focus.
type Selection struct {
	Project string `json:"project,omitempty"`
	Device  string `json:"device,omitempty"`
	Packet  string `json:"packet,omitempty"`
}

// Snapshot is a deep copy of the whole tree.
type Snapshot struct {
	Projects  []Project `json:"projects"`
	Selection Selection `json:"selection"`
}

// Collector is the aggregation tree. All methods are safe for
// concurrent use.
type Collector struct {
	config     Config
	systemTags map[string]bool
	logger     *slog.Logger
	events     bus

	mu              sync.Mutex
	projects        map[string]*ProjectNode
	order           []string
	selectedProject string
}

// outbound is a control packet queued while the lock is held and sent
// after it is released.
type outbound struct {
	deviceID string
	packet   *protocol.Packet
}

// New creates an empty Collector.
func New(config Config) *Collector {
	if config.RequestCapacity <= 0 {
		config.RequestCapacity = DefaultRequestCapacity
	}
	if config.LogCapacity <= 0 {
		config.LogCapacity = DefaultLogCapacity
	}
	if config.AppInfoRetryInterval <= 0 {
		config.AppInfoRetryInterval = DefaultAppInfoRetryInterval
	}
	if config.SystemTags == nil {
		config.SystemTags = DefaultSystemTags
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	systemTags := make(map[string]bool, len(config.SystemTags))
	for _, tag := range config.SystemTags {
		systemTags[tag] = true
	}
	return &Collector{
		config:     config,
		systemTags: systemTags,
		logger:     config.Logger,
		projects:   make(map[string]*ProjectNode),
	}
}

// HandlePacket adds packet to the tree. It satisfies
// publisher.Handler.
func (c *Collector) HandlePacket(packet *protocol.Packet) {
	c.AddPacket(packet)
}

// Subscribe registers for change events. Events are dropped for a
// subscriber whose buffer is full. Call cancel to unsubscribe; it
// closes the channel.
func (c *Collector) Subscribe(buffer int) (events <-chan Event, cancel func()) {
	return c.events.subscribe(buffer)
}

// DroppedEvents counts events lost to full subscriber buffers.
func (c *Collector) DroppedEvents() uint64 {
	return c.events.droppedEvents()
}

// AddPacket folds one inbound packet into the tree and reports whether
// it inserted or updated a visible entry.
func (c *Collector) AddPacket(packet *protocol.Packet) Change {
	c.mu.Lock()
	change, outbox, events := c.addLocked(packet)
	c.events.publish(events)
	c.mu.Unlock()

	c.deliver(outbox)
	return change
}

func (c *Collector) addLocked(packet *protocol.Packet) (Change, []outbound, []Event) {
	var (
		outbox []outbound
		events []Event
	)
	if packet.Project == nil || packet.Project.ProjectName == "" || packet.Device == nil || packet.Device.DeviceID == "" {
		c.logger.Debug("dropping packet without identity", "id", packet.ID, "kind", packet.Kind())
		return ChangeNone, nil, nil
	}
	now := c.config.Clock.Now()
	projectName := packet.Project.ProjectName
	deviceID := packet.Device.DeviceID

	project, ok := c.projects[projectName]
	if !ok {
		project = newProjectNode(*packet.Project)
		c.projects[projectName] = project
		c.order = append(c.order, projectName)
		c.logger.Info("new project", "project", projectName)
		if c.selectedProject == "" {
			c.selectedProject = projectName
			events = append(events, Event{Kind: EventProjectSelected, Project: projectName})
		}
	} else if project.updateInfo(packet.Project) {
		events = append(events, Event{Kind: EventDeviceUpdated, Project: projectName, Device: deviceID})
	}

	device, ok := project.devices[deviceID]
	if !ok {
		device = newDeviceNode(project, *packet.Device, &c.config)
		project.devices[deviceID] = device
		project.order = append(project.order, deviceID)
		c.logger.Info("new device", "project", projectName, "device", deviceID, "name", packet.Device.DeviceName)
		events = append(events, Event{Kind: EventDeviceUpdated, Project: projectName, Device: deviceID})
		if project.selectedDevice == "" {
			project.selectedDevice = deviceID
			events = append(events, Event{Kind: EventDeviceSelected, Project: projectName, Device: deviceID})
		}
	} else if device.updateInfo(packet.Device) {
		events = append(events, Event{Kind: EventDeviceUpdated, Project: projectName, Device: deviceID})
	}
	device.lastSeen = now

	if packet.Unauthenticated {
		changed := !device.locked
		device.locked = true
		if packet.Control != nil && packet.Control.Type == protocol.ControlAuthPIN && packet.Control.AuthPIN != "" {
			changed = changed || device.offeredPIN != packet.Control.AuthPIN
			device.offeredPIN = packet.Control.AuthPIN
		}
		if changed {
			c.logger.Warn("device locked pending PIN", "project", projectName, "device", deviceID)
			events = append(events, Event{Kind: EventDeviceUpdated, Project: projectName, Device: deviceID})
		}
		return ChangeNone, outbox, events
	}
	if device.locked {
		device.locked = false
		device.offeredPIN = ""
		events = append(events, Event{Kind: EventDeviceUpdated, Project: projectName, Device: deviceID})
	}

	requestedAppInfo := false
	isAppInfoResponse := packet.Control != nil && packet.Control.Type == protocol.ControlAppInfoResponse
	if device.appInfo == nil && !isAppInfoResponse &&
		(device.lastAppInfoRequest.IsZero() || now.Sub(device.lastAppInfoRequest) >= c.config.AppInfoRetryInterval) {
		device.lastAppInfoRequest = now
		requestedAppInfo = true
		outbox = append(outbox, outbound{deviceID, protocol.NewControl(protocol.ControlAppInfoRequest)})
	}

	switch packet.Kind() {
	case protocol.KindControl:
		outbox, events = c.handleControl(project, device, packet.Control, requestedAppInfo, now, outbox, events)
		return ChangeNone, outbox, events

	case protocol.KindLog:
		if !device.streaming {
			return ChangeNone, outbox, events
		}
		entry := *packet.Log
		bucket := c.classify(device, &entry)
		device.logs[bucket].push(entry)
		events = append(events, Event{
			Kind: EventLogAdded, Project: projectName, Device: deviceID,
			PacketID: packet.ID, Bucket: bucket, Log: &entry,
		})
		return ChangeLogAdded, outbox, events

	case protocol.KindRequest:
		wasEmpty := device.packets.len() == 0
		added, stored := device.addRequest(packet)
		kind, change := EventPacketUpdated, ChangePacketUpdated
		if added {
			kind, change = EventPacketAdded, ChangePacketAdded
		}
		events = append(events, Event{
			Kind: kind, Project: projectName, Device: deviceID,
			PacketID: stored.ID, Packet: stored.Clone(),
		})
		if added && wasEmpty {
			device.selectedPacket = stored.ID
			events = append(events, Event{Kind: EventPacketSelected, Project: projectName, Device: deviceID, PacketID: stored.ID})
		}
		return change, outbox, events
	}
	return ChangeNone, outbox, events
}

func (c *Collector) handleControl(project *ProjectNode, device *DeviceNode, control *protocol.Control, requestedAppInfo bool, now time.Time, outbox []outbound, events []Event) ([]outbound, []Event) {
	deviceID := device.info.DeviceID
	switch control.Type {
	case protocol.ControlAppInfoResponse:
		if control.AppInfo == nil {
			return outbox, events
		}
		appInfo := *control.AppInfo
		device.appInfo = &appInfo
		if appInfo.BundleID != "" && project.info.BundleID == "" {
			project.info.BundleID = appInfo.BundleID
		}
		c.logger.Info("app info received", "project", project.info.ProjectName, "device", deviceID,
			"bundle_id", appInfo.BundleID, "react_native", appInfo.IsReactNative)
		events = append(events, Event{Kind: EventDeviceUpdated, Project: project.info.ProjectName, Device: deviceID})

	case protocol.ControlLogStreamingStatusRequest:
		outbox = append(outbox, outbound{deviceID, protocol.NewLogStreamingControl(device.streaming)})
		if device.appInfo == nil && !requestedAppInfo {
			device.lastAppInfoRequest = now
			outbox = append(outbox, outbound{deviceID, protocol.NewControl(protocol.ControlAppInfoRequest)})
		}

	case protocol.ControlAuthPIN:
		// Accepted PINs are consumed by the publisher.

	default:
		c.logger.Debug("ignoring control packet", "type", control.Type, "device", deviceID)
	}
	return outbox, events
}

func (c *Collector) deliver(outbox []outbound) error {
	if c.config.Sender == nil {
		return nil
	}
	var errs []error
	for _, message := range outbox {
		if err := c.config.Sender.SendTo(message.deviceID, message.packet); err != nil {
			c.logger.Debug("control packet not delivered", "device", message.deviceID,
				"type", message.packet.Control.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lookup returns the device node. Callers hold c.mu.
func (c *Collector) lookup(projectName, deviceID string) (*ProjectNode, *DeviceNode, error) {
	project, ok := c.projects[projectName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProject, projectName)
	}
	if deviceID == "" {
		return project, nil, nil
	}
	device, ok := project.devices[deviceID]
	if !ok {
		return project, nil, fmt.Errorf("%w: %s in project %s", ErrUnknownDevice, deviceID, projectName)
	}
	return project, device, nil
}
