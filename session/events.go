// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// EventKind names a change in the tree.
type EventKind string

const (
	EventPacketAdded     EventKind = "packetAdded"
	EventPacketUpdated   EventKind = "packetUpdated"
	EventLogAdded        EventKind = "logAdded"
	EventProjectSelected EventKind = "projectSelected"
	EventDeviceSelected  EventKind = "deviceSelected"
	EventPacketSelected  EventKind = "packetSelected"
	EventDeviceCleared   EventKind = "deviceCleared"
	EventDeviceUpdated   EventKind = "deviceUpdated"
)

// Event describes one change. Packet and Log are copies owned by the
// receiver.
type Event struct {
	Kind     EventKind          `json:"kind"`
	Project  string             `json:"project,omitempty"`
	Device   string             `json:"device,omitempty"`
	PacketID string             `json:"packetId,omitempty"`
	Bucket   Bucket             `json:"bucket,omitempty"`
	Packet   *protocol.Packet   `json:"packet,omitempty"`
	Log      *protocol.LogEntry `json:"log,omitempty"`
}

// DefaultSubscriberBuffer is the channel capacity Subscribe uses when
// given a non-positive buffer.
const DefaultSubscriberBuffer = 256

// bus fans events out to subscribers without blocking the publisher.
type bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	dropped     uint64
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	channel := make(chan Event, buffer)

	b.mu.Lock()
	if b.subscribers == nil {
		b.subscribers = make(map[chan Event]struct{})
	}
	b.subscribers[channel] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, channel)
			close(channel)
			b.mu.Unlock()
		})
	}
	return channel, cancel
}

func (b *bus) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range events {
		for subscriber := range b.subscribers {
			select {
			case subscriber <- event:
			default:
				// Slow subscriber. It can resynchronise from a
				// snapshot.
				b.dropped++
			}
		}
	}
}

func (b *bus) droppedEvents() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
