// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"net"
	"sync"
)

// Compile-time interface checks.
var (
	_ Browser    = (*Memory)(nil)
	_ Advertiser = (*Memory)(nil)
)

// Memory is an in-process registry for tests. A Publisher advertising
// into a Memory is found by every Transport browsing the same Memory.
type Memory struct {
	mu          sync.Mutex
	endpoints   map[string]map[string]Endpoint // service key -> instance -> endpoint
	subscribers map[string]map[*memorySubscriber]struct{}
}

type memorySubscriber struct {
	ctx    context.Context
	events chan Event
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{
		endpoints:   make(map[string]map[string]Endpoint),
		subscribers: make(map[string]map[*memorySubscriber]struct{}),
	}
}

func serviceKey(serviceType, domain string) string {
	return serviceType + "." + domain
}

// Add registers endpoint under the service and notifies browsers.
func (m *Memory) Add(serviceType, domain string, endpoint Endpoint) {
	key := serviceKey(serviceType, domain)
	m.mu.Lock()
	if m.endpoints[key] == nil {
		m.endpoints[key] = make(map[string]Endpoint)
	}
	m.endpoints[key][endpoint.Key()] = endpoint
	m.deliverLocked(key, Event{Kind: EndpointAdded, Endpoint: endpoint})
	m.mu.Unlock()
}

// Remove unregisters the endpoint with the given key, if present.
func (m *Memory) Remove(serviceType, domain, key string) {
	service := serviceKey(serviceType, domain)
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoint, ok := m.endpoints[service][key]
	if !ok {
		return
	}
	delete(m.endpoints[service], key)
	m.deliverLocked(service, Event{Kind: EndpointRemoved, Endpoint: endpoint})
}

// deliverLocked blocks until each live subscriber takes the event.
// Browse consumers must not call back into the registry.
func (m *Memory) deliverLocked(key string, event Event) {
	for subscriber := range m.subscribers[key] {
		select {
		case subscriber.events <- event:
		case <-subscriber.ctx.Done():
		}
	}
}

// Browse reports every endpoint already registered, then changes.
func (m *Memory) Browse(ctx context.Context, serviceType, domain string) (<-chan Event, error) {
	key := serviceKey(serviceType, domain)
	subscriber := &memorySubscriber{ctx: ctx, events: make(chan Event, 64)}

	m.mu.Lock()
	for _, endpoint := range m.endpoints[key] {
		select {
		case subscriber.events <- Event{Kind: EndpointAdded, Endpoint: endpoint}:
		case <-ctx.Done():
		}
	}
	if m.subscribers[key] == nil {
		m.subscribers[key] = make(map[*memorySubscriber]struct{})
	}
	m.subscribers[key][subscriber] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers[key], subscriber)
		close(subscriber.events)
	}()
	return subscriber.events, nil
}

// Advertise registers the service on the loopback interface.
func (m *Memory) Advertise(ctx context.Context, service Service) (func(), error) {
	endpoint := Endpoint{
		Instance: service.Instance,
		Host:     "localhost",
		Port:     service.Port,
		Addrs:    []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	m.Add(service.Type, service.Domain, endpoint)

	var once sync.Once
	stop := func() {
		once.Do(func() { m.Remove(service.Type, service.Domain, endpoint.Key()) })
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}
