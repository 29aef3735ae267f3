// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/thanhcuong1990/Snag-sub000/lib/clock"
)

const (
	// DefaultBrowseInterval is the pause between browse cycles.
	DefaultBrowseInterval = 5 * time.Second

	// DefaultBrowseWindow is how long each cycle listens for answers.
	DefaultBrowseWindow = 2 * time.Second

	// DefaultMisses is the number of consecutive cycles an endpoint
	// may go unanswered before it is reported removed.
	DefaultMisses = 2
)

// Compile-time interface checks.
var (
	_ Browser    = (*Zeroconf)(nil)
	_ Advertiser = (*Zeroconf)(nil)
)

// Zeroconf browses and advertises over multicast DNS.
//
// Multicast DNS answers carry no reliable departure signal, so browsing
// runs in cycles: each cycle collects the instances that answer within
// Window, and an instance missing from Misses consecutive cycles is
// reported removed.
type Zeroconf struct {
	Interval time.Duration
	Window   time.Duration
	Misses   int
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (z *Zeroconf) defaults() {
	if z.Interval <= 0 {
		z.Interval = DefaultBrowseInterval
	}
	if z.Window <= 0 {
		z.Window = DefaultBrowseWindow
	}
	if z.Misses <= 0 {
		z.Misses = DefaultMisses
	}
	if z.Clock == nil {
		z.Clock = clock.Real()
	}
	if z.Logger == nil {
		z.Logger = slog.New(slog.DiscardHandler)
	}
}

func (z *Zeroconf) Browse(ctx context.Context, serviceType, domain string) (<-chan Event, error) {
	z.defaults()
	events := make(chan Event, 16)
	tracker := newTracker(z.Misses)

	go func() {
		defer close(events)
		for {
			found, err := z.browseOnce(ctx, serviceType, domain)
			if err != nil {
				z.Logger.Warn("mdns browse failed", "service", serviceType, "error", err)
			} else {
				for _, event := range tracker.observe(found) {
					select {
					case events <- event:
					case <-ctx.Done():
						return
					}
				}
			}
			select {
			case <-z.Clock.After(z.Interval):
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// browseOnce collects every instance that answers within one window.
func (z *Zeroconf) browseOnce(ctx context.Context, serviceType, domain string) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}

	window, cancel := context.WithTimeout(ctx, z.Window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(window, serviceType, domain, entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", serviceType, err)
	}

	// The resolver closes entries once the window expires.
	var found []Endpoint
	for entry := range entries {
		addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
		addrs = append(addrs, entry.AddrIPv4...)
		addrs = append(addrs, entry.AddrIPv6...)
		found = append(found, Endpoint{
			Instance: entry.Instance,
			Host:     entry.HostName,
			Port:     entry.Port,
			Addrs:    addrs,
		})
	}
	return found, nil
}

func (z *Zeroconf) Advertise(ctx context.Context, service Service) (func(), error) {
	z.defaults()
	server, err := zeroconf.Register(service.Instance, service.Type, service.Domain, service.Port, service.Text, nil)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", service.Type, err)
	}
	z.Logger.Info("advertising collector", "instance", service.Instance, "service", service.Type, "port", service.Port)

	var once sync.Once
	stop := func() { once.Do(server.Shutdown) }
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

// tracker turns successive browse snapshots into added/removed events.
type tracker struct {
	maxMisses int
	known     map[string]Endpoint
	misses    map[string]int
}

func newTracker(maxMisses int) *tracker {
	return &tracker{
		maxMisses: maxMisses,
		known:     make(map[string]Endpoint),
		misses:    make(map[string]int),
	}
}

func (t *tracker) observe(found []Endpoint) []Event {
	var events []Event
	seen := make(map[string]bool, len(found))
	for _, endpoint := range found {
		key := endpoint.Key()
		seen[key] = true
		t.misses[key] = 0
		previous, known := t.known[key]
		t.known[key] = endpoint
		switch {
		case !known:
			events = append(events, Event{Kind: EndpointAdded, Endpoint: endpoint})
		case previous.Address() != endpoint.Address():
			// The collector moved (new address or port): treat it as
			// a departure followed by an arrival.
			events = append(events,
				Event{Kind: EndpointRemoved, Endpoint: previous},
				Event{Kind: EndpointAdded, Endpoint: endpoint})
		}
	}
	for key, endpoint := range t.known {
		if seen[key] {
			continue
		}
		t.misses[key]++
		if t.misses[key] >= t.maxMisses {
			delete(t.known, key)
			delete(t.misses, key)
			events = append(events, Event{Kind: EndpointRemoved, Endpoint: endpoint})
		}
	}
	return events
}
