// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery finds Snag collectors on the local network and
// advertises them.
//
// Collectors register a DNS-SD service of type [ServiceType] in the
// [Domain] domain. Clients browse for it and receive a stream of
// [Event] values as collectors appear and disappear.
//
// [Zeroconf] implements [Browser] and [Advertiser] over multicast DNS.
// [Memory] implements both in-process, so a collector and a client in
// the same test find each other without touching the network.
package discovery

import (
	"context"
	"net"
	"strconv"
	"strings"
)

const (
	// ServiceType is the DNS-SD service collectors advertise.
	ServiceType = "_snag._tcp"

	// Domain is the default service domain, the local link.
	Domain = "local."

	// DefaultPort is the collector's default TCP port.
	DefaultPort = 43435
)

// Endpoint is one advertised collector.
type Endpoint struct {
	// Instance is the DNS-SD instance name, unique within the service
	// type. Static endpoints use their address.
	Instance string

	// Host is the advertised host name.
	Host string

	Port int

	// Addrs are the resolved addresses, IPv4 first.
	Addrs []net.IP
}

// Key identifies the endpoint across browse cycles.
func (e Endpoint) Key() string {
	if e.Instance != "" {
		return e.Instance
	}
	return e.Address()
}

// Address returns a dialable host:port, preferring an IPv4 address over
// an IPv6 address over the host name.
func (e Endpoint) Address() string {
	port := strconv.Itoa(e.Port)
	for _, addr := range e.Addrs {
		if addr.To4() != nil {
			return net.JoinHostPort(addr.String(), port)
		}
	}
	if len(e.Addrs) > 0 {
		return net.JoinHostPort(e.Addrs[0].String(), port)
	}
	return net.JoinHostPort(strings.TrimSuffix(e.Host, "."), port)
}

// EventKind says whether an endpoint appeared or went away.
type EventKind int

const (
	EndpointAdded EventKind = iota + 1
	EndpointRemoved
)

func (k EventKind) String() string {
	switch k {
	case EndpointAdded:
		return "added"
	case EndpointRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event reports a change to the set of known endpoints.
type Event struct {
	Kind     EventKind
	Endpoint Endpoint
}

// Browser watches for endpoints of a service. The returned channel is
// closed when ctx is done.
type Browser interface {
	Browse(ctx context.Context, serviceType, domain string) (<-chan Event, error)
}

// Service describes a registration.
type Service struct {
	Instance string
	Type     string
	Domain   string
	Port     int
	Text     []string
}

// Advertiser registers a service until the returned stop function is
// called or ctx is done.
type Advertiser interface {
	Advertise(ctx context.Context, service Service) (stop func(), err error)
}

// Static returns a Browser that reports each address once as added and
// never removes it.
func Static(addresses ...string) Browser {
	return staticBrowser(addresses)
}

type staticBrowser []string

func (s staticBrowser) Browse(ctx context.Context, _, _ string) (<-chan Event, error) {
	events := make(chan Event, len(s))
	for _, address := range s {
		host, portText, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(portText)
		if err != nil {
			return nil, err
		}
		events <- Event{Kind: EndpointAdded, Endpoint: Endpoint{Instance: address, Host: host, Port: port}}
	}
	go func() {
		<-ctx.Done()
		close(events)
	}()
	return events, nil
}
