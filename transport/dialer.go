// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Compile-time interface check.
var _ Dialer = (*TCPDialer)(nil)

// Dialer opens a connection to a collector address (host:port).
// Tests substitute dialers that fail or hand out pipe ends.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer opens TCP connections to collectors, optionally wrapped in
// TLS. The TLS handshake counts against Timeout.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration

	// TLS, when non-nil, encrypts the connection.
	TLS *tls.Config
}

// DialContext opens a connection to the given address.
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	netDialer := &net.Dialer{KeepAlive: 30 * time.Second}
	if d.TLS == nil {
		return netDialer.DialContext(ctx, "tcp", address)
	}
	tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: d.TLS}
	return tlsDialer.DialContext(ctx, "tcp", address)
}
