// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors so that the transport
// and publisher can tell a peer going away from a genuine fault.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal end of a
// connection: EOF, use of a closed connection, broken pipe, or
// connection reset. Debug clients routinely disappear when an app is
// killed or a laptop sleeps, so these are logged at debug level only.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry on a net.Conn.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
