// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the client side of the Snag wire protocol: it
// finds collectors, keeps connections to them open, and streams
// packets to every connection that is ready.
//
// A Transport watches a discovery.Browser for collector endpoints. It
// dials each endpoint that appears and closes the connection of each
// endpoint that goes away. A connection that fails or drops is retried
// after ReconnectDelay, once, and only while its endpoint is still
// known.
//
// Outbound packets go through a bounded queue drained by one worker.
// The worker frames each packet and writes it to every ready
// connection. With no ready connection the frame is kept in a small
// offline buffer instead. A new connection sends the auth PIN first,
// then the offline buffer in arrival order, and only then becomes
// ready for new traffic.
//
// Every bound drops the oldest data rather than blocking the caller:
// a live debugger loses old packets before it slows the application
// it is watching.
package transport
