// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package tlsutil

import (
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

var now = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

// handshake runs a TLS handshake over loopback TCP and returns the
// client's error.
func handshake(t *testing.T, certificate tls.Certificate, pin string) error {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		server := tls.Server(conn, ServerConfig(certificate))
		server.HandshakeContext(t.Context())
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := tls.Client(conn, ClientConfig(pin))
	err = client.HandshakeContext(t.Context())
	conn.Close()
	<-serverDone
	return err
}

func TestSelfSignedCoversHosts(t *testing.T) {
	certificate, err := SelfSigned([]string{"mac.local", "192.168.1.5", ""}, now)
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	leaf := certificate.Leaf
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "mac.local" {
		t.Errorf("DNSNames = %v", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 || !leaf.IPAddresses[0].Equal(net.ParseIP("192.168.1.5")) {
		t.Errorf("IPAddresses = %v", leaf.IPAddresses)
	}
	if !leaf.NotAfter.After(now.Add(364 * 24 * time.Hour)) {
		t.Errorf("NotAfter = %v", leaf.NotAfter)
	}
}

func TestClientAcceptsSelfSigned(t *testing.T) {
	certificate, err := SelfSigned([]string{"127.0.0.1"}, now)
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	if err := handshake(t, certificate, ""); err != nil {
		t.Fatalf("unpinned handshake: %v", err)
	}
}

func TestClientPinsFingerprint(t *testing.T) {
	certificate, err := SelfSigned([]string{"127.0.0.1"}, now)
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	fingerprint := CertificateFingerprint(certificate)
	if len(fingerprint) != 64 {
		t.Fatalf("fingerprint %q is not 32 hex bytes", fingerprint)
	}

	if err := handshake(t, certificate, fingerprint); err != nil {
		t.Fatalf("pinned handshake: %v", err)
	}

	// Colon-separated upper case, as copied from a log line.
	var spaced []string
	for i := 0; i < len(fingerprint); i += 2 {
		spaced = append(spaced, strings.ToUpper(fingerprint[i:i+2]))
	}
	if err := handshake(t, certificate, strings.Join(spaced, ":")); err != nil {
		t.Fatalf("handshake with formatted pin: %v", err)
	}

	other, err := SelfSigned([]string{"127.0.0.1"}, now)
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	err = handshake(t, other, fingerprint)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("handshake with wrong certificate = %v, want ErrFingerprintMismatch", err)
	}
}

func TestLoadOrSelfSigned(t *testing.T) {
	certificate, err := LoadOrSelfSigned("", "", []string{"localhost"}, now)
	if err != nil || certificate.Leaf == nil {
		t.Fatalf("LoadOrSelfSigned without files = %v", err)
	}
	if _, err := LoadOrSelfSigned("/nonexistent/cert.pem", "/nonexistent/key.pem", nil, now); err == nil {
		t.Fatal("expected error for missing key pair")
	}
}
