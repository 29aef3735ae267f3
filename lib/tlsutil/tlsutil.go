// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package tlsutil holds the TLS pieces of collector pairing.
//
// Collectors run on developer machines with no CA-issued certificate.
// A collector either loads a configured certificate or generates a
// self-signed one at startup. Clients accept any certificate, and can
// pin the collector by the BLAKE3 fingerprint of its leaf certificate
// once they have seen it (trust on first use).
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrFingerprintMismatch is returned by the client handshake when the
// collector's certificate does not match the pinned fingerprint.
var ErrFingerprintMismatch = errors.New("tlsutil: certificate fingerprint mismatch")

// CertificateLifetime is the validity period of generated certificates.
const CertificateLifetime = 365 * 24 * time.Hour

// SelfSigned generates an ECDSA P-256 certificate valid for hosts,
// which may be host names or IP addresses.
func SelfSigned(hosts []string, now time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Snag"}, CommonName: "snag-collector"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(CertificateLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing generated certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// LoadOrSelfSigned loads the key pair from certFile and keyFile, or
// generates a self-signed certificate for hosts when both are empty.
func LoadOrSelfSigned(certFile, keyFile string, hosts []string, now time.Time) (tls.Certificate, error) {
	if certFile == "" && keyFile == "" {
		return SelfSigned(hosts, now)
	}
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading key pair: %w", err)
	}
	return certificate, nil
}

// ServerConfig returns the collector's TLS configuration.
func ServerConfig(certificate tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientConfig returns a client configuration that accepts self-signed
// collector certificates. A non-empty pin restricts it to the
// certificate with that fingerprint.
func ClientConfig(pin string) *tls.Config {
	pin = normalize(pin)
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// Chain verification is replaced by the pin check below.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("tlsutil: collector presented no certificate")
			}
			if pin == "" {
				return nil
			}
			if got := Fingerprint(rawCerts[0]); got != pin {
				return fmt.Errorf("%w: got %s", ErrFingerprintMismatch, got)
			}
			return nil
		},
	}
}

// Fingerprint returns the hex BLAKE3-256 digest of a DER certificate.
func Fingerprint(der []byte) string {
	digest := blake3.Sum256(der)
	return hex.EncodeToString(digest[:])
}

// CertificateFingerprint fingerprints the leaf of certificate.
func CertificateFingerprint(certificate tls.Certificate) string {
	if len(certificate.Certificate) == 0 {
		return ""
	}
	return Fingerprint(certificate.Certificate[0])
}

// normalize accepts fingerprints with colons or upper case, as people
// copy them from logs.
func normalize(pin string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(pin), ":", ""))
}
