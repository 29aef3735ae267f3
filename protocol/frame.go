// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines Snag's wire format: length-prefixed frames
// carrying JSON-encoded packets.
//
// Every message on a Snag connection is an 8-byte little-endian
// unsigned length followed by that many bytes of UTF-8 JSON. There is
// no compression and no checksum; TCP (optionally under TLS) provides
// integrity.
//
// The package is organized around the two layers of the format:
//
//   - frame.go: the length prefix (Frame, WriteFrame, ReadFrame)
//   - packet.go: the Packet tagged union and its JSON encoding
//   - control.go: the control message catalog (handshake, auth, log streaming)
//   - time.go: the timestamp and status code wire representations
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameHeaderLength is the size of the length prefix.
const FrameHeaderLength = 8

// MaxFrameLength bounds a single frame body. A length beyond this is
// treated as a corrupt stream rather than an allocation request.
const MaxFrameLength = 50_000_000

// ErrIncompleteFrame is returned by ReadFrame when the stream ends in
// the middle of a header or a body.
var ErrIncompleteFrame = errors.New("incomplete frame")

// FramingError reports a length prefix that cannot be honored: zero,
// or larger than MaxFrameLength. The stream is unusable afterwards and
// the connection must be closed.
type FramingError struct {
	Length uint64
}

func (e *FramingError) Error() string {
	if e.Length == 0 {
		return "framing error: zero-length frame"
	}
	return fmt.Sprintf("framing error: frame length %d exceeds maximum %d", e.Length, MaxFrameLength)
}

// Frame returns payload prefixed with its length.
func Frame(payload []byte) []byte {
	framed := make([]byte, FrameHeaderLength+len(payload))
	binary.LittleEndian.PutUint64(framed[:FrameHeaderLength], uint64(len(payload)))
	copy(framed[FrameHeaderLength:], payload)
	return framed
}

// WriteFrame writes one framed payload to w in a single Write call so
// that concurrent writers serialized by a mutex never interleave a
// header with another frame's body.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(Frame(payload)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame body from r.
//
// A stream that ends cleanly before any header byte returns io.EOF. A
// stream that ends after a partial header or partial body returns
// ErrIncompleteFrame. A zero or oversized length returns a
// *FramingError without consuming any body bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrIncompleteFrame
		}
		return nil, err
	}

	length := binary.LittleEndian.Uint64(header[:])
	if length == 0 || length > MaxFrameLength {
		return nil, &FramingError{Length: length}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrIncompleteFrame
		}
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return payload, nil
}
