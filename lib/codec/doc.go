// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Snag's standard CBOR encoding configuration.
//
// Snag uses two serialization formats with a clear boundary:
//
//   - JSON for the wire protocol between clients and the collector.
//     Every client platform speaks it, so it is fixed.
//   - CBOR for the collector's compact exports: session snapshots
//     served to local tooling that asks for application/cbor.
//
// Types that travel both ways carry only `json` tags. fxamacker/cbor
// reads `json` tags when `cbor` tags are absent, so a single tag
// controls field naming for both formats.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (HTTP response bodies):
//
//	err := codec.NewEncoder(w).Encode(value)
package codec
