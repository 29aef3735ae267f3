// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the Snag binaries:
// reporting an error from run() before the structured logger exists,
// and the signal-scoped context every binary runs under.
package process
