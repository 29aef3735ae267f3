// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the Snag
// binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// These default to "unknown" / "0.1.0-dev" when not injected.
//
// [Info] is the one-line form, [Full] adds the Go version and platform,
// and [Print] writes the --version output of a named binary.
package version
