// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Snag
// collector and agent binaries.
//
// Configuration is loaded from a single file specified by either the
// SNAG_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). Binaries that run without either use [Default].
// There is no automatic file search.
//
// Values missing from the file keep their defaults. Command-line flags
// are applied by the binaries after loading, so a flag always wins
// over the file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded.
//
// This package depends on no other Snag packages.
package config
