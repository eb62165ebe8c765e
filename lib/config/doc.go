// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Tagflow processes.
//
// Configuration is loaded from a single YAML file specified by:
//   - TAGFLOW_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// never override file values. This keeps configuration deterministic
// and auditable.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when the environment
// matches.
package config
