// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel helpers for tests that consume
// the core's event streams. Every blocking receive in a test goes
// through these helpers so a regression hangs for a bounded timeout
// and fails with a message instead of wedging the test binary.
package testutil
