// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package viewmerge reconciles authoritative query results with
// speculative events into a single row list a screen can render.
//
// The merge engine inserts a placeholder row when a prediction
// arrives, replaces it with authoritative fields when the
// confirmation lands, and drops it when the next full page already
// contains the settled record. The claim table arbitrates which of
// several mounted screens acts on a hardware scan: the first claim
// wins, everyone else stands down.
package viewmerge
