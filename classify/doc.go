// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package classify decides what tier a push envelope belongs to and
// routes it onto the core's outbound streams.
//
// Every envelope lands in one of three tiers, first match wins:
// predictive (the sender marked the event speculative, optionally
// urgent), confirmed (the sender marked it finalized), or regular (a
// plain state change with no predictive counterpart). Unrecognized
// actions degrade to a generic "data changed, re-query" resolution
// instead of being dropped — the safety net against protocol drift
// between backend and console.
//
// The [Classifier] keeps the pending-transaction table correlating
// predictive events with their later confirmations. Entries are
// created by predictive envelopes carrying a transaction id or by a
// local [Classifier.Predict]; they are removed by a confirmation, an
// explicit [Classifier.Cancel], or the TTL sweep. A confirmation with
// no matching entry is still emitted — the prediction's disappearance
// never means the physical event did not happen.
//
// Outbound surface: three streams. Predictive events (push-sourced)
// on Predictive, locally-initiated predictions on Immediate so a
// screen can tell "I caused this" from "someone else's scanner caused
// this", and everything authoritative — confirmations, rollbacks,
// re-query fallbacks — as [Resolution] values on Confirmed. Carrying
// rollbacks on the confirmed stream keeps one ordered authoritative
// sequence per subscriber; a consumer cannot observe a confirm and
// the matching rollback race each other across streams.
package classify
