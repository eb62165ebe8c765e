// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediator is the only layer that speaks the inventory
// domain's vocabulary — scans, registrations, location moves — and
// the only layer that calls the REST backend.
//
// Inbound, the [Mediator] consumes the classifier's streams and
// translates them into typed notifications: [ScanDetected],
// [UnitRegistered], [LocationChanged]. Scan detections additionally
// fill the single-slot latest-scan value. The slot is a hand-off, not
// a queue: a consumer that acts on a scan must take it with
// ConsumeScan (an atomic get-and-clear), and when several screens
// listen, exactly the first taker gets it — the RFID event is
// physically singular, so this is a feature, backed by the claim
// protocol in package viewmerge.
//
// Outbound, every mutating call goes through one optimistic helper:
// predict with a fresh transaction id, issue the REST call, confirm
// with the server's fields on success or cancel with the server's
// message on failure. The REST result is returned to the caller
// unchanged — the predictive machinery is layered on top of the
// normal request/response call, not a replacement for it. Successful
// mutations always emit the refresh broadcast, whether or not any
// screen saw the predictive leg; a screen mounted late reconciles on
// its next authoritative page fetch.
//
// Failures are never retried here. They surface as the returned
// error, a rollback on the confirmed stream, and an entry in the
// failed-key cache so list screens can show a retry affordance.
package mediator
