// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package fanin funnels the console's independent push-notification
// subscriptions into one normalized event source.
//
// The inventory backend pushes overlapping information on several
// logical channels at different latency tiers: a high-priority channel
// for urgent scanner events, a global broadcast channel, a per-scanner
// channel, and a new-registration channel. [FanIn] subscribes to each
// requested channel exactly once (subscriptions are refcounted and
// idempotent per channel name), wraps every inbound message in an
// [Envelope] stamped with the local receive time, and hands it to the
// injected sink — in practice the classifier.
//
// This layer does normalization and timing only. It never filters,
// deduplicates, or interprets payloads. Delivery on the underlying
// transport is best effort: a dropped message is never retried here,
// because authoritative truth always remains fetchable from the REST
// backend.
//
// [Transport] abstracts the wire. The production implementation is
// [ZMQTransport], a ZeroMQ SUB socket with one topic subscription per
// channel and msgpack-encoded bodies; tests inject an in-memory
// transport.
package fanin
