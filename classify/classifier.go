// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tagflow-project/tagflow/fanin"
	"github.com/tagflow-project/tagflow/lib/clock"
	"github.com/tagflow-project/tagflow/lib/stream"
)

// DefaultPendingTTL bounds how long a prediction may wait for its
// confirmation. One explicit value, configured centrally; nothing
// else in the system times predictions out.
const DefaultPendingTTL = 5 * time.Second

// Config configures a Classifier.
type Config struct {
	// PendingTTL is the pending-transaction timeout. Entries older
	// than this are force-cancelled with reason "timeout". If zero,
	// DefaultPendingTTL.
	PendingTTL time.Duration

	// StreamBuffer is the per-subscriber buffer on the outbound
	// streams. If zero, stream.DefaultBuffer.
	StreamBuffer int

	// Clock drives the TTL sweep and latency stamps. If nil,
	// clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// pendingEntry is one in-flight transaction.
type pendingEntry struct {
	event      PredictiveEvent
	insertedAt time.Time
}

// Classifier consumes normalized envelopes, maintains the
// pending-transaction table, and fans classified events out on three
// streams. Safe for concurrent use; the handling of a single envelope
// is atomic with respect to every other envelope and to the
// predict/confirm/cancel API.
type Classifier struct {
	pendingTTL time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[TransactionID]*pendingEntry

	predictive *stream.Stream[PredictiveEvent]
	confirmed  *stream.Stream[Resolution]
	immediate  *stream.Stream[PredictiveEvent]
}

// New creates a Classifier. Call Run to start the TTL sweep.
func New(config Config) *Classifier {
	ttl := config.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		pendingTTL: ttl,
		clock:      timeSource,
		logger:     logger,
		pending:    make(map[TransactionID]*pendingEntry),
		predictive: stream.New[PredictiveEvent](config.StreamBuffer),
		confirmed:  stream.New[Resolution](config.StreamBuffer),
		immediate:  stream.New[PredictiveEvent](config.StreamBuffer),
	}
}

// Predictive is the stream of push-sourced speculative events.
func (c *Classifier) Predictive() *stream.Stream[PredictiveEvent] { return c.predictive }

// Confirmed is the stream of authoritative resolutions: confirms,
// rollbacks, and re-query fallbacks.
func (c *Classifier) Confirmed() *stream.Stream[Resolution] { return c.confirmed }

// Immediate is the stream of locally-initiated predictions, kept
// separate from Predictive so UI can distinguish "I caused this" from
// "someone else's scanner caused this".
func (c *Classifier) Immediate() *stream.Stream[PredictiveEvent] { return c.immediate }

// classifyEnvelope assigns a tier, first match wins.
func classifyEnvelope(envelope fanin.Envelope) Tier {
	switch {
	case urgentActions[envelope.Action],
		envelope.BoolField(FieldUrgent):
		return TierUrgentPredictive
	case predictiveActions[envelope.Action],
		envelope.BoolField(FieldPending):
		return TierPredictive
	case confirmedActions[envelope.Action],
		envelope.BoolField(FieldConfirmed):
		return TierConfirmed
	case regularActions[envelope.Action]:
		return TierRegular
	default:
		return TierUnknown
	}
}

// Process classifies one envelope and emits it on the matching
// stream. This is the fan-in sink; it never blocks.
func (c *Classifier) Process(envelope fanin.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tier := classifyEnvelope(envelope)
	key := NaturalKey(envelope.StringField(FieldNaturalKey))
	transaction := TransactionID(envelope.StringField(FieldTransaction))

	switch tier {
	case TierUrgentPredictive, TierPredictive:
		event := PredictiveEvent{
			Key:         key,
			Transaction: transaction,
			Action:      envelope.Action,
			Fields:      envelope.Payload,
			Urgent:      tier == TierUrgentPredictive,
			Latency:     envelope.Latency(),
		}
		if transaction != "" {
			c.pending[transaction] = &pendingEntry{
				event:      event,
				insertedAt: c.clock.Now(),
			}
		}
		c.predictive.Publish(event)

	case TierConfirmed:
		_, wasPredicted := c.pending[transaction]
		if wasPredicted {
			delete(c.pending, transaction)
		}
		c.confirmed.Publish(Resolution{
			Kind:         settledKind(envelope.Action),
			Key:          key,
			Transaction:  transaction,
			Action:       envelope.Action,
			Fields:       envelope.Payload,
			WasPredicted: wasPredicted,
			Source:       SourcePush,
		})

	case TierRegular:
		// No predictive counterpart exists for this action on any
		// client; it is already authoritative.
		c.confirmed.Publish(Resolution{
			Kind:   settledKind(envelope.Action),
			Key:    key,
			Action: envelope.Action,
			Fields: envelope.Payload,
			Source: SourcePush,
		})

	default:
		// Unrecognized action. Degrade to "data changed, re-query"
		// rather than guessing at fields — correct but less snappy.
		c.logger.Debug("unrecognized push action, falling back to requery",
			"channel", envelope.Channel,
			"action", envelope.Action,
		)
		c.confirmed.Publish(Resolution{
			Kind:   KindRequery,
			Key:    key,
			Action: envelope.Action,
			Source: SourcePush,
		})
	}
}

// Predict is the client-initiated optimistic entry point, used when
// the local user action — not a push event — is the trigger. The
// prediction lands on the immediate stream.
func (c *Classifier) Predict(key NaturalKey, transaction TransactionID, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	event := PredictiveEvent{
		Key:         key,
		Transaction: transaction,
		Fields:      fields,
		Local:       true,
	}
	if action, ok := fields["action"].(string); ok {
		event.Action = action
	}
	c.pending[transaction] = &pendingEntry{
		event:      event,
		insertedAt: c.clock.Now(),
	}
	c.immediate.Publish(event)
}

// Confirm resolves a pending transaction with authoritative fields.
// A confirm for an unknown transaction id — the prediction was
// cancelled, timed out, or never existed here — is still emitted:
// the real event happened regardless.
func (c *Classifier) Confirm(transaction TransactionID, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resolution := Resolution{
		Kind:        KindConfirm,
		Transaction: transaction,
		Fields:      fields,
		Source:      SourceLocal,
	}
	if entry, ok := c.pending[transaction]; ok {
		delete(c.pending, transaction)
		resolution.Key = entry.event.Key
		resolution.Action = entry.event.Action
		resolution.WasPredicted = true
	} else if rfid, ok := fields[FieldNaturalKey].(string); ok {
		resolution.Key = NaturalKey(rfid)
	}
	if resolution.Action == "" {
		resolution.Action, _ = fields["action"].(string)
	}
	resolution.Kind = settledKind(resolution.Action)
	c.confirmed.Publish(resolution)
}

// settledKind maps an authoritative outcome's action to its
// resolution kind: deletions leave the view, everything else is
// upserted into it.
func settledKind(action string) ResolutionKind {
	if action == ActionUnitDeleted {
		return KindRemove
	}
	return KindConfirm
}

// Cancel withdraws a pending transaction, emitting a rollback with
// the failure reason. Cancelling an unknown id is a no-op: there is
// no placeholder left to remove.
func (c *Classifier) Cancel(transaction TransactionID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(transaction, reason, SourceLocal)
}

// cancelLocked removes the entry and publishes the rollback. Caller
// holds c.mu.
func (c *Classifier) cancelLocked(transaction TransactionID, reason string, source Source) {
	entry, ok := c.pending[transaction]
	if !ok {
		return
	}
	delete(c.pending, transaction)
	c.confirmed.Publish(Resolution{
		Kind:        KindRollback,
		Key:         entry.event.Key,
		Transaction: transaction,
		Action:      entry.event.Action,
		Fields:      entry.event.Fields,
		Source:      source,
		Reason:      reason,
	})
}

// PendingCount returns the number of in-flight transactions.
func (c *Classifier) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Run sweeps the pending table until ctx is done, force-cancelling
// entries older than the TTL so a lost confirmation cannot leave a
// placeholder row stuck on screen.
func (c *Classifier) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.pendingTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep force-cancels every entry older than the TTL.
func (c *Classifier) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.clock.Now().Add(-c.pendingTTL)
	for transaction, entry := range c.pending {
		if entry.insertedAt.After(deadline) {
			continue
		}
		c.logger.Warn("pending transaction timed out",
			"transaction", transaction,
			"key", entry.event.Key,
			"age", c.clock.Now().Sub(entry.insertedAt),
		)
		c.cancelLocked(transaction, TimeoutReason, SourceSweep)
	}
}

// Close closes the three outbound streams. Subscribers see their
// channels close after draining.
func (c *Classifier) Close() {
	c.predictive.Close()
	c.confirmed.Close()
	c.immediate.Close()
}
