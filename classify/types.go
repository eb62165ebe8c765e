// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import "time"

// TransactionID is the opaque correlation key tying a predictive event
// to its confirmation. Server-issued ids travel inside envelopes;
// client-initiated actions generate a fresh uuid.
type TransactionID string

// NaturalKey is the domain identifier correlating events that lack a
// transaction id — in this system, the physical RFID tag id. Channels
// that redundantly report the same physical event agree on the
// natural key even when they disagree on everything else.
type NaturalKey string

// Tier is the classification assigned to an envelope.
type Tier int

const (
	// TierUrgentPredictive is a predictive event flagged
	// highest-priority by the sender; downstream UI renders it with
	// stronger emphasis.
	TierUrgentPredictive Tier = iota
	// TierPredictive is a speculative, in-flight event.
	TierPredictive
	// TierConfirmed is an event the sender marked finalized.
	TierConfirmed
	// TierRegular is a plain state-change notification with no
	// predictive counterpart.
	TierRegular
	// TierUnknown is an unrecognized action, routed to the re-query
	// fallback.
	TierUnknown
)

// String returns the tier name for logs.
func (t Tier) String() string {
	switch t {
	case TierUrgentPredictive:
		return "urgent-predictive"
	case TierPredictive:
		return "predictive"
	case TierConfirmed:
		return "confirmed"
	case TierRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// Action strings of the push protocol.
const (
	ActionScanDetected       = "RFID_DETECTED"
	ActionScanDetectedUrgent = "RFID_DETECTED_URGENT"
	ActionRegisterPending    = "UNIT_REGISTERED_PENDING"
	ActionRegisterConfirmed  = "UNIT_REGISTERED_CONFIRMED"
	ActionMovePending        = "LOCATION_UPDATE_PENDING"
	ActionMoveConfirmed      = "LOCATION_UPDATE_CONFIRMED"
	ActionLocationChanged    = "LOCATION_CHANGED"
	ActionUnitDeleted        = "UNIT_DELETED"
)

// Payload field names shared by all channels.
const (
	// FieldTransaction carries the server-issued transaction id.
	FieldTransaction = "transactionId"
	// FieldNaturalKey carries the RFID tag id.
	FieldNaturalKey = "rfid"
	// FieldUrgent marks a predictive payload highest-priority.
	FieldUrgent = "urgent"
	// FieldPending marks a payload speculative.
	FieldPending = "pending"
	// FieldConfirmed marks a payload finalized.
	FieldConfirmed = "confirmed"
)

var urgentActions = map[string]bool{
	ActionScanDetectedUrgent: true,
}

var predictiveActions = map[string]bool{
	ActionScanDetected:    true,
	ActionRegisterPending: true,
	ActionMovePending:     true,
}

var confirmedActions = map[string]bool{
	ActionRegisterConfirmed: true,
	ActionMoveConfirmed:     true,
}

var regularActions = map[string]bool{
	ActionLocationChanged: true,
	ActionUnitDeleted:     true,
}

// PredictiveEvent is a not-yet-authoritative event as emitted on the
// predictive and immediate streams.
type PredictiveEvent struct {
	// Key is the natural key (RFID tag id).
	Key NaturalKey

	// Transaction correlates this event with its confirmation. Empty
	// when the sender supplied none.
	Transaction TransactionID

	// Action is the declared action string.
	Action string

	// Fields is the event payload.
	Fields map[string]any

	// Urgent marks highest-priority events for stronger UI emphasis.
	Urgent bool

	// Local is true for client-initiated predictions (emitted on the
	// immediate stream), false for push-sourced ones.
	Local bool

	// Latency is the measured push delivery latency, when the sender
	// embedded a send time. Diagnostic only.
	Latency time.Duration
}

// ResolutionKind distinguishes the authoritative outcomes delivered
// on the confirmed stream.
type ResolutionKind int

const (
	// KindConfirm settles an event with authoritative fields.
	KindConfirm ResolutionKind = iota
	// KindRollback withdraws a prediction; Reason says why.
	KindRollback
	// KindRemove settles a deletion: the row must leave the view
	// rather than be upserted.
	KindRemove
	// KindRequery asks consumers to re-issue their authoritative
	// query because an unrecognized change happened.
	KindRequery
)

// String returns the kind name for logs.
func (k ResolutionKind) String() string {
	switch k {
	case KindConfirm:
		return "confirm"
	case KindRollback:
		return "rollback"
	case KindRemove:
		return "remove"
	default:
		return "requery"
	}
}

// Source records where a resolution came from.
type Source string

const (
	// SourcePush is a resolution carried by a push channel.
	SourcePush Source = "push"
	// SourceLocal is a resolution produced by this client's own REST
	// round-trip (mediator confirm/cancel).
	SourceLocal Source = "local"
	// SourceSweep is a forced rollback from the TTL sweep.
	SourceSweep Source = "sweep"
)

// Resolution is an authoritative outcome: a confirmation, a rollback,
// or a re-query request. Consumed once by each subscribed screen.
type Resolution struct {
	// Kind says what happened.
	Kind ResolutionKind

	// Key is the natural key. May be empty for requery fallbacks.
	Key NaturalKey

	// Transaction is the settled transaction id, when known.
	Transaction TransactionID

	// Action is the declared action string, when known.
	Action string

	// Fields carries the authoritative field values (confirm) or
	// nothing of note (rollback, requery).
	Fields map[string]any

	// WasPredicted is true when a pending prediction existed for the
	// transaction. Consumers must handle confirmations with no prior
	// prediction (other session, dropped predictive leg, post-TTL).
	WasPredicted bool

	// Source records where the resolution came from.
	Source Source

	// Reason carries the failure reason for rollbacks ("timeout", a
	// server error message).
	Reason string
}

// TimeoutReason is the rollback reason used by the TTL sweep.
const TimeoutReason = "timeout"
