// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package fanin

import "time"

// sentAtFields are the payload field names, in precedence order, under
// which senders embed their wall-clock send time (epoch milliseconds).
// The backend and the scanner firmware disagree on the name, so all
// known spellings are accepted.
var sentAtFields = []string{"_sentAt", "sentAt", "sent_at", "timestamp"}

// Envelope is one normalized push message. Immutable once built.
type Envelope struct {
	// Channel is the logical channel the message arrived on.
	Channel string

	// Action is the sender's declared action string (e.g.
	// "RFID_DETECTED_URGENT"). Empty when the payload carried none.
	Action string

	// Payload is the decoded message body, including the action and
	// timing fields.
	Payload map[string]any

	// SentAt is the sender-supplied send time. Zero when the payload
	// carried no recognized send-time field.
	SentAt time.Time

	// ReceivedAt is the local receive time. Always populated.
	ReceivedAt time.Time
}

// Latency returns the measured one-way delivery latency, or 0 when
// the sender did not embed a send time. Sender and receiver clocks
// are not synchronized, so this is a diagnostic value only — never an
// ordering authority.
func (e Envelope) Latency() time.Duration {
	if e.SentAt.IsZero() {
		return 0
	}
	return e.ReceivedAt.Sub(e.SentAt)
}

// StringField returns the string value of a payload field, or ""
// when the field is absent or not a string.
func (e Envelope) StringField(field string) string {
	s, _ := e.Payload[field].(string)
	return s
}

// BoolField returns the boolean value of a payload field; absent or
// non-boolean fields read as false.
func (e Envelope) BoolField(field string) bool {
	b, _ := e.Payload[field].(bool)
	return b
}

// newEnvelope normalizes one transport message. receivedAt is the
// clock reading at receive time.
func newEnvelope(message Message, receivedAt time.Time) Envelope {
	envelope := Envelope{
		Channel:    message.Channel,
		Payload:    message.Body,
		ReceivedAt: receivedAt,
	}
	if action, ok := message.Body["action"].(string); ok {
		envelope.Action = action
	}
	for _, field := range sentAtFields {
		if millis, ok := epochMillis(message.Body[field]); ok {
			envelope.SentAt = time.UnixMilli(millis)
			break
		}
	}
	return envelope
}

// epochMillis coerces the numeric types produced by the JSON and
// msgpack decoders into epoch milliseconds.
func epochMillis(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case uint64:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		return int64(v), true
	default:
		return 0, false
	}
}
