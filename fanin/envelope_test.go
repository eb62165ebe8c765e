// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package fanin

import (
	"testing"
	"time"
)

var receiveTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewEnvelope(t *testing.T) {
	sent := receiveTime.Add(-8 * time.Millisecond)
	envelope := newEnvelope(Message{
		Channel: "inventory.urgent",
		Body: map[string]any{
			"action":  "RFID_DETECTED_URGENT",
			"rfid":    "TAG1",
			"_sentAt": sent.UnixMilli(),
		},
	}, receiveTime)

	if envelope.Action != "RFID_DETECTED_URGENT" {
		t.Errorf("action = %q", envelope.Action)
	}
	if envelope.Channel != "inventory.urgent" {
		t.Errorf("channel = %q", envelope.Channel)
	}
	if envelope.StringField("rfid") != "TAG1" {
		t.Errorf("rfid = %q", envelope.StringField("rfid"))
	}
	if !envelope.SentAt.Equal(sent) {
		t.Errorf("sentAt = %v, want %v", envelope.SentAt, sent)
	}
	if got := envelope.Latency(); got != 8*time.Millisecond {
		t.Errorf("latency = %v, want 8ms", got)
	}
}

func TestNewEnvelopeSentAtSpellings(t *testing.T) {
	sent := receiveTime.Add(-time.Second)
	for _, field := range []string{"_sentAt", "sentAt", "sent_at", "timestamp"} {
		t.Run(field, func(t *testing.T) {
			envelope := newEnvelope(Message{
				Channel: "inventory.broadcast",
				Body:    map[string]any{"action": "LOCATION_CHANGED", field: sent.UnixMilli()},
			}, receiveTime)
			if !envelope.SentAt.Equal(sent) {
				t.Errorf("sentAt = %v, want %v", envelope.SentAt, sent)
			}
		})
	}
}

func TestNewEnvelopeSentAtNumericShapes(t *testing.T) {
	// The JSON decoder produces float64, the msgpack decoder signed
	// and unsigned integers. All must be accepted.
	millis := receiveTime.Add(-time.Second).UnixMilli()
	for name, value := range map[string]any{
		"float64": float64(millis),
		"int64":   millis,
		"uint64":  uint64(millis),
		"int":     int(millis),
	} {
		t.Run(name, func(t *testing.T) {
			envelope := newEnvelope(Message{
				Body: map[string]any{"_sentAt": value},
			}, receiveTime)
			if envelope.SentAt.IsZero() {
				t.Error("sentAt not extracted")
			}
		})
	}
}

func TestNewEnvelopeNoSentAt(t *testing.T) {
	envelope := newEnvelope(Message{
		Body: map[string]any{"action": "LOCATION_CHANGED", "_sentAt": "not-a-number"},
	}, receiveTime)
	if !envelope.SentAt.IsZero() {
		t.Errorf("sentAt = %v, want zero", envelope.SentAt)
	}
	if got := envelope.Latency(); got != 0 {
		t.Errorf("latency = %v, want 0", got)
	}
	if !envelope.ReceivedAt.Equal(receiveTime) {
		t.Errorf("receivedAt = %v", envelope.ReceivedAt)
	}
}

func TestNewEnvelopeNoAction(t *testing.T) {
	envelope := newEnvelope(Message{Body: map[string]any{"rfid": "TAG1"}}, receiveTime)
	if envelope.Action != "" {
		t.Errorf("action = %q, want empty", envelope.Action)
	}
}
