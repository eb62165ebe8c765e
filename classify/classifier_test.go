// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"context"
	"testing"
	"time"

	"github.com/tagflow-project/tagflow/fanin"
	"github.com/tagflow-project/tagflow/lib/clock"
	"github.com/tagflow-project/tagflow/lib/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClassifier(t *testing.T) (*Classifier, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(testEpoch)
	classifier := New(Config{Clock: fake})
	t.Cleanup(classifier.Close)
	return classifier, fake
}

// pushEnvelope builds a push envelope with the given action and body.
func pushEnvelope(action string, body map[string]any) fanin.Envelope {
	payload := map[string]any{"action": action}
	for field, value := range body {
		payload[field] = value
	}
	return fanin.Envelope{
		Channel:    "inventory.broadcast",
		Action:     action,
		Payload:    payload,
		ReceivedAt: testEpoch,
	}
}

func TestClassifyEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		action string
		body   map[string]any
		want   Tier
	}{
		{"urgent action", ActionScanDetectedUrgent, nil, TierUrgentPredictive},
		{"urgent flag beats pending flag", "CUSTOM", map[string]any{"urgent": true, "pending": true}, TierUrgentPredictive},
		{"predictive action", ActionScanDetected, nil, TierPredictive},
		{"register pending", ActionRegisterPending, nil, TierPredictive},
		{"pending flag", "CUSTOM", map[string]any{"pending": true}, TierPredictive},
		{"confirmed action", ActionRegisterConfirmed, nil, TierConfirmed},
		{"confirmed flag", "CUSTOM", map[string]any{"confirmed": true}, TierConfirmed},
		{"regular action", ActionLocationChanged, nil, TierRegular},
		{"unknown action", "SOMETHING_NEW", nil, TierUnknown},
		{"empty action", "", nil, TierUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyEnvelope(pushEnvelope(tt.action, tt.body)); got != tt.want {
				t.Errorf("classifyEnvelope(%s) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

func TestProcessPredictive(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Predictive().Subscribe()
	defer sub.Cancel()

	classifier.Process(pushEnvelope(ActionScanDetectedUrgent, map[string]any{
		"rfid":          "TAG1",
		"transactionId": "txn-1",
	}))

	event := testutil.RequireReceive(t, sub.C, time.Second, "predictive event")
	if event.Key != "TAG1" {
		t.Errorf("key = %q", event.Key)
	}
	if event.Transaction != "txn-1" {
		t.Errorf("transaction = %q", event.Transaction)
	}
	if !event.Urgent {
		t.Error("urgent not set")
	}
	if event.Local {
		t.Error("push-sourced event marked local")
	}
	if classifier.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", classifier.PendingCount())
	}
}

func TestProcessPredictiveWithoutTransaction(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Predictive().Subscribe()
	defer sub.Cancel()

	classifier.Process(pushEnvelope(ActionScanDetected, map[string]any{"rfid": "TAG2"}))

	testutil.RequireReceive(t, sub.C, time.Second, "predictive event")
	// No transaction id means nothing to correlate later: no table entry.
	if classifier.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", classifier.PendingCount())
	}
}

func TestProcessConfirmRemovesPending(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Process(pushEnvelope(ActionRegisterPending, map[string]any{
		"rfid":          "TAG1",
		"transactionId": "txn-1",
	}))
	classifier.Process(pushEnvelope(ActionRegisterConfirmed, map[string]any{
		"rfid":          "TAG1",
		"transactionId": "txn-1",
		"unitCode":      "U-100",
	}))

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "confirm resolution")
	if resolution.Kind != KindConfirm {
		t.Errorf("kind = %v", resolution.Kind)
	}
	if !resolution.WasPredicted {
		t.Error("wasPredicted = false, prediction existed")
	}
	if resolution.Fields["unitCode"] != "U-100" {
		t.Errorf("unitCode = %v", resolution.Fields["unitCode"])
	}
	if classifier.PendingCount() != 0 {
		t.Errorf("pending count = %d after confirm", classifier.PendingCount())
	}
}

func TestProcessOrphanConfirm(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	// Confirmation with no prior prediction: another tab predicted it,
	// or the predictive leg was dropped. Must still be emitted.
	classifier.Process(pushEnvelope(ActionRegisterConfirmed, map[string]any{
		"rfid":          "TAG3",
		"transactionId": "txn-elsewhere",
	}))

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "orphan confirm")
	if resolution.WasPredicted {
		t.Error("wasPredicted = true with no pending entry")
	}
	if resolution.Key != "TAG3" {
		t.Errorf("key = %q", resolution.Key)
	}
}

func TestProcessRegular(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Process(pushEnvelope(ActionLocationChanged, map[string]any{"rfid": "TAG4"}))

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "regular resolution")
	if resolution.Kind != KindConfirm {
		t.Errorf("kind = %v, regular events are already authoritative", resolution.Kind)
	}
}

func TestProcessUnknownFallsBackToRequery(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Process(pushEnvelope("FUTURE_EVENT_TYPE", map[string]any{"payload": "opaque"}))

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "requery fallback")
	if resolution.Kind != KindRequery {
		t.Errorf("kind = %v, want requery", resolution.Kind)
	}
}

func TestPredictEmitsImmediate(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	immediate := classifier.Immediate().Subscribe()
	defer immediate.Cancel()
	predictive := classifier.Predictive().Subscribe()
	defer predictive.Cancel()

	classifier.Predict("TAG5", "txn-local", map[string]any{"rfid": "TAG5"})

	event := testutil.RequireReceive(t, immediate.C, time.Second, "immediate event")
	if !event.Local {
		t.Error("local prediction not marked Local")
	}
	if classifier.PendingCount() != 1 {
		t.Errorf("pending count = %d", classifier.PendingCount())
	}
	// Local predictions never appear on the push-sourced stream.
	testutil.RequireNoReceive(t, predictive.C, 50*time.Millisecond, "predictive stream")
}

func TestConfirmLocal(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Predict("TAG6", "txn-2", map[string]any{"rfid": "TAG6"})
	classifier.Confirm("txn-2", map[string]any{"rfid": "TAG6", "unitCode": "U-200"})

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "local confirm")
	if !resolution.WasPredicted {
		t.Error("wasPredicted = false")
	}
	if resolution.Key != "TAG6" {
		t.Errorf("key = %q", resolution.Key)
	}
	if resolution.Source != SourceLocal {
		t.Errorf("source = %q", resolution.Source)
	}
	if classifier.PendingCount() != 0 {
		t.Errorf("pending count = %d", classifier.PendingCount())
	}
}

func TestConfirmUnknownStillEmits(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Confirm("txn-gone", map[string]any{"rfid": "TAG7"})

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "late confirm")
	if resolution.WasPredicted {
		t.Error("wasPredicted = true for unknown transaction")
	}
	if resolution.Key != "TAG7" {
		t.Errorf("key = %q, want natural key recovered from fields", resolution.Key)
	}
}

func TestCancelEmitsRollback(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Predict("TAG8", "txn-3", map[string]any{"rfid": "TAG8"})
	classifier.Cancel("txn-3", "duplicate")

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "rollback")
	if resolution.Kind != KindRollback {
		t.Errorf("kind = %v", resolution.Kind)
	}
	if resolution.Reason != "duplicate" {
		t.Errorf("reason = %q", resolution.Reason)
	}
	if resolution.Key != "TAG8" {
		t.Errorf("key = %q", resolution.Key)
	}
}

func TestCancelUnknownIsNoOp(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Cancel("txn-never", "whatever")
	testutil.RequireNoReceive(t, sub.C, 50*time.Millisecond, "no rollback for unknown id")
}

func TestSweepCancelsExpired(t *testing.T) {
	classifier, fake := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Predict("TAG4", "txn-old", map[string]any{"rfid": "TAG4"})
	fake.Advance(3 * time.Second)
	classifier.Predict("TAG9", "txn-young", map[string]any{"rfid": "TAG9"})

	// Default TTL is 5s: txn-old is 6s old, txn-young 3s.
	fake.Advance(3 * time.Second)
	classifier.sweep()

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "timeout rollback")
	if resolution.Kind != KindRollback || resolution.Reason != TimeoutReason {
		t.Errorf("resolution = %+v, want timeout rollback", resolution)
	}
	if resolution.Transaction != "txn-old" {
		t.Errorf("transaction = %q, want txn-old", resolution.Transaction)
	}
	if resolution.Source != SourceSweep {
		t.Errorf("source = %q", resolution.Source)
	}
	if classifier.PendingCount() != 1 {
		t.Errorf("pending count = %d, want only txn-young", classifier.PendingCount())
	}

	// Scenario D tail: the timed-out transaction admits no further
	// mutation — a second cancel emits nothing...
	classifier.Cancel("txn-old", "again")
	testutil.RequireNoReceive(t, sub.C, 50*time.Millisecond, "no second rollback")

	// ...but a late confirmation must still be accepted and rendered,
	// because the prediction's disappearance does not mean the real
	// event did not happen.
	classifier.Confirm("txn-old", map[string]any{"rfid": "TAG4"})
	late := testutil.RequireReceive(t, sub.C, time.Second, "late confirm after timeout")
	if late.Kind != KindConfirm || late.WasPredicted {
		t.Errorf("late confirm = %+v", late)
	}
}

func TestRunSweepsOnTicker(t *testing.T) {
	classifier, fake := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		classifier.Run(ctx)
	}()

	// Wait for Run to register its ticker before advancing.
	fake.WaitForTimers(1)
	classifier.Predict("TAG10", "txn-ttl", map[string]any{"rfid": "TAG10"})

	// Advance past the TTL; the ticker fires during the advance and
	// the sweep runs on the Run goroutine shortly after.
	fake.Advance(6 * time.Second)

	resolution := testutil.RequireReceive(t, sub.C, 2*time.Second, "sweep rollback")
	if resolution.Reason != TimeoutReason {
		t.Errorf("reason = %q", resolution.Reason)
	}

	cancel()
	testutil.RequireClosed(t, done, time.Second, "run exit")
}

func TestEnvelopePredictThenPushConfirm(t *testing.T) {
	// Scenario: urgent scan pushed, then registration confirmed by
	// push. The confirm resolution must carry the confirmed fields
	// and settle the prediction.
	classifier, _ := newTestClassifier(t)
	predictive := classifier.Predictive().Subscribe()
	defer predictive.Cancel()
	confirmed := classifier.Confirmed().Subscribe()
	defer confirmed.Cancel()

	classifier.Process(pushEnvelope(ActionScanDetectedUrgent, map[string]any{
		"rfid":          "TAG1",
		"transactionId": "txn-scan",
	}))
	classifier.Process(pushEnvelope(ActionRegisterConfirmed, map[string]any{
		"rfid":          "TAG1",
		"transactionId": "txn-scan",
		"unitCode":      "U-100",
	}))

	event := testutil.RequireReceive(t, predictive.C, time.Second, "scan prediction")
	if event.Key != "TAG1" || !event.Urgent {
		t.Errorf("prediction = %+v", event)
	}
	resolution := testutil.RequireReceive(t, confirmed.C, time.Second, "registration confirm")
	if resolution.Fields["unitCode"] != "U-100" || !resolution.WasPredicted {
		t.Errorf("resolution = %+v", resolution)
	}
}

func TestProcessDeletedUnitEmitsRemove(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Process(pushEnvelope(ActionUnitDeleted, map[string]any{"rfid": "TAG7"}))

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "removal resolution")
	if resolution.Kind != KindRemove {
		t.Errorf("kind = %v, deletions must not be upserted", resolution.Kind)
	}
	if resolution.Key != "TAG7" {
		t.Errorf("key = %q", resolution.Key)
	}
}

func TestProcessDeletedUnitWithConfirmedFlag(t *testing.T) {
	// Backends flag deletion pushes confirmed, which classifies them
	// into the confirmed tier. The kind must still be a removal.
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	classifier.Process(pushEnvelope(ActionUnitDeleted, map[string]any{
		"rfid":      "TAG7",
		"confirmed": true,
	}))

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "removal resolution")
	if resolution.Kind != KindRemove {
		t.Errorf("kind = %v, want remove", resolution.Kind)
	}
}

func TestConfirmLocalDeleteEmitsRemove(t *testing.T) {
	classifier, _ := newTestClassifier(t)
	sub := classifier.Confirmed().Subscribe()
	defer sub.Cancel()

	fields := map[string]any{"rfid": "TAG8", "action": ActionUnitDeleted}
	classifier.Predict("TAG8", "txn-del", fields)
	classifier.Confirm("txn-del", fields)

	resolution := testutil.RequireReceive(t, sub.C, time.Second, "local removal")
	if resolution.Kind != KindRemove {
		t.Errorf("kind = %v, want remove", resolution.Kind)
	}
	if !resolution.WasPredicted || resolution.Key != "TAG8" {
		t.Errorf("resolution = %+v", resolution)
	}
}
