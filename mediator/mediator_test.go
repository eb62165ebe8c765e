// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tagflow-project/tagflow/classify"
	"github.com/tagflow-project/tagflow/fanin"
	"github.com/tagflow-project/tagflow/lib/clock"
	"github.com/tagflow-project/tagflow/lib/testutil"
	"github.com/tagflow-project/tagflow/restapi"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestMediator wires a classifier and a mediator against a test
// HTTP backend.
func newTestMediator(t *testing.T, handler http.Handler) (*Mediator, *classify.Classifier) {
	t.Helper()
	if handler == nil {
		handler = http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
		})
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	api, err := restapi.NewClient(restapi.ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	classifier := classify.New(classify.Config{Clock: clock.Fake(testEpoch)})
	t.Cleanup(classifier.Close)

	m, err := New(Config{
		Classifier: classifier,
		API:        api,
		Clock:      clock.Fake(testEpoch),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m, classifier
}

// startRun runs the mediator loop for the duration of the test.
func startRun(t *testing.T, m *Mediator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, time.Second, "mediator run exit")
	})
}

// writeResult writes a backend result envelope.
func writeResult(writer http.ResponseWriter, status int, success bool, data any, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(map[string]any{
		"success": success,
		"data":    data,
		"message": message,
	})
}

// scanEnvelope builds a push scan envelope.
func scanEnvelope(action, rfid, scanner string) fanin.Envelope {
	payload := map[string]any{"action": action, "rfid": rfid, "scannerId": scanner}
	return fanin.Envelope{Channel: "inventory.urgent", Action: action, Payload: payload, ReceivedAt: testEpoch}
}

func TestScanDetectionFillsSlot(t *testing.T) {
	m, classifier := newTestMediator(t, nil)
	scans := m.Scans().Subscribe()
	defer scans.Cancel()
	startRun(t, m)

	classifier.Process(scanEnvelope(classify.ActionScanDetectedUrgent, "TAG1", "DOCK-3"))

	scan := testutil.RequireReceive(t, scans.C, time.Second, "scan notification")
	if scan.Key != "TAG1" || scan.ScannerID != "DOCK-3" || !scan.Urgent {
		t.Errorf("scan = %+v", scan)
	}

	slot := m.LatestScan()
	if slot == nil || slot.Key != "TAG1" {
		t.Fatalf("slot = %+v", slot)
	}
}

func TestConsumeScanIsExclusive(t *testing.T) {
	m, classifier := newTestMediator(t, nil)
	scans := m.Scans().Subscribe()
	defer scans.Cancel()
	startRun(t, m)

	classifier.Process(scanEnvelope(classify.ActionScanDetected, "TAG2", "DOCK-1"))
	testutil.RequireReceive(t, scans.C, time.Second, "scan notification")

	// Many racing consumers: exactly one gets the scan.
	var wg sync.WaitGroup
	winners := make(chan *ScanDetected, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if scan := m.ConsumeScan(); scan != nil {
				winners <- scan
			}
		}()
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	if count != 1 {
		t.Errorf("consumers that won the scan = %d, want 1", count)
	}
	if m.LatestScan() != nil {
		t.Error("slot not cleared after consume")
	}
}

func TestClearScannedData(t *testing.T) {
	m, classifier := newTestMediator(t, nil)
	scans := m.Scans().Subscribe()
	defer scans.Cancel()
	startRun(t, m)

	classifier.Process(scanEnvelope(classify.ActionScanDetected, "TAG3", "DOCK-2"))
	testutil.RequireReceive(t, scans.C, time.Second, "scan notification")

	m.ClearScannedData()
	if m.LatestScan() != nil {
		t.Error("slot survived ClearScannedData")
	}
}

func TestNewerScanOverwritesSlot(t *testing.T) {
	m, classifier := newTestMediator(t, nil)
	scans := m.Scans().Subscribe()
	defer scans.Cancel()
	startRun(t, m)

	classifier.Process(scanEnvelope(classify.ActionScanDetected, "TAG4", "DOCK-1"))
	testutil.RequireReceive(t, scans.C, time.Second, "first scan")
	classifier.Process(scanEnvelope(classify.ActionScanDetected, "TAG5", "DOCK-1"))
	testutil.RequireReceive(t, scans.C, time.Second, "second scan")

	if slot := m.LatestScan(); slot == nil || slot.Key != "TAG5" {
		t.Errorf("slot = %+v, want TAG5", slot)
	}
}

func TestRegisterViaScanSuccess(t *testing.T) {
	m, classifier := newTestMediator(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != "/api/units" {
			t.Errorf("unexpected %s %s", request.Method, request.URL.Path)
		}
		writeResult(writer, http.StatusOK, true, restapi.Unit{
			ID: "u1", RFID: "TAG1", UnitCode: "U-100", Status: restapi.StatusRegistered,
		}, "")
	}))

	immediate := classifier.Immediate().Subscribe()
	defer immediate.Cancel()
	confirmed := classifier.Confirmed().Subscribe()
	defer confirmed.Cancel()
	refresh := m.Refresh().Subscribe()
	defer refresh.Cancel()

	err := m.RegisterViaScan(context.Background(), RegisterRequest{RFID: "TAG1"})
	if err != nil {
		t.Fatalf("RegisterViaScan failed: %v", err)
	}

	// The prediction surfaced on the immediate stream before the
	// confirmation settled it with server-returned fields.
	prediction := testutil.RequireReceive(t, immediate.C, time.Second, "local prediction")
	if prediction.Key != "TAG1" || !prediction.Local {
		t.Errorf("prediction = %+v", prediction)
	}
	resolution := testutil.RequireReceive(t, confirmed.C, time.Second, "confirm")
	if resolution.Kind != classify.KindConfirm || !resolution.WasPredicted {
		t.Errorf("resolution = %+v", resolution)
	}
	if resolution.Fields["unitCode"] != "U-100" {
		t.Errorf("unitCode = %v, want server-returned value", resolution.Fields["unitCode"])
	}
	testutil.RequireReceive(t, refresh.C, time.Second, "refresh broadcast")

	if _, failed := m.FailureReason("TAG1"); failed {
		t.Error("key marked failed after a success")
	}
}

func TestRegisterViaScanFailure(t *testing.T) {
	m, classifier := newTestMediator(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeResult(writer, http.StatusOK, false, nil, "duplicate")
	}))

	confirmed := classifier.Confirmed().Subscribe()
	defer confirmed.Cancel()
	refresh := m.Refresh().Subscribe()
	defer refresh.Cancel()

	err := m.RegisterViaScan(context.Background(), RegisterRequest{RFID: "TAG3"})
	var apiErr *restapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "duplicate" {
		t.Fatalf("error = %v, want duplicate APIError", err)
	}

	resolution := testutil.RequireReceive(t, confirmed.C, time.Second, "rollback")
	if resolution.Kind != classify.KindRollback {
		t.Errorf("kind = %v", resolution.Kind)
	}
	if resolution.Reason != "duplicate" {
		t.Errorf("reason = %q", resolution.Reason)
	}
	if classifier.PendingCount() != 0 {
		t.Errorf("pending count = %d after rollback", classifier.PendingCount())
	}

	// The failed key is recorded for retry affordances, and no
	// refresh is broadcast for a failed mutation.
	if reason, ok := m.FailureReason("TAG3"); !ok || reason != "duplicate" {
		t.Errorf("failure reason = %q, %v", reason, ok)
	}
	testutil.RequireNoReceive(t, refresh.C, 50*time.Millisecond, "no refresh on failure")
}

func TestUpdateLocation(t *testing.T) {
	m, _ := newTestMediator(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut || request.URL.Path != "/api/units/u7" {
			t.Errorf("unexpected %s %s", request.Method, request.URL.Path)
		}
		writeResult(writer, http.StatusOK, true, restapi.Unit{
			ID: "u7", RFID: "TAG7", LocationID: "SHELF-9",
		}, "")
	}))

	refresh := m.Refresh().Subscribe()
	defer refresh.Cancel()

	if err := m.UpdateLocation(context.Background(), "TAG7", "u7", "SHELF-9"); err != nil {
		t.Fatalf("UpdateLocation failed: %v", err)
	}
	testutil.RequireReceive(t, refresh.C, time.Second, "refresh after move")
}

func TestConfirmedRegistrationNotification(t *testing.T) {
	m, classifier := newTestMediator(t, nil)
	registrations := m.Registrations().Subscribe()
	defer registrations.Cancel()
	startRun(t, m)

	classifier.Process(fanin.Envelope{
		Channel: "inventory.registration",
		Action:  classify.ActionRegisterConfirmed,
		Payload: map[string]any{
			"action":   classify.ActionRegisterConfirmed,
			"rfid":     "TAG8",
			"unitCode": "U-800",
			"status":   "registered",
		},
		ReceivedAt: testEpoch,
	})

	registered := testutil.RequireReceive(t, registrations.C, time.Second, "registration notification")
	if registered.Key != "TAG8" || registered.Unit.UnitCode != "U-800" {
		t.Errorf("registered = %+v", registered)
	}
	if registered.Unit.Status != restapi.StatusRegistered {
		t.Errorf("status = %q", registered.Unit.Status)
	}
}

func TestRequeryTriggersRefresh(t *testing.T) {
	m, classifier := newTestMediator(t, nil)
	refresh := m.Refresh().Subscribe()
	defer refresh.Cancel()
	startRun(t, m)

	classifier.Process(fanin.Envelope{
		Channel:    "inventory.broadcast",
		Action:     "NEW_PROTOCOL_EVENT",
		Payload:    map[string]any{"action": "NEW_PROTOCOL_EVENT"},
		ReceivedAt: testEpoch,
	})

	testutil.RequireReceive(t, refresh.C, time.Second, "refresh from requery fallback")
}

func TestEventsBeforeRunAreDelivered(t *testing.T) {
	m, classifier := newTestMediator(t, nil)
	scans := m.Scans().Subscribe()
	defer scans.Cancel()
	refresh := m.Refresh().Subscribe()
	defer refresh.Cancel()

	// Events classified before the run loop is scheduled wait in the
	// subscriptions taken at construction; none may be lost.
	classifier.Process(scanEnvelope(classify.ActionScanDetected, "TAG6", "DOCK-4"))
	classifier.Process(fanin.Envelope{
		Channel:    "inventory.broadcast",
		Action:     "NEW_PROTOCOL_EVENT",
		Payload:    map[string]any{"action": "NEW_PROTOCOL_EVENT"},
		ReceivedAt: testEpoch,
	})

	startRun(t, m)

	scan := testutil.RequireReceive(t, scans.C, time.Second, "buffered scan notification")
	if scan.Key != "TAG6" {
		t.Errorf("scan = %+v", scan)
	}
	if slot := m.LatestScan(); slot == nil || slot.Key != "TAG6" {
		t.Errorf("slot = %+v", slot)
	}
	testutil.RequireReceive(t, refresh.C, time.Second, "buffered requery refresh")
}
