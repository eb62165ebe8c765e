// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tagflow-project/tagflow/classify"
	"github.com/tagflow-project/tagflow/lib/clock"
	"github.com/tagflow-project/tagflow/lib/stream"
	"github.com/tagflow-project/tagflow/restapi"
)

// ScanDetected is a physical scan observed at a scanner.
type ScanDetected struct {
	Key          classify.NaturalKey
	ScannerID    string
	LocationHint string
	OccurredAt   time.Time
	Urgent       bool
}

// UnitRegistered is a unit registration settled by the backend.
type UnitRegistered struct {
	Key  classify.NaturalKey
	Unit restapi.Unit
}

// LocationChanged is a confirmed location move.
type LocationChanged struct {
	Key        classify.NaturalKey
	LocationID string
}

// RefreshSignal asks listing screens to re-issue their authoritative
// query. Reason is diagnostic only.
type RefreshSignal struct {
	Reason string
}

// Config configures a Mediator.
type Config struct {
	// Classifier provides the inbound streams and the
	// predict/confirm/cancel API. Required.
	Classifier *classify.Classifier

	// API is the authoritative REST client. Required.
	API *restapi.Client

	// Clock stamps scan times. If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// StreamBuffer is the per-subscriber buffer on the domain
	// streams. If zero, stream.DefaultBuffer.
	StreamBuffer int
}

// Mediator translates classified events into domain notifications and
// funnels every mutation through the optimistic predict/confirm/cancel
// path. Safe for concurrent use.
type Mediator struct {
	classifier *classify.Classifier
	api        *restapi.Client
	clock      clock.Clock
	logger     *slog.Logger

	scans         *stream.Stream[ScanDetected]
	registrations *stream.Stream[UnitRegistered]
	moves         *stream.Stream[LocationChanged]
	refresh       *stream.Stream[RefreshSignal]

	// The classifier subscriptions are taken in New, not Run, so
	// events classified before the Run goroutine is scheduled sit in
	// the subscription buffers instead of being lost.
	predictiveSub *stream.Subscription[classify.PredictiveEvent]
	confirmedSub  *stream.Subscription[classify.Resolution]

	// slotMu guards the single-slot latest scan. Set, peek, and
	// consume are each one critical section: the check-and-clear in
	// the claim protocol can never be split by a suspension point.
	slotMu     sync.Mutex
	latestScan *ScanDetected

	failedMu sync.Mutex
	failed   map[classify.NaturalKey]string
}

// New creates a Mediator. Call Run to start translating events.
func New(config Config) (*Mediator, error) {
	if config.Classifier == nil {
		return nil, fmt.Errorf("mediator: Classifier is required")
	}
	if config.API == nil {
		return nil, fmt.Errorf("mediator: API is required")
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mediator{
		classifier:    config.Classifier,
		api:           config.API,
		clock:         timeSource,
		logger:        logger,
		scans:         stream.New[ScanDetected](config.StreamBuffer),
		registrations: stream.New[UnitRegistered](config.StreamBuffer),
		moves:         stream.New[LocationChanged](config.StreamBuffer),
		refresh:       stream.New[RefreshSignal](config.StreamBuffer),
		predictiveSub: config.Classifier.Predictive().Subscribe(),
		confirmedSub:  config.Classifier.Confirmed().Subscribe(),
		failed:        make(map[classify.NaturalKey]string),
	}, nil
}

// Scans notifies on every scan detection (the slot is set just
// before the notification is published).
func (m *Mediator) Scans() *stream.Stream[ScanDetected] { return m.scans }

// Registrations notifies on settled unit registrations.
func (m *Mediator) Registrations() *stream.Stream[UnitRegistered] { return m.registrations }

// Moves notifies on confirmed location changes.
func (m *Mediator) Moves() *stream.Stream[LocationChanged] { return m.moves }

// Refresh is the "data may be stale, re-query" broadcast.
func (m *Mediator) Refresh() *stream.Stream[RefreshSignal] { return m.refresh }

// Run consumes the classifier subscriptions taken in New until ctx is
// done, starting with anything buffered before it was scheduled. Call
// it once per Mediator.
func (m *Mediator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-m.predictiveSub.C:
			if !ok {
				return nil
			}
			m.handlePredictive(event)
		case resolution, ok := <-m.confirmedSub.C:
			if !ok {
				return nil
			}
			m.handleResolution(resolution)
		}
	}
}

// handlePredictive turns push-sourced scan detections into the
// latest-scan slot value plus a notification. Other predictive events
// reach screens through the classifier's streams unchanged.
func (m *Mediator) handlePredictive(event classify.PredictiveEvent) {
	switch event.Action {
	case classify.ActionScanDetected, classify.ActionScanDetectedUrgent:
		scan := ScanDetected{
			Key:          event.Key,
			ScannerID:    stringField(event.Fields, "scannerId"),
			LocationHint: stringField(event.Fields, "locationId"),
			OccurredAt:   m.clock.Now(),
			Urgent:       event.Urgent,
		}
		m.setScan(scan)
	}
}

// handleResolution translates authoritative resolutions into domain
// notifications.
func (m *Mediator) handleResolution(resolution classify.Resolution) {
	switch resolution.Kind {
	case classify.KindConfirm:
		switch resolution.Action {
		case classify.ActionRegisterConfirmed:
			m.clearFailure(resolution.Key)
			m.registrations.Publish(UnitRegistered{
				Key:  resolution.Key,
				Unit: unitFromFields(resolution.Fields),
			})
		case classify.ActionMoveConfirmed, classify.ActionLocationChanged:
			m.moves.Publish(LocationChanged{
				Key:        resolution.Key,
				LocationID: stringField(resolution.Fields, "locationId"),
			})
		}
	case classify.KindRequery:
		m.refresh.Publish(RefreshSignal{Reason: "unrecognized push action"})
	}
}

// LatestScan returns the current slot value without consuming it, or
// nil when the slot is empty.
func (m *Mediator) LatestScan() *ScanDetected {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if m.latestScan == nil {
		return nil
	}
	scan := *m.latestScan
	return &scan
}

// ConsumeScan atomically takes the slot value and clears it. Exactly
// one of several racing consumers receives a non-nil scan.
func (m *Mediator) ConsumeScan() *ScanDetected {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	scan := m.latestScan
	m.latestScan = nil
	return scan
}

// ClearScannedData empties the slot without reading it. Consumers
// that acted on a peeked value call this to complete the hand-off.
func (m *Mediator) ClearScannedData() {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	m.latestScan = nil
}

// setScan fills the slot and notifies subscribers. A scan that was
// never consumed is simply overwritten: the newest physical event
// wins the slot.
func (m *Mediator) setScan(scan ScanDetected) {
	m.slotMu.Lock()
	m.latestScan = &scan
	m.slotMu.Unlock()
	m.scans.Publish(scan)
}

// FailureReason reports the last failure recorded for a natural key,
// so screens can attach a retry affordance to the row.
func (m *Mediator) FailureReason(key classify.NaturalKey) (string, bool) {
	m.failedMu.Lock()
	defer m.failedMu.Unlock()
	reason, ok := m.failed[key]
	return reason, ok
}

func (m *Mediator) recordFailure(key classify.NaturalKey, reason string) {
	m.failedMu.Lock()
	defer m.failedMu.Unlock()
	m.failed[key] = reason
}

func (m *Mediator) clearFailure(key classify.NaturalKey) {
	m.failedMu.Lock()
	defer m.failedMu.Unlock()
	delete(m.failed, key)
}

// Close cancels the classifier subscriptions and closes the domain
// streams.
func (m *Mediator) Close() {
	m.predictiveSub.Cancel()
	m.confirmedSub.Cancel()
	m.scans.Close()
	m.registrations.Close()
	m.moves.Close()
	m.refresh.Close()
}

// stringField reads a string out of an event field map.
func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

// unitFromFields rebuilds a Unit from resolution fields. Fields
// carried by push envelopes are decoded maps, not typed structs.
func unitFromFields(fields map[string]any) restapi.Unit {
	return restapi.Unit{
		ID:         stringField(fields, "id"),
		RFID:       stringField(fields, "rfid"),
		UnitCode:   stringField(fields, "unitCode"),
		LocationID: stringField(fields, "locationId"),
		ScannerID:  stringField(fields, "scannerId"),
		Status:     restapi.UnitStatus(stringField(fields, "status")),
	}
}
