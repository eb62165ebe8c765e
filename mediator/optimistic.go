// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"context"

	"github.com/google/uuid"

	"github.com/tagflow-project/tagflow/classify"
	"github.com/tagflow-project/tagflow/restapi"
)

// RegisterRequest carries the fields of a scan-driven registration.
type RegisterRequest struct {
	RFID       string
	UnitCode   string
	LocationID string
	ScannerID  string
}

// RegisterViaScan optimistically registers a unit: a prediction for
// the tag appears on the immediate stream before the REST call is
// issued, and is confirmed with the server's stored record or rolled
// back with the server's error. The REST error, if any, is returned
// unchanged so the calling form renders its own failure UI.
func (m *Mediator) RegisterViaScan(ctx context.Context, request RegisterRequest) error {
	key := classify.NaturalKey(request.RFID)
	speculative := map[string]any{
		"rfid":       request.RFID,
		"unitCode":   request.UnitCode,
		"locationId": request.LocationID,
		"scannerId":  request.ScannerID,
		"action":     classify.ActionRegisterPending,
	}
	return m.optimistic(ctx, key, speculative, "register", func(ctx context.Context) (map[string]any, error) {
		unit, err := m.api.CreateUnit(ctx, restapi.CreateUnitRequest{
			RFID:       request.RFID,
			UnitCode:   request.UnitCode,
			LocationID: request.LocationID,
			ScannerID:  request.ScannerID,
		})
		if err != nil {
			return nil, err
		}
		return unitFields(*unit), nil
	})
}

// UpdateLocation optimistically moves a unit to a new location.
func (m *Mediator) UpdateLocation(ctx context.Context, key classify.NaturalKey, unitID, locationID string) error {
	speculative := map[string]any{
		"rfid":       string(key),
		"id":         unitID,
		"locationId": locationID,
		"action":     classify.ActionMovePending,
	}
	return m.optimistic(ctx, key, speculative, "move", func(ctx context.Context) (map[string]any, error) {
		unit, err := m.api.UpdateUnit(ctx, unitID, restapi.UpdateUnitRequest{LocationID: locationID})
		if err != nil {
			return nil, err
		}
		return unitFields(*unit), nil
	})
}

// DeleteUnit optimistically removes a unit.
func (m *Mediator) DeleteUnit(ctx context.Context, key classify.NaturalKey, unitID string) error {
	speculative := map[string]any{
		"rfid":   string(key),
		"id":     unitID,
		"action": classify.ActionUnitDeleted,
	}
	return m.optimistic(ctx, key, speculative, "delete", func(ctx context.Context) (map[string]any, error) {
		if err := m.api.DeleteUnit(ctx, unitID); err != nil {
			return nil, err
		}
		return speculative, nil
	})
}

// optimistic wraps one mutating REST call in the
// predict/confirm/cancel protocol. Centralizing it here means no new
// call site can forget the rollback path.
//
// On success: confirm with the server's fields, drop any recorded
// failure for the key, and emit the refresh broadcast — the fallback
// consistency mechanism for screens that missed the event streams
// entirely.
//
// On failure: cancel with the server's message (which reaches screens
// as a rollback resolution), record the failure for retry
// affordances, and return the error unchanged. No retry.
func (m *Mediator) optimistic(ctx context.Context, key classify.NaturalKey, speculative map[string]any, action string, call func(context.Context) (map[string]any, error)) error {
	transaction := classify.TransactionID(uuid.NewString())
	m.classifier.Predict(key, transaction, speculative)

	confirmed, err := call(ctx)
	if err != nil {
		reason := restapi.ErrorMessage(err)
		m.logger.Warn("optimistic action failed",
			"action", action,
			"key", key,
			"transaction", transaction,
			"reason", reason,
		)
		m.classifier.Cancel(transaction, reason)
		m.recordFailure(key, reason)
		return err
	}

	m.classifier.Confirm(transaction, confirmed)
	m.clearFailure(key)
	m.refresh.Publish(RefreshSignal{Reason: action})
	return nil
}

// unitFields flattens a Unit into the field-map form the classifier's
// resolutions carry.
func unitFields(unit restapi.Unit) map[string]any {
	return map[string]any{
		"id":         unit.ID,
		"rfid":       unit.RFID,
		"unitCode":   unit.UnitCode,
		"locationId": unit.LocationID,
		"scannerId":  unit.ScannerID,
		"status":     string(unit.Status),
	}
}
