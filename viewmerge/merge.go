// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package viewmerge

import (
	"slices"
	"sync"

	"github.com/tagflow-project/tagflow/classify"
	"github.com/tagflow-project/tagflow/restapi"
)

// RowState is the render state of a merged row.
type RowState int

const (
	// RowPending is a speculative placeholder with no authoritative
	// record behind it yet.
	RowPending RowState = iota
	// RowUpdating is an authoritative row with a mutation in flight.
	RowUpdating
	// RowConfirmed is a settled, authoritative row.
	RowConfirmed
)

// String returns the state name for logs.
func (s RowState) String() string {
	switch s {
	case RowPending:
		return "pending"
	case RowUpdating:
		return "updating"
	default:
		return "confirmed"
	}
}

// Row is one line of the merged view.
type Row struct {
	// Key is the natural key (RFID tag id).
	Key classify.NaturalKey

	// State drives the row's visual treatment.
	State RowState

	// Urgent marks rows to render with stronger emphasis.
	Urgent bool

	// Unit holds the authoritative record, zero-valued for pending
	// placeholders.
	Unit restapi.Unit

	// Fields holds the speculative payload a placeholder was built
	// from, nil for authoritative rows.
	Fields map[string]any

	// Transaction is the in-flight transaction id, empty once
	// settled.
	Transaction classify.TransactionID
}

// Merger combines one authoritative result page with the speculative
// events that arrive between queries. Safe for concurrent use.
//
// The merged order is placeholders newest-first, then the
// authoritative page in backend order. A prediction for a key the
// page already contains marks the existing row updating instead of
// inserting a duplicate.
type Merger struct {
	mu            sync.Mutex
	placeholders  []Row
	authoritative []Row
}

// NewMerger returns an empty Merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Rows returns a snapshot of the merged view, placeholders first.
func (m *Merger) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]Row, 0, len(m.placeholders)+len(m.authoritative))
	rows = append(rows, m.placeholders...)
	rows = append(rows, m.authoritative...)
	return rows
}

// Len returns the merged row count.
func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placeholders) + len(m.authoritative)
}

// ApplyPredictive folds one speculative event into the view. A key
// already present authoritatively goes to the updating state; a key
// already present as a placeholder is refreshed in place; anything
// else becomes a new placeholder at the top.
func (m *Merger) ApplyPredictive(event classify.PredictiveEvent) {
	if event.Key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := rowIndex(m.authoritative, event.Key); i >= 0 {
		m.authoritative[i].State = RowUpdating
		m.authoritative[i].Urgent = event.Urgent
		m.authoritative[i].Transaction = event.Transaction
		return
	}
	if i := rowIndex(m.placeholders, event.Key); i >= 0 {
		m.placeholders[i].Fields = event.Fields
		m.placeholders[i].Urgent = event.Urgent
		m.placeholders[i].Transaction = event.Transaction
		return
	}
	m.placeholders = append([]Row{{
		Key:         event.Key,
		State:       RowPending,
		Urgent:      event.Urgent,
		Fields:      event.Fields,
		Transaction: event.Transaction,
	}}, m.placeholders...)
}

// ApplyResolution settles or withdraws the row a resolution refers
// to. Confirmations replace the placeholder with the authoritative
// record (or settle an updating row); removals take the row out of
// the view entirely; rollbacks drop the placeholder and clear the
// updating state. Requery resolutions are not view mutations and are
// ignored here.
func (m *Merger) ApplyResolution(resolution classify.Resolution) {
	if resolution.Kind == classify.KindRequery {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropPlaceholderLocked(resolution)

	i := rowIndex(m.authoritative, resolution.Key)
	switch resolution.Kind {
	case classify.KindConfirm:
		confirmed := Row{
			Key:   resolution.Key,
			State: RowConfirmed,
			Unit:  unitFromFields(resolution.Fields),
		}
		if i >= 0 {
			m.authoritative[i] = confirmed
		} else if resolution.Key != "" {
			m.authoritative = append([]Row{confirmed}, m.authoritative...)
		}
	case classify.KindRemove:
		if i >= 0 {
			m.authoritative = slices.Delete(m.authoritative, i, i+1)
		}
	case classify.KindRollback:
		if i >= 0 {
			m.authoritative[i].State = RowConfirmed
			m.authoritative[i].Transaction = ""
		}
	}
}

// ApplyPage replaces the authoritative rows with a fresh query result
// and drops every placeholder the page supersedes. Applying the same
// page twice is a no-op.
func (m *Merger) ApplyPage(units []restapi.Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authoritative = make([]Row, len(units))
	present := make(map[classify.NaturalKey]bool, len(units))
	for i, unit := range units {
		key := classify.NaturalKey(unit.RFID)
		m.authoritative[i] = Row{Key: key, State: RowConfirmed, Unit: unit}
		present[key] = true
	}
	m.placeholders = slices.DeleteFunc(m.placeholders, func(row Row) bool {
		return present[row.Key]
	})
}

// dropPlaceholderLocked removes the placeholder a resolution settles,
// matching by transaction id first and by natural key second. Caller
// holds m.mu.
func (m *Merger) dropPlaceholderLocked(resolution classify.Resolution) {
	if resolution.Transaction != "" {
		for i, row := range m.placeholders {
			if row.Transaction == resolution.Transaction {
				m.placeholders = slices.Delete(m.placeholders, i, i+1)
				return
			}
		}
	}
	if resolution.Key == "" {
		return
	}
	if i := rowIndex(m.placeholders, resolution.Key); i >= 0 {
		m.placeholders = slices.Delete(m.placeholders, i, i+1)
	}
}

// rowIndex finds a row by natural key, or -1.
func rowIndex(rows []Row, key classify.NaturalKey) int {
	if key == "" {
		return -1
	}
	return slices.IndexFunc(rows, func(row Row) bool { return row.Key == key })
}

// unitFromFields rebuilds a Unit from the decoded field map a
// resolution carries.
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

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}
