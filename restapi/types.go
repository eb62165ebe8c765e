// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package restapi

import "time"

// UnitStatus is the lifecycle state of an inventory unit.
type UnitStatus string

const (
	// StatusRegistered is a unit known to the backend.
	StatusRegistered UnitStatus = "registered"
	// StatusInTransit is a unit between locations.
	StatusInTransit UnitStatus = "in-transit"
	// StatusFailed marks a unit whose last registration attempt was
	// rejected; kept client-side so screens can offer a retry.
	StatusFailed UnitStatus = "failed"
)

// Unit is one RFID-tagged inventory unit as stored by the backend.
type Unit struct {
	ID           string     `json:"id"`
	RFID         string     `json:"rfid"`
	UnitCode     string     `json:"unitCode"`
	LocationID   string     `json:"locationId"`
	ScannerID    string     `json:"scannerId,omitempty"`
	Status       UnitStatus `json:"status"`
	RegisteredAt time.Time  `json:"registeredAt"`
}

// ColumnDef selects and filters one column of a search query.
type ColumnDef struct {
	// Field is the column name (e.g. "rfid", "locationId").
	Field string `json:"field"`
	// Filter is an optional equality/contains filter value.
	Filter string `json:"filter,omitempty"`
}

// SearchRequest is the paginated search query accepted by the
// backend's search endpoint.
type SearchRequest struct {
	// Order is the sort specification (e.g. "registeredAt desc").
	Order string `json:"order,omitempty"`
	// Columns selects and filters columns.
	Columns []ColumnDef `json:"columnDef,omitempty"`
	// PageIndex is the zero-based page number.
	PageIndex int `json:"pageIndex"`
	// PageSize is the page size.
	PageSize int `json:"pageSize"`
}

// Page is one page of search results plus the total match count.
type Page struct {
	Results []Unit `json:"results"`
	Total   int    `json:"total"`
}

// CreateUnitRequest registers a new unit.
type CreateUnitRequest struct {
	RFID       string `json:"rfid"`
	UnitCode   string `json:"unitCode,omitempty"`
	LocationID string `json:"locationId,omitempty"`
	ScannerID  string `json:"scannerId,omitempty"`
}

// UpdateUnitRequest mutates an existing unit. Zero-valued fields are
// left unchanged by the backend.
type UpdateUnitRequest struct {
	UnitCode   string `json:"unitCode,omitempty"`
	LocationID string `json:"locationId,omitempty"`
}

// result is the backend's standard response envelope.
type result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}
