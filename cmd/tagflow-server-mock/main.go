// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Tagflow-server-mock is an in-memory stand-in for the inventory
// backend. It serves the REST API consoles depend on and publishes
// a confirmed push event after every successful mutation, so a full
// console stack can run against it with no real backend.
//
// Endpoints:
//   - POST /api/units/search: paginated search
//   - POST /api/units: register a unit (rejects duplicate tags)
//   - PUT /api/units/{id}: update a unit
//   - DELETE /api/units/{id}: delete a unit
//
// Every response uses the standard {success, data, message} envelope.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	zmq "github.com/pebbe/zmq4"
	"github.com/spf13/pflag"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tagflow-project/tagflow/classify"
	"github.com/tagflow-project/tagflow/restapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var listen string
	var publish string

	flagSet := pflag.NewFlagSet("tagflow-server-mock", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", ":8080", "HTTP listen address")
	flagSet.StringVar(&publish, "publish", "tcp://*:5558", "PUB endpoint for push events")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return fmt.Errorf("creating PUB socket: %w", err)
	}
	defer socket.Close()
	if err := socket.Bind(publish); err != nil {
		return fmt.Errorf("binding PUB socket to %s: %w", publish, err)
	}

	backend := &mockBackend{
		logger: logger,
		socket: socket,
		units:  make(map[string]restapi.Unit),
		byTag:  make(map[string]string),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/units/search", backend.handleSearch).Methods(http.MethodPost)
	router.HandleFunc("/api/units", backend.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/api/units/{id}", backend.handleUpdate).Methods(http.MethodPut)
	router.HandleFunc("/api/units/{id}", backend.handleDelete).Methods(http.MethodDelete)

	server := &http.Server{Addr: listen, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveDone := make(chan error, 1)
	go func() { serveDone <- server.ListenAndServe() }()

	logger.Info("mock backend running", "listen", listen, "publish", publish)

	select {
	case err := <-serveDone:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// mockBackend is the in-memory store plus push publisher.
type mockBackend struct {
	logger *slog.Logger

	// socketMu serializes PUB socket sends; ZeroMQ sockets are not
	// safe for concurrent use.
	socketMu sync.Mutex
	socket   *zmq.Socket

	mu    sync.Mutex
	units map[string]restapi.Unit // unit id -> unit
	byTag map[string]string       // rfid -> unit id
}

func (b *mockBackend) handleSearch(writer http.ResponseWriter, request *http.Request) {
	var search restapi.SearchRequest
	if err := json.NewDecoder(request.Body).Decode(&search); err != nil {
		writeEnvelope(writer, http.StatusBadRequest, false, nil, "malformed search request")
		return
	}
	if search.PageSize <= 0 {
		search.PageSize = 50
	}

	b.mu.Lock()
	matched := make([]restapi.Unit, 0, len(b.units))
	for _, unit := range b.units {
		if matchesFilters(unit, search.Columns) {
			matched = append(matched, unit)
		}
	}
	b.mu.Unlock()

	// Newest-first is the only order the console asks for.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RegisteredAt.After(matched[j].RegisteredAt)
	})

	total := len(matched)
	start := search.PageIndex * search.PageSize
	if start > total {
		start = total
	}
	end := start + search.PageSize
	if end > total {
		end = total
	}
	writeEnvelope(writer, http.StatusOK, true, restapi.Page{Results: matched[start:end], Total: total}, "")
}

func (b *mockBackend) handleCreate(writer http.ResponseWriter, request *http.Request) {
	var create restapi.CreateUnitRequest
	if err := json.NewDecoder(request.Body).Decode(&create); err != nil {
		writeEnvelope(writer, http.StatusBadRequest, false, nil, "malformed create request")
		return
	}
	if create.RFID == "" {
		writeEnvelope(writer, http.StatusOK, false, nil, "rfid is required")
		return
	}

	b.mu.Lock()
	if _, exists := b.byTag[create.RFID]; exists {
		b.mu.Unlock()
		writeEnvelope(writer, http.StatusOK, false, nil, "duplicate")
		return
	}
	unit := restapi.Unit{
		ID:           uuid.NewString(),
		RFID:         create.RFID,
		UnitCode:     create.UnitCode,
		LocationID:   create.LocationID,
		ScannerID:    create.ScannerID,
		Status:       restapi.StatusRegistered,
		RegisteredAt: time.Now().UTC(),
	}
	if unit.UnitCode == "" {
		unit.UnitCode = "U-" + strings.ToUpper(unit.ID[:8])
	}
	b.units[unit.ID] = unit
	b.byTag[unit.RFID] = unit.ID
	b.mu.Unlock()

	b.logger.Info("unit registered", "id", unit.ID, "rfid", unit.RFID)
	b.publishEvent("inventory.registration", classify.ActionRegisterConfirmed, unit)
	writeEnvelope(writer, http.StatusOK, true, unit, "")
}

func (b *mockBackend) handleUpdate(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]
	var update restapi.UpdateUnitRequest
	if err := json.NewDecoder(request.Body).Decode(&update); err != nil {
		writeEnvelope(writer, http.StatusBadRequest, false, nil, "malformed update request")
		return
	}

	b.mu.Lock()
	unit, ok := b.units[id]
	if !ok {
		b.mu.Unlock()
		writeEnvelope(writer, http.StatusNotFound, false, nil, "unit not found")
		return
	}
	if update.UnitCode != "" {
		unit.UnitCode = update.UnitCode
	}
	if update.LocationID != "" {
		unit.LocationID = update.LocationID
	}
	b.units[id] = unit
	b.mu.Unlock()

	b.logger.Info("unit updated", "id", unit.ID, "rfid", unit.RFID, "location", unit.LocationID)
	b.publishEvent("inventory.broadcast", classify.ActionMoveConfirmed, unit)
	writeEnvelope(writer, http.StatusOK, true, unit, "")
}

func (b *mockBackend) handleDelete(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]

	b.mu.Lock()
	unit, ok := b.units[id]
	if !ok {
		b.mu.Unlock()
		writeEnvelope(writer, http.StatusNotFound, false, nil, "unit not found")
		return
	}
	delete(b.units, id)
	delete(b.byTag, unit.RFID)
	b.mu.Unlock()

	b.logger.Info("unit deleted", "id", unit.ID, "rfid", unit.RFID)
	b.publishEvent("inventory.broadcast", classify.ActionUnitDeleted, unit)
	writeEnvelope(writer, http.StatusOK, true, nil, "")
}

// publishEvent pushes one confirmed event in the broker wire format.
// Consoles other than the mutation's initiator learn about the change
// this way.
func (b *mockBackend) publishEvent(topic, action string, unit restapi.Unit) {
	body, err := msgpack.Marshal(map[string]any{
		"action":     action,
		"rfid":       unit.RFID,
		"id":         unit.ID,
		"unitCode":   unit.UnitCode,
		"locationId": unit.LocationID,
		"scannerId":  unit.ScannerID,
		"status":     string(unit.Status),
		"confirmed":  true,
		"_sentAt":    time.Now().UnixMilli(),
	})
	if err != nil {
		b.logger.Error("encoding push event", "action", action, "error", err)
		return
	}

	b.socketMu.Lock()
	_, err = b.socket.SendMessage(topic, body)
	b.socketMu.Unlock()
	if err != nil {
		b.logger.Error("publishing push event", "topic", topic, "error", err)
	}
}

// matchesFilters applies the search request's column filters as
// case-insensitive substring matches.
func matchesFilters(unit restapi.Unit, columns []restapi.ColumnDef) bool {
	for _, column := range columns {
		if column.Filter == "" {
			continue
		}
		var value string
		switch column.Field {
		case "rfid":
			value = unit.RFID
		case "unitCode":
			value = unit.UnitCode
		case "locationId":
			value = unit.LocationID
		case "scannerId":
			value = unit.ScannerID
		case "status":
			value = string(unit.Status)
		default:
			return false
		}
		if !strings.Contains(strings.ToLower(value), strings.ToLower(column.Filter)) {
			return false
		}
	}
	return true
}

// writeEnvelope writes the backend's standard response envelope.
func writeEnvelope(writer http.ResponseWriter, status int, success bool, data any, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(map[string]any{
		"success": success,
		"data":    data,
		"message": message,
	})
}
