// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package restapi is the typed client for the authoritative inventory
// backend.
//
// Every endpoint wraps its payload in the backend's standard result
// envelope: {success, data, message}. On HTTP failure or success=false
// the client returns a [*APIError] carrying the HTTP status and the
// server's message; callers extract it with errors.As. The client
// never retries — retrying a failed mutation is a user decision, and
// the predictive layer above depends on exactly one confirm or cancel
// per call.
//
// The console treats this boundary as a black box: the push channels
// are advisory, and a paginated SearchUnits is always sufficient to
// rebuild authoritative screen state.
package restapi
