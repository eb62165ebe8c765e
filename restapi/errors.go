// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package restapi

import (
	"errors"
	"fmt"
)

// APIError is a structured failure from the inventory backend: either
// a non-2xx HTTP response or a 2xx response with success=false.
// Callers extract it with errors.As:
//
//	var apiErr *restapi.APIError
//	if errors.As(err, &apiErr) {
//	    form.ShowError(apiErr.Message)
//	}
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Message is the server's human-readable error description.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("restapi: %d: %s", e.StatusCode, e.Message)
}

// ErrorMessage returns the server message when err is an *APIError,
// else err's own text. Used to attach failure reasons to rollbacks.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
