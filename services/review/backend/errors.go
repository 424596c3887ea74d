// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// -----------------------------------------------------------------------------
// Error Types
// -----------------------------------------------------------------------------

// ConfigError reports a backend configuration that cannot be used.
//
// # Description
//
// Returned by NewClient before any network activity when the mode is
// unknown or the active mode's endpoint is missing or malformed. Fatal to
// the current action and never retried.
type ConfigError struct {
	// Mode is the configured backend mode, possibly empty.
	Mode Mode

	// Field names the offending setting, e.g. "domain.base_url".
	Field string

	// Reason is a short human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("backend config (%s): %s", e.Mode, e.Reason)
	}
	return fmt.Sprintf("backend config (%s): %s: %s", e.Mode, e.Field, e.Reason)
}

// TransportError reports a request that never produced an HTTP response:
// a network failure, a deadline, or a caller abort.
type TransportError struct {
	// Op is the operation, "analyze" or "stream".
	Op string

	// URL is the request target.
	URL string

	// Timeout is true when a deadline expired.
	Timeout bool

	// Canceled is true when the caller aborted the request.
	Canceled bool

	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s %s: timed out: %v", e.Op, e.URL, e.Err)
	case e.Canceled:
		return fmt.Sprintf("%s %s: canceled: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError reports a non-success answer from the analysis service,
// either as an HTTP status or as an error object in the response body.
type BackendError struct {
	// Code is the HTTP-status-like code, e.g. 401, 429, 504.
	Code int

	// Message is the service-supplied explanation, possibly empty.
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// newTransportError classifies err from an HTTP round trip. The context
// is consulted first because net/http wraps its errors inconsistently.
func newTransportError(ctx context.Context, op, url string, err error) *TransportError {
	te := &TransportError{Op: op, URL: url, Err: err}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		te.Timeout = true
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		te.Canceled = true
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			te.Timeout = true
		}
	}
	return te
}
