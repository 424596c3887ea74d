// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/events"
	"github.com/AleutianAI/KataReview/services/review/sgf"
)

// User-facing messages produced by Classify.
const (
	MsgNotConfigured = "Analysis backend is not configured. Check the backend settings."
	MsgAuth          = "Authentication failed. Check the API key or worker credentials."
	MsgInvalidRecord = "The backend rejected the game record as invalid."
	MsgRateLimited   = "Too many analysis requests. Wait a minute and try again."
	MsgTimeout       = "Analysis timed out. Try again or lower the visit count."
	MsgFailed        = "Analysis failed. The backend could not be reached."
	MsgUnreadable    = "Could not read the game record."
	MsgBackendPrefix = "Analysis failed: "
	MsgUnknown       = "Analysis failed."
)

// Notice is a classified, user-facing failure.
type Notice struct {
	Severity events.Severity
	Message  string

	// Detail is the underlying error text, for logs or an expanded view.
	Detail string
}

// Classify maps an error from the analyze path onto a Notice.
//
//	*backend.ConfigError        -> not configured
//	*backend.TransportError     -> timeout (deadline or abort) or failed
//	*backend.BackendError 401   -> authentication
//	*backend.BackendError 400   -> invalid record
//	*backend.BackendError 429   -> rate limited
//	*backend.BackendError 504   -> timeout
//	*backend.BackendError other -> the backend's message
//	*sgf.ParseError             -> could not read
//	context errors              -> timeout
func Classify(err error) Notice {
	n := Notice{Severity: events.SeverityError}
	if err == nil {
		n.Severity = events.SeverityInfo
		return n
	}
	n.Detail = err.Error()

	var (
		cfgErr   *backend.ConfigError
		trErr    *backend.TransportError
		beErr    *backend.BackendError
		parseErr *sgf.ParseError
	)
	switch {
	case errors.As(err, &cfgErr):
		n.Message = MsgNotConfigured
	case errors.As(err, &trErr):
		if trErr.Timeout || trErr.Canceled {
			n.Message = MsgTimeout
		} else {
			n.Message = MsgFailed
		}
	case errors.As(err, &beErr):
		n.Message = backendMessage(beErr)
	case errors.As(err, &parseErr):
		n.Message = MsgUnreadable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		n.Message = MsgTimeout
	default:
		n.Message = MsgUnknown
	}
	return n
}

func backendMessage(e *backend.BackendError) string {
	switch e.Code {
	case http.StatusUnauthorized:
		return MsgAuth
	case http.StatusBadRequest:
		return MsgInvalidRecord
	case http.StatusTooManyRequests:
		return MsgRateLimited
	case http.StatusGatewayTimeout:
		return MsgTimeout
	}
	if e.Message != "" {
		return MsgBackendPrefix + e.Message
	}
	return MsgUnknown
}
