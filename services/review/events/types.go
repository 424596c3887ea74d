// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries status notifications from the review core to
// whatever presents them: the terminal browser, the CLI, or a test.
package events

import "time"

// Type identifies an event kind.
type Type string

const (
	// TypeStateChanged reports an analysis state machine transition.
	// Data: *StateChangedData.
	TypeStateChanged Type = "state_changed"

	// TypeBusyChanged reports the in-flight analysis count changing.
	// Data: *BusyChangedData.
	TypeBusyChanged Type = "busy_changed"

	// TypeNotice is a user-facing message. Data: *NoticeData.
	TypeNotice Type = "notice"

	// TypeProgress is one streaming analysis frame. Data: *ProgressData.
	TypeProgress Type = "progress"

	// TypeTreeReplaced reports a new installed record. Data: *TreeReplacedData.
	TypeTreeReplaced Type = "tree_replaced"
)

// Severity grades a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one emitted notification.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// StateChangedData describes a transition. RequestID ties together the
// transitions of one analysis call.
type StateChangedData struct {
	RequestID string `json:"request_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Key       string `json:"key,omitempty"`
}

// BusyChangedData carries the number of analyses in Computing.
type BusyChangedData struct {
	InFlight int  `json:"in_flight"`
	Busy     bool `json:"busy"`
}

// NoticeData is a message for the user.
type NoticeData struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Detail   string   `json:"detail,omitempty"`
}

// ProgressData is one streaming frame.
type ProgressData struct {
	RequestID  string  `json:"request_id"`
	Turn       int     `json:"turn"`
	TotalTurns int     `json:"total_turns"`
	WinRate    float64 `json:"winrate"`
	ScoreLead  float64 `json:"score_lead"`
	Done       bool    `json:"done"`
}

// TreeReplacedData describes an installed record.
type TreeReplacedData struct {
	Generation uint64 `json:"generation"`
	Nodes      int    `json:"nodes"`
	Depth      int    `json:"depth"`
	FromCache  bool   `json:"from_cache"`
}
