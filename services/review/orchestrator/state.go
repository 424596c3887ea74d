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

// State is one step of the analyze state machine.
//
//	Idle -> CacheCheck -> CacheHit  -> Success -> Idle
//	                   \-> Computing -> Success -> Idle
//	                               \-> Failed  -> Idle
//
// CacheCheck can also fail directly when the record does not parse.
type State string

const (
	StateIdle       State = "idle"
	StateCacheCheck State = "cache_check"
	StateCacheHit   State = "cache_hit"
	StateComputing  State = "computing"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// String implements fmt.Stringer.
func (s State) String() string { return string(s) }

// IsTerminal reports whether s ends a run.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:       {StateCacheCheck},
	StateCacheCheck: {StateCacheHit, StateComputing, StateFailed},
	StateCacheHit:   {StateSuccess},
	StateComputing:  {StateSuccess, StateFailed},
	StateSuccess:    {StateIdle},
	StateFailed:     {StateIdle},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
