// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher is the notification port the review core writes to.
type Publisher interface {
	Emit(eventType Type, data any)
}

// Handler processes one event. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(event *Event)

type subscription struct {
	handler Handler
	types   []Type
}

// Emitter fans events out to subscribers and keeps a bounded history.
//
// Thread Safety: Safe for concurrent use.
type Emitter struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	history []Event
	limit   int
	logger  *slog.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithHistory sets how many past events are retained. Zero disables
// history.
func WithHistory(n int) Option {
	return func(e *Emitter) {
		if n >= 0 {
			e.limit = n
		}
	}
}

// WithLogger sets the logger used for handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEmitter creates an Emitter retaining 256 events by default.
func NewEmitter(opts ...Option) *Emitter {
	e := &Emitter{
		subs:   make(map[string]*subscription),
		limit:  256,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers handler for the given types, or for every type
// when none are given. It returns an ID for Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.subs[id] = &subscription{handler: handler, types: types}
	e.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[id]; !ok {
		return false
	}
	delete(e.subs, id)
	return true
}

// Emit records the event and delivers it to matching subscribers. A
// panicking handler is logged and does not affect the others.
func (e *Emitter) Emit(eventType Type, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	e.mu.Lock()
	if e.limit > 0 {
		if len(e.history) >= e.limit {
			e.history = append(e.history[:0], e.history[1:]...)
		}
		e.history = append(e.history, event)
	}
	targets := make([]*subscription, 0, len(e.subs))
	for _, s := range e.subs {
		if s.matches(eventType) {
			targets = append(targets, s)
		}
	}
	e.mu.Unlock()

	for _, s := range targets {
		e.deliver(s.handler, &event)
	}
}

func (e *Emitter) deliver(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				slog.String("event_type", string(event.Type)),
				slog.String("event_id", event.ID),
				slog.Any("panic", r))
		}
	}()
	h(event)
}

func (s *subscription) matches(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

// History returns a copy of retained events, oldest first, optionally
// restricted to the given types.
func (e *Emitter) History(types ...Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	filter := subscription{types: types}
	out := make([]Event, 0, len(e.history))
	for _, ev := range e.history {
		if filter.matches(ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// Recorder is a Publisher that keeps every event. Used in tests and by
// one-shot CLI commands that print notices after the fact.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Publisher.
func (r *Recorder) Emit(eventType Type, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Events returns recorded events of the given types, or all of them.
func (r *Recorder) Events(types ...Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	filter := subscription{types: types}
	var out []Event
	for _, ev := range r.events {
		if filter.matches(ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// Notices returns the recorded notice payloads in order.
func (r *Recorder) Notices() []*NoticeData {
	var out []*NoticeData
	for _, ev := range r.Events(TypeNotice) {
		if n, ok := ev.Data.(*NoticeData); ok {
			out = append(out, n)
		}
	}
	return out
}
