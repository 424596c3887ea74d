// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs the end-to-end "analyze this record"
// operation: canonicalise, fingerprint, consult the cache, call the
// backend on a miss, and install the result into the game tree.
//
// Every run reports its transitions, the busy flag, and failures through
// an events.Publisher. Nothing is returned to a UI directly except the
// Result of the call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/cache"
	"github.com/AleutianAI/KataReview/services/review/events"
	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/sgf"
	"github.com/AleutianAI/KataReview/services/review/telemetry"
)

var (
	// ErrNoRecord is returned by AnalyzeCurrent when the tree is empty.
	ErrNoRecord = errors.New("orchestrator: no record loaded")

	// ErrNilTree is returned by New without a tree.
	ErrNilTree = errors.New("orchestrator: tree is required")

	// ErrNilFactory is returned by New without a client factory.
	ErrNilFactory = errors.New("orchestrator: client factory is required")
)

// ClientFactory returns the backend client for the current settings. It
// is invoked only on a cache miss, once per computed run.
type ClientFactory func() (backend.Client, error)

// Request is one analyze invocation.
type Request struct {
	// Record is SGF text. It is parsed and re-serialised before
	// fingerprinting, so formatting differences share a cache entry.
	Record string

	// Steps is the engine visit count.
	Steps int

	// Range optionally restricts the analysed turns.
	Range *cache.Range
}

// Result describes how a run ended.
type Result struct {
	RequestID string
	State     State
	Key       cache.Key
	FromCache bool

	// Display is the node focused after installation, nil on failure.
	Display gametree.Node

	// Notice is set when State is StateFailed.
	Notice *Notice
}

// Orchestrator drives analyze runs against one game tree.
//
// Thread Safety: Safe for concurrent use. Overlapping runs are not
// serialised; the tree reflects whichever finishes last unless
// WithSharedInFlight is set.
type Orchestrator struct {
	tree      *gametree.Tree
	cache     *cache.Cache
	factory   ClientFactory
	publisher events.Publisher
	logger    *slog.Logger

	shared bool
	flight singleflight.Group

	inFlight atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSharedInFlight collapses concurrent runs for the same fingerprint
// into one backend call whose result every caller installs.
func WithSharedInFlight() Option {
	return func(o *Orchestrator) { o.shared = true }
}

type discard struct{}

func (discard) Emit(events.Type, any) {}

// New wires an Orchestrator.
//
// # Inputs
//
//   - tree: the game tree results are installed into. Required.
//   - c: the analysis cache. Nil disables caching.
//   - factory: builds the backend client on a miss. Required.
//   - publisher: receives status events. Nil discards them.
func New(tree *gametree.Tree, c *cache.Cache, factory ClientFactory, publisher events.Publisher, opts ...Option) (*Orchestrator, error) {
	if tree == nil {
		return nil, ErrNilTree
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	if publisher == nil {
		publisher = discard{}
	}
	o := &Orchestrator{
		tree:      tree,
		cache:     c,
		factory:   factory,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Tree returns the managed tree.
func (o *Orchestrator) Tree() *gametree.Tree { return o.tree }

// Busy reports whether any run is in Computing.
func (o *Orchestrator) Busy() bool { return o.inFlight.Load() > 0 }

// InFlight returns the number of runs in Computing.
func (o *Orchestrator) InFlight() int { return int(o.inFlight.Load()) }

// run carries the per-invocation state of one Analyze call.
type run struct {
	o     *Orchestrator
	id    string
	state State
	key   cache.Key
	start time.Time
}

func (o *Orchestrator) newRun() *run {
	return &run{o: o, id: uuid.NewString(), state: StateIdle, start: time.Now()}
}

func (r *run) to(next State) {
	if !CanTransition(r.state, next) {
		r.o.logger.Error("invalid analyze transition",
			slog.String("request_id", r.id),
			slog.String("from", r.state.String()),
			slog.String("to", next.String()))
	}
	r.o.publisher.Emit(events.TypeStateChanged, &events.StateChangedData{
		RequestID: r.id,
		From:      r.state.String(),
		To:        next.String(),
		Key:       string(r.key),
	})
	r.state = next
}

// Analyze runs the state machine for req.
//
// # Description
//
//  1. Parse and re-serialise req.Record. A ParseError fails the run.
//  2. Fingerprint and look up. A hit whose value parses is installed
//     without constructing a backend client. Lookup errors and unreadable
//     cached values count as misses.
//  3. On a miss, enter Computing (busy), obtain a client from the
//     factory, and call Analyze.
//  4. Parse the response, store it (best effort), and install it with
//     ReplaceRoot so the navigation depth carries over.
//
// If ctx is done when the backend answers, the result is stored but not
// installed and the run fails with the context error.
//
// # Outputs
//
//   - Result: always populated; Notice is set on failure.
//   - error: the unclassified cause on failure, nil on success.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (Result, error) {
	r := o.newRun()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Orchestrator.Analyze",
		trace.WithAttributes(
			attribute.String("request_id", r.id),
			attribute.Int("steps", req.Steps),
		))
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, o.logger).With(slog.String("request_id", r.id))

	r.to(StateCacheCheck)

	canonical, err := Canonicalize(req.Record)
	if err != nil {
		return o.fail(ctx, r, span, logger, err)
	}
	r.key = cache.Fingerprint(canonical, req.Steps, req.Range)
	span.SetAttributes(attribute.String("cache.key", string(r.key)))

	if root := o.lookup(ctx, r.key, logger); root != nil {
		r.to(StateCacheHit)
		display, err := o.tree.ReplaceRoot(root)
		if err != nil {
			return o.fail(ctx, r, span, logger, err)
		}
		return o.succeed(ctx, r, span, logger, display, true)
	}

	r.to(StateComputing)
	o.enterBusy(ctx)
	defer o.leaveBusy(ctx)

	root, err := o.compute(ctx, r.key, backend.Request{
		Record:    canonical,
		Steps:     req.Steps,
		StartTurn: rangeStart(req.Range),
		EndTurn:   rangeEnd(req.Range),
	}, logger)
	if err != nil {
		return o.fail(ctx, r, span, logger, err)
	}
	if err := ctx.Err(); err != nil {
		logger.Info("analysis finished after the caller gave up; cached, not installed",
			slog.String("key", string(r.key)))
		return o.fail(ctx, r, span, logger, err)
	}

	display, err := o.tree.ReplaceRoot(root)
	if err != nil {
		return o.fail(ctx, r, span, logger, err)
	}
	return o.succeed(ctx, r, span, logger, display, false)
}

// AnalyzeCurrent analyses the record currently installed in the tree.
func (o *Orchestrator) AnalyzeCurrent(ctx context.Context, steps int, rng *cache.Range) (Result, error) {
	var record string
	err := o.tree.Do(func(root *gametree.RootNode) error {
		if root == nil {
			return ErrNoRecord
		}
		record = sgf.Serialize(root)
		return nil
	})
	if err != nil {
		return Result{State: StateFailed}, err
	}
	return o.Analyze(ctx, Request{Record: record, Steps: steps, Range: rng})
}

// Import parses text and installs it as a fresh record, focused by the
// tree's start policy. A ParseError is reported and returned; the tree
// is left untouched.
func (o *Orchestrator) Import(text string) (gametree.Node, error) {
	root, err := sgf.Parse(text)
	if err != nil {
		o.notify(Classify(err))
		return nil, fmt.Errorf("import: %w", err)
	}
	display, err := o.tree.Load(root)
	if err != nil {
		return nil, err
	}
	o.publisher.Emit(events.TypeTreeReplaced, &events.TreeReplacedData{
		Generation: o.tree.Generation(),
		Nodes:      gametree.CountNodes(root),
		Depth:      gametree.Depth(display),
	})
	return display, nil
}

// Canonicalize parses record and serialises it back, yielding the text
// that is fingerprinted and sent to the backend.
func Canonicalize(record string) (string, error) {
	root, err := sgf.Parse(record)
	if err != nil {
		return "", err
	}
	return sgf.Serialize(root), nil
}

// lookup returns the parsed cached tree, or nil for any kind of miss.
func (o *Orchestrator) lookup(ctx context.Context, key cache.Key, logger *slog.Logger) *gametree.RootNode {
	if o.cache == nil {
		return nil
	}
	text, ok, err := o.cache.Lookup(ctx, key)
	if err != nil {
		logger.Warn("cache lookup failed, treating as miss",
			slog.String("key", string(key)),
			slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	root, err := sgf.Parse(text)
	if err != nil {
		logger.Warn("cached record unreadable, treating as miss",
			slog.String("key", string(key)),
			slog.String("error", err.Error()))
		return nil
	}
	return root
}

// compute obtains a client, runs the analysis, validates and stores the
// response. With WithSharedInFlight, concurrent callers for the same key
// share one call; each receives its own parsed tree. The shared call is
// detached from every caller's cancellation and bounded by the backend
// timeout, so a caller that gives up only ends its own wait.
func (o *Orchestrator) compute(ctx context.Context, key cache.Key, req backend.Request, logger *slog.Logger) (*gametree.RootNode, error) {
	call := func(ctx context.Context) (string, error) {
		client, err := o.factory()
		if err != nil {
			return "", err
		}
		text, err := client.Analyze(ctx, req)
		if err != nil {
			return "", err
		}
		if _, err := sgf.Parse(text); err != nil {
			return "", fmt.Errorf("backend response: %w", err)
		}
		o.store(ctx, key, text, logger)
		return text, nil
	}

	if !o.shared {
		text, err := call(ctx)
		if err != nil {
			return nil, err
		}
		return sgf.Parse(text)
	}

	shared := context.WithoutCancel(ctx)
	ch := o.flight.DoChan(string(key), func() (any, error) { return call(shared) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return sgf.Parse(res.Val.(string))
	}
}

// store is best effort. The write is detached from ctx so a caller that
// gave up still leaves the finished result behind.
func (o *Orchestrator) store(ctx context.Context, key cache.Key, text string, logger *slog.Logger) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(context.WithoutCancel(ctx), key, text); err != nil {
		logger.Warn("cache store failed",
			slog.String("key", string(key)),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) succeed(ctx context.Context, r *run, span trace.Span, logger *slog.Logger, display gametree.Node, fromCache bool) (Result, error) {
	r.to(StateSuccess)
	outcome := "computed"
	if fromCache {
		outcome = "cache_hit"
	}
	recordRun(ctx, r.start, outcome)
	telemetry.SetSpanOK(span)

	o.publisher.Emit(events.TypeTreeReplaced, &events.TreeReplacedData{
		Generation: o.tree.Generation(),
		Nodes:      gametree.CountNodes(gametree.RootOf(display)),
		Depth:      gametree.Depth(display),
		FromCache:  fromCache,
	})
	logger.Info("analysis installed",
		slog.String("key", string(r.key)),
		slog.Bool("from_cache", fromCache),
		slog.Duration("elapsed", time.Since(r.start)))

	res := Result{
		RequestID: r.id,
		State:     StateSuccess,
		Key:       r.key,
		FromCache: fromCache,
		Display:   display,
	}
	r.to(StateIdle)
	return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, span trace.Span, logger *slog.Logger, err error) (Result, error) {
	r.to(StateFailed)
	recordRun(ctx, r.start, "failed")
	telemetry.RecordError(span, err)

	n := Classify(err)
	o.notify(n)
	logger.Warn("analysis failed",
		slog.String("key", string(r.key)),
		slog.String("message", n.Message),
		slog.String("error", err.Error()))

	res := Result{
		RequestID: r.id,
		State:     StateFailed,
		Key:       r.key,
		Notice:    &n,
	}
	r.to(StateIdle)
	return res, err
}

func (o *Orchestrator) notify(n Notice) {
	o.publisher.Emit(events.TypeNotice, &events.NoticeData{
		Severity: n.Severity,
		Message:  n.Message,
		Detail:   n.Detail,
	})
}

func (o *Orchestrator) enterBusy(ctx context.Context) {
	n := o.inFlight.Add(1)
	recordInFlight(ctx, 1)
	o.publisher.Emit(events.TypeBusyChanged, &events.BusyChangedData{InFlight: int(n), Busy: true})
}

func (o *Orchestrator) leaveBusy(ctx context.Context) {
	n := o.inFlight.Add(-1)
	recordInFlight(ctx, -1)
	o.publisher.Emit(events.TypeBusyChanged, &events.BusyChangedData{InFlight: int(n), Busy: n > 0})
}

func rangeStart(r *cache.Range) *int {
	if r == nil {
		return nil
	}
	return r.Start
}

func rangeEnd(r *cache.Range) *int {
	if r == nil {
		return nil
	}
	return r.End
}
