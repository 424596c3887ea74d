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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/cache"
	"github.com/AleutianAI/KataReview/services/review/events"
	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/navigation"
	"github.com/AleutianAI/KataReview/services/review/sgf"
)

const record = "(;SZ[19];B[pd];W[dd];B[pp])"

// fakeClient answers with an annotated copy of the request record.
type fakeClient struct {
	mu       sync.Mutex
	requests []backend.Request

	err      error
	before   func(ctx context.Context, req backend.Request) error
	progress []backend.Progress
}

func (f *fakeClient) Mode() backend.Mode { return backend.ModeDomain }

func (f *fakeClient) Analyze(ctx context.Context, req backend.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.before != nil {
		if err := f.before(ctx, req); err != nil {
			return "", err
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return annotated(req.Record, 55.5), nil
}

func (f *fakeClient) AnalyzeStream(ctx context.Context, req backend.Request, fn func(backend.Progress) error) error {
	if f.err != nil {
		return f.err
	}
	for _, p := range f.progress {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// annotated returns rec with every main-line move annotated.
func annotated(rec string, win float64) string {
	root, err := sgf.Parse(rec)
	if err != nil {
		panic(err)
	}
	for i, n := range gametree.MainLine(root) {
		sgf.Annotate(n, win, float64(i))
	}
	return sgf.Serialize(root)
}

type harness struct {
	orch     *Orchestrator
	tree     *gametree.Tree
	cache    *cache.Cache
	store    *cache.MemoryStore
	client   *fakeClient
	factory  *atomic.Int64
	recorder *events.Recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := cache.NewMemoryStore()
	c, err := cache.New(store)
	require.NoError(t, err)

	h := &harness{
		tree:     gametree.NewTree(gametree.WithDepthPolicy(navigation.NewDepthTracker())),
		cache:    c,
		store:    store,
		client:   &fakeClient{},
		factory:  &atomic.Int64{},
		recorder: events.NewRecorder(),
	}
	factory := func() (backend.Client, error) {
		h.factory.Add(1)
		return h.client, nil
	}
	h.orch, err = New(h.tree, c, factory, h.recorder, opts...)
	require.NoError(t, err)
	return h
}

func canonical(t *testing.T, rec string) string {
	t.Helper()
	s, err := Canonicalize(rec)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	factory := func() (backend.Client, error) { return nil, nil }
	_, err := New(nil, nil, factory, nil)
	assert.ErrorIs(t, err, ErrNilTree)
	_, err = New(gametree.NewTree(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilFactory)

	o, err := New(gametree.NewTree(), nil, factory, nil)
	require.NoError(t, err)
	assert.False(t, o.Busy())
}

func TestAnalyze_CacheHitMakesNoBackendCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := cache.Fingerprint(canonical(t, record), 200, nil)
	require.NoError(t, h.cache.Put(ctx, key, annotated(record, 61)))

	res, err := h.orch.Analyze(ctx, Request{Record: record, Steps: 200})
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, res.State)
	assert.True(t, res.FromCache)
	assert.Equal(t, key, res.Key)
	assert.Zero(t, h.factory.Load(), "factory must not be invoked on a hit")
	assert.Zero(t, h.client.calls())

	first := h.tree.Root().Children()[0]
	require.NotNil(t, first.Annotation)
	assert.InDelta(t, 61.0, first.Annotation.WinRate, 0.001)

	for _, ev := range h.recorder.Events(events.TypeBusyChanged) {
		t.Fatalf("unexpected busy event on a hit: %+v", ev.Data)
	}
}

func TestAnalyze_MissComputesStoresAndReuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Analyze(ctx, Request{Record: record, Steps: 200})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, h.client.calls())
	assert.Equal(t, canonical(t, record), h.client.requests[0].Record)
	assert.Equal(t, 200, h.client.requests[0].Steps)
	assert.Equal(t, 1, h.store.Len())

	res, err = h.orch.Analyze(ctx, Request{Record: "(;SZ[19]\n;B[pd] ;W[dd];B[pp])", Steps: 200})
	require.NoError(t, err)
	assert.True(t, res.FromCache, "formatting differences share a fingerprint")
	assert.Equal(t, int64(1), h.factory.Load())
}

func TestAnalyze_RangeIsFingerprintedAndSent(t *testing.T) {
	h := newHarness(t)
	start, end := 2, 3
	rng := cache.NewRange(&start, &end)

	res, err := h.orch.Analyze(context.Background(), Request{Record: record, Steps: 100, Range: rng})
	require.NoError(t, err)
	assert.Equal(t, cache.Fingerprint(canonical(t, record), 100, rng), res.Key)
	assert.NotEqual(t, cache.Fingerprint(canonical(t, record), 100, nil), res.Key)
	require.Len(t, h.client.requests, 1)
	assert.Equal(t, 2, *h.client.requests[0].StartTurn)
	assert.Equal(t, 3, *h.client.requests[0].EndTurn)
}

func TestAnalyze_StateAndBusyEvents(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Analyze(context.Background(), Request{Record: record, Steps: 100})
	require.NoError(t, err)

	var path []string
	for _, ev := range h.recorder.Events(events.TypeStateChanged) {
		d := ev.Data.(*events.StateChangedData)
		path = append(path, d.From+">"+d.To)
	}
	assert.Equal(t, []string{
		"idle>cache_check",
		"cache_check>computing",
		"computing>success",
		"success>idle",
	}, path)

	busy := h.recorder.Events(events.TypeBusyChanged)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].Data.(*events.BusyChangedData).Busy)
	assert.False(t, busy[1].Data.(*events.BusyChangedData).Busy)
	assert.False(t, h.orch.Busy())

	replaced := h.recorder.Events(events.TypeTreeReplaced)
	require.Len(t, replaced, 1)
	assert.Equal(t, 3, replaced[0].Data.(*events.TreeReplacedData).Nodes)
}

func TestAnalyze_BusyDuringComputing(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	h.client.before = func(ctx context.Context, _ backend.Request) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.Analyze(context.Background(), Request{Record: record, Steps: 100})
	}()
	<-entered
	assert.True(t, h.orch.Busy())
	assert.Equal(t, 1, h.orch.InFlight())
	close(release)
	<-done
	assert.False(t, h.orch.Busy())
}

func TestAnalyze_FailureLeavesTreeUntouched(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", &backend.BackendError{Code: 429, Message: "slow down"}, MsgRateLimited},
		{"auth", &backend.BackendError{Code: 401}, MsgAuth},
		{"abort", &backend.TransportError{Op: "analyze", Canceled: true, Err: context.Canceled}, MsgTimeout},
		{"unreachable", &backend.TransportError{Op: "analyze", Err: errors.New("connection refused")}, MsgFailed},
		{"server", &backend.BackendError{Code: 500, Message: "engine crashed"}, MsgBackendPrefix + "engine crashed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.orch.Import(record)
			require.NoError(t, err)
			before := h.tree.Root()
			gen := h.tree.Generation()

			h.client.err = tt.err
			res, err := h.orch.Analyze(context.Background(), Request{Record: record, Steps: 100})
			require.ErrorIs(t, err, tt.err)

			assert.Equal(t, StateFailed, res.State)
			require.NotNil(t, res.Notice)
			assert.Equal(t, tt.want, res.Notice.Message)
			assert.Same(t, before, h.tree.Root())
			assert.Equal(t, gen, h.tree.Generation())
			assert.False(t, h.orch.Busy())
			assert.Zero(t, h.store.Len())

			notices := h.recorder.Notices()
			require.Len(t, notices, 1)
			assert.Equal(t, tt.want, notices[0].Message)
			assert.Equal(t, events.SeverityError, notices[0].Severity)
		})
	}
}

func TestAnalyze_ConfigErrorFromFactory(t *testing.T) {
	tree := gametree.NewTree()
	rec := events.NewRecorder()
	o, err := New(tree, nil, func() (backend.Client, error) {
		return backend.NewClient(backend.Config{Mode: backend.ModeDomain})
	}, rec)
	require.NoError(t, err)

	res, err := o.Analyze(context.Background(), Request{Record: record, Steps: 100})
	var cfgErr *backend.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, MsgNotConfigured, res.Notice.Message)
	assert.Nil(t, tree.Root())
}

func TestAnalyze_UnparsableRecord(t *testing.T) {
	h := newHarness(t)
	res, err := h.orch.Analyze(context.Background(), Request{Record: "not a record", Steps: 100})

	var perr *sgf.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, MsgUnreadable, res.Notice.Message)
	assert.Zero(t, h.factory.Load())
}

func TestAnalyze_UnparsableResponseIsNotCached(t *testing.T) {
	h := newHarness(t)
	bad := &badClient{}
	o, err := New(h.tree, h.cache, func() (backend.Client, error) { return bad, nil }, h.recorder)
	require.NoError(t, err)

	res, err := o.Analyze(context.Background(), Request{Record: record, Steps: 100})
	require.Error(t, err)
	assert.Equal(t, MsgUnreadable, res.Notice.Message)
	assert.Zero(t, h.store.Len())
}

type badClient struct{ fakeClient }

func (*badClient) Analyze(context.Context, backend.Request) (string, error) {
	return "(;B[zz", nil
}

func TestAnalyze_CorruptCacheEntryIsMiss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := cache.Fingerprint(canonical(t, record), 100, nil)
	require.NoError(t, h.cache.Put(ctx, key, "(;SZ[19];B[zz]"))

	res, err := h.orch.Analyze(ctx, Request{Record: record, Steps: 100})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, h.client.calls())

	text, ok, err := h.cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, text, "Winrate: 55.5%")
}

// brokenStore fails every operation.
type brokenStore struct{}

var errDisk = errors.New("disk full")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDisk }
func (brokenStore) Put(context.Context, string, []byte) error         { return errDisk }
func (brokenStore) Delete(context.Context, string) error              { return errDisk }
func (brokenStore) Close() error                                      { return nil }

func TestAnalyze_CacheFailuresAreSwallowed(t *testing.T) {
	c, err := cache.New(brokenStore{})
	require.NoError(t, err)
	client := &fakeClient{}
	rec := events.NewRecorder()
	o, err := New(gametree.NewTree(), c, func() (backend.Client, error) { return client, nil }, rec)
	require.NoError(t, err)

	res, err := o.Analyze(context.Background(), Request{Record: record, Steps: 100})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 1, client.calls())
	assert.Empty(t, rec.Notices())
}

func TestAnalyze_CanceledResultIsCachedNotInstalled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.client.before = func(context.Context, backend.Request) error {
		cancel()
		return nil
	}

	res, err := h.orch.Analyze(ctx, Request{Record: record, Steps: 100})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, MsgTimeout, res.Notice.Message)
	assert.Nil(t, h.tree.Root())
	assert.Equal(t, 1, h.store.Len())

	res, err = h.orch.Analyze(context.Background(), Request{Record: record, Steps: 100})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestAnalyze_LastWriteWins(t *testing.T) {
	h := newHarness(t)
	recA := "(;SZ[19];B[pd])"
	recB := "(;SZ[19];B[dp])"
	gates := map[string]chan struct{}{
		canonical(t, recA): make(chan struct{}),
		canonical(t, recB): make(chan struct{}),
	}
	var started sync.WaitGroup
	started.Add(2)
	h.client.before = func(ctx context.Context, req backend.Request) error {
		started.Done()
		<-gates[req.Record]
		return nil
	}

	results := make(chan string, 2)
	analyze := func(rec string) {
		_, err := h.orch.Analyze(context.Background(), Request{Record: rec, Steps: 100})
		if err != nil {
			results <- err.Error()
			return
		}
		results <- rec
	}
	go analyze(recA)
	go analyze(recB)
	started.Wait()
	assert.Equal(t, 2, h.orch.InFlight())

	close(gates[canonical(t, recB)])
	assert.Equal(t, recB, <-results)
	close(gates[canonical(t, recA)])
	assert.Equal(t, recA, <-results)

	first := h.tree.Root().Children()[0]
	assert.Equal(t, gametree.Point{X: 15, Y: 3}, first.Move.Point, "the run finishing last owns the tree")
}

func TestAnalyze_SharedInFlight(t *testing.T) {
	h := newHarness(t, WithSharedInFlight())
	release := make(chan struct{})
	h.client.before = func(context.Context, backend.Request) error {
		<-release
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Analyze(context.Background(), Request{Record: record, Steps: 100})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return h.orch.InFlight() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, h.client.calls())
}

func TestAnalyze_SharedInFlight_CallerCancelDoesNotFailOthers(t *testing.T) {
	h := newHarness(t, WithSharedInFlight())
	release := make(chan struct{})
	h.client.before = func(ctx context.Context, _ backend.Request) error {
		<-release
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	canceled := make(chan error, 1)
	go func() {
		_, err := h.orch.Analyze(ctx, Request{Record: record, Steps: 100})
		canceled <- err
	}()
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Analyze(context.Background(), Request{Record: record, Steps: 100})
		done <- err
	}()
	require.Eventually(t, func() bool { return h.orch.InFlight() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-canceled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting on the shared call")
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.client.calls())
	assert.Equal(t, 1, h.store.Len())
}

func TestAnalyze_PreservesDepth(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Import(record)
	require.NoError(t, err)

	second := h.tree.Root().Children()[0].Children()[0]
	require.NoError(t, h.tree.SetCurrentNode(second))

	res, err := h.orch.AnalyzeCurrent(context.Background(), 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, gametree.Depth(res.Display))
	assert.Same(t, res.Display, h.tree.Current())
	move := res.Display.(*gametree.MoveNode)
	require.NotNil(t, move.Annotation)
	assert.InDelta(t, 1.0, move.Annotation.ScoreLead, 0.001)
}

func TestAnalyzeCurrent_NoRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.AnalyzeCurrent(context.Background(), 100, nil)
	assert.ErrorIs(t, err, ErrNoRecord)
	assert.Zero(t, h.factory.Load())
}

func TestImport(t *testing.T) {
	h := newHarness(t)
	display, err := h.orch.Import("(;SZ[19];B[pd];W[dd])")
	require.NoError(t, err)
	assert.True(t, display.IsRoot())
	assert.Equal(t, 2, gametree.CountNodes(h.tree.Root()))

	replaced := h.recorder.Events(events.TypeTreeReplaced)
	require.Len(t, replaced, 1)
	assert.False(t, replaced[0].Data.(*events.TreeReplacedData).FromCache)

	_, err = h.orch.Import("(;SZ[19];B[pd]")
	var perr *sgf.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, gametree.CountNodes(h.tree.Root()), "failed import keeps the old tree")
	require.Len(t, h.recorder.Notices(), 1)
	assert.Equal(t, MsgUnreadable, h.recorder.Notices()[0].Message)
}

func TestAnalyzeStream(t *testing.T) {
	h := newHarness(t)
	h.client.progress = []backend.Progress{
		{Turn: 1, TotalTurns: 3, WinRate: 0.5},
		{Turn: 2, TotalTurns: 3, WinRate: 0.6},
		{Turn: 3, TotalTurns: 3, WinRate: 0.7, Done: true},
	}
	var seen []int
	err := h.orch.AnalyzeStream(context.Background(), Request{Record: record, Steps: 100}, func(p backend.Progress) error {
		seen = append(seen, p.Turn)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)

	progress := h.recorder.Events(events.TypeProgress)
	require.Len(t, progress, 3)
	assert.True(t, progress[2].Data.(*events.ProgressData).Done)
	assert.Zero(t, h.store.Len(), "streamed results are never cached")
	assert.Nil(t, h.tree.Root())
	assert.False(t, h.orch.Busy())
}

func TestAnalyzeStream_Failure(t *testing.T) {
	h := newHarness(t)
	h.client.err = &backend.BackendError{Code: 401}
	err := h.orch.AnalyzeStream(context.Background(), Request{Record: record, Steps: 100}, nil)
	require.Error(t, err)
	require.Len(t, h.recorder.Notices(), 1)
	assert.Equal(t, MsgAuth, h.recorder.Notices()[0].Message)
}

func TestClassify(t *testing.T) {
	_, parseErr := sgf.Parse("(;")
	require.Error(t, parseErr)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"429", &backend.BackendError{Code: 429}, MsgRateLimited},
		{"401", &backend.BackendError{Code: 401}, MsgAuth},
		{"400", &backend.BackendError{Code: 400, Message: "bad sgf"}, MsgInvalidRecord},
		{"504", &backend.BackendError{Code: 504}, MsgTimeout},
		{"other with message", &backend.BackendError{Code: 503, Message: "overloaded"}, MsgBackendPrefix + "overloaded"},
		{"other without message", &backend.BackendError{Code: 503}, MsgUnknown},
		{"abort", &backend.TransportError{Canceled: true, Err: context.Canceled}, MsgTimeout},
		{"deadline", &backend.TransportError{Timeout: true, Err: context.DeadlineExceeded}, MsgTimeout},
		{"network", &backend.TransportError{Err: errors.New("reset")}, MsgFailed},
		{"config", &backend.ConfigError{Mode: backend.ModeRunPod, Field: "runpod.endpoint", Reason: "not set"}, MsgNotConfigured},
		{"parse", parseErr, MsgUnreadable},
		{"bare cancel", context.Canceled, MsgTimeout},
		{"wrapped", fmt.Errorf("analyze: %w", &backend.BackendError{Code: 429}), MsgRateLimited},
		{"unknown", errors.New("weird"), MsgUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Classify(tt.err)
			assert.Equal(t, tt.want, n.Message)
			assert.Equal(t, events.SeverityError, n.Severity)
			assert.Equal(t, tt.err.Error(), n.Detail)
		})
	}

	assert.Equal(t, events.SeverityInfo, Classify(nil).Severity)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateCacheCheck))
	assert.True(t, CanTransition(StateCacheCheck, StateComputing))
	assert.True(t, CanTransition(StateCacheHit, StateSuccess))
	assert.False(t, CanTransition(StateIdle, StateComputing))
	assert.False(t, CanTransition(StateCacheHit, StateComputing))
	assert.False(t, CanTransition(StateSuccess, StateFailed))
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateComputing.IsTerminal())
}
