// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastConfig returns a config with delays tightened for tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.ResourceCheckInterval = 5 * time.Millisecond
	cfg.PhaseTransitionDelay = time.Millisecond
	cfg.LoadTimeout = 5 * time.Second
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// okLoad returns a load function that succeeds immediately.
func okLoad(value any) LoadFunc {
	return func(ctx context.Context) (any, error) {
		return value, nil
	}
}

// failLoad returns a load function that always fails.
func failLoad(msg string) LoadFunc {
	return func(ctx context.Context) (any, error) {
		return nil, errors.New(msg)
	}
}

// orderRecorder builds load functions that append their id to a shared list.
type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *orderRecorder) load(id string) LoadFunc {
	return func(ctx context.Context) (any, error) {
		r.mu.Lock()
		r.order = append(r.order, id)
		r.mu.Unlock()
		return id, nil
	}
}

func (r *orderRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

func TestRegister_EmptyID(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	err := s.Register("", okLoad(nil))
	if err == nil {
		t.Fatal("expected error for empty id")
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestRegister_NilLoad(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	err := s.Register("db", nil)
	if err == nil {
		t.Fatal("expected error for nil load")
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestRegister_OverwriteBeforeLoad(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	if err := s.Register("db", okLoad("v1"), WithPhase(PhaseCore)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := s.Register("db", okLoad("v2"), WithPhase(PhaseCritical)); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	status, ok := s.ComponentStatus("db")
	if !ok {
		t.Fatal("component not found after re-registration")
	}
	if status.Phase != PhaseCritical {
		t.Errorf("expected overwritten phase critical, got %s", status.Phase)
	}
}

func TestRegister_OverwriteAfterLoadRejected(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	if err := s.Register("db", okLoad(nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.StartLoading(context.Background()); err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	err := s.Register("db", okLoad(nil))
	if err == nil {
		t.Fatal("expected error re-registering a loaded component")
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestUnregister(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	if err := s.Register("cache", okLoad(nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !s.Unregister("cache") {
		t.Fatal("expected Unregister to succeed")
	}
	if s.Unregister("cache") {
		t.Fatal("expected second Unregister to fail")
	}
	if _, ok := s.ComponentStatus("cache"); ok {
		t.Fatal("component still visible after Unregister")
	}
}

// -----------------------------------------------------------------------------
// Ordering
// -----------------------------------------------------------------------------

func TestStartLoading_PriorityOrderWithinPhase(t *testing.T) {
	cfg := fastConfig()
	cfg.ConcurrentLoads = 1 // serialize so the start order is observable
	s := newTestScheduler(t, cfg)

	rec := &orderRecorder{}
	mustRegister(t, s, "low", rec.load("low"), WithPriority(PriorityLow))
	mustRegister(t, s, "highest", rec.load("highest"), WithPriority(PriorityHighest))
	mustRegister(t, s, "normal", rec.load("normal"))
	mustRegister(t, s, "high", rec.load("high"), WithPriority(PriorityHigh))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	want := []string{"highest", "high", "normal", "low"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Errorf("load order = %v, want %v", got, want)
	}
}

func TestStartLoading_PhasesSequential(t *testing.T) {
	cfg := fastConfig()
	s := newTestScheduler(t, cfg)

	rec := &orderRecorder{}
	mustRegister(t, s, "ext", rec.load("ext"), WithPhase(PhaseExtension))
	mustRegister(t, s, "crit", rec.load("crit"), WithPhase(PhaseCritical))
	mustRegister(t, s, "core", rec.load("core"), WithPhase(PhaseCore))

	if _, err := s.StartLoading(context.Background()); err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	want := []string{"crit", "core", "ext"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Errorf("phase order = %v, want %v", got, want)
	}
}

func TestStartLoading_RegistrationOrderTieBreak(t *testing.T) {
	cfg := fastConfig()
	cfg.ConcurrentLoads = 1
	s := newTestScheduler(t, cfg)

	rec := &orderRecorder{}
	mustRegister(t, s, "first", rec.load("first"))
	mustRegister(t, s, "second", rec.load("second"))
	mustRegister(t, s, "third", rec.load("third"))

	if _, err := s.StartLoading(context.Background()); err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	want := []string{"first", "second", "third"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Errorf("tie-break order = %v, want %v", got, want)
	}
}

func TestStartLoading_DependencyOrder(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	rec := &orderRecorder{}
	mustRegister(t, s, "api", rec.load("api"), WithDependencies("db", "cache"))
	mustRegister(t, s, "db", rec.load("db"))
	mustRegister(t, s, "cache", rec.load("cache"), WithDependencies("db"))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	order := rec.snapshot()
	if idx(order, "db") > idx(order, "cache") {
		t.Errorf("db loaded after its dependent cache: %v", order)
	}
	if idx(order, "cache") > idx(order, "api") || idx(order, "db") > idx(order, "api") {
		t.Errorf("api loaded before its dependencies: %v", order)
	}
}

// -----------------------------------------------------------------------------
// Concurrency bound
// -----------------------------------------------------------------------------

func TestStartLoading_ConcurrencyBound(t *testing.T) {
	cfg := fastConfig()
	cfg.ConcurrentLoads = 2
	s := newTestScheduler(t, cfg)

	var current, peak atomic.Int32
	slowLoad := func(ctx context.Context) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	}

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		mustRegister(t, s, id, slowLoad)
	}

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("observed %d concurrent loads, bound is 2", p)
	}
}

// -----------------------------------------------------------------------------
// Retry and fallback
// -----------------------------------------------------------------------------

func TestStartLoading_RetryInvocationCount(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(2)
	s := newTestScheduler(t, cfg)

	var calls atomic.Int32
	mustRegister(t, s, "flaky", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("still broken")
	})

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	// One initial attempt plus two retries.
	if got := calls.Load(); got != 3 {
		t.Errorf("load invoked %d times, want 3", got)
	}
	if !slices.Contains(result.Failed, "flaky") {
		t.Errorf("expected flaky in Failed, got %+v", result)
	}
}

func TestStartLoading_RetryThenSuccess(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(2)
	s := newTestScheduler(t, cfg)

	var calls atomic.Int32
	mustRegister(t, s, "warmup", func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("not yet")
		}
		return "ready", nil
	})

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success after retries, got %+v", result)
	}

	status, _ := s.ComponentStatus("warmup")
	if status.Status != StatusLoaded {
		t.Errorf("status = %s, want loaded", status.Status)
	}
	if status.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", status.RetryCount)
	}
}

func TestStartLoading_FallbackSuccess(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(1)
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "search", failLoad("index corrupt"),
		WithFallback(okLoad("degraded search")))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	// A fallback success counts as loaded.
	if !result.Success {
		t.Fatalf("expected success via fallback, got %+v", result)
	}
	if !slices.Contains(result.Loaded, "search") {
		t.Errorf("expected search in Loaded, got %+v", result.Loaded)
	}

	status, _ := s.ComponentStatus("search")
	if status.Status != StatusLoadedViaFallback {
		t.Errorf("status = %s, want loaded_via_fallback", status.Status)
	}
}

func TestStartLoading_FallbacksDisabled(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	cfg.EnableFallbacks = Bool(false)
	s := newTestScheduler(t, cfg)

	var fallbackCalled atomic.Bool
	mustRegister(t, s, "search", failLoad("index corrupt"),
		WithFallback(func(ctx context.Context) (any, error) {
			fallbackCalled.Store(true)
			return nil, nil
		}))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if fallbackCalled.Load() {
		t.Error("fallback invoked with EnableFallbacks=false")
	}
	if !slices.Contains(result.Failed, "search") {
		t.Errorf("expected search in Failed, got %+v", result)
	}
}

func TestStartLoading_FallbackFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "search", failLoad("primary down"),
		WithFallback(failLoad("fallback down")))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !slices.Contains(result.Failed, "search") {
		t.Errorf("expected search in Failed, got %+v", result)
	}

	status, _ := s.ComponentStatus("search")
	if status.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestStartLoading_LoadTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	cfg.LoadTimeout = 20 * time.Millisecond
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "hung", func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return nil, nil
		}
	})

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !slices.Contains(result.Failed, "hung") {
		t.Errorf("expected hung in Failed, got %+v", result)
	}
}

func TestStartLoading_PanicIsFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "explosive", func(ctx context.Context) (any, error) {
		panic("boom")
	})
	mustRegister(t, s, "bystander", okLoad(nil))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !slices.Contains(result.Failed, "explosive") {
		t.Errorf("expected explosive in Failed, got %+v", result)
	}
	if !slices.Contains(result.Loaded, "bystander") {
		t.Errorf("panic must not take down other components: %+v", result)
	}
}

// -----------------------------------------------------------------------------
// Critical failures and abort
// -----------------------------------------------------------------------------

func TestStartLoading_CriticalFailureAbortsLaterPhases(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	s := newTestScheduler(t, cfg)

	var laterRan atomic.Bool
	mustRegister(t, s, "config", failLoad("no config"),
		WithPhase(PhaseCritical), WithCritical())
	mustRegister(t, s, "ui", func(ctx context.Context) (any, error) {
		laterRan.Store(true)
		return nil, nil
	}, WithPhase(PhaseFunctional))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	if !result.Aborted {
		t.Error("expected aborted result after critical failure")
	}
	if result.Success {
		t.Error("aborted run must not report success")
	}
	if laterRan.Load() {
		t.Error("later phase ran after critical failure")
	}
	if !slices.Contains(result.Skipped, "ui") {
		t.Errorf("expected ui in Skipped, got %+v", result)
	}
}

func TestStartLoading_CriticalFailureRescuedByFallback(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "config", failLoad("no config"),
		WithPhase(PhaseCritical), WithCritical(),
		WithFallback(okLoad("defaults")))
	mustRegister(t, s, "ui", okLoad(nil), WithPhase(PhaseFunctional))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if result.Aborted {
		t.Error("fallback success must not trigger the critical abort")
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}

func TestStartLoading_CriticalFailureIgnoredWhenDisabled(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	cfg.AbortOnCriticalFailure = Bool(false)
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "config", failLoad("no config"),
		WithPhase(PhaseCritical), WithCritical())
	mustRegister(t, s, "ui", okLoad(nil), WithPhase(PhaseFunctional))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if result.Aborted {
		t.Error("run aborted with AbortOnCriticalFailure=false")
	}
	if !slices.Contains(result.Loaded, "ui") {
		t.Errorf("expected ui to load, got %+v", result)
	}
}

func TestAbortLoading_MidPhase(t *testing.T) {
	cfg := fastConfig()
	cfg.ConcurrentLoads = 1
	s := newTestScheduler(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, s, "slow", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	mustRegister(t, s, "after", okLoad(nil))

	go func() {
		<-started
		s.AbortLoading()
		close(release)
	}()

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	// The in-flight load runs to completion; the queued one is skipped.
	if !result.Aborted {
		t.Fatal("expected aborted result")
	}
	if !slices.Contains(result.Loaded, "slow") {
		t.Errorf("in-flight load should settle normally: %+v", result)
	}
	if !slices.Contains(result.Skipped, "after") {
		t.Errorf("expected after in Skipped, got %+v", result)
	}
}

func TestStartLoading_ContextCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.ConcurrentLoads = 1
	s := newTestScheduler(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	mustRegister(t, s, "trigger", func(c context.Context) (any, error) {
		cancel()
		return nil, nil
	}, WithPhase(PhaseCritical))
	mustRegister(t, s, "later", okLoad(nil), WithPhase(PhaseExtension))

	result, err := s.StartLoading(ctx)
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if slices.Contains(result.Loaded, "later") {
		t.Errorf("later phase ran after context cancellation: %+v", result)
	}
}

// -----------------------------------------------------------------------------
// Deadlock breaking and cycle detection
// -----------------------------------------------------------------------------

func TestStartLoading_DeadlockBrokenByForcedLoad(t *testing.T) {
	cfg := fastConfig()
	s := newTestScheduler(t, cfg)

	var calls atomic.Int32
	count := func(id string) LoadFunc {
		return func(ctx context.Context) (any, error) {
			calls.Add(1)
			return id, nil
		}
	}

	mustRegister(t, s, "a", count("a"), WithDependencies("b"))
	mustRegister(t, s, "b", count("b"), WithDependencies("a"))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected the forced load to unwedge the phase, got %+v", result)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("each component should load exactly once, got %d calls", got)
	}

	// Exactly one of the two must have been forced.
	sa, _ := s.ComponentStatus("a")
	sb, _ := s.ComponentStatus("b")
	if sa.ForcedLoad == sb.ForcedLoad {
		t.Errorf("exactly one forced load expected: a=%v b=%v", sa.ForcedLoad, sb.ForcedLoad)
	}
}

func TestStartLoading_MissingDependencyForced(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	mustRegister(t, s, "orphan", okLoad(nil), WithDependencies("never-registered"))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !slices.Contains(result.Loaded, "orphan") {
		t.Errorf("expected orphan force-loaded, got %+v", result)
	}

	status, _ := s.ComponentStatus("orphan")
	if !status.ForcedLoad {
		t.Error("expected forced_load to be recorded")
	}
}

func TestStartLoading_FailedDependencyForced(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(1)
	s := newTestScheduler(t, cfg)

	var aCalls, bCalls atomic.Int32
	mustRegister(t, s, "a", func(ctx context.Context) (any, error) {
		aCalls.Add(1)
		return nil, errors.New("permanently down")
	})
	mustRegister(t, s, "b", func(ctx context.Context) (any, error) {
		bCalls.Add(1)
		return "up", nil
	}, WithDependencies("a"))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	// a exhausts its own retry policy; b's dependency can never be
	// satisfied, so b is force-loaded and runs exactly once.
	if got := aCalls.Load(); got != 2 {
		t.Errorf("a invoked %d times, want 2", got)
	}
	if got := bCalls.Load(); got != 1 {
		t.Errorf("b invoked %d times, want 1", got)
	}
	if !slices.Contains(result.Failed, "a") {
		t.Errorf("expected a in Failed, got %+v", result)
	}
	if !slices.Contains(result.Loaded, "b") {
		t.Errorf("expected b in Loaded, got %+v", result)
	}

	sb, _ := s.ComponentStatus("b")
	if !sb.ForcedLoad {
		t.Error("b should be marked force-loaded after its dependency failed")
	}
}

func TestStartLoading_DetectCycles(t *testing.T) {
	cfg := fastConfig()
	cfg.DetectCycles = true
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "a", okLoad(nil), WithDependencies("b"))
	mustRegister(t, s, "b", okLoad(nil), WithDependencies("c"))
	mustRegister(t, s, "c", okLoad(nil), WithDependencies("a"))

	_, err := s.StartLoading(context.Background())
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("expected ErrDependencyCycle, got: %v", err)
	}
}

func TestStartLoading_DetectCyclesAllowsDAG(t *testing.T) {
	cfg := fastConfig()
	cfg.DetectCycles = true
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "a", okLoad(nil))
	mustRegister(t, s, "b", okLoad(nil), WithDependencies("a"))
	mustRegister(t, s, "c", okLoad(nil), WithDependencies("a", "b"))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle guards and snapshots
// -----------------------------------------------------------------------------

func TestStartLoading_NilContext(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	//nolint:staticcheck // nil context is the case under test
	_, err := s.StartLoading(nil)
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("expected ErrNilContext, got: %v", err)
	}
}

func TestStartLoading_ConcurrentRunRejected(t *testing.T) {
	cfg := fastConfig()
	s := newTestScheduler(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, s, "slow", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.StartLoading(context.Background()); err != nil {
			t.Errorf("first run: %v", err)
		}
	}()

	<-started
	_, err := s.StartLoading(context.Background())
	if !errors.Is(err, ErrSchedulerActive) {
		t.Errorf("expected ErrSchedulerActive, got: %v", err)
	}

	close(release)
	<-done
}

func TestStartLoading_Rerunnable(t *testing.T) {
	s := newTestScheduler(t, fastConfig())
	mustRegister(t, s, "a", okLoad(nil))

	if _, err := s.StartLoading(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Already-loaded components are terminal; a second run settles trivially.
	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result from the second run")
	}
}

func TestNew_ZeroConfigGetsDefaults(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.cfg.ConcurrentLoads != 3 {
		t.Errorf("ConcurrentLoads = %d, want 3", s.cfg.ConcurrentLoads)
	}
	if got := *s.cfg.RetryAttempts; got != 2 {
		t.Errorf("RetryAttempts = %d, want 2", got)
	}
	if !*s.cfg.AbortOnCriticalFailure || !*s.cfg.EnableFallbacks {
		t.Error("abort-on-critical and fallbacks must be enabled by default")
	}
	if s.cfg.LoadTimeout != 30*time.Second {
		t.Errorf("LoadTimeout = %s, want 30s", s.cfg.LoadTimeout)
	}
}

func TestStartLoading_DefaultRetryAndFallbackPolicy(t *testing.T) {
	// Only the delays are set: retry and fallback policy comes from the
	// defaults New applies.
	s := newTestScheduler(t, Config{
		RetryDelay:           time.Millisecond,
		PhaseTransitionDelay: time.Millisecond,
	})

	var calls atomic.Int32
	var fellBack atomic.Bool
	mustRegister(t, s, "flaky", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("down")
	}, WithFallback(func(ctx context.Context) (any, error) {
		fellBack.Store(true)
		return "degraded", nil
	}))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	// One initial attempt plus the default two retries, then the fallback.
	if got := calls.Load(); got != 3 {
		t.Errorf("load invoked %d times, want 3", got)
	}
	if !fellBack.Load() {
		t.Error("fallback not attempted under the default policy")
	}
	if !result.Success {
		t.Errorf("expected success via fallback, got %+v", result)
	}
}

func TestStartLoading_SessionIDIsShortHex(t *testing.T) {
	s := newTestScheduler(t, fastConfig())
	mustRegister(t, s, "a", okLoad(nil))

	result, err := s.StartLoading(context.Background())
	if err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	if len(result.SessionID) != 12 {
		t.Fatalf("session id %q length = %d, want 12", result.SessionID, len(result.SessionID))
	}
	for _, r := range result.SessionID {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("session id %q contains non-hex rune %q", result.SessionID, r)
		}
	}
}

func TestProgress_Lifecycle(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = Int(0)
	s := newTestScheduler(t, cfg)

	mustRegister(t, s, "good", okLoad(nil))
	mustRegister(t, s, "bad", failLoad("nope"))

	before := s.Progress()
	if before.Total != 2 || before.Waiting != 2 || before.Active {
		t.Errorf("unexpected initial progress: %+v", before)
	}

	if _, err := s.StartLoading(context.Background()); err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	after := s.Progress()
	if after.Loaded != 1 || after.Failed != 1 {
		t.Errorf("unexpected final progress: %+v", after)
	}
	if after.ProgressPercent != 100 {
		t.Errorf("progress percent = %v, want 100", after.ProgressPercent)
	}
	if after.Active {
		t.Error("scheduler still active after run")
	}
}

func TestComponents_SnapshotFields(t *testing.T) {
	s := newTestScheduler(t, fastConfig())

	mustRegister(t, s, "db", okLoad("conn"),
		WithPhase(PhaseCritical),
		WithPriority(PriorityHighest),
		WithCritical(),
		WithMetadata(map[string]string{"tier": "storage"}),
	)

	if _, err := s.StartLoading(context.Background()); err != nil {
		t.Fatalf("StartLoading: %v", err)
	}

	status, ok := s.ComponentStatus("db")
	if !ok {
		t.Fatal("component not found")
	}
	if status.Phase != PhaseCritical || status.Priority != PriorityHighest {
		t.Errorf("unexpected phase/priority: %+v", status)
	}
	if !status.Critical {
		t.Error("critical flag lost in snapshot")
	}
	if status.Value != "conn" {
		t.Errorf("value = %v, want conn", status.Value)
	}
	if status.Metadata["tier"] != "storage" {
		t.Errorf("metadata lost in snapshot: %+v", status.Metadata)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func mustRegister(t *testing.T, s *Scheduler, id string, load LoadFunc, opts ...ComponentOption) {
	t.Helper()
	if err := s.Register(id, load, opts...); err != nil {
		t.Fatalf("Register %s: %v", id, err)
	}
}

func idx(list []string, id string) int {
	return slices.Index(list, id)
}
