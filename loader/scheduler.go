// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader implements phased, dependency-aware component bring-up.
//
// A Scheduler brings up a set of named components in phase order with bounded
// concurrency. Within a phase, components become eligible once their
// dependencies reach a terminal success status; each attempt is governed by a
// bounded retry/fallback state machine racing the load call against a
// configured timeout. Abort is cooperative: in-flight attempts run to
// completion, and only the next slot-fill and the next phase transition are
// gated.
//
// Thread Safety:
//
//	Scheduler is safe for concurrent use. Registry and graph mutation is
//	serialized through one mutex; the control loop is the single logical
//	writer during a run.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/ignition/events"
	"github.com/AleutianAI/ignition/resource"
)

// Scheduler coordinates one independent bring-up. All mutable state (registry,
// graph, flags) is per-instance; multiple schedulers can run side by side.
type Scheduler struct {
	mu  sync.RWMutex
	reg registry

	cfg     Config
	emitter *events.Emitter
	logger  *slog.Logger
	monitor resource.Monitor

	active  atomic.Bool
	aborted atomic.Bool

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	loadLatency   metric.Float64Histogram
	loadSuccesses metric.Int64Counter
	loadFailures  metric.Int64Counter
	activeLoads   metric.Int64UpDownCounter
	phaseLatency  metric.Float64Histogram
	forcedLoads   metric.Int64Counter
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithEmitter sets the event emitter lifecycle events are published to.
// If not set, an emitter with default options is created.
func WithEmitter(e *events.Emitter) Option {
	return func(s *Scheduler) {
		s.emitter = e
	}
}

// WithMonitor attaches a resource monitor whose reports are consumed during
// runs. Without one, no resourceConstraint events are emitted.
func WithMonitor(m resource.Monitor) Option {
	return func(s *Scheduler) {
		s.monitor = m
	}
}

// New creates a Scheduler.
//
// Inputs:
//
//	cfg - Scheduler configuration. Zero durations and nil optional fields
//	      are filled with defaults, so Config{} runs with the documented
//	      retry, fallback, and critical-abort policy.
//	opts - Optional logger, emitter, and resource monitor.
//
// Outputs:
//
//	*Scheduler - The configured scheduler.
//	error - Non-nil if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	s := &Scheduler{
		reg: newRegistry(),
		cfg: cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.emitter == nil {
		s.emitter = events.NewEmitter()
	}

	return s, nil
}

// Emitter returns the emitter lifecycle events are published to.
func (s *Scheduler) Emitter() *events.Emitter {
	return s.emitter
}

// Register adds a component.
//
// Description:
//
//	Registers id with its load function and options. Listed dependencies may
//	reference ids that are not registered yet (forward references). A
//	component may be re-registered, overwriting its record, only while it is
//	still in StatusRegistered.
//
// Inputs:
//
//	id - Unique component identifier. Must not be empty.
//	load - The load function. Must not be nil.
//	opts - Phase, priority, dependencies, fallback, critical flag, metadata.
//
// Outputs:
//
//	error - Wraps ErrValidation on bad arguments.
//
// Thread Safety: Safe for concurrent use.
func (s *Scheduler) Register(id string, load LoadFunc, opts ...ComponentOption) error {
	spec := componentSpec{
		phase:    PhaseFunctional,
		priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(&spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.reg.register(id, load, spec)
	if err != nil {
		return err
	}

	s.logger.Debug("component registered",
		slog.String("component", rec.id),
		slog.String("phase", rec.phase.String()),
		slog.String("priority", rec.priority.String()),
		slog.Int("dependencies", len(rec.dependencies)),
		slog.Bool("critical", rec.critical),
	)
	return nil
}

// Unregister removes a component that has not been attempted yet.
//
// Outputs:
//
//	bool - False if id is unknown or the component has left StatusRegistered.
//
// Thread Safety: Safe for concurrent use.
func (s *Scheduler) Unregister(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.reg.unregister(id)
	if ok {
		s.logger.Debug("component unregistered", slog.String("component", id))
	}
	return ok
}

// AbortLoading sets the global abort flag.
//
// In-flight attempts are not cancelled; they run to completion and their
// results are recorded. Only the next slot-fill and the next phase
// transition observe the flag.
//
// Thread Safety: Safe for concurrent use. Idempotent.
func (s *Scheduler) AbortLoading() {
	if s.aborted.CompareAndSwap(false, true) {
		s.logger.Info("loading abort requested")
	}
}

// ComponentStatus returns a point-in-time snapshot of one component.
//
// Thread Safety: Safe for concurrent use.
func (s *Scheduler) ComponentStatus(id string) (ComponentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.reg.get(id)
	if !ok {
		return ComponentStatus{}, false
	}
	return snapshotRecord(rec), true
}

// Components returns snapshots of all registered components.
//
// Thread Safety: Safe for concurrent use.
func (s *Scheduler) Components() []ComponentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.reg.snapshot()
	out := make([]ComponentStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, snapshotRecord(rec))
	}
	return out
}

// Progress returns the current run progress, computed from registry counts
// at call time.
//
// Thread Safety: Safe for concurrent use.
func (s *Scheduler) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Progress{
		Active:  s.active.Load(),
		Aborted: s.aborted.Load(),
	}
	for _, rec := range s.reg.snapshot() {
		p.Total++
		switch rec.status {
		case StatusLoaded, StatusLoadedViaFallback:
			p.Loaded++
		case StatusFailed:
			p.Failed++
		case StatusLoading:
			p.Pending++
		case StatusRegistered:
			p.Waiting++
		}
	}
	if p.Total > 0 {
		p.ProgressPercent = float64(p.Loaded+p.Failed) / float64(p.Total) * 100
	}
	return p
}

// StartLoading runs all registered components to resolution.
//
// Description:
//
//	Snapshots the registry, sorts by (phase, priority, registration order),
//	and drains each phase batch under the concurrency bound before moving to
//	the next. Load failures, retries, fallbacks, and critical failures are
//	reflected in the aggregate Result, not surfaced as errors; a non-nil
//	error means the run could not start (bad context, concurrent run, or a
//	detected dependency cycle in strict mode).
//
// Inputs:
//
//	ctx - Context for cooperative cancellation. Must not be nil. Cancelling
//	      it behaves like AbortLoading: no new attempts start.
//
// Outputs:
//
//	*Result - Aggregate run result with partial progress counts.
//	error - Non-nil only when the run could not start.
//
// Thread Safety: Safe for concurrent use; only one run at a time is allowed.
func (s *Scheduler) StartLoading(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if !s.active.CompareAndSwap(false, true) {
		return nil, ErrSchedulerActive
	}
	defer s.active.Store(false)

	s.aborted.Store(false)
	s.initMetrics()

	s.mu.RLock()
	snapshot := s.reg.snapshot()
	if s.cfg.DetectCycles {
		if cycle, found := s.reg.findCycle(); found {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
		}
	}
	s.mu.RUnlock()

	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12] // 48 bits of entropy
	s.emitter.SetSessionID(sessionID)

	ctx, span := tracer.Start(ctx, "loader.StartLoading",
		trace.WithAttributes(
			attribute.String("loader.session_id", sessionID),
			attribute.Int("loader.component_count", len(snapshot)),
			attribute.Int("loader.concurrent_loads", s.cfg.ConcurrentLoads),
		),
	)
	defer span.End()

	start := time.Now()
	batches := partitionPhases(snapshot)

	s.logger.Info("loading started",
		slog.String("session_id", sessionID),
		slog.Int("components", len(snapshot)),
		slog.Int("phases", len(batches)),
	)
	s.emitter.Emit(events.TypeLoadingStarted, events.RunData{Total: len(snapshot)})

	// The constraint listener runs for the duration of the phase loop.
	g, gctx := errgroup.WithContext(ctx)
	listenerCtx, stopListener := context.WithCancel(gctx)
	g.Go(func() error {
		s.runConstraintListener(listenerCtx)
		return nil
	})

	for i, batch := range batches {
		if s.aborted.Load() || ctx.Err() != nil {
			break
		}

		s.runPhase(ctx, batch)

		// Yield point between phases for external UI updates.
		if i < len(batches)-1 && !s.aborted.Load() {
			sleepCtx(ctx, s.cfg.PhaseTransitionDelay)
		}
	}

	stopListener()
	_ = g.Wait()

	result := s.buildResult(sessionID, snapshot, time.Since(start))

	if result.Aborted {
		span.SetStatus(codes.Error, "loading aborted")
		s.logger.Warn("loading aborted",
			slog.String("session_id", sessionID),
			slog.Int("loaded", len(result.Loaded)),
			slog.Int("failed", len(result.Failed)),
			slog.Int("skipped", len(result.Skipped)),
		)
		s.emitter.Emit(events.TypeLoadingAborted, events.RunData{
			Total:  len(snapshot),
			Loaded: len(result.Loaded),
			Failed: len(result.Failed),
		})
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.logger.Info("loading completed",
		slog.String("session_id", sessionID),
		slog.Bool("success", result.Success),
		slog.Duration("duration", result.Duration),
		slog.Int("loaded", len(result.Loaded)),
		slog.Int("failed", len(result.Failed)),
	)
	s.emitter.Emit(events.TypeLoadingCompleted, events.RunData{
		Total:  len(snapshot),
		Loaded: len(result.Loaded),
		Failed: len(result.Failed),
	})

	return result, nil
}

// buildResult aggregates terminal statuses into a Result.
func (s *Scheduler) buildResult(sessionID string, snapshot []*record, duration time.Duration) *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &Result{
		SessionID: sessionID,
		Aborted:   s.aborted.Load(),
		Duration:  duration,
	}
	for _, rec := range snapshot {
		switch rec.status {
		case StatusLoaded, StatusLoadedViaFallback:
			result.Loaded = append(result.Loaded, rec.id)
		case StatusFailed:
			result.Failed = append(result.Failed, rec.id)
		default:
			result.Skipped = append(result.Skipped, rec.id)
		}
	}
	result.Success = !result.Aborted &&
		len(result.Failed) == 0 &&
		len(result.Skipped) == 0
	return result
}

// runConstraintListener consumes monitor reports for the duration of a run.
//
// On a critical report exceeding the minimal-mode thresholds it publishes a
// resourceConstraint event. It never reduces the concurrency bound: the
// bounded executor is the only backpressure mechanism (soft throttle).
// Emission is rate-limited to one event per ResourceCheckInterval so a
// flapping monitor cannot flood the sink.
func (s *Scheduler) runConstraintListener(ctx context.Context) {
	if s.monitor == nil {
		return
	}

	thresholds := s.monitor.Thresholds()
	limiter := rate.NewLimiter(rate.Every(s.cfg.ResourceCheckInterval), 1)

	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-s.monitor.Reports():
			if !ok {
				return
			}
			if !report.Critical || !thresholds.Exceeds(report) {
				continue
			}
			if !limiter.Allow() {
				continue
			}

			s.logger.Warn("resource constraint reported",
				slog.Float64("cpu", report.CPU),
				slog.Float64("memory", report.Memory),
			)
			s.emitter.Emit(events.TypeResourceConstraint, events.ResourceConstraintData{
				CPU:             report.CPU,
				Memory:          report.Memory,
				CPUThreshold:    thresholds.Minimal.CPUThreshold,
				MemoryThreshold: thresholds.Minimal.MemoryThreshold,
			})
		}
	}
}

// snapshotRecord copies a record into its public snapshot form.
// Callers must hold at least a read lock.
func snapshotRecord(rec *record) ComponentStatus {
	cs := ComponentStatus{
		ID:           rec.id,
		Phase:        rec.phase,
		Priority:     rec.priority,
		Status:       rec.status,
		Dependencies: append([]string(nil), rec.dependencies...),
		Critical:     rec.critical,
		RetryCount:   rec.retryCount,
		ForcedLoad:   rec.forced,
		Value:        rec.value,
		Metadata:     rec.metadata,
	}
	if rec.lastError != nil {
		cs.LastError = rec.lastError.Error()
	}
	return cs
}

// sleepCtx sleeps for d or until ctx is done. Returns false if ctx ended
// the sleep early.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
