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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ignition/events"
)

// attemptOutcome is the terminal state reported by one attempt goroutine.
// Terminal status, record mutation, and follow-on policy (critical abort)
// are applied by the control loop in settle, keeping registry writes
// serialized.
type attemptOutcome struct {
	rec      *record
	status   Status
	value    any
	err      error
	attempts int
	duration time.Duration
}

// runPhase drains one phase batch.
//
// Description:
//
//	Maintains a FIFO ready queue and an in-flight set bounded by
//	ConcurrentLoads. Components whose dependencies are not yet satisfied are
//	re-enqueued at the back without consuming a slot. When nothing is in
//	flight and nothing in the queue can become eligible, the front of the
//	queue is force-loaded with the dependency check skipped so the phase
//	always makes forward progress. The loop blocks on attempt settlement;
//	it never busy-polls.
func (s *Scheduler) runPhase(ctx context.Context, batch phaseBatch) {
	phaseCtx, span := tracer.Start(ctx, "loader.Phase",
		trace.WithAttributes(
			attribute.String("loader.phase", batch.phase.String()),
			attribute.Int("loader.batch_size", len(batch.members)),
		),
	)
	defer span.End()

	start := time.Now()

	s.logger.Info("phase started",
		slog.String("phase", batch.phase.String()),
		slog.Int("components", len(batch.members)),
	)
	s.emitter.Emit(events.TypePhaseStarted, events.PhaseData{
		Phase:      batch.phase.String(),
		Components: len(batch.members),
	})

	queue := make([]*record, len(batch.members))
	copy(queue, batch.members)

	inFlight := 0
	failed := 0
	results := make(chan attemptOutcome, s.cfg.ConcurrentLoads)

	for {
		// Fill free slots: one pass over the current queue, skipping and
		// re-enqueueing components whose dependencies are unsatisfied.
		if !s.aborted.Load() && phaseCtx.Err() == nil {
			for pass := len(queue); pass > 0 && inFlight < s.cfg.ConcurrentLoads; pass-- {
				rec := queue[0]
				queue = queue[1:]

				s.mu.Lock()
				if rec.status.IsTerminal() {
					// Already resolved by an earlier run; statuses never
					// move backward.
					s.mu.Unlock()
					continue
				}
				ready := s.reg.depsSatisfied(rec)
				if ready {
					rec.status = StatusLoading
				}
				s.mu.Unlock()

				if !ready {
					queue = append(queue, rec)
					continue
				}

				s.launchAttempt(phaseCtx, rec, false, results)
				inFlight++
			}
		}

		if inFlight == 0 {
			if len(queue) == 0 || s.aborted.Load() || phaseCtx.Err() != nil {
				break
			}

			// Deadlock-breaking rule: nothing is in flight and no queued
			// component's dependencies can be satisfied within this phase.
			// Force-load the front of the queue, skipping the dependency
			// check, to guarantee forward progress.
			rec := queue[0]
			queue = queue[1:]

			s.mu.Lock()
			rec.status = StatusLoading
			rec.forced = true
			s.mu.Unlock()

			s.logger.Warn("forcing load despite unsatisfied dependencies",
				slog.String("component", rec.id),
				slog.String("phase", batch.phase.String()),
			)
			if s.forcedLoads != nil {
				s.forcedLoads.Add(phaseCtx, 1,
					metric.WithAttributes(attribute.String("component", rec.id)),
				)
			}

			s.launchAttempt(phaseCtx, rec, true, results)
			inFlight++
		}

		out := <-results
		inFlight--
		s.settle(phaseCtx, out)
		if out.status == StatusFailed {
			failed++
		}
	}

	duration := time.Since(start)
	if s.phaseLatency != nil {
		s.phaseLatency.Record(phaseCtx, duration.Seconds(),
			metric.WithAttributes(attribute.String("phase", batch.phase.String())),
		)
	}

	aborted := s.aborted.Load()
	if aborted {
		span.SetStatus(codes.Error, "phase aborted")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.logger.Info("phase completed",
		slog.String("phase", batch.phase.String()),
		slog.Duration("duration", duration),
		slog.Int("failed", failed),
		slog.Bool("aborted", aborted),
	)
	s.emitter.Emit(events.TypePhaseCompleted, events.PhaseData{
		Phase:      batch.phase.String(),
		Components: len(batch.members) - len(queue),
		Failed:     failed,
		Aborted:    aborted,
	})
}

// launchAttempt starts the retry/fallback machine for rec on its own
// goroutine, occupying one concurrency slot until the outcome is sent.
func (s *Scheduler) launchAttempt(ctx context.Context, rec *record, forced bool, results chan<- attemptOutcome) {
	if s.activeLoads != nil {
		s.activeLoads.Add(ctx, 1)
	}

	go func() {
		out := s.runAttempt(ctx, rec, forced)
		if s.activeLoads != nil {
			s.activeLoads.Add(ctx, -1)
		}
		results <- out
	}()
}

// settle applies one attempt outcome. It is only called from the phase
// control loop, so terminal registry mutation stays single-writer.
func (s *Scheduler) settle(ctx context.Context, out attemptOutcome) {
	rec := out.rec

	s.mu.Lock()
	rec.status = out.status
	rec.value = out.value
	if out.err != nil {
		rec.lastError = out.err
	}
	s.mu.Unlock()

	if s.loadLatency != nil {
		s.loadLatency.Record(ctx, out.duration.Seconds(),
			metric.WithAttributes(attribute.String("component", rec.id)),
		)
	}

	switch out.status {
	case StatusLoaded:
		if s.loadSuccesses != nil {
			s.loadSuccesses.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "primary")))
		}
		s.logger.Info("component loaded",
			slog.String("component", rec.id),
			slog.Duration("duration", out.duration),
			slog.Int("attempts", out.attempts),
		)
		s.emitter.Emit(events.TypeComponentLoaded, events.ComponentData{
			ComponentID: rec.id,
			Phase:       rec.phase.String(),
			Attempt:     out.attempts,
			Forced:      rec.forced,
			Duration:    out.duration,
			Metadata:    rec.metadata,
		})

	case StatusLoadedViaFallback:
		if s.loadSuccesses != nil {
			s.loadSuccesses.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "fallback")))
		}
		s.logger.Info("component loaded via fallback",
			slog.String("component", rec.id),
			slog.Duration("duration", out.duration),
		)
		s.emitter.Emit(events.TypeComponentFallbackSuccess, events.ComponentData{
			ComponentID: rec.id,
			Phase:       rec.phase.String(),
			Duration:    out.duration,
			Metadata:    rec.metadata,
		})

	case StatusFailed:
		if s.loadFailures != nil {
			s.loadFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("component", rec.id)))
		}
		s.logger.Error("component failed",
			slog.String("component", rec.id),
			slog.Int("attempts", out.attempts),
			slog.String("error", errString(out.err)),
		)
		s.emitter.Emit(events.TypeComponentFailed, events.ComponentData{
			ComponentID: rec.id,
			Phase:       rec.phase.String(),
			Attempt:     out.attempts,
			Final:       true,
			Duration:    out.duration,
			Error:       errString(out.err),
			Metadata:    rec.metadata,
		})

		if rec.critical && *s.cfg.AbortOnCriticalFailure {
			// Reported via the abort flag and the aggregate result, never
			// as a thrown error.
			s.aborted.Store(true)
			s.logger.Error("critical component failed, aborting",
				slog.String("component", rec.id),
			)
			s.emitter.Emit(events.TypeCriticalFailure, events.RunData{
				ComponentID: rec.id,
				Error:       errString(out.err),
			})
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
