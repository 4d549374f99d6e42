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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/ignition/events"
)

// runAttempt drives one component through the retry/fallback state machine
// to a terminal status.
//
// Description:
//
//	Races the primary load against LoadTimeout; on failure or timeout the
//	attempt is retried up to RetryAttempts times with RetryDelay between
//	attempts, as a bounded loop rather than recursion. Once retries are
//	exhausted the fallback path (if any, and if EnableFallbacks) is raced
//	against the same timeout. Non-terminal events are published here;
//	terminal status and events are applied by settle on the control loop.
func (s *Scheduler) runAttempt(ctx context.Context, rec *record, forced bool) attemptOutcome {
	start := time.Now()

	s.emitter.Emit(events.TypeComponentLoading, events.ComponentData{
		ComponentID: rec.id,
		Phase:       rec.phase.String(),
		Forced:      forced,
		Metadata:    rec.metadata,
	})
	s.logger.Debug("component loading",
		slog.String("component", rec.id),
		slog.String("phase", rec.phase.String()),
		slog.Bool("forced", forced),
	)

	attempts := 0
	var lastErr error

	for {
		attempts++
		value, err := s.callWithTimeout(ctx, rec.load)
		if err == nil {
			return attemptOutcome{
				rec:      rec,
				status:   StatusLoaded,
				value:    value,
				attempts: attempts,
				duration: time.Since(start),
			}
		}

		lastErr = err
		s.mu.Lock()
		rec.retryCount++
		rec.lastError = err
		s.mu.Unlock()

		if attempts > *s.cfg.RetryAttempts || ctx.Err() != nil {
			break
		}

		s.logger.Warn("component load failed, retrying",
			slog.String("component", rec.id),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)
		s.emitter.Emit(events.TypeComponentFailed, events.ComponentData{
			ComponentID: rec.id,
			Phase:       rec.phase.String(),
			Attempt:     attempts,
			Error:       err.Error(),
			Metadata:    rec.metadata,
		})

		if !sleepCtx(ctx, s.cfg.RetryDelay) {
			break
		}
	}

	if *s.cfg.EnableFallbacks && rec.fallback != nil && ctx.Err() == nil {
		s.logger.Info("attempting fallback",
			slog.String("component", rec.id),
		)
		s.emitter.Emit(events.TypeComponentFallbackAttempt, events.ComponentData{
			ComponentID: rec.id,
			Phase:       rec.phase.String(),
			Metadata:    rec.metadata,
		})

		value, err := s.callWithTimeout(ctx, rec.fallback)
		if err == nil {
			return attemptOutcome{
				rec:      rec,
				status:   StatusLoadedViaFallback,
				value:    value,
				attempts: attempts,
				duration: time.Since(start),
			}
		}

		lastErr = err
		s.emitter.Emit(events.TypeComponentFallbackFailed, events.ComponentData{
			ComponentID: rec.id,
			Phase:       rec.phase.String(),
			Error:       err.Error(),
			Metadata:    rec.metadata,
		})
	}

	return attemptOutcome{
		rec:      rec,
		status:   StatusFailed,
		err:      lastErr,
		attempts: attempts,
		duration: time.Since(start),
	}
}

// callWithTimeout races one load or fallback call against LoadTimeout.
//
// The call runs on its own goroutine; if it outlives the timeout it is
// abandoned, not interrupted, and its eventual result is discarded. Panics
// in the callback are recovered and reported as load errors.
func (s *Scheduler) callWithTimeout(ctx context.Context, fn LoadFunc) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	defer cancel()

	type callResult struct {
		value any
		err   error
	}
	done := make(chan callResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("load panicked: %v", r)}
			}
		}()
		value, err := fn(callCtx)
		done <- callResult{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: after %s", ErrLoadTimeout, s.cfg.LoadTimeout)
		}
		return nil, callCtx.Err()
	}
}
