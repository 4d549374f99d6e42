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
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrValidation is returned for invalid registration arguments.
	ErrValidation = errors.New("invalid component registration")

	// ErrLoadTimeout indicates a load or fallback call exceeded LoadTimeout.
	// It is treated like any other load failure for retry/fallback purposes.
	ErrLoadTimeout = errors.New("component load timed out")

	// ErrSchedulerActive is returned when an operation requires an idle
	// scheduler but a StartLoading run is in progress.
	ErrSchedulerActive = errors.New("scheduler is already loading")

	// ErrDependencyCycle is returned by StartLoading when DetectCycles is
	// enabled and the registered components contain a dependency cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilLoad is returned when a component is registered without a load function.
	ErrNilLoad = errors.New("load function must not be nil")
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Phase is an ordinal loading stage. All components in phase N resolve
// before phase N+1 starts.
type Phase int

const (
	// PhaseCritical holds components the rest of the system cannot exist without.
	PhaseCritical Phase = iota

	// PhaseCore holds primary subsystems.
	PhaseCore

	// PhaseFunctional holds ordinary feature components. This is the default.
	PhaseFunctional

	// PhaseEnhancement holds quality-of-life components.
	PhaseEnhancement

	// PhaseExtension holds optional add-ons loaded last.
	PhaseExtension
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseCritical:
		return "critical"
	case PhaseCore:
		return "core"
	case PhaseFunctional:
		return "functional"
	case PhaseEnhancement:
		return "enhancement"
	case PhaseExtension:
		return "extension"
	default:
		return "unknown"
	}
}

// Priority is the tie-breaking ordinal used to order components within a
// phase. Lower values load earlier.
type Priority int

const (
	// PriorityHighest loads first within its phase.
	PriorityHighest Priority = iota

	// PriorityHigh loads before normal components.
	PriorityHigh

	// PriorityNormal is the default priority.
	PriorityNormal

	// PriorityLow loads after normal components.
	PriorityLow

	// PriorityLowest loads last within its phase.
	PriorityLowest
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHighest:
		return "highest"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityLowest:
		return "lowest"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a registered component. Status only ever
// moves forward: Registered -> Loading -> (Loaded | LoadedViaFallback | Failed).
type Status int

const (
	// StatusRegistered means the component is known but not yet attempted.
	StatusRegistered Status = iota

	// StatusLoading means a load attempt is in flight.
	StatusLoading

	// StatusLoaded means the primary load path succeeded.
	StatusLoaded

	// StatusLoadedViaFallback means the fallback path succeeded after the
	// primary path exhausted its retries.
	StatusLoadedViaFallback

	// StatusFailed means all load paths were exhausted without success.
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusLoadedViaFallback:
		return "loaded_via_fallback"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if this is a terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusLoaded || s == StatusLoadedViaFallback || s == StatusFailed
}

// IsSuccess returns true if the component reached a terminal success status.
func (s Status) IsSuccess() bool {
	return s == StatusLoaded || s == StatusLoadedViaFallback
}

// -----------------------------------------------------------------------------
// Callback Types
// -----------------------------------------------------------------------------

// LoadFunc brings up one component. The scheduler treats the returned value
// as opaque; it is retained for status snapshots but never interpreted.
//
// LoadFunc implementations should honor ctx cancellation: the scheduler races
// each call against the configured load timeout and abandons (but cannot
// interrupt) calls that outlive it.
type LoadFunc func(ctx context.Context) (any, error)

// -----------------------------------------------------------------------------
// Component Options
// -----------------------------------------------------------------------------

// componentSpec collects registration options before the record is built.
type componentSpec struct {
	phase        Phase
	priority     Priority
	dependencies []string
	critical     bool
	fallback     LoadFunc
	metadata     map[string]string
}

// ComponentOption configures a component at registration time.
type ComponentOption func(*componentSpec)

// WithPhase sets the component's loading phase. Default: PhaseFunctional.
func WithPhase(p Phase) ComponentOption {
	return func(s *componentSpec) {
		s.phase = p
	}
}

// WithPriority sets the within-phase priority. Default: PriorityNormal.
func WithPriority(p Priority) ComponentOption {
	return func(s *componentSpec) {
		s.priority = p
	}
}

// WithDependencies declares component ids that must reach a terminal success
// status before this component becomes eligible. Forward references to ids
// that are not yet registered are legal.
func WithDependencies(ids ...string) ComponentOption {
	return func(s *componentSpec) {
		s.dependencies = append(s.dependencies, ids...)
	}
}

// WithCritical marks the component as critical: if it fails with no
// successful fallback and AbortOnCriticalFailure is set, the run aborts.
func WithCritical() ComponentOption {
	return func(s *componentSpec) {
		s.critical = true
	}
}

// WithFallback supplies a secondary load path invoked only after the primary
// path's retries are exhausted (and only when EnableFallbacks is set).
func WithFallback(fn LoadFunc) ComponentOption {
	return func(s *componentSpec) {
		s.fallback = fn
	}
}

// WithMetadata attaches opaque key-value pairs that are passed through to
// lifecycle events unmodified.
func WithMetadata(md map[string]string) ComponentOption {
	return func(s *componentSpec) {
		if s.metadata == nil {
			s.metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			s.metadata[k] = v
		}
	}
}

// -----------------------------------------------------------------------------
// Snapshot Types
// -----------------------------------------------------------------------------

// ComponentStatus is a point-in-time snapshot of one component.
type ComponentStatus struct {
	// ID is the component identifier.
	ID string `json:"id"`

	// Phase is the component's loading phase.
	Phase Phase `json:"phase"`

	// Priority is the within-phase priority.
	Priority Priority `json:"priority"`

	// Status is the lifecycle state at snapshot time.
	Status Status `json:"status"`

	// Dependencies are the declared dependency ids.
	Dependencies []string `json:"dependencies,omitempty"`

	// Critical reports whether the component is critical.
	Critical bool `json:"critical"`

	// RetryCount is the number of failed primary attempts so far.
	RetryCount int `json:"retry_count"`

	// LastError is the most recent load error, if any.
	LastError string `json:"last_error,omitempty"`

	// ForcedLoad reports whether the deadlock-breaking rule attempted this
	// component despite unsatisfied dependencies.
	ForcedLoad bool `json:"forced_load,omitempty"`

	// Value is the opaque result returned by the successful load path.
	Value any `json:"-"`

	// Metadata is the opaque bag supplied at registration.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Progress summarizes a run at call time. It is computed from registry
// counts, never cached.
type Progress struct {
	// Total is the number of registered components.
	Total int `json:"total"`

	// Loaded counts terminal successes, including fallback successes.
	Loaded int `json:"loaded"`

	// Failed counts terminal failures.
	Failed int `json:"failed"`

	// Pending counts components with an attempt currently in flight.
	Pending int `json:"pending"`

	// Waiting counts components not yet attempted.
	Waiting int `json:"waiting"`

	// ProgressPercent is resolved components over total, 0-100.
	ProgressPercent float64 `json:"progress_percent"`

	// Active reports whether a StartLoading run is in progress.
	Active bool `json:"active"`

	// Aborted reports whether the global abort flag is set.
	Aborted bool `json:"aborted"`
}

// Result aggregates one StartLoading run.
type Result struct {
	// SessionID identifies the run in logs, traces, and events.
	SessionID string `json:"session_id"`

	// Success is true when every component resolved successfully and the run
	// was not aborted.
	Success bool `json:"success"`

	// Aborted reports whether the abort flag was set during the run, either
	// by AbortLoading or by a critical failure.
	Aborted bool `json:"aborted"`

	// Loaded lists components that reached Loaded or LoadedViaFallback.
	Loaded []string `json:"loaded"`

	// Failed lists components that reached Failed.
	Failed []string `json:"failed"`

	// Skipped lists components never attempted because the run aborted.
	Skipped []string `json:"skipped,omitempty"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}
