// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides event types and handling for component bring-up.
//
// Events allow external systems (UI, telemetry) to observe scheduler behavior
// without coupling to the scheduler implementation.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeLoadingStarted is emitted once when a run begins.
	TypeLoadingStarted Type = "loadingStarted"

	// TypePhaseStarted is emitted when a phase batch begins draining.
	TypePhaseStarted Type = "phaseStarted"

	// TypePhaseCompleted is emitted when every member of a phase is terminal
	// or the run aborted mid-phase.
	TypePhaseCompleted Type = "phaseCompleted"

	// TypeComponentLoading is emitted when a load attempt starts.
	TypeComponentLoading Type = "componentLoading"

	// TypeComponentLoaded is emitted when the primary load path succeeds.
	TypeComponentLoaded Type = "componentLoaded"

	// TypeComponentFailed is emitted on each failed load attempt.
	TypeComponentFailed Type = "componentFailed"

	// TypeComponentFallbackAttempt is emitted when the fallback path starts.
	TypeComponentFallbackAttempt Type = "componentFallbackAttempt"

	// TypeComponentFallbackSuccess is emitted when the fallback path succeeds.
	TypeComponentFallbackSuccess Type = "componentFallbackSuccess"

	// TypeComponentFallbackFailed is emitted when the fallback path fails.
	TypeComponentFallbackFailed Type = "componentFallbackFailed"

	// TypeCriticalFailure is emitted when a critical component fails
	// terminally and the abort policy is engaged.
	TypeCriticalFailure Type = "criticalFailure"

	// TypeLoadingCompleted is emitted once when a run finishes.
	TypeLoadingCompleted Type = "loadingCompleted"

	// TypeLoadingAborted is emitted when the run observes the abort flag.
	TypeLoadingAborted Type = "loadingAborted"

	// TypeResourceConstraint is emitted when the resource monitor reports
	// critical pressure above the minimal-mode thresholds.
	TypeResourceConstraint Type = "resourceConstraint"
)

// Event represents one scheduler lifecycle event.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// SessionID links the event to one StartLoading run.
	SessionID string `json:"session_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Data contains event-specific data: one of ComponentData, PhaseData,
	// RunData, or ResourceConstraintData.
	Data any `json:"data,omitempty"`
}

// ComponentData is the payload for component lifecycle events.
type ComponentData struct {
	// ComponentID is the component's registered id.
	ComponentID string `json:"component_id"`

	// Phase is the component's loading phase name.
	Phase string `json:"phase"`

	// Attempt is the 1-based attempt number (retries increment it).
	Attempt int `json:"attempt,omitempty"`

	// Final marks the terminal componentFailed event for a component.
	Final bool `json:"final,omitempty"`

	// Forced marks an attempt launched by the deadlock-breaking rule.
	Forced bool `json:"forced,omitempty"`

	// Duration is how long the attempt took, when applicable.
	Duration time.Duration `json:"duration,omitempty"`

	// Error is set on failure events.
	Error string `json:"error,omitempty"`

	// Metadata is the opaque bag supplied at registration, passed through
	// unmodified.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PhaseData is the payload for phase lifecycle events.
type PhaseData struct {
	// Phase is the phase name.
	Phase string `json:"phase"`

	// Components is the batch size for phaseStarted, or the resolved count
	// for phaseCompleted.
	Components int `json:"components"`

	// Failed is the number of terminal failures in the phase (phaseCompleted).
	Failed int `json:"failed,omitempty"`

	// Aborted reports whether the phase ended because of the abort flag.
	Aborted bool `json:"aborted,omitempty"`
}

// RunData is the payload for loadingStarted / loadingCompleted /
// loadingAborted / criticalFailure events.
type RunData struct {
	// Total is the number of components in the run snapshot.
	Total int `json:"total"`

	// Loaded counts terminal successes so far.
	Loaded int `json:"loaded,omitempty"`

	// Failed counts terminal failures so far.
	Failed int `json:"failed,omitempty"`

	// ComponentID names the component for criticalFailure events.
	ComponentID string `json:"component_id,omitempty"`

	// Error carries the triggering error for criticalFailure events.
	Error string `json:"error,omitempty"`
}

// ResourceConstraintData is the payload for resourceConstraint events.
type ResourceConstraintData struct {
	// CPU is the reported CPU usage, 0-100.
	CPU float64 `json:"cpu"`

	// Memory is the reported memory usage, 0-100.
	Memory float64 `json:"memory"`

	// CPUThreshold is the minimal-mode CPU threshold that was exceeded.
	CPUThreshold float64 `json:"cpu_threshold"`

	// MemoryThreshold is the minimal-mode memory threshold that was exceeded.
	MemoryThreshold float64 `json:"memory_threshold"`
}
