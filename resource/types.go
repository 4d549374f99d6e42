// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resource defines the resource-pressure boundary of the scheduler.
//
// The scheduler consumes push reports from a Monitor during a run and emits a
// resourceConstraint event when critical pressure exceeds the minimal-mode
// thresholds. It never reduces its concurrency bound in response; the bounded
// executor is the only backpressure mechanism (soft throttle).
//
// Thread Safety:
//
//	All exported types in this package are safe for concurrent use.
package resource

import "errors"

// ErrMonitorClosed is returned by monitors after Stop.
var ErrMonitorClosed = errors.New("resource monitor is closed")

// Report is one push notification of resource usage.
type Report struct {
	// CPU is the CPU usage, 0-100.
	CPU float64 `json:"cpu"`

	// Memory is the memory usage, 0-100.
	Memory float64 `json:"memory"`

	// Critical marks a sample the monitor itself considers alarming.
	Critical bool `json:"critical"`
}

// ModeThresholds are the per-resource thresholds for one degradation mode.
type ModeThresholds struct {
	// CPUThreshold is the CPU usage level, 0-100, that engages the mode.
	CPUThreshold float64 `json:"cpu_threshold" yaml:"cpu_threshold"`

	// MemoryThreshold is the memory usage level, 0-100, that engages the mode.
	MemoryThreshold float64 `json:"memory_threshold" yaml:"memory_threshold"`
}

// Thresholds are the nested per-mode numeric thresholds a Monitor exposes.
type Thresholds struct {
	// Reduced is the first degradation mode.
	Reduced ModeThresholds `json:"reduced" yaml:"reduced"`

	// Minimal is the last-resort mode; the scheduler's constraint listener
	// compares critical reports against it.
	Minimal ModeThresholds `json:"minimal" yaml:"minimal"`
}

// Exceeds reports whether the sample is at or above the minimal-mode
// thresholds for either resource.
func (t Thresholds) Exceeds(r Report) bool {
	return r.CPU >= t.Minimal.CPUThreshold || r.Memory >= t.Minimal.MemoryThreshold
}

// DefaultThresholds returns the thresholds used when a monitor does not
// configure its own.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Reduced: ModeThresholds{
			CPUThreshold:    70,
			MemoryThreshold: 75,
		},
		Minimal: ModeThresholds{
			CPUThreshold:    85,
			MemoryThreshold: 90,
		},
	}
}

// Monitor is the external resource-monitor collaborator.
//
// Implementations push Reports on the channel returned by Reports and expose
// their configured thresholds for pull-based inspection.
type Monitor interface {
	// Reports returns the push channel of usage samples. The channel is
	// closed when the monitor stops.
	Reports() <-chan Report

	// Thresholds returns the per-mode thresholds.
	Thresholds() Thresholds
}
