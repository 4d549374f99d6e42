// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resource

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// RuntimeMonitor is a reference Monitor built on the Go runtime.
//
// Description:
//
//	Samples heap usage against a configured budget on a fixed interval and
//	pushes a Report per sample. CPU is approximated from GC fraction; hosts
//	with a real system monitor should implement Monitor directly and feed
//	the scheduler their own samples.
//
// Thread Safety:
//
//	Safe for concurrent use. Start may be called once.
type RuntimeMonitor struct {
	interval   time.Duration
	memBudget  uint64
	thresholds Thresholds
	logger     *slog.Logger

	reports  chan Report
	stopOnce sync.Once
	stopCh   chan struct{}
}

// RuntimeMonitorOption configures a RuntimeMonitor.
type RuntimeMonitorOption func(*RuntimeMonitor)

// WithInterval sets the sampling interval. Default: 500 milliseconds.
func WithInterval(d time.Duration) RuntimeMonitorOption {
	return func(m *RuntimeMonitor) {
		m.interval = d
	}
}

// WithMemoryBudget sets the heap byte budget that maps to 100% memory usage.
// Default: 1 GiB.
func WithMemoryBudget(bytes uint64) RuntimeMonitorOption {
	return func(m *RuntimeMonitor) {
		m.memBudget = bytes
	}
}

// WithThresholds overrides the default per-mode thresholds.
func WithThresholds(t Thresholds) RuntimeMonitorOption {
	return func(m *RuntimeMonitor) {
		m.thresholds = t
	}
}

// WithLogger sets the logger. If nil, slog.Default is used.
func WithLogger(logger *slog.Logger) RuntimeMonitorOption {
	return func(m *RuntimeMonitor) {
		m.logger = logger
	}
}

// NewRuntimeMonitor creates a runtime-backed monitor.
func NewRuntimeMonitor(opts ...RuntimeMonitorOption) *RuntimeMonitor {
	m := &RuntimeMonitor{
		interval:   500 * time.Millisecond,
		memBudget:  1 << 30,
		thresholds: DefaultThresholds(),
		reports:    make(chan Report, 16),
		stopCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("subsystem", "resource_monitor"))

	return m
}

// Reports returns the push channel of usage samples.
func (m *RuntimeMonitor) Reports() <-chan Report {
	return m.reports
}

// Thresholds returns the configured per-mode thresholds.
func (m *RuntimeMonitor) Thresholds() Thresholds {
	return m.thresholds
}

// Start begins sampling until ctx is cancelled or Stop is called.
//
// Description:
//
//	Runs the sampling loop on the calling goroutine; callers normally invoke
//	it via `go m.Start(ctx)`. The reports channel is closed on return.
//
// Inputs:
//
//	ctx - Context bounding the sampling loop. Must not be nil.
func (m *RuntimeMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.reports)

	m.logger.Debug("resource monitor started",
		slog.Duration("interval", m.interval),
		slog.Uint64("memory_budget_bytes", m.memBudget),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("resource monitor stopped", slog.String("reason", "context"))
			return
		case <-m.stopCh:
			m.logger.Debug("resource monitor stopped", slog.String("reason", "stop"))
			return
		case <-ticker.C:
			report := m.sample()
			select {
			case m.reports <- report:
			default:
				// Consumer is behind; drop the sample rather than block.
			}
		}
	}
}

// Stop terminates the sampling loop. Idempotent.
func (m *RuntimeMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// sample reads one usage snapshot from the runtime.
func (m *RuntimeMonitor) sample() Report {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	memPct := float64(memStats.Alloc) / float64(m.memBudget) * 100
	if memPct > 100 {
		memPct = 100
	}

	// GCCPUFraction is the closest instantaneous CPU signal the runtime
	// offers without sampling over time.
	cpuPct := memStats.GCCPUFraction * 100
	if cpuPct > 100 {
		cpuPct = 100
	}

	return Report{
		CPU:      cpuPct,
		Memory:   memPct,
		Critical: m.thresholds.Exceeds(Report{CPU: cpuPct, Memory: memPct}),
	}
}
