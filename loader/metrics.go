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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("ignition.loader")
	meter  = otel.Meter("ignition.loader")
)

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (s *Scheduler) initMetrics() {
	s.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		s.loadLatency, err = meter.Float64Histogram("ignition_component_load_duration_seconds",
			metric.WithDescription("Time spent loading each component, including retries and fallback"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "load_latency: "+err.Error())
		}

		s.loadSuccesses, err = meter.Int64Counter("ignition_component_load_success_total",
			metric.WithDescription("Number of components that reached a terminal success status"),
		)
		if err != nil {
			initErrors = append(initErrors, "load_successes: "+err.Error())
		}

		s.loadFailures, err = meter.Int64Counter("ignition_component_load_failure_total",
			metric.WithDescription("Number of components that exhausted all load paths"),
		)
		if err != nil {
			initErrors = append(initErrors, "load_failures: "+err.Error())
		}

		s.activeLoads, err = meter.Int64UpDownCounter("ignition_active_loads",
			metric.WithDescription("Number of load attempts currently in flight"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_loads: "+err.Error())
		}

		s.phaseLatency, err = meter.Float64Histogram("ignition_phase_duration_seconds",
			metric.WithDescription("Time spent draining each phase batch"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "phase_latency: "+err.Error())
		}

		s.forcedLoads, err = meter.Int64Counter("ignition_forced_loads_total",
			metric.WithDescription("Number of deadlock-breaking forced load attempts"),
		)
		if err != nil {
			initErrors = append(initErrors, "forced_loads: "+err.Error())
		}

		if len(initErrors) > 0 {
			s.logger.Error("failed to initialize some loader metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}
