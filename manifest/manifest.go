// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest loads declarative bring-up manifests.
//
// A manifest names the components of one bring-up, their phases, priorities,
// dependencies, and (for demonstration and testing) simulated load behavior.
// Hosts embedding the scheduler as a library register real load functions
// directly and do not need this package.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use.
package manifest

import (
	_ "embed"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ignition/loader"
)

// MaxYAMLFileSize is the maximum allowed manifest size (1MB).
// Prevents memory issues from large files.
const MaxYAMLFileSize = 1024 * 1024

//go:embed example.yaml
var exampleManifestYAML []byte

var (
	manifestLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ignition_manifest_load_errors_total",
		Help: "Total manifest load errors",
	})

	manifestComponents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ignition_manifest_components",
		Help: "Number of components in the most recently loaded manifest",
	})
)

// Simulate describes the synthetic load behavior of a manifest component.
type Simulate struct {
	// Duration is how long each load attempt takes.
	Duration time.Duration `yaml:"duration"`

	// FailAttempts is how many leading attempts fail before one succeeds.
	FailAttempts int `yaml:"fail_attempts" validate:"gte=0"`

	// FailAlways makes every attempt fail regardless of FailAttempts.
	FailAlways bool `yaml:"fail_always"`

	// Fallback registers a simulated fallback path.
	Fallback bool `yaml:"fallback"`

	// FallbackDuration is how long the fallback takes.
	FallbackDuration time.Duration `yaml:"fallback_duration"`

	// FallbackFails makes the fallback path fail too.
	FallbackFails bool `yaml:"fallback_fails"`
}

// Component is one manifest entry.
type Component struct {
	// ID is the unique component identifier.
	ID string `yaml:"id" validate:"required"`

	// Phase is one of: critical, core, functional, enhancement, extension.
	Phase string `yaml:"phase" validate:"omitempty,oneof=critical core functional enhancement extension"`

	// Priority is one of: highest, high, normal, low, lowest.
	Priority string `yaml:"priority" validate:"omitempty,oneof=highest high normal low lowest"`

	// Dependencies lists component ids that must load first.
	Dependencies []string `yaml:"dependencies"`

	// Critical marks the component for the critical-failure abort policy.
	Critical bool `yaml:"critical"`

	// Metadata is passed through to lifecycle events unmodified.
	Metadata map[string]string `yaml:"metadata"`

	// Simulate configures the synthetic load behavior.
	Simulate Simulate `yaml:"simulate"`
}

// Manifest is one declarative bring-up description.
type Manifest struct {
	// Components are the bring-up entries.
	Components []Component `yaml:"components" validate:"required,min=1,dive"`

	// Scheduler overrides the default scheduler configuration.
	Scheduler loader.Config `yaml:"scheduler"`
}

var validate = validator.New()

// Load reads and validates a manifest file.
//
// Inputs:
//
//	path - Manifest file path.
//
// Outputs:
//
//	*Manifest - The parsed manifest.
//	error - Non-nil on read, parse, or validation failure.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("stat manifest: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("manifest %s exceeds %d bytes", path, MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := validate.Struct(&m); err != nil {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("validate manifest: %w", err)
	}

	manifestComponents.Set(float64(len(m.Components)))
	return &m, nil
}

// Example returns the embedded example manifest.
func Example() (*Manifest, error) {
	return Parse(exampleManifestYAML)
}

// ExampleYAML returns the embedded example manifest source.
func ExampleYAML() []byte {
	out := make([]byte, len(exampleManifestYAML))
	copy(out, exampleManifestYAML)
	return out
}

// Apply registers every manifest component with the scheduler, wiring the
// simulated load and fallback functions.
//
// Inputs:
//
//	s - The target scheduler.
//
// Outputs:
//
//	error - The first registration error, if any.
func (m *Manifest) Apply(s *loader.Scheduler) error {
	for _, c := range m.Components {
		opts := []loader.ComponentOption{
			loader.WithPhase(parsePhase(c.Phase)),
			loader.WithPriority(parsePriority(c.Priority)),
		}
		if len(c.Dependencies) > 0 {
			opts = append(opts, loader.WithDependencies(c.Dependencies...))
		}
		if c.Critical {
			opts = append(opts, loader.WithCritical())
		}
		if len(c.Metadata) > 0 {
			opts = append(opts, loader.WithMetadata(c.Metadata))
		}
		if c.Simulate.Fallback {
			opts = append(opts, loader.WithFallback(simulateFallback(c)))
		}

		if err := s.Register(c.ID, simulateLoad(c), opts...); err != nil {
			return fmt.Errorf("register %s: %w", c.ID, err)
		}
	}
	return nil
}

// simulateLoad builds the synthetic primary load path for one component.
func simulateLoad(c Component) loader.LoadFunc {
	attempts := 0
	return func(ctx context.Context) (any, error) {
		attempts++
		if err := simulateWork(ctx, c.Simulate.Duration); err != nil {
			return nil, err
		}
		if c.Simulate.FailAlways || attempts <= c.Simulate.FailAttempts {
			return nil, fmt.Errorf("simulated failure for %s (attempt %d)", c.ID, attempts)
		}
		return fmt.Sprintf("%s ready", c.ID), nil
	}
}

// simulateFallback builds the synthetic fallback path for one component.
func simulateFallback(c Component) loader.LoadFunc {
	return func(ctx context.Context) (any, error) {
		if err := simulateWork(ctx, c.Simulate.FallbackDuration); err != nil {
			return nil, err
		}
		if c.Simulate.FallbackFails {
			return nil, fmt.Errorf("simulated fallback failure for %s", c.ID)
		}
		return fmt.Sprintf("%s ready (fallback)", c.ID), nil
	}
}

// simulateWork sleeps for d, honoring cancellation.
func simulateWork(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parsePhase maps a manifest phase name to its ordinal. Empty means the
// scheduler default.
func parsePhase(name string) loader.Phase {
	switch name {
	case "critical":
		return loader.PhaseCritical
	case "core":
		return loader.PhaseCore
	case "enhancement":
		return loader.PhaseEnhancement
	case "extension":
		return loader.PhaseExtension
	default:
		return loader.PhaseFunctional
	}
}

// parsePriority maps a manifest priority name to its ordinal.
func parsePriority(name string) loader.Priority {
	switch name {
	case "highest":
		return loader.PriorityHighest
	case "high":
		return loader.PriorityHigh
	case "low":
		return loader.PriorityLow
	case "lowest":
		return loader.PriorityLowest
	default:
		return loader.PriorityNormal
	}
}
