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
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls one Scheduler instance.
//
// Every field has a documented default, applied by New: zero durations and
// nil pointer fields are filled in, so Config{} behaves like DefaultConfig().
// The pointer fields are pointers because their zero values (no retries,
// fallbacks off, no critical abort) are meaningful settings in their own
// right; use Int and Bool to set them explicitly.
type Config struct {
	// ConcurrentLoads is the maximum number of simultaneous load attempts
	// within one phase. Must be >= 1. Default: 3.
	ConcurrentLoads int `yaml:"concurrent_loads"`

	// RetryAttempts is how many times a failed load is retried before the
	// fallback path is considered. Must be >= 0. Nil means the default of 2.
	RetryAttempts *int `yaml:"retry_attempts"`

	// RetryDelay is the pause between a failed attempt and its retry.
	// Default: 1 second.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ResourceCheckInterval is the sampling interval suggested to resource
	// monitors. Default: 500 milliseconds.
	ResourceCheckInterval time.Duration `yaml:"resource_check_interval"`

	// PhaseTransitionDelay elapses between phases as a scheduling yield
	// point for external UI updates. Default: 100 milliseconds.
	PhaseTransitionDelay time.Duration `yaml:"phase_transition_delay"`

	// LoadTimeout bounds each individual load or fallback call.
	// Default: 30 seconds.
	LoadTimeout time.Duration `yaml:"load_timeout"`

	// AbortOnCriticalFailure aborts the run when a critical component fails
	// terminally. Nil means the default of true.
	AbortOnCriticalFailure *bool `yaml:"abort_on_critical_failure"`

	// EnableFallbacks permits fallback load paths after retries are
	// exhausted. Nil means the default of true.
	EnableFallbacks *bool `yaml:"enable_fallbacks"`

	// DetectCycles makes StartLoading fail fast with ErrDependencyCycle when
	// the registered components contain a dependency cycle, instead of
	// relying on the deadlock-breaking forced load at run time.
	// Default: false.
	DetectCycles bool `yaml:"detect_cycles"`
}

// Int returns a pointer to v, for the optional Config fields.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for the optional Config fields.
func Bool(v bool) *bool { return &v }

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ConcurrentLoads:        3,
		RetryAttempts:          Int(2),
		RetryDelay:             1 * time.Second,
		ResourceCheckInterval:  500 * time.Millisecond,
		PhaseTransitionDelay:   100 * time.Millisecond,
		LoadTimeout:            30 * time.Second,
		AbortOnCriticalFailure: Bool(true),
		EnableFallbacks:        Bool(true),
	}
}

// Validate checks if the configuration is valid.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c *Config) Validate() error {
	if c.ConcurrentLoads < 1 {
		return errors.New("ConcurrentLoads must be >= 1")
	}
	if c.RetryAttempts != nil && *c.RetryAttempts < 0 {
		return errors.New("RetryAttempts must be >= 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("RetryDelay must be >= 0")
	}
	if c.ResourceCheckInterval < 0 {
		return errors.New("ResourceCheckInterval must be >= 0")
	}
	if c.PhaseTransitionDelay < 0 {
		return errors.New("PhaseTransitionDelay must be >= 0")
	}
	if c.LoadTimeout <= 0 {
		return errors.New("LoadTimeout must be > 0")
	}
	return nil
}

// UnmarshalYAML decodes a Config, accepting duration fields as Go duration
// strings ("500ms", "1s") as well as integer nanoseconds.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ConcurrentLoads        int       `yaml:"concurrent_loads"`
		RetryAttempts          *int      `yaml:"retry_attempts"`
		RetryDelay             yaml.Node `yaml:"retry_delay"`
		ResourceCheckInterval  yaml.Node `yaml:"resource_check_interval"`
		PhaseTransitionDelay   yaml.Node `yaml:"phase_transition_delay"`
		LoadTimeout            yaml.Node `yaml:"load_timeout"`
		AbortOnCriticalFailure *bool     `yaml:"abort_on_critical_failure"`
		EnableFallbacks        *bool     `yaml:"enable_fallbacks"`
		DetectCycles           bool      `yaml:"detect_cycles"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.ConcurrentLoads = raw.ConcurrentLoads
	c.RetryAttempts = raw.RetryAttempts
	c.AbortOnCriticalFailure = raw.AbortOnCriticalFailure
	c.EnableFallbacks = raw.EnableFallbacks
	c.DetectCycles = raw.DetectCycles

	for _, f := range []struct {
		name string
		node yaml.Node
		dst  *time.Duration
	}{
		{"retry_delay", raw.RetryDelay, &c.RetryDelay},
		{"resource_check_interval", raw.ResourceCheckInterval, &c.ResourceCheckInterval},
		{"phase_transition_delay", raw.PhaseTransitionDelay, &c.PhaseTransitionDelay},
		{"load_timeout", raw.LoadTimeout, &c.LoadTimeout},
	} {
		d, err := decodeDuration(&f.node)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// decodeDuration reads a duration from a YAML node holding either a duration
// string or an integer nanosecond count. A zero node yields zero.
func decodeDuration(node *yaml.Node) (time.Duration, error) {
	if node.IsZero() {
		return 0, nil
	}
	var ns int64
	if err := node.Decode(&ns); err == nil {
		return time.Duration(ns), nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return 0, err
	}
	return time.ParseDuration(s)
}

// ApplyDefaults fills zero durations and nil optional fields with the
// documented defaults. Explicitly set values, including Int(0) and
// Bool(false), are left untouched.
func (c *Config) ApplyDefaults() {
	if c.ConcurrentLoads == 0 {
		c.ConcurrentLoads = 3
	}
	if c.RetryAttempts == nil {
		c.RetryAttempts = Int(2)
	}
	if c.AbortOnCriticalFailure == nil {
		c.AbortOnCriticalFailure = Bool(true)
	}
	if c.EnableFallbacks == nil {
		c.EnableFallbacks = Bool(true)
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1 * time.Second
	}
	if c.ResourceCheckInterval == 0 {
		c.ResourceCheckInterval = 500 * time.Millisecond
	}
	if c.PhaseTransitionDelay == 0 {
		c.PhaseTransitionDelay = 100 * time.Millisecond
	}
	if c.LoadTimeout == 0 {
		c.LoadTimeout = 30 * time.Second
	}
}
