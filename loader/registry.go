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
	"fmt"
	"slices"
)

// record is one registered component. Records live in the registry arena and
// are addressed by integer handle; all mutation is guarded by the owning
// Scheduler's mutex.
type record struct {
	id           string
	load         LoadFunc
	fallback     LoadFunc
	phase        Phase
	priority     Priority
	dependencies []string
	critical     bool
	metadata     map[string]string

	status     Status
	retryCount int
	lastError  error
	value      any
	forced     bool

	// seq preserves registration order for the within-phase tie-break.
	seq int

	// removed marks a tombstoned arena slot after unregistration.
	removed bool
}

// registry holds the component arena, the id index, and the dependents
// adjacency. The adjacency is keyed by dependency id rather than handle so
// that forward references to not-yet-registered dependencies are legal.
//
// registry has no locking of its own: the Scheduler funnels all access
// through its mutex (single-writer control loop).
type registry struct {
	arena      []*record
	byID       map[string]int
	dependents map[string][]int
	nextSeq    int
}

func newRegistry() registry {
	return registry{
		byID:       make(map[string]int),
		dependents: make(map[string][]int),
	}
}

// register inserts or overwrites a component.
//
// Re-registration is only legal while the existing record is still in
// StatusRegistered; it overwrites the record in place, keeping its
// registration order slot.
func (r *registry) register(id string, load LoadFunc, spec componentSpec) (*record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: component id must not be empty", ErrValidation)
	}
	if load == nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, ErrNilLoad)
	}

	if h, ok := r.byID[id]; ok {
		existing := r.arena[h]
		if existing.status != StatusRegistered {
			return nil, fmt.Errorf("%w: component %q is already %s", ErrValidation, id, existing.status)
		}
		r.pruneAdjacency(existing)
		existing.load = load
		existing.fallback = spec.fallback
		existing.phase = spec.phase
		existing.priority = spec.priority
		existing.dependencies = slices.Clone(spec.dependencies)
		existing.critical = spec.critical
		existing.metadata = spec.metadata
		r.addAdjacency(existing, h)
		return existing, nil
	}

	rec := &record{
		id:           id,
		load:         load,
		fallback:     spec.fallback,
		phase:        spec.phase,
		priority:     spec.priority,
		dependencies: slices.Clone(spec.dependencies),
		critical:     spec.critical,
		metadata:     spec.metadata,
		status:       StatusRegistered,
		seq:          r.nextSeq,
	}
	r.nextSeq++

	h := len(r.arena)
	r.arena = append(r.arena, rec)
	r.byID[id] = h
	r.addAdjacency(rec, h)

	return rec, nil
}

// unregister removes a component that has not left StatusRegistered.
// The arena slot is tombstoned; handles are never reused within one
// scheduler instance.
func (r *registry) unregister(id string) bool {
	h, ok := r.byID[id]
	if !ok {
		return false
	}
	rec := r.arena[h]
	if rec.status != StatusRegistered {
		return false
	}

	r.pruneAdjacency(rec)
	delete(r.byID, id)
	// Others may still declare this id as a dependency; their adjacency
	// entries stay and the id reverts to a forward reference.
	rec.removed = true
	return true
}

// get returns the live record for id.
func (r *registry) get(id string) (*record, bool) {
	h, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.arena[h], true
}

// snapshot returns all live records.
func (r *registry) snapshot() []*record {
	out := make([]*record, 0, len(r.byID))
	for _, rec := range r.arena {
		if !rec.removed {
			out = append(out, rec)
		}
	}
	return out
}

// depsSatisfied reports whether every dependency of rec has reached a
// terminal success status. Unregistered dependency ids count as unsatisfied.
func (r *registry) depsSatisfied(rec *record) bool {
	for _, dep := range rec.dependencies {
		d, ok := r.get(dep)
		if !ok || !d.status.IsSuccess() {
			return false
		}
	}
	return true
}

// addAdjacency records rec's handle under each of its dependency ids.
func (r *registry) addAdjacency(rec *record, h int) {
	for _, dep := range rec.dependencies {
		r.dependents[dep] = append(r.dependents[dep], h)
	}
}

// pruneAdjacency removes rec's handle from its dependency ids.
func (r *registry) pruneAdjacency(rec *record) {
	h, ok := r.byID[rec.id]
	if !ok {
		return
	}
	for _, dep := range rec.dependencies {
		list := r.dependents[dep]
		list = slices.DeleteFunc(list, func(x int) bool { return x == h })
		if len(list) == 0 {
			delete(r.dependents, dep)
		} else {
			r.dependents[dep] = list
		}
	}
}

// findCycle looks for a dependency cycle among live records.
//
// Outputs:
//
//	[]string - The ids forming a cycle, in dependency order, or nil.
//	bool - True if a cycle was found.
func (r *registry) findCycle() ([]string, bool) {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(r.byID))

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		rec, ok := r.get(id)
		if !ok {
			// Forward reference to an unregistered id; no edge to follow.
			return false
		}
		state[id] = inStack
		stack = append(stack, id)

		for _, dep := range rec.dependencies {
			switch state[dep] {
			case inStack:
				// Slice the cycle out of the current path.
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		state[id] = done
		stack = stack[:len(stack)-1]
		return false
	}

	for id := range r.byID {
		if state[id] == unvisited && visit(id) {
			return cycle, true
		}
	}
	return nil, false
}
