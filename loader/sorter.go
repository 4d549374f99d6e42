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
	"slices"
)

// phaseBatch is one contiguous group of components sharing a phase, ordered
// by priority then registration order.
type phaseBatch struct {
	phase   Phase
	members []*record
}

// partitionPhases sorts records by (phase, priority, registration order) and
// splits them into contiguous phase batches in ascending phase order.
func partitionPhases(records []*record) []phaseBatch {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b *record) int {
		if a.phase != b.phase {
			return int(a.phase) - int(b.phase)
		}
		if a.priority != b.priority {
			return int(a.priority) - int(b.priority)
		}
		return a.seq - b.seq
	})

	var batches []phaseBatch
	for _, rec := range sorted {
		if n := len(batches); n > 0 && batches[n-1].phase == rec.phase {
			batches[n-1].members = append(batches[n-1].members, rec)
			continue
		}
		batches = append(batches, phaseBatch{phase: rec.phase, members: []*record{rec}})
	}
	return batches
}
