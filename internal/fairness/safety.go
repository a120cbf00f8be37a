// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fairness

import (
	"fmt"

	"github.com/pdiddy/medscope/pkg/types"
)

// EnsureSafetyCritical returns set with every safety-critical section added.
func EnsureSafetyCritical(set types.SectionSet) types.SectionSet {
	return set.Union(types.SafetyCritical)
}

// EnsureAll re-unions the safety-critical sections into every selection in place.
func EnsureAll(sels []types.SectionSelection) {
	for i := range sels {
		sels[i].AdjustedSections = EnsureSafetyCritical(sels[i].AdjustedSections)
	}
}

// CheckSafety returns an error naming the first selection whose adjusted
// sections miss a safety-critical section.
func CheckSafety(sels []types.SectionSelection) error {
	for _, s := range sels {
		if !s.AdjustedSections.Contains(types.SafetyCritical) {
			return fmt.Errorf("selection for %s lost safety-critical sections %s",
				s.Medication, types.SafetyCritical.Minus(s.AdjustedSections))
		}
	}
	return nil
}
