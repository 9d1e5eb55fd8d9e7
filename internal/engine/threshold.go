package engine

import (
	"math"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// SuggestThreshold picks the decision threshold at the (1-targetFAR)
// quantile of the impostor-score distribution: by construction only a
// targetFAR fraction of impostor comparisons exceed it. Returns false when
// scores is empty and no suggestion can be made.
func SuggestThreshold(scores []float64, targetFAR float64) (float64, bool) {
	if len(scores) == 0 {
		return 0, false
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)

	q := 1 - targetFAR
	idx := int(math.Floor(q * float64(len(sorted)-1)))
	return sorted[clamp(idx, 0, len(sorted)-1)], true
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
