package series

import (
	"math"
	"strings"
)

// MergePolicy collapses two samples that share a timestamp into one value.
type MergePolicy int

const (
	// Max keeps the larger value. It is also the fallback for statistics
	// without a known policy, which overstates percentiles rather than
	// understating them.
	Max MergePolicy = iota
	// Sum adds the values.
	Sum
	// Min keeps the smaller value.
	Min
)

// String returns the policy name.
func (p MergePolicy) String() string {
	switch p {
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return "unknown"
	}
}

// Merge combines an existing value with an incoming one. All policies are
// commutative.
func (p MergePolicy) Merge(existing, incoming float64) float64 {
	switch p {
	case Sum:
		return existing + incoming
	case Min:
		return math.Min(existing, incoming)
	default:
		return math.Max(existing, incoming)
	}
}

// PolicyForStatistic maps a statistic name to its merge policy. The second
// result is false when the statistic is unknown and Max was substituted.
func PolicyForStatistic(statistic string) (MergePolicy, bool) {
	switch strings.ToLower(statistic) {
	case "sum", "count":
		return Sum, true
	case "max":
		return Max, true
	case "min":
		return Min, true
	default:
		return Max, false
	}
}
