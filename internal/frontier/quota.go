package frontier

import (
	"fmt"
	"math"
	"slices"
)

// ratioTolerance is how far the ratio sum may drift from 1 before renormalising.
const ratioTolerance = 0.01

// NormalizeRatios validates sampling ratios and rescales them to sum to 1
// when the sum is off by more than ratioTolerance. The input is not modified.
func NormalizeRatios(ratios map[string]float64) (map[string]float64, error) {
	if len(ratios) == 0 {
		return nil, ErrNoSources
	}

	sum := 0.0
	for name, w := range ratios {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return nil, fmt.Errorf("%w: %s=%v must be within [0,1]", ErrInvalidRatios, name, w)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidRatios)
	}

	out := make(map[string]float64, len(ratios))
	rescale := math.Abs(sum-1) > ratioTolerance
	for name, w := range ratios {
		if rescale {
			w /= sum
		}
		out[name] = w
	}
	return out, nil
}

// PartitionQuota splits total across sources in name order. Every source but
// the last positive-weight one gets int(total*ratio); that last source takes
// the remainder so the quotas sum to exactly total.
func PartitionQuota(total int, ratios map[string]float64) map[string]int {
	names := make([]string, 0, len(ratios))
	for name := range ratios {
		names = append(names, name)
	}
	slices.Sort(names)

	last := ""
	for _, name := range names {
		if ratios[name] > 0 {
			last = name
		}
	}

	quotas := make(map[string]int, len(names))
	assigned := 0
	for _, name := range names {
		if name == last {
			continue
		}
		q := int(float64(total) * ratios[name])
		quotas[name] = q
		assigned += q
	}
	if last != "" {
		quotas[last] = max(total-assigned, 0)
	}
	return quotas
}
