package optimization

import (
	"math"
	"sort"
)

// Numerical tolerances for post-processing validation.
const (
	boundTolerance = 1e-5
	sumTolerance   = 1e-4
)

// fallbackTopN caps how many assets the thresholding fallback retains when
// every raw weight falls below the minimum.
const fallbackTopN = 10

// CleanWeights applies min-weight thresholding: assets below minWeight are
// dropped and the survivors renormalized to sum to 1. When thresholding
// would drop everything, the top-N assets by raw weight are retained and
// renormalized instead. The second return reports whether that fallback
// fired.
func CleanWeights(raw map[string]float64, minWeight float64) (map[string]float64, bool) {
	kept := make(map[string]float64, len(raw))
	for ticker, w := range raw {
		if w >= minWeight {
			kept[ticker] = w
		}
	}

	fallback := false
	if len(kept) == 0 {
		fallback = true
		type entry struct {
			ticker string
			weight float64
		}
		ranked := make([]entry, 0, len(raw))
		for ticker, w := range raw {
			ranked = append(ranked, entry{ticker, w})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].weight != ranked[j].weight {
				return ranked[i].weight > ranked[j].weight
			}
			return ranked[i].ticker < ranked[j].ticker
		})
		n := len(ranked)
		if n > fallbackTopN {
			n = fallbackTopN
		}
		for _, e := range ranked[:n] {
			kept[e.ticker] = e.weight
		}
	}

	return normalize(kept), fallback
}

// normalize scales weights to sum to 1, leaving an all-zero map unchanged.
func normalize(weights map[string]float64) map[string]float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return weights
	}
	out := make(map[string]float64, len(weights))
	for ticker, w := range weights {
		out[ticker] = w / sum
	}
	return out
}

// ValidateBounds checks every weight against [min, max] within tolerance.
// Assets dropped by thresholding are absent from the map and are not checked
// against the minimum.
func ValidateBounds(weights map[string]float64, min, max float64) error {
	for ticker, w := range weights {
		if w < min-boundTolerance || w > max+boundTolerance {
			return &BoundViolationError{Ticker: ticker, Weight: w, Min: min, Max: max}
		}
	}
	return nil
}

// ValidateSum checks that weights sum to 1 within tolerance.
func ValidateSum(weights map[string]float64) error {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > sumTolerance {
		return &SumViolationError{Sum: sum}
	}
	return nil
}
