package rebalance

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Entropy returns the Shannon entropy in bits of an allocation given as
// per-symbol values. Non-positive values carry no weight.
func Entropy(values []float64) float64 {
	positive := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) < 2 {
		return 0
	}

	total := floats.Sum(positive)
	floats.Scale(1/total, positive)
	return stat.Entropy(positive) / math.Ln2
}

// contribution is a single symbol's term -r*log2(r).
func contribution(r float64) float64 {
	if r <= 0 {
		return 0
	}
	return -r * math.Log2(r)
}
