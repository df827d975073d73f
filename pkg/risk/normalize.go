// Package risk maps raw anomaly scores onto a 0-100 risk scale and ranks
// the resulting rows.
//
// Risk is relative to the batch being scored: the same raw score can map
// to different risk values in different batches. Use the IsAnomaly flag
// for a batch-independent signal.
package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Method selects how raw scores are mapped to risk.
type Method string

const (
	// MinMax scales scores linearly between the batch minimum and maximum.
	MinMax Method = "minmax"
	// Percentile uses the rank of each score within the batch.
	Percentile Method = "percentile"

	MethodDefault = MinMax

	maxRisk = 100
)

// Methods lists the supported methods.
func Methods() []Method {
	return []Method{MinMax, Percentile}
}

// ParseMethod parses a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	if s == "" {
		return MethodDefault, nil
	}
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Methods() {
		if v == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("unsupported risk method: %s", s)
}

// Apply maps scores with the method.
func (m Method) Apply(scores []float64) []float64 {
	if m == Percentile {
		return PercentileRank(scores)
	}
	return Normalize(scores)
}

// Normalize min-max scales scores into [0, 100], rounded half-to-even to
// two decimals. A batch with a single distinct score maps entirely to 0.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}

	span := hi - lo
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return out
	}

	for i, s := range scores {
		out[i] = round2((s - lo) / span * maxRisk)
	}
	return out
}

// PercentileRank maps each score to the share of the batch ranked below it,
// in [0, 100]. Equal scores share the lowest rank of their group.
func PercentileRank(scores []float64) []float64 {
	n := len(scores)
	out := make([]float64, n)
	if n < 2 {
		return out
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})

	rank := 0
	for pos, i := range idx {
		if pos > 0 && scores[i] != scores[idx[pos-1]] {
			rank = pos
		}
		out[i] = round2(float64(rank) / float64(n-1) * maxRisk)
	}
	return out
}

func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
