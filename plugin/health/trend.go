package health

import "math"

// stableBand is the relative change below which a series is stable.
const stableBand = 0.05

// TrendDirection compares the mean of the first half of a series with the
// mean of the second half. For odd lengths the middle point is ignored.
func TrendDirection(series []float64, lowerIsBetter bool) Trend {
	n := len(series)
	if n < 2 {
		return TrendStable
	}
	first := mean(series[:n/2])
	second := mean(series[n-n/2:])

	var change float64
	switch {
	case first == second:
		return TrendStable
	case first == 0:
		change = math.Copysign(1, second)
	default:
		change = (second - first) / math.Abs(first)
	}
	if math.Abs(change) < stableBand {
		return TrendStable
	}

	rising := change > 0
	if rising != lowerIsBetter {
		return TrendImproving
	}
	return TrendDeclining
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
