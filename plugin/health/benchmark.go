package health

import "github.com/hrygo/campaignpilot/plugin/ledger"

// tolerance is the band around the population average counted as average.
const tolerance = 0.10

// CompareToPopulation places the agent against the average of every agent with
// runs in the population. Accuracy is unavailable unless both the agent and
// some of the population have quality scores.
func CompareToPopulation(m *ledger.MetricsWindow, population map[string]*ledger.MetricsWindow) Benchmark {
	if !m.HasRuns() {
		return Benchmark{
			Cost:        PositionUnavailable,
			Speed:       PositionUnavailable,
			Reliability: PositionUnavailable,
			Accuracy:    PositionUnavailable,
		}
	}

	var costSum, timeSum, successSum, qualitySum float64
	var n, qualityN int
	for _, other := range population {
		if !other.HasRuns() {
			continue
		}
		n++
		costSum += other.AverageCost
		timeSum += other.AverageExecutionTimeMs
		successSum += other.SuccessRate
		if other.AverageQualityScore != nil {
			qualityN++
			qualitySum += *other.AverageQualityScore
		}
	}
	if n == 0 {
		return Benchmark{
			Cost:        PositionAverage,
			Speed:       PositionAverage,
			Reliability: PositionAverage,
			Accuracy:    PositionUnavailable,
		}
	}

	b := Benchmark{
		Cost:        position(m.AverageCost, costSum/float64(n), true),
		Speed:       position(m.AverageExecutionTimeMs, timeSum/float64(n), true),
		Reliability: position(m.SuccessRate, successSum/float64(n), false),
		Accuracy:    PositionUnavailable,
	}
	if m.AverageQualityScore != nil && qualityN > 0 {
		b.Accuracy = position(*m.AverageQualityScore, qualitySum/float64(qualityN), false)
	}
	return b
}

// position classifies v against avg; "above" always means better than average.
func position(v, avg float64, lowerIsBetter bool) Position {
	if avg == 0 {
		return PositionAverage
	}
	switch {
	case v > avg*(1+tolerance):
		if lowerIsBetter {
			return PositionBelow
		}
		return PositionAbove
	case v < avg*(1-tolerance):
		if lowerIsBetter {
			return PositionAbove
		}
		return PositionBelow
	default:
		return PositionAverage
	}
}
