package health

import (
	"math"

	"github.com/hrygo/campaignpilot/plugin/ledger"
)

// NeutralScore is assigned to agents with no runs in the window.
const NeutralScore = 75

// Penalty weights; they sum to 100.
const (
	successWeight = 40.0
	costWeight    = 30.0
	latencyWeight = 20.0
	tokenWeight   = 10.0

	// A metric this many multiples over its benchmark takes the full weight.
	fullPenaltyMultiple = 3.0
)

// Scorer computes health scores against a set of benchmarks.
type Scorer struct {
	benchmarks Benchmarks
}

// NewScorer creates a scorer; zero benchmarks select the defaults.
func NewScorer(b Benchmarks) *Scorer {
	if b == (Benchmarks{}) {
		b = DefaultBenchmarks()
	}
	return &Scorer{benchmarks: b}
}

// Benchmarks returns the tables the scorer uses.
func (s *Scorer) Benchmarks() Benchmarks {
	return s.benchmarks
}

// Score returns 100 minus the weighted penalties, clamped to [0, 100].
func (s *Scorer) Score(m *ledger.MetricsWindow) int {
	if !m.HasRuns() {
		return NeutralScore
	}
	b := s.benchmarks

	penalty := 0.0
	if shortfall := b.SuccessRate.Good - m.SuccessRate; shortfall > 0 {
		penalty += math.Min(successWeight, successWeight*shortfall/b.SuccessRate.Good)
	}
	penalty += multiplePenalty(m.AverageCost, b.Cost.Good, costWeight)
	penalty += multiplePenalty(m.AverageExecutionTimeMs, b.ExecutionTimeMs.Good, latencyWeight)
	penalty += multiplePenalty(m.AverageTokens, b.Tokens.Good, tokenWeight)

	score := int(math.Round(100 - penalty))
	return clamp(score, 0, 100)
}

// multiplePenalty grows with how many multiples v is above benchmark, capped at weight.
func multiplePenalty(v, benchmark, weight float64) float64 {
	if benchmark <= 0 || v <= benchmark {
		return 0
	}
	multiples := v/benchmark - 1
	return math.Min(weight, weight*multiples/fullPenaltyMultiple)
}

// Classify maps a score to its health level.
func Classify(score int) Level {
	switch {
	case score >= 90:
		return LevelExcellent
	case score >= 75:
		return LevelGood
	case score >= 60:
		return LevelFair
	case score >= 40:
		return LevelPoor
	default:
		return LevelCritical
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
