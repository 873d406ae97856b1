package health

// Thresholds holds the cut points of one benchmark table.
// LowerIsBetter tables breach when the value rises above a cut point.
type Thresholds struct {
	Excellent     float64
	Good          float64
	Fair          float64
	Poor          float64
	LowerIsBetter bool
}

// breach returns how far past the cut points v is: 0 within good,
// 1 past good, 2 past fair, 3 past poor.
func (t Thresholds) breach(v float64) int {
	worse := func(cut float64) bool {
		if t.LowerIsBetter {
			return v > cut
		}
		return v < cut
	}
	switch {
	case worse(t.Poor):
		return 3
	case worse(t.Fair):
		return 2
	case worse(t.Good):
		return 1
	default:
		return 0
	}
}

// Benchmarks are the fixed tables agents are scored against.
type Benchmarks struct {
	Cost            Thresholds // currency units per run
	ExecutionTimeMs Thresholds // milliseconds per run
	SuccessRate     Thresholds // percent
	Tokens          Thresholds // tokens per run
}

// DefaultBenchmarks returns the built-in benchmark tables.
func DefaultBenchmarks() Benchmarks {
	return Benchmarks{
		Cost:            Thresholds{Excellent: 0.01, Good: 0.05, Fair: 0.10, Poor: 0.20, LowerIsBetter: true},
		ExecutionTimeMs: Thresholds{Excellent: 1000, Good: 5000, Fair: 10000, Poor: 30000, LowerIsBetter: true},
		SuccessRate:     Thresholds{Excellent: 98, Good: 90, Fair: 80, Poor: 70},
		Tokens:          Thresholds{Excellent: 200, Good: 500, Fair: 1000, Poor: 2000, LowerIsBetter: true},
	}
}
