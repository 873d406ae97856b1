package experiment

import (
	"math"
	"sort"
	"time"
)

// DefaultEffectSize is the minimum detectable relative effect used for power analysis.
const DefaultEffectSize = 0.05

// zCritical returns the two-sided critical value for a confidence level.
func zCritical(confidence float64) float64 {
	switch {
	case math.Abs(confidence-0.90) < 1e-9:
		return 1.645
	case math.Abs(confidence-0.99) < 1e-9:
		return 2.576
	default:
		return 1.96
	}
}

func validConfidence(confidence float64) bool {
	for _, c := range []float64{0.90, 0.95, 0.99} {
		if math.Abs(confidence-c) < 1e-9 {
			return true
		}
	}
	return false
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// RequiredSampleSize is the simplified power analysis 16 / effect².
func RequiredSampleSize(effectSize float64) int64 {
	if effectSize <= 0 {
		effectSize = DefaultEffectSize
	}
	return int64(math.Ceil(16 / (effectSize * effectSize)))
}

// TwoProportionTest compares the success proportions of a control and a
// treatment. The z-score uses the pooled standard error; the confidence
// interval for the difference uses the unpooled one.
func TwoProportionTest(controlSuccesses, controlTrials, treatmentSuccesses, treatmentTrials int64, confidence float64) Significance {
	s := Significance{PValue: 1}
	if controlTrials <= 0 || treatmentTrials <= 0 {
		return s
	}

	n1, n2 := float64(controlTrials), float64(treatmentTrials)
	p1, p2 := float64(controlSuccesses)/n1, float64(treatmentSuccesses)/n2
	s.ControlRate, s.TreatmentRate = p1, p2
	s.Difference = p2 - p1

	pooled := float64(controlSuccesses+treatmentSuccesses) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se > 0 {
		s.ZScore = s.Difference / se
		s.PValue = 2 * (1 - normalCDF(math.Abs(s.ZScore)))
	}

	margin := zCritical(confidence) * math.Sqrt(p1*(1-p1)/n1+p2*(1-p2)/n2)
	s.ConfidenceInterval = Interval{Lower: s.Difference - margin, Upper: s.Difference + margin}
	s.IsSignificant = s.PValue < 1-confidence
	return s
}

// Compare runs the significance test between two variants on a metric.
func Compare(control, treatment VariantMetrics, metric Metric, confidence float64) Significance {
	return TwoProportionTest(
		control.successes(metric), control.Impressions,
		treatment.successes(metric), treatment.Impressions,
		confidence,
	)
}

// lift returns the relative improvement of value over base, in percent.
func lift(value, base float64) float64 {
	if base == 0 {
		if value > 0 {
			return 100
		}
		return 0
	}
	return (value - base) / base * 100
}

// contender is the best variant eligible to win, tested against its baseline.
type contender struct {
	order    []int
	baseline int
	test     Significance
	ok       bool
}

// findContender ranks the variants that reached the minimum sample size, best
// first, and tests the best one against the control, or against the runner-up
// when the control leads. Variants below the minimum never compete. ok is false
// when the control has not reached the minimum, fewer than two variants qualify
// or the top two tie.
func findContender(e *Experiment) contender {
	metric := e.Config.PrimaryMetric
	var c contender
	for i, v := range e.Variants {
		if v.Metrics.Impressions > 0 && v.Metrics.Impressions >= e.Config.MinSampleSize {
			c.order = append(c.order, i)
		}
	}
	if len(c.order) < 2 || c.order[0] != 0 {
		return c
	}
	value := func(i int) float64 { return e.Variants[i].Metrics.Value(metric) }
	sort.SliceStable(c.order, func(a, b int) bool { return value(c.order[a]) > value(c.order[b]) })
	best := c.order[0]
	if value(best) == value(c.order[1]) {
		return c
	}
	c.baseline = 0
	if best == 0 {
		c.baseline = c.order[1]
	}
	c.test = Compare(e.Variants[c.baseline].Metrics, e.Variants[best].Metrics, metric, e.Config.ConfidenceLevel)
	c.ok = true
	return c
}

// leaderID returns the id of the contender when its lead is significant.
func (c contender) leaderID(e *Experiment) string {
	if !c.ok || !c.test.IsSignificant {
		return ""
	}
	return e.Variants[c.order[0]].ID
}

// daysToSignificance estimates how many more days the experiment must run
// before the observed difference would become significant at the current
// traffic rate. It returns nil when significance is not reachable, i.e. the
// observed difference is zero or no traffic has arrived yet.
func daysToSignificance(e *Experiment, s Significance, now time.Time) *float64 {
	if len(e.Variants) < 2 || e.StartedAt == nil || s.Difference == 0 {
		return nil
	}
	control, treatment := e.Variants[0].Metrics, e.Variants[1].Metrics
	current := min(control.Impressions, treatment.Impressions)
	elapsed := now.Sub(*e.StartedAt).Hours() / 24
	if current <= 0 || elapsed <= 0 {
		return nil
	}

	pooled := (s.ControlRate + s.TreatmentRate) / 2
	z := zCritical(e.Config.ConfidenceLevel)
	needed := 2 * pooled * (1 - pooled) * (z / s.Difference) * (z / s.Difference)
	days := 0.0
	if remaining := needed - float64(current); remaining > 0 {
		days = remaining / (float64(current) / elapsed)
	}
	return &days
}

// evaluate recomputes the test-level results and the recommendation.
func evaluate(e *Experiment, now time.Time) *Results {
	if len(e.Variants) < 2 {
		return nil
	}
	control, treatment := e.Variants[0], e.Variants[1]
	metric := e.Config.PrimaryMetric

	r := &Results{
		Significance: Compare(control.Metrics, treatment.Metrics, metric, e.Config.ConfidenceLevel),
		ControlID:    control.ID,
		TreatmentID:  treatment.ID,
		RelativeLift: lift(treatment.Metrics.Value(metric), control.Metrics.Value(metric)),
		LeaderID:     findContender(e).leaderID(e),
		ComputedAt:   now,
	}
	r.SampleSizeReached = control.Metrics.Impressions >= e.Config.MinSampleSize &&
		treatment.Metrics.Impressions >= e.Config.MinSampleSize
	r.DaysToSignificance = daysToSignificance(e, r.Significance, now)
	r.Recommendation = recommend(e, r, now)
	return r
}

// recommend applies the recommendation policy in priority order.
func recommend(e *Experiment, r *Results, now time.Time) Recommendation {
	switch {
	case r.IsSignificant && r.SampleSizeReached && r.LeaderID != "":
		return RecommendDeclareWinner
	case !r.SampleSizeReached:
		return RecommendContinue
	case exceedsMaxDuration(e, r, now):
		return RecommendStopTest
	default:
		return RecommendContinue
	}
}

func exceedsMaxDuration(e *Experiment, r *Results, now time.Time) bool {
	if r.DaysToSignificance == nil {
		return true
	}
	if e.StartedAt == nil {
		return false
	}
	elapsed := now.Sub(*e.StartedAt).Hours() / 24
	return elapsed+*r.DaysToSignificance > float64(e.Config.MaxDurationDays)
}
