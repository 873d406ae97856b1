package ledger

import (
	"sort"
	"time"

	"github.com/hrygo/campaignpilot/store"
)

// windowBounds returns [start, end) for a trailing window of whole UTC days
// ending with the day containing now.
func windowBounds(now time.Time, windowDays int) (time.Time, time.Time) {
	today := truncateToDay(now)
	start := today.AddDate(0, 0, -(windowDays - 1))
	return start, today.AddDate(0, 0, 1)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dayBucket accumulates one calendar day.
type dayBucket struct {
	count     int64
	successes int64
	costSum   float64
	timeSum   int64
}

// aggregator folds records into a MetricsWindow. Records outside the window
// are ignored.
type aggregator struct {
	agentID    string
	windowDays int
	start      time.Time
	end        time.Time

	buckets []dayBucket

	totalRuns   int64
	successes   int64
	totalCost   float64
	totalTokens int64
	totalTimeMs int64
	latencies   []int64

	qualitySum   float64
	qualityCount int64
}

func newAggregator(agentID string, windowDays int, now time.Time) *aggregator {
	start, end := windowBounds(now, windowDays)
	return &aggregator{
		agentID:    agentID,
		windowDays: windowDays,
		start:      start,
		end:        end,
		buckets:    make([]dayBucket, windowDays),
		latencies:  make([]int64, 0, 64),
	}
}

func (a *aggregator) add(r *store.ExecutionRecord) {
	ts := r.CreatedTs.UTC()
	if ts.Before(a.start) || !ts.Before(a.end) {
		return
	}
	idx := int(truncateToDay(ts).Sub(a.start) / (24 * time.Hour))
	if idx < 0 || idx >= len(a.buckets) {
		return
	}

	b := &a.buckets[idx]
	b.count++
	b.costSum += r.Cost
	b.timeSum += r.ExecutionTimeMs
	if r.Success {
		b.successes++
		a.successes++
	}

	a.totalRuns++
	a.totalCost += r.Cost
	a.totalTokens += r.TokensUsed
	a.totalTimeMs += r.ExecutionTimeMs
	a.latencies = append(a.latencies, r.ExecutionTimeMs)
	if r.QualityScore != nil {
		a.qualitySum += *r.QualityScore
		a.qualityCount++
	}
}

func (a *aggregator) window() *MetricsWindow {
	m := &MetricsWindow{
		AgentID:            a.agentID,
		WindowDays:         a.windowDays,
		Start:              a.start,
		End:                a.end,
		TotalRuns:          a.totalRuns,
		SuccessfulRuns:     a.successes,
		TotalCost:          a.totalCost,
		TotalTokens:        a.totalTokens,
		LatencyP50Ms:       percentile(a.latencies, 50),
		LatencyP95Ms:       percentile(a.latencies, 95),
		CostTrend:          make([]DailyPoint, a.windowDays),
		ExecutionTimeTrend: make([]DailyPoint, a.windowDays),
		SuccessRateTrend:   make([]DailyPoint, a.windowDays),
	}

	if a.totalRuns > 0 {
		runs := float64(a.totalRuns)
		m.SuccessRate = float64(a.successes) / runs * 100
		m.AverageCost = a.totalCost / runs
		m.AverageTokens = float64(a.totalTokens) / runs
		m.AverageExecutionTimeMs = float64(a.totalTimeMs) / runs
	}
	if a.qualityCount > 0 {
		avg := a.qualitySum / float64(a.qualityCount)
		m.AverageQualityScore = &avg
	}

	for i, b := range a.buckets {
		day := a.start.AddDate(0, 0, i)
		cost, execTime, successRate := 0.0, 0.0, 0.0
		if b.count > 0 {
			n := float64(b.count)
			cost = b.costSum / n
			execTime = float64(b.timeSum) / n
			successRate = float64(b.successes) / n * 100
		}
		m.CostTrend[i] = DailyPoint{Date: day, Value: cost, Count: b.count}
		m.ExecutionTimeTrend[i] = DailyPoint{Date: day, Value: execTime, Count: b.count}
		m.SuccessRateTrend[i] = DailyPoint{Date: day, Value: successRate, Count: b.count}
	}
	return m
}

// EmptyWindow returns the zero-filled window used when the ledger cannot be read.
func EmptyWindow(agentID string, windowDays int, now time.Time) *MetricsWindow {
	return newAggregator(agentID, windowDays, now).window()
}

func percentile(latencies []int64, p int) int64 {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
