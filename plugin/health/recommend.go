package health

import (
	"fmt"
	"sort"

	"github.com/hrygo/campaignpilot/plugin/ledger"
)

// breachSeverities per breach level (past good, past fair, past poor).
var breachSeverities = [...]Severity{SeverityHigh, SeverityHigh, SeverityCritical}

var (
	costActions = []SuggestedAction{
		{Priority: 1, Action: "Route routine requests to a smaller, cheaper model"},
		{Priority: 2, Action: "Cache outputs for repeated inputs"},
		{Priority: 3, Action: "Batch low-priority requests"},
	}
	latencyActions = []SuggestedAction{
		{Priority: 1, Action: "Stream partial output instead of waiting for completion"},
		{Priority: 2, Action: "Parallelise independent sub-tasks"},
		{Priority: 3, Action: "Tighten upstream request timeouts"},
	}
	reliabilityActions = []SuggestedAction{
		{Priority: 1, Action: "Review recent error messages for a dominant failure mode"},
		{Priority: 2, Action: "Add retries with backoff around transient upstream failures"},
		{Priority: 3, Action: "Validate inputs before invoking the agent"},
	}
	tokenActions = []SuggestedAction{
		{Priority: 1, Action: "Trim prompt context to what the task needs"},
		{Priority: 2, Action: "Cap output length per content type"},
	}
)

// Recommend returns one recommendation per benchmark breach, sorted by
// severity from critical to low. An agent with no runs gets none.
func (s *Scorer) Recommend(agentID string, m *ledger.MetricsWindow, windowDays int) []Recommendation {
	recs := make([]Recommendation, 0, 4)
	if !m.HasRuns() {
		return recs
	}
	b := s.benchmarks
	runs := float64(m.TotalRuns)

	if level := b.SuccessRate.breach(m.SuccessRate); level > 0 {
		failed := (b.SuccessRate.Good - m.SuccessRate) / 100 * runs
		recs = append(recs, Recommendation{
			AgentID:  agentID,
			Type:     TypeReliability,
			Severity: breachSeverities[level-1],
			Metric:   "success_rate",
			Description: fmt.Sprintf("Success rate %.1f%% is below the %.0f%% benchmark",
				m.SuccessRate, b.SuccessRate.Good),
			ExpectedImpact: fmt.Sprintf("Reaching %.0f%% would recover about %.0f failed runs per %d days",
				b.SuccessRate.Good, failed, windowDays),
			SuggestedActions: reliabilityActions,
		})
	}

	if level := b.Cost.breach(m.AverageCost); level > 0 {
		saving := (m.AverageCost - b.Cost.Good) * runs
		recs = append(recs, Recommendation{
			AgentID:  agentID,
			Type:     TypeCost,
			Severity: breachSeverities[level-1],
			Metric:   "average_cost",
			Description: fmt.Sprintf("Average cost %.4f per run is %.1fx the %.2f benchmark",
				m.AverageCost, m.AverageCost/b.Cost.Good, b.Cost.Good),
			ExpectedImpact: fmt.Sprintf("Meeting the benchmark would save about %.2f over %d days",
				saving, windowDays),
			SuggestedActions: costActions,
		})
	}

	if level := b.ExecutionTimeMs.breach(m.AverageExecutionTimeMs); level > 0 {
		faster := (1 - b.ExecutionTimeMs.Good/m.AverageExecutionTimeMs) * 100
		recs = append(recs, Recommendation{
			AgentID:  agentID,
			Type:     TypePerformance,
			Severity: breachSeverities[level-1],
			Metric:   "average_execution_time_ms",
			Description: fmt.Sprintf("Average execution time %.0fms exceeds the %.0fms benchmark",
				m.AverageExecutionTimeMs, b.ExecutionTimeMs.Good),
			ExpectedImpact:   fmt.Sprintf("Meeting the benchmark would make responses %.0f%% faster", faster),
			SuggestedActions: latencyActions,
		})
	}

	if level := b.Tokens.breach(m.AverageTokens); level > 0 {
		excess := (m.AverageTokens - b.Tokens.Good) * runs
		recs = append(recs, Recommendation{
			AgentID:  agentID,
			Type:     TypeCost,
			Severity: breachSeverities[level-1],
			Metric:   "average_tokens",
			Description: fmt.Sprintf("Average token use %.0f per run exceeds the %.0f benchmark",
				m.AverageTokens, b.Tokens.Good),
			ExpectedImpact: fmt.Sprintf("Meeting the benchmark would avoid about %.0f tokens over %d days",
				excess, windowDays),
			SuggestedActions: tokenActions,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Severity.rank() < recs[j].Severity.rank()
	})
	return recs
}
