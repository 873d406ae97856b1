// Package health turns ledger aggregates into agent health scores,
// recommendations and population benchmarks.
package health

import (
	"time"

	"github.com/hrygo/campaignpilot/plugin/ledger"
)

// Level is the overall health classification of a score.
type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelFair      Level = "fair"
	LevelPoor      Level = "poor"
	LevelCritical  Level = "critical"
)

// RecommendationType is the dimension a recommendation addresses.
type RecommendationType string

const (
	TypeCost        RecommendationType = "cost"
	TypePerformance RecommendationType = "performance"
	TypeReliability RecommendationType = "reliability"
)

// Severity ranks a recommendation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// Trend is the direction a metric moves over the window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Position is where an agent sits relative to the population average.
type Position string

const (
	PositionAbove       Position = "above"
	PositionAverage     Position = "average"
	PositionBelow       Position = "below"
	PositionUnavailable Position = "unavailable"
)

// SuggestedAction is one concrete remediation step; lower priority runs first.
type SuggestedAction struct {
	Priority int    `json:"priority"`
	Action   string `json:"action"`
}

// Recommendation is one actionable finding for an agent.
type Recommendation struct {
	AgentID          string             `json:"agent_id"`
	Type             RecommendationType `json:"type"`
	Severity         Severity           `json:"severity"`
	Metric           string             `json:"metric"`
	Description      string             `json:"description"`
	ExpectedImpact   string             `json:"expected_impact"`
	SuggestedActions []SuggestedAction  `json:"suggested_actions"`
}

// Trends holds the trend direction of each tracked dimension.
type Trends struct {
	Cost        Trend `json:"cost"`
	Speed       Trend `json:"speed"`
	Reliability Trend `json:"reliability"`
}

// Benchmark compares an agent with the population average.
type Benchmark struct {
	Cost        Position `json:"cost"`
	Speed       Position `json:"speed"`
	Reliability Position `json:"reliability"`
	Accuracy    Position `json:"accuracy"`
}

// Profile is one agent's derived health over a window.
type Profile struct {
	AgentID         string                `json:"agent_id"`
	WindowDays      int                   `json:"window_days"`
	HealthScore     int                   `json:"health_score"`
	OverallHealth   Level                 `json:"overall_health"`
	Recommendations []Recommendation      `json:"recommendations"`
	Trends          Trends                `json:"trends"`
	Benchmark       Benchmark             `json:"benchmark"`
	Metrics         *ledger.MetricsWindow `json:"metrics"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

// AgentScore is a ranked entry of a system analysis.
type AgentScore struct {
	AgentID     string `json:"agent_id"`
	HealthScore int    `json:"health_score"`
	Level       Level  `json:"level"`
}

// SystemRecommendation is a finding that spans several agents.
type SystemRecommendation struct {
	Type           RecommendationType `json:"type"`
	Severity       Severity           `json:"severity"`
	Description    string             `json:"description"`
	ExpectedImpact string             `json:"expected_impact"`
	AffectedAgents []string           `json:"affected_agents"`
}

// SystemAnalysis is the health of every agent seen in a window.
type SystemAnalysis struct {
	WindowDays            int                    `json:"window_days"`
	AgentCount            int                    `json:"agent_count"`
	AverageScore          float64                `json:"average_score"`
	Profiles              []*Profile             `json:"profiles"`
	TopPerformers         []AgentScore           `json:"top_performers"`
	Underperformers       []AgentScore           `json:"underperformers"`
	CriticalIssues        []Recommendation       `json:"critical_issues"`
	SystemRecommendations []SystemRecommendation `json:"system_recommendations"`
	GeneratedAt           time.Time              `json:"generated_at"`
}
