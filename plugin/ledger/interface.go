// Package ledger provides the execution ledger: the append-only record of every
// agent invocation and the windowed aggregations built from it.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hrygo/campaignpilot/store"
)

// RecordStore is the persistence contract the ledger needs.
// *store.Store and MemoryRecordStore both satisfy it.
type RecordStore interface {
	CreateExecutionRecord(ctx context.Context, create *store.ExecutionRecord) (*store.ExecutionRecord, error)
	ListExecutionRecords(ctx context.Context, find *store.FindExecutionRecord) ([]*store.ExecutionRecord, error)
	UpdateExecutionRecord(ctx context.Context, update *store.UpdateExecutionRecord) error
	DeleteExecutionRecords(ctx context.Context, delete *store.DeleteExecutionRecords) (int64, error)
}

// Reader is the read side of the ledger consumed by health scoring and planning.
type Reader interface {
	Metrics(ctx context.Context, agentID string, windowDays int) (*MetricsWindow, error)
	PopulationMetrics(ctx context.Context, windowDays int) (map[string]*MetricsWindow, error)
}

// AppendRequest describes one completed agent invocation.
type AppendRequest struct {
	AgentID   string  `json:"agent_id"`
	SessionID string  `json:"session_id"`
	UserID    *string `json:"user_id,omitempty"`

	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Timestamp defaults to the ledger clock when zero.
	Timestamp time.Time `json:"timestamp"`

	TokensUsed      int64    `json:"tokens_used"`
	Cost            float64  `json:"cost"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Success         *bool    `json:"success,omitempty"` // nil means true
	ErrorMessage    *string  `json:"error_message,omitempty"`
	QualityScore    *float64 `json:"quality_score,omitempty"`
}

// Filter selects execution records. Zero values mean "any".
type Filter struct {
	AgentID     string
	SessionID   string
	UserID      string
	Start       time.Time // inclusive
	End         time.Time // exclusive
	SuccessOnly bool
	SortBy      store.ExecutionSortField
	SortDesc    bool
	Limit       int
	Offset      int
}

// DailyPoint is one calendar day of a trend series.
type DailyPoint struct {
	Date  time.Time `json:"date"` // UTC midnight
	Value float64   `json:"value"`
	Count int64     `json:"count"`
}

// MetricsWindow aggregates one agent's records over a trailing window of days.
// It is derived on demand and never persisted.
type MetricsWindow struct {
	AgentID    string    `json:"agent_id"`
	WindowDays int       `json:"window_days"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`

	TotalRuns      int64   `json:"total_runs"`
	SuccessfulRuns int64   `json:"successful_runs"`
	SuccessRate    float64 `json:"success_rate"` // percent, 0-100

	AverageCost            float64  `json:"average_cost"`
	AverageTokens          float64  `json:"average_tokens"`
	AverageExecutionTimeMs float64  `json:"average_execution_time_ms"`
	AverageQualityScore    *float64 `json:"average_quality_score,omitempty"`
	TotalCost              float64  `json:"total_cost"`
	TotalTokens            int64    `json:"total_tokens"`
	LatencyP50Ms           int64    `json:"latency_p50_ms"`
	LatencyP95Ms           int64    `json:"latency_p95_ms"`

	// Each series holds exactly WindowDays points, oldest first.
	CostTrend          []DailyPoint `json:"cost_trend"`
	ExecutionTimeTrend []DailyPoint `json:"execution_time_trend"`
	SuccessRateTrend   []DailyPoint `json:"success_rate_trend"`
}

// HasRuns reports whether the window saw any execution.
func (m *MetricsWindow) HasRuns() bool {
	return m != nil && m.TotalRuns > 0
}

// Values returns the series values in day order.
func Values(points []DailyPoint) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}
