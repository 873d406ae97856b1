// Package finops reports what agents cost over calendar periods.
package finops

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/plugin/ledger"
	"github.com/hrygo/campaignpilot/store"
)

// Querier reads execution records. *ledger.Ledger satisfies it.
type Querier interface {
	Query(ctx context.Context, filter *ledger.Filter) ([]*store.ExecutionRecord, error)
}

// Period is a reporting period.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts day, week and month and their common aliases.
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "day", "daily", "today", "":
		return PeriodDay, nil
	case "week", "weekly", "this_week":
		return PeriodWeek, nil
	case "month", "monthly", "this_month":
		return PeriodMonth, nil
	default:
		return "", engineerrors.InvalidArgument("period", fmt.Sprintf("unknown period %q", s))
	}
}

// start returns the beginning of the trailing period ending at now.
func (p Period) start(now time.Time) time.Time {
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	default:
		return now.AddDate(0, 0, -1)
	}
}

// AgentCost is the spend of one agent over a period.
type AgentCost struct {
	AgentID      string  `json:"agent_id"`
	Runs         int64   `json:"runs"`
	FailedRuns   int64   `json:"failed_runs"`
	Cost         float64 `json:"cost"`
	WastedCost   float64 `json:"wasted_cost"` // spent on failed runs
	Tokens       int64   `json:"tokens"`
	AvgCost      float64 `json:"avg_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// CostReport summarises spend over a period.
type CostReport struct {
	Period    Period                   `json:"period"`
	Start     time.Time                `json:"start"`
	End       time.Time                `json:"end"`
	TotalCost float64                  `json:"total_cost"`
	TotalRuns int64                    `json:"total_runs"`
	ByAgent   map[string]*AgentCost    `json:"by_agent"`
	TopCosts  []*store.ExecutionRecord `json:"top_costs"`
	// Expensive lists agents whose average run cost is above the alert
	// threshold, most expensive first.
	Expensive []string `json:"expensive"`
}

// Config configures a CostMonitor.
type Config struct {
	TopN               int           // Executions listed in TopCosts (default: 10)
	CostAlertThreshold float64       // Average run cost that flags an agent (default: 0.10)
	CacheTTL           time.Duration // Freshness of cached agent costs (default: 5m)
	Logger             *slog.Logger
	Now                func() time.Time
}

// CostMonitor builds cost reports from the execution ledger.
type CostMonitor struct {
	records   Querier
	topN      int
	threshold float64
	logger    *slog.Logger
	now       func() time.Time

	cacheTTL   time.Duration
	cacheMutex sync.RWMutex
	statsCache map[string]*AgentCost
	lastUpdate time.Time
}

// NewCostMonitor creates a cost monitor.
func NewCostMonitor(records Querier, cfg Config) *CostMonitor {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.CostAlertThreshold <= 0 {
		cfg.CostAlertThreshold = 0.10
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CostMonitor{
		records:    records,
		topN:       cfg.TopN,
		threshold:  cfg.CostAlertThreshold,
		logger:     cfg.Logger,
		now:        cfg.Now,
		cacheTTL:   cfg.CacheTTL,
		statsCache: make(map[string]*AgentCost),
	}
}

// GetCostReport builds the cost report of the trailing period.
func (m *CostMonitor) GetCostReport(ctx context.Context, period Period) (*CostReport, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if period == "" {
		period = PeriodDay
	}
	end := m.now().UTC()
	start := period.start(end)

	records, err := m.records.Query(ctx, &ledger.Filter{Start: start, End: end})
	if err != nil {
		return nil, err
	}

	report := &CostReport{
		Period:    period,
		Start:     start,
		End:       end,
		ByAgent:   make(map[string]*AgentCost),
		Expensive: []string{},
	}
	latency := make(map[string]int64)
	for _, r := range records {
		stats, ok := report.ByAgent[r.AgentID]
		if !ok {
			stats = &AgentCost{AgentID: r.AgentID}
			report.ByAgent[r.AgentID] = stats
		}
		stats.Runs++
		stats.Cost += r.Cost
		stats.Tokens += r.TokensUsed
		latency[r.AgentID] += r.ExecutionTimeMs
		if !r.Success {
			stats.FailedRuns++
			stats.WastedCost += r.Cost
		}
		report.TotalCost += r.Cost
		report.TotalRuns++
	}
	for id, stats := range report.ByAgent {
		stats.AvgCost = stats.Cost / float64(stats.Runs)
		stats.AvgLatencyMs = float64(latency[id]) / float64(stats.Runs)
		if stats.AvgCost > m.threshold {
			report.Expensive = append(report.Expensive, id)
		}
	}
	sort.Slice(report.Expensive, func(i, j int) bool {
		a, b := report.ByAgent[report.Expensive[i]], report.ByAgent[report.Expensive[j]]
		if a.AvgCost != b.AvgCost {
			return a.AvgCost > b.AvgCost
		}
		return a.AgentID < b.AgentID
	})

	report.TopCosts, err = m.records.Query(ctx, &ledger.Filter{
		Start:    start,
		End:      end,
		SortBy:   store.SortByCost,
		SortDesc: true,
		Limit:    m.topN,
	})
	if err != nil {
		return nil, err
	}

	if period == PeriodDay {
		m.cacheMutex.Lock()
		m.statsCache = make(map[string]*AgentCost, len(report.ByAgent))
		for id, stats := range report.ByAgent {
			c := *stats
			m.statsCache[id] = &c
		}
		m.lastUpdate = m.now()
		m.cacheMutex.Unlock()
	}

	for _, id := range report.Expensive {
		m.logger.WarnContext(ctx, "agent average cost above threshold",
			"agent_id", id,
			"avg_cost", report.ByAgent[id].AvgCost,
			"threshold", m.threshold,
			"period", string(period),
		)
	}
	m.logger.DebugContext(ctx, "cost report built",
		"period", string(period),
		"total_cost", report.TotalCost,
		"runs", report.TotalRuns,
	)
	return report, nil
}

// AgentCost returns the agent's spend over the last day, served from the
// cache while it is fresh. It returns nil when the agent had no runs.
func (m *CostMonitor) AgentCost(ctx context.Context, agentID string) (*AgentCost, error) {
	m.cacheMutex.RLock()
	fresh := !m.lastUpdate.IsZero() && m.now().Sub(m.lastUpdate) < m.cacheTTL
	stats, ok := m.statsCache[agentID]
	m.cacheMutex.RUnlock()
	if fresh {
		if !ok {
			return nil, nil
		}
		c := *stats
		return &c, nil
	}

	report, err := m.GetCostReport(ctx, PeriodDay)
	if err != nil {
		return nil, err
	}
	stats, ok = report.ByAgent[agentID]
	if !ok {
		return nil, nil
	}
	return stats, nil
}
