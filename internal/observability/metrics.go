package observability

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics collects in-process counters for decision engine operations.
// It is owned by the engine context and passed by injection; there is no global instance.
type Metrics struct {
	mu sync.Mutex

	recordsAppended     atomic.Int64
	degradedReads       atomic.Int64
	strategiesGenerated atomic.Int64
	budgetRejections    atomic.Int64
	ticks               atomic.Int64
	ticksSkipped        atomic.Int64
	winnersDeclared     atomic.Int64

	agentAppends map[string]*atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		agentAppends: make(map[string]*atomic.Int64),
	}
}

// RecordAppend records a ledger append for an agent.
func (m *Metrics) RecordAppend(agentID string) {
	if m == nil {
		return
	}
	m.recordsAppended.Add(1)
	m.agentCounter(agentID).Add(1)
}

// RecordDegradedRead records a read path that fell back to defaults.
func (m *Metrics) RecordDegradedRead() {
	if m == nil {
		return
	}
	m.degradedReads.Add(1)
}

// RecordStrategy records a generated strategy.
func (m *Metrics) RecordStrategy() {
	if m == nil {
		return
	}
	m.strategiesGenerated.Add(1)
}

// RecordBudgetRejection records a strategy rejected for exceeding its budget.
func (m *Metrics) RecordBudgetRejection() {
	if m == nil {
		return
	}
	m.budgetRejections.Add(1)
}

// RecordTick records an experiment re-evaluation pass; skipped is true when
// the pass was dropped because another was still in flight.
func (m *Metrics) RecordTick(skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		m.ticksSkipped.Add(1)
		return
	}
	m.ticks.Add(1)
}

// RecordWinner records a declared experiment winner.
func (m *Metrics) RecordWinner() {
	if m == nil {
		return
	}
	m.winnersDeclared.Add(1)
}

func (m *Metrics) agentCounter(agentID string) *atomic.Int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.agentAppends[agentID]
	if !ok {
		c = &atomic.Int64{}
		m.agentAppends[agentID] = c
	}
	return c
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	agents := make(map[string]int64, len(m.agentAppends))
	for agentID, c := range m.agentAppends {
		agents[agentID] = c.Load()
	}
	m.mu.Unlock()

	return &MetricsSnapshot{
		RecordsAppended:     m.recordsAppended.Load(),
		DegradedReads:       m.degradedReads.Load(),
		StrategiesGenerated: m.strategiesGenerated.Load(),
		BudgetRejections:    m.budgetRejections.Load(),
		Ticks:               m.ticks.Load(),
		TicksSkipped:        m.ticksSkipped.Load(),
		WinnersDeclared:     m.winnersDeclared.Load(),
		AppendsByAgent:      agents,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RecordsAppended     int64
	DegradedReads       int64
	StrategiesGenerated int64
	BudgetRejections    int64
	Ticks               int64
	TicksSkipped        int64
	WinnersDeclared     int64
	AppendsByAgent      map[string]int64
}

// Agents returns the agent ids seen so far in sorted order.
func (s *MetricsSnapshot) Agents() []string {
	ids := make([]string, 0, len(s.AppendsByAgent))
	for id := range s.AppendsByAgent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
