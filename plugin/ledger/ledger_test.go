package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/store"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *MemoryRecordStore, *observability.Metrics) {
	t.Helper()
	records := NewMemoryRecordStore()
	metrics := observability.NewMetrics()
	l := New(records, Config{
		Retry:   retry.NoRetry(),
		Metrics: metrics,
		Now:     func() time.Time { return testNow },
	})
	return l, records, metrics
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

func appendAt(t *testing.T, l *Ledger, agentID string, ts time.Time, cost float64, execMs int64, success bool) *store.ExecutionRecord {
	t.Helper()
	r, err := l.Append(context.Background(), &AppendRequest{
		AgentID:         agentID,
		SessionID:       "s-1",
		Timestamp:       ts,
		TokensUsed:      200,
		Cost:            cost,
		ExecutionTimeMs: execMs,
		Success:         boolPtr(success),
	})
	require.NoError(t, err)
	return r
}

func TestAppend_Defaults(t *testing.T) {
	l, _, metrics := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Append(ctx, &AppendRequest{AgentID: "copywriter", SessionID: "s-1"})
	require.NoError(t, err)
	assert.True(t, r.Success, "success defaults to true")
	assert.Equal(t, int64(0), r.TokensUsed)
	assert.Equal(t, 0.0, r.Cost)
	assert.Equal(t, testNow, r.CreatedTs)
	assert.NotZero(t, r.ID)

	r, err = l.Append(ctx, &AppendRequest{AgentID: "copywriter", SessionID: "s-1", Success: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, r.Success)

	assert.Equal(t, int64(2), metrics.Snapshot().AppendsByAgent["copywriter"])
}

func TestAppend_Validation(t *testing.T) {
	l, records, _ := newTestLedger(t)

	tests := []struct {
		name  string
		req   *AppendRequest
		field string
	}{
		{"MissingAgent", &AppendRequest{SessionID: "s"}, "agent_id"},
		{"MissingSession", &AppendRequest{AgentID: "a"}, "session_id"},
		{"NegativeTokens", &AppendRequest{AgentID: "a", SessionID: "s", TokensUsed: -1}, "tokens_used"},
		{"NegativeCost", &AppendRequest{AgentID: "a", SessionID: "s", Cost: -0.1}, "cost"},
		{"NegativeLatency", &AppendRequest{AgentID: "a", SessionID: "s", ExecutionTimeMs: -5}, "execution_time_ms"},
		{"ScoreAbove100", &AppendRequest{AgentID: "a", SessionID: "s", QualityScore: floatPtr(101)}, "quality_score"},
		{"BadInput", &AppendRequest{AgentID: "a", SessionID: "s", Input: json.RawMessage(`{nope`)}, "input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))
			assert.Equal(t, tt.field, engineerrors.FieldOf(err))
		})
	}
	assert.Equal(t, 0, records.Len())
}

func TestAppend_StoreFailure(t *testing.T) {
	l, records, _ := newTestLedger(t)
	records.SetError(errors.New("connection refused"))

	_, err := l.Append(context.Background(), &AppendRequest{AgentID: "a", SessionID: "s"})
	require.Error(t, err)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeDependencyUnavailable))
}

func TestAppend_NotRetried(t *testing.T) {
	records := NewMemoryRecordStore()
	l := New(records, Config{
		Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Timeout: time.Second},
		Now:   func() time.Time { return testNow },
	})
	records.SetError(errors.New("connection reset"))

	_, err := l.Append(context.Background(), &AppendRequest{AgentID: "a", SessionID: "s"})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeDependencyUnavailable))
	assert.Equal(t, 1, records.Calls())

	// Reads still retry under the same policy.
	_, err = l.Query(context.Background(), &Filter{})
	assert.Error(t, err)
	assert.Equal(t, 4, records.Calls())
}

func TestMetrics_DailySeriesCoverWindow(t *testing.T) {
	l, _, _ := newTestLedger(t)
	appendAt(t, l, "a", testNow.Add(-2*time.Hour), 0.02, 1000, true)

	for _, days := range []int{1, 7, 30, 90} {
		m, err := l.Metrics(context.Background(), "a", days)
		require.NoError(t, err)

		for _, series := range [][]DailyPoint{m.CostTrend, m.ExecutionTimeTrend, m.SuccessRateTrend} {
			require.Len(t, series, days)
			seen := make(map[time.Time]bool)
			for i, p := range series {
				assert.False(t, seen[p.Date], "each day appears once")
				seen[p.Date] = true
				if i > 0 {
					assert.Equal(t, series[i-1].Date.AddDate(0, 0, 1), p.Date)
				}
			}
			assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), series[days-1].Date)
		}

		again, err := l.Metrics(context.Background(), "a", days)
		require.NoError(t, err)
		assert.Equal(t, m, again, "repeated calls with no writes are identical")
	}
}

func TestMetrics_Aggregates(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	today := testNow.Add(-time.Hour)
	twoDaysAgo := testNow.AddDate(0, 0, -2)
	appendAt(t, l, "a", today, 0.10, 1000, true)
	appendAt(t, l, "a", today, 0.30, 3000, false)
	appendAt(t, l, "a", twoDaysAgo, 0.20, 2000, true)
	appendAt(t, l, "a", testNow.AddDate(0, 0, -40), 9, 9000, false) // outside the window
	appendAt(t, l, "b", today, 1, 1, true)

	r, err := l.Append(ctx, &AppendRequest{AgentID: "a", SessionID: "s", Timestamp: today, QualityScore: floatPtr(80), Cost: 0.2, ExecutionTimeMs: 2000})
	require.NoError(t, err)
	require.NotNil(t, r.QualityScore)

	m, err := l.Metrics(ctx, "a", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.TotalRuns)
	assert.Equal(t, int64(3), m.SuccessfulRuns)
	assert.InDelta(t, 75.0, m.SuccessRate, 1e-9)
	assert.InDelta(t, 0.8, m.TotalCost, 1e-9)
	assert.InDelta(t, 0.2, m.AverageCost, 1e-9)
	assert.InDelta(t, 2000, m.AverageExecutionTimeMs, 1e-9)
	assert.InDelta(t, 150, m.AverageTokens, 1e-9)
	require.NotNil(t, m.AverageQualityScore)
	assert.InDelta(t, 80, *m.AverageQualityScore, 1e-9)
	assert.Equal(t, int64(2000), m.LatencyP50Ms)

	last := m.CostTrend[6]
	assert.Equal(t, int64(3), last.Count)
	assert.InDelta(t, 0.2, last.Value, 1e-9)
	assert.InDelta(t, 200.0/3, m.SuccessRateTrend[6].Value, 1e-9)
	assert.InDelta(t, 0.2, m.CostTrend[4].Value, 1e-9)
	assert.Equal(t, 0.0, m.CostTrend[5].Value, "gap days are zero-filled")
	assert.Equal(t, int64(0), m.CostTrend[5].Count)
}

func TestMetrics_InvalidArguments(t *testing.T) {
	l, _, _ := newTestLedger(t)

	_, err := l.Metrics(context.Background(), "", 7)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))

	_, err = l.Metrics(context.Background(), "a", 0)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))
	assert.Equal(t, "window_days", engineerrors.FieldOf(err))
}

func TestPopulationMetrics(t *testing.T) {
	l, _, _ := newTestLedger(t)
	appendAt(t, l, "a", testNow, 0.1, 100, true)
	appendAt(t, l, "b", testNow, 0.2, 200, false)
	appendAt(t, l, "c", testNow.AddDate(0, 0, -100), 0.2, 200, false)

	population, err := l.PopulationMetrics(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, population, 2)
	assert.Equal(t, 100.0, population["a"].SuccessRate)
	assert.Equal(t, 0.0, population["b"].SuccessRate)
	assert.Len(t, population["b"].CostTrend, 30)

	agents, err := l.Agents(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, agents)
}

func TestPopulationMetrics_Concurrent(t *testing.T) {
	l, _, _ := newTestLedger(t)
	appendAt(t, l, "a", testNow, 0.1, 100, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			population, err := l.PopulationMetrics(context.Background(), 7)
			assert.NoError(t, err)
			assert.Len(t, population, 1)
		}()
	}
	wg.Wait()
}

// gatedRecordStore holds the first armed list call until released and
// remembers whether its context was cancelled by then.
type gatedRecordStore struct {
	*MemoryRecordStore
	armed     chan struct{}
	entered   chan struct{}
	release   chan struct{}
	cancelled chan bool
}

func (g *gatedRecordStore) ListExecutionRecords(ctx context.Context, find *store.FindExecutionRecord) ([]*store.ExecutionRecord, error) {
	select {
	case <-g.armed:
		close(g.entered)
		<-g.release
		g.cancelled <- ctx.Err() != nil
	default:
	}
	return g.MemoryRecordStore.ListExecutionRecords(ctx, find)
}

func TestPopulationMetrics_CallerCancelDoesNotAbortSharedScan(t *testing.T) {
	records := &gatedRecordStore{
		MemoryRecordStore: NewMemoryRecordStore(),
		armed:             make(chan struct{}, 1),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
		cancelled:         make(chan bool, 1),
	}
	l := New(records, Config{Retry: retry.NoRetry(), Now: func() time.Time { return testNow }})
	appendAt(t, l, "a", testNow, 0.1, 100, true)
	records.armed <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := l.PopulationMetrics(ctx, 7)
		first <- err
	}()
	<-records.entered

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	second := make(chan map[string]*MetricsWindow, 1)
	go func() {
		population, err := l.PopulationMetrics(context.Background(), 7)
		assert.NoError(t, err)
		second <- population
	}()

	close(records.release)
	assert.False(t, <-records.cancelled, "shared scan saw the first caller's cancellation")
	assert.Len(t, <-second, 1)
}

func TestDegradedReads(t *testing.T) {
	l, records, metrics := newTestLedger(t)
	appendAt(t, l, "a", testNow, 0.1, 100, true)
	records.SetError(errors.New("store down"))

	_, err := l.Metrics(context.Background(), "a", 7)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeDependencyUnavailable))

	m := l.MetricsOrEmpty(context.Background(), "a", 7)
	require.NotNil(t, m)
	assert.False(t, m.HasRuns())
	assert.Len(t, m.CostTrend, 7)

	population := l.PopulationMetricsOrEmpty(context.Background(), 7)
	assert.Empty(t, population)
	assert.Equal(t, int64(2), metrics.Snapshot().DegradedReads)
}

func TestQuery_SortAndPaginate(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	r1 := appendAt(t, l, "a", testNow, 0.3, 100, true)
	r2 := appendAt(t, l, "a", testNow, 0.1, 300, true)
	r3 := appendAt(t, l, "a", testNow, 0.3, 200, false)
	appendAt(t, l, "b", testNow, 0.5, 100, true)

	list, err := l.Query(ctx, &Filter{AgentID: "a"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{r1.ID, r2.ID, r3.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})

	list, err = l.Query(ctx, &Filter{AgentID: "a", SortBy: store.SortByCost, SortDesc: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{r3.ID, r1.ID, r2.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})

	list, err = l.Query(ctx, &Filter{AgentID: "a", SortBy: store.SortByExecutionTime, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r3.ID, list[0].ID)

	list, err = l.Query(ctx, &Filter{AgentID: "a", SuccessOnly: true})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = l.Query(ctx, &Filter{SortBy: "popularity"})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))

	_, err = l.Query(ctx, &Filter{Start: testNow, End: testNow.Add(-time.Hour)})
	assert.Equal(t, "end", engineerrors.FieldOf(err))
}

func TestPurge(t *testing.T) {
	l, records, _ := newTestLedger(t)
	appendAt(t, l, "a", testNow.AddDate(0, 0, -10), 0.1, 100, true)
	appendAt(t, l, "a", testNow.AddDate(0, 0, -5), 0.1, 100, true)
	appendAt(t, l, "a", testNow.AddDate(0, 0, -1), 0.1, 100, true)

	count, err := l.Purge(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 2, records.Len())

	_, err = l.Purge(context.Background(), 0)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))
}

func TestPatchScore(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	r := appendAt(t, l, "a", testNow, 0.1, 100, true)

	require.NoError(t, l.PatchScore(ctx, r.ID, 92, json.RawMessage(`{"rating":"thumbs_up"}`)))

	list, err := l.Query(ctx, &Filter{AgentID: "a"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].QualityScore)
	assert.Equal(t, 92.0, *list[0].QualityScore)
	assert.JSONEq(t, `{"rating":"thumbs_up"}`, string(list[0].Metadata))

	err = l.PatchScore(ctx, 999, 50, nil)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeNotFound))

	err = l.PatchScore(ctx, r.ID, 150, nil)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))
}

func TestRetention(t *testing.T) {
	l, records, _ := newTestLedger(t)
	appendAt(t, l, "a", testNow.AddDate(0, 0, -200), 0.1, 100, true)
	appendAt(t, l, "a", testNow.AddDate(0, 0, -1), 0.1, 100, true)

	r := NewRetention(l, RetentionConfig{RetentionDays: 180, Interval: time.Hour})
	r.Start(context.Background())
	r.Start(context.Background())

	assert.Eventually(t, func() bool { return records.Len() == 1 }, time.Second, 10*time.Millisecond)
	r.Stop()
	r.Stop()

	count, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
