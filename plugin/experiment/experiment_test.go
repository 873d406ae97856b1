package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/store"
	storetest "github.com/hrygo/campaignpilot/store/test"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T, s Store) (*Engine, *testClock, *observability.Metrics) {
	t.Helper()
	clock := &testClock{t: testNow}
	metrics := observability.NewMetrics()
	e := NewEngine(s, EngineConfig{Retry: retry.NoRetry(), Metrics: metrics, Now: clock.Now})
	return e, clock, metrics
}

func twoVariants(cfg Config) *CreateRequest {
	return &CreateRequest{
		CampaignID: "spring-launch",
		Name:       "Subject line test",
		Hypothesis: "A question in the subject line lifts conversions",
		Variants: []VariantRequest{
			{ID: "a", Name: "Control", AgentID: "email-agent", Allocation: 50},
			{ID: "b", Name: "Question", AgentID: "email-agent", Config: map[string]any{"subject_style": "question"}, Allocation: 50},
		},
		Config: cfg,
	}
}

func startedExperiment(t *testing.T, e *Engine, req *CreateRequest) *Experiment {
	t.Helper()
	exp, err := e.Create(context.Background(), req)
	require.NoError(t, err)
	exp, err = e.Start(context.Background(), exp.ID)
	require.NoError(t, err)
	return exp
}

func TestTwoProportionTest(t *testing.T) {
	s := TwoProportionTest(50, 1000, 80, 1000, 0.95)
	assert.True(t, s.IsSignificant)
	assert.InDelta(t, 2.72, s.ZScore, 0.01)
	assert.Less(t, s.PValue, 0.01)
	assert.InDelta(t, 0.03, s.Difference, 1e-9)
	assert.Greater(t, s.ConfidenceInterval.Lower, 0.0)
	assert.Greater(t, s.ConfidenceInterval.Upper, 0.03)

	s = TwoProportionTest(50, 1000, 51, 1000, 0.95)
	assert.False(t, s.IsSignificant)
	assert.Greater(t, s.PValue, 0.9)
	assert.Less(t, s.ConfidenceInterval.Lower, 0.0)

	s = TwoProportionTest(0, 0, 10, 100, 0.95)
	assert.False(t, s.IsSignificant)
	assert.Equal(t, 1.0, s.PValue)

	// Wider intervals at higher confidence.
	narrow := TwoProportionTest(50, 1000, 80, 1000, 0.90).ConfidenceInterval
	wide := TwoProportionTest(50, 1000, 80, 1000, 0.99).ConfidenceInterval
	assert.Less(t, wide.Lower, narrow.Lower)
	assert.Greater(t, wide.Upper, narrow.Upper)
}

func TestRequiredSampleSize(t *testing.T) {
	assert.Equal(t, int64(6400), RequiredSampleSize(0.05))
	assert.Equal(t, int64(6400), RequiredSampleSize(0))
	assert.Equal(t, int64(400), RequiredSampleSize(0.2))
	assert.Equal(t, int64(64), RequiredSampleSize(0.5))
}

func TestCreate_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())

	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		field  string
	}{
		{"MissingName", func(r *CreateRequest) { r.Name = "" }, "name"},
		{"MissingCampaign", func(r *CreateRequest) { r.CampaignID = " " }, "campaign_id"},
		{"OneVariant", func(r *CreateRequest) { r.Variants = r.Variants[:1] }, "variants"},
		{"BadConfidence", func(r *CreateRequest) { r.Config.ConfidenceLevel = 0.8 }, "config.confidence_level"},
		{"NegativeSample", func(r *CreateRequest) { r.Config.MinSampleSize = -1 }, "config.min_sample_size"},
		{"NegativeDuration", func(r *CreateRequest) { r.Config.MaxDurationDays = -1 }, "config.max_duration_days"},
		{"UnknownMetric", func(r *CreateRequest) { r.Config.PrimaryMetric = "likes" }, "config.primary_metric"},
		{"BadEffect", func(r *CreateRequest) { r.Config.EffectSize = 2 }, "config.effect_size"},
		{"UnnamedVariant", func(r *CreateRequest) { r.Variants[1].Name = "" }, "variants.name"},
		{"DuplicateVariant", func(r *CreateRequest) { r.Variants[1].ID = "a" }, "variants.id"},
		{"AllocationSum", func(r *CreateRequest) { r.Variants[1].Allocation = 40 }, "variants.allocation"},
		{"NegativeAllocation", func(r *CreateRequest) { r.Variants[0].Allocation = -50 }, "variants.allocation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := twoVariants(Config{})
			tt.mutate(req)
			_, err := e.Create(context.Background(), req)
			require.Error(t, err)
			assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument), err.Error())
			assert.Equal(t, tt.field, engineerrors.FieldOf(err))
		})
	}
}

func TestCreate_Defaults(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())
	req := twoVariants(Config{})
	req.Variants[0].Allocation, req.Variants[1].Allocation = 0, 0
	req.Variants[0].ID = ""

	exp, err := e.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, exp.Status)
	assert.NotEmpty(t, exp.ID)
	assert.NotEmpty(t, exp.Variants[0].ID)
	assert.Equal(t, 50.0, exp.Variants[0].Allocation)
	assert.Equal(t, 50.0, exp.Variants[1].Allocation)
	assert.Equal(t, 0.95, exp.Config.ConfidenceLevel)
	assert.Equal(t, int64(100), exp.Config.MinSampleSize)
	assert.Equal(t, 30, exp.Config.MaxDurationDays)
	assert.Equal(t, MetricConversionRate, exp.Config.PrimaryMetric)
	assert.Equal(t, DefaultEffectSize, exp.Config.EffectSize)
	assert.Equal(t, VariantActive, exp.Variants[1].Status)
}

func TestLifecycle(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	exp, err := e.Create(ctx, twoVariants(Config{}))
	require.NoError(t, err)

	_, err = e.Pause(ctx, exp.ID)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeFailedPrecondition))
	_, err = e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeFailedPrecondition))

	exp, err = e.Start(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, exp.Status)
	require.NotNil(t, exp.StartedAt)
	assert.Equal(t, testNow, *exp.StartedAt)
	// 16 / 0.05² raises the default minimum of 100.
	assert.Equal(t, int64(6400), exp.Config.MinSampleSize)

	_, err = e.Start(ctx, exp.ID)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeFailedPrecondition))

	exp, err = e.Pause(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, exp.Status)
	_, err = e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeFailedPrecondition))

	exp, err = e.Resume(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, exp.Status)

	exp, err = e.Complete(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exp.Status)
	require.NotNil(t, exp.EndedAt)

	_, err = e.Resume(ctx, exp.ID)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeFailedPrecondition))

	_, err = e.Get(ctx, "missing")
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeNotFound))
}

func TestStart_KeepsLargerMinimum(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())
	exp := startedExperiment(t, e, twoVariants(Config{EffectSize: 0.5, MinSampleSize: 500}))
	assert.Equal(t, int64(500), exp.Config.MinSampleSize)
}

func TestUpdateMetrics_DerivedRates(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()
	exp := startedExperiment(t, e, twoVariants(Config{}))

	_, err := e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 200, Opens: 100, Clicks: 20, Conversions: 10, Revenue: 50, Bounces: 8})
	require.NoError(t, err)
	exp, err = e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 200, Opens: 60, Clicks: 20, Conversions: 10, Revenue: 30, Bounces: 12})
	require.NoError(t, err)

	m := exp.Variant("a").Metrics
	assert.Equal(t, int64(400), m.Impressions)
	assert.InDelta(t, 0.4, m.OpenRate, 1e-9)
	assert.InDelta(t, 0.1, m.ClickRate, 1e-9)
	assert.InDelta(t, 0.05, m.ConversionRate, 1e-9)
	assert.InDelta(t, 0.2, m.RevenuePerImpression, 1e-9)
	assert.Equal(t, int64(20), m.Bounces)
	assert.InDelta(t, 0.05, m.BounceRate, 1e-9)
	require.NotNil(t, exp.Results)
	assert.Equal(t, RecommendContinue, exp.Results.Recommendation)

	_, err = e.UpdateMetrics(ctx, exp.ID, "zzz", Counts{Impressions: 1})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeNotFound))
	_, err = e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: -1})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))
	_, err = e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1, Bounces: -1})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeInvalidArgument))
}

func TestUpdateMetrics_Concurrent(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()
	exp := startedExperiment(t, e, twoVariants(Config{}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.UpdateMetrics(ctx, exp.ID, "b", Counts{Impressions: 10, Conversions: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	exp, err := e.Get(ctx, exp.ID)
	require.NoError(t, err)
	m := exp.Variant("b").Metrics
	assert.Equal(t, int64(500), m.Impressions)
	assert.Equal(t, int64(50), m.Conversions)
	assert.InDelta(t, 0.1, m.ConversionRate, 1e-9)
}

func TestUpdateMetrics_StoreFailureKeepsState(t *testing.T) {
	s := NewMemoryStore()
	e, _, _ := newTestEngine(t, s)
	ctx := context.Background()
	exp := startedExperiment(t, e, twoVariants(Config{}))

	s.SetError(errors.New("disk full"))
	_, err := e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 10})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeDependencyUnavailable))
	s.SetError(nil)

	exp, err = e.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exp.Variant("a").Metrics.Impressions)
}

func TestRecommendationPolicy(t *testing.T) {
	started := testNow.Add(-24 * time.Hour)
	exp := func(control, treatment Counts) *Experiment {
		e := &Experiment{
			Variants: []Variant{{ID: "a"}, {ID: "b"}},
			Config:   Config{ConfidenceLevel: 0.95, MinSampleSize: 1000, MaxDurationDays: 30, PrimaryMetric: MetricConversionRate},
			Status:   StatusRunning,
		}
		e.StartedAt = &started
		e.Variants[0].Metrics.Counts = control
		e.Variants[1].Metrics.Counts = treatment
		e.Variants[0].Metrics.derive()
		e.Variants[1].Metrics.derive()
		return e
	}

	tests := []struct {
		name               string
		control, treatment Counts
		want               Recommendation
	}{
		{"Conclusive", Counts{Impressions: 1000, Conversions: 50}, Counts{Impressions: 1000, Conversions: 80}, RecommendDeclareWinner},
		{"SignificantButSmall", Counts{Impressions: 500, Conversions: 10}, Counts{Impressions: 500, Conversions: 40}, RecommendContinue},
		{"TooSlowToConverge", Counts{Impressions: 1000, Conversions: 50}, Counts{Impressions: 1000, Conversions: 51}, RecommendStopTest},
		{"NoDifference", Counts{Impressions: 1000, Conversions: 50}, Counts{Impressions: 1000, Conversions: 50}, RecommendStopTest},
		{"ConvergingSoon", Counts{Impressions: 1000, Conversions: 50}, Counts{Impressions: 1000, Conversions: 65}, RecommendContinue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := evaluate(exp(tt.control, tt.treatment), testNow)
			require.NotNil(t, r)
			assert.Equal(t, tt.want, r.Recommendation)
		})
	}
}

func TestDeclareWinner_RequiresConclusiveResult(t *testing.T) {
	s := NewMemoryStore()
	e, _, metrics := newTestEngine(t, s)
	ctx := context.Background()
	exp := startedExperiment(t, e, twoVariants(Config{EffectSize: 0.5, MinSampleSize: 2000}))

	_, err := e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1000, Conversions: 50})
	require.NoError(t, err)
	exp, err = e.UpdateMetrics(ctx, exp.ID, "b", Counts{Impressions: 1000, Conversions: 80})
	require.NoError(t, err)
	assert.True(t, exp.Results.IsSignificant)
	assert.False(t, exp.Results.SampleSizeReached)

	_, err = e.DeclareWinner(ctx, exp.ID)
	require.Error(t, err)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeNoClearWinner))
	assert.Empty(t, s.Winners())

	_, err = e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1000, Conversions: 50})
	require.NoError(t, err)
	_, err = e.UpdateMetrics(ctx, exp.ID, "b", Counts{Impressions: 1000, Conversions: 80})
	require.NoError(t, err)

	exp, err = e.DeclareWinner(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWinnerDeclared, exp.Status)
	assert.Equal(t, "b", exp.WinnerID)
	assert.Equal(t, VariantWinner, exp.Variant("b").Status)
	assert.Equal(t, VariantActive, exp.Variant("a").Status)
	assert.NotEmpty(t, exp.Insights)
	assert.Equal(t, int64(1), metrics.Snapshot().WinnersDeclared)

	winners := s.Winners()
	require.Len(t, winners, 1)
	w := winners[0]
	assert.Equal(t, exp.ID, w.ExperimentID)
	assert.Equal(t, "spring-launch", w.CampaignID)
	assert.Equal(t, "email-agent", w.AgentID)
	assert.Equal(t, "b", w.VariantID)
	assert.InDelta(t, 60.0, w.Lift, 1e-6)
	assert.JSONEq(t, `{"subject_style":"question"}`, string(w.Config))
	var insights []string
	require.NoError(t, json.Unmarshal(w.Insights, &insights))
	assert.Equal(t, exp.Insights, insights)

	_, err = e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1})
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeFailedPrecondition))
	_, err = e.DeclareWinner(ctx, exp.ID)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeFailedPrecondition))
}

func TestDeclareWinner_NotSignificant(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()
	exp := startedExperiment(t, e, twoVariants(Config{EffectSize: 0.5}))

	_, err := e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1000, Conversions: 50})
	require.NoError(t, err)
	_, err = e.UpdateMetrics(ctx, exp.ID, "b", Counts{Impressions: 1000, Conversions: 51})
	require.NoError(t, err)

	_, err = e.DeclareWinner(ctx, exp.ID)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeNoClearWinner))

	exp, err = e.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, exp.Status)
	assert.Empty(t, exp.WinnerID)
}

func TestDeclareWinner_MarksLoser(t *testing.T) {
	e, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()
	req := twoVariants(Config{EffectSize: 0.5})
	req.Variants = []VariantRequest{
		{ID: "a", Name: "Control"},
		{ID: "b", Name: "Question"},
		{ID: "c", Name: "Emoji"},
	}
	exp := startedExperiment(t, e, req)

	for id, conversions := range map[string]int64{"a": 50, "b": 80, "c": 30} {
		_, err := e.UpdateMetrics(ctx, exp.ID, id, Counts{Impressions: 1000, Conversions: conversions})
		require.NoError(t, err)
	}

	exp, err := e.DeclareWinner(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, VariantWinner, exp.Variant("b").Status)
	assert.Equal(t, VariantLoser, exp.Variant("c").Status)
	assert.Equal(t, VariantActive, exp.Variant("a").Status)
}

func TestDeclareWinner_IgnoresUndersampledVariants(t *testing.T) {
	s := NewMemoryStore()
	e, _, _ := newTestEngine(t, s)
	ctx := context.Background()
	req := twoVariants(Config{})
	req.Variants = []VariantRequest{
		{ID: "a", Name: "Control"},
		{ID: "b", Name: "Question"},
		{ID: "c", Name: "Emoji"},
	}
	exp := startedExperiment(t, e, req)
	require.Equal(t, int64(6400), exp.Config.MinSampleSize)

	for id, delta := range map[string]Counts{
		"a": {Impressions: 7000, Conversions: 350},
		"b": {Impressions: 7000, Conversions: 560},
		"c": {Impressions: 1, Conversions: 1},
	} {
		_, err := e.UpdateMetrics(ctx, exp.ID, id, delta)
		require.NoError(t, err)
	}

	exp, err := e.DeclareWinner(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", exp.WinnerID)
	assert.Equal(t, VariantActive, exp.Variant("c").Status)
	assert.Equal(t, VariantActive, exp.Variant("a").Status)

	winners := s.Winners()
	require.Len(t, winners, 1)
	assert.Equal(t, "b", winners[0].VariantID)
	assert.InDelta(t, 60.0, winners[0].Lift, 1e-6)
}

func TestDeclareWinner_LeaderTestedAgainstBaseline(t *testing.T) {
	ctx := context.Background()
	threeWay := func(t *testing.T, e *Engine, conversions map[string]int64) *Experiment {
		req := twoVariants(Config{EffectSize: 0.5})
		req.Variants = []VariantRequest{
			{ID: "a", Name: "Control"},
			{ID: "b", Name: "Question"},
			{ID: "c", Name: "Emoji"},
		}
		exp := startedExperiment(t, e, req)
		for id, n := range conversions {
			_, err := e.UpdateMetrics(ctx, exp.ID, id, Counts{Impressions: 1000, Conversions: n})
			require.NoError(t, err)
		}
		exp, err := e.Get(ctx, exp.ID)
		require.NoError(t, err)
		return exp
	}

	t.Run("ChallengerBeatsControl", func(t *testing.T) {
		e, _, _ := newTestEngine(t, NewMemoryStore())
		exp := threeWay(t, e, map[string]int64{"a": 50, "b": 80, "c": 81})
		require.True(t, exp.Results.IsSignificant)
		assert.Equal(t, "c", exp.Results.LeaderID)

		exp, err := e.DeclareWinner(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, "c", exp.WinnerID)
		assert.Equal(t, VariantLoser, exp.Variant("a").Status)
	})

	t.Run("ControlBarelyAheadOfRunnerUp", func(t *testing.T) {
		s := NewMemoryStore()
		e, _, _ := newTestEngine(t, s)
		exp := threeWay(t, e, map[string]int64{"a": 80, "b": 50, "c": 79})
		require.True(t, exp.Results.IsSignificant)
		assert.Empty(t, exp.Results.LeaderID)
		assert.NotEqual(t, RecommendDeclareWinner, exp.Results.Recommendation)

		_, err := e.DeclareWinner(ctx, exp.ID)
		assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeNoClearWinner))
		assert.Empty(t, s.Winners())
	})
}

// flakyExperimentStore fails the next experiment write while leaving
// winning-config writes untouched.
type flakyExperimentStore struct {
	*MemoryStore
	fail atomic.Bool
}

func (f *flakyExperimentStore) UpsertExperiment(ctx context.Context, upsert *store.Experiment) (*store.Experiment, error) {
	if f.fail.CompareAndSwap(true, false) {
		return nil, errors.New("down")
	}
	return f.MemoryStore.UpsertExperiment(ctx, upsert)
}

func TestDeclareWinner_RetryAfterSaveFailureKeepsOneWinner(t *testing.T) {
	s := &flakyExperimentStore{MemoryStore: NewMemoryStore()}
	e, _, _ := newTestEngine(t, s)
	ctx := context.Background()
	exp := startedExperiment(t, e, twoVariants(Config{EffectSize: 0.5}))

	_, err := e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1000, Conversions: 50})
	require.NoError(t, err)
	_, err = e.UpdateMetrics(ctx, exp.ID, "b", Counts{Impressions: 1000, Conversions: 80})
	require.NoError(t, err)

	s.fail.Store(true)
	_, err = e.DeclareWinner(ctx, exp.ID)
	require.Error(t, err)
	assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeDependencyUnavailable))

	got, err := e.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)

	exp, err = e.DeclareWinner(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWinnerDeclared, exp.Status)
	require.Len(t, s.Winners(), 1)
	assert.Equal(t, exp.ID, s.Winners()[0].ExperimentID)
}

func TestAutoWinner(t *testing.T) {
	s := NewMemoryStore()
	e, _, _ := newTestEngine(t, s)
	ctx := context.Background()
	exp := startedExperiment(t, e, twoVariants(Config{EffectSize: 0.5, AutoWinner: true}))

	exp, err := e.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1000, Conversions: 50})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, exp.Status)

	exp, err = e.UpdateMetrics(ctx, exp.ID, "b", Counts{Impressions: 1000, Conversions: 80})
	require.NoError(t, err)
	assert.Equal(t, StatusWinnerDeclared, exp.Status)
	assert.Equal(t, "b", exp.WinnerID)
	assert.Len(t, s.Winners(), 1)
}

func TestTick_StopsExpiredExperiments(t *testing.T) {
	e, clock, metrics := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	old := startedExperiment(t, e, twoVariants(Config{MaxDurationDays: 30}))
	clock.Advance(31 * 24 * time.Hour)
	fresh := startedExperiment(t, e, twoVariants(Config{MaxDurationDays: 30}))

	report, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Stopped)

	got, err := e.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.EndedAt)

	got, err = e.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, clock.Now(), got.Results.ComputedAt)

	assert.Equal(t, int64(1), metrics.Snapshot().Ticks)
}

// blockingStore parks the first armed experiment write until released.
type blockingStore struct {
	*MemoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) UpsertExperiment(ctx context.Context, upsert *store.Experiment) (*store.Experiment, error) {
	if b.armed.CompareAndSwap(true, false) {
		close(b.entered)
		<-b.release
	}
	return b.MemoryStore.UpsertExperiment(ctx, upsert)
}

func TestTick_SingleInFlight(t *testing.T) {
	s := &blockingStore{MemoryStore: NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	e, _, metrics := newTestEngine(t, s)
	ctx := context.Background()
	startedExperiment(t, e, twoVariants(Config{}))

	s.armed.Store(true)
	done := make(chan *TickReport, 1)
	go func() {
		report, err := e.Tick(ctx)
		assert.NoError(t, err)
		done <- report
	}()
	<-s.entered

	report, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	close(s.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Evaluated)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(1), snapshot.Ticks)
	assert.Equal(t, int64(1), snapshot.TicksSkipped)
}

func TestEngine_ReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewTestingStore(ctx, t)

	first, _, _ := newTestEngine(t, st)
	exp := startedExperiment(t, first, twoVariants(Config{EffectSize: 0.5}))
	_, err := first.UpdateMetrics(ctx, exp.ID, "a", Counts{Impressions: 1000, Conversions: 50})
	require.NoError(t, err)
	_, err = first.UpdateMetrics(ctx, exp.ID, "b", Counts{Impressions: 1000, Conversions: 80})
	require.NoError(t, err)

	second, _, _ := newTestEngine(t, st)
	got, err := second.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, int64(1000), got.Variant("b").Metrics.Impressions)
	assert.InDelta(t, 0.08, got.Variant("b").Metrics.ConversionRate, 1e-9)

	running, err := second.List(ctx, "spring-launch", StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)

	_, err = second.DeclareWinner(ctx, exp.ID)
	require.NoError(t, err)

	agentID := "email-agent"
	winners, err := st.ListWinningConfigs(ctx, &store.FindWinningConfig{AgentID: &agentID})
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, "b", winners[0].VariantID)
}
