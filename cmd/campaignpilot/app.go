package main

import (
	"context"
	"log/slog"

	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/internal/profile"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/plugin/experiment"
	"github.com/hrygo/campaignpilot/plugin/health"
	"github.com/hrygo/campaignpilot/plugin/ledger"
	"github.com/hrygo/campaignpilot/plugin/strategy"
	"github.com/hrygo/campaignpilot/server/finops"
	"github.com/hrygo/campaignpilot/store"
	"github.com/hrygo/campaignpilot/store/db"
)

// app holds every engine component, constructed once and passed to the commands.
type app struct {
	profile     *profile.Profile
	store       *store.Store
	metrics     *observability.Metrics
	ledger      *ledger.Ledger
	analyzer    *health.Analyzer
	planner     *strategy.Planner
	experiments *experiment.Engine
	costs       *finops.CostMonitor
}

func newApp(ctx context.Context, prof *profile.Profile) (*app, error) {
	driver, err := db.NewDBDriver(prof)
	if err != nil {
		return nil, err
	}
	s := store.New(driver, prof)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	policy := retry.Policy{
		MaxAttempts: prof.RetryMaxAttempts,
		BaseDelay:   prof.RetryBaseDelay,
		Timeout:     prof.RetryTimeout,
	}
	metrics := observability.NewMetrics()
	logger := slog.Default()

	l := ledger.New(s, ledger.Config{Retry: policy, Metrics: metrics, Logger: logger})

	analyzerCfg := health.DefaultAnalyzerConfig()
	analyzerCfg.CacheTTL = prof.HealthCacheTTL
	analyzerCfg.Logger = logger
	analyzer := health.NewAnalyzer(l, analyzerCfg)

	planner, err := strategy.NewPlanner(l, analyzer, s, strategy.Config{
		PlanningWindowDays: prof.PlanningWindowDays,
		HealthWindowDays:   prof.MetricsWindowDays,
		MaxActions:         prof.MaxActions,
		Winners:            s,
		Retry:              policy,
		Metrics:            metrics,
		Logger:             logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return &app{
		profile:     prof,
		store:       s,
		metrics:     metrics,
		ledger:      l,
		analyzer:    analyzer,
		planner:     planner,
		experiments: experiment.NewEngine(s, experiment.EngineConfig{Retry: policy, Metrics: metrics, Logger: logger}),
		costs:       finops.NewCostMonitor(l, finops.Config{Logger: logger}),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp loads the profile, builds the app and closes it after fn returns.
func withApp(ctx context.Context, fn func(a *app) error) error {
	prof, err := loadProfile()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, prof)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
