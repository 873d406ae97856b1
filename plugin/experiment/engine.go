package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/store"
)

const (
	defaultConfidence      = 0.95
	defaultMinSampleSize   = 100
	defaultMaxDurationDays = 30
)

// Store persists experiments and winning configurations. *store.Store satisfies it.
type Store interface {
	UpsertExperiment(ctx context.Context, upsert *store.Experiment) (*store.Experiment, error)
	ListExperiments(ctx context.Context, find *store.FindExperiment) ([]*store.Experiment, error)
	UpsertWinningConfig(ctx context.Context, upsert *store.WinningConfig) (*store.WinningConfig, error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Retry   retry.Policy
	Metrics *observability.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// entry guards one cached experiment. Every mutation holds mu, works on a
// copy and swaps it in only after the copy is persisted.
type entry struct {
	mu  sync.Mutex
	exp *Experiment
}

// Engine owns the experiments and their lifecycle.
type Engine struct {
	store   Store
	policy  retry.Policy
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	loaded  bool
	entries map[string]*entry

	ticking atomic.Bool
}

// NewEngine creates an engine. Stored experiments are loaded on first use.
func NewEngine(s Store, cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:   s,
		policy:  cfg.Retry,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
		entries: make(map[string]*entry),
	}
}

// load fills the cache from the store once.
func (e *Engine) load(ctx context.Context) error {
	e.mu.RLock()
	loaded := e.loaded
	e.mu.RUnlock()
	if loaded {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}
	rows, err := retry.Do(ctx, e.policy, "experiment.load", func(ctx context.Context) ([]*store.Experiment, error) {
		return e.store.ListExperiments(ctx, &store.FindExperiment{})
	})
	if err != nil {
		return engineerrors.DependencyUnavailable("load experiments", err)
	}
	for _, row := range rows {
		var exp Experiment
		if err := json.Unmarshal(row.Payload, &exp); err != nil {
			return errors.Wrapf(err, "failed to unmarshal experiment %s", row.ID)
		}
		e.entries[exp.ID] = &entry{exp: &exp}
	}
	e.loaded = true
	if len(rows) > 0 {
		e.logger.Info("experiments loaded", slog.Int("count", len(rows)))
	}
	return nil
}

func (e *Engine) entry(ctx context.Context, id string) (*entry, error) {
	if id == "" {
		return nil, engineerrors.InvalidArgument("id", "experiment id is required")
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.entries[id]
	if !ok {
		return nil, engineerrors.NotFound("experiment", id)
	}
	return en, nil
}

func (e *Engine) persist(ctx context.Context, exp *Experiment) error {
	payload, err := json.Marshal(exp)
	if err != nil {
		return errors.Wrap(err, "failed to marshal experiment")
	}
	_, err = retry.Do(ctx, e.policy, "experiment.save", func(ctx context.Context) (*store.Experiment, error) {
		return e.store.UpsertExperiment(ctx, &store.Experiment{
			ID:         exp.ID,
			CampaignID: exp.CampaignID,
			Status:     string(exp.Status),
			Payload:    payload,
			CreatedTs:  exp.CreatedAt,
			UpdatedTs:  exp.UpdatedAt,
		})
	})
	if err != nil {
		return engineerrors.DependencyUnavailable("save experiment", err)
	}
	return nil
}

// mutate applies fn to a copy of the experiment under its lock, persists the
// copy and publishes it. fn returning an error aborts without changes.
func (e *Engine) mutate(ctx context.Context, id string, fn func(exp *Experiment, now time.Time) error) (*Experiment, error) {
	en, err := e.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	now := e.now().UTC()
	next := en.exp.clone()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	if err := e.persist(ctx, next); err != nil {
		return nil, err
	}
	en.exp = next
	return next.clone(), nil
}

// Create validates and stores a draft experiment.
func (e *Engine) Create(ctx context.Context, req *CreateRequest) (*Experiment, error) {
	exp, err := build(req)
	if err != nil {
		return nil, err
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	exp.ID = shortuuid.New()
	exp.Status = StatusDraft
	exp.CreatedAt = now
	exp.UpdatedAt = now
	if err := e.persist(ctx, exp); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.entries[exp.ID] = &entry{exp: exp}
	e.mu.Unlock()

	e.logger.Info("experiment created",
		slog.String("experiment_id", exp.ID),
		slog.String("campaign_id", exp.CampaignID),
		slog.Int("variants", len(exp.Variants)),
	)
	return exp.clone(), nil
}

func build(req *CreateRequest) (*Experiment, error) {
	if req == nil {
		return nil, engineerrors.InvalidArgument("request", "request is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, engineerrors.InvalidArgument("name", "experiment name is required")
	}
	if strings.TrimSpace(req.CampaignID) == "" {
		return nil, engineerrors.InvalidArgument("campaign_id", "campaign id is required")
	}
	if len(req.Variants) < 2 {
		return nil, engineerrors.InvalidArgument("variants", "at least two variants are required")
	}

	cfg := req.Config
	if cfg.ConfidenceLevel == 0 {
		cfg.ConfidenceLevel = defaultConfidence
	}
	if !validConfidence(cfg.ConfidenceLevel) {
		return nil, engineerrors.InvalidArgument("config.confidence_level", "must be one of 0.90, 0.95 or 0.99")
	}
	if cfg.MinSampleSize < 0 {
		return nil, engineerrors.InvalidArgument("config.min_sample_size", "must not be negative")
	}
	if cfg.MinSampleSize == 0 {
		cfg.MinSampleSize = defaultMinSampleSize
	}
	if cfg.MaxDurationDays < 0 {
		return nil, engineerrors.InvalidArgument("config.max_duration_days", "must not be negative")
	}
	if cfg.MaxDurationDays == 0 {
		cfg.MaxDurationDays = defaultMaxDurationDays
	}
	if cfg.PrimaryMetric == "" {
		cfg.PrimaryMetric = MetricConversionRate
	}
	if !cfg.PrimaryMetric.valid() {
		return nil, engineerrors.InvalidArgument("config.primary_metric", fmt.Sprintf("unknown metric %q", cfg.PrimaryMetric))
	}
	if cfg.EffectSize == 0 {
		cfg.EffectSize = DefaultEffectSize
	}
	if cfg.EffectSize < 0 || cfg.EffectSize > 1 {
		return nil, engineerrors.InvalidArgument("config.effect_size", "must be in (0, 1]")
	}

	variants := make([]Variant, len(req.Variants))
	seen := make(map[string]bool, len(req.Variants))
	total := 0.0
	for i, v := range req.Variants {
		if strings.TrimSpace(v.Name) == "" {
			return nil, engineerrors.InvalidArgument("variants.name", fmt.Sprintf("variant %d has no name", i))
		}
		if v.Allocation < 0 {
			return nil, engineerrors.InvalidArgument("variants.allocation", "must not be negative")
		}
		id := v.ID
		if id == "" {
			id = shortuuid.New()
		}
		if seen[id] {
			return nil, engineerrors.InvalidArgument("variants.id", fmt.Sprintf("duplicate variant id %q", id))
		}
		seen[id] = true
		total += v.Allocation
		variants[i] = Variant{
			ID:         id,
			Name:       v.Name,
			AgentID:    v.AgentID,
			Config:     v.Config,
			Allocation: v.Allocation,
			Status:     VariantActive,
		}
	}
	switch {
	case total == 0:
		for i := range variants {
			variants[i].Allocation = 100 / float64(len(variants))
		}
	case math.Abs(total-100) > 0.01:
		return nil, engineerrors.InvalidArgument("variants.allocation", fmt.Sprintf("allocations sum to %.2f, want 100", total))
	}

	return &Experiment{
		CampaignID: req.CampaignID,
		Name:       req.Name,
		Hypothesis: req.Hypothesis,
		Variants:   variants,
		Config:     cfg,
	}, nil
}

// Get returns an experiment by id.
func (e *Engine) Get(ctx context.Context, id string) (*Experiment, error) {
	en, err := e.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.exp.clone(), nil
}

// List returns experiments in creation order, optionally filtered.
func (e *Engine) List(ctx context.Context, campaignID string, status Status) ([]*Experiment, error) {
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		entries = append(entries, en)
	}
	e.mu.RUnlock()

	list := make([]*Experiment, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		exp := en.exp.clone()
		en.mu.Unlock()
		if campaignID != "" && exp.CampaignID != campaignID {
			continue
		}
		if status != "" && exp.Status != status {
			continue
		}
		list = append(list, exp)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func transitionError(exp *Experiment, to Status) error {
	return engineerrors.FailedPrecondition(fmt.Sprintf("experiment %s cannot move from %s to %s", exp.ID, exp.Status, to))
}

// Start moves a draft experiment to running. The minimum sample size is
// raised to the power-analysis requirement when that is larger.
func (e *Engine) Start(ctx context.Context, id string) (*Experiment, error) {
	return e.mutate(ctx, id, func(exp *Experiment, now time.Time) error {
		if exp.Status != StatusDraft {
			return transitionError(exp, StatusRunning)
		}
		if required := RequiredSampleSize(exp.Config.EffectSize); required > exp.Config.MinSampleSize {
			exp.Config.MinSampleSize = required
		}
		exp.Status = StatusRunning
		exp.StartedAt = &now
		exp.Results = evaluate(exp, now)
		return nil
	})
}

// Pause suspends a running experiment.
func (e *Engine) Pause(ctx context.Context, id string) (*Experiment, error) {
	return e.mutate(ctx, id, func(exp *Experiment, now time.Time) error {
		if exp.Status != StatusRunning {
			return transitionError(exp, StatusPaused)
		}
		exp.Status = StatusPaused
		return nil
	})
}

// Resume continues a paused experiment.
func (e *Engine) Resume(ctx context.Context, id string) (*Experiment, error) {
	return e.mutate(ctx, id, func(exp *Experiment, now time.Time) error {
		if exp.Status != StatusPaused {
			return transitionError(exp, StatusRunning)
		}
		exp.Status = StatusRunning
		return nil
	})
}

// Complete stops a running or paused experiment without declaring a winner.
func (e *Engine) Complete(ctx context.Context, id string) (*Experiment, error) {
	return e.mutate(ctx, id, func(exp *Experiment, now time.Time) error {
		if exp.Status != StatusRunning && exp.Status != StatusPaused {
			return transitionError(exp, StatusCompleted)
		}
		complete(exp, now)
		return nil
	})
}

func complete(exp *Experiment, now time.Time) {
	exp.Status = StatusCompleted
	exp.EndedAt = &now
	exp.Results = evaluate(exp, now)
}

// UpdateMetrics merges a delta into a variant of a running experiment and
// recomputes its rates and the test results. With AutoWinner set, a
// conclusive result declares the winner in the same step.
func (e *Engine) UpdateMetrics(ctx context.Context, id, variantID string, delta Counts) (*Experiment, error) {
	if delta.Impressions < 0 || delta.Opens < 0 || delta.Clicks < 0 || delta.Conversions < 0 || delta.Revenue < 0 || delta.Bounces < 0 {
		return nil, engineerrors.InvalidArgument("delta", "counts must not be negative")
	}

	var winner *store.WinningConfig
	exp, err := e.mutate(ctx, id, func(exp *Experiment, now time.Time) error {
		if exp.Status != StatusRunning {
			return engineerrors.FailedPrecondition(fmt.Sprintf("experiment %s is %s, not running", exp.ID, exp.Status))
		}
		v := exp.Variant(variantID)
		if v == nil {
			return engineerrors.NotFound("variant", variantID)
		}
		v.Metrics.Impressions += delta.Impressions
		v.Metrics.Opens += delta.Opens
		v.Metrics.Clicks += delta.Clicks
		v.Metrics.Conversions += delta.Conversions
		v.Metrics.Revenue += delta.Revenue
		v.Metrics.Bounces += delta.Bounces
		v.Metrics.derive()

		exp.Results = evaluate(exp, now)
		if exp.Config.AutoWinner && exp.Results.Recommendation == RecommendDeclareWinner {
			w, err := e.declare(ctx, exp, now)
			if err != nil {
				return err
			}
			winner = w
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if winner != nil {
		e.announce(exp, winner)
	}
	return exp, nil
}
