package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/plugin/ledger"
	"github.com/hrygo/campaignpilot/store"
)

const (
	// DefaultPerformanceScore is used when an agent's health cannot be read.
	DefaultPerformanceScore = 75.0
	// DefaultBrandScore is used when an agent's health cannot be read.
	DefaultBrandScore = 80.0

	maxSuccessProbability = 95.0
	maxLearnedBonus       = 10.0
	defaultSegment        = "general"
	defaultCampaignDays   = 30
)

// Config configures a Planner.
type Config struct {
	Catalog            *Catalog
	PlanningWindowDays int // Population window for agent scoring (default: 90)
	HealthWindowDays   int // Window of the health profiles attached to actions (default: 30)
	MaxActions         int // Default action budget (default: 10)
	BrandScorer        BrandScorer
	Winners            WinnerSource // Optional; enables learned boosts
	LookupConcurrency  int          // Parallel health lookups (default: 8)
	Retry              retry.Policy
	Metrics            *observability.Metrics
	Logger             *slog.Logger
	Now                func() time.Time
}

// Planner generates and manages campaign strategies.
type Planner struct {
	catalog    *Catalog
	population PopulationSource
	profiles   ProfileSource
	repo       Repository
	winners    WinnerSource
	brand      BrandScorer

	planningWindow int
	healthWindow   int
	maxActions     int
	concurrency    int
	policy         retry.Policy
	metrics        *observability.Metrics
	logger         *slog.Logger
	now            func() time.Time

	// transitions serialises read-modify-write of a stored strategy.
	transitions sync.Mutex
}

// NewPlanner creates a planner. The catalog is validated here so that a bad
// table is rejected before any plan is generated.
func NewPlanner(population PopulationSource, profiles ProfileSource, repo Repository, cfg Config) (*Planner, error) {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, err
	}
	if cfg.PlanningWindowDays <= 0 {
		cfg.PlanningWindowDays = 90
	}
	if cfg.HealthWindowDays <= 0 {
		cfg.HealthWindowDays = 30
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = 10
	}
	if cfg.BrandScorer == nil {
		cfg.BrandScorer = OffsetBrandScorer{Offset: 5}
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Planner{
		catalog:        cfg.Catalog,
		population:     population,
		profiles:       profiles,
		repo:           repo,
		winners:        cfg.Winners,
		brand:          cfg.BrandScorer,
		planningWindow: cfg.PlanningWindowDays,
		healthWindow:   cfg.HealthWindowDays,
		maxActions:     cfg.MaxActions,
		concurrency:    cfg.LookupConcurrency,
		policy:         cfg.Retry,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}, nil
}

// Catalog returns the planning tables in use.
func (p *Planner) Catalog() *Catalog {
	return p.catalog
}

// Generate plans a campaign and stores it as a draft.
func (p *Planner) Generate(ctx context.Context, req *Request) (*CampaignStrategy, error) {
	ctx, span := observability.Tracer().Start(ctx, "strategy.Generate")
	defer span.End()

	s, err := p.generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(engineerrors.GetCodeFromError(err, "INTERNAL")))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("strategy.id", s.ID),
		attribute.String("strategy.goal", string(s.Goal)),
		attribute.Int("strategy.actions", len(s.Actions)),
		attribute.Float64("strategy.estimated_cost", s.EstimatedCost),
	)
	return s, nil
}

func (p *Planner) generate(ctx context.Context, req *Request) (*CampaignStrategy, error) {
	opts, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	reqCtx := observability.NewRequestContext(p.logger, "strategy.generate", "")
	ctx = observability.WithRequestContext(ctx, reqCtx)

	now := p.now().UTC()
	window := req.Window
	if window.Start.IsZero() {
		window.Start = now
	}
	if window.End.IsZero() {
		window.End = window.Start.AddDate(0, 0, defaultCampaignDays)
	}

	selection, err := p.selectAgents(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	actions := p.sequence(req, selection)
	p.optimize(ctx, actions)

	s := &CampaignStrategy{
		ID:           shortuuid.New(),
		Name:         req.Name,
		Objective:    req.Objective,
		Goal:         req.Goal,
		Audience:     req.Audience,
		Context:      req.Context,
		Platforms:    append([]string(nil), req.Platforms...),
		ContentTypes: append([]string(nil), req.ContentTypes...),
		Budget:       req.Budget,
		Window:       window,
		Selection:    selection,
		Actions:      actions,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.Audience.Segment == "" {
		s.Audience.Segment = defaultSegment
	}
	rollup(s, p.catalog)
	s.Timeline = timeline(s.Actions, window)

	if req.Budget != nil && s.EstimatedCost > req.Budget.Max {
		p.metrics.RecordBudgetRejection()
		reqCtx.Warn(ctx, "strategy rejected over budget",
			slog.Float64("estimated_cost", s.EstimatedCost),
			slog.Float64("budget_max", req.Budget.Max),
		)
		return nil, engineerrors.BudgetExceeded(s.EstimatedCost, req.Budget.Max)
	}

	if err := p.save(ctx, s); err != nil {
		return nil, err
	}
	p.metrics.RecordStrategy()
	reqCtx.Info(ctx, "strategy generated",
		slog.String("strategy_id", s.ID),
		slog.Int("actions", len(s.Actions)),
		slog.Float64("estimated_cost", s.EstimatedCost),
		slog.Float64("success_probability", s.SuccessProbability),
	)
	return s, nil
}

// validate checks the request and returns the effective options.
func (p *Planner) validate(req *Request) (Options, error) {
	if req == nil {
		return Options{}, engineerrors.InvalidArgument("request", "request is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return Options{}, engineerrors.InvalidArgument("name", "campaign name is required")
	}
	if strings.TrimSpace(req.Objective) == "" {
		return Options{}, engineerrors.InvalidArgument("objective", "campaign objective is required")
	}
	if req.Goal == "" {
		return Options{}, engineerrors.InvalidArgument("goal", "goal type is required")
	}
	if !p.catalog.knowsGoal(req.Goal) {
		return Options{}, engineerrors.Configuration("goal", fmt.Sprintf("unknown goal type %q", req.Goal))
	}
	if len(req.Platforms) == 0 {
		return Options{}, engineerrors.InvalidArgument("platforms", "at least one platform is required")
	}
	for _, platform := range req.Platforms {
		if _, ok := p.catalog.ChannelAgents[platform]; !ok {
			return Options{}, engineerrors.InvalidArgument("platforms", fmt.Sprintf("unsupported platform %q", platform))
		}
	}
	if len(req.ContentTypes) == 0 {
		return Options{}, engineerrors.InvalidArgument("content_types", "at least one content type is required")
	}
	if req.Budget != nil && !(req.Budget.Max > 0) {
		return Options{}, engineerrors.InvalidArgument("budget.max", "budget must be positive")
	}
	if req.Audience.Size < 0 {
		return Options{}, engineerrors.InvalidArgument("audience.size", "must not be negative")
	}
	if !req.Window.Start.IsZero() && !req.Window.End.IsZero() && !req.Window.End.After(req.Window.Start) {
		return Options{}, engineerrors.InvalidArgument("window.end", "must be after window start")
	}

	opts := req.Options
	if opts.MaxActions < 0 {
		return Options{}, engineerrors.InvalidArgument("options.max_actions", "must not be negative")
	}
	if opts.MaxActions == 0 {
		opts.MaxActions = p.maxActions
	}
	switch opts.SelectionCriteria {
	case "":
		opts.SelectionCriteria = SelectBalanced
	case SelectBalanced, SelectPerformance, SelectCost:
	default:
		return Options{}, engineerrors.InvalidArgument("options.selection_criteria",
			fmt.Sprintf("unknown selection criteria %q", opts.SelectionCriteria))
	}
	return opts, nil
}

// candidate is an agent under consideration for the plan.
type candidate struct {
	agentID       string
	campaignScore float64
	learnedBonus  float64
	performance   float64
	required      bool
}

// selectAgents returns the required agents followed by the best optional
// ones, bounded by opts.MaxActions.
func (p *Planner) selectAgents(ctx context.Context, req *Request, opts Options) ([]AgentSelection, error) {
	required := make([]string, 0)
	seen := make(map[string]bool)
	for _, id := range p.catalog.RequiredByGoal[req.Goal] {
		if !seen[id] {
			seen[id] = true
			required = append(required, id)
		}
	}
	for _, platform := range req.Platforms {
		id := p.catalog.ChannelAgents[platform]
		if !seen[id] {
			seen[id] = true
			required = append(required, id)
		}
	}
	if len(required) > opts.MaxActions {
		return nil, engineerrors.InvalidArgument("options.max_actions",
			fmt.Sprintf("must be at least %d to cover the required agents", len(required)))
	}

	optional := make([]string, 0)
	for _, id := range p.catalog.OptionalByGoal[req.Goal] {
		if !seen[id] {
			seen[id] = true
			optional = append(optional, id)
		}
	}

	population := p.population.PopulationMetricsOrEmpty(ctx, p.planningWindow)
	bonuses := p.learnedBonuses(ctx, append(append([]string(nil), required...), optional...))
	segment := req.Audience.Segment
	if segment == "" {
		segment = defaultSegment
	}

	score := func(id string, isRequired bool) candidate {
		c := candidate{agentID: id, required: isRequired, learnedBonus: bonuses[id]}
		c.performance, c.campaignScore = p.campaignScore(id, req.Goal, segment, population[id])
		c.campaignScore = clampScore(c.campaignScore + c.learnedBonus)
		return c
	}

	candidates := make([]candidate, 0, len(optional))
	for _, id := range optional {
		candidates = append(candidates, score(id, false))
	}
	rank := p.rankFunc(opts.SelectionCriteria)
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rank(candidates[i]), rank(candidates[j])
		if ri != rj {
			return ri > rj
		}
		return candidates[i].agentID < candidates[j].agentID
	})

	selection := make([]AgentSelection, 0, opts.MaxActions)
	for _, id := range required {
		c := score(id, true)
		selection = append(selection, AgentSelection{AgentID: id, CampaignScore: c.campaignScore, LearnedBonus: c.learnedBonus, Required: true})
	}
	for _, c := range candidates {
		if len(selection) >= opts.MaxActions {
			break
		}
		selection = append(selection, AgentSelection{AgentID: c.agentID, CampaignScore: c.campaignScore, LearnedBonus: c.learnedBonus})
	}
	return selection, nil
}

// campaignScore returns the agent's raw performance and its campaign-specific score:
// success rate plus the goal boost scaled by the segment multiplier, with mild
// penalties for expensive or slow agents.
func (p *Planner) campaignScore(agentID string, goal GoalType, segment string, m *ledger.MetricsWindow) (float64, float64) {
	base := DefaultPerformanceScore
	if m.HasRuns() {
		base = m.SuccessRate
	}

	multiplier := 1.0
	if v, ok := p.catalog.SegmentMultiplier[segment][agentID]; ok {
		multiplier = v
	}
	score := base + p.catalog.GoalBoost[goal][agentID]*multiplier

	if m.HasRuns() {
		if m.AverageCost > p.catalog.CostPenaltyThreshold {
			score *= p.catalog.CostPenalty
		}
		if m.AverageExecutionTimeMs > p.catalog.LatencyPenaltyThreshold {
			score *= p.catalog.LatencyPenalty
		}
	}
	return base, clampScore(score)
}

func (p *Planner) rankFunc(criteria SelectionCriteria) func(candidate) float64 {
	switch criteria {
	case SelectPerformance:
		return func(c candidate) float64 { return 0.5*c.campaignScore + 0.5*c.performance }
	case SelectCost:
		cheapest := math.Inf(1)
		for _, spec := range p.catalog.Agents {
			if spec.BaseCost > 0 && spec.BaseCost < cheapest {
				cheapest = spec.BaseCost
			}
		}
		return func(c candidate) float64 {
			costScore := 100.0
			if cost := p.catalog.Agents[c.agentID].BaseCost; cost > 0 {
				costScore = 100 * cheapest / cost
			}
			return 0.5*c.campaignScore + 0.5*costScore
		}
	default:
		return func(c candidate) float64 { return c.campaignScore }
	}
}

// learnedBonuses converts stored experiment winners into bounded score bonuses.
func (p *Planner) learnedBonuses(ctx context.Context, agentIDs []string) map[string]float64 {
	bonuses := make(map[string]float64, len(agentIDs))
	if p.winners == nil {
		return bonuses
	}
	for _, id := range agentIDs {
		agentID := id
		winners, err := retry.Do(ctx, p.policy, "strategy.winners", func(ctx context.Context) ([]*store.WinningConfig, error) {
			return p.winners.ListWinningConfigs(ctx, &store.FindWinningConfig{AgentID: &agentID, Limit: 20})
		})
		if err != nil {
			observability.LoggerFrom(ctx, p.logger).Warn("winning configs unavailable",
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()),
			)
			continue
		}
		bonus := 0.0
		for _, w := range winners {
			bonus += math.Min(math.Max(w.Lift, 0), 50) / 10
		}
		bonuses[agentID] = math.Min(bonus, maxLearnedBonus)
	}
	return bonuses
}

// optimize attaches performance and brand scores to every action from the
// agents' health profiles, looked up in parallel, then orders the actions by
// stage and priority.
func (p *Planner) optimize(ctx context.Context, actions []AgentAction) {
	agentIDs := make([]string, 0, len(actions))
	seen := make(map[string]bool)
	for _, a := range actions {
		if !seen[a.AgentID] {
			seen[a.AgentID] = true
			agentIDs = append(agentIDs, a.AgentID)
		}
	}

	type scores struct{ performance, brand float64 }
	results := make([]scores, len(agentIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, id := range agentIDs {
		g.Go(func() error {
			results[i] = scores{DefaultPerformanceScore, DefaultBrandScore}
			profile, err := p.profiles.Profile(gctx, id, p.healthWindow)
			if err != nil {
				observability.LoggerFrom(ctx, p.logger).Warn("health profile unavailable, using defaults",
					slog.String("agent_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			performance := float64(profile.HealthScore)
			results[i] = scores{performance, clampScore(p.brand.BrandAlignment(gctx, id, performance))}
			return nil
		})
	}
	_ = g.Wait()

	byAgent := make(map[string]scores, len(agentIDs))
	for i, id := range agentIDs {
		byAgent[id] = results[i]
	}
	for i := range actions {
		s := byAgent[actions[i].AgentID]
		performance, brand := s.performance, s.brand
		actions[i].PerformanceScore = &performance
		actions[i].BrandScore = &brand
	}

	sort.SliceStable(actions, func(i, j int) bool {
		si, sj := actions[i].Stage.Order(), actions[j].Stage.Order()
		if si != sj {
			return si < sj
		}
		return actions[i].Priority.weight() > actions[j].Priority.weight()
	})
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
