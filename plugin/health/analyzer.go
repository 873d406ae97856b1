package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/plugin/ledger"
	"github.com/hrygo/campaignpilot/store/cache"
)

const maxTopPerformers = 3

// AnalyzerConfig configures an Analyzer.
type AnalyzerConfig struct {
	Benchmarks Benchmarks
	CacheSize  int           // Max cached profiles (default: 512)
	CacheTTL   time.Duration // Profile lifetime (default: 5 minutes)
	Logger     *slog.Logger
	Now        func() time.Time
}

// DefaultAnalyzerConfig returns default analyzer configuration.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Benchmarks: DefaultBenchmarks(),
		CacheSize:  512,
		CacheTTL:   5 * time.Minute,
	}
}

// Analyzer builds health profiles from ledger metrics.
type Analyzer struct {
	reader ledger.Reader
	scorer *Scorer
	cache  *cache.LRU[*Profile]
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer reading from the ledger.
func NewAnalyzer(reader ledger.Reader, cfg AnalyzerConfig) *Analyzer {
	d := DefaultAnalyzerConfig()
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = d.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = d.CacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Analyzer{
		reader: reader,
		scorer: NewScorer(cfg.Benchmarks),
		cache:  cache.New[*Profile](cfg.CacheSize, cfg.CacheTTL),
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// Scorer returns the scorer the analyzer uses.
func (a *Analyzer) Scorer() *Scorer {
	return a.scorer
}

// Profile returns the health profile of one agent over windowDays.
// Profiles are cached per agent and window; callers must not modify them.
func (a *Analyzer) Profile(ctx context.Context, agentID string, windowDays int) (*Profile, error) {
	key := profileCacheKey(agentID, windowDays)
	if p, ok := a.cache.Get(key); ok {
		return p, nil
	}

	m, err := a.reader.Metrics(ctx, agentID, windowDays)
	if err != nil {
		return nil, err
	}

	population, err := a.reader.PopulationMetrics(ctx, windowDays)
	if err != nil {
		observability.LoggerFrom(ctx, a.logger).Warn("population metrics unavailable, benchmarking against self",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		population = map[string]*ledger.MetricsWindow{agentID: m}
	}

	p := a.buildProfile(agentID, windowDays, m, population)
	a.cache.Set(key, p, 0)
	return p, nil
}

// Invalidate drops every cached profile of an agent.
func (a *Analyzer) Invalidate(agentID string) int {
	return a.cache.Invalidate(fmt.Sprintf("profile:%s:*", agentID))
}

func (a *Analyzer) buildProfile(agentID string, windowDays int, m *ledger.MetricsWindow, population map[string]*ledger.MetricsWindow) *Profile {
	score := a.scorer.Score(m)
	return &Profile{
		AgentID:         agentID,
		WindowDays:      windowDays,
		HealthScore:     score,
		OverallHealth:   Classify(score),
		Recommendations: a.scorer.Recommend(agentID, m, windowDays),
		Trends: Trends{
			Cost:        TrendDirection(ledger.Values(m.CostTrend), true),
			Speed:       TrendDirection(ledger.Values(m.ExecutionTimeTrend), true),
			Reliability: TrendDirection(ledger.Values(m.SuccessRateTrend), false),
		},
		Benchmark:   CompareToPopulation(m, population),
		Metrics:     m,
		GeneratedAt: a.now().UTC(),
	}
}

// AnalyzeSystem profiles every agent seen in the window. It only reads, so a
// caller that gives up early leaves nothing behind.
func (a *Analyzer) AnalyzeSystem(ctx context.Context, windowDays int) (*SystemAnalysis, error) {
	ctx, span := observability.Tracer().Start(ctx, "health.AnalyzeSystem")
	defer span.End()
	span.SetAttributes(attribute.Int("window_days", windowDays))

	population, err := a.reader.PopulationMetrics(ctx, windowDays)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "population metrics unavailable")
		return nil, err
	}

	agentIDs := make([]string, 0, len(population))
	for id := range population {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	analysis := &SystemAnalysis{
		WindowDays:            windowDays,
		AgentCount:            len(agentIDs),
		Profiles:              make([]*Profile, 0, len(agentIDs)),
		TopPerformers:         make([]AgentScore, 0),
		Underperformers:       make([]AgentScore, 0),
		CriticalIssues:        make([]Recommendation, 0),
		SystemRecommendations: make([]SystemRecommendation, 0),
		GeneratedAt:           a.now().UTC(),
	}

	total := 0
	for _, id := range agentIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := a.buildProfile(id, windowDays, population[id], population)
		analysis.Profiles = append(analysis.Profiles, p)
		total += p.HealthScore
		for _, rec := range p.Recommendations {
			if rec.Severity == SeverityCritical {
				analysis.CriticalIssues = append(analysis.CriticalIssues, rec)
			}
		}
	}
	if len(agentIDs) > 0 {
		analysis.AverageScore = float64(total) / float64(len(agentIDs))
	}

	ranked := make([]*Profile, len(analysis.Profiles))
	copy(ranked, analysis.Profiles)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].HealthScore > ranked[j].HealthScore
	})
	for _, p := range ranked {
		if len(analysis.TopPerformers) < maxTopPerformers && (p.OverallHealth == LevelExcellent || p.OverallHealth == LevelGood) {
			analysis.TopPerformers = append(analysis.TopPerformers, scoreOf(p))
		}
	}
	for i := len(ranked) - 1; i >= 0; i-- {
		p := ranked[i]
		if p.OverallHealth == LevelPoor || p.OverallHealth == LevelCritical {
			analysis.Underperformers = append(analysis.Underperformers, scoreOf(p))
		}
	}

	analysis.SystemRecommendations = a.systemRecommendations(population, agentIDs, windowDays)

	span.SetAttributes(
		attribute.Int("agent_count", analysis.AgentCount),
		attribute.Int("critical_issues", len(analysis.CriticalIssues)),
	)
	return analysis, nil
}

func scoreOf(p *Profile) AgentScore {
	return AgentScore{AgentID: p.AgentID, HealthScore: p.HealthScore, Level: p.OverallHealth}
}

// systemRecommendations derives findings shared by at least two agents.
func (a *Analyzer) systemRecommendations(population map[string]*ledger.MetricsWindow, agentIDs []string, windowDays int) []SystemRecommendation {
	b := a.scorer.Benchmarks()
	recs := make([]SystemRecommendation, 0, 2)

	var costly, unreliable []string
	var excessCost float64
	for _, id := range agentIDs {
		m := population[id]
		if !m.HasRuns() {
			continue
		}
		if m.AverageCost > b.Cost.Good {
			costly = append(costly, id)
			excessCost += (m.AverageCost - b.Cost.Good) * float64(m.TotalRuns)
		}
		if m.SuccessRate < b.SuccessRate.Good {
			unreliable = append(unreliable, id)
		}
	}

	if len(costly) >= 2 {
		recs = append(recs, SystemRecommendation{
			Type:     TypeCost,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("%d agents exceed the %.2f per-run cost benchmark",
				len(costly), b.Cost.Good),
			ExpectedImpact: fmt.Sprintf("Bringing them to benchmark would save about %.2f over %d days",
				excessCost, windowDays),
			AffectedAgents: costly,
		})
	}
	if len(unreliable) >= 2 {
		recs = append(recs, SystemRecommendation{
			Type:     TypeReliability,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("%d agents are below the %.0f%% success rate benchmark",
				len(unreliable), b.SuccessRate.Good),
			ExpectedImpact: "A shared review of failure modes should lift campaign success probability",
			AffectedAgents: unreliable,
		})
	}
	return recs
}

func profileCacheKey(agentID string, windowDays int) string {
	return fmt.Sprintf("profile:%s:%d", agentID, windowDays)
}
