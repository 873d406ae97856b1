// Package experiment runs A/B experiments over campaign variants and decides
// winners with a two-proportion significance test.
package experiment

import (
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusRunning        Status = "running"
	StatusPaused         Status = "paused"
	StatusCompleted      Status = "completed"
	StatusWinnerDeclared Status = "winner_declared"
)

// Metric is a per-impression rate a variant is judged on.
type Metric string

const (
	MetricOpenRate             Metric = "open_rate"
	MetricClickRate            Metric = "click_rate"
	MetricConversionRate       Metric = "conversion_rate"
	MetricRevenuePerImpression Metric = "revenue_per_impression"
)

func (m Metric) valid() bool {
	switch m {
	case MetricOpenRate, MetricClickRate, MetricConversionRate, MetricRevenuePerImpression:
		return true
	default:
		return false
	}
}

// Recommendation is the suggested next step for an experiment.
type Recommendation string

const (
	RecommendDeclareWinner Recommendation = "declare_winner"
	RecommendContinue      Recommendation = "continue"
	RecommendStopTest      Recommendation = "stop_test"
)

// VariantStatus marks the outcome of a variant once a winner is declared.
type VariantStatus string

const (
	VariantActive VariantStatus = "active"
	VariantWinner VariantStatus = "winner"
	VariantLoser  VariantStatus = "loser"
)

// Counts are the raw observations of a variant.
type Counts struct {
	Impressions int64   `json:"impressions"`
	Opens       int64   `json:"opens"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	Bounces     int64   `json:"bounces"`
}

// VariantMetrics are raw counts plus rates derived from them. Rates are
// fractions in [0, 1] except revenue per impression.
type VariantMetrics struct {
	Counts
	OpenRate             float64 `json:"open_rate"`
	ClickRate            float64 `json:"click_rate"`
	ConversionRate       float64 `json:"conversion_rate"`
	RevenuePerImpression float64 `json:"revenue_per_impression"`
	BounceRate           float64 `json:"bounce_rate"`
}

// derive recomputes the rates from the counts.
func (m *VariantMetrics) derive() {
	m.OpenRate, m.ClickRate, m.ConversionRate, m.RevenuePerImpression, m.BounceRate = 0, 0, 0, 0, 0
	if m.Impressions <= 0 {
		return
	}
	n := float64(m.Impressions)
	m.OpenRate = float64(m.Opens) / n
	m.ClickRate = float64(m.Clicks) / n
	m.ConversionRate = float64(m.Conversions) / n
	m.RevenuePerImpression = m.Revenue / n
	m.BounceRate = float64(m.Bounces) / n
}

// Value returns the rate for a metric.
func (m VariantMetrics) Value(metric Metric) float64 {
	switch metric {
	case MetricOpenRate:
		return m.OpenRate
	case MetricClickRate:
		return m.ClickRate
	case MetricRevenuePerImpression:
		return m.RevenuePerImpression
	default:
		return m.ConversionRate
	}
}

// successes returns the count tested as a proportion for a metric. Revenue is
// not a proportion, so it is tested through conversions.
func (m VariantMetrics) successes(metric Metric) int64 {
	switch metric {
	case MetricOpenRate:
		return m.Opens
	case MetricClickRate:
		return m.Clicks
	default:
		return m.Conversions
	}
}

// Variant is one arm of an experiment. The first variant is the control.
type Variant struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	AgentID    string         `json:"agent_id,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Allocation float64        `json:"allocation"` // percent of traffic
	Metrics    VariantMetrics `json:"metrics"`
	Status     VariantStatus  `json:"status"`
}

// Config holds the statistical settings of an experiment.
type Config struct {
	ConfidenceLevel float64 `json:"confidence_level"` // 0.90, 0.95 or 0.99
	MinSampleSize   int64   `json:"min_sample_size"`  // impressions per variant
	MaxDurationDays int     `json:"max_duration_days"`
	PrimaryMetric   Metric  `json:"primary_metric"`
	EffectSize      float64 `json:"effect_size"` // minimum detectable relative effect
	AutoWinner      bool    `json:"auto_winner"`
}

// MaxDuration returns the maximum running time.
func (c Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationDays) * 24 * time.Hour
}

// Interval is a confidence interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Significance is the outcome of a two-proportion z-test.
type Significance struct {
	ControlRate        float64  `json:"control_rate"`
	TreatmentRate      float64  `json:"treatment_rate"`
	Difference         float64  `json:"difference"`
	ZScore             float64  `json:"z_score"`
	PValue             float64  `json:"p_value"`
	ConfidenceInterval Interval `json:"confidence_interval"`
	IsSignificant      bool     `json:"is_significant"`
}

// Results are the test-level statistics of an experiment.
type Results struct {
	Significance
	ControlID          string         `json:"control_id"`
	TreatmentID        string         `json:"treatment_id"`
	RelativeLift       float64        `json:"relative_lift"` // percent
	SampleSizeReached  bool           `json:"sample_size_reached"`
	LeaderID           string         `json:"leader_id,omitempty"` // empty unless the leader beats its baseline significantly
	DaysToSignificance *float64       `json:"days_to_significance,omitempty"`
	Recommendation     Recommendation `json:"recommendation"`
	ComputedAt         time.Time      `json:"computed_at"`
}

// Experiment is an A/B test over campaign variants.
type Experiment struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	Name       string     `json:"name"`
	Hypothesis string     `json:"hypothesis,omitempty"`
	Variants   []Variant  `json:"variants"`
	Config     Config     `json:"config"`
	Status     Status     `json:"status"`
	Results    *Results   `json:"results,omitempty"`
	WinnerID   string     `json:"winner_id,omitempty"`
	Insights   []string   `json:"insights,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Variant returns the variant with the id, or nil.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// clone returns a copy that shares no mutable state with e. Variant configs
// are never mutated after creation and are shared.
func (e *Experiment) clone() *Experiment {
	c := *e
	c.Variants = append([]Variant(nil), e.Variants...)
	c.Insights = append([]string(nil), e.Insights...)
	if e.Results != nil {
		r := *e.Results
		if e.Results.DaysToSignificance != nil {
			days := *e.Results.DaysToSignificance
			r.DaysToSignificance = &days
		}
		c.Results = &r
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// VariantRequest describes a variant to create.
type VariantRequest struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	AgentID    string         `json:"agent_id,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Allocation float64        `json:"allocation,omitempty"`
}

// CreateRequest describes an experiment to create.
type CreateRequest struct {
	CampaignID string           `json:"campaign_id"`
	Name       string           `json:"name"`
	Hypothesis string           `json:"hypothesis,omitempty"`
	Variants   []VariantRequest `json:"variants"`
	Config     Config           `json:"config"`
}

// TickReport summarises one periodic evaluation pass.
type TickReport struct {
	Skipped   bool `json:"skipped"`
	Evaluated int  `json:"evaluated"`
	Stopped   int  `json:"stopped"`
	Declared  int  `json:"declared"`
	Failed    int  `json:"failed"`
}
