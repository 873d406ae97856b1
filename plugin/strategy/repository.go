package strategy

import (
	"context"

	"github.com/hrygo/campaignpilot/plugin/health"
	"github.com/hrygo/campaignpilot/plugin/ledger"
	"github.com/hrygo/campaignpilot/store"
)

// Repository persists serialized strategies. *store.Store satisfies it.
type Repository interface {
	UpsertCampaignStrategy(ctx context.Context, upsert *store.CampaignStrategy) (*store.CampaignStrategy, error)
	ListCampaignStrategies(ctx context.Context, find *store.FindCampaignStrategy) ([]*store.CampaignStrategy, error)
	GetCampaignStrategyPayload(ctx context.Context, id string) ([]byte, error)
}

// WinnerSource lists winning experiment configurations. *store.Store satisfies it.
type WinnerSource interface {
	ListWinningConfigs(ctx context.Context, find *store.FindWinningConfig) ([]*store.WinningConfig, error)
}

// PopulationSource supplies best-effort population metrics. *ledger.Ledger satisfies it.
type PopulationSource interface {
	PopulationMetricsOrEmpty(ctx context.Context, windowDays int) map[string]*ledger.MetricsWindow
}

// ProfileSource supplies agent health profiles. *health.Analyzer satisfies it.
type ProfileSource interface {
	Profile(ctx context.Context, agentID string, windowDays int) (*health.Profile, error)
}

// BrandScorer estimates how well an agent's output matches the brand.
type BrandScorer interface {
	BrandAlignment(ctx context.Context, agentID string, performance float64) float64
}

// OffsetBrandScorer approximates brand alignment as performance plus a fixed offset.
type OffsetBrandScorer struct {
	Offset float64
}

// BrandAlignment implements BrandScorer.
func (s OffsetBrandScorer) BrandAlignment(_ context.Context, _ string, performance float64) float64 {
	return clampScore(performance + s.Offset)
}
