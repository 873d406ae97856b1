package store

import (
	"context"
	"time"

	"github.com/hrygo/campaignpilot/internal/profile"
	"github.com/hrygo/campaignpilot/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// strategyCache holds serialized strategies by id so repeated loads
	// after a plan is generated do not hit the database.
	strategyCache *cache.LRUCache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:        driver,
		profile:       profile,
		strategyCache: cache.NewLRUCache(1000, 10*time.Minute),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.strategyCache.Clear()
	return s.driver.Close()
}

func (s *Store) CreateExecutionRecord(ctx context.Context, create *ExecutionRecord) (*ExecutionRecord, error) {
	return s.driver.CreateExecutionRecord(ctx, create)
}

func (s *Store) ListExecutionRecords(ctx context.Context, find *FindExecutionRecord) ([]*ExecutionRecord, error) {
	return s.driver.ListExecutionRecords(ctx, find)
}

func (s *Store) UpdateExecutionRecord(ctx context.Context, update *UpdateExecutionRecord) error {
	return s.driver.UpdateExecutionRecord(ctx, update)
}

func (s *Store) DeleteExecutionRecords(ctx context.Context, delete *DeleteExecutionRecords) (int64, error) {
	return s.driver.DeleteExecutionRecords(ctx, delete)
}

func (s *Store) UpsertExperiment(ctx context.Context, upsert *Experiment) (*Experiment, error) {
	return s.driver.UpsertExperiment(ctx, upsert)
}

func (s *Store) ListExperiments(ctx context.Context, find *FindExperiment) ([]*Experiment, error) {
	return s.driver.ListExperiments(ctx, find)
}

func (s *Store) UpsertCampaignStrategy(ctx context.Context, upsert *CampaignStrategy) (*CampaignStrategy, error) {
	strategy, err := s.driver.UpsertCampaignStrategy(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.strategyCache.Set(strategyCacheKey(strategy.ID), strategy.Payload, 0)
	return strategy, nil
}

func (s *Store) ListCampaignStrategies(ctx context.Context, find *FindCampaignStrategy) ([]*CampaignStrategy, error) {
	return s.driver.ListCampaignStrategies(ctx, find)
}

// GetCampaignStrategyPayload returns the serialized strategy, reading through the cache.
// It returns nil, nil when no strategy has the id.
func (s *Store) GetCampaignStrategyPayload(ctx context.Context, id string) ([]byte, error) {
	if payload, ok := s.strategyCache.Get(strategyCacheKey(id)); ok {
		return payload, nil
	}
	list, err := s.driver.ListCampaignStrategies(ctx, &FindCampaignStrategy{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.strategyCache.Set(strategyCacheKey(id), list[0].Payload, 0)
	return list[0].Payload, nil
}

func (s *Store) UpsertWinningConfig(ctx context.Context, upsert *WinningConfig) (*WinningConfig, error) {
	return s.driver.UpsertWinningConfig(ctx, upsert)
}

func (s *Store) ListWinningConfigs(ctx context.Context, find *FindWinningConfig) ([]*WinningConfig, error) {
	return s.driver.ListWinningConfigs(ctx, find)
}

func strategyCacheKey(id string) string {
	return "strategy:" + id
}
