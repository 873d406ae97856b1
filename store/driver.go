package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// ExecutionRecord model related methods.
	CreateExecutionRecord(ctx context.Context, create *ExecutionRecord) (*ExecutionRecord, error)
	ListExecutionRecords(ctx context.Context, find *FindExecutionRecord) ([]*ExecutionRecord, error)
	UpdateExecutionRecord(ctx context.Context, update *UpdateExecutionRecord) error
	DeleteExecutionRecords(ctx context.Context, delete *DeleteExecutionRecords) (int64, error)

	// Experiment model related methods.
	UpsertExperiment(ctx context.Context, upsert *Experiment) (*Experiment, error)
	ListExperiments(ctx context.Context, find *FindExperiment) ([]*Experiment, error)

	// CampaignStrategy model related methods.
	UpsertCampaignStrategy(ctx context.Context, upsert *CampaignStrategy) (*CampaignStrategy, error)
	ListCampaignStrategies(ctx context.Context, find *FindCampaignStrategy) ([]*CampaignStrategy, error)

	// WinningConfig model related methods.
	UpsertWinningConfig(ctx context.Context, upsert *WinningConfig) (*WinningConfig, error)
	ListWinningConfigs(ctx context.Context, find *FindWinningConfig) ([]*WinningConfig, error)
}
