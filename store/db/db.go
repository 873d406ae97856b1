package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/campaignpilot/internal/profile"
	"github.com/hrygo/campaignpilot/store"
	"github.com/hrygo/campaignpilot/store/db/postgres"
	"github.com/hrygo/campaignpilot/store/db/sqlite"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// PostgreSQL: shared record store for multi-instance deployments.
// SQLite: single instance deployments, local runs and tests.
//
// Both drivers implement the full store.Driver surface and share the
// migration layout under store/migration/{driver}.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
