package test

import (
	"context"
	"os"
	"testing"

	"github.com/hrygo/campaignpilot/internal/profile"
	"github.com/hrygo/campaignpilot/store"
	"github.com/hrygo/campaignpilot/store/db"
)

// NewTestingStore returns a migrated store backed by a private in-memory
// SQLite database. It is closed when the test ends.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	return newStore(ctx, t, &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    ":memory:",
	})
}

// NewTestingStoreForDriver returns a migrated store for the named driver.
// Postgres tests are skipped unless POSTGRES_TEST_DSN points at a database.
func NewTestingStoreForDriver(ctx context.Context, t *testing.T, driver string) *store.Store {
	t.Helper()
	if driver == "sqlite" {
		return NewTestingStore(ctx, t)
	}
	return newStore(ctx, t, &profile.Profile{
		Mode:   "dev",
		Driver: "postgres",
		DSN:    GetPostgresDSN(t),
	})
}

// GetPostgresDSN returns the DSN for PostgreSQL testing, or skips the test.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	return dsn
}

func newStore(ctx context.Context, t *testing.T, prof *profile.Profile) *store.Store {
	t.Helper()
	driver, err := db.NewDBDriver(prof)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	s := store.New(driver, prof)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if prof.Driver == "postgres" {
		resetPostgres(ctx, t, s)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func resetPostgres(ctx context.Context, t *testing.T, s *store.Store) {
	t.Helper()
	if _, err := s.GetDriver().GetDB().ExecContext(ctx,
		"TRUNCATE execution_record, experiment, campaign_strategy, winning_config RESTART IDENTITY"); err != nil {
		t.Fatalf("failed to reset postgres tables: %v", err)
	}
}
