package postgres

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/campaignpilot/internal/profile"
	"github.com/hrygo/campaignpilot/store"
)

// ============================================================================
// POSTGRESQL SUPPORT (Shared record store)
// ============================================================================
// PostgreSQL backs deployments where several engine instances append to and
// read from one execution ledger. Payload columns are JSONB; timestamps are
// BIGINT UTC unix milliseconds, same as SQLite.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		slog.Error("failed to open database", slog.Any("error", err))
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Appends are short single-row writes; a small pool is enough.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
