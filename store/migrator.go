package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

// Migration System Overview:
//
// Migration files live in store/migration/{driver}/{version}__{description}.sql
// where version is a semantic version such as "v0.2.0". Applied versions are
// recorded in schema_migrations; Migrate applies every file whose version is
// greater than the highest recorded one, in semver order, each file in its own
// transaction.

//go:embed migration
var migrationFS embed.FS

const (
	// MigrateFileNameSplit is the split between the version and the description in a migration file name.
	MigrateFileNameSplit = "__"

	migrationTable = "schema_migrations"
)

// Migration is one embedded migration file.
type Migration struct {
	Version string
	Path    string
}

// Migrate migrates the database schema to the latest version.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.driver.GetDB()
	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (version TEXT PRIMARY KEY, applied_ts BIGINT NOT NULL)", migrationTable,
	)); err != nil {
		return errors.Wrap(err, "failed to ensure migration table")
	}

	current, err := s.GetCurrentSchemaVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}

	migrations, err := ListMigrations(s.profile.Driver)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		if current != "" && semver.Compare(m.Version, current) <= 0 {
			continue
		}
		slog.Info("applying migration", slog.String("file", m.Path), slog.String("version", m.Version))
		if err := s.applyMigration(ctx, m); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s", m.Path)
		}
		applied++
	}

	if applied > 0 {
		slog.Info("migration completed", slog.Int("migrationsApplied", applied))
	}
	return nil
}

// GetCurrentSchemaVersion returns the highest applied schema version, or "" for a fresh database.
func (s *Store) GetCurrentSchemaVersion(ctx context.Context) (string, error) {
	rows, err := s.driver.GetDB().QueryContext(ctx, "SELECT version FROM "+migrationTable)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	current := ""
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		if current == "" || semver.Compare(v, current) > 0 {
			current = v
		}
	}
	return current, rows.Err()
}

// ListMigrations returns the embedded migrations for a driver in version order.
func ListMigrations(driver string) ([]Migration, error) {
	paths, err := fs.Glob(migrationFS, fmt.Sprintf("migration/%s/*.sql", driver))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migration files")
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no migrations for driver %q", driver)
	}

	migrations := make([]Migration, 0, len(paths))
	for _, p := range paths {
		version, err := versionOfMigrationFile(path.Base(p))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: version, Path: p})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return semver.Compare(migrations[i].Version, migrations[j].Version) < 0
	})
	return migrations, nil
}

// versionOfMigrationFile extracts the semantic version from "v0.1.0__description.sql".
func versionOfMigrationFile(filename string) (string, error) {
	if !strings.Contains(filename, MigrateFileNameSplit) {
		return "", errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, filename)
	}
	version := strings.SplitN(filename, MigrateFileNameSplit, 2)[0]
	if !semver.IsValid(version) {
		return "", errors.Errorf("migration filename must start with a semantic version: %s", filename)
	}
	return semver.Canonical(version), nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	bytes, err := migrationFS.ReadFile(m.Path)
	if err != nil {
		return errors.Wrapf(err, "failed to read migration file: %s", m.Path)
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	if err := execute(ctx, tx, string(bytes)); err != nil {
		return err
	}

	insert := fmt.Sprintf("INSERT INTO %s (version, applied_ts) VALUES (?, ?)", migrationTable)
	if s.profile.Driver == "postgres" {
		insert = fmt.Sprintf("INSERT INTO %s (version, applied_ts) VALUES ($1, $2)", migrationTable)
	}
	if _, err := tx.ExecContext(ctx, insert, m.Version, time.Now().UnixMilli()); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	return tx.Commit()
}

// execute runs each statement of a migration script separately; neither
// driver is relied on to accept multiple statements per call.
func execute(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a script on statement-terminating semicolons, dropping
// comment-only lines. Migration scripts do not contain semicolons inside literals.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
			statements = append(statements, stmt)
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}
