package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration the decision engine is constructed from.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Data is the data directory
	Data string
	// DSN points to where campaignpilot stores execution records, strategies and experiments
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of the engine
	Version string

	// Ledger configuration
	MetricsWindowDays  int           // CAMPAIGNPILOT_METRICS_WINDOW_DAYS (default: 30)
	PlanningWindowDays int           // CAMPAIGNPILOT_PLANNING_WINDOW_DAYS (default: 90)
	RetentionDays      int           // CAMPAIGNPILOT_RETENTION_DAYS (default: 180)
	RetentionInterval  time.Duration // CAMPAIGNPILOT_RETENTION_INTERVAL (default: 24h)

	// Retry policy applied at the record-store boundary
	RetryMaxAttempts uint          // CAMPAIGNPILOT_RETRY_MAX_ATTEMPTS (default: 3)
	RetryBaseDelay   time.Duration // CAMPAIGNPILOT_RETRY_BASE_DELAY (default: 100ms)
	RetryTimeout     time.Duration // CAMPAIGNPILOT_RETRY_TIMEOUT (default: 10s)

	// Planner and experiment configuration
	MaxActions          int           // CAMPAIGNPILOT_MAX_ACTIONS (default: 10)
	HealthCacheTTL      time.Duration // CAMPAIGNPILOT_HEALTH_CACHE_TTL (default: 5m)
	ExperimentTickEvery time.Duration // CAMPAIGNPILOT_EXPERIMENT_TICK (default: 5m)

	// Tracing
	OTelEndpoint string // CAMPAIGNPILOT_OTEL_ENDPOINT (default: "", tracing disabled)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid integer env value", slog.String("key", key), slog.String("value", raw))
		return defaultValue
	}
	return v
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring invalid duration env value", slog.String("key", key), slog.String("value", raw))
		return defaultValue
	}
	return v
}

// FromEnv loads configuration from CAMPAIGNPILOT_* environment variables.
// Values already set on the profile are only overwritten when the variable is present.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("CAMPAIGNPILOT_MODE", orDefault(p.Mode, "dev"))
	p.Driver = getEnvOrDefault("CAMPAIGNPILOT_DRIVER", orDefault(p.Driver, "sqlite"))
	p.DSN = getEnvOrDefault("CAMPAIGNPILOT_DSN", p.DSN)
	p.Data = getEnvOrDefault("CAMPAIGNPILOT_DATA", p.Data)

	p.MetricsWindowDays = getIntEnv("CAMPAIGNPILOT_METRICS_WINDOW_DAYS", orDefaultInt(p.MetricsWindowDays, 30))
	p.PlanningWindowDays = getIntEnv("CAMPAIGNPILOT_PLANNING_WINDOW_DAYS", orDefaultInt(p.PlanningWindowDays, 90))
	p.RetentionDays = getIntEnv("CAMPAIGNPILOT_RETENTION_DAYS", orDefaultInt(p.RetentionDays, 180))
	p.RetentionInterval = getDurationEnv("CAMPAIGNPILOT_RETENTION_INTERVAL", orDefaultDuration(p.RetentionInterval, 24*time.Hour))

	p.RetryMaxAttempts = uint(getIntEnv("CAMPAIGNPILOT_RETRY_MAX_ATTEMPTS", orDefaultInt(int(p.RetryMaxAttempts), 3)))
	p.RetryBaseDelay = getDurationEnv("CAMPAIGNPILOT_RETRY_BASE_DELAY", orDefaultDuration(p.RetryBaseDelay, 100*time.Millisecond))
	p.RetryTimeout = getDurationEnv("CAMPAIGNPILOT_RETRY_TIMEOUT", orDefaultDuration(p.RetryTimeout, 10*time.Second))

	p.MaxActions = getIntEnv("CAMPAIGNPILOT_MAX_ACTIONS", orDefaultInt(p.MaxActions, 10))
	p.HealthCacheTTL = getDurationEnv("CAMPAIGNPILOT_HEALTH_CACHE_TTL", orDefaultDuration(p.HealthCacheTTL, 5*time.Minute))
	p.ExperimentTickEvery = getDurationEnv("CAMPAIGNPILOT_EXPERIMENT_TICK", orDefaultDuration(p.ExperimentTickEvery, 5*time.Minute))

	p.OTelEndpoint = getEnvOrDefault("CAMPAIGNPILOT_OTEL_ENDPOINT", p.OTelEndpoint)
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func orDefaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func orDefaultDuration(v, d time.Duration) time.Duration {
	if v == 0 {
		return d
	}
	return v
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported driver %q: only 'postgres' and 'sqlite' are supported", p.Driver)
	}

	if p.MetricsWindowDays <= 0 || p.PlanningWindowDays <= 0 {
		return errors.New("metrics and planning windows must be positive")
	}
	if p.RetentionDays > 0 && p.RetentionDays < p.PlanningWindowDays {
		return errors.Errorf("retention of %d days would purge records inside the %d-day planning window", p.RetentionDays, p.PlanningWindowDays)
	}
	if p.MaxActions <= 0 {
		return errors.New("max actions must be positive")
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("campaignpilot_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	return nil
}
