package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/store"
)

// MaxWindowDays bounds a metrics window; longer windows exceed any retention.
const MaxWindowDays = 3650

// Config configures a Ledger.
type Config struct {
	Retry   retry.Policy
	Metrics *observability.Metrics
	Logger  *slog.Logger
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Ledger records agent executions and aggregates them into metric windows.
type Ledger struct {
	records RecordStore
	policy  retry.Policy
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	population singleflight.Group
	degraded   rate.Sometimes
}

// New creates a ledger over a record store.
func New(records RecordStore, cfg Config) *Ledger {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		records:  records,
		policy:   cfg.Retry,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		degraded: rate.Sometimes{Interval: time.Minute},
	}
}

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// Append validates and stores one execution record.
func (l *Ledger) Append(ctx context.Context, req *AppendRequest) (*store.ExecutionRecord, error) {
	if err := validateAppend(req); err != nil {
		return nil, err
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	record := &store.ExecutionRecord{
		AgentID:         req.AgentID,
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		Input:           req.Input,
		Output:          req.Output,
		Metadata:        req.Metadata,
		CreatedTs:       ts.UTC().Truncate(time.Millisecond),
		TokensUsed:      req.TokensUsed,
		Cost:            req.Cost,
		ExecutionTimeMs: req.ExecutionTimeMs,
		Success:         success,
		ErrorMessage:    req.ErrorMessage,
		QualityScore:    req.QualityScore,
	}

	// Inserts are not idempotent: one attempt only.
	created, err := retry.Do(ctx, l.policy.Once(), "ledger.append", func(ctx context.Context) (*store.ExecutionRecord, error) {
		return l.records.CreateExecutionRecord(ctx, record)
	})
	if err != nil {
		return nil, dependencyError("append execution record", err)
	}
	l.metrics.RecordAppend(created.AgentID)
	return created, nil
}

func validateAppend(req *AppendRequest) error {
	if req == nil {
		return engineerrors.InvalidArgument("record", "record is required")
	}
	if req.AgentID == "" {
		return engineerrors.InvalidArgument("agent_id", "agent id is required")
	}
	if req.SessionID == "" {
		return engineerrors.InvalidArgument("session_id", "session id is required")
	}
	if req.TokensUsed < 0 {
		return engineerrors.InvalidArgument("tokens_used", "must not be negative")
	}
	if req.Cost < 0 || math.IsNaN(req.Cost) || math.IsInf(req.Cost, 0) {
		return engineerrors.InvalidArgument("cost", "must be a non-negative number")
	}
	if req.ExecutionTimeMs < 0 {
		return engineerrors.InvalidArgument("execution_time_ms", "must not be negative")
	}
	if req.QualityScore != nil {
		if err := validateScore(*req.QualityScore); err != nil {
			return err
		}
	}
	for field, blob := range map[string]json.RawMessage{"input": req.Input, "output": req.Output, "metadata": req.Metadata} {
		if len(blob) > 0 && !json.Valid(blob) {
			return engineerrors.InvalidArgument(field, "must be valid JSON")
		}
	}
	return nil
}

func validateScore(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 100 {
		return engineerrors.InvalidArgument("quality_score", "must be between 0 and 100")
	}
	return nil
}

// Query returns the records matching the filter, ordered by the sort field and then by id.
func (l *Ledger) Query(ctx context.Context, filter *Filter) ([]*store.ExecutionRecord, error) {
	if filter == nil {
		filter = &Filter{}
	}
	find, err := filter.toFind()
	if err != nil {
		return nil, err
	}

	list, err := retry.Do(ctx, l.policy, "ledger.query", func(ctx context.Context) ([]*store.ExecutionRecord, error) {
		return l.records.ListExecutionRecords(ctx, find)
	})
	if err != nil {
		return nil, dependencyError("query execution records", err)
	}
	return list, nil
}

func (f *Filter) toFind() (*store.FindExecutionRecord, error) {
	if !f.SortBy.Valid() {
		return nil, engineerrors.InvalidArgument("sort_by", fmt.Sprintf("unknown sort field %q", f.SortBy))
	}
	if f.Limit < 0 {
		return nil, engineerrors.InvalidArgument("limit", "must not be negative")
	}
	if f.Offset < 0 {
		return nil, engineerrors.InvalidArgument("offset", "must not be negative")
	}
	if !f.Start.IsZero() && !f.End.IsZero() && !f.End.After(f.Start) {
		return nil, engineerrors.InvalidArgument("end", "must be after start")
	}

	find := &store.FindExecutionRecord{
		SuccessOnly: f.SuccessOnly,
		SortBy:      f.SortBy,
		SortDesc:    f.SortDesc,
		Limit:       f.Limit,
		Offset:      f.Offset,
	}
	if f.AgentID != "" {
		find.AgentID = &f.AgentID
	}
	if f.SessionID != "" {
		find.SessionID = &f.SessionID
	}
	if f.UserID != "" {
		find.UserID = &f.UserID
	}
	if !f.Start.IsZero() {
		start := f.Start.UTC()
		find.StartTime = &start
	}
	if !f.End.IsZero() {
		end := f.End.UTC()
		find.EndTime = &end
	}
	return find, nil
}

// Metrics builds the metrics window of one agent over the trailing windowDays.
func (l *Ledger) Metrics(ctx context.Context, agentID string, windowDays int) (*MetricsWindow, error) {
	if agentID == "" {
		return nil, engineerrors.InvalidArgument("agent_id", "agent id is required")
	}
	if err := validateWindow(windowDays); err != nil {
		return nil, err
	}

	now := l.now()
	start, end := windowBounds(now, windowDays)
	records, err := l.Query(ctx, &Filter{AgentID: agentID, Start: start, End: end})
	if err != nil {
		return nil, err
	}

	agg := newAggregator(agentID, windowDays, now)
	for _, r := range records {
		agg.add(r)
	}
	return agg.window(), nil
}

// PopulationMetrics builds one window for every agent seen in the trailing windowDays.
// Concurrent calls for the same window share one scan; a caller that gives up
// early does not cancel it for the others.
func (l *Ledger) PopulationMetrics(ctx context.Context, windowDays int) (map[string]*MetricsWindow, error) {
	if err := validateWindow(windowDays); err != nil {
		return nil, err
	}

	// The shared scan outlives any single caller's cancellation.
	scan := l.population.DoChan(fmt.Sprintf("population:%d", windowDays), func() (any, error) {
		return l.scanPopulation(context.WithoutCancel(ctx), windowDays)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-scan:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	shared := res.Val.(map[string]*MetricsWindow)

	// Callers own their map; windows themselves are treated as read-only.
	population := make(map[string]*MetricsWindow, len(shared))
	for agentID, m := range shared {
		population[agentID] = m
	}
	return population, nil
}

func (l *Ledger) scanPopulation(ctx context.Context, windowDays int) (map[string]*MetricsWindow, error) {
	now := l.now()
	start, end := windowBounds(now, windowDays)
	records, err := l.Query(ctx, &Filter{Start: start, End: end})
	if err != nil {
		return nil, err
	}

	aggs := make(map[string]*aggregator)
	for _, r := range records {
		agg, ok := aggs[r.AgentID]
		if !ok {
			agg = newAggregator(r.AgentID, windowDays, now)
			aggs[r.AgentID] = agg
		}
		agg.add(r)
	}

	population := make(map[string]*MetricsWindow, len(aggs))
	for agentID, agg := range aggs {
		population[agentID] = agg.window()
	}
	return population, nil
}

// MetricsOrEmpty is Metrics for read-only aggregation paths: a store failure
// yields a zero-filled window and a rate-limited warning.
func (l *Ledger) MetricsOrEmpty(ctx context.Context, agentID string, windowDays int) *MetricsWindow {
	m, err := l.Metrics(ctx, agentID, windowDays)
	if err == nil {
		return m
	}
	l.warnDegraded(ctx, "metrics", err, slog.String("agent_id", agentID))
	return EmptyWindow(agentID, clampWindow(windowDays), l.now())
}

// PopulationMetricsOrEmpty is PopulationMetrics returning an empty population on failure.
func (l *Ledger) PopulationMetricsOrEmpty(ctx context.Context, windowDays int) map[string]*MetricsWindow {
	population, err := l.PopulationMetrics(ctx, windowDays)
	if err == nil {
		return population
	}
	l.warnDegraded(ctx, "population_metrics", err)
	return map[string]*MetricsWindow{}
}

func (l *Ledger) warnDegraded(ctx context.Context, operation string, err error, attrs ...slog.Attr) {
	l.metrics.RecordDegradedRead()
	l.degraded.Do(func() {
		attrs = append(attrs,
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		observability.LoggerFrom(ctx, l.logger).LogAttrs(ctx, slog.LevelWarn,
			"ledger read degraded to empty metrics", attrs...)
	})
}

// Purge deletes records older than olderThanDays and returns how many were removed.
func (l *Ledger) Purge(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, engineerrors.InvalidArgument("older_than_days", "must be positive")
	}

	cutoff := l.now().UTC().AddDate(0, 0, -olderThanDays)
	count, err := retry.Do(ctx, l.policy, "ledger.purge", func(ctx context.Context) (int64, error) {
		return l.records.DeleteExecutionRecords(ctx, &store.DeleteExecutionRecords{BeforeTime: &cutoff})
	})
	if err != nil {
		return 0, dependencyError("purge execution records", err)
	}
	l.logger.Info("purged execution records",
		slog.Int64("count", count),
		slog.Time("cutoff", cutoff),
	)
	return count, nil
}

// PatchScore attaches post-hoc feedback to a record. Metadata is replaced when non-nil.
func (l *Ledger) PatchScore(ctx context.Context, id int64, score float64, metadata json.RawMessage) error {
	if id <= 0 {
		return engineerrors.InvalidArgument("id", "must be positive")
	}
	if err := validateScore(score); err != nil {
		return err
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return engineerrors.InvalidArgument("metadata", "must be valid JSON")
	}

	err := retry.Exec(ctx, l.policy, "ledger.patch", func(ctx context.Context) error {
		return l.records.UpdateExecutionRecord(ctx, &store.UpdateExecutionRecord{
			ID:           id,
			QualityScore: &score,
			Metadata:     metadata,
		})
	})
	if err != nil {
		return dependencyError("patch execution record", err)
	}
	return nil
}

// Agents returns the ids of agents with records in the trailing window, sorted.
func (l *Ledger) Agents(ctx context.Context, windowDays int) ([]string, error) {
	population, err := l.PopulationMetrics(ctx, windowDays)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(population))
	for id := range population {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func validateWindow(windowDays int) error {
	if windowDays <= 0 || windowDays > MaxWindowDays {
		return engineerrors.InvalidArgument("window_days", fmt.Sprintf("must be between 1 and %d", MaxWindowDays))
	}
	return nil
}

func clampWindow(windowDays int) int {
	if windowDays <= 0 {
		return 1
	}
	if windowDays > MaxWindowDays {
		return MaxWindowDays
	}
	return windowDays
}

// dependencyError maps a store failure to DependencyUnavailable, keeping
// errors that already carry a specific code.
func dependencyError(msg string, err error) error {
	if engineerrors.GetCodeFromError(err, "") != "" {
		return err
	}
	return engineerrors.DependencyUnavailable(msg, err)
}

var _ Reader = (*Ledger)(nil)
