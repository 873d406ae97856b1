package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/store"
)

// DeclareWinner freezes a conclusive experiment and stores the winning
// configuration for future planning. It fails with NO_CLEAR_WINNER unless the
// result is significant, both arms reached the minimum sample size and the
// best variant with the minimum sample size beats its baseline significantly.
func (e *Engine) DeclareWinner(ctx context.Context, id string) (*Experiment, error) {
	var winner *store.WinningConfig
	exp, err := e.mutate(ctx, id, func(exp *Experiment, now time.Time) error {
		switch exp.Status {
		case StatusRunning, StatusPaused, StatusCompleted:
		default:
			return transitionError(exp, StatusWinnerDeclared)
		}
		exp.Results = evaluate(exp, now)
		w, err := e.declare(ctx, exp, now)
		if err != nil {
			return err
		}
		winner = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(exp, winner)
	return exp, nil
}

// declare marks the winner and, with three or more variants, the loser, then
// stores the winning configuration. exp.Results must be current.
func (e *Engine) declare(ctx context.Context, exp *Experiment, now time.Time) (*store.WinningConfig, error) {
	r := exp.Results
	switch {
	case r == nil:
		return nil, engineerrors.NoClearWinner("no results yet")
	case !r.IsSignificant:
		return nil, engineerrors.NoClearWinner(fmt.Sprintf("difference is not significant (p=%.4f)", r.PValue)).
			WithContext("p_value", r.PValue)
	case !r.SampleSizeReached:
		return nil, engineerrors.NoClearWinner(fmt.Sprintf("minimum sample size %d not reached", exp.Config.MinSampleSize)).
			WithContext("min_sample_size", exp.Config.MinSampleSize)
	case r.LeaderID == "":
		return nil, engineerrors.NoClearWinner("no variant with the minimum sample size leads significantly")
	}

	c := findContender(exp)
	metric := exp.Config.PrimaryMetric
	best := &exp.Variants[c.order[0]]
	best.Status = VariantWinner
	if len(c.order) >= 3 {
		exp.Variants[c.order[len(c.order)-1]].Status = VariantLoser
	}
	baseline := exp.Variants[c.baseline]
	improvement := lift(best.Metrics.Value(metric), baseline.Metrics.Value(metric))

	exp.Status = StatusWinnerDeclared
	exp.WinnerID = best.ID
	exp.EndedAt = &now
	exp.Insights = insights(exp, best, &baseline, c.test, improvement)

	config, err := json.Marshal(best.Config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal variant config")
	}
	if best.Config == nil {
		config = []byte("{}")
	}
	insightsJSON, err := json.Marshal(exp.Insights)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal insights")
	}

	w, err := retry.Do(ctx, e.policy, "experiment.winner", func(ctx context.Context) (*store.WinningConfig, error) {
		return e.store.UpsertWinningConfig(ctx, &store.WinningConfig{
			ExperimentID:  exp.ID,
			CampaignID:    exp.CampaignID,
			AgentID:       best.AgentID,
			VariantID:     best.ID,
			PrimaryMetric: string(metric),
			Lift:          improvement,
			Confidence:    1 - c.test.PValue,
			Config:        config,
			Insights:      insightsJSON,
			CreatedTs:     now,
		})
	})
	if err != nil {
		return nil, engineerrors.DependencyUnavailable("save winning config", err)
	}
	return w, nil
}

func insights(exp *Experiment, best, baseline *Variant, test Significance, improvement float64) []string {
	metric := exp.Config.PrimaryMetric
	out := []string{
		fmt.Sprintf("%s beat %s on %s by %.1f%% (%.4f vs %.4f)",
			best.Name, baseline.Name, metric, improvement,
			best.Metrics.Value(metric), baseline.Metrics.Value(metric)),
		fmt.Sprintf("p-value %.4f at %.0f%% confidence; difference interval [%.4f, %.4f]",
			test.PValue, exp.Config.ConfidenceLevel*100, test.ConfidenceInterval.Lower, test.ConfidenceInterval.Upper),
	}
	for _, v := range exp.Variants {
		if v.Status == VariantLoser {
			out = append(out, fmt.Sprintf("%s performed worst on %s (%.4f)", v.Name, metric, v.Metrics.Value(metric)))
		}
	}
	if best.AgentID != "" {
		out = append(out, fmt.Sprintf("prefer agent %s for similar campaigns", best.AgentID))
	}
	return out
}

func (e *Engine) announce(exp *Experiment, w *store.WinningConfig) {
	e.metrics.RecordWinner()
	e.logger.Info("experiment winner declared",
		slog.String("experiment_id", exp.ID),
		slog.String("variant_id", w.VariantID),
		slog.Float64("lift", w.Lift),
		slog.Float64("p_value", exp.Results.PValue),
	)
}
