package experiment

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/observability"
	"github.com/hrygo/campaignpilot/store"
)

// Tick recomputes the results of every running experiment and stops those
// that ran past their maximum duration. Only one pass runs at a time; a call
// made while another pass is in flight returns a skipped report.
func (e *Engine) Tick(ctx context.Context) (*TickReport, error) {
	if !e.ticking.CompareAndSwap(false, true) {
		e.metrics.RecordTick(true)
		return &TickReport{Skipped: true}, nil
	}
	defer e.ticking.Store(false)
	e.metrics.RecordTick(false)

	ctx, span := observability.Tracer().Start(ctx, "experiment.Tick")
	defer span.End()

	running, err := e.List(ctx, "", StatusRunning)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &TickReport{}
	for _, exp := range running {
		if ctx.Err() != nil {
			break
		}
		stopped, declared, err := e.evaluateRunning(ctx, exp.ID)
		if err != nil {
			report.Failed++
			e.logger.Warn("experiment evaluation failed",
				slog.String("experiment_id", exp.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Evaluated++
		if stopped {
			report.Stopped++
		}
		if declared {
			report.Declared++
		}
	}
	span.SetAttributes(
		attribute.Int("experiments.evaluated", report.Evaluated),
		attribute.Int("experiments.stopped", report.Stopped),
	)
	return report, nil
}

func (e *Engine) evaluateRunning(ctx context.Context, id string) (stopped, declared bool, err error) {
	var winner *store.WinningConfig
	exp, err := e.mutate(ctx, id, func(exp *Experiment, now time.Time) error {
		// The experiment may have changed since the running list was taken.
		if exp.Status != StatusRunning {
			return errSkip
		}
		exp.Results = evaluate(exp, now)
		if exp.Config.AutoWinner && exp.Results.Recommendation == RecommendDeclareWinner {
			w, err := e.declare(ctx, exp, now)
			if err != nil {
				return err
			}
			winner = w
			return nil
		}
		if exp.StartedAt != nil && now.Sub(*exp.StartedAt) > exp.Config.MaxDuration() {
			complete(exp, now)
			stopped = true
		}
		return nil
	})
	if err == errSkip {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if winner != nil {
		e.announce(exp, winner)
		return false, true, nil
	}
	if stopped {
		e.logger.Info("experiment stopped after max duration",
			slog.String("experiment_id", id),
			slog.Int("max_duration_days", exp.Config.MaxDurationDays),
		)
	}
	return stopped, false, nil
}

var errSkip = engineerrors.FailedPrecondition("experiment no longer running")
