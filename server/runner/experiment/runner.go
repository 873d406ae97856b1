package experiment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/campaignpilot/plugin/experiment"
)

// DefaultInterval is how often running experiments are re-evaluated.
const DefaultInterval = 5 * time.Minute

// Ticker runs one evaluation pass. *experiment.Engine satisfies it.
type Ticker interface {
	Tick(ctx context.Context) (*experiment.TickReport, error)
}

// Runner drives the periodic experiment evaluation.
type Runner struct {
	engine   Ticker
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates an experiment runner. A non-positive interval uses DefaultInterval.
func NewRunner(engine Ticker, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background loop. Calling Start on a started runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		r.Run(ctx)
	}(r.done)
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run evaluates on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	// Evaluate once on startup
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("experiment runner stopped")
			return
		}
	}
}

// RunOnce runs a single evaluation pass (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	report, err := r.engine.Tick(ctx)
	if err != nil {
		r.logger.Error("experiment evaluation failed", "error", err)
		return
	}
	if report.Skipped {
		r.logger.Debug("experiment evaluation skipped, previous pass still running")
		return
	}
	if report.Stopped > 0 || report.Declared > 0 || report.Failed > 0 {
		r.logger.Info("experiments evaluated",
			"evaluated", report.Evaluated,
			"stopped", report.Stopped,
			"declared", report.Declared,
			"failed", report.Failed,
		)
	}
}
