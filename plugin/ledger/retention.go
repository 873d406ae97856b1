package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RetentionConfig configures the retention loop.
type RetentionConfig struct {
	RetentionDays int           // Records older than this are purged (default: 180)
	Interval      time.Duration // How often to purge (default: 24 hours)
}

// DefaultRetentionConfig returns default retention configuration.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays: 180,
		Interval:      24 * time.Hour,
	}
}

// Retention periodically purges execution records past the retention age.
type Retention struct {
	ledger *Ledger
	cfg    RetentionConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetention creates a retention loop for the ledger.
func NewRetention(l *Ledger, cfg RetentionConfig) *Retention {
	d := DefaultRetentionConfig()
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = d.RetentionDays
	}
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	return &Retention{ledger: l, cfg: cfg}
}

// Start runs one purge immediately and then one per interval until Stop.
// Calling Start on a running loop is a no-op.
func (r *Retention) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels the loop and waits for an in-flight purge to return.
func (r *Retention) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
}

// RunOnce performs a single purge.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	return r.ledger.Purge(ctx, r.cfg.RetentionDays)
}

func (r *Retention) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.purge(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.purge(ctx)
		}
	}
}

func (r *Retention) purge(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		slog.Error("execution record retention failed",
			"retention_days", r.cfg.RetentionDays,
			"error", err,
		)
	}
}
