package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Retention prunes snapshot history older than the configured horizon on a
// cron schedule. Sweep failures are logged and retried on the next tick,
// never propagated.
type Retention struct {
	snapshots *TimeSeries
	logger    *zap.Logger
	days      int
	schedule  string
	cron      *cron.Cron
}

// NewRetention builds a sweeper; Start arms it.
func NewRetention(snapshots *TimeSeries, days int, schedule string, logger *zap.Logger) *Retention {
	return &Retention{
		snapshots: snapshots,
		logger:    logger,
		days:      days,
		schedule:  schedule,
	}
}

// Start registers the sweep with the cron scheduler and starts it.
func (r *Retention) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("retention sweeper started",
		zap.String("schedule", r.schedule),
		zap.Int("days", r.days))
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (r *Retention) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("retention sweeper stopped")
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("retention sweep removed snapshots", zap.Int64("removed", removed))
	}
}

// Sweep deletes snapshots older than the horizon and reports how many rows
// went away.
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.days)
	return r.snapshots.DeleteBefore(ctx, cutoff)
}
