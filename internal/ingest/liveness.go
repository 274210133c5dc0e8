package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/rules"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/internal/telemetry"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// Sweeper runs the periodic background passes: deferred alert resolutions
// mature, idle entities go offline and the per-status entity gauge is
// refreshed. One sweeper per process.
type Sweeper struct {
	coord    *Coordinator
	engine   *rules.Engine
	entities store.EntityStore
	metrics  *telemetry.Metrics
	logger   *zap.Logger

	interval     time.Duration
	offlineAfter time.Duration
}

// NewSweeper builds a sweeper. interval is how often it wakes up,
// offlineAfter is the silence threshold before an entity is marked offline.
func NewSweeper(
	coord *Coordinator,
	engine *rules.Engine,
	entities store.EntityStore,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
	interval time.Duration,
	offlineAfter time.Duration,
) *Sweeper {
	return &Sweeper{
		coord:        coord,
		engine:       engine,
		entities:     entities,
		metrics:      metrics,
		logger:       logger,
		interval:     interval,
		offlineAfter: offlineAfter,
	}
}

// Run sweeps on a ticker until the context is canceled. Meant to run in its
// own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("liveness sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("offline_after", s.offlineAfter))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("liveness sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

// SweepOnce executes a single pass at the given time. Exported so tests and
// operators can drive it directly.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	s.matureResolutions(ctx, now)
	s.markIdleOffline(ctx, now)
	s.refreshGauge(ctx)
}

func (s *Sweeper) matureResolutions(ctx context.Context, now time.Time) {
	matured := s.engine.SweepPending(ctx, now)
	if len(matured) == 0 {
		return
	}
	s.coord.PublishTransitions(matured)
	seen := make(map[string]struct{}, len(matured))
	for _, tr := range matured {
		if _, ok := seen[tr.Alert.EntityID]; ok {
			continue
		}
		seen[tr.Alert.EntityID] = struct{}{}
		s.coord.RefreshStatus(ctx, tr.Alert.EntityID)
	}
	s.logger.Info("deferred resolutions matured", zap.Int("count", len(matured)))
}

func (s *Sweeper) markIdleOffline(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.offlineAfter)
	entities, _, err := s.entities.List(ctx, store.EntityFilter{})
	if err != nil {
		s.logger.Error("listing entities for liveness sweep failed", zap.Error(err))
		return
	}
	for _, entity := range entities {
		if entity.LastSeen == nil || entity.LastSeen.After(cutoff) {
			continue
		}
		switch entity.Status {
		case models.StatusOffline, models.StatusUnreachable:
			continue
		}
		changed, err := s.coord.MarkOffline(ctx, entity.ID, cutoff)
		if err != nil {
			s.logger.Error("marking entity offline failed",
				zap.String("entity", entity.ID), zap.Error(err))
			continue
		}
		if changed {
			s.logger.Info("entity went offline",
				zap.String("entity", entity.ID),
				zap.Timep("last_seen", entity.LastSeen))
		}
	}
}

func (s *Sweeper) refreshGauge(ctx context.Context) {
	counts, err := s.entities.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("counting entities by status failed", zap.Error(err))
		return
	}
	s.metrics.SetEntityCounts(counts)
}
