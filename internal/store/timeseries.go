package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// TimeSeries fronts a SnapshotBackend with the semantics callers depend on:
//
//   - Append is idempotent per (entity, timestamp): re-appending overwrites
//     the stored snapshot instead of duplicating it.
//   - Latest answers from an in-memory cache that only ever advances; an
//     append carrying an older timestamp lands in history without moving it.
//   - Query clamps pagination to the configured bounds and returns newest
//     first.
//
// Writers for distinct entities never contend beyond the short critical
// section guarding the cache map.
type TimeSeries struct {
	backend SnapshotBackend
	logger  *zap.Logger

	defaultPageSize int
	maxPageSize     int

	mu     sync.RWMutex
	latest map[string]models.MetricSnapshot
}

// NewTimeSeries wraps a backend. Page size bounds of zero fall back to
// 50/500.
func NewTimeSeries(backend SnapshotBackend, logger *zap.Logger, defaultPageSize, maxPageSize int) *TimeSeries {
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	if maxPageSize <= 0 {
		maxPageSize = 500
	}
	return &TimeSeries{
		backend:         backend,
		logger:          logger,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		latest:          make(map[string]models.MetricSnapshot),
	}
}

// WarmLatest seeds the latest cache from persisted history. Called once at
// boot, before any appends.
func (ts *TimeSeries) WarmLatest(ctx context.Context) error {
	snaps, err := ts.backend.LatestPerEntity(ctx)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	for _, snap := range snaps {
		ts.latest[snap.EntityID] = snap
	}
	ts.mu.Unlock()
	if len(snaps) > 0 {
		ts.logger.Info("warmed latest-snapshot cache", zap.Int("entities", len(snaps)))
	}
	return nil
}

// Append persists the snapshot. A snapshot with the same (entity, timestamp)
// as an existing one replaces it. The latest cache moves only when the new
// timestamp is not older than the cached one, so late-arriving history never
// rolls Latest backwards.
func (ts *TimeSeries) Append(ctx context.Context, snap models.MetricSnapshot) error {
	if err := ts.backend.Upsert(ctx, snap); err != nil {
		return errs.NewTransient("append snapshot", err)
	}

	ts.mu.Lock()
	cur, ok := ts.latest[snap.EntityID]
	if !ok || !snap.Timestamp.Before(cur.Timestamp) {
		ts.latest[snap.EntityID] = snap
	}
	ts.mu.Unlock()
	return nil
}

// Latest returns the most recent snapshot for the entity. The second return
// is false when the entity has never reported.
func (ts *TimeSeries) Latest(entityID string) (models.MetricSnapshot, bool) {
	ts.mu.RLock()
	snap, ok := ts.latest[entityID]
	ts.mu.RUnlock()
	if !ok {
		return models.MetricSnapshot{}, false
	}
	return snap.Clone(), true
}

// LatestAll returns the cached latest snapshot of every entity that has
// reported at least once.
func (ts *TimeSeries) LatestAll() []models.MetricSnapshot {
	ts.mu.RLock()
	out := make([]models.MetricSnapshot, 0, len(ts.latest))
	for _, snap := range ts.latest {
		out = append(out, snap.Clone())
	}
	ts.mu.RUnlock()
	return out
}

// Query pages through history, newest first. Page values below 1 become 1;
// size values of zero or less take the default and anything above the
// maximum is clamped to it. The returned total counts all matches, not just
// the page.
func (ts *TimeSeries) Query(ctx context.Context, f SnapshotFilter) ([]models.MetricSnapshot, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size <= 0 {
		f.Size = ts.defaultPageSize
	}
	if f.Size > ts.maxPageSize {
		f.Size = ts.maxPageSize
	}
	snaps, total, err := ts.backend.Query(ctx, f)
	if err != nil {
		return nil, 0, errs.NewTransient("query snapshots", err)
	}
	return snaps, total, nil
}

// DeleteBefore removes history older than the cutoff and drops cache
// entries that now point at deleted snapshots.
func (ts *TimeSeries) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := ts.backend.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	ts.mu.Lock()
	for id, snap := range ts.latest {
		if snap.Timestamp.Before(cutoff) {
			delete(ts.latest, id)
		}
	}
	ts.mu.Unlock()
	return removed, nil
}

// DeleteEntity removes the entity's history and cache entry. Used when an
// entity is deregistered.
func (ts *TimeSeries) DeleteEntity(ctx context.Context, entityID string) error {
	if err := ts.backend.DeleteEntity(ctx, entityID); err != nil {
		return err
	}
	ts.mu.Lock()
	delete(ts.latest, entityID)
	ts.mu.Unlock()
	return nil
}

// Count reports how many snapshots are persisted.
func (ts *TimeSeries) Count(ctx context.Context) (int64, error) {
	return ts.backend.Count(ctx)
}
