package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

var baseTime = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

func newTestSeries(t *testing.T) *TimeSeries {
	t.Helper()
	return NewTimeSeries(NewMemorySnapshotBackend(), zap.NewNop(), 50, 500)
}

func cpuSnap(entityID string, ts time.Time, percent float64) models.MetricSnapshot {
	return models.MetricSnapshot{
		EntityID:  entityID,
		Timestamp: ts,
		CPU:       &models.CPUMetrics{Percent: percent},
	}
}

func TestAppendOverwritesDuplicateTimestamp(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime, 10)))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime, 55)))

	count, err := ts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	snaps, total, err := ts.Query(ctx, SnapshotFilter{EntityID: "host:a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, snaps, 1)
	assert.Equal(t, 55.0, snaps[0].CPU.Percent)

	latest, ok := ts.Latest("host:a")
	require.True(t, ok)
	assert.Equal(t, 55.0, latest.CPU.Percent)
}

func TestLatestUnknownEntity(t *testing.T) {
	ts := newTestSeries(t)

	snap, ok := ts.Latest("host:never-reported")
	assert.False(t, ok)
	assert.Equal(t, models.MetricSnapshot{}, snap)
}

func TestLatestOnlyAdvances(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime, 80)))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime.Add(-time.Hour), 20)))

	latest, ok := ts.Latest("host:a")
	require.True(t, ok)
	assert.Equal(t, 80.0, latest.CPU.Percent, "older append must not roll the latest cache back")

	snaps, total, err := ts.Query(ctx, SnapshotFilter{EntityID: "host:a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, snaps, 2)
	assert.Equal(t, 80.0, snaps[0].CPU.Percent)
	assert.Equal(t, 20.0, snaps[1].CPU.Percent)
}

func TestQueryNewestFirstPaged(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime.Add(time.Duration(i)*time.Minute), float64(i))))
	}

	snaps, total, err := ts.Query(ctx, SnapshotFilter{EntityID: "host:a", Page: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, snaps, 2)
	assert.Equal(t, 4.0, snaps[0].CPU.Percent)
	assert.Equal(t, 3.0, snaps[1].CPU.Percent)

	snaps, _, err = ts.Query(ctx, SnapshotFilter{EntityID: "host:a", Page: 3, Size: 2})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 0.0, snaps[0].CPU.Percent)

	snaps, _, err = ts.Query(ctx, SnapshotFilter{EntityID: "host:a", Page: 4, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestQueryClampsPagination(t *testing.T) {
	ts := NewTimeSeries(NewMemorySnapshotBackend(), zap.NewNop(), 2, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime.Add(time.Duration(i)*time.Minute), float64(i))))
	}

	snaps, total, err := ts.Query(ctx, SnapshotFilter{EntityID: "host:a", Page: 1, Size: 999})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, snaps, 3, "size above the maximum is clamped to it")

	snaps, _, err = ts.Query(ctx, SnapshotFilter{EntityID: "host:a"})
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "zero size takes the default")

	snaps, _, err = ts.Query(ctx, SnapshotFilter{EntityID: "host:a", Page: -3, Size: 3})
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, 4.0, snaps[0].CPU.Percent, "page below 1 behaves as page 1")
}

func TestQueryFilters(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	withMem := cpuSnap("host:a", baseTime, 10)
	withMem.Memory = &models.MemoryMetrics{TotalBytes: 1024, UsedBytes: 512, Percent: 50}
	require.NoError(t, ts.Append(ctx, withMem))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime.Add(time.Minute), 20)))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:b", baseTime.Add(2*time.Minute), 30)))

	snaps, total, err := ts.Query(ctx, SnapshotFilter{Category: models.CategoryMemory})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, snaps, 1)
	assert.Equal(t, "host:a", snaps[0].EntityID)

	snaps, total, err = ts.Query(ctx, SnapshotFilter{
		Start: baseTime.Add(30 * time.Second),
		End:   baseTime.Add(90 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, snaps, 1)
	assert.Equal(t, 20.0, snaps[0].CPU.Percent)

	_, total, err = ts.Query(ctx, SnapshotFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestDeleteBeforePrunesHistoryAndCache(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	require.NoError(t, ts.Append(ctx, cpuSnap("host:stale", baseTime.AddDate(0, 0, -60), 10)))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:live", baseTime.AddDate(0, 0, -60), 10)))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:live", baseTime, 42)))

	removed, err := ts.DeleteBefore(ctx, baseTime.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, ok := ts.Latest("host:stale")
	assert.False(t, ok, "entities whose entire history aged out drop from the cache")

	latest, ok := ts.Latest("host:live")
	require.True(t, ok)
	assert.Equal(t, 42.0, latest.CPU.Percent)

	count, err := ts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteEntityRemovesHistoryAndCache(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", baseTime, 10)))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:b", baseTime, 20)))

	require.NoError(t, ts.DeleteEntity(ctx, "host:a"))

	_, ok := ts.Latest("host:a")
	assert.False(t, ok)
	_, total, err := ts.Query(ctx, SnapshotFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestWarmLatestSeedsCache(t *testing.T) {
	backend := NewMemorySnapshotBackend()
	ctx := context.Background()
	require.NoError(t, backend.Upsert(ctx, cpuSnap("host:a", baseTime.Add(-time.Hour), 10)))
	require.NoError(t, backend.Upsert(ctx, cpuSnap("host:a", baseTime, 90)))

	ts := NewTimeSeries(backend, zap.NewNop(), 50, 500)
	require.NoError(t, ts.WarmLatest(ctx))

	latest, ok := ts.Latest("host:a")
	require.True(t, ok)
	assert.Equal(t, 90.0, latest.CPU.Percent)
}

func TestConcurrentAppendDistinctEntities(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	const entities = 10
	const appends = 50

	var wg sync.WaitGroup
	for e := 0; e < entities; e++ {
		wg.Add(1)
		go func(e int) {
			defer wg.Done()
			id := fmt.Sprintf("host:%d", e)
			for i := 0; i < appends; i++ {
				snap := cpuSnap(id, baseTime.Add(time.Duration(i)*time.Second), float64(i))
				if err := ts.Append(ctx, snap); err != nil {
					t.Error(err)
					return
				}
			}
		}(e)
	}
	wg.Wait()

	count, err := ts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(entities*appends), count)

	for e := 0; e < entities; e++ {
		latest, ok := ts.Latest(fmt.Sprintf("host:%d", e))
		require.True(t, ok)
		assert.Equal(t, float64(appends-1), latest.CPU.Percent)
	}
}

func TestRetentionSweep(t *testing.T) {
	ts := newTestSeries(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -45)
	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", old, 10)))
	require.NoError(t, ts.Append(ctx, cpuSnap("host:a", time.Now().UTC(), 20)))

	retention := NewRetention(ts, 30, "@hourly", zap.NewNop())
	removed, err := retention.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := ts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEntityStoreCRUD(t *testing.T) {
	es := NewMemoryEntityStore()
	ctx := context.Background()

	entity := &models.Entity{
		ID:     "host:a",
		Kind:   models.KindHost,
		Name:   "nas",
		Labels: map[string]string{"room": "closet"},
		Status: models.StatusOnline,
	}
	require.NoError(t, es.Create(ctx, entity))
	assert.False(t, entity.CreatedAt.IsZero())

	err := es.Create(ctx, &models.Entity{ID: "host:a", Kind: models.KindHost})
	assert.True(t, errs.IsConflict(err))

	got, err := es.Get(ctx, "host:a")
	require.NoError(t, err)
	assert.Equal(t, "nas", got.Name)

	_, err = es.Get(ctx, "host:nope")
	assert.True(t, errs.IsNotFound(err))

	name := "nas-01"
	updated, err := es.UpdateInfo(ctx, "host:a", EntityUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "nas-01", updated.Name)
	assert.Equal(t, "closet", updated.Labels["room"], "labels survive a rename")

	seen := baseTime
	updated, err = es.SetStatus(ctx, "host:a", models.StatusWarning, &seen)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, updated.Status)
	require.NotNil(t, updated.LastSeen)
	assert.True(t, updated.LastSeen.Equal(baseTime))

	updated, err = es.SetStatus(ctx, "host:a", models.StatusOffline, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, updated.Status)
	require.NotNil(t, updated.LastSeen, "nil lastSeen keeps the stored value")

	require.NoError(t, es.Delete(ctx, "host:a"))
	assert.True(t, errs.IsNotFound(es.Delete(ctx, "host:a")))
}

func TestEntityStoreAPIKeyLookup(t *testing.T) {
	es := NewMemoryEntityStore()
	ctx := context.Background()

	require.NoError(t, es.Create(ctx, &models.Entity{ID: "host:a", Kind: models.KindHost}))
	require.NoError(t, es.SetAPIKeyHash(ctx, "host:a", "deadbeef"))

	got, err := es.FindByAPIKeyHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "host:a", got.ID)

	_, err = es.FindByAPIKeyHash(ctx, "unknown")
	assert.True(t, errs.IsNotFound(err))

	_, err = es.FindByAPIKeyHash(ctx, "")
	assert.True(t, errs.IsNotFound(err), "entities without a key never match the empty hash")
}

func TestEntityStoreListFilters(t *testing.T) {
	es := NewMemoryEntityStore()
	ctx := context.Background()

	for i, status := range []models.EntityStatus{models.StatusOnline, models.StatusOnline, models.StatusOffline} {
		require.NoError(t, es.Create(ctx, &models.Entity{
			ID:     fmt.Sprintf("host:%d", i),
			Kind:   models.KindHost,
			Status: status,
		}))
	}
	require.NoError(t, es.Create(ctx, &models.Entity{ID: "cluster:0", Kind: models.KindCluster, Status: models.StatusOnline}))

	all, total, err := es.List(ctx, EntityFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, all, 4)

	online, total, err := es.List(ctx, EntityFilter{Status: models.StatusOnline})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, online, 3)

	clusters, total, err := es.List(ctx, EntityFilter{Kind: models.KindCluster})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, clusters, 1)
	assert.Equal(t, "cluster:0", clusters[0].ID)

	counts, err := es.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.StatusOnline])
	assert.Equal(t, int64(1), counts[models.StatusOffline])
}

func TestRuleStoreActiveForEntity(t *testing.T) {
	rs := NewMemoryRuleStore()
	ctx := context.Background()

	mkRule := func(id, entityID string, enabled bool, created time.Time) *models.AlertRule {
		return &models.AlertRule{
			ID:        id,
			Name:      id,
			EntityID:  entityID,
			Metric:    "cpu.percent",
			Operator:  models.OpGreater,
			Threshold: 90,
			Severity:  models.SeverityWarning,
			Enabled:   enabled,
			CreatedAt: created,
		}
	}

	require.NoError(t, rs.Create(ctx, mkRule("rule:global", "", true, baseTime)))
	require.NoError(t, rs.Create(ctx, mkRule("rule:scoped", "host:a", true, baseTime.Add(time.Minute))))
	require.NoError(t, rs.Create(ctx, mkRule("rule:other", "host:b", true, baseTime.Add(2*time.Minute))))
	require.NoError(t, rs.Create(ctx, mkRule("rule:disabled", "host:a", false, baseTime.Add(3*time.Minute))))

	active, err := rs.ActiveForEntity(ctx, "host:a")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "rule:global", active[0].ID, "rules come back in creation order")
	assert.Equal(t, "rule:scoped", active[1].ID)

	enabled := true
	rules, total, err := rs.List(ctx, RuleFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, rules, 3)
}

func TestRuleStoreUpdatePreservesCreation(t *testing.T) {
	rs := NewMemoryRuleStore()
	ctx := context.Background()

	rule := &models.AlertRule{
		ID:        "rule:a",
		Name:      "cpu high",
		Metric:    "cpu.percent",
		Operator:  models.OpGreater,
		Threshold: 90,
		Severity:  models.SeverityWarning,
		Enabled:   true,
		CreatedAt: baseTime,
	}
	require.NoError(t, rs.Create(ctx, rule))

	rule.Threshold = 95
	rule.CreatedAt = baseTime.Add(time.Hour)
	require.NoError(t, rs.Update(ctx, rule))
	assert.True(t, rule.CreatedAt.Equal(baseTime), "update keeps the original creation time")

	got, err := rs.Get(ctx, "rule:a")
	require.NoError(t, err)
	assert.Equal(t, 95.0, got.Threshold)
	assert.True(t, got.CreatedAt.Equal(baseTime))
}

func TestAlertStoreFiltersAndOpen(t *testing.T) {
	as := NewMemoryAlertStore()
	ctx := context.Background()

	mkAlert := func(id, entityID string, sev models.Severity, resolved bool, at time.Time) *models.Alert {
		return &models.Alert{
			ID:          id,
			RuleID:      "rule:a",
			EntityID:    entityID,
			Severity:    sev,
			TriggeredAt: at,
			LastSeenAt:  at,
			Resolved:    resolved,
		}
	}

	require.NoError(t, as.Create(ctx, mkAlert("alert:1", "host:a", models.SeverityWarning, false, baseTime)))
	require.NoError(t, as.Create(ctx, mkAlert("alert:2", "host:a", models.SeverityCritical, true, baseTime.Add(time.Minute))))
	require.NoError(t, as.Create(ctx, mkAlert("alert:3", "host:b", models.SeverityCritical, false, baseTime.Add(2*time.Minute))))

	resolved := false
	open, total, err := as.List(ctx, AlertFilter{Resolved: &resolved})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, open, 2)
	assert.Equal(t, "alert:3", open[0].ID, "newest first")

	critical, total, err := as.List(ctx, AlertFilter{Severity: models.SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, critical, 2)

	forEntity, total, err := as.List(ctx, AlertFilter{EntityID: "host:b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, forEntity, 1)

	openAlerts, err := as.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, openAlerts, 2)
	assert.Equal(t, "alert:1", openAlerts[0].ID, "restore order is oldest first")

	counts, err := as.OpenCountBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.SeverityWarning])
	assert.Equal(t, int64(1), counts[models.SeverityCritical])

	require.NoError(t, as.DeleteByEntity(ctx, "host:a"))
	remaining, total, err := as.List(ctx, AlertFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, remaining, 1)
	assert.Equal(t, "alert:3", remaining[0].ID)
}

func TestAlertStoreUpdateLifecycle(t *testing.T) {
	as := NewMemoryAlertStore()
	ctx := context.Background()

	alert := &models.Alert{
		ID:          "alert:1",
		RuleID:      "rule:a",
		EntityID:    "host:a",
		Severity:    models.SeverityWarning,
		TriggeredAt: baseTime,
		LastSeenAt:  baseTime,
	}
	require.NoError(t, as.Create(ctx, alert))

	require.True(t, alert.Acknowledge("louis", baseTime.Add(time.Minute)))
	require.NoError(t, as.Update(ctx, alert))

	got, err := as.Get(ctx, "alert:1")
	require.NoError(t, err)
	assert.True(t, got.Acknowledged)
	assert.Equal(t, "louis", got.AcknowledgedBy)

	assert.False(t, got.Acknowledge("someone-else", baseTime.Add(2*time.Minute)),
		"second acknowledge is a no-op")
	assert.Equal(t, "louis", got.AcknowledgedBy)

	require.True(t, got.Resolve(baseTime.Add(3*time.Minute)))
	require.NoError(t, as.Update(ctx, &got))

	final, err := as.Get(ctx, "alert:1")
	require.NoError(t, err)
	assert.True(t, final.Resolved)
	assert.False(t, final.Resolve(baseTime.Add(4*time.Minute)), "second resolve is a no-op")
}
