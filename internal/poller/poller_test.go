package poller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/internal/ingest"
	"github.com/louissader/homelab-infrastructure-monitor/internal/normalizer"
	"github.com/louissader/homelab-infrastructure-monitor/internal/rules"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/internal/telemetry"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

type scriptedSource struct {
	batches []models.RawBatch
	errs    []error
	call    int
}

func (s *scriptedSource) Collect(context.Context) (models.RawBatch, error) {
	i := s.call
	s.call++
	if i < len(s.errs) && s.errs[i] != nil {
		return models.RawBatch{}, s.errs[i]
	}
	if i < len(s.batches) {
		return s.batches[i], nil
	}
	return models.RawBatch{}, errors.New("script exhausted")
}

func clusterBatch(ts time.Time, cpu float64) models.RawBatch {
	data, _ := json.Marshal(models.ClusterMetrics{
		NodesTotal:  3,
		NodesReady:  3,
		PodsTotal:   10,
		PodsRunning: 10,
		CPUPercent:  cpu,
	})
	return models.RawBatch{
		Timestamp: ts,
		Readings:  []models.RawReading{{Type: models.CategoryCluster, Data: data}},
	}
}

func newTestPoller(t *testing.T) (*Poller, *store.Store) {
	t.Helper()
	logger := zap.NewNop()
	st := &store.Store{
		Entities:  store.NewMemoryEntityStore(),
		Rules:     store.NewMemoryRuleStore(),
		Alerts:    store.NewMemoryAlertStore(),
		Snapshots: store.NewTimeSeries(store.NewMemorySnapshotBackend(), logger, 50, 500),
	}
	engine := rules.New(st.Rules, st.Alerts, logger)
	coord := ingest.New(normalizer.New(logger), st, engine, bus.New(16, logger), telemetry.New(), logger)
	return New(coord, st.Entities, logger, time.Minute), st
}

func TestEnsureEntitiesCreatesMissingClusters(t *testing.T) {
	p, st := newTestPoller(t)
	ctx := context.Background()
	require.NoError(t, st.Entities.Create(ctx, &models.Entity{
		ID:     "cluster-existing",
		Kind:   models.KindCluster,
		Name:   "existing",
		Status: models.StatusOnline,
	}))
	p.AddTarget("cluster-existing", "existing", NewSimulatedSource())
	p.AddTarget("cluster-new", "lab", NewSimulatedSource())

	require.NoError(t, p.EnsureEntities(ctx))

	created, err := st.Entities.Get(ctx, "cluster-new")
	require.NoError(t, err)
	assert.Equal(t, models.KindCluster, created.Kind)
	assert.Equal(t, "lab", created.Name)
	assert.Equal(t, models.StatusOffline, created.Status)

	existing, err := st.Entities.Get(ctx, "cluster-existing")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, existing.Status)
}

func TestPollIngestsBatch(t *testing.T) {
	p, st := newTestPoller(t)
	ctx := context.Background()
	ts := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	src := &scriptedSource{batches: []models.RawBatch{clusterBatch(ts, 42)}}
	p.AddTarget("cluster-k8s", "k8s", src)
	require.NoError(t, p.EnsureEntities(ctx))

	p.pollAll(ctx)

	snap, ok := st.Snapshots.Latest("cluster-k8s")
	require.True(t, ok)
	require.NotNil(t, snap.Cluster)
	assert.Equal(t, 42.0, snap.Cluster.CPUPercent)
	entity, err := st.Entities.Get(ctx, "cluster-k8s")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, entity.Status)
}

func TestPollFailureMarksUnreachableAndRecovers(t *testing.T) {
	p, st := newTestPoller(t)
	ctx := context.Background()
	ts := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	src := &scriptedSource{
		errs:    []error{errors.New("connection refused"), nil},
		batches: []models.RawBatch{{}, clusterBatch(ts, 30)},
	}
	p.AddTarget("cluster-k8s", "k8s", src)
	require.NoError(t, p.EnsureEntities(ctx))

	p.pollAll(ctx)
	entity, err := st.Entities.Get(ctx, "cluster-k8s")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnreachable, entity.Status)
	assert.Nil(t, entity.LastSeen)

	p.pollAll(ctx)
	entity, err = st.Entities.Get(ctx, "cluster-k8s")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, entity.Status)
	require.NotNil(t, entity.LastSeen)
}

func TestNewSourceKinds(t *testing.T) {
	src, err := NewSource("")
	require.NoError(t, err)
	assert.IsType(t, &SimulatedSource{}, src)

	src, err = NewSource("simulated")
	require.NoError(t, err)
	assert.NotNil(t, src)

	_, err = NewSource("gke")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gke")
}

func TestSimulatedSourceProducesClusterReadings(t *testing.T) {
	src := NewSimulatedSource()
	for i := 0; i < 10; i++ {
		batch, err := src.Collect(context.Background())
		require.NoError(t, err)
		require.Len(t, batch.Readings, 1)
		assert.Equal(t, models.CategoryCluster, batch.Readings[0].Type)

		var cluster models.ClusterMetrics
		require.NoError(t, json.Unmarshal(batch.Readings[0].Data, &cluster))
		assert.Equal(t, 3, cluster.NodesTotal)
		assert.LessOrEqual(t, cluster.NodesReady, cluster.NodesTotal)
		assert.LessOrEqual(t, cluster.PodsRunning, cluster.PodsTotal)
		assert.GreaterOrEqual(t, cluster.CPUPercent, 2.0)
		assert.LessOrEqual(t, cluster.CPUPercent, 98.0)
		assert.GreaterOrEqual(t, cluster.MemoryPercent, 5.0)
		assert.LessOrEqual(t, cluster.MemoryPercent, 95.0)
	}
}
