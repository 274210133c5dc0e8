package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louissader/homelab-infrastructure-monitor/internal/auth"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

type pagedSnapshots struct {
	Items []models.MetricSnapshot `json:"items"`
	Total int64                   `json:"total"`
	Page  int                     `json:"page"`
	Size  int                     `json:"size"`
	Pages int64                   `json:"pages"`
}

func TestIngestWithAgentKey(t *testing.T) {
	a := newTestAPI(t)
	created := a.registerEntity(t, "nas")

	rec := a.ingestAsAgent(t, created.APIKey, t0, 42.5)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var snap models.MetricSnapshot
	decode(t, rec, &snap)
	assert.Equal(t, created.Entity.ID, snap.EntityID)
	require.NotNil(t, snap.CPU)
	assert.Equal(t, 42.5, snap.CPU.Percent)

	rec = a.do(t, http.MethodGet, "/api/v1/entities/"+created.Entity.ID, a.viewerToken, nil)
	var entity models.Entity
	decode(t, rec, &entity)
	assert.Equal(t, models.StatusOnline, entity.Status)
	assert.NotNil(t, entity.LastSeen)
}

func TestIngestKeyPinsEntity(t *testing.T) {
	a := newTestAPI(t)
	owner := a.registerEntity(t, "nas")
	other := a.registerEntity(t, "router")

	// A key-bound request cannot write another entity's series.
	body := fmt.Sprintf(`{"entity_id":%q,"timestamp":%q,"readings":[{"type":"cpu","data":{"percent":50}}]}`,
		other.Entity.ID, t0.Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics/ingest", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(auth.HeaderAPIKey, owner.APIKey)
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var snap models.MetricSnapshot
	decode(t, rec, &snap)
	assert.Equal(t, owner.Entity.ID, snap.EntityID)

	_, ok := a.store.Snapshots.Latest(other.Entity.ID)
	assert.False(t, ok, "the named entity must stay untouched")
}

func TestIngestWithOperatorToken(t *testing.T) {
	a := newTestAPI(t)
	created := a.registerEntity(t, "nas")

	body := fmt.Sprintf(`{"entity_id":%q,"timestamp":%q,"readings":[{"type":"cpu","data":{"percent":33}}]}`,
		created.Entity.ID, t0.Format(time.RFC3339))
	rec := a.do(t, http.MethodPost, "/api/v1/metrics/ingest", a.operatorToken, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// Without an agent key the body must name the entity.
	rec = a.do(t, http.MethodPost, "/api/v1/metrics/ingest", a.operatorToken,
		`{"readings":[{"type":"cpu","data":{"percent":33}}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	// Unknown entities are rejected without persisting anything.
	rec = a.do(t, http.MethodPost, "/api/v1/metrics/ingest", a.operatorToken,
		`{"entity_id":"host:ghost","readings":[{"type":"cpu","data":{"percent":33}}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestIngestRejectsBadKey(t *testing.T) {
	a := newTestAPI(t)
	a.registerEntity(t, "nas")

	rec := a.ingestAsAgent(t, "hlm_bogus", t0, 10)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestRejectsMalformedReading(t *testing.T) {
	a := newTestAPI(t)
	created := a.registerEntity(t, "nas")

	body := `{"readings":[{"type":"cpu","data":"not-an-object"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics/ingest", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(auth.HeaderAPIKey, created.APIKey)
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	_, ok := a.store.Snapshots.Latest(created.Entity.ID)
	assert.False(t, ok)
}

func TestListMetricsFilters(t *testing.T) {
	a := newTestAPI(t)
	nas := a.registerEntity(t, "nas")
	router := a.registerEntity(t, "router")

	for i, ts := range []time.Time{t0, t0.Add(time.Minute)} {
		rec := a.ingestAsAgent(t, nas.APIKey, ts, float64(40+i))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := a.ingestAsAgent(t, router.APIKey, t0, 15)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var page pagedSnapshots
	rec = a.do(t, http.MethodGet, "/api/v1/metrics", a.viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	assert.Equal(t, int64(3), page.Total)

	rec = a.do(t, http.MethodGet, "/api/v1/metrics?entity_id="+nas.Entity.ID, a.viewerToken, nil)
	decode(t, rec, &page)
	assert.Equal(t, int64(2), page.Total)

	rec = a.do(t, http.MethodGet, "/api/v1/metrics?type=cpu", a.viewerToken, nil)
	decode(t, rec, &page)
	assert.Equal(t, int64(3), page.Total)

	rec = a.do(t, http.MethodGet, "/api/v1/metrics?type=network", a.viewerToken, nil)
	decode(t, rec, &page)
	assert.Equal(t, int64(0), page.Total)
	assert.Empty(t, page.Items)

	window := fmt.Sprintf("/api/v1/metrics?start=%s&end=%s",
		t0.Add(30*time.Second).Format(time.RFC3339), t0.Add(2*time.Minute).Format(time.RFC3339))
	rec = a.do(t, http.MethodGet, window, a.viewerToken, nil)
	decode(t, rec, &page)
	require.Equal(t, int64(1), page.Total)
	assert.True(t, page.Items[0].Timestamp.Equal(t0.Add(time.Minute)))

	rec = a.do(t, http.MethodGet, "/api/v1/metrics?type=bogus", a.viewerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/v1/metrics?start=yesterday", a.viewerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMetricsPagination(t *testing.T) {
	a := newTestAPI(t)
	nas := a.registerEntity(t, "nas")

	for i := 0; i < 3; i++ {
		rec := a.ingestAsAgent(t, nas.APIKey, t0.Add(time.Duration(i)*time.Minute), 10)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	var page pagedSnapshots
	rec := a.do(t, http.MethodGet, "/api/v1/metrics?size=2", a.viewerToken, nil)
	decode(t, rec, &page)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Pages)

	rec = a.do(t, http.MethodGet, "/api/v1/metrics?size=2&page=2", a.viewerToken, nil)
	decode(t, rec, &page)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Page)
}

func TestLatestMetrics(t *testing.T) {
	a := newTestAPI(t)
	nas := a.registerEntity(t, "nas")
	router := a.registerEntity(t, "router")

	rec := a.ingestAsAgent(t, nas.APIKey, t0, 42)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = a.ingestAsAgent(t, nas.APIKey, t0.Add(time.Minute), 43)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/metrics/latest?entity_id="+nas.Entity.ID, a.viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var single LatestMetric
	decode(t, rec, &single)
	assert.Equal(t, nas.Entity.ID, single.Entity.ID)
	require.NotNil(t, single.Snapshot)
	assert.True(t, single.Snapshot.Timestamp.Equal(t0.Add(time.Minute)))

	// An entity that never ingested reports a nil snapshot, not an error.
	rec = a.do(t, http.MethodGet, "/api/v1/metrics/latest?entity_id="+router.Entity.ID, a.viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &single)
	assert.Nil(t, single.Snapshot)

	rec = a.do(t, http.MethodGet, "/api/v1/metrics/latest?entity_id=host:ghost", a.viewerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/metrics/latest", a.viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []LatestMetric `json:"items"`
		Total int64          `json:"total"`
	}
	decode(t, rec, &page)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Items, 2)
}

func TestCleanupMetrics(t *testing.T) {
	a := newTestAPI(t)
	nas := a.registerEntity(t, "nas")

	for i := 0; i < 3; i++ {
		rec := a.ingestAsAgent(t, nas.APIKey, t0.Add(time.Duration(i)*time.Hour), 10)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	cutoff := t0.Add(90 * time.Minute)
	rec := a.do(t, http.MethodDelete, "/api/v1/metrics?before="+cutoff.Format(time.RFC3339), a.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res CleanupResponse
	decode(t, rec, &res)
	assert.Equal(t, int64(2), res.Deleted)
	assert.True(t, res.Before.Equal(cutoff))

	var page pagedSnapshots
	rec = a.do(t, http.MethodGet, "/api/v1/metrics", a.adminToken, nil)
	decode(t, rec, &page)
	assert.Equal(t, int64(1), page.Total)

	// Snapshots all lie in the past, so a one day horizon removes the rest.
	rec = a.do(t, http.MethodDelete, "/api/v1/metrics?days=1", a.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.Equal(t, int64(1), res.Deleted)
}

func TestCleanupMetricsValidation(t *testing.T) {
	a := newTestAPI(t)

	cases := []string{
		"/api/v1/metrics",
		"/api/v1/metrics?before=2025-11-03T10:00:00Z&days=2",
		"/api/v1/metrics?before=tuesday",
		"/api/v1/metrics?days=0",
		"/api/v1/metrics?days=-3",
		"/api/v1/metrics?days=soon",
	}
	for _, path := range cases {
		rec := a.do(t, http.MethodDelete, path, a.adminToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s: %s", path, rec.Body.String())
	}
}
