package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// statsOverview handles GET /api/v1/stats/overview
func (s *Server) statsOverview(c echo.Context) error {
	ctx := c.Request().Context()

	entityCounts, err := s.store.Entities.CountByStatus(ctx)
	if err != nil {
		return err
	}
	alertCounts, err := s.store.Alerts.OpenCountBySeverity(ctx)
	if err != nil {
		return err
	}
	ruleCount, err := s.store.Rules.Count(ctx)
	if err != nil {
		return err
	}
	snapshotCount, err := s.store.Snapshots.Count(ctx)
	if err != nil {
		return err
	}

	overview := StatsOverview{
		Entities:   entityCounts,
		OpenAlerts: alertCounts,
		Rules:      ruleCount,
		Snapshots:  snapshotCount,
		Stream:     s.bus.Stats(),
	}
	for _, n := range entityCounts {
		overview.EntitiesTotal += n
	}
	for _, n := range alertCounts {
		overview.OpenAlertsTotal += n
	}

	return c.JSON(http.StatusOK, overview)
}
