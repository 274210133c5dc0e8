package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/auth"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

var validCategories = map[string]bool{
	models.CategoryCPU:          true,
	models.CategoryMemory:       true,
	models.CategoryDisk:         true,
	models.CategoryDiskIO:       true,
	models.CategoryNetwork:      true,
	models.CategoryContainers:   true,
	models.CategoryHealthChecks: true,
	models.CategoryCluster:      true,
}

// ingestMetrics handles POST /api/v1/metrics/ingest.
//
// The target entity comes from the agent key when one was presented; a
// key-bound request cannot write another entity's series regardless of what
// the body claims. Operator-token requests name the entity in the body.
func (s *Server) ingestMetrics(c echo.Context) error {
	var batch models.RawBatch
	if err := c.Bind(&batch); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}

	entityID := batch.EntityID
	if bound, ok := auth.GetAgentEntity(c); ok {
		entityID = bound.ID
	}
	if entityID == "" {
		return BadRequestError("Missing entity", "entity_id is required when no agent key is presented")
	}

	snap, err := s.coord.Ingest(c.Request().Context(), entityID, batch)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, snap)
}

// listMetrics handles GET /api/v1/metrics
func (s *Server) listMetrics(c echo.Context) error {
	var filter store.SnapshotFilter

	filter.EntityID = c.QueryParam("entity_id")
	if category := c.QueryParam("type"); category != "" {
		if !validCategories[category] {
			return BadRequestError("Invalid type parameter", fmt.Sprintf("unknown metric type %q", category))
		}
		filter.Category = category
	}

	var err error
	if filter.Start, err = parseTimeParam(c, "start"); err != nil {
		return err
	}
	if filter.End, err = parseTimeParam(c, "end"); err != nil {
		return err
	}
	filter.Page, filter.Size = s.parsePage(c)

	snaps, total, err := s.store.Snapshots.Query(c.Request().Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newPaged(snaps, total, filter.Page, filter.Size))
}

// latestMetrics handles GET /api/v1/metrics/latest. Without entity_id it
// reports every registered entity with its freshest snapshot; entities that
// never ingested appear with a nil snapshot.
func (s *Server) latestMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	if entityID := c.QueryParam("entity_id"); entityID != "" {
		entity, err := s.store.Entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		item := LatestMetric{Entity: entity}
		if snap, ok := s.store.Snapshots.Latest(entityID); ok {
			item.Snapshot = &snap
		}
		return c.JSON(http.StatusOK, item)
	}

	entities, total, err := s.store.Entities.List(ctx, store.EntityFilter{})
	if err != nil {
		return err
	}

	items := make([]LatestMetric, 0, len(entities))
	for _, entity := range entities {
		item := LatestMetric{Entity: entity}
		if snap, ok := s.store.Snapshots.Latest(entity.ID); ok {
			item.Snapshot = &snap
		}
		items = append(items, item)
	}

	return c.JSON(http.StatusOK, newPaged(items, total, 1, len(items)))
}

// cleanupMetrics handles DELETE /api/v1/metrics. Exactly one of before
// (RFC3339) or days (positive integer) selects the cutoff.
func (s *Server) cleanupMetrics(c echo.Context) error {
	beforeParam := c.QueryParam("before")
	daysParam := c.QueryParam("days")

	if beforeParam != "" && daysParam != "" {
		return BadRequestError("Invalid cleanup request", "before and days are mutually exclusive")
	}

	var cutoff time.Time
	switch {
	case beforeParam != "":
		parsed, err := time.Parse(time.RFC3339, beforeParam)
		if err != nil {
			return BadRequestError("Invalid before parameter", fmt.Sprintf("not an RFC3339 timestamp: %v", err))
		}
		cutoff = parsed.UTC()
	case daysParam != "":
		days, err := strconv.Atoi(daysParam)
		if err != nil || days <= 0 {
			return BadRequestError("Invalid days parameter", "days must be a positive integer")
		}
		cutoff = time.Now().UTC().AddDate(0, 0, -days)
	default:
		return BadRequestError("Invalid cleanup request", "either before or days is required")
	}

	deleted, err := s.store.Snapshots.DeleteBefore(c.Request().Context(), cutoff)
	if err != nil {
		return err
	}

	s.logger.Info("manual snapshot cleanup",
		zap.Time("before", cutoff),
		zap.Int64("deleted", deleted))

	return c.JSON(http.StatusOK, CleanupResponse{Deleted: deleted, Before: cutoff})
}

// parseTimeParam reads an optional RFC3339 query parameter; the zero time
// means the bound is absent.
func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	value := c.QueryParam(name)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, BadRequestError(
			fmt.Sprintf("Invalid %s parameter", name),
			fmt.Sprintf("not an RFC3339 timestamp: %v", err))
	}
	return parsed, nil
}
