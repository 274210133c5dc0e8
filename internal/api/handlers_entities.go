package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/auth"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// listEntities handles GET /api/v1/entities
func (s *Server) listEntities(c echo.Context) error {
	var filter store.EntityFilter

	if status := c.QueryParam("status"); status != "" {
		if !models.ValidStatus(models.EntityStatus(status)) {
			return BadRequestError("Invalid status parameter", fmt.Sprintf("unknown status %q", status))
		}
		filter.Status = models.EntityStatus(status)
	}
	if kind := c.QueryParam("kind"); kind != "" {
		if !models.ValidKind(models.EntityKind(kind)) {
			return BadRequestError("Invalid kind parameter", fmt.Sprintf("unknown kind %q", kind))
		}
		filter.Kind = models.EntityKind(kind)
	}
	filter.Page, filter.Size = s.parsePage(c)

	entities, total, err := s.store.Entities.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newPaged(entities, total, filter.Page, filter.Size))
}

// getEntity handles GET /api/v1/entities/:id
func (s *Server) getEntity(c echo.Context) error {
	entity, err := s.store.Entities.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// createEntity handles POST /api/v1/entities. The response carries the
// plaintext agent key; it is never retrievable again.
func (s *Server) createEntity(c echo.Context) error {
	var req CreateEntityRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.validate.Struct(&req); err != nil {
		return err
	}
	if !models.ValidKind(req.Kind) {
		return BadRequestError("Invalid kind", fmt.Sprintf("kind must be host or cluster, got %q", req.Kind))
	}

	id := req.ID
	if id == "" {
		id = fmt.Sprintf("%s:%s", req.Kind, uuid.New().String())
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return InternalError("Failed to generate API key", err.Error())
	}

	entity := models.Entity{
		ID:         id,
		Kind:       req.Kind,
		Name:       req.Name,
		Hostname:   req.Hostname,
		Labels:     req.Labels,
		Status:     models.StatusOffline,
		APIKeyHash: auth.HashAPIKey(key),
	}
	if err := s.store.Entities.Create(c.Request().Context(), &entity); err != nil {
		return err
	}

	s.logger.Info("entity registered",
		zap.String("entity", entity.ID),
		zap.String("kind", string(entity.Kind)),
		zap.String("name", entity.Name))

	return c.JSON(http.StatusCreated, EntityWithKey{Entity: entity, APIKey: key})
}

// updateEntity handles PUT /api/v1/entities/:id. Only name, hostname and
// labels are editable; status and last_seen are owned by the write path.
func (s *Server) updateEntity(c echo.Context) error {
	var req UpdateEntityRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.validate.Struct(&req); err != nil {
		return err
	}

	entity, err := s.store.Entities.UpdateInfo(c.Request().Context(), c.Param("id"), store.EntityUpdate{
		Name:     req.Name,
		Hostname: req.Hostname,
		Labels:   req.Labels,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entity)
}

// deleteEntity handles DELETE /api/v1/entities/:id. Deregistration cascades:
// snapshot history, alerts and engine state all go with the entity.
func (s *Server) deleteEntity(c echo.Context) error {
	id := c.Param("id")
	if err := s.coord.Deregister(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("entity %s deleted", id)})
}

// rotateAPIKey handles POST /api/v1/entities/:id/apikey. The previous key
// stops working immediately.
func (s *Server) rotateAPIKey(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	entity, err := s.store.Entities.Get(ctx, id)
	if err != nil {
		return err
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return InternalError("Failed to generate API key", err.Error())
	}
	if err := s.store.Entities.SetAPIKeyHash(ctx, id, auth.HashAPIKey(key)); err != nil {
		return err
	}

	s.logger.Info("agent key rotated", zap.String("entity", id))

	return c.JSON(http.StatusOK, EntityWithKey{Entity: entity, APIKey: key})
}
