package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/louissader/homelab-infrastructure-monitor/internal/auth"
	"github.com/louissader/homelab-infrastructure-monitor/internal/rules"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// listAlerts handles GET /api/v1/alerts
func (s *Server) listAlerts(c echo.Context) error {
	var filter store.AlertFilter

	filter.EntityID = c.QueryParam("entity_id")
	if severity := c.QueryParam("severity"); severity != "" {
		if !models.ValidSeverity(models.Severity(severity)) {
			return BadRequestError("Invalid severity parameter", fmt.Sprintf("unknown severity %q", severity))
		}
		filter.Severity = models.Severity(severity)
	}
	if resolved := c.QueryParam("resolved"); resolved != "" {
		parsed, err := strconv.ParseBool(resolved)
		if err != nil {
			return BadRequestError("Invalid resolved parameter", "resolved must be true or false")
		}
		filter.Resolved = &parsed
	}
	filter.Page, filter.Size = s.parsePage(c)

	alerts, total, err := s.store.Alerts.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newPaged(alerts, total, filter.Page, filter.Size))
}

// getAlert handles GET /api/v1/alerts/:id
func (s *Server) getAlert(c echo.Context) error {
	alert, err := s.store.Alerts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, alert)
}

// acknowledgeAlert handles POST /api/v1/alerts/:id/acknowledge. Idempotent:
// acknowledging twice returns the unchanged record, keeping the original
// acknowledger.
func (s *Server) acknowledgeAlert(c echo.Context) error {
	var req AcknowledgeRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.validate.Struct(&req); err != nil {
		return err
	}

	by := req.By
	if by == "" {
		if claims, ok := auth.GetClaims(c); ok {
			by = claims.Username
		}
	}
	if by == "" {
		by = "operator"
	}

	alert, _, err := s.engine.Acknowledge(c.Request().Context(), c.Param("id"), by)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, alert)
}

// resolveAlert handles POST /api/v1/alerts/:id/resolve. Idempotent: a second
// call returns the already-resolved record. A resolution that actually
// closed the alert is fanned out like an engine-driven one, and the entity
// status is re-derived since its warning may just have cleared.
func (s *Server) resolveAlert(c echo.Context) error {
	ctx := c.Request().Context()

	alert, changed, err := s.engine.Resolve(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	if changed {
		s.coord.PublishTransitions([]rules.Transition{{Kind: rules.TransitionResolved, Alert: alert}})
		s.coord.RefreshStatus(ctx, alert.EntityID)
	}

	return c.JSON(http.StatusOK, alert)
}
