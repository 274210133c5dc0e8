package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/rules"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// listRules handles GET /api/v1/rules
func (s *Server) listRules(c echo.Context) error {
	var filter store.RuleFilter

	if enabled := c.QueryParam("enabled"); enabled != "" {
		parsed, err := strconv.ParseBool(enabled)
		if err != nil {
			return BadRequestError("Invalid enabled parameter", "enabled must be true or false")
		}
		filter.Enabled = &parsed
	}
	filter.Page, filter.Size = s.parsePage(c)

	ruleList, total, err := s.store.Rules.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newPaged(ruleList, total, filter.Page, filter.Size))
}

// getRule handles GET /api/v1/rules/:id
func (s *Server) getRule(c echo.Context) error {
	rule, err := s.store.Rules.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rule)
}

// createRule handles POST /api/v1/rules. Rules default to enabled; the
// engine picks a new rule up on the next snapshot without a restart.
func (s *Server) createRule(c echo.Context) error {
	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.checkRule(&req); err != nil {
		return err
	}

	rule := models.AlertRule{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Description:     req.Description,
		EntityID:        req.EntityID,
		Metric:          req.Metric,
		Operator:        req.Operator,
		Threshold:       req.Threshold,
		Severity:        req.Severity,
		Enabled:         req.Enabled == nil || *req.Enabled,
		CooldownSeconds: req.CooldownSeconds,
		Channels:        req.Channels,
	}
	if err := s.store.Rules.Create(c.Request().Context(), &rule); err != nil {
		return err
	}

	s.logger.Info("alert rule created",
		zap.String("rule", rule.ID),
		zap.String("name", rule.Name),
		zap.String("metric", rule.Metric))

	return c.JSON(http.StatusCreated, rule)
}

// updateRule handles PUT /api/v1/rules/:id. The request replaces the rule's
// definition; identity and creation time survive. Disabling takes effect on
// the next evaluation, and already-open alerts are left untouched.
func (s *Server) updateRule(c echo.Context) error {
	ctx := c.Request().Context()

	rule, err := s.store.Rules.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.checkRule(&req); err != nil {
		return err
	}

	rule.Name = req.Name
	rule.Description = req.Description
	rule.EntityID = req.EntityID
	rule.Metric = req.Metric
	rule.Operator = req.Operator
	rule.Threshold = req.Threshold
	rule.Severity = req.Severity
	rule.Enabled = req.Enabled == nil || *req.Enabled
	rule.CooldownSeconds = req.CooldownSeconds
	rule.Channels = req.Channels

	if err := s.store.Rules.Update(ctx, &rule); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rule)
}

// deleteRule handles DELETE /api/v1/rules/:id. Open alerts raised by the
// rule stay open; they lose their cooldown and resolve only by hand.
func (s *Server) deleteRule(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.Rules.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("rule %s deleted", id)})
}

// checkRule runs struct validation plus the domain checks the validator
// tags cannot express.
func (s *Server) checkRule(req *RuleRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	if !rules.KnownMetric(req.Metric) {
		return BadRequestError("Invalid metric", fmt.Sprintf("unknown metric path %q", req.Metric))
	}
	if !models.ValidOperator(req.Operator) {
		return BadRequestError("Invalid operator", fmt.Sprintf("unknown operator %q", req.Operator))
	}
	if !models.ValidSeverity(req.Severity) {
		return BadRequestError("Invalid severity", fmt.Sprintf("unknown severity %q", req.Severity))
	}
	return nil
}
