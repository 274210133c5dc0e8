package api

import (
	"time"

	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// MessageResponse is a simple confirmation payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// CreateEntityRequest registers a host or cluster. ID is optional; when
// empty the server mints "<kind>:<uuid>".
type CreateEntityRequest struct {
	ID       string            `json:"id,omitempty" validate:"omitempty,min=3,max=256"`
	Kind     models.EntityKind `json:"kind" validate:"required"`
	Name     string            `json:"name" validate:"required,min=1,max=128"`
	Hostname string            `json:"hostname,omitempty" validate:"omitempty,max=256"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// UpdateEntityRequest carries the operator-editable fields. Absent fields
// stay unchanged; status and last_seen are derived and cannot be set here.
type UpdateEntityRequest struct {
	Name     *string           `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	Hostname *string           `json:"hostname,omitempty" validate:"omitempty,max=256"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// EntityWithKey is the registration and key-rotation response. APIKey is the
// plaintext agent key; only its hash is stored, so this is the one chance to
// read it.
type EntityWithKey struct {
	Entity models.Entity `json:"entity"`
	APIKey string        `json:"api_key"`
}

// RuleRequest creates or replaces an alert rule.
type RuleRequest struct {
	Name            string          `json:"name" validate:"required,min=1,max=128"`
	Description     string          `json:"description,omitempty" validate:"omitempty,max=512"`
	EntityID        string          `json:"entity_id,omitempty"`
	Metric          string          `json:"metric" validate:"required"`
	Operator        models.Operator `json:"operator" validate:"required"`
	Threshold       float64         `json:"threshold"`
	Severity        models.Severity `json:"severity" validate:"required"`
	Enabled         *bool           `json:"enabled,omitempty"`
	CooldownSeconds int             `json:"cooldown_seconds" validate:"gte=0"`
	Channels        []string        `json:"channels,omitempty"`
}

// AcknowledgeRequest optionally names who acknowledged; defaults to the
// authenticated operator.
type AcknowledgeRequest struct {
	By string `json:"by,omitempty" validate:"omitempty,max=128"`
}

// LatestMetric pairs an entity with its most recent snapshot. Snapshot is
// nil for entities that have never reported.
type LatestMetric struct {
	Entity   models.Entity          `json:"entity"`
	Snapshot *models.MetricSnapshot `json:"snapshot"`
}

// CleanupResponse reports a manual snapshot cleanup.
type CleanupResponse struct {
	Deleted int64     `json:"deleted"`
	Before  time.Time `json:"before"`
}

// LoginRequest carries operator credentials.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is a successful login: the signed token plus the account's
// identity for the client UI.
type LoginResponse struct {
	Username    string        `json:"username"`
	Roles       []models.Role `json:"roles"`
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	TokenType   string        `json:"token_type"`
}

// MeResponse describes the authenticated operator, or the lack of one when
// authentication is disabled.
type MeResponse struct {
	Username    string        `json:"username,omitempty"`
	Roles       []models.Role `json:"roles,omitempty"`
	AuthEnabled bool          `json:"auth_enabled"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// StatsOverview is the dashboard summary.
type StatsOverview struct {
	Entities        map[models.EntityStatus]int64 `json:"entities"`
	EntitiesTotal   int64                         `json:"entities_total"`
	OpenAlerts      map[models.Severity]int64     `json:"open_alerts"`
	OpenAlertsTotal int64                         `json:"open_alerts_total"`
	Rules           int64                         `json:"rules"`
	Snapshots       int64                         `json:"snapshots"`
	Stream          bus.Stats                     `json:"stream"`
}
