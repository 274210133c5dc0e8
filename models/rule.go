package models

import "time"

// Operator is the comparison applied between an extracted metric value and
// a rule threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// ValidOperator reports whether op is a supported comparison.
func ValidOperator(op Operator) bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Severity classifies rules and the alerts they raise.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a supported severity.
func ValidSeverity(s Severity) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// AlertRule is a user-defined threshold condition over one metric field.
//
// Metric is a dot-path into the flattened snapshot, e.g. "cpu.percent" or
// "memory.percent". EntityID scopes the rule to one entity; empty means the
// rule applies to every entity. Cooldown is the minimum time an alert stays
// open before auto-resolution, damping flapping metrics.
//
// Comparison for == and != is exact floating-point equality; rules needing
// tolerance should use a >= / <= pair instead.
type AlertRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// EntityID restricts the rule to a single entity when non-empty.
	EntityID string `json:"entity_id,omitempty"`

	Metric    string   `json:"metric"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
	Enabled   bool     `json:"enabled"`

	// CooldownSeconds is the auto-resolution hold-down; zero disables it.
	CooldownSeconds int `json:"cooldown_seconds"`

	// Channels names the notification sinks for this rule's alerts.
	Channels []string `json:"channels,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cooldown returns the hold-down as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// AppliesTo reports whether the rule is in scope for the entity.
func (r *AlertRule) AppliesTo(entityID string) bool {
	return r.EntityID == "" || r.EntityID == entityID
}
