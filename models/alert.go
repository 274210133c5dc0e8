package models

import "time"

// Alert is one instance of a rule's condition holding true for an entity.
// Alerts are created only by the rule engine, mutated by acknowledge and
// resolve, and never deleted; resolved alerts remain as history.
type Alert struct {
	ID       string `json:"id"`
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	EntityID string `json:"entity_id"`

	Severity Severity `json:"severity"`

	// Message is rendered once at trigger time, for example
	// "High CPU Usage: cpu.percent is 95.20 (> 90)".
	Message string `json:"message"`

	// Value is the extracted metric value that triggered the alert;
	// Threshold is the rule threshold at trigger time.
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`

	TriggeredAt time.Time `json:"triggered_at"`

	// LastSeenAt advances on every evaluation where the condition is still
	// true for the open alert.
	LastSeenAt time.Time `json:"last_seen_at"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Acknowledge marks the alert acknowledged. Returns false when the alert
// was already acknowledged; the existing by/at fields are left untouched.
func (a *Alert) Acknowledge(by string, now time.Time) bool {
	if a.Acknowledged {
		return false
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	at := now
	a.AcknowledgedAt = &at
	return true
}

// Resolve marks the alert resolved. Returns false when already resolved;
// resolved_at keeps its original value in that case.
func (a *Alert) Resolve(now time.Time) bool {
	if a.Resolved {
		return false
	}
	a.Resolved = true
	at := now
	a.ResolvedAt = &at
	return true
}
