// Package rules evaluates alert rules against incoming snapshots and owns
// the alert lifecycle: trigger, cooldown-deferred auto-resolution,
// acknowledge and resolve.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// TransitionKind names an alert lifecycle edge produced by evaluation.
type TransitionKind string

const (
	TransitionTriggered TransitionKind = "triggered"
	TransitionResolved  TransitionKind = "resolved"
)

// Transition is one alert lifecycle change. Evaluate returns them in rule
// creation order; a rule whose cooldown expired on the same tick it fired
// again yields resolved-then-triggered.
type Transition struct {
	Kind  TransitionKind `json:"kind"`
	Alert models.Alert   `json:"alert"`
}

type stateKey struct {
	ruleID   string
	entityID string
}

// alertState tracks the open alert of one (rule, entity) pair. Cooldown is
// captured at trigger time so alerts of since-disabled or deleted rules
// still mature on the schedule that was in force when they fired.
type alertState struct {
	alertID      string
	triggeredAt  time.Time
	cooldown     time.Duration
	pendingSince time.Time
}

func (s alertState) expired(now time.Time) bool {
	return !now.Before(s.triggeredAt.Add(s.cooldown))
}

// Engine evaluates rules and drives alert state. Rules are read from the
// store on every Evaluate call, so disabling a rule halts its evaluation on
// the very next snapshot.
type Engine struct {
	rules  store.RuleStore
	alerts store.AlertStore
	logger *zap.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	stateMu sync.Mutex
	states  map[stateKey]alertState
}

// New creates an engine with empty state. Call Restore before serving
// traffic so open alerts survive restarts.
func New(rules store.RuleStore, alerts store.AlertStore, logger *zap.Logger) *Engine {
	return &Engine{
		rules:  rules,
		alerts: alerts,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		states: make(map[stateKey]alertState),
	}
}

// Restore rebuilds per-(rule, entity) state from unresolved alerts. An open
// alert whose rule was deleted keeps its alert but gets no cooldown; it
// stays open until resolved by an operator.
func (e *Engine) Restore(ctx context.Context) error {
	open, err := e.alerts.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open alerts: %w", err)
	}
	for _, alert := range open {
		cooldown := time.Duration(0)
		rule, err := e.rules.Get(ctx, alert.RuleID)
		switch {
		case err == nil:
			cooldown = rule.Cooldown()
		case errs.IsNotFound(err):
			e.logger.Warn("open alert references deleted rule",
				zap.String("alert", alert.ID),
				zap.String("rule", alert.RuleID))
		default:
			return fmt.Errorf("loading rule %s: %w", alert.RuleID, err)
		}
		e.setState(stateKey{ruleID: alert.RuleID, entityID: alert.EntityID}, alertState{
			alertID:     alert.ID,
			triggeredAt: alert.TriggeredAt,
			cooldown:    cooldown,
		})
	}
	if len(open) > 0 {
		e.logger.Info("restored alert state", zap.Int("open_alerts", len(open)))
	}
	return nil
}

// Evaluate runs every enabled rule in scope for the entity against the
// snapshot and returns the resulting transitions in rule creation order.
//
// The snapshot's own timestamp is the clock: trigger times, resolution
// times and cooldown expiry are all measured against it, which keeps
// evaluation deterministic for replayed history.
func (e *Engine) Evaluate(ctx context.Context, entityID string, snap models.MetricSnapshot) ([]Transition, error) {
	lock := e.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	active, err := e.rules.ActiveForEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing rules for %s: %w", entityID, err)
	}

	now := snap.Timestamp
	var transitions []Transition

	for _, rule := range active {
		key := stateKey{ruleID: rule.ID, entityID: entityID}

		value, ok := Resolve(snap, rule.Metric)
		if !ok {
			e.logger.Debug("rule not evaluable for snapshot",
				zap.String("rule", rule.ID),
				zap.String("entity", entityID),
				zap.String("metric", rule.Metric),
				zap.Error(errs.ErrEvaluationSkipped))
			continue
		}
		cond := compare(value, rule.Operator, rule.Threshold)

		st, open := e.getState(key)
		if !open {
			if cond {
				if tr, ok := e.trigger(ctx, key, rule, value, now); ok {
					transitions = append(transitions, tr)
				}
			}
			continue
		}

		if cond {
			// Cooldown expiry is checked before re-trigger suppression: a
			// pending resolve whose window closed ends the old incident
			// even when the condition is true again, and a fresh alert
			// opens for the new incident.
			if !st.pendingSince.IsZero() && st.expired(now) {
				if tr, ok := e.resolveState(ctx, key, st, now); ok {
					transitions = append(transitions, tr)
				} else {
					continue
				}
				if tr, ok := e.trigger(ctx, key, rule, value, now); ok {
					transitions = append(transitions, tr)
				}
				continue
			}
			st.pendingSince = time.Time{}
			e.setState(key, st)
			e.touchAlert(ctx, st.alertID, now)
			continue
		}

		if st.expired(now) {
			if tr, ok := e.resolveState(ctx, key, st, now); ok {
				transitions = append(transitions, tr)
			}
			continue
		}
		if st.pendingSince.IsZero() {
			st.pendingSince = now
			e.setState(key, st)
		}
	}

	return transitions, nil
}

// SweepPending resolves alerts whose condition went false during cooldown
// and whose window has since closed without a newer sample arriving. This
// is also how open alerts of disabled or deleted rules mature.
func (e *Engine) SweepPending(ctx context.Context, now time.Time) []Transition {
	e.stateMu.Lock()
	due := make(map[string][]stateKey)
	for key, st := range e.states {
		if !st.pendingSince.IsZero() && st.expired(now) {
			due[key.entityID] = append(due[key.entityID], key)
		}
	}
	e.stateMu.Unlock()

	var transitions []Transition
	for entityID, keys := range due {
		lock := e.entityLock(entityID)
		lock.Lock()
		for _, key := range keys {
			st, ok := e.getState(key)
			if !ok || st.pendingSince.IsZero() || !st.expired(now) {
				continue
			}
			if tr, ok := e.resolveState(ctx, key, st, now); ok {
				transitions = append(transitions, tr)
			}
		}
		lock.Unlock()
	}
	return transitions
}

// Acknowledge marks the alert as seen by an operator. Idempotent: a second
// acknowledge reports changed=false and leaves the original actor in place.
func (e *Engine) Acknowledge(ctx context.Context, alertID, by string) (models.Alert, bool, error) {
	alert, err := e.alerts.Get(ctx, alertID)
	if err != nil {
		return models.Alert{}, false, err
	}

	lock := e.entityLock(alert.EntityID)
	lock.Lock()
	defer lock.Unlock()

	alert, err = e.alerts.Get(ctx, alertID)
	if err != nil {
		return models.Alert{}, false, err
	}
	if !alert.Acknowledge(by, time.Now().UTC()) {
		return alert, false, nil
	}
	if err := e.alerts.Update(ctx, &alert); err != nil {
		return models.Alert{}, false, fmt.Errorf("persisting acknowledge: %w", err)
	}
	return alert, true, nil
}

// Resolve closes the alert on operator request. Idempotent: resolving an
// already-resolved alert reports changed=false and keeps the original
// resolved_at. The (rule, entity) pair becomes eligible to trigger a fresh
// alert immediately.
func (e *Engine) Resolve(ctx context.Context, alertID string) (models.Alert, bool, error) {
	alert, err := e.alerts.Get(ctx, alertID)
	if err != nil {
		return models.Alert{}, false, err
	}

	lock := e.entityLock(alert.EntityID)
	lock.Lock()
	defer lock.Unlock()

	alert, err = e.alerts.Get(ctx, alertID)
	if err != nil {
		return models.Alert{}, false, err
	}
	if !alert.Resolve(time.Now().UTC()) {
		return alert, false, nil
	}
	if err := e.alerts.Update(ctx, &alert); err != nil {
		return models.Alert{}, false, fmt.Errorf("persisting resolve: %w", err)
	}

	key := stateKey{ruleID: alert.RuleID, entityID: alert.EntityID}
	if st, ok := e.getState(key); ok && st.alertID == alert.ID {
		e.deleteState(key)
	}
	return alert, true, nil
}

// HasOpenAlerts reports whether the engine tracks at least one open alert
// for the entity. The coordinator folds this into the derived status.
func (e *Engine) HasOpenAlerts(entityID string) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for key := range e.states {
		if key.entityID == entityID {
			return true
		}
	}
	return false
}

// DropEntity forgets all state for an entity. Called when an entity is
// deregistered, after its alerts are deleted.
func (e *Engine) DropEntity(entityID string) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for key := range e.states {
		if key.entityID == entityID {
			delete(e.states, key)
		}
	}
}

// trigger opens a new alert for the pair. Persistence failure drops the
// transition and leaves no state, so the next true sample retries.
func (e *Engine) trigger(ctx context.Context, key stateKey, rule models.AlertRule, value float64, now time.Time) (Transition, bool) {
	alert := models.Alert{
		ID:          models.GenerateID("alert"),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		EntityID:    key.entityID,
		Severity:    rule.Severity,
		Message:     fmt.Sprintf("%s: %s is %.2f (%s %g)", rule.Name, rule.Metric, value, rule.Operator, rule.Threshold),
		Value:       value,
		Threshold:   rule.Threshold,
		TriggeredAt: now,
		LastSeenAt:  now,
	}
	if err := e.alerts.Create(ctx, &alert); err != nil {
		e.logger.Error("persisting new alert failed",
			zap.String("rule", rule.ID),
			zap.String("entity", key.entityID),
			zap.Error(err))
		return Transition{}, false
	}
	e.setState(key, alertState{
		alertID:     alert.ID,
		triggeredAt: now,
		cooldown:    rule.Cooldown(),
	})
	e.logger.Info("alert triggered",
		zap.String("alert", alert.ID),
		zap.String("rule", rule.ID),
		zap.String("entity", key.entityID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("value", value))
	return Transition{Kind: TransitionTriggered, Alert: alert}, true
}

// resolveState closes the pair's open alert. Persistence failure keeps the
// state so a later tick or sweep retries.
func (e *Engine) resolveState(ctx context.Context, key stateKey, st alertState, now time.Time) (Transition, bool) {
	alert, err := e.alerts.Get(ctx, st.alertID)
	if errs.IsNotFound(err) {
		e.deleteState(key)
		return Transition{}, false
	}
	if err != nil {
		e.logger.Error("loading alert for auto-resolve failed",
			zap.String("alert", st.alertID), zap.Error(err))
		return Transition{}, false
	}
	if alert.Resolve(now) {
		if err := e.alerts.Update(ctx, &alert); err != nil {
			e.logger.Error("persisting auto-resolve failed",
				zap.String("alert", alert.ID), zap.Error(err))
			return Transition{}, false
		}
	}
	e.deleteState(key)
	e.logger.Info("alert auto-resolved",
		zap.String("alert", alert.ID),
		zap.String("rule", key.ruleID),
		zap.String("entity", key.entityID))
	return Transition{Kind: TransitionResolved, Alert: alert}, true
}

// touchAlert advances last_seen_at while a condition stays true.
func (e *Engine) touchAlert(ctx context.Context, alertID string, now time.Time) {
	alert, err := e.alerts.Get(ctx, alertID)
	if err != nil {
		e.logger.Debug("touching alert failed", zap.String("alert", alertID), zap.Error(err))
		return
	}
	if now.After(alert.LastSeenAt) {
		alert.LastSeenAt = now
		if err := e.alerts.Update(ctx, &alert); err != nil {
			e.logger.Debug("touching alert failed", zap.String("alert", alertID), zap.Error(err))
		}
	}
}

func (e *Engine) entityLock(entityID string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[entityID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[entityID] = lock
	}
	return lock
}

func (e *Engine) getState(key stateKey) (alertState, bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st, ok := e.states[key]
	return st, ok
}

func (e *Engine) setState(key stateKey, st alertState) {
	e.stateMu.Lock()
	e.states[key] = st
	e.stateMu.Unlock()
}

func (e *Engine) deleteState(key stateKey) {
	e.stateMu.Lock()
	delete(e.states, key)
	e.stateMu.Unlock()
}

// compare applies the rule operator. Equality is exact floating-point
// comparison; rules needing tolerance should use a >= / <= pair.
func compare(value float64, op models.Operator, threshold float64) bool {
	switch op {
	case models.OpGreater:
		return value > threshold
	case models.OpLess:
		return value < threshold
	case models.OpGreaterEqual:
		return value >= threshold
	case models.OpLessEqual:
		return value <= threshold
	case models.OpEqual:
		return value == threshold
	case models.OpNotEqual:
		return value != threshold
	}
	return false
}
