package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// The memory backends serve standalone deployments and tests. Every record
// is copied on the way in and out so callers can never alias store state.

// MemorySnapshotBackend keeps per-entity history ordered by timestamp.
type MemorySnapshotBackend struct {
	mu       sync.RWMutex
	byEntity map[string][]models.MetricSnapshot
}

// NewMemorySnapshotBackend creates an empty in-memory snapshot backend.
func NewMemorySnapshotBackend() *MemorySnapshotBackend {
	return &MemorySnapshotBackend{byEntity: make(map[string][]models.MetricSnapshot)}
}

// Upsert inserts the snapshot into the entity's history, replacing any
// snapshot that already carries the same timestamp.
func (m *MemorySnapshotBackend) Upsert(_ context.Context, snap models.MetricSnapshot) error {
	snap = snap.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	series := m.byEntity[snap.EntityID]
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(snap.Timestamp)
	})
	if i < len(series) && series[i].Timestamp.Equal(snap.Timestamp) {
		series[i] = snap
		return nil
	}
	series = append(series, models.MetricSnapshot{})
	copy(series[i+1:], series[i:])
	series[i] = snap
	m.byEntity[snap.EntityID] = series
	return nil
}

func (m *MemorySnapshotBackend) Query(_ context.Context, f SnapshotFilter) ([]models.MetricSnapshot, int64, error) {
	m.mu.RLock()
	var matched []models.MetricSnapshot
	for id, series := range m.byEntity {
		if f.EntityID != "" && id != f.EntityID {
			continue
		}
		for _, snap := range series {
			if !f.Start.IsZero() && snap.Timestamp.Before(f.Start) {
				continue
			}
			if !f.End.IsZero() && snap.Timestamp.After(f.End) {
				continue
			}
			if f.Category != "" && !snap.HasCategory(f.Category) {
				continue
			}
			matched = append(matched, snap)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].EntityID < matched[j].EntityID
	})

	total := int64(len(matched))
	page := pageWindow(matched, f.Page, f.Size)
	out := make([]models.MetricSnapshot, 0, len(page))
	for _, snap := range page {
		out = append(out, snap.Clone())
	}
	return out, total, nil
}

func (m *MemorySnapshotBackend) LatestPerEntity(_ context.Context) ([]models.MetricSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.MetricSnapshot, 0, len(m.byEntity))
	for _, series := range m.byEntity {
		if len(series) == 0 {
			continue
		}
		out = append(out, series[len(series)-1].Clone())
	}
	return out, nil
}

func (m *MemorySnapshotBackend) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, series := range m.byEntity {
		i := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(cutoff)
		})
		if i == 0 {
			continue
		}
		removed += int64(i)
		if i == len(series) {
			delete(m.byEntity, id)
			continue
		}
		kept := make([]models.MetricSnapshot, len(series)-i)
		copy(kept, series[i:])
		m.byEntity[id] = kept
	}
	return removed, nil
}

func (m *MemorySnapshotBackend) DeleteEntity(_ context.Context, entityID string) error {
	m.mu.Lock()
	delete(m.byEntity, entityID)
	m.mu.Unlock()
	return nil
}

func (m *MemorySnapshotBackend) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, series := range m.byEntity {
		n += int64(len(series))
	}
	return n, nil
}

// MemoryEntityStore keeps the entity registry in a map.
type MemoryEntityStore struct {
	mu      sync.RWMutex
	records map[string]models.Entity
}

// NewMemoryEntityStore creates an empty in-memory entity store.
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{records: make(map[string]models.Entity)}
}

func (m *MemoryEntityStore) Create(_ context.Context, entity *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[entity.ID]; ok {
		return errs.NewConflict("entity", entity.ID)
	}
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = entity.CreatedAt
	m.records[entity.ID] = cloneEntity(*entity)
	return nil
}

func (m *MemoryEntityStore) Get(_ context.Context, id string) (models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entity, ok := m.records[id]
	if !ok {
		return models.Entity{}, errs.NewNotFound("entity", id)
	}
	return cloneEntity(entity), nil
}

func (m *MemoryEntityStore) List(_ context.Context, f EntityFilter) ([]models.Entity, int64, error) {
	m.mu.RLock()
	var matched []models.Entity
	for _, entity := range m.records {
		if f.Kind != "" && entity.Kind != f.Kind {
			continue
		}
		if f.Status != "" && entity.Status != f.Status {
			continue
		}
		matched = append(matched, entity)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	page := pageWindow(matched, f.Page, f.Size)
	out := make([]models.Entity, 0, len(page))
	for _, entity := range page {
		out = append(out, cloneEntity(entity))
	}
	return out, total, nil
}

func (m *MemoryEntityStore) UpdateInfo(_ context.Context, id string, upd EntityUpdate) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, ok := m.records[id]
	if !ok {
		return models.Entity{}, errs.NewNotFound("entity", id)
	}
	if upd.Name != nil {
		entity.Name = *upd.Name
	}
	if upd.Hostname != nil {
		entity.Hostname = *upd.Hostname
	}
	if upd.Labels != nil {
		entity.Labels = cloneLabels(upd.Labels)
	}
	entity.UpdatedAt = time.Now().UTC()
	m.records[id] = entity
	return cloneEntity(entity), nil
}

func (m *MemoryEntityStore) SetStatus(_ context.Context, id string, status models.EntityStatus, lastSeen *time.Time) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, ok := m.records[id]
	if !ok {
		return models.Entity{}, errs.NewNotFound("entity", id)
	}
	entity.Status = status
	if lastSeen != nil {
		seen := lastSeen.UTC()
		entity.LastSeen = &seen
	}
	entity.UpdatedAt = time.Now().UTC()
	m.records[id] = entity
	return cloneEntity(entity), nil
}

func (m *MemoryEntityStore) SetAPIKeyHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, ok := m.records[id]
	if !ok {
		return errs.NewNotFound("entity", id)
	}
	entity.APIKeyHash = hash
	entity.UpdatedAt = time.Now().UTC()
	m.records[id] = entity
	return nil
}

func (m *MemoryEntityStore) FindByAPIKeyHash(_ context.Context, hash string) (models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entity := range m.records {
		if entity.APIKeyHash != "" && entity.APIKeyHash == hash {
			return cloneEntity(entity), nil
		}
	}
	return models.Entity{}, errs.NewNotFound("entity", keyHashHint(hash))
}

func (m *MemoryEntityStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return errs.NewNotFound("entity", id)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryEntityStore) CountByStatus(_ context.Context) (map[models.EntityStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.EntityStatus]int64)
	for _, entity := range m.records {
		counts[entity.Status]++
	}
	return counts, nil
}

// MemoryRuleStore keeps alert rules in a map.
type MemoryRuleStore struct {
	mu      sync.RWMutex
	records map[string]models.AlertRule
}

// NewMemoryRuleStore creates an empty in-memory rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{records: make(map[string]models.AlertRule)}
}

func (m *MemoryRuleStore) Create(_ context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rule.ID]; ok {
		return errs.NewConflict("rule", rule.ID)
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = rule.CreatedAt
	m.records[rule.ID] = cloneRule(*rule)
	return nil
}

func (m *MemoryRuleStore) Get(_ context.Context, id string) (models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.records[id]
	if !ok {
		return models.AlertRule{}, errs.NewNotFound("rule", id)
	}
	return cloneRule(rule), nil
}

func (m *MemoryRuleStore) List(_ context.Context, f RuleFilter) ([]models.AlertRule, int64, error) {
	m.mu.RLock()
	var matched []models.AlertRule
	for _, rule := range m.records {
		if f.Enabled != nil && rule.Enabled != *f.Enabled {
			continue
		}
		matched = append(matched, rule)
	}
	m.mu.RUnlock()

	sortRulesByCreation(matched)

	total := int64(len(matched))
	page := pageWindow(matched, f.Page, f.Size)
	out := make([]models.AlertRule, 0, len(page))
	for _, rule := range page {
		out = append(out, cloneRule(rule))
	}
	return out, total, nil
}

func (m *MemoryRuleStore) ActiveForEntity(_ context.Context, entityID string) ([]models.AlertRule, error) {
	m.mu.RLock()
	var matched []models.AlertRule
	for _, rule := range m.records {
		if rule.Enabled && rule.AppliesTo(entityID) {
			matched = append(matched, rule)
		}
	}
	m.mu.RUnlock()

	sortRulesByCreation(matched)

	out := make([]models.AlertRule, 0, len(matched))
	for _, rule := range matched {
		out = append(out, cloneRule(rule))
	}
	return out, nil
}

func (m *MemoryRuleStore) Update(_ context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[rule.ID]
	if !ok {
		return errs.NewNotFound("rule", rule.ID)
	}
	rule.CreatedAt = stored.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	m.records[rule.ID] = cloneRule(*rule)
	return nil
}

func (m *MemoryRuleStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return errs.NewNotFound("rule", id)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryRuleStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// MemoryAlertStore keeps alerts in a map.
type MemoryAlertStore struct {
	mu      sync.RWMutex
	records map[string]models.Alert
}

// NewMemoryAlertStore creates an empty in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{records: make(map[string]models.Alert)}
}

func (m *MemoryAlertStore) Create(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[alert.ID]; ok {
		return errs.NewConflict("alert", alert.ID)
	}
	m.records[alert.ID] = cloneAlert(*alert)
	return nil
}

func (m *MemoryAlertStore) Get(_ context.Context, id string) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.records[id]
	if !ok {
		return models.Alert{}, errs.NewNotFound("alert", id)
	}
	return cloneAlert(alert), nil
}

func (m *MemoryAlertStore) List(_ context.Context, f AlertFilter) ([]models.Alert, int64, error) {
	m.mu.RLock()
	var matched []models.Alert
	for _, alert := range m.records {
		if f.EntityID != "" && alert.EntityID != f.EntityID {
			continue
		}
		if f.Severity != "" && alert.Severity != f.Severity {
			continue
		}
		if f.Resolved != nil && alert.Resolved != *f.Resolved {
			continue
		}
		matched = append(matched, alert)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].TriggeredAt.Equal(matched[j].TriggeredAt) {
			return matched[i].TriggeredAt.After(matched[j].TriggeredAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	page := pageWindow(matched, f.Page, f.Size)
	out := make([]models.Alert, 0, len(page))
	for _, alert := range page {
		out = append(out, cloneAlert(alert))
	}
	return out, total, nil
}

func (m *MemoryAlertStore) Update(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[alert.ID]; !ok {
		return errs.NewNotFound("alert", alert.ID)
	}
	m.records[alert.ID] = cloneAlert(*alert)
	return nil
}

func (m *MemoryAlertStore) ListOpen(_ context.Context) ([]models.Alert, error) {
	m.mu.RLock()
	var open []models.Alert
	for _, alert := range m.records {
		if !alert.Resolved {
			open = append(open, alert)
		}
	}
	m.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool {
		if !open[i].TriggeredAt.Equal(open[j].TriggeredAt) {
			return open[i].TriggeredAt.Before(open[j].TriggeredAt)
		}
		return open[i].ID < open[j].ID
	})

	out := make([]models.Alert, 0, len(open))
	for _, alert := range open {
		out = append(out, cloneAlert(alert))
	}
	return out, nil
}

func (m *MemoryAlertStore) OpenCountBySeverity(_ context.Context) (map[models.Severity]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.Severity]int64)
	for _, alert := range m.records {
		if !alert.Resolved {
			counts[alert.Severity]++
		}
	}
	return counts, nil
}

func (m *MemoryAlertStore) DeleteByEntity(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, alert := range m.records {
		if alert.EntityID == entityID {
			delete(m.records, id)
		}
	}
	return nil
}

// pageWindow slices the already-sorted result set. Size of zero or less
// disables paging and returns everything.
func pageWindow[T any](items []T, page, size int) []T {
	if size <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(items) {
		return nil
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func sortRulesByCreation(rules []models.AlertRule) {
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

func cloneEntity(e models.Entity) models.Entity {
	out := e
	out.Labels = cloneLabels(e.Labels)
	if e.LastSeen != nil {
		seen := *e.LastSeen
		out.LastSeen = &seen
	}
	return out
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func cloneRule(r models.AlertRule) models.AlertRule {
	out := r
	if r.Channels != nil {
		out.Channels = append([]string(nil), r.Channels...)
	}
	return out
}

func cloneAlert(a models.Alert) models.Alert {
	out := a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

func keyHashHint(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
