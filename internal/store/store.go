// Package store persists entities, snapshots, alert rules and alerts.
//
// Snapshot persistence is split in two: dumb backends (in-memory for
// standalone/test deployments, PostgreSQL for durable ones) implement
// SnapshotBackend, and the TimeSeries façade on top owns the semantics the
// rest of the system relies on: idempotent append per (entity, timestamp),
// the in-memory latest-per-entity cache, pagination clamping and retention.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// SnapshotFilter selects snapshots for Query. Zero time bounds are
// unbounded; empty EntityID matches all entities; Category keeps only
// snapshots carrying that sub-reading.
type SnapshotFilter struct {
	EntityID string
	Category string
	Start    time.Time
	End      time.Time
	Page     int
	Size     int
}

// EntityFilter selects entities for listing.
type EntityFilter struct {
	Kind   models.EntityKind
	Status models.EntityStatus
	Page   int
	Size   int
}

// AlertFilter selects alerts for listing. Resolved nil means both open and
// resolved alerts.
type AlertFilter struct {
	EntityID string
	Severity models.Severity
	Resolved *bool
	Page     int
	Size     int
}

// RuleFilter selects alert rules for listing. Page/Size of zero lists all.
type RuleFilter struct {
	Enabled *bool
	Page    int
	Size    int
}

// EntityUpdate carries the operator-editable entity fields. Nil fields are
// left unchanged. Status and LastSeen are deliberately absent: those are
// derived and written only through SetStatus.
type EntityUpdate struct {
	Name     *string
	Hostname *string
	Labels   map[string]string
}

// EntityStore persists the entity registry.
type EntityStore interface {
	Create(ctx context.Context, entity *models.Entity) error
	Get(ctx context.Context, id string) (models.Entity, error)
	List(ctx context.Context, f EntityFilter) ([]models.Entity, int64, error)
	UpdateInfo(ctx context.Context, id string, upd EntityUpdate) (models.Entity, error)

	// SetStatus writes the derived status; lastSeen nil keeps the stored
	// value. Callers serialize per entity (the coordinator's keyed lock).
	SetStatus(ctx context.Context, id string, status models.EntityStatus, lastSeen *time.Time) (models.Entity, error)

	SetAPIKeyHash(ctx context.Context, id, hash string) error
	FindByAPIKeyHash(ctx context.Context, hash string) (models.Entity, error)
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[models.EntityStatus]int64, error)
}

// RuleStore persists alert rules.
type RuleStore interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	Get(ctx context.Context, id string) (models.AlertRule, error)
	List(ctx context.Context, f RuleFilter) ([]models.AlertRule, int64, error)

	// ActiveForEntity returns the enabled rules in scope for the entity,
	// ordered by creation time (then ID). This is the engine's hot path.
	ActiveForEntity(ctx context.Context, entityID string) ([]models.AlertRule, error)

	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// AlertStore persists alerts. Alerts are never deleted except when their
// entity is deregistered.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
	Get(ctx context.Context, id string) (models.Alert, error)
	List(ctx context.Context, f AlertFilter) ([]models.Alert, int64, error)
	Update(ctx context.Context, alert *models.Alert) error

	// ListOpen returns all unresolved alerts; the rule engine restores its
	// state machine from this at boot.
	ListOpen(ctx context.Context) ([]models.Alert, error)

	OpenCountBySeverity(ctx context.Context) (map[models.Severity]int64, error)
	DeleteByEntity(ctx context.Context, entityID string) error
}

// SnapshotBackend is the persistence half of the time series. Upsert
// replaces an existing row with the same (entity, timestamp).
type SnapshotBackend interface {
	Upsert(ctx context.Context, snap models.MetricSnapshot) error
	Query(ctx context.Context, f SnapshotFilter) ([]models.MetricSnapshot, int64, error)
	LatestPerEntity(ctx context.Context) ([]models.MetricSnapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEntity(ctx context.Context, entityID string) error
	Count(ctx context.Context) (int64, error)
}

// Store bundles every persistence concern behind one handle.
type Store struct {
	Entities  EntityStore
	Rules     RuleStore
	Alerts    AlertStore
	Snapshots *TimeSeries

	driver string
}

// Driver names the active backend ("memory" or "postgres").
func (s *Store) Driver() string { return s.driver }

// Open builds the store stack selected by the configuration and warms the
// latest-per-entity cache.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	var (
		entities EntityStore
		rules    RuleStore
		alerts   AlertStore
		backend  SnapshotBackend
	)

	switch cfg.Database.Driver {
	case "memory":
		entities = NewMemoryEntityStore()
		rules = NewMemoryRuleStore()
		alerts = NewMemoryAlertStore()
		backend = NewMemorySnapshotBackend()
	case "postgres":
		pg, err := openPostgres(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		entities = pg.entities()
		rules = pg.rules()
		alerts = pg.alerts()
		backend = pg.snapshots()
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	ts := NewTimeSeries(backend, logger, cfg.Query.DefaultPageSize, cfg.Query.MaxPageSize)
	if err := ts.WarmLatest(ctx); err != nil {
		return nil, fmt.Errorf("warming latest-snapshot cache: %w", err)
	}

	return &Store{
		Entities:  entities,
		Rules:     rules,
		Alerts:    alerts,
		Snapshots: ts,
		driver:    cfg.Database.Driver,
	}, nil
}
