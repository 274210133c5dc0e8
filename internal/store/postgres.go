package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// postgresStore owns the shared gorm handle; the per-resource stores hang
// off it. Schema migration runs at open.
type postgresStore struct {
	db *gorm.DB
}

func openPostgres(cfg *config.Config, logger *zap.Logger) (*postgresStore, error) {
	gcfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
	if cfg.Database.LogQueries {
		gcfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), gcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	if err := db.AutoMigrate(&entityRow{}, &snapshotRow{}, &ruleRow{}, &alertRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("postgres store ready",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns))
	return &postgresStore{db: db}, nil
}

func (p *postgresStore) entities() EntityStore      { return &postgresEntityStore{db: p.db} }
func (p *postgresStore) rules() RuleStore           { return &postgresRuleStore{db: p.db} }
func (p *postgresStore) alerts() AlertStore         { return &postgresAlertStore{db: p.db} }
func (p *postgresStore) snapshots() SnapshotBackend { return &postgresSnapshotBackend{db: p.db} }

type entityRow struct {
	ID         string `gorm:"primaryKey;size:128"`
	Kind       string `gorm:"size:16;index"`
	Name       string `gorm:"size:256"`
	Hostname   string `gorm:"size:256"`
	Labels     []byte `gorm:"type:jsonb"`
	Status     string `gorm:"size:16;index"`
	LastSeen   *time.Time
	APIKeyHash string `gorm:"column:api_key_hash;size:64;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (entityRow) TableName() string { return "entities" }

func newEntityRow(e models.Entity) (entityRow, error) {
	labels, err := json.Marshal(e.Labels)
	if err != nil {
		return entityRow{}, fmt.Errorf("encoding labels: %w", err)
	}
	return entityRow{
		ID:         e.ID,
		Kind:       string(e.Kind),
		Name:       e.Name,
		Hostname:   e.Hostname,
		Labels:     labels,
		Status:     string(e.Status),
		LastSeen:   e.LastSeen,
		APIKeyHash: e.APIKeyHash,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}, nil
}

func (r entityRow) entity() (models.Entity, error) {
	var labels map[string]string
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &labels); err != nil {
			return models.Entity{}, fmt.Errorf("decoding labels of %s: %w", r.ID, err)
		}
	}
	return models.Entity{
		ID:         r.ID,
		Kind:       models.EntityKind(r.Kind),
		Name:       r.Name,
		Hostname:   r.Hostname,
		Labels:     labels,
		Status:     models.EntityStatus(r.Status),
		LastSeen:   r.LastSeen,
		APIKeyHash: r.APIKeyHash,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

type postgresEntityStore struct {
	db *gorm.DB
}

func (s *postgresEntityStore) Create(ctx context.Context, entity *models.Entity) error {
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = entity.CreatedAt

	row, err := newEntityRow(*entity)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.NewConflict("entity", entity.ID)
		}
		return fmt.Errorf("creating entity: %w", err)
	}
	return nil
}

func (s *postgresEntityStore) Get(ctx context.Context, id string) (models.Entity, error) {
	var row entityRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Entity{}, errs.NewNotFound("entity", id)
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("fetching entity: %w", err)
	}
	return row.entity()
}

func (s *postgresEntityStore) List(ctx context.Context, f EntityFilter) ([]models.Entity, int64, error) {
	q := s.db.WithContext(ctx).Model(&entityRow{})
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting entities: %w", err)
	}

	q = q.Order("created_at ASC, id ASC")
	if f.Size > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Size).Limit(f.Size)
	}

	var rows []entityRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("listing entities: %w", err)
	}
	out := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		entity, err := row.entity()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, entity)
	}
	return out, total, nil
}

func (s *postgresEntityStore) UpdateInfo(ctx context.Context, id string, upd EntityUpdate) (models.Entity, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if upd.Name != nil {
		updates["name"] = *upd.Name
	}
	if upd.Hostname != nil {
		updates["hostname"] = *upd.Hostname
	}
	if upd.Labels != nil {
		labels, err := json.Marshal(upd.Labels)
		if err != nil {
			return models.Entity{}, fmt.Errorf("encoding labels: %w", err)
		}
		updates["labels"] = labels
	}

	res := s.db.WithContext(ctx).Model(&entityRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return models.Entity{}, fmt.Errorf("updating entity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Entity{}, errs.NewNotFound("entity", id)
	}
	return s.Get(ctx, id)
}

func (s *postgresEntityStore) SetStatus(ctx context.Context, id string, status models.EntityStatus, lastSeen *time.Time) (models.Entity, error) {
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	if lastSeen != nil {
		updates["last_seen"] = lastSeen.UTC()
	}

	res := s.db.WithContext(ctx).Model(&entityRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return models.Entity{}, fmt.Errorf("updating entity status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Entity{}, errs.NewNotFound("entity", id)
	}
	return s.Get(ctx, id)
}

func (s *postgresEntityStore) SetAPIKeyHash(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).Model(&entityRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"api_key_hash": hash,
		"updated_at":   time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("updating entity api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NewNotFound("entity", id)
	}
	return nil
}

func (s *postgresEntityStore) FindByAPIKeyHash(ctx context.Context, hash string) (models.Entity, error) {
	var row entityRow
	err := s.db.WithContext(ctx).First(&row, "api_key_hash = ? AND api_key_hash <> ''", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Entity{}, errs.NewNotFound("entity", keyHashHint(hash))
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("fetching entity by api key: %w", err)
	}
	return row.entity()
}

func (s *postgresEntityStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&entityRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting entity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NewNotFound("entity", id)
	}
	return nil
}

func (s *postgresEntityStore) CountByStatus(ctx context.Context) (map[models.EntityStatus]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&entityRow{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting entities by status: %w", err)
	}
	counts := make(map[models.EntityStatus]int64, len(rows))
	for _, row := range rows {
		counts[models.EntityStatus(row.Status)] = row.N
	}
	return counts, nil
}

type snapshotRow struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	EntityID  string    `gorm:"size:128;uniqueIndex:ux_snapshots_entity_ts"`
	Timestamp time.Time `gorm:"uniqueIndex:ux_snapshots_entity_ts;index"`
	Payload   []byte    `gorm:"type:jsonb"`
}

func (snapshotRow) TableName() string { return "snapshots" }

func newSnapshotRow(snap models.MetricSnapshot) (snapshotRow, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	return snapshotRow{
		EntityID:  snap.EntityID,
		Timestamp: snap.Timestamp.UTC(),
		Payload:   payload,
	}, nil
}

func (r snapshotRow) snapshot() (models.MetricSnapshot, error) {
	var snap models.MetricSnapshot
	if err := json.Unmarshal(r.Payload, &snap); err != nil {
		return models.MetricSnapshot{}, fmt.Errorf("decoding snapshot %d: %w", r.ID, err)
	}
	return snap, nil
}

// categoryPayloadKey maps a metric category to the JSON key that carries it
// inside the payload column. disk and disk_io share a section, mirroring
// MetricSnapshot.HasCategory.
func categoryPayloadKey(category string) (string, bool) {
	switch category {
	case models.CategoryCPU:
		return "cpu", true
	case models.CategoryMemory:
		return "memory", true
	case models.CategoryDisk, models.CategoryDiskIO:
		return "disk", true
	case models.CategoryNetwork:
		return "network", true
	case models.CategoryContainers:
		return "containers", true
	case models.CategoryHealthChecks:
		return "services", true
	case models.CategoryCluster:
		return "cluster", true
	}
	return "", false
}

type postgresSnapshotBackend struct {
	db *gorm.DB
}

func (s *postgresSnapshotBackend) Upsert(ctx context.Context, snap models.MetricSnapshot) error {
	row, err := newSnapshotRow(snap)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

func (s *postgresSnapshotBackend) Query(ctx context.Context, f SnapshotFilter) ([]models.MetricSnapshot, int64, error) {
	q := s.db.WithContext(ctx).Model(&snapshotRow{})
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if !f.Start.IsZero() {
		q = q.Where("timestamp >= ?", f.Start.UTC())
	}
	if !f.End.IsZero() {
		q = q.Where("timestamp <= ?", f.End.UTC())
	}
	if f.Category != "" {
		key, ok := categoryPayloadKey(f.Category)
		if !ok {
			return nil, 0, nil
		}
		q = q.Where("jsonb_exists(payload, ?)", key)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting snapshots: %w", err)
	}

	q = q.Order("timestamp DESC, entity_id ASC")
	if f.Size > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Size).Limit(f.Size)
	}

	var rows []snapshotRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("querying snapshots: %w", err)
	}
	out := make([]models.MetricSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.snapshot()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, snap)
	}
	return out, total, nil
}

func (s *postgresSnapshotBackend) LatestPerEntity(ctx context.Context) ([]models.MetricSnapshot, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Raw("SELECT DISTINCT ON (entity_id) id, entity_id, timestamp, payload FROM snapshots ORDER BY entity_id, timestamp DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetching latest snapshots: %w", err)
	}
	out := make([]models.MetricSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *postgresSnapshotBackend) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&snapshotRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting old snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *postgresSnapshotBackend) DeleteEntity(ctx context.Context, entityID string) error {
	err := s.db.WithContext(ctx).Where("entity_id = ?", entityID).Delete(&snapshotRow{}).Error
	if err != nil {
		return fmt.Errorf("deleting entity snapshots: %w", err)
	}
	return nil
}

func (s *postgresSnapshotBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&snapshotRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}

type ruleRow struct {
	ID              string `gorm:"primaryKey;size:128"`
	Name            string `gorm:"size:256"`
	Description     string
	EntityID        string `gorm:"size:128;index"`
	Metric          string `gorm:"size:128"`
	Operator        string `gorm:"size:4"`
	Threshold       float64
	Severity        string `gorm:"size:16"`
	Enabled         bool   `gorm:"index"`
	CooldownSeconds int
	Channels        []byte `gorm:"type:jsonb"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ruleRow) TableName() string { return "alert_rules" }

func newRuleRow(rule models.AlertRule) (ruleRow, error) {
	channels, err := json.Marshal(rule.Channels)
	if err != nil {
		return ruleRow{}, fmt.Errorf("encoding channels: %w", err)
	}
	return ruleRow{
		ID:              rule.ID,
		Name:            rule.Name,
		Description:     rule.Description,
		EntityID:        rule.EntityID,
		Metric:          rule.Metric,
		Operator:        string(rule.Operator),
		Threshold:       rule.Threshold,
		Severity:        string(rule.Severity),
		Enabled:         rule.Enabled,
		CooldownSeconds: rule.CooldownSeconds,
		Channels:        channels,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}, nil
}

func (r ruleRow) rule() (models.AlertRule, error) {
	var channels []string
	if len(r.Channels) > 0 {
		if err := json.Unmarshal(r.Channels, &channels); err != nil {
			return models.AlertRule{}, fmt.Errorf("decoding channels of %s: %w", r.ID, err)
		}
	}
	return models.AlertRule{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		EntityID:        r.EntityID,
		Metric:          r.Metric,
		Operator:        models.Operator(r.Operator),
		Threshold:       r.Threshold,
		Severity:        models.Severity(r.Severity),
		Enabled:         r.Enabled,
		CooldownSeconds: r.CooldownSeconds,
		Channels:        channels,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

type postgresRuleStore struct {
	db *gorm.DB
}

func (s *postgresRuleStore) Create(ctx context.Context, rule *models.AlertRule) error {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = rule.CreatedAt

	row, err := newRuleRow(*rule)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.NewConflict("rule", rule.ID)
		}
		return fmt.Errorf("creating rule: %w", err)
	}
	return nil
}

func (s *postgresRuleStore) Get(ctx context.Context, id string) (models.AlertRule, error) {
	var row ruleRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AlertRule{}, errs.NewNotFound("rule", id)
	}
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("fetching rule: %w", err)
	}
	return row.rule()
}

func (s *postgresRuleStore) List(ctx context.Context, f RuleFilter) ([]models.AlertRule, int64, error) {
	q := s.db.WithContext(ctx).Model(&ruleRow{})
	if f.Enabled != nil {
		q = q.Where("enabled = ?", *f.Enabled)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting rules: %w", err)
	}

	q = q.Order("created_at ASC, id ASC")
	if f.Size > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Size).Limit(f.Size)
	}

	var rows []ruleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("listing rules: %w", err)
	}
	out := make([]models.AlertRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.rule()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rule)
	}
	return out, total, nil
}

func (s *postgresRuleStore) ActiveForEntity(ctx context.Context, entityID string) ([]models.AlertRule, error) {
	var rows []ruleRow
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND (entity_id = '' OR entity_id = ?)", true, entityID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing rules for entity: %w", err)
	}
	out := make([]models.AlertRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.rule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *postgresRuleStore) Update(ctx context.Context, rule *models.AlertRule) error {
	stored, err := s.Get(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.CreatedAt = stored.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	row, err := newRuleRow(*rule)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}
	return nil
}

func (s *postgresRuleStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ruleRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NewNotFound("rule", id)
	}
	return nil
}

func (s *postgresRuleStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ruleRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting rules: %w", err)
	}
	return n, nil
}

type alertRow struct {
	ID             string `gorm:"primaryKey;size:128"`
	RuleID         string `gorm:"size:128;index"`
	RuleName       string `gorm:"size:256"`
	EntityID       string `gorm:"size:128;index"`
	Severity       string `gorm:"size:16;index"`
	Message        string
	Value          float64
	Threshold      float64
	TriggeredAt    time.Time `gorm:"index"`
	LastSeenAt     time.Time
	Acknowledged   bool
	AcknowledgedBy string `gorm:"size:128"`
	AcknowledgedAt *time.Time
	Resolved       bool `gorm:"index"`
	ResolvedAt     *time.Time
}

func (alertRow) TableName() string { return "alerts" }

func newAlertRow(a models.Alert) alertRow {
	return alertRow{
		ID:             a.ID,
		RuleID:         a.RuleID,
		RuleName:       a.RuleName,
		EntityID:       a.EntityID,
		Severity:       string(a.Severity),
		Message:        a.Message,
		Value:          a.Value,
		Threshold:      a.Threshold,
		TriggeredAt:    a.TriggeredAt,
		LastSeenAt:     a.LastSeenAt,
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
		Resolved:       a.Resolved,
		ResolvedAt:     a.ResolvedAt,
	}
}

func (r alertRow) alert() models.Alert {
	return models.Alert{
		ID:             r.ID,
		RuleID:         r.RuleID,
		RuleName:       r.RuleName,
		EntityID:       r.EntityID,
		Severity:       models.Severity(r.Severity),
		Message:        r.Message,
		Value:          r.Value,
		Threshold:      r.Threshold,
		TriggeredAt:    r.TriggeredAt,
		LastSeenAt:     r.LastSeenAt,
		Acknowledged:   r.Acknowledged,
		AcknowledgedBy: r.AcknowledgedBy,
		AcknowledgedAt: r.AcknowledgedAt,
		Resolved:       r.Resolved,
		ResolvedAt:     r.ResolvedAt,
	}
}

type postgresAlertStore struct {
	db *gorm.DB
}

func (s *postgresAlertStore) Create(ctx context.Context, alert *models.Alert) error {
	row := newAlertRow(*alert)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.NewConflict("alert", alert.ID)
		}
		return fmt.Errorf("creating alert: %w", err)
	}
	return nil
}

func (s *postgresAlertStore) Get(ctx context.Context, id string) (models.Alert, error) {
	var row alertRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Alert{}, errs.NewNotFound("alert", id)
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("fetching alert: %w", err)
	}
	return row.alert(), nil
}

func (s *postgresAlertStore) List(ctx context.Context, f AlertFilter) ([]models.Alert, int64, error) {
	q := s.db.WithContext(ctx).Model(&alertRow{})
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	if f.Resolved != nil {
		q = q.Where("resolved = ?", *f.Resolved)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting alerts: %w", err)
	}

	q = q.Order("triggered_at DESC, id ASC")
	if f.Size > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Size).Limit(f.Size)
	}

	var rows []alertRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("listing alerts: %w", err)
	}
	out := make([]models.Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.alert())
	}
	return out, total, nil
}

func (s *postgresAlertStore) Update(ctx context.Context, alert *models.Alert) error {
	row := newAlertRow(*alert)
	res := s.db.WithContext(ctx).Model(&alertRow{}).Where("id = ?", alert.ID).Select("*").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("updating alert: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NewNotFound("alert", alert.ID)
	}
	return nil
}

func (s *postgresAlertStore) ListOpen(ctx context.Context) ([]models.Alert, error) {
	var rows []alertRow
	err := s.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("triggered_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing open alerts: %w", err)
	}
	out := make([]models.Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.alert())
	}
	return out, nil
}

func (s *postgresAlertStore) OpenCountBySeverity(ctx context.Context) (map[models.Severity]int64, error) {
	var rows []struct {
		Severity string
		N        int64
	}
	err := s.db.WithContext(ctx).Model(&alertRow{}).
		Select("severity, count(*) as n").
		Where("resolved = ?", false).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting open alerts: %w", err)
	}
	counts := make(map[models.Severity]int64, len(rows))
	for _, row := range rows {
		counts[models.Severity(row.Severity)] = row.N
	}
	return counts, nil
}

func (s *postgresAlertStore) DeleteByEntity(ctx context.Context, entityID string) error {
	err := s.db.WithContext(ctx).Where("entity_id = ?", entityID).Delete(&alertRow{}).Error
	if err != nil {
		return fmt.Errorf("deleting entity alerts: %w", err)
	}
	return nil
}
