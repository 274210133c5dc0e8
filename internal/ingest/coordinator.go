// Package ingest orchestrates the write path: normalize the raw batch, mark
// the entity alive, persist the snapshot, evaluate rules, derive the entity
// status and publish events, in that order. Later stages never roll back
// earlier ones; producers retry on transient failures and the idempotent
// append makes the retry safe.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/internal/normalizer"
	"github.com/louissader/homelab-infrastructure-monitor/internal/rules"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/internal/telemetry"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// AlertEvent is the bus payload for alert lifecycle changes.
type AlertEvent struct {
	Action string       `json:"action"`
	Alert  models.Alert `json:"alert"`
}

// EntityStatusEvent is the bus payload for entity status changes.
type EntityStatusEvent struct {
	EntityID string              `json:"entity_id"`
	Status   models.EntityStatus `json:"status"`
	LastSeen *time.Time          `json:"last_seen,omitempty"`
}

// Coordinator serializes ingestion per entity. Distinct entities proceed in
// parallel; concurrent batches for the same entity queue on its lock so the
// store sees them in arrival order.
type Coordinator struct {
	normalizer *normalizer.Normalizer
	entities   store.EntityStore
	alerts     store.AlertStore
	snapshots  *store.TimeSeries
	engine     *rules.Engine
	bus        *bus.Bus
	metrics    *telemetry.Metrics
	logger     *zap.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	now func() time.Time
}

// New wires the pipeline stages together.
func New(
	norm *normalizer.Normalizer,
	st *store.Store,
	engine *rules.Engine,
	eventBus *bus.Bus,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		normalizer: norm,
		entities:   st.Entities,
		alerts:     st.Alerts,
		snapshots:  st.Snapshots,
		engine:     engine,
		bus:        eventBus,
		metrics:    metrics,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

// Ingest runs one raw batch through the full pipeline and returns the
// normalized snapshot that was stored.
//
// Error contract: a ValidationError or NotFoundError means nothing was
// persisted. A TransientError means the liveness update may already be
// applied; the producer should retry the same batch, which is safe because
// appends are idempotent per (entity, timestamp).
func (c *Coordinator) Ingest(ctx context.Context, entityID string, batch models.RawBatch) (models.MetricSnapshot, error) {
	start := c.now()

	snap, err := c.normalizer.Normalize(entityID, batch)
	if err != nil {
		c.metrics.IngestTotal.WithLabelValues(telemetry.ResultValidation).Inc()
		return models.MetricSnapshot{}, err
	}

	lock := c.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := c.entities.Get(ctx, entityID)
	if err != nil {
		if errs.IsNotFound(err) {
			c.metrics.IngestTotal.WithLabelValues(telemetry.ResultNotFound).Inc()
			return models.MetricSnapshot{}, err
		}
		c.metrics.IngestTotal.WithLabelValues(telemetry.ResultTransient).Inc()
		return models.MetricSnapshot{}, errs.NewTransient("loading entity", err)
	}
	prevStatus := entity.Status

	now := c.now().UTC()
	if _, err := c.entities.SetStatus(ctx, entityID, models.StatusOnline, &now); err != nil {
		c.metrics.IngestTotal.WithLabelValues(telemetry.ResultTransient).Inc()
		return models.MetricSnapshot{}, errs.NewTransient("updating liveness", err)
	}

	c.fillRates(&snap)

	if err := c.snapshots.Append(ctx, snap); err != nil {
		// The liveness update stays applied. Observers still learn the
		// entity is alive; the producer retries the batch.
		if prevStatus != models.StatusOnline {
			c.publishStatus(entityID, models.StatusOnline, &now)
		}
		c.metrics.IngestTotal.WithLabelValues(telemetry.ResultTransient).Inc()
		return models.MetricSnapshot{}, err
	}

	transitions, evalErr := c.engine.Evaluate(ctx, entityID, snap)
	if evalErr != nil {
		c.logger.Error("rule evaluation failed",
			zap.String("entity", entityID),
			zap.Error(evalErr))
	}

	status := c.deriveStatus(entityID, snap)
	if _, err := c.entities.SetStatus(ctx, entityID, status, &now); err != nil {
		c.logger.Error("persisting derived status failed",
			zap.String("entity", entityID),
			zap.String("status", string(status)),
			zap.Error(err))
	}

	c.bus.Publish(bus.Event{Type: bus.EventMetric, Data: snap})
	c.PublishTransitions(transitions)
	if status != prevStatus {
		c.publishStatus(entityID, status, &now)
	}

	if evalErr != nil {
		c.metrics.IngestTotal.WithLabelValues(telemetry.ResultTransient).Inc()
		return snap, errs.NewTransient("evaluating rules", evalErr)
	}

	c.metrics.IngestTotal.WithLabelValues(telemetry.ResultOK).Inc()
	c.metrics.IngestSeconds.Observe(c.now().Sub(start).Seconds())
	return snap, nil
}

// MarkUnreachable records a poll failure. Idempotent: an entity already
// unreachable stays as it is, without another event.
func (c *Coordinator) MarkUnreachable(ctx context.Context, entityID string) error {
	lock := c.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := c.entities.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if entity.Status == models.StatusUnreachable {
		return nil
	}
	if _, err := c.entities.SetStatus(ctx, entityID, models.StatusUnreachable, nil); err != nil {
		return errs.NewTransient("updating status", err)
	}
	c.logger.Warn("entity unreachable", zap.String("entity", entityID))
	c.publishStatus(entityID, models.StatusUnreachable, entity.LastSeen)
	return nil
}

// MarkOffline transitions an idle entity to offline. It re-checks freshness
// under the entity lock so an ingest that raced with the sweep wins: a
// last_seen newer than the cutoff leaves the entity untouched.
func (c *Coordinator) MarkOffline(ctx context.Context, entityID string, cutoff time.Time) (bool, error) {
	lock := c.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := c.entities.Get(ctx, entityID)
	if err != nil {
		return false, err
	}
	if entity.LastSeen == nil || entity.LastSeen.After(cutoff) {
		return false, nil
	}
	switch entity.Status {
	case models.StatusOffline, models.StatusUnreachable:
		return false, nil
	}
	if _, err := c.entities.SetStatus(ctx, entityID, models.StatusOffline, nil); err != nil {
		return false, errs.NewTransient("updating status", err)
	}
	c.publishStatus(entityID, models.StatusOffline, entity.LastSeen)
	return true, nil
}

// RefreshStatus re-derives the status from the latest snapshot and open
// alerts. Used after sweep-matured resolutions; offline and unreachable
// entities are left alone because no fresh data arrived.
func (c *Coordinator) RefreshStatus(ctx context.Context, entityID string) {
	lock := c.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := c.entities.Get(ctx, entityID)
	if err != nil {
		return
	}
	switch entity.Status {
	case models.StatusOnline, models.StatusWarning, models.StatusDegraded:
	default:
		return
	}

	snap, _ := c.snapshots.Latest(entityID)
	status := c.deriveStatus(entityID, snap)
	if status == entity.Status {
		return
	}
	if _, err := c.entities.SetStatus(ctx, entityID, status, nil); err != nil {
		c.logger.Error("persisting refreshed status failed",
			zap.String("entity", entityID), zap.Error(err))
		return
	}
	c.publishStatus(entityID, status, entity.LastSeen)
}

// Deregister removes an entity and everything hanging off it: history,
// alerts and engine state.
func (c *Coordinator) Deregister(ctx context.Context, entityID string) error {
	lock := c.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.entities.Get(ctx, entityID); err != nil {
		return err
	}
	if err := c.snapshots.DeleteEntity(ctx, entityID); err != nil {
		return errs.NewTransient("deleting snapshots", err)
	}
	if err := c.alerts.DeleteByEntity(ctx, entityID); err != nil {
		return errs.NewTransient("deleting alerts", err)
	}
	c.engine.DropEntity(entityID)
	if err := c.entities.Delete(ctx, entityID); err != nil {
		return err
	}
	c.logger.Info("entity deregistered", zap.String("entity", entityID))
	return nil
}

// PublishTransitions fans alert lifecycle changes out to subscribers and
// counts them. Shared by the ingest path and the background sweeps.
func (c *Coordinator) PublishTransitions(transitions []rules.Transition) {
	for _, tr := range transitions {
		c.metrics.AlertTransitions.WithLabelValues(string(tr.Kind)).Inc()
		c.bus.Publish(bus.Event{
			Type: bus.EventAlert,
			Data: AlertEvent{Action: string(tr.Kind), Alert: tr.Alert},
		})
	}
}

// deriveStatus folds the freshest signals into the status ladder: open
// alerts outrank failing service checks outrank plain online.
func (c *Coordinator) deriveStatus(entityID string, snap models.MetricSnapshot) models.EntityStatus {
	status := models.StatusOnline
	if snap.UnhealthyServices() > 0 {
		status = models.StatusDegraded
	}
	if c.engine.HasOpenAlerts(entityID) {
		status = models.StatusWarning
	}
	return status
}

func (c *Coordinator) publishStatus(entityID string, status models.EntityStatus, lastSeen *time.Time) {
	c.bus.Publish(bus.Event{
		Type: bus.EventEntityStatus,
		Data: EntityStatusEvent{EntityID: entityID, Status: status, LastSeen: lastSeen},
	})
}

func (c *Coordinator) entityLock(entityID string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	lock, ok := c.locks[entityID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[entityID] = lock
	}
	return lock
}

// fillRates derives throughput from cumulative counters using the previous
// snapshot. Sources that report rates directly are left untouched. Counter
// resets (reboot, wraparound) produce no rate rather than a negative one.
func (c *Coordinator) fillRates(snap *models.MetricSnapshot) {
	prev, ok := c.snapshots.Latest(snap.EntityID)
	if !ok {
		return
	}
	dt := snap.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return
	}

	if net := snap.Network; net != nil && prev.Network != nil &&
		net.SentBytesPerSec == 0 && net.RecvBytesPerSec == 0 &&
		len(net.Interfaces) > 0 && len(prev.Network.Interfaces) > 0 {
		prevByName := make(map[string]models.NetworkInterface, len(prev.Network.Interfaces))
		for _, iface := range prev.Network.Interfaces {
			prevByName[iface.Name] = iface
		}
		var sent, recv float64
		for _, iface := range net.Interfaces {
			old, ok := prevByName[iface.Name]
			if !ok || iface.BytesSent < old.BytesSent || iface.BytesRecv < old.BytesRecv {
				continue
			}
			sent += float64(iface.BytesSent - old.BytesSent)
			recv += float64(iface.BytesRecv - old.BytesRecv)
		}
		net.SentBytesPerSec = sent / dt
		net.RecvBytesPerSec = recv / dt
	}

	if disk := snap.Disk; disk != nil && prev.Disk != nil &&
		disk.ReadBytesPerSec == 0 && disk.WriteBytesPerSec == 0 {
		if disk.ReadBytesTotal > 0 && prev.Disk.ReadBytesTotal > 0 &&
			disk.ReadBytesTotal >= prev.Disk.ReadBytesTotal {
			disk.ReadBytesPerSec = float64(disk.ReadBytesTotal-prev.Disk.ReadBytesTotal) / dt
		}
		if disk.WriteBytesTotal > 0 && prev.Disk.WriteBytesTotal > 0 &&
			disk.WriteBytesTotal >= prev.Disk.WriteBytesTotal {
			disk.WriteBytesPerSec = float64(disk.WriteBytesTotal-prev.Disk.WriteBytesTotal) / dt
		}
	}
}
