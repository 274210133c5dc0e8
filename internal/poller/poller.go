// Package poller periodically collects cluster-level metrics and feeds them
// through the same ingestion pipeline agents use, so clusters get snapshots,
// rules and liveness for free.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/internal/ingest"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// Source produces one raw batch per poll for a cluster.
type Source interface {
	Collect(ctx context.Context) (models.RawBatch, error)
}

// NewSource builds a source from its config name. "simulated" is the only
// built-in; it stands in when no cluster credentials are configured.
func NewSource(kind string) (Source, error) {
	switch kind {
	case "", "simulated":
		return NewSimulatedSource(), nil
	}
	return nil, fmt.Errorf("unknown poll source %q", kind)
}

type target struct {
	entityID string
	name     string
	source   Source
}

// Poller drives the configured cluster sources on a shared ticker. A failed
// poll marks the cluster unreachable; the next successful one brings it back.
type Poller struct {
	coord    *ingest.Coordinator
	entities store.EntityStore
	logger   *zap.Logger
	interval time.Duration
	targets  []target
}

// New creates a poller with no targets bound yet.
func New(coord *ingest.Coordinator, entities store.EntityStore, logger *zap.Logger, interval time.Duration) *Poller {
	return &Poller{
		coord:    coord,
		entities: entities,
		logger:   logger.With(zap.String("component", "poller")),
		interval: interval,
	}
}

// AddTarget binds a cluster entity to a source.
func (p *Poller) AddTarget(entityID, name string, source Source) {
	p.targets = append(p.targets, target{entityID: entityID, name: name, source: source})
}

// Targets reports how many clusters are polled.
func (p *Poller) Targets() int {
	return len(p.targets)
}

// EnsureEntities registers cluster entities that do not exist yet, so a
// fresh deployment needs no manual registration step for polled clusters.
func (p *Poller) EnsureEntities(ctx context.Context) error {
	for _, tgt := range p.targets {
		_, err := p.entities.Get(ctx, tgt.entityID)
		if err == nil {
			continue
		}
		if !errs.IsNotFound(err) {
			return err
		}
		name := tgt.name
		if name == "" {
			name = tgt.entityID
		}
		entity := models.Entity{
			ID:     tgt.entityID,
			Kind:   models.KindCluster,
			Name:   name,
			Status: models.StatusOffline,
		}
		if err := p.entities.Create(ctx, &entity); err != nil && !errs.IsConflict(err) {
			return err
		}
		p.logger.Info("registered cluster entity", zap.String("entity", tgt.entityID))
	}
	return nil
}

// Run polls until the context is canceled. The first poll happens
// immediately so fresh deployments have data before the first full interval.
func (p *Poller) Run(ctx context.Context) {
	if len(p.targets) == 0 {
		return
	}
	p.logger.Info("cluster poller started",
		zap.Duration("interval", p.interval),
		zap.Int("clusters", len(p.targets)))

	p.pollAll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("cluster poller stopped")
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, tgt := range p.targets {
		p.pollOne(ctx, tgt)
	}
}

func (p *Poller) pollOne(ctx context.Context, tgt target) {
	batch, err := tgt.source.Collect(ctx)
	if err != nil {
		p.logger.Warn("cluster poll failed",
			zap.String("entity", tgt.entityID), zap.Error(err))
		if err := p.coord.MarkUnreachable(ctx, tgt.entityID); err != nil {
			p.logger.Error("marking cluster unreachable failed",
				zap.String("entity", tgt.entityID), zap.Error(err))
		}
		return
	}
	if _, err := p.coord.Ingest(ctx, tgt.entityID, batch); err != nil {
		p.logger.Error("cluster ingest failed",
			zap.String("entity", tgt.entityID), zap.Error(err))
	}
}
