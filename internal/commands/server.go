package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/louissader/homelab-infrastructure-monitor/internal/api"
	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/internal/ingest"
	"github.com/louissader/homelab-infrastructure-monitor/internal/logging"
	"github.com/louissader/homelab-infrastructure-monitor/internal/normalizer"
	"github.com/louissader/homelab-infrastructure-monitor/internal/notify"
	"github.com/louissader/homelab-infrastructure-monitor/internal/poller"
	"github.com/louissader/homelab-infrastructure-monitor/internal/rules"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/internal/telemetry"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the monitor server",
	Long: `Start the HTTP API server together with the ingestion pipeline,
the rule engine, the liveness and retention sweepers, the cluster poller
and the notification dispatcher.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	eventBus := bus.New(cfg.Stream.BufferSize, logger)

	metrics := telemetry.New()
	metrics.ObserveBus(eventBus)

	engine := rules.New(st.Rules, st.Alerts, logger)
	if err := engine.Restore(ctx); err != nil {
		return fmt.Errorf("restoring alert state: %w", err)
	}
	if err := rules.Seed(ctx, st.Rules, cfg.Rules, logger); err != nil {
		return fmt.Errorf("seeding alert rules: %w", err)
	}

	coord := ingest.New(normalizer.New(logger), st, engine, eventBus, metrics, logger)

	sweeper := ingest.NewSweeper(coord, engine, st.Entities, metrics, logger,
		cfg.Liveness.Interval, cfg.Liveness.OfflineAfter)
	go sweeper.Run(ctx)

	if cfg.Retention.Enabled {
		retention := store.NewRetention(st.Snapshots, cfg.Retention.Days, cfg.Retention.Schedule, logger)
		if err := retention.Start(); err != nil {
			return fmt.Errorf("starting retention sweeper: %w", err)
		}
		defer retention.Stop()
	}

	if cfg.Poller.Enabled {
		p := poller.New(coord, st.Entities, logger, cfg.Poller.Interval)
		for _, cluster := range cfg.Poller.Clusters {
			source, err := poller.NewSource(cluster.Source)
			if err != nil {
				return fmt.Errorf("cluster %s: %w", cluster.EntityID, err)
			}
			p.AddTarget(cluster.EntityID, cluster.Name, source)
		}
		if err := p.EnsureEntities(ctx); err != nil {
			return fmt.Errorf("registering polled clusters: %w", err)
		}
		go p.Run(ctx)
	}

	dispatcher := notify.NewDispatcher(eventBus, st.Rules, logger)
	if cfg.Notify.Webhook.Enabled {
		dispatcher.AddSink(
			notify.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Timeout),
			notify.MinSeverity(cfg.Notify.Webhook.MinSeverity),
		)
	}
	if cfg.Notify.Kafka.Enabled {
		kafka := notify.NewKafka(cfg.Notify.Kafka.Brokers, cfg.Notify.Kafka.Topic)
		defer kafka.Close() //nolint:errcheck
		dispatcher.AddSink(kafka, notify.MinSeverity(cfg.Notify.Kafka.MinSeverity))
	}
	go dispatcher.Run(ctx)

	server := api.New(cfg, st, coord, engine, eventBus, metrics, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
