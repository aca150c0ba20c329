package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"homeguard/internal/actions"
	"homeguard/internal/alerts"
	"homeguard/internal/api"
	"homeguard/internal/config"
	"homeguard/internal/devices"
	"homeguard/internal/dispatch"
	"homeguard/internal/engine"
	"homeguard/internal/ingest"
	"homeguard/internal/metrics"
	"homeguard/internal/model"
	"homeguard/internal/rules"
	"homeguard/internal/stream"
)

func serveCmd() *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its ingest sources and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, watch)
		},
	}
	cmd.Flags().DurationVar(&watch, "watch-interval", 3*time.Second, "config file poll interval")
	return cmd
}

func serve(ctx context.Context, watch time.Duration) error {
	mgr, err := loadManager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if volatileStore(store) {
		logger.Warn("memory storage: rules and alerts are lost on restart")
	}

	bus := stream.NewBus(cfg.Alerts.StreamBuffer)
	rs := rules.NewStore(store,
		rules.WithMaxAge(cfg.Engine.SnapshotMaxAge),
		rules.WithLoadTimeout(cfg.Engine.StoreTimeout),
		rules.WithLogger(logger),
		rules.WithBus(bus),
	)
	if err := rs.Refresh(ctx); err != nil {
		if !errors.Is(err, model.ErrStoreUnavailable) {
			return err
		}
		logger.Warn("rule store unavailable at startup, evaluating in degraded mode", "err", err)
	} else if cfg.Rules.SeedDefaults {
		n, err := rs.SeedDefaults(ctx)
		if err != nil {
			logger.Warn("seeding default rules failed", "err", err)
		} else if n > 0 {
			logger.Info("seeded default rules", "count", n)
		}
	}
	if _, err := rules.StartRefresher(ctx, rs, cfg.Engine.RefreshSchedule, logger); err != nil {
		return err
	}

	registry := devices.NewRegistry(cfg.Devices)
	m := metrics.New()
	dispatcher := dispatch.New(cfg.Engine.ActionTimeout, logger)
	dispatcher.OnOutcome(m.ActionOutcome)
	actionSet := actions.Install(dispatcher, cfg.Actions, logger)
	defer actionSet.Close()

	ring := alerts.NewStore(cfg.Alerts.StoreLimit)
	recorder := alerts.NewRecorder(ring, store, bus, logger)

	eng := engine.NewEngine(cfg, engine.Deps{
		Rules:      rs,
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Devices:    registry,
		Metrics:    m,
		Logger:     logger,
	})
	eng.Start(ctx)

	pipeline := ingest.NewPipeline(mgr, eng, logger)
	pipeline.Start(ctx)

	server := api.NewServer(api.Deps{
		Config:  mgr,
		Rules:   rs,
		Alerts:  ring,
		History: store,
		Devices: registry,
		Gate:    actionSet.Gate,
		Metrics: m,
		Bus:     bus,
		Engine:  eng,
		Events:  pipeline.HandleEvents,
		Logger:  logger,
		Version: version,
	})
	api.Start(ctx, server)

	go mgr.Watch(watch, func(next *config.Config) {
		eng.UpdateConfig(next)
		registry.Configure(next.Devices)
		dispatcher.SetTimeout(next.Engine.ActionTimeout)
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	logger.Info("homeguard started",
		"version", version,
		"rules", rs.Snapshot().Len(),
		"storage", cfg.Storage.Driver,
		"workers", cfg.Engine.Workers,
	)
	<-ctx.Done()
	logger.Info("shutting down")
	eng.Wait()
	return nil
}
