package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	corecfg "github.com/librarium-lab/librarium/internal/core/config"
	"github.com/librarium-lab/librarium/internal/core/storage"
	"github.com/librarium-lab/librarium/internal/core/storage/postgres"
	"github.com/librarium-lab/librarium/internal/migrations"
	"github.com/librarium-lab/librarium/internal/projection"
)

func main() {
	configPath := flag.String("config", "librarium.yaml", "Path to configuration file")
	rebuildKind := flag.String("rebuild", "", "Rebuild one projection kind from the event log, then exit")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Storage (PostgreSQL)
	eventStore, err := postgres.NewEventsAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(eventStore.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	projectionStore := postgres.NewProjectionsAdapter(eventStore.DB())

	// 3. Initialize Projectors per the manifest
	manifest, err := projection.LoadManifest(cfg.Projector.ManifestPath)
	if err != nil {
		slog.Error("Failed to load projection manifest", "error", err)
		os.Exit(1)
	}

	registry := []projection.Projector{
		projection.NewAuthorListProjector(),
		projection.NewPublisherListProjector(),
		projection.NewCategoryListProjector(),
		projection.NewBookSearchProjector(),
		projection.NewAuthorStatsProjector(),
		projection.NewPublisherStatsProjector(),
		projection.NewCategoryStatsProjector(),
	}

	var enabled []projection.Projector
	for _, p := range registry {
		if manifest.Enabled(p.Kind()) {
			enabled = append(enabled, p)
		} else {
			slog.Info("Projection disabled by manifest", "kind", p.Kind())
		}
	}

	runner := projection.NewRunner(eventStore, projectionStore, projection.RunnerConfig{
		PollInterval: cfg.Projector.PollIntervalDuration(),
		BatchSize:    cfg.Projector.BatchSize,
	}, enabled...)
	runner.AddListener(projection.LogListener{})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One-shot rebuild mode.
	if *rebuildKind != "" {
		if err := runner.Rebuild(ctx, storage.Kind(*rebuildKind)); err != nil {
			slog.Error("Rebuild failed", "kind", *rebuildKind, "error", err)
			os.Exit(1)
		}
		return
	}

	// 4. Start Services
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	if cfg.Reconciler.Enabled {
		reconciler := projection.NewReconciler(projectionStore, cfg.Reconciler.IntervalDuration(), enabled...)
		reconciler.AddListener(projection.LogListener{})
		g.Go(func() error {
			return reconciler.Run(ctx)
		})
	} else {
		slog.Info("Reconciler disabled by config")
	}

	slog.Info("Librarium started", "projections", len(enabled))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}
