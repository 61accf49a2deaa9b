// Mediary - persistence mediation engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-mediary/mediary/internal/api"
	"github.com/open-mediary/mediary/internal/bus"
	"github.com/open-mediary/mediary/internal/cache"
	"github.com/open-mediary/mediary/internal/config"
	"github.com/open-mediary/mediary/internal/docstore"
	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/janitor"
	"github.com/open-mediary/mediary/internal/mediator"
	"github.com/open-mediary/mediary/internal/rules"
	"github.com/open-mediary/mediary/internal/sqlstore"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("MEDIARY_CONFIG"), "path to the configuration file")
	catalogPath := flag.String("entities", os.Getenv("MEDIARY_ENTITIES"), "path to the entity catalog file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting mediary",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"sql", cfg.SQL.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if *catalogPath == "" {
		slog.Error("an entity catalog is required, pass -entities or set MEDIARY_ENTITIES")
		os.Exit(1)
	}
	entities, sources, err := config.LoadCatalog(*catalogPath)
	if err != nil {
		slog.Error("failed to load entity catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("entity catalog loaded",
		"entities", len(entities.Types()),
		"sources", len(sources.Names()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Backend connections
	sqlStore, err := sqlstore.New(cfg.SQL)
	if err != nil {
		slog.Error("failed to initialize sql store", "error", err)
		os.Exit(1)
	}
	defer sqlStore.Close()
	slog.Info("sql store initialized", "driver", cfg.SQL.Driver)

	docStore := docstore.New()
	docSnapshots := docstore.NewSnapshotStore()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	repo, err := mediator.New(mediator.Options{
		Entities:    entities,
		Sources:     sources,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Logger:      logger,
		SyncTimeout: cfg.Sync.Timeout,
	})
	if err != nil {
		slog.Error("failed to initialize mediator", "error", err)
		os.Exit(1)
	}

	repo.RegisterSQLConnection("sql-main", sqlStore)
	repo.RegisterDocConnection("doc-main", docStore)
	repo.RegisterVersionStore("doc-main", docSnapshots)
	repo.RegisterTrashStore("doc-main", docSnapshots)

	rules.Register(repo.Hooks(), engine)

	if err := ensureSchemas(ctx, entities, sources, sqlStore); err != nil {
		slog.Error("failed to prepare entity schemas", "error", err)
		os.Exit(1)
	}

	// Retention sweeps
	jan := janitor.New(cfg.Janitor, logger)
	jan.AddVersionStore(sqlStore)
	jan.AddTrashStore(sqlStore)
	jan.AddVersionStore(docSnapshots)
	jan.AddTrashStore(docSnapshots)
	jan.Start()

	srv := api.NewServer(cfg.Server, repo, entities, cacheImpl, busImpl, engine, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("mediary is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	<-ctx.Done()
	slog.Info("shutting down...")

	jan.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Let in-flight fan-out deliveries finish before connections close.
	repo.Syncer().Wait()

	slog.Info("mediary shutdown complete")
}

// ensureSchemas creates the SQL tables for every entity whose data sources
// resolve to the relational connection.
func ensureSchemas(ctx context.Context, entities *domain.EntityRegistry, sources *domain.DataSourceRegistry, store *sqlstore.Store) error {
	for _, typeName := range entities.Types() {
		def := entities.Get(typeName)
		for _, name := range append([]string{def.PrimaryDataSource, def.SecondaryDataSource}, def.SyncDataSources...) {
			src := sources.Get(name)
			if src == nil || src.Mode != domain.ModeSQL || src.ConnectionRef != "sql-main" {
				continue
			}
			if err := store.EnsureEntity(ctx, def); err != nil {
				return fmt.Errorf("entity %s: %w", typeName, err)
			}
			break
		}
	}
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
