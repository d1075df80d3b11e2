package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/api"
	"codeberg.org/opendatahub/odhsync/pkg/config"
	"codeberg.org/opendatahub/odhsync/pkg/controller"
	"codeberg.org/opendatahub/odhsync/pkg/manifest"
	"codeberg.org/opendatahub/odhsync/pkg/metrics"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"codeberg.org/opendatahub/odhsync/pkg/taxonomy"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "codeberg.org/opendatahub/odhsync/pkg/parser/json"
	_ "codeberg.org/opendatahub/odhsync/pkg/parser/script"
	_ "codeberg.org/opendatahub/odhsync/pkg/source/file"
	_ "codeberg.org/opendatahub/odhsync/pkg/source/rest"
)

func main() {
	configPath := flag.String("config", "/etc/odhsync/config.yaml", "Path to config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
		if cfg, err = config.LoadConfig(""); err != nil {
			panic(err)
		}
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeStore, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialise storage", zap.Error(err))
	}
	defer closeStore()

	var db *store.EtcdStore
	if len(cfg.Etcd.Endpoints) > 0 {
		db, err = store.NewEtcdStore(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			logger.Fatal("Failed to connect to etcd", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Using etcd for import sources", zap.Strings("endpoints", cfg.Etcd.Endpoints))

		// checkpoints must survive a leader change
		if _, inMemory := deps.Checkpoints.(*store.MemoryStore); inMemory {
			deps.Checkpoints = db
		}
	}

	mgr := controller.NewManager(cfg, deps, logger)
	defer mgr.Close()
	if db != nil {
		mgr.SetStore(db)
	}

	loadManifests(ctx, cfg.ManifestsDir, db, mgr, logger)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mgr.Run(ctx, cfg.Etcd.Name); err != nil {
			logger.Error("Controller manager failed", zap.Error(err))
			stop()
		}
	}()

	mux := http.NewServeMux()
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	api.SetupRoutes(mux, ctx, db, mgr, deps.Metrics, metricsPath, logger)

	// manual syncs answer once the pass is done
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	sCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	select {
	case <-runDone:
	case <-sCtx.Done():
		logger.Warn("Controller manager did not stop in time")
	}
}

// buildDeps opens the entity store named by the config and assembles the
// shared dependencies of every orchestrator.
func buildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (controller.Deps, func(), error) {
	deps := controller.Deps{
		Licenses:       cfg.Licenses.Table(),
		Channels:       cfg.Publication.Channels,
		AllowedSources: cfg.Publication.AllowedSources,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	closeStore := func() {}

	switch cfg.Database.Driver {
	case "", "memory":
		mem := store.NewMemoryStore()
		deps.Repository = mem
		deps.RawStore = mem
		deps.Checkpoints = mem
		logger.Warn("Using in-memory store, data is lost on restart")

	default:
		db, err := store.OpenSQL(ctx, cfg.Database.Driver, cfg.Database.DSN, store.SQLOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return deps, closeStore, err
		}
		deps.Repository = db
		deps.RawStore = db
		deps.Checkpoints = db
		closeStore = func() { _ = db.Close() }
		logger.Info("Using SQL store", zap.String("driver", cfg.Database.Driver))
	}

	if cfg.Taxonomy.File != "" {
		deps.Taxonomy = taxonomy.NewFileProvider(cfg.Taxonomy.File)
	} else {
		deps.Taxonomy = taxonomy.NewStoreProvider(deps.Repository)
	}

	return deps, closeStore, nil
}

// loadManifests applies the manifests found in dir. With etcd they are
// stored there and picked up by the watch loop of the leader.
func loadManifests(ctx context.Context, dir string, db *store.EtcdStore, mgr *controller.Manager, logger *zap.Logger) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Info("Manifests directory not found, skipping", zap.String("dir", dir))
		return
	}

	sources, err := manifest.NewParser().ParseDirectory(dir)
	if err != nil {
		logger.Error("Failed to parse manifests", zap.String("dir", dir), zap.Error(err))
		return
	}

	for _, src := range sources {
		logger := logger.With(zap.String("name", src.Name))

		if db != nil {
			data, err := manifest.Marshal(src)
			if err != nil {
				logger.Error("Failed to encode import source", zap.Error(err))
				continue
			}
			if err := db.PutSource(ctx, src.Name, data); err != nil {
				logger.Error("Failed to store import source", zap.Error(err))
			}
			continue
		}

		if err := mgr.AddSource(ctx, src); err != nil {
			logger.Error("Failed to add import source", zap.Error(err))
			continue
		}
		logger.Info("Loaded import source from file")
	}
}

func initLogger(c config.LoggingConfig) *zap.Logger {
	lvl, _ := zapcore.ParseLevel(c.Level)
	cfg := zap.NewProductionConfig()
	if c.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if c.Output != "" {
		cfg.OutputPaths = []string{c.Output}
	}
	l, _ := cfg.Build()
	return l
}
