package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleetguard/internal/api"
	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/engine"
	"fleetguard/internal/ingest"
	"fleetguard/internal/logging"
	"fleetguard/internal/metrics"
	"fleetguard/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fleetguard:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	logger.Info("storage ready", zap.String("driver", store.Driver()))

	state, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer state.Close()

	collector := metrics.NewCollector()
	eng := engine.NewEngine(cfg, logger.Named("engine"), collector, state, store)
	server := api.New(cfg, eng, collector, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return ingest.StartKafka(gctx, cfg.Ingest, eng, collector, logger.Named("kafka"))
	})

	logger.Info("fleetguard started",
		zap.Bool("api", cfg.API.Enabled),
		zap.Bool("kafka", cfg.Ingest.Kafka.Enabled),
		zap.Bool("cache", cfg.Cache.Enabled),
	)
	err = g.Wait()
	logger.Info("fleetguard stopped")
	return err
}
