package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"issuetriage/config"
	"issuetriage/db"
	apihttp "issuetriage/http"
	"issuetriage/logging"
	"issuetriage/ml"
	"issuetriage/monitoring"
)

func main() {
	configPath := flag.String("config", "", "config file (default: config.yaml in . or ..)")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 2. Initialize database
	var store apihttp.Store
	if cfg.Database.Path != "" {
		sqlite, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
		}
		defer sqlite.Close()
		store = sqlite
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	// 3. Load model; a missing artifact is not fatal, /reload picks it up later
	handle := ml.NewModelHandle(ml.ResolvePath(cfg.Model.Path), cfg.Model.CacheSize, logger)
	if err := handle.Load(); err != nil {
		if errors.Is(err, ml.ErrModelNotFound) {
			logger.Warn("model not trained yet, serving without a model", zap.String("path", handle.Path()))
		} else {
			logger.Error("failed to load model", zap.String("path", handle.Path()), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Model.Watch {
		watcher, err := ml.NewArtifactWatcher(handle, cfg.Model.WatchDebounce, logger)
		if err != nil {
			logger.Fatal("failed to watch model artifact", zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("artifact watcher stopped", zap.Error(err))
			}
		}()
	}

	hub := monitoring.NewHub(cfg.HTTP.AllowedOrigins, logger)
	go hub.Run()
	defer hub.Stop()

	// 4. Start HTTP server
	server := apihttp.NewServer(cfg.HTTP, apihttp.Deps{
		Handle:  handle,
		Store:   store,
		Metrics: monitoring.NewClassifierMetrics(monitoring.NewMetricsCollector()),
		Hub:     hub,
		Logger:  logger,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			os.Exit(1)
		}
	}

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}
