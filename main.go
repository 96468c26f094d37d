package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"farmcredit/config"
	"farmcredit/db"
	fchttp "farmcredit/http"
	"farmcredit/logging"
	"farmcredit/ml"
	"farmcredit/training"
)

func main() {
	cfg, found, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Path)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	if !found {
		logger.Warn("config file not found, using defaults")
	}

	store, err := db.Open(cfg.Database.Path, cfg.TargetColumn)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	manager := training.NewManager(training.Config{
		ModelDir:        cfg.Training.ModelDir,
		TestSize:        cfg.Training.TestSize,
		Seed:            cfg.Training.Seed,
		StalenessWindow: cfg.Training.StalenessWindow.Std(),
		MinRows:         cfg.Training.MinRows,
		Params: ml.EnsembleParams{
			GBEstimators:       cfg.ModelParams.GBEstimators,
			GBMaxDepth:         cfg.ModelParams.GBMaxDepth,
			GBLearningRate:     cfg.ModelParams.GBLearningRate,
			ForestEstimators:   cfg.ModelParams.ForestEstimators,
			ForestMaxDepth:     cfg.ModelParams.ForestMaxDepth,
			LogisticC:          cfg.ModelParams.LogisticC,
			LogisticIterations: cfg.ModelParams.LogisticIterations,
			Seed:               cfg.ModelParams.Seed,
			ApprovalThreshold:  cfg.FeatureEngineering.ApprovalThreshold,
		},
	}, store, nil, logger)

	handle := &fchttp.ModelHandle{}
	if engine, err := manager.Load(); err != nil {
		if errors.Is(err, training.ErrMissingArtifact) {
			logger.Warn("no persisted model yet, serving without one until trained", zap.Error(err))
		} else {
			logger.Fatal("failed to load model bundle", zap.Error(err))
		}
	} else {
		handle.Set(engine)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := fchttp.NewHub(logger)
	go hub.Run(ctx)
	manager.SetProgressSink(hub)

	watcher, err := training.NewWatcher(cfg.Training.ModelDir, logger, func() {
		if engine, err := manager.Load(); err != nil {
			logger.Warn("model reload failed", zap.Error(err))
		} else {
			handle.Set(engine)
		}
	})
	if err != nil {
		logger.Warn("artifact watcher unavailable", zap.Error(err))
	} else {
		go watcher.Run(ctx)
	}

	handler, err := fchttp.NewHandler(logger, handle, manager, store, hub, cfg.Training.ModelDir)
	if err != nil {
		logger.Fatal("failed to build handler", zap.Error(err))
	}

	serverConfig := fchttp.DefaultServerConfig()
	serverConfig.Port = cfg.Http.Port
	server := fchttp.NewServer(serverConfig, handler, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
}
