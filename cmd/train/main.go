// Command train runs one training cycle and exits. Intended for cron:
// lock contention and fresh-artifact skips exit 0 so overlapping schedules
// stay quiet, while real training failures exit non-zero.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"farmcredit/config"
	"farmcredit/db"
	"farmcredit/logging"
	"farmcredit/ml"
	"farmcredit/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	force := flag.Bool("force", false, "retrain even if a recent model exists")
	synthetic := flag.Int("synthetic", 0, "seed N synthetic farmer rows before training (bootstrap only)")
	flag.Parse()

	cfg, found, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Path)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	if !found {
		logger.Warn("config file not found, using defaults", zap.String("path", *configPath))
	}

	store, err := db.Open(cfg.Database.Path, cfg.TargetColumn)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()

	if *synthetic > 0 {
		rows := ml.GenerateSyntheticRows(*synthetic, cfg.Training.Seed)
		if err := store.SeedTrainingRows(ctx, rows); err != nil {
			logger.Fatal("failed to seed synthetic rows", zap.Error(err))
		}
		logger.Info("seeded synthetic training rows", zap.Int("count", *synthetic))
	}

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

	result, err := manager.Run(ctx, *force)
	if err != nil {
		if errors.Is(err, training.ErrLockHeld) {
			logger.Warn("another training run is in progress, nothing to do")
			return
		}
		logger.Error("training run failed", zap.Error(err))
		os.Exit(1)
	}

	if result.Skipped {
		logger.Info("training skipped", zap.String("reason", result.SkipReason))
		return
	}

	if err := store.RecordTrainingRun(ctx, result.RunID, result.Metrics, time.Now()); err != nil {
		logger.Warn("failed to record training run", zap.Error(err))
	}

	logger.Info("training complete",
		zap.String("run_id", result.RunID),
		zap.Float64("roc_auc", result.Metrics.ROCAUC),
		zap.Float64("f1", result.Metrics.F1))
	fmt.Printf("trained model %s (ROC-AUC %.4f)\n", result.RunID, result.Metrics.ROCAUC)
}
