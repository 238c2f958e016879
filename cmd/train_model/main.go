package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"issuetriage/config"
	"issuetriage/db"
	"issuetriage/logging"
	"issuetriage/training"
)

func main() {
	configPath := flag.String("config", "", "config file (default: config.yaml in . or ..)")
	dataPath := flag.String("data", "", "training CSV with text and category columns (overrides training.data_path)")
	modelPath := flag.String("model", "", "model output path (overrides model.path)")
	modelType := flag.String("model_type", "", "logreg, calibrated_logreg or decision_tree (overrides training.model_type)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataPath != "" {
		cfg.Training.DataPath = *dataPath
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *modelType != "" {
		cfg.Training.ModelType = *modelType
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	var recorder training.RunRecorder
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer store.Close()
		recorder = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := training.NewTrainer(training.OptionsFromConfig(cfg), recorder, logger).Run(ctx)
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	if report.Evaluation != nil {
		fmt.Printf("accuracy=%.4f macro_f1=%.4f\n", report.Evaluation.Accuracy, report.Evaluation.MacroF1)
	}
	fmt.Printf("class counts: %v\n", report.ClassCounts)
	abs, err := filepath.Abs(report.ModelPath)
	if err != nil {
		abs = report.ModelPath
	}
	fmt.Printf("model saved to %s\n", abs)
}
