package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golangast/emotagger/internal/app"
	"github.com/golangast/emotagger/internal/config"
	"github.com/golangast/emotagger/internal/logging"
	"github.com/golangast/emotagger/internal/metrics"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to a YAML config file (optional)")
		checkpoint  = flag.String("checkpoint", "", "Checkpoint to evaluate (required)")
		split       = flag.String("split", "", "Split to score, defaults to data.test_path")
		predictions = flag.String("predictions", "", "Write per-sentence predictions to this file")
	)
	flag.Parse()

	if *checkpoint == "" {
		fmt.Fprintln(os.Stderr, "-checkpoint is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.InitLogger(cfg.Log.Level, cfg.Log.Format)

	path := *split
	if path == "" {
		path = cfg.Data.TestPath
	}
	if path == "" {
		slog.Error("No split to evaluate: set -split or data.test_path")
		os.Exit(1)
	}

	reg := metrics.NewRegistry()
	result, err := app.Evaluate(cfg, *checkpoint, path, reg)
	if err != nil {
		logging.WithError(err).Error("Evaluation failed", "checkpoint", *checkpoint, "split", path)
		os.Exit(1)
	}
	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(reg, cfg.Metrics.Textfile); err != nil {
			logging.WithError(err).Warn("Failed to write metrics", "path", cfg.Metrics.Textfile)
		}
	}

	if *predictions != "" {
		if err := writePredictions(*predictions, result.Predictions); err != nil {
			logging.WithError(err).Error("Failed to write predictions", "path", *predictions)
			os.Exit(1)
		}
	}

	slog.Info("Evaluated checkpoint", "run_id", result.Meta.RunID, "epoch", result.Meta.Epoch,
		"instances", len(result.Predictions), "unknown_words", result.Unknown)
	if result.Scored {
		fmt.Printf("Test Loss: %.3f | Test Acc: %.2f%%\n", result.Loss, result.Acc*100)
	}
}

func writePredictions(path string, preds []app.Prediction) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := app.WritePredictions(file, preds); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
