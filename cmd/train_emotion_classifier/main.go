package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/golangast/emotagger/internal/app"
	"github.com/golangast/emotagger/internal/config"
	"github.com/golangast/emotagger/internal/logging"
	"github.com/golangast/emotagger/internal/metrics"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (optional)")
		epochs     = flag.Int("epochs", 0, "Override train.epochs")
		checkpoint = flag.String("checkpoint-dir", "", "Override train.checkpoint_dir")
		attention  = flag.Bool("attention", false, "Pool the encoder output with attention")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *epochs > 0 {
		cfg.Train.Epochs = *epochs
	}
	if *checkpoint != "" {
		cfg.Train.CheckpointDir = *checkpoint
	}
	if *attention {
		cfg.Model.Attention = true
	}

	logging.InitLogger(cfg.Log.Level, cfg.Log.Format)
	slog.Debug("Loaded config", "config", cfg.Dump())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	result, err := app.Train(ctx, cfg, reg)
	if cfg.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(reg, cfg.Metrics.Textfile); werr != nil {
			logging.WithError(werr).Warn("Failed to write metrics", "path", cfg.Metrics.Textfile)
		}
	}
	if err != nil {
		logging.WithError(err).Error("Training failed")
		os.Exit(1)
	}

	fmt.Printf("Best checkpoint: %s (valid loss %.3f)\n", result.BestCheckpoint, result.BestValidLoss)
	if result.Tested {
		fmt.Printf("Test Loss: %.3f | Test Acc: %.2f%%\n", result.TestLoss, result.TestAcc*100)
	}
}
