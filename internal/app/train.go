package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/internal/config"
	"github.com/golangast/emotagger/internal/logging"
	"github.com/golangast/emotagger/internal/metrics"
	"github.com/golangast/emotagger/neural/classifier"
	"github.com/golangast/emotagger/neural/dataset"
	"github.com/golangast/emotagger/neural/nn"
	"github.com/golangast/emotagger/neural/nnu/glove"
	"github.com/golangast/emotagger/neural/nnu/vocab"
	"github.com/golangast/emotagger/neural/tensor"
	"github.com/golangast/emotagger/neural/tokenizer"
	"github.com/golangast/emotagger/neural/train"
)

// TrainResult summarizes a finished training run.
type TrainResult struct {
	RunID          uuid.UUID
	History        train.History
	BestCheckpoint string
	BestValidLoss  float64
	// Tested is set when a test split was configured and scored with the
	// best checkpoint.
	Tested   bool
	TestLoss float64
	TestAcc  float64
}

// splits holds the loaded datasets of one run. test is nil when no test
// path is configured.
type splits struct {
	train, valid, test *dataset.Dataset
}

// Train runs the full pipeline described by cfg: read the splits, build the
// vocabulary and label index, initialize the embedding table, train with
// checkpointing and score the test split with the best checkpoint. reg may
// be nil to disable metrics.
func Train(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*TrainResult, error) {
	runID := uuid.New()
	logger := logging.WithRun(runID.String())
	var mtr *metrics.Training
	if reg != nil {
		mtr = metrics.NewTraining(reg)
	}

	tok, closeTokenizer, err := NewTokenizer(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}
	defer func() {
		if err := closeTokenizer(); err != nil {
			logger.Warn("Failed to close tokenizer", "error", err)
		}
	}()

	data, err := loadSplits(cfg.Data, tok)
	if err != nil {
		return nil, err
	}

	// Every split contributes to the vocabulary; test words only ever hit
	// frozen or randomly initialized rows.
	words := [][][]string{data.train.Words(), data.valid.Words()}
	if data.test != nil {
		words = append(words, data.test.Words())
	}
	v := vocab.BuildVocabulary(words...)
	labels := data.train.Labels
	logger.Info("Vocabulary built", "words", v.Size(), "labels", labels.Len(), "label_mapping", labels.Mapping())

	dir := cfg.Train.CheckpointDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
	}
	if err := v.Save(filepath.Join(dir, VocabFile)); err != nil {
		return nil, fmt.Errorf("failed to save vocabulary: %w", err)
	}
	if err := labels.Save(filepath.Join(dir, LabelsFile)); err != nil {
		return nil, fmt.Errorf("failed to save labels: %w", err)
	}

	trainSet, err := convert(data.train, v, metrics.SplitTrain, mtr)
	if err != nil {
		return nil, err
	}
	validSet, err := convert(data.valid, v, metrics.SplitValid, mtr)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Train.Seed))
	table, err := embeddingTable(cfg.Embedding, v, rng, mtr)
	if err != nil {
		return nil, err
	}

	model, err := classifier.New(classifier.Config{
		VocabSize:       v.Size(),
		EmbeddingDim:    cfg.Embedding.Dim,
		HiddenDim:       cfg.Model.HiddenDim,
		HeadDims:        cfg.Model.HeadDims,
		NumClasses:      labels.Len(),
		Dropout:         cfg.Model.Dropout,
		Attention:       cfg.Model.Attention,
		AttentionDim:    cfg.Model.AttentionDim,
		FreezeEmbedding: cfg.Embedding.Freeze,
	}, table, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	optimizer := nn.NewOptimizer(model.Parameters(), cfg.Train.LearningRate, cfg.Train.ClipValue)

	trainIt, err := dataset.NewIterator(trainSet, v, dataset.IteratorOptions{
		BatchSize: cfg.Train.BatchSize,
		Shuffle:   cfg.Train.Shuffle,
		Seed:      cfg.Train.Seed,
	})
	if err != nil {
		return nil, err
	}
	validIt, err := dataset.NewIterator(validSet, v, dataset.IteratorOptions{BatchSize: cfg.Train.BatchSize})
	if err != nil {
		return nil, err
	}

	loss, accuracy, err := Objective(cfg.Train.Loss)
	if err != nil {
		return nil, err
	}
	session, err := train.NewSession(model, optimizer, trainIt, validIt, train.Options{
		CheckpointDir:    dir,
		PruneCheckpoints: cfg.Train.PruneCheckpoints,
		HistoryPath:      filepath.Join(dir, HistoryFile),
		Loss:             loss,
		Accuracy:         accuracy,
		Logger:           logger,
		Metrics:          mtr,
		RunID:            runID,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Training started", "epochs", cfg.Train.Epochs,
		"train_batches", trainIt.NumBatches(), "valid_batches", validIt.NumBatches())
	if err := session.Run(ctx, cfg.Train.Epochs); err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	result := &TrainResult{
		RunID:          runID,
		History:        session.History,
		BestCheckpoint: session.BestCheckpoint(),
		BestValidLoss:  session.BestValidLoss,
	}
	if data.test == nil || result.BestCheckpoint == "" {
		return result, nil
	}

	testSet, err := convert(data.test, v, metrics.SplitTest, mtr)
	if err != nil {
		return nil, err
	}
	best, meta, err := classifier.Load(result.BestCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to reload best checkpoint: %w", err)
	}
	testIt, err := dataset.NewIterator(testSet, v, dataset.IteratorOptions{BatchSize: cfg.Train.BatchSize})
	if err != nil {
		return nil, err
	}
	testLoss, testAcc, err := train.Evaluate(best, testIt, train.Options{
		Loss:     loss,
		Accuracy: accuracy,
		Logger:   logger,
		Metrics:  mtr,
		RunID:    runID,
	})
	switch {
	case errors.Is(err, train.ErrNoBatches):
		logger.Warn("Test split has no labeled batches", "path", data.test.Path)
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("failed to evaluate test split: %w", err)
	}
	result.Tested = true
	result.TestLoss = testLoss
	result.TestAcc = testAcc
	logger.Info("Test results", "checkpoint", result.BestCheckpoint, "epoch", meta.Epoch,
		"test_loss", fmt.Sprintf("%.3f", testLoss), "test_acc", fmt.Sprintf("%.2f%%", testAcc*100))
	return result, nil
}

func loadSplits(cfg config.DataConfig, tok tokenizer.Tokenizer) (splits, error) {
	var s splits
	var err error
	s.train, err = dataset.Load(cfg.TrainPath, dataset.LoadOptions{
		IsTrain:       true,
		Tokenizer:     tok,
		ReplaceDigits: cfg.ReplaceDigits,
	})
	if err != nil {
		return splits{}, err
	}
	evalOpts := dataset.LoadOptions{Labels: s.train.Labels, Tokenizer: tok, ReplaceDigits: cfg.ReplaceDigits}
	if s.valid, err = dataset.Load(cfg.ValidPath, evalOpts); err != nil {
		return splits{}, err
	}
	if cfg.TestPath != "" {
		if s.test, err = dataset.Load(cfg.TestPath, evalOpts); err != nil {
			return splits{}, err
		}
	}
	return s, nil
}

func convert(d *dataset.Dataset, v *vocab.Vocabulary, split string, mtr *metrics.Training) (*dataset.FeatureSet, error) {
	set, err := dataset.Convert(d, v)
	if err != nil {
		return nil, err
	}
	if set.Unknown > 0 {
		slog.Debug("Unknown words", "split", split, "count", set.Unknown)
	}
	if mtr != nil {
		mtr.UnknownWords.WithLabelValues(split).Set(float64(set.Unknown))
	}
	return set, nil
}

// embeddingTable loads the pretrained vectors when a path is configured and
// fills the remaining rows at random.
func embeddingTable(cfg config.EmbeddingConfig, v *vocab.Vocabulary, rng *rand.Rand, mtr *metrics.Training) (*tensor.Tensor, error) {
	var store *glove.Store
	if cfg.Path != "" {
		var err error
		store, err = glove.Load(cfg.Path, glove.Options{
			CachePath: cfg.CachePath,
			MaxBytes:  cfg.CacheMaxBytes,
			Workers:   cfg.Workers,
		})
		var capErr *glove.CapacityError
		if errors.As(err, &capErr) {
			return nil, fmt.Errorf("embedding.cache_max_bytes is too small: %w", err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load pretrained vectors: %w", err)
		}
		defer store.Reset()
	}
	table, matched, err := glove.BuildTable(v, store, cfg.Dim, rng)
	if err != nil {
		return nil, err
	}
	if mtr != nil {
		mtr.PretrainedMatch.Set(float64(matched))
	}
	return table, nil
}
