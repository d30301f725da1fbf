package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/golangast/emotagger/internal/config"
	"github.com/golangast/emotagger/internal/logging"
	"github.com/golangast/emotagger/internal/metrics"
	"github.com/golangast/emotagger/neural/classifier"
	"github.com/golangast/emotagger/neural/dataset"
	"github.com/golangast/emotagger/neural/nnu/vocab"
	"github.com/golangast/emotagger/neural/train"
)

// Prediction is the predicted label of one instance.
type Prediction struct {
	Line      int
	Sentence  string
	Label     string
	Predicted string
}

// EvalResult is the outcome of scoring a split with a checkpoint.
type EvalResult struct {
	Meta classifier.Meta
	// Scored is false when the split holds no labeled batch; Loss and Acc
	// are zero then.
	Scored      bool
	Loss        float64
	Acc         float64
	Unknown     int
	Predictions []Prediction
}

// Evaluate scores the split at path with the checkpoint, using the
// vocabulary and labels saved in cfg.Train.CheckpointDir by Train. reg may
// be nil.
func Evaluate(cfg *config.Config, checkpoint, path string, reg prometheus.Registerer) (*EvalResult, error) {
	logger := slog.Default()
	var mtr *metrics.Training
	if reg != nil {
		mtr = metrics.NewTraining(reg)
	}

	dir := cfg.Train.CheckpointDir
	v, err := vocab.LoadVocabulary(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}
	labels, err := vocab.LoadLabelIndex(filepath.Join(dir, LabelsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	model, meta, err := classifier.Load(checkpoint)
	if err != nil {
		return nil, err
	}
	logger = logging.WithRun(meta.RunID.String())
	if model.Config.VocabSize != v.Size() || model.Config.NumClasses != labels.Len() {
		return nil, fmt.Errorf("checkpoint %s expects %d words and %d labels, artifacts have %d and %d",
			checkpoint, model.Config.VocabSize, model.Config.NumClasses, v.Size(), labels.Len())
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

	ds, err := dataset.Load(path, dataset.LoadOptions{Labels: labels, Tokenizer: tok, ReplaceDigits: cfg.Data.ReplaceDigits})
	if err != nil {
		return nil, err
	}
	set, err := convert(ds, v, metrics.SplitTest, mtr)
	if err != nil {
		return nil, err
	}
	it, err := dataset.NewIterator(set, v, dataset.IteratorOptions{BatchSize: cfg.Train.BatchSize})
	if err != nil {
		return nil, err
	}

	loss, accuracy, err := Objective(cfg.Train.Loss)
	if err != nil {
		return nil, err
	}
	result := &EvalResult{Meta: meta, Unknown: set.Unknown}
	result.Loss, result.Acc, err = train.Evaluate(model, it, train.Options{
		Loss:     loss,
		Accuracy: accuracy,
		Logger:   logger,
		Metrics:  mtr,
		RunID:    meta.RunID,
	})
	switch {
	case errors.Is(err, train.ErrNoBatches):
		logger.Warn("Split has no labeled batches, only predicting", "path", path)
	case err != nil:
		return nil, err
	default:
		result.Scored = true
	}

	result.Predictions, err = predict(model, it, ds, labels)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// predict relies on it yielding the instances of ds in order.
func predict(model *classifier.Classifier, it *dataset.Iterator, ds *dataset.Dataset, labels *vocab.LabelIndex) ([]Prediction, error) {
	preds := make([]Prediction, 0, ds.Len())
	it.Reset()
	for batch, ok := it.Next(); ok; batch, ok = it.Next() {
		ids, err := model.Predict(batch)
		if err != nil {
			return nil, fmt.Errorf("prediction failed: %w", err)
		}
		for _, id := range ids {
			inst := ds.Instances[len(preds)]
			label, _ := labels.Label(id)
			preds = append(preds, Prediction{
				Line:      inst.Line,
				Sentence:  inst.Sentence,
				Label:     inst.Label,
				Predicted: label,
			})
		}
	}
	return preds, nil
}

// WritePredictions writes one tab separated line per prediction:
// line, gold label, predicted label, sentence.
func WritePredictions(w io.Writer, preds []Prediction) error {
	bw := bufio.NewWriter(w)
	for _, p := range preds {
		if _, err := fmt.Fprintf(bw, "%d\t%s\t%s\t%s\n", p.Line, p.Label, p.Predicted, p.Sentence); err != nil {
			return err
		}
	}
	return bw.Flush()
}
