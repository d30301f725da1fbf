// Package train runs the training and evaluation loop of the emotion
// classifier.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/golangast/emotagger/internal/metrics"
	"github.com/golangast/emotagger/neural/classifier"
	"github.com/golangast/emotagger/neural/dataset"
	"github.com/golangast/emotagger/neural/nn"
	"github.com/golangast/emotagger/neural/tensor"
)

// ErrNoBatches is returned when a pass over a split completes without a
// single usable batch.
var ErrNoBatches = errors.New("no batches were processed")

// Model is the network being trained.
type Model interface {
	Forward(batch *dataset.Batch, train bool) (*tensor.Tensor, error)
	Backward(gradLogits *tensor.Tensor) error
	Save(filePath string, meta classifier.Meta) error
}

// Batches yields the batches of one split. *dataset.Iterator implements it.
type Batches interface {
	Reset()
	Next() (*dataset.Batch, bool)
}

// Options configures a Session. Zero values select the defaults.
type Options struct {
	CheckpointDir string
	// PruneCheckpoints removes the previous best checkpoint whenever a new
	// one is written.
	PruneCheckpoints bool
	// HistoryPath, when set, is where Run writes the epoch history as YAML.
	HistoryPath string

	Loss     nn.Loss
	Accuracy nn.Accuracy

	// Logger should already carry the run_id field. Nil uses the default
	// logger tagged with RunID.
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Metrics *metrics.Training
	RunID   uuid.UUID
}

// Session owns the state of one training run.
type Session struct {
	model     Model
	optimizer nn.Optimizer
	train     Batches
	valid     Batches

	loss     nn.Loss
	accuracy nn.Accuracy

	checkpointDir string
	prune         bool
	historyPath   string

	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *metrics.Training
	runID   uuid.UUID

	epoch          int
	History        History
	BestValidLoss  float64
	bestCheckpoint string
	// Checkpoints lists every checkpoint written, oldest first, including
	// pruned ones.
	Checkpoints []string
}

// NewSession creates a Session. The checkpoint directory is created if
// needed.
func NewSession(model Model, optimizer nn.Optimizer, train, valid Batches, opts Options) (*Session, error) {
	if model == nil || optimizer == nil || train == nil || valid == nil {
		return nil, fmt.Errorf("model, optimizer and both splits are required")
	}
	if opts.CheckpointDir == "" {
		opts.CheckpointDir = "."
	}
	if err := os.MkdirAll(opts.CheckpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", opts.CheckpointDir, err)
	}
	opts = opts.withDefaults()

	return &Session{
		model:         model,
		optimizer:     optimizer,
		train:         train,
		valid:         valid,
		loss:          opts.Loss,
		accuracy:      opts.Accuracy,
		checkpointDir: opts.CheckpointDir,
		prune:         opts.PruneCheckpoints,
		historyPath:   opts.HistoryPath,
		logger:        opts.Logger,
		clock:         opts.Clock,
		metrics:       opts.Metrics,
		runID:         opts.RunID,
		BestValidLoss: math.Inf(1),
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Loss == nil {
		o.Loss = nn.OneHotBCE
	}
	if o.Accuracy == nil {
		o.Accuracy = nn.BinaryAccuracy
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.RunID == uuid.Nil {
		o.RunID = uuid.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("run_id", o.RunID.String())
	}
	return o
}

// Evaluate scores model over labeled batches in evaluation mode, for example
// a checkpoint reloaded after training. Only Loss, Accuracy, Logger, Metrics
// and RunID are read from opts.
func Evaluate(model Model, batches Batches, opts Options) (loss, acc float64, err error) {
	if model == nil || batches == nil {
		return 0, 0, fmt.Errorf("model and batches are required")
	}
	opts = opts.withDefaults()
	s := &Session{
		model:    model,
		loss:     opts.Loss,
		accuracy: opts.Accuracy,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		runID:    opts.RunID,
	}
	return s.Evaluate(batches)
}

// RunID identifies the run in logs, metrics and checkpoints.
func (s *Session) RunID() uuid.UUID {
	return s.runID
}

// Epoch returns the number of completed epochs.
func (s *Session) Epoch() int {
	return s.epoch
}

// BestCheckpoint returns the path of the checkpoint with the lowest
// validation loss, or "" before the first one is written.
func (s *Session) BestCheckpoint() string {
	return s.bestCheckpoint
}

// Run trains for a fixed number of epochs. ctx is checked between epochs, so
// cancellation stops the run at the next epoch boundary. The history is
// written to HistoryPath even when the run stops early.
func (s *Session) Run(ctx context.Context, epochs int) (err error) {
	if s.historyPath != "" {
		defer func() {
			if herr := s.History.Save(s.historyPath); herr != nil && err == nil {
				err = herr
			}
		}()
	}

	for i := 0; i < epochs; i++ {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Training interrupted", "completed_epochs", s.epoch, "error", err)
			return err
		}
		if _, err := s.RunEpoch(); err != nil {
			return err
		}
	}
	s.logger.Info("Training complete", "epochs", s.epoch, "best_valid_loss", s.BestValidLoss, "best_checkpoint", s.bestCheckpoint)
	return nil
}

// RunEpoch trains once over the training split, evaluates once over the
// validation split, records the epoch in History and writes a checkpoint
// when the validation loss is strictly below every earlier one.
func (s *Session) RunEpoch() (EpochStats, error) {
	start := s.clock.Now()
	epoch := s.epoch + 1

	trainLoss, trainAcc, err := s.pass(s.train, true, metrics.SplitTrain)
	if err != nil {
		return EpochStats{}, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	validLoss, validAcc, err := s.pass(s.valid, false, metrics.SplitValid)
	if err != nil {
		return EpochStats{}, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	duration := s.clock.Since(start)

	stats := EpochStats{
		Epoch:     epoch,
		TrainLoss: trainLoss,
		TrainAcc:  trainAcc,
		ValidLoss: validLoss,
		ValidAcc:  validAcc,
		Duration:  duration,
	}
	path, saved, err := s.checkpoint(epoch, validLoss)
	if err != nil {
		return EpochStats{}, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	if saved {
		stats.Checkpoint = path
	}

	s.epoch = epoch
	s.History = append(s.History, stats)
	s.report(stats)
	return stats, nil
}

// Evaluate runs the model over batches in evaluation mode and returns the
// mean loss and accuracy.
func (s *Session) Evaluate(batches Batches) (loss, acc float64, err error) {
	loss, acc, err = s.pass(batches, false, metrics.SplitTest)
	if err != nil {
		return 0, 0, err
	}
	if s.metrics != nil {
		s.metrics.Loss.WithLabelValues(metrics.SplitTest).Set(loss)
		s.metrics.Accuracy.WithLabelValues(metrics.SplitTest).Set(acc)
	}
	return loss, acc, nil
}

// pass runs every batch of one split and averages loss and accuracy over
// the batches that succeeded. A failing batch is logged and skipped.
func (s *Session) pass(batches Batches, train bool, split string) (float64, float64, error) {
	batches.Reset()
	var totalLoss, totalAcc float64
	n := 0
	for batch, ok := batches.Next(); ok; batch, ok = batches.Next() {
		loss, acc, err := s.step(batch, train)
		if err != nil {
			s.logger.Warn("Skipping batch", "split", split, "batch_size", batch.Size(), "error", err)
			if s.metrics != nil {
				s.metrics.SkippedBatches.WithLabelValues(split).Inc()
			}
			continue
		}
		totalLoss += loss
		totalAcc += acc
		n++
		if s.metrics != nil {
			s.metrics.Batches.WithLabelValues(split).Inc()
		}
	}
	if n == 0 {
		return 0, 0, fmt.Errorf("%s split: %w", split, ErrNoBatches)
	}
	return totalLoss / float64(n), totalAcc / float64(n), nil
}

func (s *Session) step(batch *dataset.Batch, train bool) (float64, float64, error) {
	if batch.LabelIDs == nil {
		return 0, 0, fmt.Errorf("batch contains unlabeled instances")
	}
	if train {
		s.optimizer.ZeroGrad()
	}

	logits, err := s.model.Forward(batch, train)
	if err != nil {
		return 0, 0, fmt.Errorf("model forward pass failed: %w", err)
	}
	loss, grad, err := s.loss(logits, batch.LabelIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("loss: %w", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, 0, fmt.Errorf("loss is %v", loss)
	}
	acc, err := s.accuracy(logits, batch.LabelIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("accuracy: %w", err)
	}

	if train {
		if err := s.model.Backward(grad); err != nil {
			return 0, 0, fmt.Errorf("model backward pass failed: %w", err)
		}
		s.optimizer.Step()
	}
	return loss, acc, nil
}

// checkpoint writes model_<epoch>.gob when validLoss improves strictly on
// BestValidLoss.
func (s *Session) checkpoint(epoch int, validLoss float64) (string, bool, error) {
	if !(validLoss < s.BestValidLoss) {
		return "", false, nil
	}
	path := filepath.Join(s.checkpointDir, fmt.Sprintf("model_%d.gob", epoch))
	meta := classifier.Meta{RunID: s.runID, Epoch: epoch, ValidLoss: validLoss}
	if err := s.model.Save(path, meta); err != nil {
		return "", false, fmt.Errorf("failed to save checkpoint %s: %w", path, err)
	}
	s.logger.Info("Saved model", "path", path, "valid_loss", validLoss, "previous_best", s.BestValidLoss)

	if s.prune && s.bestCheckpoint != "" {
		if err := os.Remove(s.bestCheckpoint); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to remove previous checkpoint", "path", s.bestCheckpoint, "error", err)
		}
	}
	s.BestValidLoss = validLoss
	s.bestCheckpoint = path
	s.Checkpoints = append(s.Checkpoints, path)

	if s.metrics != nil {
		s.metrics.Checkpoints.Inc()
		s.metrics.BestValidLoss.Set(validLoss)
	}
	return path, true, nil
}

func (s *Session) report(stats EpochStats) {
	s.logger.Info(FormatEpoch(stats.Epoch, stats.Duration),
		"train_loss", fmt.Sprintf("%.3f", stats.TrainLoss),
		"train_acc", fmt.Sprintf("%.2f%%", stats.TrainAcc*100),
		"valid_loss", fmt.Sprintf("%.3f", stats.ValidLoss),
		"valid_acc", fmt.Sprintf("%.2f%%", stats.ValidAcc*100),
	)
	if s.metrics == nil {
		return
	}
	s.metrics.Epochs.Inc()
	s.metrics.EpochDuration.Observe(stats.Duration.Seconds())
	s.metrics.Loss.WithLabelValues(metrics.SplitTrain).Set(stats.TrainLoss)
	s.metrics.Loss.WithLabelValues(metrics.SplitValid).Set(stats.ValidLoss)
	s.metrics.Accuracy.WithLabelValues(metrics.SplitTrain).Set(stats.TrainAcc)
	s.metrics.Accuracy.WithLabelValues(metrics.SplitValid).Set(stats.ValidAcc)
}

// FormatEpoch renders the epoch header, e.g. "Epoch: 07 | Epoch Time: 1m 5s".
func FormatEpoch(epoch int, d time.Duration) string {
	mins := int(d / time.Minute)
	secs := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("Epoch: %02d | Epoch Time: %dm %ds", epoch, mins, secs)
}
