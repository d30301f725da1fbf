package train

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/internal/metrics"
	"github.com/golangast/emotagger/neural/classifier"
	"github.com/golangast/emotagger/neural/dataset"
	"github.com/golangast/emotagger/neural/nn"
	"github.com/golangast/emotagger/neural/tensor"
)

type sliceBatches struct {
	batches []*dataset.Batch
	pos     int
}

func (s *sliceBatches) Reset() { s.pos = 0 }

func (s *sliceBatches) Next() (*dataset.Batch, bool) {
	if s.pos >= len(s.batches) {
		return nil, false
	}
	s.pos++
	return s.batches[s.pos-1], true
}

func labeledBatch(t *testing.T, labels ...int) *dataset.Batch {
	t.Helper()
	features := make([]dataset.Feature, len(labels))
	for i, l := range labels {
		features[i] = dataset.Feature{WordIDs: []int{1, 2}, SeqLen: 2, LabelID: l, HasLabel: true}
	}
	b, err := dataset.Collate(features)
	require.NoError(t, err)
	return b
}

// fakeModel returns zero logits and records what the session asks of it.
type fakeModel struct {
	clock       *clockwork.FakeClock
	stepTime    time.Duration
	failForward map[int]bool
	forwards    int
	backwards   int
	lastTrain   bool
}

func (m *fakeModel) Forward(batch *dataset.Batch, train bool) (*tensor.Tensor, error) {
	m.forwards++
	m.lastTrain = train
	if m.clock != nil {
		m.clock.Advance(m.stepTime)
	}
	if m.failForward[m.forwards] {
		return nil, errors.New("boom")
	}
	return tensor.Zeros(batch.Size(), 3), nil
}

func (m *fakeModel) Backward(*tensor.Tensor) error {
	m.backwards++
	return nil
}

func (m *fakeModel) Save(path string, meta classifier.Meta) error {
	return os.WriteFile(path, []byte(meta.RunID.String()), 0o644)
}

type countingOptimizer struct {
	steps, zeroes int
}

func (o *countingOptimizer) Step()     { o.steps++ }
func (o *countingOptimizer) ZeroGrad() { o.zeroes++ }

// scriptedLoss reports validLosses in order for evaluation batches and 1.0
// for training batches.
func scriptedLoss(m *fakeModel, validLosses ...float64) nn.Loss {
	i := 0
	return func(logits *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
		if m.lastTrain {
			return 1, tensor.Zeros(logits.Shape...), nil
		}
		loss := validLosses[i]
		i++
		return loss, tensor.Zeros(logits.Shape...), nil
	}
}

func newTestSession(t *testing.T, m *fakeModel, opts Options, train, valid []*dataset.Batch) (*Session, *countingOptimizer) {
	t.Helper()
	if opts.CheckpointDir == "" {
		opts.CheckpointDir = t.TempDir()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewFakeClock()
	}
	opt := &countingOptimizer{}
	s, err := NewSession(m, opt, &sliceBatches{batches: train}, &sliceBatches{batches: valid}, opts)
	require.NoError(t, err)
	return s, opt
}

func TestCheckpointPolicy(t *testing.T) {
	dir := t.TempDir()
	m := &fakeModel{}
	historyPath := filepath.Join(dir, "history.yaml")
	s, _ := newTestSession(t, m, Options{
		CheckpointDir: dir,
		HistoryPath:   historyPath,
		Loss:          scriptedLoss(m, 0.9, 0.7, 0.8, 0.6),
	}, []*dataset.Batch{labeledBatch(t, 0)}, []*dataset.Batch{labeledBatch(t, 1)})

	require.NoError(t, s.Run(context.Background(), 4))

	want := []string{
		filepath.Join(dir, "model_1.gob"),
		filepath.Join(dir, "model_2.gob"),
		filepath.Join(dir, "model_4.gob"),
	}
	assert.Equal(t, want, s.Checkpoints)
	for _, p := range want {
		assert.FileExists(t, p)
	}
	assert.NoFileExists(t, filepath.Join(dir, "model_3.gob"))
	assert.Equal(t, 0.6, s.BestValidLoss)
	assert.Equal(t, want[2], s.BestCheckpoint())
	assert.Equal(t, 4, s.Epoch())

	assert.Equal(t, []float64{0.9, 0.7, 0.8, 0.6}, s.History.ValidLosses())
	assert.Empty(t, s.History[2].Checkpoint)
	assert.Equal(t, want[1], s.History[1].Checkpoint)

	saved, err := LoadHistory(historyPath)
	require.NoError(t, err)
	assert.Equal(t, s.History, saved)
}

func TestEqualLossIsNotAnImprovement(t *testing.T) {
	m := &fakeModel{}
	s, _ := newTestSession(t, m, Options{Loss: scriptedLoss(m, 0.5, 0.5)},
		[]*dataset.Batch{labeledBatch(t, 0)}, []*dataset.Batch{labeledBatch(t, 0)})

	require.NoError(t, s.Run(context.Background(), 2))
	assert.Len(t, s.Checkpoints, 1)
}

func TestPruneCheckpoints(t *testing.T) {
	dir := t.TempDir()
	m := &fakeModel{}
	s, _ := newTestSession(t, m, Options{
		CheckpointDir:    dir,
		PruneCheckpoints: true,
		Loss:             scriptedLoss(m, 0.9, 0.7, 0.8, 0.6),
	}, []*dataset.Batch{labeledBatch(t, 0)}, []*dataset.Batch{labeledBatch(t, 1)})

	require.NoError(t, s.Run(context.Background(), 4))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model_4.gob", entries[0].Name())
	assert.Len(t, s.Checkpoints, 3)
}

func TestTrainAndEvalModes(t *testing.T) {
	m := &fakeModel{}
	s, opt := newTestSession(t, m, Options{},
		[]*dataset.Batch{labeledBatch(t, 0), labeledBatch(t, 1, 2)},
		[]*dataset.Batch{labeledBatch(t, 2)})

	stats, err := s.RunEpoch()
	require.NoError(t, err)

	assert.Equal(t, 3, m.forwards)
	assert.Equal(t, 2, m.backwards, "no backward pass on validation")
	assert.Equal(t, 2, opt.steps)
	assert.Equal(t, 2, opt.zeroes)
	assert.False(t, m.lastTrain)

	// Zero logits: every sigmoid is exactly 0.5 and predicts 0, so only the
	// off-target elements of each row are correct.
	assert.InDelta(t, 2.0/3.0, stats.TrainAcc, 1e-12)
	assert.InDelta(t, 2.0/3.0, stats.ValidAcc, 1e-12)
	assert.InDelta(t, 0.6931471805599453, stats.ValidLoss, 1e-12)
}

func TestFailedBatchIsSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	mtr := metrics.NewTraining(reg)
	m := &fakeModel{failForward: map[int]bool{1: true}}
	s, opt := newTestSession(t, m, Options{Metrics: mtr},
		[]*dataset.Batch{labeledBatch(t, 0), labeledBatch(t, 1)},
		[]*dataset.Batch{labeledBatch(t, 2)})

	_, err := s.RunEpoch()
	require.NoError(t, err)

	assert.Equal(t, 1, opt.steps)
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.SkippedBatches.WithLabelValues(metrics.SplitTrain)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.Batches.WithLabelValues(metrics.SplitTrain)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.Batches.WithLabelValues(metrics.SplitValid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.Epochs))
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.Checkpoints))
}

func TestUnlabeledBatchIsSkipped(t *testing.T) {
	unlabeled, err := dataset.Collate([]dataset.Feature{{WordIDs: []int{1}, SeqLen: 1}})
	require.NoError(t, err)
	m := &fakeModel{}
	s, _ := newTestSession(t, m, Options{},
		[]*dataset.Batch{unlabeled, labeledBatch(t, 0)},
		[]*dataset.Batch{labeledBatch(t, 0)})

	_, err = s.RunEpoch()
	require.NoError(t, err)
	assert.Equal(t, 2, m.forwards)
}

func TestNoUsableBatches(t *testing.T) {
	m := &fakeModel{failForward: map[int]bool{1: true}}
	s, _ := newTestSession(t, m, Options{},
		[]*dataset.Batch{labeledBatch(t, 0)},
		[]*dataset.Batch{labeledBatch(t, 0)})

	_, err := s.RunEpoch()
	assert.ErrorIs(t, err, ErrNoBatches)
	assert.Empty(t, s.History)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "history.yaml")
	m := &fakeModel{}
	s, _ := newTestSession(t, m, Options{HistoryPath: historyPath},
		[]*dataset.Batch{labeledBatch(t, 0)}, []*dataset.Batch{labeledBatch(t, 0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Epoch())
	assert.FileExists(t, historyPath)
}

func TestEpochTimeUsesSessionClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := &fakeModel{clock: clock, stepTime: 30 * time.Second}
	s, _ := newTestSession(t, m, Options{Clock: clock},
		[]*dataset.Batch{labeledBatch(t, 0), labeledBatch(t, 1)},
		[]*dataset.Batch{labeledBatch(t, 0)})

	stats, err := s.RunEpoch()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, stats.Duration)
	assert.Equal(t, "Epoch: 01 | Epoch Time: 1m 30s", FormatEpoch(stats.Epoch, stats.Duration))
}

func TestFormatEpoch(t *testing.T) {
	assert.Equal(t, "Epoch: 12 | Epoch Time: 0m 7s", FormatEpoch(12, 7500*time.Millisecond))
	assert.Equal(t, "Epoch: 100 | Epoch Time: 61m 0s", FormatEpoch(100, 61*time.Minute))
}

func TestTrainsClassifier(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := classifier.Config{
		VocabSize: 5, EmbeddingDim: 4, HiddenDim: 3, HeadDims: []int{6},
		NumClasses: 2, FreezeEmbedding: true,
	}
	table := tensor.Zeros(5, 4)
	for i := range table.Data {
		table.Data[i] = rng.NormFloat64()
	}
	model, err := classifier.New(cfg, table, rng)
	require.NoError(t, err)

	features := []dataset.Feature{
		{WordIDs: []int{1, 2}, SeqLen: 2, LabelID: 0, HasLabel: true},
		{WordIDs: []int{3, 4, 3}, SeqLen: 3, LabelID: 1, HasLabel: true},
		{WordIDs: []int{1}, SeqLen: 1, LabelID: 0, HasLabel: true},
		{WordIDs: []int{4, 4}, SeqLen: 2, LabelID: 1, HasLabel: true},
	}
	batch, err := dataset.Collate(features)
	require.NoError(t, err)

	dir := t.TempDir()
	s, err := NewSession(model, nn.NewOptimizer(model.Parameters(), 0.01, 5),
		&sliceBatches{batches: []*dataset.Batch{batch}}, &sliceBatches{batches: []*dataset.Batch{batch}},
		Options{CheckpointDir: dir, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), 20))

	losses := s.History.ValidLosses()
	assert.Less(t, losses[len(losses)-1], losses[0])
	require.NotEmpty(t, s.BestCheckpoint())

	best, meta, err := classifier.Load(s.BestCheckpoint())
	require.NoError(t, err)
	assert.Equal(t, s.RunID(), meta.RunID)
	assert.Equal(t, s.BestValidLoss, meta.ValidLoss)

	loss, acc, err := s.Evaluate(&sliceBatches{batches: []*dataset.Batch{batch}})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.Equal(t, cfg.HeadDims, best.Config.HeadDims)

	reloadedLoss, _, err := Evaluate(best, &sliceBatches{batches: []*dataset.Batch{batch}}, Options{})
	require.NoError(t, err)
	assert.InDelta(t, s.BestValidLoss, reloadedLoss, 1e-9)
}

func TestEvaluateWithoutSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	mtr := metrics.NewTraining(reg)
	m := &fakeModel{}

	loss, acc, err := Evaluate(m, &sliceBatches{batches: []*dataset.Batch{labeledBatch(t, 1)}}, Options{Metrics: mtr})
	require.NoError(t, err)
	assert.InDelta(t, 0.6931471805599453, loss, 1e-12)
	assert.InDelta(t, 2.0/3.0, acc, 1e-12)
	assert.Equal(t, 0, m.backwards)
	assert.InDelta(t, loss, testutil.ToFloat64(mtr.Loss.WithLabelValues(metrics.SplitTest)), 1e-12)

	_, _, err = Evaluate(nil, &sliceBatches{}, Options{})
	assert.Error(t, err)
}

func TestDefaultLoggerCarriesRunID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))

	id := uuid.New()
	opts := Options{RunID: id}.withDefaults()
	opts.Logger.Info("epoch")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("run_id=")))
	assert.Contains(t, buf.String(), "run_id="+id.String())

	// A caller supplied logger is used as is.
	buf.Reset()
	tagged := slog.New(slog.NewTextHandler(&buf, nil)).With("run_id", "r1")
	opts = Options{RunID: id, Logger: tagged}.withDefaults()
	opts.Logger.Info("epoch")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("run_id=")))
	assert.Contains(t, buf.String(), "run_id=r1")
}
