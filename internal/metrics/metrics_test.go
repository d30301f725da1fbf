package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrainingRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTraining(reg)

	m.Loss.WithLabelValues(SplitTrain).Set(0.5)
	m.Epochs.Inc()
	m.Batches.WithLabelValues(SplitValid).Add(3)

	assert.Equal(t, 0.5, testutil.ToFloat64(m.Loss.WithLabelValues(SplitTrain)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Epochs))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Batches.WithLabelValues(SplitValid)))

	assert.Panics(t, func() { NewTraining(reg) }, "duplicate registration")
}

func TestWriteTextfile(t *testing.T) {
	reg := NewRegistry()
	m := NewTraining(reg)
	m.BestValidLoss.Set(0.25)
	m.Checkpoints.Add(2)

	path := filepath.Join(t.TempDir(), "emotagger.prom")
	require.NoError(t, WriteTextfile(reg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "emotagger_best_valid_loss 0.25")
	assert.Contains(t, string(data), "emotagger_checkpoints_total 2")
	assert.Contains(t, string(data), "go_goroutines")
}
