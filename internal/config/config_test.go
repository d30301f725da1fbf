package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "emotagger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Train.BatchSize)
	assert.Equal(t, 100, cfg.Train.Epochs)
	assert.Equal(t, 1e-3, cfg.Train.LearningRate)
	assert.Equal(t, 100, cfg.Embedding.Dim)
	assert.Equal(t, 64, cfg.Model.HiddenDim)
	assert.Equal(t, []int{1024, 256, 32}, cfg.Model.HeadDims)
	assert.Zero(t, cfg.Embedding.CacheMaxBytes, "the vector store is sized from the file")
	assert.Equal(t, 0.2, cfg.Model.Dropout)
	assert.True(t, cfg.Embedding.Freeze)
	assert.False(t, cfg.Model.Attention)
	assert.Equal(t, LossBCE, cfg.Train.Loss)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
data:
  train_path: /corpus/train.csv
  never_split: ["[CLS]"]
model:
  attention: true
  head_dims: [64, 8]
train:
  epochs: 5
  prune_checkpoints: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/corpus/train.csv", cfg.Data.TrainPath)
	assert.Equal(t, "data/valid.csv", cfg.Data.ValidPath, "unset keys keep their default")
	assert.Equal(t, []string{"[CLS]"}, cfg.Data.NeverSplit)
	assert.True(t, cfg.Model.Attention)
	assert.Equal(t, []int{64, 8}, cfg.Model.HeadDims)
	assert.Equal(t, 5, cfg.Train.Epochs)
	assert.True(t, cfg.Train.PruneCheckpoints)
	assert.Equal(t, 16, cfg.Train.BatchSize)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "train:\n  epochs: 5\n")
	t.Setenv("EMOTAGGER_TRAIN_EPOCHS", "7")
	t.Setenv("EMOTAGGER_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Train.Epochs)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EMOTAGGER_TRAIN_BATCH_SIZE=32\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("EMOTAGGER_TRAIN_BATCH_SIZE") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Train.BatchSize)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "train: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing train path", func(c *Config) { c.Data.TrainPath = "" }, "data.train_path is required"},
		{"unknown tokenizer", func(c *Config) { c.Data.Tokenizer = "wordpiece" }, "data.tokenizer must be one of"},
		{"huggingface without file", func(c *Config) { c.Data.Tokenizer = TokenizerHuggingFace }, "data.tokenizer_path is required"},
		{"zero batch size", func(c *Config) { c.Train.BatchSize = 0 }, "train.batch_size must be positive"},
		{"dropout of one", func(c *Config) { c.Model.Dropout = 1 }, "model.dropout must be in [0, 1)"},
		{"bad loss", func(c *Config) { c.Train.Loss = "mse" }, "train.loss must be bce or softmax"},
		{"negative clip", func(c *Config) { c.Train.ClipValue = -1 }, "train.clip_value must not be negative"},
		{"negative cache size", func(c *Config) { c.Embedding.CacheMaxBytes = -1 }, "embedding.cache_max_bytes must not be negative"},
		{"bad head dims", func(c *Config) { c.Model.HeadDims = []int{8, 0} }, "model.head_dims must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestDump(t *testing.T) {
	cfg := Default()
	out := cfg.Dump()
	assert.Contains(t, out, "BatchSize: (int) 16")
	assert.Contains(t, out, "checkpoints")
}
