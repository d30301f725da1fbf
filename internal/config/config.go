// Package config loads the emotagger configuration. Values come from
// Default, then an optional YAML file, then an optional .env file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// Tokenizer names accepted in data.tokenizer.
const (
	TokenizerBasic       = "basic"
	TokenizerWhitespace  = "whitespace"
	TokenizerHuggingFace = "huggingface"
)

// Loss names accepted in train.loss.
const (
	LossBCE     = "bce"
	LossSoftmax = "softmax"
)

// Config is the full emotagger configuration.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Model     ModelConfig     `yaml:"model"`
	Train     TrainConfig     `yaml:"train"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DataConfig locates the datasets and selects the tokenizer.
type DataConfig struct {
	TrainPath string `yaml:"train_path" env:"EMOTAGGER_DATA_TRAIN_PATH"`
	ValidPath string `yaml:"valid_path" env:"EMOTAGGER_DATA_VALID_PATH"`
	TestPath  string `yaml:"test_path" env:"EMOTAGGER_DATA_TEST_PATH"`
	// Tokenizer is one of "basic", "whitespace" or "huggingface".
	Tokenizer        string   `yaml:"tokenizer" env:"EMOTAGGER_DATA_TOKENIZER"`
	TokenizerPath    string   `yaml:"tokenizer_path" env:"EMOTAGGER_DATA_TOKENIZER_PATH"`
	TokenizerLibrary string   `yaml:"tokenizer_library" env:"EMOTAGGER_DATA_TOKENIZER_LIBRARY"`
	NeverSplit       []string `yaml:"never_split" env:"EMOTAGGER_DATA_NEVER_SPLIT"`
	ReplaceDigits    bool     `yaml:"replace_digits" env:"EMOTAGGER_DATA_REPLACE_DIGITS"`
}

// EmbeddingConfig controls the word embedding table.
type EmbeddingConfig struct {
	// Path is the pretrained vector file. Empty means random initialization.
	Path          string `yaml:"path" env:"EMOTAGGER_EMBEDDING_PATH"`
	Dim           int    `yaml:"dim" env:"EMOTAGGER_EMBEDDING_DIM"`
	CachePath     string `yaml:"cache_path" env:"EMOTAGGER_EMBEDDING_CACHE_PATH"`
	// CacheMaxBytes bounds the vector store. Zero sizes it from the file.
	CacheMaxBytes int    `yaml:"cache_max_bytes" env:"EMOTAGGER_EMBEDDING_CACHE_MAX_BYTES"`
	Workers       int    `yaml:"workers" env:"EMOTAGGER_EMBEDDING_WORKERS"`
	Freeze        bool   `yaml:"freeze" env:"EMOTAGGER_EMBEDDING_FREEZE"`
}

// ModelConfig sizes the LSTM encoder and the classifier head.
type ModelConfig struct {
	HiddenDim    int     `yaml:"hidden_dim" env:"EMOTAGGER_MODEL_HIDDEN_DIM"`
	HeadDims     []int   `yaml:"head_dims" env:"EMOTAGGER_MODEL_HEAD_DIMS"`
	Dropout      float64 `yaml:"dropout" env:"EMOTAGGER_MODEL_DROPOUT"`
	Attention    bool    `yaml:"attention" env:"EMOTAGGER_MODEL_ATTENTION"`
	AttentionDim int     `yaml:"attention_dim" env:"EMOTAGGER_MODEL_ATTENTION_DIM"`
}

// TrainConfig holds the optimization settings.
type TrainConfig struct {
	BatchSize    int     `yaml:"batch_size" env:"EMOTAGGER_TRAIN_BATCH_SIZE"`
	Epochs       int     `yaml:"epochs" env:"EMOTAGGER_TRAIN_EPOCHS"`
	LearningRate float64 `yaml:"learning_rate" env:"EMOTAGGER_TRAIN_LEARNING_RATE"`
	// ClipValue bounds every gradient element; zero disables clipping.
	ClipValue float64 `yaml:"clip_value" env:"EMOTAGGER_TRAIN_CLIP_VALUE"`
	Seed      uint64  `yaml:"seed" env:"EMOTAGGER_TRAIN_SEED"`
	// Loss is "bce" (one-hot targets) or "softmax" (cross-entropy).
	Loss             string `yaml:"loss" env:"EMOTAGGER_TRAIN_LOSS"`
	Shuffle          bool   `yaml:"shuffle" env:"EMOTAGGER_TRAIN_SHUFFLE"`
	CheckpointDir    string `yaml:"checkpoint_dir" env:"EMOTAGGER_TRAIN_CHECKPOINT_DIR"`
	PruneCheckpoints bool   `yaml:"prune_checkpoints" env:"EMOTAGGER_TRAIN_PRUNE_CHECKPOINTS"`
}

// LogConfig selects the slog level and handler format.
type LogConfig struct {
	Level  string `yaml:"level" env:"EMOTAGGER_LOG_LEVEL"`
	Format string `yaml:"format" env:"EMOTAGGER_LOG_FORMAT"`
}

// MetricsConfig controls where Prometheus metrics are written.
type MetricsConfig struct {
	// Textfile, when set, receives the Prometheus metrics at the end of a run.
	Textfile string `yaml:"textfile" env:"EMOTAGGER_METRICS_TEXTFILE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Data: DataConfig{
			TrainPath:  "data/train.csv",
			ValidPath:  "data/valid.csv",
			TestPath:   "data/test.csv",
			Tokenizer:  TokenizerBasic,
			NeverSplit: []string{"[CLS]", "[SEP]", "[MASK]", "[PAD]", "[UNK]"},
		},
		Embedding: EmbeddingConfig{
			Path:   "data/glove.6B.100d.txt",
			Dim:    100,
			Freeze: true,
		},
		Model: ModelConfig{
			HiddenDim:    64,
			HeadDims:     []int{1024, 256, 32},
			Dropout:      0.2,
			AttentionDim: 64,
		},
		Train: TrainConfig{
			BatchSize:     16,
			Epochs:        100,
			LearningRate:  1e-3,
			ClipValue:     5,
			Seed:          42,
			Loss:          LossBCE,
			Shuffle:       true,
			CheckpointDir: "checkpoints",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only the
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting by its YAML key.
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{"data.train_path", c.Data.TrainPath},
		{"data.valid_path", c.Data.ValidPath},
		{"train.checkpoint_dir", c.Train.CheckpointDir},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}

	switch c.Data.Tokenizer {
	case TokenizerBasic, TokenizerWhitespace:
	case TokenizerHuggingFace:
		if c.Data.TokenizerPath == "" {
			return errors.New("data.tokenizer_path is required when data.tokenizer is huggingface")
		}
	default:
		return fmt.Errorf("data.tokenizer must be one of basic, whitespace, huggingface, got %q", c.Data.Tokenizer)
	}

	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Embedding.CacheMaxBytes < 0 {
		return fmt.Errorf("embedding.cache_max_bytes must not be negative, got %d", c.Embedding.CacheMaxBytes)
	}
	if c.Model.HiddenDim <= 0 {
		return fmt.Errorf("model.hidden_dim must be positive, got %d", c.Model.HiddenDim)
	}
	for _, d := range c.Model.HeadDims {
		if d <= 0 {
			return fmt.Errorf("model.head_dims must be positive, got %v", c.Model.HeadDims)
		}
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return fmt.Errorf("model.dropout must be in [0, 1), got %g", c.Model.Dropout)
	}
	if c.Model.Attention && c.Model.AttentionDim <= 0 {
		return fmt.Errorf("model.attention_dim must be positive, got %d", c.Model.AttentionDim)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("train.batch_size must be positive, got %d", c.Train.BatchSize)
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be positive, got %d", c.Train.Epochs)
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("train.learning_rate must be positive, got %g", c.Train.LearningRate)
	}
	if c.Train.ClipValue < 0 {
		return fmt.Errorf("train.clip_value must not be negative, got %g", c.Train.ClipValue)
	}
	if c.Train.Loss != LossBCE && c.Train.Loss != LossSoftmax {
		return fmt.Errorf("train.loss must be bce or softmax, got %q", c.Train.Loss)
	}
	return nil
}

// Dump renders the configuration for debug logging.
func (c *Config) Dump() string {
	return spew.Sdump(c)
}
