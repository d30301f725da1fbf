package train

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EpochStats summarizes one epoch.
type EpochStats struct {
	Epoch      int           `yaml:"epoch"`
	TrainLoss  float64       `yaml:"train_loss"`
	TrainAcc   float64       `yaml:"train_acc"`
	ValidLoss  float64       `yaml:"valid_loss"`
	ValidAcc   float64       `yaml:"valid_acc"`
	Duration   time.Duration `yaml:"duration"`
	Checkpoint string        `yaml:"checkpoint,omitempty"`
}

// History is the ordered list of epoch summaries of a run.
type History []EpochStats

// Save writes the history as YAML.
func (h History) Save(path string) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history %s: %w", path, err)
	}
	return nil
}

// LoadHistory reads a history written by Save.
func LoadHistory(path string) (History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h History
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode history %s: %w", path, err)
	}
	return h, nil
}

// ValidLosses returns the validation loss of every epoch in order.
func (h History) ValidLosses() []float64 {
	out := make([]float64, len(h))
	for i, e := range h {
		out[i] = e.ValidLoss
	}
	return out
}
