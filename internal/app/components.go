package app

import (
	"fmt"

	"github.com/golangast/emotagger/internal/config"
	"github.com/golangast/emotagger/neural/nn"
	"github.com/golangast/emotagger/neural/tokenizer"
)

// Artifact file names written next to the checkpoints.
const (
	VocabFile   = "vocab.gob"
	LabelsFile  = "labels.txt"
	HistoryFile = "history.yaml"
)

// NewTokenizer builds the tokenizer named in cfg. The returned close func
// must be called once the tokenizer is no longer needed.
func NewTokenizer(cfg config.DataConfig) (tokenizer.Tokenizer, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Tokenizer {
	case config.TokenizerBasic:
		return tokenizer.NewBasic(cfg.NeverSplit...), noop, nil
	case config.TokenizerWhitespace:
		return tokenizer.Whitespace, noop, nil
	case config.TokenizerHuggingFace:
		hf, err := tokenizer.NewHuggingFace(cfg.TokenizerPath, cfg.TokenizerLibrary, cfg.NeverSplit...)
		if err != nil {
			return nil, nil, err
		}
		return hf, hf.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown tokenizer %q", cfg.Tokenizer)
	}
}

// Objective returns the loss and the matching accuracy for the given name.
func Objective(name string) (nn.Loss, nn.Accuracy, error) {
	switch name {
	case config.LossBCE:
		return nn.OneHotBCE, nn.BinaryAccuracy, nil
	case config.LossSoftmax:
		return nn.CrossEntropyLoss, nn.ArgmaxAccuracy, nil
	default:
		return nil, nil, fmt.Errorf("unknown loss %q", name)
	}
}
