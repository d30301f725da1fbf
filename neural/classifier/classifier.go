// Package classifier implements the emotion classification network:
// pretrained embedding, bidirectional LSTM, pooling and a feed-forward head
// producing one logit per label.
package classifier

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/neural/dataset"
	"github.com/golangast/emotagger/neural/nn"
	"github.com/golangast/emotagger/neural/tensor"
)

// Config describes the network shape.
type Config struct {
	VocabSize    int
	EmbeddingDim int
	// HiddenDim is the LSTM width per direction.
	HiddenDim int
	// HeadDims are the hidden widths of the feed-forward head.
	HeadDims   []int
	NumClasses int
	Dropout    float64
	// Attention pools the LSTM output with additive attention instead of
	// taking the final states of both directions.
	Attention    bool
	AttentionDim int
	// FreezeEmbedding keeps the pretrained table fixed.
	FreezeEmbedding bool
}

// DefaultConfig returns the default hyperparameters for the given sizes.
func DefaultConfig(vocabSize, numClasses int) Config {
	return Config{
		VocabSize:       vocabSize,
		EmbeddingDim:    100,
		HiddenDim:       64,
		HeadDims:        []int{1024, 256, 32},
		NumClasses:      numClasses,
		Dropout:         0.2,
		AttentionDim:    64,
		FreezeEmbedding: true,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("vocab size must be positive, got %d", c.VocabSize)
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("embedding dim must be positive, got %d", c.EmbeddingDim)
	case c.HiddenDim <= 0:
		return fmt.Errorf("hidden dim must be positive, got %d", c.HiddenDim)
	case c.NumClasses <= 0:
		return fmt.Errorf("number of classes must be positive, got %d", c.NumClasses)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	case c.Attention && c.AttentionDim <= 0:
		return fmt.Errorf("attention dim must be positive, got %d", c.AttentionDim)
	}
	for _, d := range c.HeadDims {
		if d <= 0 {
			return fmt.Errorf("head dims must be positive, got %v", c.HeadDims)
		}
	}
	return nil
}

// Classifier maps a batch of word ids to one logit per label.
type Classifier struct {
	Config    Config
	Embedding *nn.Embedding
	Encoder   *nn.BiLSTM
	Attention *nn.AdditiveAttention
	Head      *nn.FeedForward

	// Stored for backward pass
	seqLens []int
	encoded *tensor.Tensor
}

// New builds a classifier around table, a [VocabSize, EmbeddingDim]
// embedding table. rng drives weight initialization and dropout.
func New(cfg Config, table *tensor.Tensor, rng *rand.Rand) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(table.Shape) != 2 || table.Shape[0] != cfg.VocabSize || table.Shape[1] != cfg.EmbeddingDim {
		return nil, fmt.Errorf("embedding table shape %v, expected [%d %d]", table.Shape, cfg.VocabSize, cfg.EmbeddingDim)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	embedding, err := nn.NewPretrainedEmbedding(table, cfg.FreezeEmbedding)
	if err != nil {
		return nil, err
	}
	encoder, err := nn.NewBiLSTM(cfg.EmbeddingDim, cfg.HiddenDim, rng)
	if err != nil {
		return nil, err
	}
	m := &Classifier{Config: cfg, Embedding: embedding, Encoder: encoder}
	if cfg.Attention {
		if m.Attention, err = nn.NewAdditiveAttention(encoder.OutputSize(), cfg.AttentionDim, rng); err != nil {
			return nil, err
		}
	}
	if m.Head, err = nn.NewFeedForward(encoder.OutputSize(), cfg.HeadDims, cfg.NumClasses, cfg.Dropout, rng); err != nil {
		return nil, err
	}
	return m, nil
}

// Forward returns logits [batch, NumClasses]. Dropout is applied only when
// train is set; with train unset the output depends on the weights and the
// batch alone.
func (m *Classifier) Forward(batch *dataset.Batch, train bool) (*tensor.Tensor, error) {
	if batch.Size() == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	embedded, err := m.Embedding.Forward(batch.WordIDs)
	if err != nil {
		return nil, err
	}
	encoded, err := m.Encoder.Forward(embedded, batch.SeqLens)
	if err != nil {
		return nil, err
	}
	m.encoded, m.seqLens = encoded, batch.SeqLens

	var pooled *tensor.Tensor
	if m.Attention != nil {
		if pooled, err = m.Attention.Forward(encoded, batch.SeqLens); err != nil {
			return nil, err
		}
	} else {
		pooled = m.finalStates(encoded, batch.SeqLens)
	}
	return m.Head.Forward(pooled, train)
}

// finalStates concatenates, per sequence, the forward direction's state at
// its last valid step and the backward direction's state at step 0. Empty
// sequences pool to zeros.
func (m *Classifier) finalStates(encoded *tensor.Tensor, seqLens []int) *tensor.Tensor {
	batch, seqLen, width := encoded.Shape[0], encoded.Shape[1], encoded.Shape[2]
	hf := m.Encoder.Fwd.HiddenSize
	pooled := tensor.Zeros(batch, width)
	for b, n := range seqLens {
		if n == 0 {
			continue
		}
		row := pooled.Row(b)
		last := (b*seqLen + n - 1) * width
		first := b * seqLen * width
		copy(row[:hf], encoded.Data[last:last+hf])
		copy(row[hf:], encoded.Data[first+hf:first+width])
	}
	return pooled
}

// Backward propagates gradLogits [batch, NumClasses] from the last Forward
// call into every trainable parameter.
func (m *Classifier) Backward(gradLogits *tensor.Tensor) error {
	if m.encoded == nil {
		return fmt.Errorf("Classifier.Backward called before Forward")
	}
	gradPooled, err := m.Head.Backward(gradLogits)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}

	var gradEncoded *tensor.Tensor
	if m.Attention != nil {
		if gradEncoded, err = m.Attention.Backward(gradPooled); err != nil {
			return fmt.Errorf("attention: %w", err)
		}
	} else {
		gradEncoded = m.scatterFinalStates(gradPooled)
	}

	gradEmbedded, err := m.Encoder.Backward(gradEncoded)
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	return m.Embedding.Backward(gradEmbedded)
}

func (m *Classifier) scatterFinalStates(gradPooled *tensor.Tensor) *tensor.Tensor {
	batch, seqLen, width := m.encoded.Shape[0], m.encoded.Shape[1], m.encoded.Shape[2]
	hf := m.Encoder.Fwd.HiddenSize
	grad := tensor.Zeros(batch, seqLen, width)
	for b, n := range m.seqLens {
		if n == 0 {
			continue
		}
		row := gradPooled.Row(b)
		last := (b*seqLen + n - 1) * width
		first := b * seqLen * width
		copy(grad.Data[last:last+hf], row[:hf])
		for j, g := range row[hf:] {
			grad.Data[first+hf+j] += g
		}
	}
	return grad
}

// Parameters returns all the learnable parameters of the model. A frozen
// embedding table is not included.
func (m *Classifier) Parameters() []*tensor.Tensor {
	params := append([]*tensor.Tensor(nil), m.Embedding.Parameters()...)
	params = append(params, m.Encoder.Parameters()...)
	if m.Attention != nil {
		params = append(params, m.Attention.Parameters()...)
	}
	return append(params, m.Head.Parameters()...)
}

// Predict returns the highest scoring label id of every row in batch.
func (m *Classifier) Predict(batch *dataset.Batch) ([]int, error) {
	logits, err := m.Forward(batch, false)
	if err != nil {
		return nil, err
	}
	preds := make([]int, batch.Size())
	for b := range preds {
		row := logits.Row(b)
		for j, v := range row {
			if v > row[preds[b]] {
				preds[b] = j
			}
		}
	}
	return preds, nil
}
