package nn

import (
	"fmt"

	"github.com/golangast/emotagger/neural/tensor"
)

// Embedding represents a simple token embedding layer.
type Embedding struct {
	Weight *tensor.Tensor // Embedding weights, [vocab, dim]
	// Frozen weights are never updated and are not reported by Parameters.
	Frozen bool

	// Stored values from forward pass for backward calculation
	inputTokenIDs []int
	inputShape    []int
}

// NewPretrainedEmbedding wraps table as an embedding layer. The table is
// used as is, not copied.
func NewPretrainedEmbedding(table *tensor.Tensor, freeze bool) (*Embedding, error) {
	if len(table.Shape) != 2 || table.Shape[0] == 0 || table.Shape[1] == 0 {
		return nil, fmt.Errorf("embedding table must be a non-empty 2D tensor, got shape %v", table.Shape)
	}
	table.RequiresGrad = !freeze
	return &Embedding{Weight: table, Frozen: freeze}, nil
}

// VocabSize returns the number of rows in the table.
func (e *Embedding) VocabSize() int {
	return e.Weight.Shape[0]
}

// Dim returns the width of each embedding.
func (e *Embedding) Dim() int {
	return e.Weight.Shape[1]
}

// Parameters returns all learnable parameters of the layer.
func (e *Embedding) Parameters() []*tensor.Tensor {
	if e.Frozen {
		return nil
	}
	return []*tensor.Tensor{e.Weight}
}

// Forward looks up ids [batch, seq] and returns [batch, seq, dim].
func (e *Embedding) Forward(ids *tensor.Tensor) (*tensor.Tensor, error) {
	if len(ids.Shape) != 2 {
		return nil, fmt.Errorf("Embedding.Forward: expected [batch, seq] ids, got shape %v", ids.Shape)
	}
	dim, vocabSize := e.Dim(), e.VocabSize()
	out := tensor.Zeros(ids.Shape[0], ids.Shape[1], dim)
	e.inputShape = ids.Shape
	e.inputTokenIDs = make([]int, len(ids.Data))
	for i, v := range ids.Data {
		id := int(v)
		if id < 0 || id >= vocabSize {
			return nil, fmt.Errorf("Embedding.Forward: token id %d out of range [0, %d)", id, vocabSize)
		}
		e.inputTokenIDs[i] = id
		copy(out.Data[i*dim:(i+1)*dim], e.Weight.Row(id))
	}
	return out, nil
}

// Backward accumulates grad [batch, seq, dim] into the rows that were looked
// up. It does nothing for a frozen table.
func (e *Embedding) Backward(grad *tensor.Tensor) error {
	if e.Frozen {
		return nil
	}
	if e.inputTokenIDs == nil || len(grad.Data) != len(e.inputTokenIDs)*e.Dim() {
		return fmt.Errorf("Embedding backward called before forward or with mismatched input/gradient shapes")
	}
	dim := e.Dim()
	wGrad := e.Weight.EnsureGrad()
	for i, id := range e.inputTokenIDs {
		row := wGrad.Data[id*dim : (id+1)*dim]
		for j, g := range grad.Data[i*dim : (i+1)*dim] {
			row[j] += g
		}
	}
	return nil
}
