package nn

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/neural/tensor"
)

// FeedForward is a stack of Linear -> ReLU -> Dropout blocks followed by an
// output Linear layer with no activation.
type FeedForward struct {
	Hidden   []*Linear
	Output   *Linear
	relus    []*ReLU
	dropouts []*Dropout
}

// NewFeedForward creates a FeedForward network mapping inputDim to outputDim
// through hiddenDims.
func NewFeedForward(inputDim int, hiddenDims []int, outputDim int, dropout float64, rng *rand.Rand) (*FeedForward, error) {
	f := &FeedForward{}
	in := inputDim
	for _, dim := range hiddenDims {
		linear, err := NewLinear(in, dim, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to create linear layer for feed-forward network: %w", err)
		}
		d, err := NewDropout(dropout, rng)
		if err != nil {
			return nil, err
		}
		f.Hidden = append(f.Hidden, linear)
		f.relus = append(f.relus, &ReLU{})
		f.dropouts = append(f.dropouts, d)
		in = dim
	}
	out, err := NewLinear(in, outputDim, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create output layer for feed-forward network: %w", err)
	}
	f.Output = out
	return f, nil
}

// Forward performs the forward pass. Dropout is only active when train is set.
func (f *FeedForward) Forward(input *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	x := input
	for i, linear := range f.Hidden {
		h, err := linear.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("hidden layer %d: %w", i, err)
		}
		x = f.dropouts[i].Forward(f.relus[i].Forward(h), train)
	}
	return f.Output.Forward(x)
}

// Backward performs the backward pass and returns the input gradient.
func (f *FeedForward) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	g, err := f.Output.Backward(grad)
	if err != nil {
		return nil, err
	}
	for i := len(f.Hidden) - 1; i >= 0; i-- {
		if g, err = f.dropouts[i].Backward(g); err != nil {
			return nil, err
		}
		if g, err = f.relus[i].Backward(g); err != nil {
			return nil, err
		}
		if g, err = f.Hidden[i].Backward(g); err != nil {
			return nil, fmt.Errorf("hidden layer %d: %w", i, err)
		}
	}
	return g, nil
}

// Parameters returns all learnable parameters of the FeedForward network.
func (f *FeedForward) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, linear := range f.Hidden {
		params = append(params, linear.Parameters()...)
	}
	return append(params, f.Output.Parameters()...)
}
