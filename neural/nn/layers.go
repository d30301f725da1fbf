package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/golangast/emotagger/neural/tensor"
)

// Linear represents a linear layer (fully connected layer) computing x·W + b.
type Linear struct {
	Weights *tensor.Tensor // [in, out]
	Biases  *tensor.Tensor // [out]
	input   *tensor.Tensor // Store input for backward pass
}

// NewLinear creates a new Linear layer with random weights and zero biases.
func NewLinear(inputDim, outputDim int, rng *rand.Rand) (*Linear, error) {
	if inputDim <= 0 || outputDim <= 0 {
		return nil, fmt.Errorf("invalid linear layer dimensions %dx%d", inputDim, outputDim)
	}
	// He initialization
	stdDev := math.Sqrt(2.0 / float64(inputDim))
	weights := tensor.NewTensor([]int{inputDim, outputDim}, nil, true)
	for i := range weights.Data {
		weights.Data[i] = rng.NormFloat64() * stdDev
	}
	biases := tensor.NewTensor([]int{outputDim}, nil, true)

	return &Linear{Weights: weights, Biases: biases}, nil
}

// Parameters returns all learnable parameters of the layer.
func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.Weights, l.Biases}
}

// Forward maps a [batch, in] input to [batch, out].
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 || input.Shape[1] != l.Weights.Shape[0] {
		return nil, fmt.Errorf("Linear.Forward: input shape %v does not match weights %v", input.Shape, l.Weights.Shape)
	}
	l.input = input

	out := tensor.Zeros(input.Shape[0], l.Weights.Shape[1])
	out.Dense().Mul(input.Dense(), l.Weights.Dense())
	addBias(out, l.Biases.Data)
	return out, nil
}

// Backward accumulates the weight and bias gradients and returns the
// gradient with respect to the input.
func (l *Linear) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("Linear.Backward called before Forward")
	}
	if len(grad.Shape) != 2 || grad.Shape[0] != l.input.Shape[0] || grad.Shape[1] != l.Weights.Shape[1] {
		return nil, fmt.Errorf("Linear.Backward: gradient shape %v, expected [%d %d]", grad.Shape, l.input.Shape[0], l.Weights.Shape[1])
	}

	g := grad.Dense()
	var dW mat.Dense
	dW.Mul(l.input.Dense().T(), g)
	wGrad := l.Weights.EnsureGrad().Dense()
	wGrad.Add(wGrad, &dW)
	addColumnSums(l.Biases.EnsureGrad().Data, grad)

	inGrad := tensor.Zeros(l.input.Shape...)
	inGrad.Dense().Mul(g, l.Weights.Dense().T())
	return inGrad, nil
}

// addBias adds bias to every row of the 2D tensor t.
func addBias(t *tensor.Tensor, bias []float64) {
	rows := t.Shape[0]
	for r := 0; r < rows; r++ {
		row := t.Row(r)
		for j, b := range bias {
			row[j] += b
		}
	}
}

// addColumnSums adds the column sums of the 2D tensor t to dst.
func addColumnSums(dst []float64, t *tensor.Tensor) {
	rows := t.Shape[0]
	for r := 0; r < rows; r++ {
		for j, v := range t.Row(r) {
			dst[j] += v
		}
	}
}
