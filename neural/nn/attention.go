package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/golangast/emotagger/neural/tensor"
)

// AdditiveAttention pools a padded sequence into one vector. Each valid step
// h_t is scored as v·tanh(h_t·W + b), the scores are softmaxed over the
// first seqLen steps and the steps are summed with those weights.
type AdditiveAttention struct {
	W *tensor.Tensor // [input, attn]
	B *tensor.Tensor // [attn]
	V *tensor.Tensor // [attn, 1]

	// Stored for backward pass
	input   *tensor.Tensor // [batch*seq, input]
	u       *tensor.Tensor // tanh(h·W + b), [batch*seq, attn]
	weights *tensor.Tensor // [batch, seq]
	seqLens []int
}

// NewAdditiveAttention creates an attention stage over inputSize-wide steps.
func NewAdditiveAttention(inputSize, attnSize int, rng *rand.Rand) (*AdditiveAttention, error) {
	if inputSize <= 0 || attnSize <= 0 {
		return nil, fmt.Errorf("invalid attention dimensions input=%d attn=%d", inputSize, attnSize)
	}
	w := tensor.NewTensor([]int{inputSize, attnSize}, nil, true)
	std := math.Sqrt(1.0 / float64(inputSize))
	for i := range w.Data {
		w.Data[i] = rng.NormFloat64() * std
	}
	v := tensor.NewTensor([]int{attnSize, 1}, nil, true)
	std = math.Sqrt(1.0 / float64(attnSize))
	for i := range v.Data {
		v.Data[i] = rng.NormFloat64() * std
	}
	return &AdditiveAttention{W: w, B: tensor.NewTensor([]int{attnSize}, nil, true), V: v}, nil
}

// Parameters returns all learnable parameters of the stage.
func (a *AdditiveAttention) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{a.W, a.B, a.V}
}

// Weights returns the attention weights of the last Forward call,
// [batch, seq]. Padded steps have weight zero.
func (a *AdditiveAttention) Weights() *tensor.Tensor {
	return a.weights
}

// Forward pools input [batch, seq, input] into [batch, input].
func (a *AdditiveAttention) Forward(input *tensor.Tensor, seqLens []int) (*tensor.Tensor, error) {
	if len(input.Shape) != 3 || input.Shape[2] != a.W.Shape[0] {
		return nil, fmt.Errorf("AdditiveAttention.Forward: expected [batch, seq, %d] input, got %v", a.W.Shape[0], input.Shape)
	}
	batch, seqLen, dim := input.Shape[0], input.Shape[1], input.Shape[2]
	if len(seqLens) != batch {
		return nil, fmt.Errorf("AdditiveAttention.Forward: %d sequence lengths for batch of %d", len(seqLens), batch)
	}

	flat, err := input.Reshape([]int{batch * seqLen, dim})
	if err != nil {
		return nil, err
	}
	u := tensor.Zeros(batch*seqLen, a.W.Shape[1])
	u.Dense().Mul(flat.Dense(), a.W.Dense())
	addBias(u, a.B.Data)
	for i, x := range u.Data {
		u.Data[i] = math.Tanh(x)
	}
	scores := tensor.Zeros(batch*seqLen, 1)
	scores.Dense().Mul(u.Dense(), a.V.Dense())

	weights := tensor.Zeros(batch, seqLen)
	out := tensor.Zeros(batch, dim)
	for b := 0; b < batch; b++ {
		n := seqLens[b]
		if n < 0 || n > seqLen {
			return nil, fmt.Errorf("AdditiveAttention.Forward: sequence length %d outside [0, %d]", n, seqLen)
		}
		w := weights.Row(b)
		tensor.MaskedSoftmax(w, scores.Data[b*seqLen:(b+1)*seqLen], n)
		outRow := out.Row(b)
		for t := 0; t < n; t++ {
			for j, h := range flat.Row(b*seqLen + t) {
				outRow[j] += w[t] * h
			}
		}
	}

	a.input, a.u, a.weights, a.seqLens = flat, u, weights, seqLens
	return out, nil
}

// Backward takes grad [batch, input] and returns the gradient with respect to
// every step, [batch, seq, input].
func (a *AdditiveAttention) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if a.input == nil {
		return nil, fmt.Errorf("AdditiveAttention.Backward called before Forward")
	}
	batch, seqLen := a.weights.Shape[0], a.weights.Shape[1]
	dim := a.input.Shape[1]
	if len(grad.Shape) != 2 || grad.Shape[0] != batch || grad.Shape[1] != dim {
		return nil, fmt.Errorf("AdditiveAttention.Backward: gradient shape %v, expected [%d %d]", grad.Shape, batch, dim)
	}

	dInput := tensor.Zeros(batch*seqLen, dim)
	dScores := tensor.Zeros(batch*seqLen, 1)
	for b := 0; b < batch; b++ {
		n := a.seqLens[b]
		w := a.weights.Row(b)
		g := grad.Row(b)

		// d(out)/d(weight_t) = h_t·g, then back through the softmax.
		dw := make([]float64, n)
		dot := 0.0
		for t := 0; t < n; t++ {
			h := a.input.Row(b*seqLen + t)
			dh := dInput.Row(b*seqLen + t)
			for j := range h {
				dw[t] += h[j] * g[j]
				dh[j] += w[t] * g[j]
			}
			dot += w[t] * dw[t]
		}
		for t := 0; t < n; t++ {
			dScores.Data[b*seqLen+t] = w[t] * (dw[t] - dot)
		}
	}

	// scores = u·V, u = tanh(h·W + b)
	var dV mat.Dense
	dV.Mul(a.u.Dense().T(), dScores.Dense())
	vGrad := a.V.EnsureGrad().Dense()
	vGrad.Add(vGrad, &dV)

	dPre := tensor.Zeros(a.u.Shape...)
	dPre.Dense().Mul(dScores.Dense(), a.V.Dense().T())
	for i, u := range a.u.Data {
		dPre.Data[i] *= 1 - u*u
	}

	var dW mat.Dense
	dW.Mul(a.input.Dense().T(), dPre.Dense())
	wGrad := a.W.EnsureGrad().Dense()
	wGrad.Add(wGrad, &dW)
	addColumnSums(a.B.EnsureGrad().Data, dPre)

	var dh mat.Dense
	dh.Mul(dPre.Dense(), a.W.Dense().T())
	d := dInput.Dense()
	d.Add(d, &dh)

	return dInput.Reshape([]int{batch, seqLen, dim})
}
