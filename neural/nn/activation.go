package nn

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/neural/tensor"
)

// ReLU is the rectified linear activation.
type ReLU struct {
	mask []bool
}

// Forward returns max(x, 0) element-wise.
func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := tensor.NewTensor(append([]int(nil), input.Shape...), nil, false)
	r.mask = make([]bool, len(input.Data))
	for i, v := range input.Data {
		if v > 0 {
			out.Data[i] = v
			r.mask[i] = true
		}
	}
	return out
}

// Backward passes the gradient through the positive inputs only.
func (r *ReLU) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if len(grad.Data) != len(r.mask) {
		return nil, fmt.Errorf("ReLU.Backward: gradient has %d values, forward saw %d", len(grad.Data), len(r.mask))
	}
	out := tensor.NewTensor(append([]int(nil), grad.Shape...), nil, false)
	for i, keep := range r.mask {
		if keep {
			out.Data[i] = grad.Data[i]
		}
	}
	return out, nil
}

// Dropout zeroes inputs with probability P during training and scales the
// survivors by 1/(1-P). Outside training it is the identity.
type Dropout struct {
	P     float64
	rng   *rand.Rand
	scale []float64
}

// NewDropout creates a Dropout layer drawing its masks from rng.
func NewDropout(p float64, rng *rand.Rand) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %g", p)
	}
	return &Dropout{P: p, rng: rng}, nil
}

// Forward applies dropout when train is set.
func (d *Dropout) Forward(input *tensor.Tensor, train bool) *tensor.Tensor {
	if !train || d.P == 0 {
		d.scale = nil
		return input
	}
	keep := 1 / (1 - d.P)
	out := tensor.NewTensor(append([]int(nil), input.Shape...), nil, false)
	d.scale = make([]float64, len(input.Data))
	for i, v := range input.Data {
		if d.rng.Float64() >= d.P {
			d.scale[i] = keep
			out.Data[i] = v * keep
		}
	}
	return out
}

// Backward applies the mask of the last Forward call.
func (d *Dropout) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if d.scale == nil {
		return grad, nil
	}
	if len(grad.Data) != len(d.scale) {
		return nil, fmt.Errorf("Dropout.Backward: gradient has %d values, forward saw %d", len(grad.Data), len(d.scale))
	}
	out := tensor.NewTensor(append([]int(nil), grad.Shape...), nil, false)
	for i, s := range d.scale {
		out.Data[i] = grad.Data[i] * s
	}
	return out, nil
}
