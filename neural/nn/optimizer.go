package nn

import (
	"math"

	"github.com/golangast/emotagger/neural/tensor"
)

// Optimizer interface defines the contract for optimizers.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// Adam represents the Adam optimizer.
type Adam struct {
	parameters   []*tensor.Tensor
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	t            int
	m            map[*tensor.Tensor][]float64 // 1st moment vector
	v            map[*tensor.Tensor][]float64 // 2nd moment vector
	clipValue    float64
}

// NewOptimizer creates a new Adam optimizer. Gradients are clipped to
// [-clipValue, clipValue] before each step; a clipValue of zero disables
// clipping.
func NewOptimizer(parameters []*tensor.Tensor, learningRate float64, clipValue float64) *Adam {
	return &Adam{
		parameters:   parameters,
		learningRate: learningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
		m:            make(map[*tensor.Tensor][]float64),
		v:            make(map[*tensor.Tensor][]float64),
		clipValue:    clipValue,
	}
}

// LearningRate returns the step size.
func (o *Adam) LearningRate() float64 {
	return o.learningRate
}

// Step performs a single optimization step.
func (o *Adam) Step() {
	o.t++
	bias1 := 1 - math.Pow(o.beta1, float64(o.t))
	bias2 := 1 - math.Pow(o.beta2, float64(o.t))

	for _, p := range o.parameters {
		if p.Grad == nil {
			continue
		}
		m, ok := o.m[p]
		if !ok {
			m = make([]float64, len(p.Data))
			o.m[p] = m
			o.v[p] = make([]float64, len(p.Data))
		}
		v := o.v[p]

		for i, g := range p.Grad.Data {
			if o.clipValue > 0 {
				g = math.Max(-o.clipValue, math.Min(o.clipValue, g))
			}
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			mHat := m[i] / bias1
			vHat := v[i] / bias2
			p.Data[i] -= o.learningRate * mHat / (math.Sqrt(vHat) + o.epsilon)
		}
	}
}

// ZeroGrad resets the gradients of all parameters.
func (o *Adam) ZeroGrad() {
	for _, p := range o.parameters {
		p.ZeroGrad()
	}
}
