package tensor

import (
	"math"
)

// Softmax applies the softmax function to the last dimension of the tensor.
func Softmax(tensor *Tensor) *Tensor {
	shape := tensor.Shape
	lastDim := shape[len(shape)-1]
	output := NewTensor(shape, make([]float64, len(tensor.Data)), false)

	for i := 0; i < len(tensor.Data); i += lastDim {
		MaskedSoftmax(output.Data[i:i+lastDim], tensor.Data[i:i+lastDim], lastDim)
	}

	return output
}

// MaskedSoftmax writes softmax(src[:n]) into dst[:n] and zeros the rest of dst.
func MaskedSoftmax(dst, src []float64, n int) {
	maxVal := math.Inf(-1)
	for j := 0; j < n; j++ {
		if src[j] > maxVal {
			maxVal = src[j]
		}
	}

	sumExp := 0.0
	for j := 0; j < n; j++ {
		dst[j] = math.Exp(src[j] - maxVal)
		sumExp += dst[j]
	}
	for j := 0; j < n; j++ {
		dst[j] /= sumExp
	}
	for j := n; j < len(dst); j++ {
		dst[j] = 0
	}
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
