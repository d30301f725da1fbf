package nn

import (
	"fmt"
	"math"

	"github.com/golangast/emotagger/neural/tensor"
)

// Accuracy scores logits [batch, classes] against integer labels.
type Accuracy func(logits *tensor.Tensor, labels []int) (float64, error)

// BinaryAccuracy rounds sigmoid(logit) to the nearest integer, ties to even,
// and returns the fraction of elements equal to the one-hot target. A
// sigmoid of exactly 0.5 therefore predicts 0.
func BinaryAccuracy(logits *tensor.Tensor, labels []int) (float64, error) {
	targets, err := OneHot(labels, logits.Shape[len(logits.Shape)-1])
	if err != nil {
		return 0, err
	}
	if len(targets.Data) != len(logits.Data) {
		return 0, fmt.Errorf("BinaryAccuracy: logits shape %v for %d labels", logits.Shape, len(labels))
	}
	correct := 0
	for i, x := range logits.Data {
		if math.RoundToEven(tensor.Sigmoid(x)) == targets.Data[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(logits.Data)), nil
}

// ArgmaxAccuracy returns the fraction of rows whose highest logit is the label.
func ArgmaxAccuracy(logits *tensor.Tensor, labels []int) (float64, error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(labels) || len(labels) == 0 {
		return 0, fmt.Errorf("ArgmaxAccuracy: logits shape %v for %d labels", logits.Shape, len(labels))
	}
	correct := 0
	for b, label := range labels {
		row := logits.Row(b)
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		if best == label {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}
