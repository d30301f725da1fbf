package nn

import (
	"fmt"
	"math"

	"github.com/golangast/emotagger/neural/tensor"
)

// Loss computes a scalar loss for logits [batch, classes] against integer
// labels, together with the gradient with respect to the logits.
type Loss func(logits *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error)

// OneHot returns a [len(labels), numClasses] tensor with a 1 at each label.
func OneHot(labels []int, numClasses int) (*tensor.Tensor, error) {
	out := tensor.Zeros(len(labels), numClasses)
	for i, l := range labels {
		if l < 0 || l >= numClasses {
			return nil, fmt.Errorf("label %d out of range [0, %d)", l, numClasses)
		}
		out.Data[i*numClasses+l] = 1
	}
	return out, nil
}

// BCEWithLogitsLoss is the mean binary cross-entropy of sigmoid(logits)
// against targets over every element. It is computed in the numerically
// stable form max(x, 0) - x*y + log(1 + exp(-|x|)).
func BCEWithLogitsLoss(logits, targets *tensor.Tensor) (float64, *tensor.Tensor, error) {
	if len(logits.Data) != len(targets.Data) || len(logits.Data) == 0 {
		return 0, nil, fmt.Errorf("BCEWithLogitsLoss: logits shape %v and targets shape %v differ", logits.Shape, targets.Shape)
	}
	n := float64(len(logits.Data))
	loss := 0.0
	grad := tensor.NewTensor(append([]int(nil), logits.Shape...), nil, false)
	for i, x := range logits.Data {
		y := targets.Data[i]
		loss += math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
		grad.Data[i] = (tensor.Sigmoid(x) - y) / n
	}
	return loss / n, grad, nil
}

// OneHotBCE adapts BCEWithLogitsLoss to integer labels.
func OneHotBCE(logits *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(labels) {
		return 0, nil, fmt.Errorf("OneHotBCE: logits shape %v for %d labels", logits.Shape, len(labels))
	}
	targets, err := OneHot(labels, logits.Shape[1])
	if err != nil {
		return 0, nil, err
	}
	return BCEWithLogitsLoss(logits, targets)
}

// CrossEntropyLoss calculates the mean softmax cross-entropy of logits
// [batch, classes] against the target class of each row, and its gradient.
func CrossEntropyLoss(logits *tensor.Tensor, targets []int) (float64, *tensor.Tensor, error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(targets) || len(targets) == 0 {
		return 0, nil, fmt.Errorf("CrossEntropyLoss: logits shape %v for %d targets", logits.Shape, len(targets))
	}
	batchSize, numClasses := logits.Shape[0], logits.Shape[1]

	loss := 0.0
	grad := tensor.Zeros(batchSize, numClasses)
	probabilities := make([]float64, numClasses)
	for b, target := range targets {
		if target < 0 || target >= numClasses {
			return 0, nil, fmt.Errorf("CrossEntropyLoss: target %d out of range [0, %d)", target, numClasses)
		}
		tensor.MaskedSoftmax(probabilities, logits.Row(b), numClasses)
		loss -= math.Log(probabilities[target] + 1e-12)

		gradRow := grad.Row(b)
		for i, p := range probabilities {
			gradRow[i] = p / float64(batchSize)
		}
		gradRow[target] -= 1 / float64(batchSize)
	}
	return loss / float64(batchSize), grad, nil
}
