package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/neural/tensor"
)

func randTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

func weightedSum(out, w *tensor.Tensor) float64 {
	s := 0.0
	for i, v := range out.Data {
		s += v * w.Data[i]
	}
	return s
}

// checkGrad compares analytic against central-difference gradients of
// loss with respect to every element of x.
func checkGrad(t *testing.T, name string, x []float64, analytic []float64, loss func() float64) {
	t.Helper()
	const eps = 1e-6
	require.Len(t, analytic, len(x), name)
	for i := range x {
		orig := x[i]
		x[i] = orig + eps
		plus := loss()
		x[i] = orig - eps
		minus := loss()
		x[i] = orig
		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, analytic[i], 1e-5, "%s[%d]", name, i)
	}
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l, err := NewLinear(3, 2, rng)
	require.NoError(t, err)
	x := randTensor(rng, 4, 3)
	w := randTensor(rng, 4, 2)

	out, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, out.Shape)
	dx, err := l.Backward(w)
	require.NoError(t, err)

	loss := func() float64 {
		out, err := l.Forward(x)
		require.NoError(t, err)
		return weightedSum(out, w)
	}
	checkGrad(t, "x", x.Data, dx.Data, loss)
	checkGrad(t, "W", l.Weights.Data, l.Weights.Grad.Data, loss)
	checkGrad(t, "b", l.Biases.Data, l.Biases.Grad.Data, loss)
}

func TestLinearShapeMismatch(t *testing.T) {
	l, err := NewLinear(3, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	_, err = l.Forward(tensor.Zeros(2, 4))
	assert.Error(t, err)
	_, err = NewLinear(0, 2, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestLSTMGradients(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		rng := rand.New(rand.NewSource(2))
		l, err := NewLSTM(3, 2, reverse, rng)
		require.NoError(t, err)
		x := randTensor(rng, 3, 4, 3)
		seqLens := []int{4, 2, 3}
		w := randTensor(rng, 3, 4, 2)

		_, err = l.Forward(x, seqLens)
		require.NoError(t, err)
		dx, err := l.Backward(w)
		require.NoError(t, err)

		loss := func() float64 {
			out, err := l.Forward(x, seqLens)
			require.NoError(t, err)
			return weightedSum(out, w)
		}
		checkGrad(t, "x", x.Data, dx.Data, loss)
		checkGrad(t, "Wx", l.Wx.Data, l.Wx.Grad.Data, loss)
		checkGrad(t, "Wh", l.Wh.Data, l.Wh.Grad.Data, loss)
		checkGrad(t, "B", l.B.Data, l.B.Grad.Data, loss)
	}
}

func TestLSTMIgnoresPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	bi, err := NewBiLSTM(2, 3, rng)
	require.NoError(t, err)

	short := randTensor(rng, 1, 2, 2)
	padded := randTensor(rng, 1, 5, 2)
	copy(padded.Data, short.Data)

	a, err := bi.Forward(short, []int{2})
	require.NoError(t, err)
	b, err := bi.Forward(padded, []int{2})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 5, 6}, b.Shape)
	assert.InDeltaSlice(t, a.Data, b.Data[:len(a.Data)], 1e-12)
	for _, v := range b.Data[len(a.Data):] {
		assert.Zero(t, v)
	}
}

func TestBiLSTMGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	bi, err := NewBiLSTM(2, 2, rng)
	require.NoError(t, err)
	x := randTensor(rng, 2, 3, 2)
	seqLens := []int{3, 1}
	w := randTensor(rng, 2, 3, 4)

	_, err = bi.Forward(x, seqLens)
	require.NoError(t, err)
	dx, err := bi.Backward(w)
	require.NoError(t, err)

	loss := func() float64 {
		out, err := bi.Forward(x, seqLens)
		require.NoError(t, err)
		return weightedSum(out, w)
	}
	checkGrad(t, "x", x.Data, dx.Data, loss)
}

func TestAttentionGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a, err := NewAdditiveAttention(3, 4, rng)
	require.NoError(t, err)
	x := randTensor(rng, 2, 4, 3)
	seqLens := []int{4, 2}
	w := randTensor(rng, 2, 3)

	out, err := a.Forward(x, seqLens)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, out.Shape)
	dx, err := a.Backward(w)
	require.NoError(t, err)

	weights := a.Weights()
	assert.InDelta(t, 1, weights.Get(1, 0)+weights.Get(1, 1), 1e-12)
	assert.Zero(t, weights.Get(1, 2))
	assert.Zero(t, weights.Get(1, 3))

	loss := func() float64 {
		out, err := a.Forward(x, seqLens)
		require.NoError(t, err)
		return weightedSum(out, w)
	}
	checkGrad(t, "x", x.Data, dx.Data, loss)
	checkGrad(t, "W", a.W.Data, a.W.Grad.Data, loss)
	checkGrad(t, "B", a.B.Data, a.B.Grad.Data, loss)
	checkGrad(t, "V", a.V.Data, a.V.Grad.Data, loss)
}

func TestFeedForwardGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	f, err := NewFeedForward(4, []int{5, 3}, 2, 0.2, rng)
	require.NoError(t, err)
	x := randTensor(rng, 3, 4)
	w := randTensor(rng, 3, 2)

	_, err = f.Forward(x, false)
	require.NoError(t, err)
	dx, err := f.Backward(w)
	require.NoError(t, err)

	loss := func() float64 {
		out, err := f.Forward(x, false)
		require.NoError(t, err)
		return weightedSum(out, w)
	}
	checkGrad(t, "x", x.Data, dx.Data, loss)
	assert.Len(t, f.Parameters(), 6)
}

func TestDropout(t *testing.T) {
	d, err := NewDropout(0.5, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	x := tensor.NewTensor([]int{1, 1000}, nil, false)
	for i := range x.Data {
		x.Data[i] = 1
	}

	assert.Same(t, x, d.Forward(x, false))

	out := d.Forward(x, true)
	zeros := 0
	for _, v := range out.Data {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, 2.0, v)
		}
	}
	assert.InDelta(t, 500, zeros, 80)

	_, err = NewDropout(1, nil)
	assert.Error(t, err)
}

func TestEmbedding(t *testing.T) {
	table := tensor.NewTensor([]int{3, 2}, []float64{0, 0, 1, 2, 3, 4}, false)
	e, err := NewPretrainedEmbedding(table, true)
	require.NoError(t, err)
	assert.Empty(t, e.Parameters())

	ids := tensor.NewTensor([]int{1, 3}, []float64{2, 1, 0}, false)
	out, err := e.Forward(ids)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 1, 2, 0, 0}, out.Data)

	require.NoError(t, e.Backward(tensor.NewTensor([]int{1, 3, 2}, []float64{1, 1, 1, 1, 1, 1}, false)))
	assert.Nil(t, table.Grad, "frozen table is never updated")

	_, err = e.Forward(tensor.NewTensor([]int{1, 1}, []float64{3}, false))
	assert.Error(t, err)
}

func TestTrainableEmbedding(t *testing.T) {
	table := tensor.NewTensor([]int{3, 2}, nil, false)
	e, err := NewPretrainedEmbedding(table, false)
	require.NoError(t, err)
	require.Len(t, e.Parameters(), 1)

	_, err = e.Forward(tensor.NewTensor([]int{1, 3}, []float64{1, 1, 2}, false))
	require.NoError(t, err)
	require.NoError(t, e.Backward(tensor.NewTensor([]int{1, 3, 2}, []float64{1, 2, 3, 4, 5, 6}, false)))
	assert.Equal(t, []float64{0, 0, 4, 6, 5, 6}, table.Grad.Data)
}

func TestBCEWithLogitsLoss(t *testing.T) {
	logits := tensor.NewTensor([]int{1, 2}, []float64{0, 2}, false)
	targets := tensor.NewTensor([]int{1, 2}, []float64{1, 0}, false)

	loss, grad, err := BCEWithLogitsLoss(logits, targets)
	require.NoError(t, err)

	want := (math.Log(2) + (2 + math.Log1p(math.Exp(-2)))) / 2
	assert.InDelta(t, want, loss, 1e-12)
	assert.InDelta(t, (0.5-1)/2, grad.Data[0], 1e-12)
	assert.InDelta(t, tensor.Sigmoid(2)/2, grad.Data[1], 1e-12)

	// Large logits stay finite.
	loss, _, err = BCEWithLogitsLoss(tensor.NewTensor([]int{1, 1}, []float64{-1000}, false), tensor.NewTensor([]int{1, 1}, []float64{1}, false))
	require.NoError(t, err)
	assert.InDelta(t, 1000, loss, 1e-9)
}

func TestOneHotBCEGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	logits := randTensor(rng, 3, 4)
	labels := []int{0, 3, 1}
	_, grad, err := OneHotBCE(logits, labels)
	require.NoError(t, err)

	checkGrad(t, "logits", logits.Data, grad.Data, func() float64 {
		loss, _, err := OneHotBCE(logits, labels)
		require.NoError(t, err)
		return loss
	})

	_, _, err = OneHotBCE(logits, []int{0, 4, 1})
	assert.Error(t, err)
}

func TestCrossEntropyLossGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	logits := randTensor(rng, 2, 3)
	labels := []int{2, 0}
	_, grad, err := CrossEntropyLoss(logits, labels)
	require.NoError(t, err)

	checkGrad(t, "logits", logits.Data, grad.Data, func() float64 {
		loss, _, err := CrossEntropyLoss(logits, labels)
		require.NoError(t, err)
		return loss
	})
}

func TestBinaryAccuracyTieBreak(t *testing.T) {
	// Label 0 for one row of two classes: target [1, 0].
	cases := []struct {
		name  string
		logit float64
		want  float64
	}{
		{"below half predicts zero", -0.1, 1},
		{"exactly half predicts zero", 0, 1},
		{"above half predicts one", 0.1, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logits := tensor.NewTensor([]int{1, 2}, []float64{5, tc.logit}, false)
			acc, err := BinaryAccuracy(logits, []int{0})
			require.NoError(t, err)
			assert.Equal(t, tc.want, acc)
		})
	}
}

func TestArgmaxAccuracy(t *testing.T) {
	logits := tensor.NewTensor([]int{2, 3}, []float64{0, 2, 1, 3, 0, 0}, false)
	acc, err := ArgmaxAccuracy(logits, []int{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.5, acc)
}

func TestAdamStep(t *testing.T) {
	p := tensor.NewTensor([]int{2}, []float64{1, -1}, true)
	opt := NewOptimizer([]*tensor.Tensor{p}, 0.1, 0)
	opt.ZeroGrad()
	p.Grad.Data[0] = 3
	p.Grad.Data[1] = -0.5
	opt.Step()

	// The first bias-corrected Adam step moves each weight by lr*sign(grad).
	assert.InDelta(t, 0.9, p.Data[0], 1e-6)
	assert.InDelta(t, -0.9, p.Data[1], 1e-6)

	opt.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, p.Grad.Data)
}

func TestAdamSkipsParametersWithoutGradient(t *testing.T) {
	p := tensor.NewTensor([]int{1}, []float64{1}, true)
	NewOptimizer([]*tensor.Tensor{p}, 0.1, 1).Step()
	assert.Equal(t, []float64{1}, p.Data)
}
