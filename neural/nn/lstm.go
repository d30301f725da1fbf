package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/golangast/emotagger/neural/tensor"
)

// LSTM is a single-direction LSTM layer over padded batches. Steps at or past
// a sequence's length leave its state untouched and produce zero output, so
// padding never influences the result.
//
// The four gates are packed along the last axis of Wx, Wh and B in the order
// input, forget, cell, output.
type LSTM struct {
	InputSize  int
	HiddenSize int
	// Reverse runs from the last valid step of each sequence to the first.
	Reverse bool

	Wx *tensor.Tensor // [input, 4*hidden]
	Wh *tensor.Tensor // [hidden, 4*hidden]
	B  *tensor.Tensor // [4*hidden]

	// Stored for backward pass
	steps  []lstmStep
	batch  int
	seqLen int
}

type lstmStep struct {
	t      int
	active []bool
	x      *tensor.Tensor // [batch, input]
	hPrev  *tensor.Tensor // [batch, hidden]
	cPrev  *tensor.Tensor // [batch, hidden]
	gates  *tensor.Tensor // activated gates, [batch, 4*hidden]
	c      *tensor.Tensor // [batch, hidden]
}

// NewLSTM creates an LSTM with weights drawn from U(-1/sqrt(hidden), 1/sqrt(hidden)).
func NewLSTM(inputSize, hiddenSize int, reverse bool, rng *rand.Rand) (*LSTM, error) {
	if inputSize <= 0 || hiddenSize <= 0 {
		return nil, fmt.Errorf("invalid LSTM dimensions input=%d hidden=%d", inputSize, hiddenSize)
	}
	bound := 1 / math.Sqrt(float64(hiddenSize))
	uniform := func(shape ...int) *tensor.Tensor {
		t := tensor.NewTensor(shape, nil, true)
		for i := range t.Data {
			t.Data[i] = (rng.Float64()*2 - 1) * bound
		}
		return t
	}
	return &LSTM{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		Reverse:    reverse,
		Wx:         uniform(inputSize, 4*hiddenSize),
		Wh:         uniform(hiddenSize, 4*hiddenSize),
		B:          uniform(4 * hiddenSize),
	}, nil
}

// Parameters returns all learnable parameters of the LSTM.
func (l *LSTM) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.Wx, l.Wh, l.B}
}

// Forward runs the layer over input [batch, seq, input] and returns the
// hidden state at every step, [batch, seq, hidden].
func (l *LSTM) Forward(input *tensor.Tensor, seqLens []int) (*tensor.Tensor, error) {
	if len(input.Shape) != 3 || input.Shape[2] != l.InputSize {
		return nil, fmt.Errorf("LSTM.Forward: expected [batch, seq, %d] input, got %v", l.InputSize, input.Shape)
	}
	batch, seqLen := input.Shape[0], input.Shape[1]
	if len(seqLens) != batch {
		return nil, fmt.Errorf("LSTM.Forward: %d sequence lengths for batch of %d", len(seqLens), batch)
	}
	for _, n := range seqLens {
		if n < 0 || n > seqLen {
			return nil, fmt.Errorf("LSTM.Forward: sequence length %d outside [0, %d]", n, seqLen)
		}
	}

	H := l.HiddenSize
	out := tensor.Zeros(batch, seqLen, H)
	h := tensor.Zeros(batch, H)
	c := tensor.Zeros(batch, H)
	l.steps = l.steps[:0]
	l.batch, l.seqLen = batch, seqLen

	for s := 0; s < seqLen; s++ {
		t := s
		if l.Reverse {
			t = seqLen - 1 - s
		}
		active := make([]bool, batch)
		anyActive := false
		for b, n := range seqLens {
			if t < n {
				active[b] = true
				anyActive = true
			}
		}
		if !anyActive {
			continue
		}

		x := tensor.Zeros(batch, l.InputSize)
		for b := 0; b < batch; b++ {
			if active[b] {
				off := (b*seqLen + t) * l.InputSize
				copy(x.Row(b), input.Data[off:off+l.InputSize])
			}
		}

		gates := tensor.Zeros(batch, 4*H)
		g := gates.Dense()
		g.Mul(x.Dense(), l.Wx.Dense())
		var hh mat.Dense
		hh.Mul(h.Dense(), l.Wh.Dense())
		g.Add(g, &hh)
		addBias(gates, l.B.Data)

		hNext, cNext := h.Clone(), c.Clone()
		for b := 0; b < batch; b++ {
			if !active[b] {
				continue
			}
			row := gates.Row(b)
			cPrev, cRow, hRow := c.Row(b), cNext.Row(b), hNext.Row(b)
			outRow := out.Data[(b*seqLen+t)*H : (b*seqLen+t+1)*H]
			for j := 0; j < H; j++ {
				row[j] = tensor.Sigmoid(row[j])
				row[H+j] = tensor.Sigmoid(row[H+j])
				row[2*H+j] = math.Tanh(row[2*H+j])
				row[3*H+j] = tensor.Sigmoid(row[3*H+j])

				cRow[j] = row[H+j]*cPrev[j] + row[j]*row[2*H+j]
				hRow[j] = row[3*H+j] * math.Tanh(cRow[j])
				outRow[j] = hRow[j]
			}
		}

		l.steps = append(l.steps, lstmStep{t: t, active: active, x: x, hPrev: h, cPrev: c, gates: gates, c: cNext})
		h, c = hNext, cNext
	}
	return out, nil
}

// Backward runs backpropagation through time for grad [batch, seq, hidden],
// accumulating parameter gradients and returning the input gradient.
func (l *LSTM) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if l.batch == 0 {
		return nil, fmt.Errorf("LSTM.Backward called before Forward")
	}
	H := l.HiddenSize
	if len(grad.Shape) != 3 || grad.Shape[0] != l.batch || grad.Shape[1] != l.seqLen || grad.Shape[2] != H {
		return nil, fmt.Errorf("LSTM.Backward: gradient shape %v, expected [%d %d %d]", grad.Shape, l.batch, l.seqLen, H)
	}

	dx := tensor.Zeros(l.batch, l.seqLen, l.InputSize)
	dh := tensor.Zeros(l.batch, H)
	dc := tensor.Zeros(l.batch, H)
	wxGrad := l.Wx.EnsureGrad().Dense()
	whGrad := l.Wh.EnsureGrad().Dense()
	bGrad := l.B.EnsureGrad().Data

	for s := len(l.steps) - 1; s >= 0; s-- {
		st := l.steps[s]
		dA := tensor.Zeros(l.batch, 4*H)
		for b, ok := range st.active {
			if !ok {
				continue
			}
			row, dRow := st.gates.Row(b), dA.Row(b)
			dhRow, dcRow := dh.Row(b), dc.Row(b)
			cRow, cPrev := st.c.Row(b), st.cPrev.Row(b)
			gRow := grad.Data[(b*l.seqLen+st.t)*H : (b*l.seqLen+st.t+1)*H]
			for j := 0; j < H; j++ {
				i, f, g, o := row[j], row[H+j], row[2*H+j], row[3*H+j]
				tc := math.Tanh(cRow[j])
				dhj := gRow[j] + dhRow[j]
				dcj := dcRow[j] + dhj*o*(1-tc*tc)

				dRow[j] = dcj * g * i * (1 - i)
				dRow[H+j] = dcj * cPrev[j] * f * (1 - f)
				dRow[2*H+j] = dcj * i * (1 - g*g)
				dRow[3*H+j] = dhj * tc * o * (1 - o)
				dcRow[j] = dcj * f
			}
		}

		dAd := dA.Dense()
		var dWx, dWh mat.Dense
		dWx.Mul(st.x.Dense().T(), dAd)
		wxGrad.Add(wxGrad, &dWx)
		dWh.Mul(st.hPrev.Dense().T(), dAd)
		whGrad.Add(whGrad, &dWh)
		addColumnSums(bGrad, dA)

		dxt := tensor.Zeros(l.batch, l.InputSize)
		dxt.Dense().Mul(dAd, l.Wx.Dense().T())
		dhPrev := tensor.Zeros(l.batch, H)
		dhPrev.Dense().Mul(dAd, l.Wh.Dense().T())

		// Inactive rows carried their state through this step unchanged,
		// so their incoming gradients pass through as well.
		for b, ok := range st.active {
			if !ok {
				continue
			}
			copy(dh.Row(b), dhPrev.Row(b))
			off := (b*l.seqLen + st.t) * l.InputSize
			copy(dx.Data[off:off+l.InputSize], dxt.Row(b))
		}
	}
	return dx, nil
}

// BiLSTM runs a forward and a reverse LSTM over the same input and
// concatenates their outputs along the feature axis.
type BiLSTM struct {
	Fwd *LSTM
	Bwd *LSTM
}

// NewBiLSTM creates a bidirectional LSTM with hiddenSize units per direction.
func NewBiLSTM(inputSize, hiddenSize int, rng *rand.Rand) (*BiLSTM, error) {
	fwd, err := NewLSTM(inputSize, hiddenSize, false, rng)
	if err != nil {
		return nil, err
	}
	bwd, err := NewLSTM(inputSize, hiddenSize, true, rng)
	if err != nil {
		return nil, err
	}
	return &BiLSTM{Fwd: fwd, Bwd: bwd}, nil
}

// Parameters returns the parameters of both directions.
func (b *BiLSTM) Parameters() []*tensor.Tensor {
	return append(b.Fwd.Parameters(), b.Bwd.Parameters()...)
}

// OutputSize returns the width of each output step.
func (b *BiLSTM) OutputSize() int {
	return b.Fwd.HiddenSize + b.Bwd.HiddenSize
}

// Forward returns [batch, seq, 2*hidden]; the first half of each step is the
// forward direction.
func (b *BiLSTM) Forward(input *tensor.Tensor, seqLens []int) (*tensor.Tensor, error) {
	f, err := b.Fwd.Forward(input, seqLens)
	if err != nil {
		return nil, fmt.Errorf("forward direction: %w", err)
	}
	r, err := b.Bwd.Forward(input, seqLens)
	if err != nil {
		return nil, fmt.Errorf("backward direction: %w", err)
	}

	batch, seqLen := input.Shape[0], input.Shape[1]
	hf, hb := b.Fwd.HiddenSize, b.Bwd.HiddenSize
	out := tensor.Zeros(batch, seqLen, hf+hb)
	for i := 0; i < batch*seqLen; i++ {
		copy(out.Data[i*(hf+hb):], f.Data[i*hf:(i+1)*hf])
		copy(out.Data[i*(hf+hb)+hf:], r.Data[i*hb:(i+1)*hb])
	}
	return out, nil
}

// Backward splits grad between the two directions and sums their input
// gradients.
func (b *BiLSTM) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if len(grad.Shape) != 3 || grad.Shape[2] != b.OutputSize() {
		return nil, fmt.Errorf("BiLSTM.Backward: gradient shape %v", grad.Shape)
	}
	batch, seqLen := grad.Shape[0], grad.Shape[1]
	hf, hb := b.Fwd.HiddenSize, b.Bwd.HiddenSize
	gf := tensor.Zeros(batch, seqLen, hf)
	gb := tensor.Zeros(batch, seqLen, hb)
	for i := 0; i < batch*seqLen; i++ {
		copy(gf.Data[i*hf:(i+1)*hf], grad.Data[i*(hf+hb):])
		copy(gb.Data[i*hb:(i+1)*hb], grad.Data[i*(hf+hb)+hf:])
	}

	dxf, err := b.Fwd.Backward(gf)
	if err != nil {
		return nil, err
	}
	dxb, err := b.Bwd.Backward(gb)
	if err != nil {
		return nil, err
	}
	for i := range dxf.Data {
		dxf.Data[i] += dxb.Data[i]
	}
	return dxf, nil
}
