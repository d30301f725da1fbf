package tensor

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor represents a multi-dimensional array of float64 values stored in
// row-major order.
type Tensor struct {
	Data         []float64
	Shape        []int
	Grad         *Tensor `gob:"-"` // Exclude Grad from gob serialization
	RequiresGrad bool
}

// GobEncode implements the gob.GobEncoder interface.
func (t *Tensor) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(t.Data); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.Shape); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.RequiresGrad); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface.
func (t *Tensor) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(data))

	if err := dec.Decode(&t.Data); err != nil {
		return err
	}
	if err := dec.Decode(&t.Shape); err != nil {
		return err
	}
	if err := dec.Decode(&t.RequiresGrad); err != nil {
		return err
	}
	if len(t.Data) != numel(t.Shape) {
		return fmt.Errorf("decoded tensor has %d values for shape %v", len(t.Data), t.Shape)
	}
	return nil
}

// NewTensor creates a new Tensor with the given shape and optional data.
// A nil data slice allocates zeros.
func NewTensor(shape []int, data []float64, requiresGrad bool) *Tensor {
	if data == nil {
		data = make([]float64, numel(shape))
	}
	return &Tensor{
		Data:         data,
		Shape:        shape,
		RequiresGrad: requiresGrad,
	}
}

// Zeros allocates a zero-filled tensor that does not require gradients.
func Zeros(shape ...int) *Tensor {
	return NewTensor(shape, nil, false)
}

func numel(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Clone creates a deep copy of the tensor. Gradients are not copied.
func (t *Tensor) Clone() *Tensor {
	newData := make([]float64, len(t.Data))
	copy(newData, t.Data)
	newShape := make([]int, len(t.Shape))
	copy(newShape, t.Shape)

	return &Tensor{
		Data:         newData,
		Shape:        newShape,
		RequiresGrad: t.RequiresGrad,
	}
}

// ZeroGrad resets the gradient of the tensor to zeros.
func (t *Tensor) ZeroGrad() {
	if t.RequiresGrad {
		if t.Grad == nil {
			t.Grad = NewTensor(t.Shape, make([]float64, len(t.Data)), false)
		} else {
			for i := range t.Grad.Data {
				t.Grad.Data[i] = 0
			}
		}
	}
}

// EnsureGrad returns the gradient tensor, allocating it on first use.
func (t *Tensor) EnsureGrad() *Tensor {
	if t.Grad == nil {
		t.Grad = NewTensor(t.Shape, make([]float64, len(t.Data)), false)
	}
	return t.Grad
}

// Dense returns a gonum view over a 2D tensor. The view shares t.Data, so
// writes through either side are visible to the other.
func (t *Tensor) Dense() *mat.Dense {
	if len(t.Shape) != 2 {
		panic(fmt.Sprintf("tensor.Dense: expected 2D tensor, got shape %v", t.Shape))
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], t.Data)
}

// Row returns row i of a 2D tensor as a slice sharing t.Data.
func (t *Tensor) Row(i int) []float64 {
	cols := t.Shape[len(t.Shape)-1]
	return t.Data[i*cols : (i+1)*cols]
}

// Get returns the value at the given indices.
func (t *Tensor) Get(indices ...int) float64 {
	return t.Data[t.offset(indices)]
}

// Set assigns the value at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset(indices)] = value
}

func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: %d indices for shape %v", len(indices), t.Shape))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d of shape %v", idx, i, t.Shape))
		}
		offset = offset*t.Shape[i] + idx
	}
	return offset
}

// Reshape returns a tensor sharing t.Data with a new shape.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if numel(newShape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", len(t.Data), newShape)
	}
	return &Tensor{Data: t.Data, Shape: newShape, RequiresGrad: t.RequiresGrad}, nil
}

// FromDense copies a gonum matrix into a new 2D tensor.
func FromDense(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	out := NewTensor([]int{r, c}, nil, false)
	out.Dense().Copy(m)
	return out
}
