package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Tensor is a dense CPU tensor with row-major layout. Data is either
// []float32 or []int32 depending on DType.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     interface{}
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

// NewTensor creates a tensor from existing data. The data length must match
// the product of the shape dimensions.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	if numElems <= 0 {
		return nil, fmt.Errorf("invalid shape %v", shape)
	}

	switch d := data.(type) {
	case []float32:
		if dtype != Float32 {
			return nil, fmt.Errorf("dtype mismatch: got []float32 for %s", dtype)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	case []int32:
		if dtype != Int32 {
			return nil, fmt.Errorf("dtype mismatch: got []int32 for %s", dtype)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	default:
		return nil, fmt.Errorf("unsupported data type %T", data)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor of the given shape and dtype.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	if numElems <= 0 {
		return nil, fmt.Errorf("invalid shape %v", shape)
	}

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

// Reshape returns a view of the tensor with a new shape. The element count
// must be preserved; the underlying data is shared.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	if numElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape, t.NumElems, shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: numElems,
	}, nil
}

// Float32Data returns the backing float32 slice.
func (t *Tensor) Float32Data() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return data, nil
}

// Int32Data returns the backing int32 slice.
func (t *Tensor) Int32Data() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return data, nil
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// CopyInto copies src into dst at the given leading-dimension index. Both
// tensors must share dtype and src must exactly fill one dst slot.
func CopyInto(dst, src *Tensor, index int) error {
	if dst.DType != src.DType {
		return fmt.Errorf("dtype mismatch: dst %s, src %s", dst.DType, src.DType)
	}
	if len(dst.Shape) == 0 {
		return fmt.Errorf("destination tensor has no dimensions")
	}

	slotSize := dst.NumElems / dst.Shape[0]
	if src.NumElems != slotSize {
		return fmt.Errorf("sample size mismatch: slot %d, sample %d", slotSize, src.NumElems)
	}
	if index < 0 || index >= dst.Shape[0] {
		return fmt.Errorf("index %d out of range [0, %d)", index, dst.Shape[0])
	}

	offset := index * slotSize
	switch dst.DType {
	case Float32:
		dstData := dst.Data.([]float32)
		srcData := src.Data.([]float32)
		copy(dstData[offset:offset+slotSize], srcData)
	case Int32:
		dstData := dst.Data.([]int32)
		srcData := src.Data.([]int32)
		copy(dstData[offset:offset+slotSize], srcData)
	default:
		return fmt.Errorf("unsupported dtype for copy: %s", dst.DType)
	}

	return nil
}
