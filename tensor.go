package gemmbatch

import "fmt"

// DType tags the element type of a tensor view.
type DType int

const (
	F32 DType = iota
	F16
)

// Size returns the element size in bytes.
func (t DType) Size() int {
	switch t {
	case F32:
		return 4
	case F16:
		return 2
	default:
		return 0
	}
}

// String returns the type tag name.
func (t DType) String() string {
	switch t {
	case F32:
		return "f32"
	case F16:
		return "f16"
	default:
		return fmt.Sprintf("dtype(%d)", int(t))
	}
}

// TensorView describes a logical 4-D array over device memory: extents
// Ne[0..3] and byte strides Nb[0..3]. Dimensions 0 and 1 are the matrix
// row and column dimensions; dimensions 2 and 3 are the batch dimensions.
// The view does not own the buffer and is read-only from the pipeline's
// perspective for operands, write-only for the output.
type TensorView struct {
	Data DevicePtr
	Type DType
	Ne   [4]int // extents per dimension
	Nb   [4]int // byte strides per dimension
}

// NewTensorView builds a contiguous view: Nb[0] is the element size and
// each further stride is the previous stride times the previous extent.
func NewTensorView(data DevicePtr, dtype DType, ne0, ne1, ne2, ne3 int) TensorView {
	t := TensorView{
		Data: data,
		Type: dtype,
		Ne:   [4]int{ne0, ne1, ne2, ne3},
	}
	t.Nb[0] = dtype.Size()
	for i := 1; i < 4; i++ {
		t.Nb[i] = t.Nb[i-1] * t.Ne[i-1]
	}
	return t
}

// NumElements returns the total logical element count.
func (t TensorView) NumElements() int {
	return t.Ne[0] * t.Ne[1] * t.Ne[2] * t.Ne[3]
}

// NumBatches returns the flattened batch count Ne[2]*Ne[3].
func (t TensorView) NumBatches() int {
	return t.Ne[2] * t.Ne[3]
}

// RowStride returns the dimension-1 stride in elements, the leading
// dimension handed to the GEMM primitive.
func (t TensorView) RowStride() int {
	return t.Nb[1] / t.Nb[0]
}

// Contiguous reports whether dimension 0 is densely packed, which the
// GEMM primitive requires of every batch slice.
func (t TensorView) Contiguous() bool {
	return t.Nb[0] == t.Type.Size()
}

// validate rejects views the batched pipeline cannot address.
func (t TensorView) validate(op, name string) error {
	if t.Data.IsNil() {
		return NewInvalidArgError(op, fmt.Sprintf("%s: nil data pointer", name))
	}
	for i, ne := range t.Ne {
		if ne <= 0 {
			return NewInvalidArgError(op, fmt.Sprintf("%s: non-positive extent ne%d=%d", name, i, ne))
		}
	}
	if !t.Contiguous() {
		return NewInvalidArgError(op, fmt.Sprintf("%s: dimension 0 not contiguous (nb0=%d, elem=%d)",
			name, t.Nb[0], t.Type.Size()))
	}
	return nil
}
