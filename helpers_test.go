package gemmbatch

import (
	"math/rand"
	"testing"
	"unsafe"
)

func pointerOf(b []byte) unsafe.Pointer { return unsafe.Pointer(&b[0]) }

func pointerBase(d DevicePtr) uintptr { return uintptr(d.ptr) }

// mustMalloc allocates device memory from the default context and
// registers cleanup.
func mustMalloc(t *testing.T, size int) DevicePtr {
	t.Helper()
	ptr, err := Malloc(size)
	if err != nil {
		t.Fatalf("Malloc(%d) failed: %v", size, err)
	}
	t.Cleanup(func() { Free(ptr) })
	return ptr
}

// newF32Tensor allocates a contiguous F32 tensor filled with the given
// values, or zeros when values is nil.
func newF32Tensor(t *testing.T, ne0, ne1, ne2, ne3 int, values []float32) TensorView {
	t.Helper()
	n := ne0 * ne1 * ne2 * ne3
	buf := mustMalloc(t, n*4)
	data := buf.Float32()[:n]
	if values != nil {
		if len(values) != n {
			t.Fatalf("newF32Tensor: %d values for %d elements", len(values), n)
		}
		copy(data, values)
	} else {
		clear(data)
	}
	return NewTensorView(buf, F32, ne0, ne1, ne2, ne3)
}

// newF16Tensor allocates a contiguous F16 tensor from float32 values.
func newF16Tensor(t *testing.T, ne0, ne1, ne2, ne3 int, values []float32) TensorView {
	t.Helper()
	n := ne0 * ne1 * ne2 * ne3
	buf := mustMalloc(t, n*2)
	f16 := buf.Float16()
	for i := 0; i < n; i++ {
		if values != nil {
			f16.SetFloat32(i, values[i])
		} else {
			f16.Set(i, 0)
		}
	}
	return NewTensorView(buf, F16, ne0, ne1, ne2, ne3)
}

// halfFriendlyValues returns n pseudo-random values exactly representable
// in Float16, so half-precision round trips stay exact.
func halfFriendlyValues(n int, seed int64) []float32 {
	r := rand.New(rand.NewSource(seed))
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = float32(r.Intn(512)-256) / 256.0
	}
	return vals
}

// identityValues builds ne2*ne3 stacked k-by-k identity matrices laid out
// contiguously.
func identityValues(k, ne2, ne3 int) []float32 {
	vals := make([]float32, k*k*ne2*ne3)
	for b := 0; b < ne2*ne3; b++ {
		for i := 0; i < k; i++ {
			vals[b*k*k+i*k+i] = 1
		}
	}
	return vals
}

// referenceResult computes the expected output with the reference
// implementation into a fresh buffer shaped like dst.
func referenceResult(t *testing.T, src0, src1, dst TensorView, alpha, beta float32) []float32 {
	t.Helper()
	n := dst.NumElements()
	want := dst
	want.Data = mustMalloc(t, n*4)
	copy(want.Data.Float32()[:n], dst.Data.Float32()[:n])
	if err := (Reference{}).MulMatBatched(src0, src1, want, alpha, beta); err != nil {
		t.Fatalf("reference multiply failed: %v", err)
	}
	return want.Data.Float32()[:n]
}
