package gemmbatch

import (
	"fmt"
	"unsafe"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// BatchedGemm is the external grouped-GEMM primitive: one call multiplies
// batchCount independent matrix pairs, each referenced by a device
// address in the pointer arrays.
//
// The contract is column-major, cuBLAS style: for every i in
// [0, batchCount), C_i = alpha*op(A_i)*op(B_i) + beta*C_i where op(A) is
// m-by-k after the optional transpose, op(B) is k-by-n, and C is m-by-n
// with leading dimension ldc. Operand element types are tagged; the
// output is always float32. Any non-success is fatal to the request and
// leaves the output buffers undefined.
type BatchedGemm interface {
	MultiplyBatched(transA, transB bool, m, n, k int, alpha float32,
		ptrsA []uintptr, typeA DType, lda int,
		ptrsB []uintptr, typeB DType, ldb int,
		beta float32,
		ptrsC []uintptr, ldc int,
		batchCount int) error
}

// gonumBatchedGemm implements BatchedGemm on gonum's float32 BLAS. The
// column-major contract maps onto gonum's row-major Sgemm through the
// standard operand-swap identity: C_col = op(A)op(B) is computed as
// C_row = op(B)op(A) with m and n exchanged. With cgo a system BLAS is
// registered for the inner Sgemm (see gemm_cgo.go).
type gonumBatchedGemm struct{}

func (gonumBatchedGemm) MultiplyBatched(transA, transB bool, m, n, k int, alpha float32,
	ptrsA []uintptr, typeA DType, lda int,
	ptrsB []uintptr, typeB DType, ldb int,
	beta float32,
	ptrsC []uintptr, ldc int,
	batchCount int) error {

	if batchCount <= 0 {
		return fmt.Errorf("non-positive batch count %d", batchCount)
	}
	if len(ptrsA) < batchCount || len(ptrsB) < batchCount || len(ptrsC) < batchCount {
		return fmt.Errorf("pointer arrays shorter than batch count %d", batchCount)
	}
	if m <= 0 || n <= 0 || k <= 0 {
		return fmt.Errorf("non-positive dimensions m=%d n=%d k=%d", m, n, k)
	}

	// Element counts of the stored (pre-op) column-major operands.
	aCols, bCols := k, n
	if transA {
		aCols = m
	}
	if transB {
		bCols = k
	}
	aLen, bLen := lda*aCols, ldb*bCols

	tA, tB := blas.NoTrans, blas.NoTrans
	if transA {
		tA = blas.Trans
	}
	if transB {
		tB = blas.Trans
	}

	// Scratch for widening half-precision operands, reused across batches.
	var aScratch, bScratch []float32
	if typeA == F16 {
		aScratch = make([]float32, aLen)
	}
	if typeB == F16 {
		bScratch = make([]float32, bLen)
	}

	for i := 0; i < batchCount; i++ {
		a, err := operandF32(ptrsA[i], typeA, aLen, aScratch)
		if err != nil {
			return fmt.Errorf("batch %d operand A: %w", i, err)
		}
		b, err := operandF32(ptrsB[i], typeB, bLen, bScratch)
		if err != nil {
			return fmt.Errorf("batch %d operand B: %w", i, err)
		}
		if ptrsC[i] == 0 {
			return fmt.Errorf("batch %d: nil output pointer", i)
		}
		c := unsafe.Slice((*float32)(unsafe.Pointer(ptrsC[i])), ldc*n)

		// Column-major to row-major: swap operands and exchange m/n.
		blas32.Implementation().Sgemm(tB, tA, n, m, k, alpha, b, ldb, a, lda, beta, c, ldc)
	}
	return nil
}

// operandF32 presents one batch slice as float32, widening F16 storage
// into scratch.
func operandF32(p uintptr, dtype DType, elems int, scratch []float32) ([]float32, error) {
	if p == 0 {
		return nil, fmt.Errorf("nil batch pointer")
	}
	switch dtype {
	case F32:
		return unsafe.Slice((*float32)(unsafe.Pointer(p)), elems), nil
	case F16:
		src := NewFloat16Slice(unsafe.Slice((*byte)(unsafe.Pointer(p)), elems*2))
		for i := 0; i < elems; i++ {
			scratch[i] = src.GetFloat32(i)
		}
		return scratch, nil
	default:
		return nil, fmt.Errorf("unsupported operand type %v", dtype)
	}
}
