package gemmbatch

import (
	"errors"
	"testing"
)

// stubGemm records the grouped-GEMM call instead of computing, and can
// fail on demand.
type stubGemm struct {
	calls   int
	batches int
	err     error
}

func (s *stubGemm) MultiplyBatched(transA, transB bool, m, n, k int, alpha float32,
	ptrsA []uintptr, typeA DType, lda int,
	ptrsB []uintptr, typeB DType, ldb int,
	beta float32,
	ptrsC []uintptr, ldc int,
	batchCount int) error {
	s.calls++
	s.batches = batchCount
	return s.err
}

func TestMulMatBatchedIdentity(t *testing.T) {
	// With src0 a stack of k-by-k identities and matching batch extents,
	// each output batch reproduces its src1 batch verbatim.
	const k, n = 4, 3
	const ne2, ne3 = 2, 1

	src0 := newF16Tensor(t, k, k, ne2, ne3, identityValues(k, ne2, ne3))
	vals := halfFriendlyValues(k*n*ne2*ne3, 1)
	src1 := newF32Tensor(t, k, n, ne2, ne3, vals)
	dst := newF32Tensor(t, k, n, ne2, ne3, nil)

	if err := MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("MulMatBatched failed: %v", err)
	}
	if err := HalfTolerance().CompareSlices(dst.Data.Float32()[:dst.NumElements()], vals); err != nil {
		t.Fatal(err)
	}
}

func TestMulMatBatchedMatchesReference(t *testing.T) {
	const m, n, k = 5, 4, 3
	const ne12, ne13 = 4, 2
	const ne02, ne03 = 2, 2 // r2 = 2, r3 = 1

	src0 := newF16Tensor(t, k, m, ne02, ne03, halfFriendlyValues(k*m*ne02*ne03, 2))
	src1 := newF32Tensor(t, k, n, ne12, ne13, halfFriendlyValues(k*n*ne12*ne13, 3))
	dst := newF32Tensor(t, m, n, ne12, ne13, nil)

	want := referenceResult(t, src0, src1, dst, 1, 0)

	if err := MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("MulMatBatched failed: %v", err)
	}
	if err := HalfTolerance().CompareSlices(dst.Data.Float32()[:dst.NumElements()], want); err != nil {
		t.Fatal(err)
	}
}

func TestMulMatBatchedBroadcastSharesOperand(t *testing.T) {
	// One src0 batch against two src1 batches. Making the src1 batches
	// equal must make the dst batches equal, since both multiply the
	// same src0 slice.
	const m, n, k = 2, 3, 4

	src0 := newF16Tensor(t, k, m, 1, 1, halfFriendlyValues(k*m, 4))

	bVals := make([]float32, k*n*2)
	batch := halfFriendlyValues(k*n, 5)
	copy(bVals[:k*n], batch)
	copy(bVals[k*n:], batch)
	src1 := newF32Tensor(t, k, n, 2, 1, bVals)
	dst := newF32Tensor(t, m, n, 2, 1, nil)

	want := referenceResult(t, src0, src1, dst, 1, 0)

	if err := MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("MulMatBatched failed: %v", err)
	}

	out := dst.Data.Float32()[:dst.NumElements()]
	if err := HalfTolerance().CompareSlices(out, want); err != nil {
		t.Fatal(err)
	}
	if err := DefaultTolerance().CompareSlices(out[:m*n], out[m*n:]); err != nil {
		t.Fatalf("broadcast batches diverged: %v", err)
	}
}

func TestMulMatBatchedSingleBatch(t *testing.T) {
	const m, n, k = 3, 2, 5

	src0 := newF16Tensor(t, k, m, 1, 1, halfFriendlyValues(k*m, 6))
	src1 := newF32Tensor(t, k, n, 1, 1, halfFriendlyValues(k*n, 7))
	dst := newF32Tensor(t, m, n, 1, 1, nil)

	want := referenceResult(t, src0, src1, dst, 1, 0)

	if err := MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("MulMatBatched failed: %v", err)
	}
	if err := HalfTolerance().CompareSlices(dst.Data.Float32()[:m*n], want); err != nil {
		t.Fatal(err)
	}
}

func TestMulMatBatchedHalfSrc1(t *testing.T) {
	const m, n, k = 4, 4, 4
	const ne12, ne13 = 2, 2

	src0 := newF16Tensor(t, k, m, ne12, ne13, halfFriendlyValues(k*m*ne12*ne13, 8))
	src1 := newF16Tensor(t, k, n, ne12, ne13, halfFriendlyValues(k*n*ne12*ne13, 9))
	dst := newF32Tensor(t, m, n, ne12, ne13, nil)

	want := referenceResult(t, src0, src1, dst, 1, 0)

	if err := MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("MulMatBatched failed: %v", err)
	}
	if err := HalfTolerance().CompareSlices(dst.Data.Float32()[:dst.NumElements()], want); err != nil {
		t.Fatal(err)
	}
}

func TestMulMatBatchedAlphaBeta(t *testing.T) {
	const m, n, k = 2, 2, 3

	src0 := newF16Tensor(t, k, m, 1, 1, halfFriendlyValues(k*m, 10))
	src1 := newF32Tensor(t, k, n, 1, 1, halfFriendlyValues(k*n, 11))
	dst := newF32Tensor(t, m, n, 1, 1, halfFriendlyValues(m*n, 12))

	want := referenceResult(t, src0, src1, dst, 2, 0.5)

	if err := MulMatBatched(src0, src1, dst, 2, 0.5); err != nil {
		t.Fatalf("MulMatBatched failed: %v", err)
	}
	if err := HalfTolerance().CompareSlices(dst.Data.Float32()[:m*n], want); err != nil {
		t.Fatal(err)
	}
}

func TestMulMatBatchedDeterministic(t *testing.T) {
	const m, n, k = 3, 3, 3
	const ne12, ne13 = 3, 2

	src0 := newF16Tensor(t, k, m, ne12, ne13, halfFriendlyValues(k*m*ne12*ne13, 13))
	src1 := newF32Tensor(t, k, n, ne12, ne13, halfFriendlyValues(k*n*ne12*ne13, 14))
	dst := newF32Tensor(t, m, n, ne12, ne13, nil)

	if err := MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := make([]float32, dst.NumElements())
	copy(first, dst.Data.Float32()[:dst.NumElements()])

	if err := MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	for i, v := range dst.Data.Float32()[:dst.NumElements()] {
		if v != first[i] {
			t.Fatalf("element %d changed across runs: %v then %v", i, first[i], v)
		}
	}
}

func TestMulMatBatchedCallsPrimitiveOnce(t *testing.T) {
	const m, n, k = 2, 2, 2
	const ne12, ne13 = 4, 3

	ctx := NewContext()
	defer ctx.Destroy()
	stub := &stubGemm{}
	ctx.SetBatchedGemm(stub)

	src0 := newF16Tensor(t, k, m, ne12, ne13, nil)
	src1 := newF16Tensor(t, k, n, ne12, ne13, nil)
	dst := newF32Tensor(t, m, n, ne12, ne13, nil)

	if err := ctx.MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		t.Fatalf("MulMatBatched failed: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("primitive called %d times, want 1", stub.calls)
	}
	if stub.batches != ne12*ne13 {
		t.Fatalf("primitive saw %d batches, want %d", stub.batches, ne12*ne13)
	}
}

func TestMulMatBatchedAllocationFailure(t *testing.T) {
	const m, n, k = 2, 2, 2

	ctx := NewContext()
	defer ctx.Destroy()
	stub := &stubGemm{}
	ctx.SetBatchedGemm(stub)
	ctx.Memory().SetLimit(1)

	src0 := newF16Tensor(t, k, m, 2, 1, nil)
	src1 := newF16Tensor(t, k, n, 2, 1, nil)
	dst := newF32Tensor(t, m, n, 2, 1, nil)

	err := ctx.MulMatBatched(src0, src1, dst, 1, 0)
	if !IsAllocationError(err) {
		t.Fatalf("want allocation error, got %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("primitive invoked %d times after failed allocation", stub.calls)
	}
	if allocated, _ := ctx.Memory().Stats(); allocated != 0 {
		t.Fatalf("%d bytes leaked by failed request", allocated)
	}
}

func TestMulMatBatchedPrimitiveFailure(t *testing.T) {
	const m, n, k = 2, 2, 2

	ctx := NewContext()
	defer ctx.Destroy()
	cause := errors.New("device fault")
	ctx.SetBatchedGemm(&stubGemm{err: cause})

	src0 := newF16Tensor(t, k, m, 2, 2, nil)
	src1 := newF16Tensor(t, k, n, 2, 2, nil)
	dst := newF32Tensor(t, m, n, 2, 2, nil)

	before, _ := ctx.Memory().Stats()

	err := ctx.MulMatBatched(src0, src1, dst, 1, 0)
	if !IsPrimitiveError(err) {
		t.Fatalf("want primitive error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not preserved: %v", err)
	}

	after, _ := ctx.Memory().Stats()
	if after != before {
		t.Fatalf("request-scoped memory not released: %d bytes before, %d after", before, after)
	}
}

func TestMulMatBatchedRejectsBadShapes(t *testing.T) {
	src0 := newF16Tensor(t, 4, 2, 2, 1, nil)
	good1 := newF32Tensor(t, 4, 3, 2, 1, nil)
	goodDst := newF32Tensor(t, 2, 3, 2, 1, nil)

	cases := []struct {
		name            string
		src0, src1, dst TensorView
	}{
		{"f32 src0", newF32Tensor(t, 4, 2, 2, 1, nil), good1, goodDst},
		{"f16 dst", src0, good1, newF16Tensor(t, 2, 3, 2, 1, nil)},
		{"reduction mismatch", src0, newF32Tensor(t, 5, 3, 2, 1, nil), goodDst},
		{"dst shape mismatch", src0, good1, newF32Tensor(t, 3, 3, 2, 1, nil)},
		{"dst batch mismatch", src0, good1, newF32Tensor(t, 2, 3, 4, 1, nil)},
		{"indivisible batches", newF16Tensor(t, 4, 2, 3, 1, nil), newF32Tensor(t, 4, 3, 4, 1, nil), newF32Tensor(t, 2, 3, 4, 1, nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := MulMatBatched(tc.src0, tc.src1, tc.dst, 1, 0)
			if !IsInvalidArgError(err) {
				t.Fatalf("want invalid-argument error, got %v", err)
			}
		})
	}
}

func TestMulMatBatchedRejectsNilData(t *testing.T) {
	src0 := TensorView{Type: F16, Ne: [4]int{4, 2, 1, 1}, Nb: [4]int{2, 8, 16, 16}}
	src1 := newF32Tensor(t, 4, 3, 1, 1, nil)
	dst := newF32Tensor(t, 2, 3, 1, 1, nil)

	if err := MulMatBatched(src0, src1, dst, 1, 0); !IsInvalidArgError(err) {
		t.Fatalf("want invalid-argument error, got %v", err)
	}
}
