package gemmbatch

import (
	"testing"
)

func TestGonumBatchedGemmSingleBatch(t *testing.T) {
	// Column-major contract with transA: stored A is k-by-m column-major,
	// which is the same bytes as an m-by-k row-major matrix. With
	// lda = ldb = k and ldc = m the expected output is, per output
	// column nu: C[, nu][mu] = dot(A row mu, B row nu).
	const m, n, k = 2, 2, 2

	a := mustMalloc(t, m*k*4)
	b := mustMalloc(t, n*k*4)
	c := mustMalloc(t, m*n*4)
	copy(a.Float32(), []float32{1, 2, 3, 4}) // rows (1,2), (3,4)
	copy(b.Float32(), []float32{5, 6, 7, 8}) // rows (5,6), (7,8)

	err := gonumBatchedGemm{}.MultiplyBatched(true, false, m, n, k, 1,
		[]uintptr{pointerBase(a)}, F32, k,
		[]uintptr{pointerBase(b)}, F32, k,
		0,
		[]uintptr{pointerBase(c)}, m,
		1)
	if err != nil {
		t.Fatalf("MultiplyBatched failed: %v", err)
	}

	want := []float32{17, 39, 23, 53}
	if err := DefaultTolerance().CompareSlices(c.Float32(), want); err != nil {
		t.Fatal(err)
	}
}

func TestGonumBatchedGemmHalfOperands(t *testing.T) {
	const m, n, k = 2, 3, 4

	aVals := halfFriendlyValues(m*k, 11)
	bVals := halfFriendlyValues(n*k, 13)

	a := mustMalloc(t, m*k*2)
	b := mustMalloc(t, n*k*2)
	c := mustMalloc(t, m*n*4)
	for i, v := range aVals {
		a.Float16().SetFloat32(i, v)
	}
	for i, v := range bVals {
		b.Float16().SetFloat32(i, v)
	}

	err := gonumBatchedGemm{}.MultiplyBatched(true, false, m, n, k, 1,
		[]uintptr{pointerBase(a)}, F16, k,
		[]uintptr{pointerBase(b)}, F16, k,
		0,
		[]uintptr{pointerBase(c)}, m,
		1)
	if err != nil {
		t.Fatalf("MultiplyBatched failed: %v", err)
	}

	want := make([]float32, m*n)
	for nu := 0; nu < n; nu++ {
		for mu := 0; mu < m; mu++ {
			var sum float32
			for kk := 0; kk < k; kk++ {
				sum += aVals[mu*k+kk] * bVals[nu*k+kk]
			}
			want[nu*m+mu] = sum
		}
	}
	if err := HalfTolerance().CompareSlices(c.Float32(), want); err != nil {
		t.Fatal(err)
	}
}

func TestGonumBatchedGemmAlphaBeta(t *testing.T) {
	const m, n, k = 2, 2, 2

	a := mustMalloc(t, m*k*4)
	b := mustMalloc(t, n*k*4)
	c := mustMalloc(t, m*n*4)
	copy(a.Float32(), []float32{1, 0, 0, 1}) // identity rows
	copy(b.Float32(), []float32{2, 4, 6, 8})
	copy(c.Float32(), []float32{100, 100, 100, 100})

	err := gonumBatchedGemm{}.MultiplyBatched(true, false, m, n, k, 0.5,
		[]uintptr{pointerBase(a)}, F32, k,
		[]uintptr{pointerBase(b)}, F32, k,
		2,
		[]uintptr{pointerBase(c)}, m,
		1)
	if err != nil {
		t.Fatalf("MultiplyBatched failed: %v", err)
	}

	// c = 0.5*op(A)*op(B) + 2*c with op(A) identity: 0.5*b + 200.
	want := []float32{201, 202, 203, 204}
	if err := DefaultTolerance().CompareSlices(c.Float32(), want); err != nil {
		t.Fatal(err)
	}
}

func TestGonumBatchedGemmIndependentBatches(t *testing.T) {
	const m, n, k = 2, 2, 2
	const batches = 3

	a := mustMalloc(t, batches*m*k*4)
	b := mustMalloc(t, batches*n*k*4)
	c := mustMalloc(t, batches*m*n*4)

	ptrsA := make([]uintptr, batches)
	ptrsB := make([]uintptr, batches)
	ptrsC := make([]uintptr, batches)
	for i := 0; i < batches; i++ {
		ptrsA[i] = pointerBase(a.Offset(i * m * k * 4))
		ptrsB[i] = pointerBase(b.Offset(i * n * k * 4))
		ptrsC[i] = pointerBase(c.Offset(i * m * n * 4))

		// Batch i multiplies scaled identities: (i+1)*I times (i+1)*I.
		copy(a.Offset(i*m*k*4).Float32()[:m*k], []float32{float32(i + 1), 0, 0, float32(i + 1)})
		copy(b.Offset(i*n*k*4).Float32()[:n*k], []float32{float32(i + 1), 0, 0, float32(i + 1)})
	}

	err := gonumBatchedGemm{}.MultiplyBatched(true, false, m, n, k, 1,
		ptrsA, F32, k,
		ptrsB, F32, k,
		0,
		ptrsC, m,
		batches)
	if err != nil {
		t.Fatalf("MultiplyBatched failed: %v", err)
	}

	for i := 0; i < batches; i++ {
		s := float32((i + 1) * (i + 1))
		want := []float32{s, 0, 0, s}
		got := c.Offset(i * m * n * 4).Float32()[:m*n]
		if err := DefaultTolerance().CompareSlices(got, want); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}
}

func TestGonumBatchedGemmRejectsBadArgs(t *testing.T) {
	buf := mustMalloc(t, 64)
	ptrs := []uintptr{pointerBase(buf)}

	g := gonumBatchedGemm{}

	if err := g.MultiplyBatched(true, false, 2, 2, 2, 1, ptrs, F32, 2, ptrs, F32, 2, 0, ptrs, 2, 0); err == nil {
		t.Error("zero batch count accepted")
	}
	if err := g.MultiplyBatched(true, false, 2, 2, 2, 1, ptrs, F32, 2, ptrs, F32, 2, 0, ptrs, 2, 5); err == nil {
		t.Error("short pointer arrays accepted")
	}
	if err := g.MultiplyBatched(true, false, 0, 2, 2, 1, ptrs, F32, 2, ptrs, F32, 2, 0, ptrs, 2, 1); err == nil {
		t.Error("zero m accepted")
	}
	if err := g.MultiplyBatched(true, false, 2, 2, 2, 1, []uintptr{0}, F32, 2, ptrs, F32, 2, 0, ptrs, 2, 1); err == nil {
		t.Error("nil batch pointer accepted")
	}
}
