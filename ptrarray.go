package gemmbatch

import "unsafe"

// Batch pointer arrays: one device address per logical batch for each
// operand and for the output, built in parallel and consumed by a single
// grouped-GEMM call.

// ptrArena owns the request-scoped pointer-array storage. It is acquired
// on entry to a batched multiply and released on every exit path; the
// arrays never outlive one request and are never shared between requests.
//
// The storage comes from the device allocator, never from MallocHost.
// On backends with RequiresDeviceMemoryForPtrArrays the grouped-GEMM
// primitive faults when the arrays live in pinned host memory.
type ptrArena struct {
	pool *MemoryPool
	src  DevicePtr // 2*ne23 entries: operand A then operand B
	dst  DevicePtr // ne23 entries
	ne23 int
}

const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// acquirePtrArena allocates the pointer arrays for ne23 batches.
func acquirePtrArena(pool *MemoryPool, ne23 int) (*ptrArena, error) {
	src, err := pool.Allocate(2*ne23*ptrSize, AllocDevice)
	if err != nil {
		return nil, NewAllocationError("MulMatBatched", "operand pointer arrays", err)
	}
	dst, err := pool.Allocate(ne23*ptrSize, AllocDevice)
	if err != nil {
		// Unwind the half-built arena.
		pool.Free(src)
		return nil, NewAllocationError("MulMatBatched", "output pointer array", err)
	}
	return &ptrArena{pool: pool, src: src, dst: dst, ne23: ne23}, nil
}

// release frees the arrays. Safe to call once on any exit path.
func (a *ptrArena) release() {
	a.pool.Free(a.src)
	a.pool.Free(a.dst)
}

// ptrsA returns the operand-A region of the combined operand array.
func (a *ptrArena) ptrsA() []uintptr {
	return a.src.Uintptr()[:a.ne23]
}

// ptrsB returns the operand-B region of the combined operand array.
func (a *ptrArena) ptrsB() []uintptr {
	return a.src.Uintptr()[a.ne23 : 2*a.ne23]
}

// ptrsDst returns the output pointer array.
func (a *ptrArena) ptrsDst() []uintptr {
	return a.dst.Uintptr()[:a.ne23]
}

// batchPtrParams carries everything the builder kernel needs: base
// addresses of the half-precision operand buffers and the output buffer,
// batch byte strides, batch extents and broadcast ratios.
type batchPtrParams struct {
	baseA, baseB, baseDst uintptr
	nb02, nb03            int // operand A batch strides (bytes)
	sB2, sB3              int // operand B batch strides (bytes), possibly synthesized
	nbd2, nbd3            int // output batch strides (bytes)
	ne12, ne13            int
	r2, r3                int
}

// buildBatchPointersKernel returns the kernel that populates the arena.
// One thread per (i12, i13) pair; each thread writes exactly one slot in
// each array, slots are disjoint across threads, and threads outside the
// batch extents return without writing. Completion must be fenced before
// the arrays are read.
func buildBatchPointersKernel(arena *ptrArena, p batchPtrParams) KernelFunc {
	ptrsA := arena.ptrsA()
	ptrsB := arena.ptrsB()
	ptrsDst := arena.ptrsDst()

	return func(tid ThreadID) {
		i12 := tid.GlobalX()
		i13 := tid.GlobalY()
		if i12 >= p.ne12 || i13 >= p.ne13 {
			return
		}

		i02, i03 := srcBatchIndex(i12, i13, p.r2, p.r3)
		idx := flattenBatchIndex(i12, i13, p.ne12)

		ptrsA[idx] = p.baseA + uintptr(i02*p.nb02+i03*p.nb03)
		ptrsB[idx] = p.baseB + uintptr(i12*p.sB2+i13*p.sB3)
		ptrsDst[idx] = p.baseDst + uintptr(i12*p.nbd2+i13*p.nbd3)
	}
}
