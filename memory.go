package gemmbatch

import (
	"fmt"
	"sync"
	"unsafe"
)

// MemcpyKind specifies the direction of a memory transfer. The unified
// CPU memory model treats them identically; the tags are kept for API
// compatibility with device backends.
type MemcpyKind int

const (
	MemcpyHostToHost MemcpyKind = iota
	MemcpyHostToDevice
	MemcpyDeviceToHost
	MemcpyDeviceToDevice
)

// AllocKind distinguishes true device allocations from pinned host
// allocations. The grouped-GEMM pipeline requires its pointer arrays in
// AllocDevice memory on backends whose capabilities say so; AllocPinned
// exists for staging buffers.
type AllocKind int

const (
	AllocDevice AllocKind = iota
	AllocPinned
)

// DevicePtr is a pointer into pool-managed memory. Typed view methods
// reinterpret the underlying bytes; Offset performs byte-granular pointer
// arithmetic within the allocation.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	kind   AllocKind
	offset int
}

// MemoryPool manages allocations with free-list reuse. A capacity limit
// turns exhaustion into ErrOutOfMemory instead of unbounded growth; zero
// means unlimited.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	limitBytes int64
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	ptr  unsafe.Pointer
	buf  []byte // keeps the backing array reachable
	size int
	kind AllocKind
	used bool
}

// NewMemoryPool creates an unlimited memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{allocated: make(map[uintptr]*allocation)}
}

// SetLimit caps the pool at limitBytes of live allocations. Requests
// beyond the cap fail with ErrOutOfMemory. A zero limit removes the cap.
func (mp *MemoryPool) SetLimit(limitBytes int64) {
	mp.mu.Lock()
	mp.limitBytes = limitBytes
	mp.mu.Unlock()
}

// Malloc allocates device memory of the given size in bytes, aligned for
// SIMD access.
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	return ctx.memory.Allocate(size, AllocDevice)
}

// MallocHost allocates pinned host memory. On the CPU backend this is
// ordinary memory tagged AllocPinned; the tag is what lets callers and
// tests enforce the device-memory-only invariants of the batched path.
func (ctx *Context) MallocHost(size int) (DevicePtr, error) {
	return ctx.memory.Allocate(size, AllocPinned)
}

// Free releases memory allocated from this context's pool.
func (ctx *Context) Free(ptr DevicePtr) error {
	return ctx.memory.Free(ptr)
}

// Allocate takes a block from the free list when one fits, otherwise
// reserves new memory. The allocation kind is tracked for the lifetime of
// the block.
func (mp *MemoryPool) Allocate(size int, kind AllocKind) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	if mp.limitBytes > 0 && mp.totalAlloc+int64(alignedSize) > mp.limitBytes {
		return DevicePtr{}, ErrOutOfMemory
	}

	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize && alloc.kind == kind {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true
			mp.account(int64(alloc.size))
			poolHits.Inc()
			return DevicePtr{ptr: alloc.ptr, size: size, kind: kind}, nil
		}
	}

	buf := make([]byte, alignedSize)
	alloc := &allocation{
		ptr:  unsafe.Pointer(&buf[0]),
		buf:  buf,
		size: alignedSize,
		kind: kind,
		used: true,
	}
	mp.allocated[uintptr(alloc.ptr)] = alloc
	mp.account(int64(alignedSize))
	poolMisses.Inc()

	return DevicePtr{ptr: alloc.ptr, size: size, kind: kind}, nil
}

// account adjusts the live-byte counters; callers hold mp.mu.
func (mp *MemoryPool) account(delta int64) {
	mp.totalAlloc += delta
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}
	poolInUseBytes.Set(float64(mp.totalAlloc))
}

// Free returns a block to the pool's free list.
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	if ptr.ptr == nil {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok {
		return ErrUnknownPointer
	}
	if !alloc.used {
		return ErrDoubleFree
	}

	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.account(-int64(alloc.size))
	return nil
}

// Stats returns the live and peak allocation byte counts.
func (mp *MemoryPool) Stats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// Memcpy copies size bytes between host slices and device memory. The
// kind tag is accepted for device-backend compatibility; on CPU every
// combination is a plain copy.
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	dstPtr, err := transferPointer("dst", dst)
	if err != nil {
		return err
	}
	srcPtr, err := transferPointer("src", src)
	if err != nil {
		return err
	}
	if dstPtr != nil && srcPtr != nil && size > 0 {
		copy(unsafe.Slice((*byte)(dstPtr), size), unsafe.Slice((*byte)(srcPtr), size))
	}
	return nil
}

func transferPointer(role string, v interface{}) (unsafe.Pointer, error) {
	switch s := v.(type) {
	case DevicePtr:
		return s.ptr, nil
	case []byte:
		if len(s) == 0 {
			return nil, nil
		}
		return unsafe.Pointer(&s[0]), nil
	case []float32:
		if len(s) == 0 {
			return nil, nil
		}
		return unsafe.Pointer(&s[0]), nil
	case []uint16:
		if len(s) == 0 {
			return nil, nil
		}
		return unsafe.Pointer(&s[0]), nil
	case []uintptr:
		if len(s) == 0 {
			return nil, nil
		}
		return unsafe.Pointer(&s[0]), nil
	default:
		return nil, NewInvalidArgError("Memcpy", fmt.Sprintf("unsupported %s type: %T", role, v))
	}
}

// DevicePtr views

// Float32 returns a float32 slice view of the memory.
func (d DevicePtr) Float32() []float32 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(d.ptr), d.size/4)
}

// Uintptr returns a uintptr slice view of the memory. The batch pointer
// arrays are populated and consumed through this view.
func (d DevicePtr) Uintptr() []uintptr {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*uintptr)(d.ptr), d.size/int(unsafe.Sizeof(uintptr(0))))
}

// Byte returns a byte slice view of the whole region.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(d.ptr), d.size)
}

// Offset returns a DevicePtr advanced by the given number of bytes,
// sharing the same underlying allocation.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Pointer(uintptr(d.ptr) + uintptr(bytes)),
		size:   d.size - bytes,
		kind:   d.kind,
		offset: d.offset + bytes,
	}
}

// Size returns the size in bytes of the region.
func (d DevicePtr) Size() int {
	return d.size
}

// Kind returns whether the region is device or pinned host memory.
func (d DevicePtr) Kind() AllocKind {
	return d.kind
}

// IsNil reports whether the pointer is the zero value.
func (d DevicePtr) IsNil() bool {
	return d.ptr == nil
}
