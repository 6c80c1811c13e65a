package gemmbatch

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Device describes a compute device. The CPU backend is the only device;
// its Capabilities record the quirks the batched-multiply pipeline must
// honor before calling into the grouped-GEMM primitive.
type Device struct {
	ID       int    // Unique device identifier
	Name     string // Human-readable device name
	TotalMem uint64 // Total available memory in bytes
	NumCores int    // Number of CPU cores
	Caps     Capabilities
}

// Capabilities names per-backend correctness requirements discovered
// empirically on at least one backend. They are honored, never assumed.
type Capabilities struct {
	// RequiresFullDeviceSyncBeforeBatchedCall demands a device-wide
	// completion fence between the pointer-array builder and the
	// grouped-GEMM call. Skipping it on backends that need it yields
	// garbled results with no visible data race.
	RequiresFullDeviceSyncBeforeBatchedCall bool

	// RequiresDeviceMemoryForPtrArrays demands that batch pointer arrays
	// live in memory from the device allocator, not in pinned host
	// memory. Backends that need it fault inside the grouped-GEMM call
	// otherwise.
	RequiresDeviceMemoryForPtrArrays bool
}

// Context owns device resources for one client: the memory pool and the
// execution streams. Create one with NewContext and Destroy it when done,
// or use the package-level entry points which share a default context.
type Context struct {
	device        *Device
	mu            sync.Mutex
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
	gemm          BatchedGemm
}

// Stream is an ordered sequence of operations executed asynchronously by
// a worker goroutine. Operations within a stream run in submission order;
// separate streams may run concurrently.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// Dim3 holds 3-D grid or block dimensions for a kernel launch.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements covered by the dimensions.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// ThreadID identifies one kernel execution within the launch hierarchy,
// with the same indexing semantics as CUDA's built-in variables.
type ThreadID struct {
	BlockIdx  Dim3
	ThreadIdx Dim3
	BlockDim  Dim3
	GridDim   Dim3
}

// GlobalX returns the global X index of the execution.
func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalY returns the global Y index of the execution.
func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

// KernelFunc is a function launched as a kernel. It is called once per
// thread in the grid and must be safe for concurrent execution.
type KernelFunc func(tid ThreadID)

var (
	defaultDevice  *Device
	defaultContext *Context
	initOnce       sync.Once
)

func init() {
	initOnce.Do(func() {
		defaultDevice = cpuDevice()
		defaultContext = newContextOn(defaultDevice)
	})
}

// cpuDevice describes the CPU backend. Both capability flags are set:
// the CPU implementation of the fence is cheap, and keeping the batched
// pipeline identical across backends is worth more than skipping it.
func cpuDevice() *Device {
	return &Device{
		ID:       0,
		Name:     "CPU",
		TotalMem: systemMemory(),
		NumCores: runtime.NumCPU(),
		Caps: Capabilities{
			RequiresFullDeviceSyncBeforeBatchedCall: true,
			RequiresDeviceMemoryForPtrArrays:        true,
		},
	}
}

// NewContext creates an independent context on the default device.
func NewContext() *Context {
	return newContextOn(defaultDevice)
}

func newContextOn(dev *Device) *Context {
	ctx := &Context{
		device:  dev,
		streams: make(map[int]*Stream),
		memory:  NewMemoryPool(),
		gemm:    gonumBatchedGemm{},
	}
	ctx.defaultStream = ctx.CreateStream()
	return ctx
}

// Memory returns the context's memory pool.
func (ctx *Context) Memory() *MemoryPool {
	return ctx.memory
}

// SetBatchedGemm swaps the grouped-GEMM primitive the context dispatches
// to. Intended for alternate backends and tests.
func (ctx *Context) SetBatchedGemm(g BatchedGemm) {
	ctx.gemm = g
}

// Device returns the device this context executes on.
func (ctx *Context) Device() *Device {
	return ctx.device
}

// Destroy shuts down the context's streams after draining them. The
// context must not be used afterwards.
func (ctx *Context) Destroy() {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.streams = make(map[int]*Stream)
	ctx.mu.Unlock()

	for _, s := range streams {
		s.wg.Wait()
		close(s.tasks)
		<-s.done
	}
}

// CreateStream creates a new execution stream owned by the context.
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func(), streamQueueDepth),
		done:  make(chan struct{}),
	}
	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// Launch executes a kernel function over the given grid on the default
// stream. The call returns once the work is queued; use Synchronize to
// wait for completion.
func (ctx *Context) Launch(fn KernelFunc, grid, block Dim3) error {
	return ctx.LaunchStream(fn, grid, block, ctx.defaultStream)
}

// Synchronize blocks until every operation queued on every stream of the
// context has completed. This is the device-wide completion fence: all
// kernel writes are visible to the caller once it returns.
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	for _, s := range streams {
		s.Synchronize()
	}
	return nil
}

// GetDevice returns the default device description.
func GetDevice() *Device {
	return defaultDevice
}

// Launch executes a kernel function on the default context.
func Launch(fn KernelFunc, grid, block Dim3) error {
	return defaultContext.Launch(fn, grid, block)
}

// Synchronize waits for all work on the default context to complete.
func Synchronize() error {
	return defaultContext.Synchronize()
}

// Malloc allocates device memory from the default context.
func Malloc(size int) (DevicePtr, error) {
	return defaultContext.Malloc(size)
}

// MallocHost allocates pinned host memory from the default context.
func MallocHost(size int) (DevicePtr, error) {
	return defaultContext.MallocHost(size)
}

// Free releases memory allocated from the default context.
func Free(ptr DevicePtr) error {
	return defaultContext.Free(ptr)
}

// Memcpy copies between host slices and device memory on the default
// context.
func Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	return defaultContext.Memcpy(dst, src, size, kind)
}

// Stream methods

func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Submit queues a task on the stream.
func (s *Stream) Submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}

// Synchronize waits for every task queued on the stream to complete.
func (s *Stream) Synchronize() {
	s.wg.Wait()
}

// devicePtrBase exposes the raw base address for address arithmetic in
// kernels. Kept unexported; kernels receive addresses, not pointers.
func devicePtrBase(d DevicePtr) uintptr {
	return uintptr(d.ptr)
}
