// Package gemmbatch configuration constants.
package gemmbatch

const (
	// MemoryAlignment for pool allocations, matching cache line size.
	MemoryAlignment = 64

	// MaxThreadsPerBlock caps block dimensions at launch.
	MaxThreadsPerBlock = 1024

	// batchBlockDim is the per-axis block edge for 2-D batch-index
	// kernels (16x16 = 256 threads per block).
	batchBlockDim = 16

	// streamQueueDepth is the task buffer per stream.
	streamQueueDepth = 1000

	// defaultSystemMemory is reported when the platform offers no way to
	// query it.
	defaultSystemMemory = 16 * 1024 * 1024 * 1024
)

// Numeric tolerances.
const (
	// Float32Epsilon is machine epsilon for float32.
	Float32Epsilon = 1.192092896e-07

	// Float16 accumulations are compared with this relative tolerance.
	Float16RelTol = 1e-2
)
