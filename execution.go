package gemmbatch

import (
	"fmt"
	"runtime"
	"sync"
)

// LaunchStream executes a kernel function over the given grid on a
// specific stream. The grid is validated up front; a malformed launch
// configuration is surfaced as a launch error before any work is queued.
func (ctx *Context) LaunchStream(fn KernelFunc, grid, block Dim3, stream *Stream) error {
	if grid.X < 0 || grid.Y < 0 || grid.Z < 0 || block.X <= 0 || block.Y <= 0 || block.Z <= 0 {
		return NewLaunchError("Launch",
			fmt.Sprintf("invalid launch configuration: grid=%+v block=%+v", grid, block), nil)
	}
	if block.Size() > MaxThreadsPerBlock {
		return NewLaunchError("Launch",
			fmt.Sprintf("block size %d exceeds maximum %d", block.Size(), MaxThreadsPerBlock), nil)
	}

	gridSize := grid.Size()
	if gridSize == 0 {
		// Queue an empty task so stream ordering is preserved.
		stream.Submit(func() {})
		return nil
	}

	numWorkers := runtime.NumCPU()
	if gridSize < numWorkers {
		numWorkers = gridSize
	}
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers
	blockSize := block.Size()

	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(numWorkers)

		for workerID := 0; workerID < numWorkers; workerID++ {
			startBlock := workerID * blocksPerWorker
			endBlock := min(startBlock+blocksPerWorker, gridSize)

			go func(start, end int) {
				defer wg.Done()

				for blockID := start; blockID < end; blockID++ {
					blockIdx := linearTo3D(blockID, grid)

					// Threads within a block run sequentially on one
					// worker. Kernels launched here write disjoint slots
					// per thread, so there is no intra-block
					// synchronization to emulate.
					for threadID := 0; threadID < blockSize; threadID++ {
						fn(ThreadID{
							BlockIdx:  blockIdx,
							ThreadIdx: linearTo3D(threadID, block),
							BlockDim:  block,
							GridDim:   grid,
						})
					}
				}
			}(startBlock, endBlock)
		}

		wg.Wait()
	})

	return nil
}

// linearTo3D converts a linear index to 3-D coordinates within dim.
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// grid2D builds the standard launch shape for a kernel over an nx-by-ny
// index space: one thread per index pair, excess threads expected to
// bounds-check and return.
func grid2D(nx, ny int) (grid, block Dim3) {
	block = Dim3{X: batchBlockDim, Y: batchBlockDim, Z: 1}
	grid = Dim3{
		X: (nx + block.X - 1) / block.X,
		Y: (ny + block.Y - 1) / block.Y,
		Z: 1,
	}
	return grid, block
}
