// Package gemmbatch computes broadcast-aware batched matrix multiplication
// on a CUDA-style runtime executed on CPU.
//
// A batched multiply takes two 4-D tensor views whose trailing two
// dimensions enumerate independent matrix pairs. One operand's batch
// extents may be an integer fraction of the other's, in which case its
// batch slices are broadcast. The heavy lifting is split the way a GPU
// backend splits it: a data-parallel kernel builds one device pointer per
// logical batch for each operand and for the output, a device-wide fence
// makes those writes visible, and a single grouped-GEMM call consumes the
// pointer arrays and multiplies every batch at once.
//
// The runtime substrate mirrors the CUDA model: device memory is allocated
// through a pooled allocator and addressed through DevicePtr, kernels are
// launched over a Dim3 grid of blocks, and Synchronize is the completion
// fence. Per-batch arithmetic is delegated to gonum's BLAS; with cgo a
// system BLAS is registered through netlib.
package gemmbatch
