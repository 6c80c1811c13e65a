package gemmbatch

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// MulMatBatched multiplies every batch of src0 against the matching batch
// of src1 in one grouped-GEMM call, writing dst = alpha*mul(src0, src1) +
// beta*dst per batch.
//
// Shapes follow the ggml convention: src0 is (ne00=k, ne01=m) per batch,
// src1 is (ne10=k, ne11=n) per batch, dst is (ne0=m, ne1=n) per batch
// with dst[i0, i1] the dot product of src0 row i0 and src1 row i1. Batch
// dimensions 2 and 3 of dst match src1; src0's batch extents must divide
// src1's and are broadcast by the resulting integer ratios.
//
// src0 must already be half precision (F16); src1 may be F16 or F32, the
// latter converted into a request-scoped half-precision buffer first.
// dst must be F32 and densely packed.
//
// The request is all-or-nothing: any allocation, launch, or primitive
// failure aborts it with no partial batches, and all request-scoped
// device memory is released on every exit path.
func MulMatBatched(src0, src1, dst TensorView, alpha, beta float32) error {
	return defaultContext.MulMatBatched(src0, src1, dst, alpha, beta)
}

// MulMatBatched runs one batched multiply on this context. See the
// package-level MulMatBatched for the shape contract.
func (ctx *Context) MulMatBatched(src0, src1, dst TensorView, alpha, beta float32) error {
	const op = "MulMatBatched"

	if err := validateBatched(op, src0, src1, dst); err != nil {
		return err
	}

	r2, r3, err := batchRatios(src0.Ne[2], src0.Ne[3], src1.Ne[2], src1.Ne[3])
	if err != nil {
		return err
	}

	ne12, ne13 := src1.Ne[2], src1.Ne[3]
	ne23 := ne12 * ne13

	// Operand B in half precision: native strides when already F16,
	// otherwise converted into a densely packed request-scoped buffer
	// whose batch strides are synthesized from the logical row stride
	// times the element size.
	srcB := src1.Data
	sB1 := src1.RowStride()
	sB2, sB3 := src1.Nb[2], src1.Nb[3]
	var srcBTemp DevicePtr
	if src1.Type == F32 {
		// The conversion walks the buffer densely, so a padded source
		// layout cannot be converted in place.
		if src1.Nb[1] != src1.Ne[0]*src1.Nb[0] ||
			src1.Nb[2] != src1.Ne[1]*src1.Nb[1] ||
			src1.Nb[3] != src1.Ne[2]*src1.Nb[2] {
			return NewInvalidArgError(op, "f32 src1 must be densely packed for half-precision conversion")
		}
		n := src1.NumElements()
		srcBTemp, err = ctx.memory.Allocate(n*F16.Size(), AllocDevice)
		if err != nil {
			batchedFailures.WithLabelValues("alloc").Inc()
			return NewAllocationError(op, "half-precision operand buffer", err)
		}
		defer ctx.memory.Free(srcBTemp)

		ConvertF32ToF16(src1.Data, srcBTemp, n)
		srcB = srcBTemp
		sB1 = src1.Ne[0]
		sB2 = src1.Ne[0] * src1.Ne[1] * F16.Size()
		sB3 = sB2 * ne12
	}

	// The pointer arrays are request-scoped and come from the device
	// allocator; RequiresDeviceMemoryForPtrArrays backends fault on
	// pinned host memory here.
	arena, err := acquirePtrArena(ctx.memory, ne23)
	if err != nil {
		batchedFailures.WithLabelValues("alloc").Inc()
		return err
	}
	defer arena.release()

	kernel := buildBatchPointersKernel(arena, batchPtrParams{
		baseA:   devicePtrBase(src0.Data),
		baseB:   devicePtrBase(srcB),
		baseDst: devicePtrBase(dst.Data),
		nb02:    src0.Nb[2],
		nb03:    src0.Nb[3],
		sB2:     sB2,
		sB3:     sB3,
		nbd2:    dst.Nb[2],
		nbd3:    dst.Nb[3],
		ne12:    ne12,
		ne13:    ne13,
		r2:      r2,
		r3:      r3,
	})

	grid, block := grid2D(ne12, ne13)
	if err := ctx.Launch(kernel, grid, block); err != nil {
		batchedFailures.WithLabelValues("launch").Inc()
		log.Error().Err(err).Msg("batch pointer kernel launch failed")
		return NewLaunchError(op, "batch pointer kernel", err)
	}

	// Completion fence. A device-wide synchronize is required before the
	// grouped-GEMM call on backends that flag it; results are garbled
	// without it. Otherwise a stream-level barrier on the builder is
	// still mandatory before the arrays are read.
	if ctx.device.Caps.RequiresFullDeviceSyncBeforeBatchedCall {
		if err := ctx.Synchronize(); err != nil {
			batchedFailures.WithLabelValues("launch").Inc()
			return NewLaunchError(op, "completion fence", err)
		}
	} else {
		ctx.defaultStream.Synchronize()
	}

	// Operand A is consumed transposed: each stored batch slice is
	// (k x m) column-major, so op(A) is the (m x k) matrix of src0 rows.
	err = ctx.gemm.MultiplyBatched(true, false,
		src0.Ne[1], src1.Ne[1], src1.Ne[0], alpha,
		arena.ptrsA(), F16, src0.RowStride(),
		arena.ptrsB(), F16, sB1,
		beta,
		arena.ptrsDst(), dst.Ne[0],
		ne23)
	if err != nil {
		batchedFailures.WithLabelValues("primitive").Inc()
		log.Error().Err(err).Int("batches", ne23).Msg("grouped GEMM failed")
		return NewPrimitiveError(op, fmt.Sprintf("grouped GEMM over %d batches", ne23), err)
	}

	batchedMultiplies.Inc()
	return nil
}

// validateBatched rejects shape and type combinations the pipeline does
// not support.
func validateBatched(op string, src0, src1, dst TensorView) error {
	if err := src0.validate(op, "src0"); err != nil {
		return err
	}
	if err := src1.validate(op, "src1"); err != nil {
		return err
	}
	if err := dst.validate(op, "dst"); err != nil {
		return err
	}

	if src0.Type != F16 {
		return NewInvalidArgError(op, fmt.Sprintf("src0 must be f16, got %v", src0.Type))
	}
	if src1.Type != F16 && src1.Type != F32 {
		return NewInvalidArgError(op, fmt.Sprintf("src1 must be f16 or f32, got %v", src1.Type))
	}
	if dst.Type != F32 {
		return NewInvalidArgError(op, fmt.Sprintf("dst must be f32, got %v", dst.Type))
	}

	if src0.Ne[0] != src1.Ne[0] {
		return NewInvalidArgError(op, fmt.Sprintf("reduction dims differ: src0 ne0=%d, src1 ne0=%d",
			src0.Ne[0], src1.Ne[0]))
	}
	if dst.Ne[0] != src0.Ne[1] || dst.Ne[1] != src1.Ne[1] {
		return NewInvalidArgError(op, fmt.Sprintf("dst is (%d,%d), want (%d,%d)",
			dst.Ne[0], dst.Ne[1], src0.Ne[1], src1.Ne[1]))
	}
	if dst.Ne[2] != src1.Ne[2] || dst.Ne[3] != src1.Ne[3] {
		return NewInvalidArgError(op, fmt.Sprintf("dst batches (%d,%d) do not match src1 batches (%d,%d)",
			dst.Ne[2], dst.Ne[3], src1.Ne[2], src1.Ne[3]))
	}
	if dst.RowStride() != dst.Ne[0] {
		return NewInvalidArgError(op, "dst must be densely packed")
	}
	return nil
}
