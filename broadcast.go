package gemmbatch

import "fmt"

// Broadcast index mapping for batched multiplication. One operand's batch
// extents may be an integer multiple of the other's; every group of r2
// consecutive i12 values (and r3 consecutive i13 values) then shares one
// slice of the smaller operand. The mapping is pure so the parallel
// pointer builder and the reference implementation cannot diverge.

// batchRatios returns (r2, r3) such that ne12 = r2*ne02 and
// ne13 = r3*ne03, or an error when the extents do not divide.
func batchRatios(ne02, ne03, ne12, ne13 int) (r2, r3 int, err error) {
	if ne02 <= 0 || ne03 <= 0 || ne12 <= 0 || ne13 <= 0 {
		return 0, 0, NewInvalidArgError("batchRatios",
			fmt.Sprintf("non-positive batch extents: (%d,%d) vs (%d,%d)", ne02, ne03, ne12, ne13))
	}
	if ne12%ne02 != 0 || ne13%ne03 != 0 {
		return 0, 0, NewInvalidArgError("batchRatios",
			fmt.Sprintf("batch extents (%d,%d) do not broadcast to (%d,%d)", ne02, ne03, ne12, ne13))
	}
	return ne12 / ne02, ne13 / ne03, nil
}

// srcBatchIndex maps a larger-operand batch coordinate to the
// smaller-operand coordinate it broadcasts from.
func srcBatchIndex(i12, i13, r2, r3 int) (i02, i03 int) {
	return i12 / r2, i13 / r3
}

// flattenBatchIndex linearizes (i12, i13) with i12 fast-varying. This
// flattening is the contract with the grouped-GEMM primitive, which
// expects contiguous pointer arrays indexed 0..ne12*ne13-1.
func flattenBatchIndex(i12, i13, ne12 int) int {
	return i12 + i13*ne12
}
