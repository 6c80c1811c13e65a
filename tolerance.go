package gemmbatch

import (
	"fmt"
	"math"
)

// ToleranceConfig defines tolerance parameters for comparing float32
// results against a reference.
type ToleranceConfig struct {
	// AbsTol is the absolute tolerance for values near zero.
	AbsTol float32

	// RelTol is the relative tolerance as a fraction of the larger value.
	RelTol float32

	// ULPTol is the maximum allowed difference in units in the last place.
	ULPTol int
}

// DefaultTolerance suits full-precision float32 pipelines.
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{AbsTol: 1e-7, RelTol: 1e-5, ULPTol: 4}
}

// HalfTolerance suits pipelines whose operands pass through Float16: the
// 10-bit mantissa dominates the error budget.
func HalfTolerance() ToleranceConfig {
	return ToleranceConfig{AbsTol: 1e-3, RelTol: Float16RelTol, ULPTol: 0}
}

// NearEqual reports whether a and b match within the tolerance.
func (tol ToleranceConfig) NearEqual(a, b float32) bool {
	if math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
		return true
	}
	if a == b {
		return true
	}

	diff := math.Abs(float64(a - b))
	if diff <= float64(tol.AbsTol) {
		return true
	}

	larger := math.Max(math.Abs(float64(a)), math.Abs(float64(b)))
	if diff <= larger*float64(tol.RelTol) {
		return true
	}

	if tol.ULPTol > 0 && ulpDiff(a, b) <= tol.ULPTol {
		return true
	}
	return false
}

// CompareSlices returns nil when got matches want element-wise within the
// tolerance, otherwise an error describing the first mismatch.
func (tol ToleranceConfig) CompareSlices(got, want []float32) error {
	if len(got) != len(want) {
		return fmt.Errorf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !tol.NearEqual(got[i], want[i]) {
			return fmt.Errorf("mismatch at %d: got %v, want %v (abs diff %v)",
				i, got[i], want[i], math.Abs(float64(got[i]-want[i])))
		}
	}
	return nil
}

// ulpDiff computes the bit distance between same-signed float32 values.
func ulpDiff(a, b float32) int {
	aBits := math.Float32bits(a)
	bBits := math.Float32bits(b)
	if (aBits^bBits)&0x80000000 != 0 {
		return math.MaxInt32
	}
	if aBits > bBits {
		return int(aBits - bBits)
	}
	return int(bBits - aBits)
}
