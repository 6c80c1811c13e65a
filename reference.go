// Package gemmbatch reference implementations for verification.
package gemmbatch

// Reference holds simple, obviously correct implementations used by
// tests to verify the parallel pipeline. It shares the broadcast index
// mapping with the pointer-array builder so the two cannot diverge.
type Reference struct{}

// MulMatBatched computes the same result as the pipeline, one element at
// a time: dst[i0, i1] = alpha * dot(src0 row i0, src1 row i1) +
// beta * dst[i0, i1] per batch, with src0 batches broadcast.
func (Reference) MulMatBatched(src0, src1, dst TensorView, alpha, beta float32) error {
	r2, r3, err := batchRatios(src0.Ne[2], src0.Ne[3], src1.Ne[2], src1.Ne[3])
	if err != nil {
		return err
	}

	ne00 := src0.Ne[0]
	for i13 := 0; i13 < src1.Ne[3]; i13++ {
		for i12 := 0; i12 < src1.Ne[2]; i12++ {
			i02, i03 := srcBatchIndex(i12, i13, r2, r3)

			for i1 := 0; i1 < src1.Ne[1]; i1++ {
				for i0 := 0; i0 < src0.Ne[1]; i0++ {
					var sum float32
					for k := 0; k < ne00; k++ {
						a := viewElem(src0, k, i0, i02, i03)
						b := viewElem(src1, k, i1, i12, i13)
						sum += a * b
					}

					off := i0*dst.Nb[0] + i1*dst.Nb[1] + i12*dst.Nb[2] + i13*dst.Nb[3]
					out := dst.Data.Offset(off).Float32()
					out[0] = alpha*sum + beta*out[0]
				}
			}
		}
	}
	return nil
}

// viewElem reads one element of a view as float32, honoring byte strides
// and the element type tag.
func viewElem(t TensorView, i0, i1, i2, i3 int) float32 {
	off := i0*t.Nb[0] + i1*t.Nb[1] + i2*t.Nb[2] + i3*t.Nb[3]
	switch t.Type {
	case F16:
		return t.Data.Offset(off).Float16().GetFloat32(0)
	default:
		return t.Data.Offset(off).Float32()[0]
	}
}
