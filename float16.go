package gemmbatch

import (
	"math"
)

// Float16 is an IEEE 754 binary16 value stored in a uint16. The batched
// pipeline computes on half-precision operand buffers; these conversions
// produce and read them.
type Float16 uint16

const (
	float16SignMask     = 0x8000
	float16ExponentMask = 0x7C00
	float16MantissaMask = 0x03FF
	float16ExponentBias = 15
	float16MantissaBits = 10
)

// ToFloat32 converts a Float16 to float32, handling subnormals, Inf and
// NaN.
func (f Float16) ToFloat32() float32 {
	sign := uint32(f&float16SignMask) << 16
	exponent := (f & float16ExponentMask) >> float16MantissaBits
	mantissa := f & float16MantissaMask

	if exponent == 0 {
		if mantissa == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: renormalize.
		exp := uint32(1)
		for mantissa&0x200 == 0 {
			mantissa <<= 1
			exp++
		}
		mantissa &= 0x1FF
		exponentBits := 127 - 15 - uint16(exp) + 1
		return math.Float32frombits(sign | (uint32(exponentBits) << 23) | (uint32(mantissa) << 13))
	} else if exponent == 0x1F {
		if mantissa == 0 {
			return math.Float32frombits(sign | 0x7F800000)
		}
		return math.Float32frombits(sign | 0x7FC00000 | (uint32(mantissa) << 13))
	}

	return math.Float32frombits(sign | ((uint32(exponent) + 127 - 15) << 23) | (uint32(mantissa) << 13))
}

// FromFloat32 converts a float32 to Float16. Values outside the binary16
// range round to infinity; values below the subnormal range flush to
// zero.
func FromFloat32(f float32) Float16 {
	bits := math.Float32bits(f)
	sign := (bits >> 16) & float16SignMask
	exponent := (bits >> 23) & 0xFF
	mantissa := bits & 0x7FFFFF

	if exponent == 0xFF {
		if mantissa == 0 {
			return Float16(sign | float16ExponentMask)
		}
		return Float16(sign | float16ExponentMask | (mantissa >> 13))
	}

	exp := int(exponent) - 127 + float16ExponentBias
	if exp <= 0 {
		return Float16(sign)
	} else if exp >= 0x1F {
		return Float16(sign | float16ExponentMask)
	}

	return Float16(uint16(sign) | (uint16(exp) << float16MantissaBits) | uint16(mantissa>>13))
}

// Float16Slice reads and writes Float16 values over a raw byte buffer in
// little-endian order.
type Float16Slice struct {
	data []byte
}

// NewFloat16Slice wraps a byte slice as Float16 storage.
func NewFloat16Slice(data []byte) Float16Slice {
	return Float16Slice{data: data}
}

// Len returns the number of Float16 elements.
func (s Float16Slice) Len() int {
	return len(s.data) / 2
}

// Get returns the Float16 at index i.
func (s Float16Slice) Get(i int) Float16 {
	return Float16(uint16(s.data[i*2]) | (uint16(s.data[i*2+1]) << 8))
}

// Set stores val at index i.
func (s Float16Slice) Set(i int, val Float16) {
	s.data[i*2] = byte(val)
	s.data[i*2+1] = byte(val >> 8)
}

// GetFloat32 returns the value at index i widened to float32.
func (s Float16Slice) GetFloat32(i int) float32 {
	return s.Get(i).ToFloat32()
}

// SetFloat32 stores val at index i narrowed to Float16.
func (s Float16Slice) SetFloat32(i int, val float32) {
	s.Set(i, FromFloat32(val))
}

// Float16 returns a Float16 view of the device memory.
func (d DevicePtr) Float16() Float16Slice {
	if d.ptr == nil {
		return Float16Slice{}
	}
	return NewFloat16Slice(d.Byte())
}

// ConvertF32ToF16 narrows n float32 values from src into dst. It is the
// conversion step that prepares half-precision operand buffers for the
// batched multiply.
func ConvertF32ToF16(src, dst DevicePtr, n int) {
	srcF32 := src.Float32()
	dstF16 := dst.Float16()
	for i := 0; i < n; i++ {
		dstF16.SetFloat32(i, srcF32[i])
	}
}

// ConvertF16ToF32 widens n Float16 values from src into dst.
func ConvertF16ToF32(src, dst DevicePtr, n int) {
	srcF16 := src.Float16()
	dstF32 := dst.Float32()
	for i := 0; i < n; i++ {
		dstF32[i] = srcF16.GetFloat32(i)
	}
}
