package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds v up to the next multiple of alignment. An alignment of zero
// returns v unchanged. Alignment does not need to be a power of two.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	if IsPowerOfTwo(alignment) {
		return (v + alignment - 1) &^ (alignment - 1)
	}
	return DivCeil(v, alignment) * alignment
}

// IsAligned reports whether v is a multiple of alignment.
func IsAligned[T constraints.Unsigned](v, alignment T) bool {
	return alignment == 0 || v%alignment == 0
}

// DivCeil divides rounding up.
func DivCeil[T constraints.Unsigned](v, d T) T {
	return (v + d - 1) / d
}

func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// MipExtent returns the size of a dimension at the given mip level, never
// smaller than one.
func MipExtent[T constraints.Unsigned](base T, mip uint32) T {
	return max(base>>mip, 1)
}
