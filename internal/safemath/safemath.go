package safemath

import (
	"errors"
	"math/bits"
)

var ErrOverflow = errors.New("number overflow")

func Add64(a, b uint64) (uint64, bool) {
	v, carry := bits.Add64(a, b, 0)
	return v, carry == 0
}

func Sub64(a, b uint64) (uint64, bool) {
	v, borrow := bits.Sub64(a, b, 0)
	return v, borrow == 0
}

func Mul64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// SaturatingSub64 subtracts b from a, flooring at zero. The second return
// value reports whether the floor was hit, which callers treat as a signal
// that an upstream invariant was already violated.
func SaturatingSub64(a, b uint64) (uint64, bool) {
	v, ok := Sub64(a, b)
	if !ok {
		return 0, true
	}
	return v, false
}

// SaturatingSub32 is SaturatingSub64 for 32-bit counters.
func SaturatingSub32(a, b uint32) (uint32, bool) {
	v, borrow := bits.Sub32(a, b, 0)
	if borrow != 0 {
		return 0, true
	}
	return v, false
}

// MulDivFloor computes floor(a * num / den) without intermediate overflow
// using a 128-bit product. Returns ErrOverflow if the quotient does not fit
// in 64 bits, and an error on division by zero.
func MulDivFloor(a, num, den uint64) (uint64, error) {
	if den == 0 {
		return 0, errors.New("division by zero")
	}
	hi, lo := bits.Mul64(a, num)
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}
