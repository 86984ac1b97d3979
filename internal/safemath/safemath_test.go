package safemath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd64(t *testing.T) {
	v, ok := Add64(1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), v)

	_, ok = Add64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestSub64(t *testing.T) {
	v, ok := Sub64(5, 3)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), v)

	_, ok = Sub64(3, 5)
	assert.False(t, ok)
}

func TestSaturatingSub(t *testing.T) {
	v, clamped := SaturatingSub64(3, 5)
	assert.Equal(t, uint64(0), v)
	assert.True(t, clamped)

	v, clamped = SaturatingSub64(5, 3)
	assert.Equal(t, uint64(2), v)
	assert.False(t, clamped)

	v32, clamped := SaturatingSub32(0, 1)
	assert.Equal(t, uint32(0), v32)
	assert.True(t, clamped)
}

func TestMulDivFloor(t *testing.T) {
	// floor(1000 * 7000 / 10000) = 700
	v, err := MulDivFloor(1000, 7000, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), v)

	// floor(999 * 1 / 2) = 499
	v, err = MulDivFloor(999, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(499), v)

	// Large operands must not overflow the intermediate product.
	v, err = MulDivFloor(math.MaxUint64, 5000, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/2), v)

	_, err = MulDivFloor(math.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = MulDivFloor(1, 1, 0)
	assert.Error(t, err)
}
