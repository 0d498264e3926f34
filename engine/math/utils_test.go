package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, a, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{255, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{10, 0, 10},
		{10, 3, 12},
		{12, 12, 12},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignUp(tt.v, tt.a), "AlignUp(%d, %d)", tt.v, tt.a)
		assert.True(t, IsAligned(AlignUp(tt.v, tt.a), tt.a))
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, uint32(3), DivCeil[uint32](9, 4))
	assert.Equal(t, uint32(2), DivCeil[uint32](8, 4))
	assert.True(t, IsPowerOfTwo[uint32](512))
	assert.False(t, IsPowerOfTwo[uint32](0))
	assert.False(t, IsPowerOfTwo[uint32](384))
	assert.Equal(t, uint32(64), MipExtent[uint32](256, 2))
	assert.Equal(t, uint32(1), MipExtent[uint32](4, 5))
	assert.Equal(t, 5, Clamp(7, 0, 5))
	assert.Equal(t, -1.0, Clamp(-3.0, -1.0, 1.0))
}
