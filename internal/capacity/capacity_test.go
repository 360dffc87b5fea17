package capacity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

func TestRequired(t *testing.T) {
	// "#*" + 4 + ".txt" + 4 + "Hi!!!" = 19 bytes -> 152 carrier bytes
	assert.Equal(t, int64(19), FrameSize(2, 4, 5))
	assert.Equal(t, int64(152), Required(2, 4, 5))
}

func TestCheck_Boundary(t *testing.T) {
	need := Required(2, 4, 5)

	assert.NoError(t, Check(need, 2, 4, 5))
	assert.NoError(t, Check(need+1, 2, 4, 5))

	err := Check(need-1, 2, 4, 5)
	assert.ErrorIs(t, err, spec.ErrCapacity)
}

func TestCheck_Rejects(t *testing.T) {
	assert.ErrorIs(t, Check(math.MaxInt64/16, 2, 4, math.MaxUint32+1), spec.ErrCapacity)
	assert.ErrorIs(t, Check(1000, 2, 4, -1), spec.ErrCapacity)
	assert.ErrorIs(t, Check(-54, 2, 0, 0), spec.ErrCapacity)
}

func TestMaxSecret(t *testing.T) {
	// 64x64 carrier: 12288 pixel bytes -> 1536 frame bytes
	assert.Equal(t, int64(1536-14), MaxSecret(12288, 2, 4))
	assert.Equal(t, int64(0), MaxSecret(8, 2, 4))

	max := MaxSecret(12288, 2, 4)
	assert.NoError(t, Check(12288, 2, 4, max))
	assert.Error(t, Check(12288, 2, 4, max+1))
}
