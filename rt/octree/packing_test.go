package octree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOctant(t *testing.T) {
	// Resolution 8, four levels. Voxel (5,2,7) = (101,010,111).
	c := [3]uint32{5, 2, 7}
	assert.Equal(t, uint32(1|0<<1|1<<2), Octant(c, 0, 4))
	assert.Equal(t, uint32(0|1<<1|1<<2), Octant(c, 1, 4))
	assert.Equal(t, uint32(1|0<<1|1<<2), Octant(c, 2, 4))

	for o := uint32(0); o < 8; o++ {
		off := OctantOffset(o)
		assert.Equal(t, o, off[0]|off[1]<<1|off[2]<<2)
	}
}

func TestPackPosition(t *testing.T) {
	p := PackPosition(1023, 0, 512)
	assert.Equal(t, [3]uint32{1023, 0, 512}, UnpackPosition(p))
}

func TestPackNormalClamps(t *testing.T) {
	n := UnpackNormal(PackNormal([3]float32{0, 0, 0}))
	assert.Equal(t, [3]float32{0, 0, 0}, [3]float32(n))

	n = UnpackNormal(PackNormal([3]float32{3, 0, 0}))
	assert.InDelta(t, 1, n.X(), 1e-6)
}
