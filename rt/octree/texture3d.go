package octree

import "sync/atomic"

// Texture3D is a cubic single-channel uint32 volume, written by voxelization
// with packed RGBA8 colors and used for visualization.
type Texture3D struct {
	size   uint32
	texels []atomic.Uint32
}

func NewTexture3D(size uint32) *Texture3D {
	return &Texture3D{size: size, texels: make([]atomic.Uint32, size*size*size)}
}

func (t *Texture3D) Size() uint32 {
	return t.size
}

func (t *Texture3D) index(x, y, z uint32) uint32 {
	return (z*t.size+y)*t.size + x
}

func (t *Texture3D) Store(x, y, z, v uint32) {
	if x >= t.size || y >= t.size || z >= t.size {
		return
	}
	t.texels[t.index(x, y, z)].Store(v)
}

func (t *Texture3D) Load(x, y, z uint32) uint32 {
	if x >= t.size || y >= t.size || z >= t.size {
		return 0
	}
	return t.texels[t.index(x, y, z)].Load()
}

func (t *Texture3D) Clear() {
	for i := range t.texels {
		t.texels[i].Store(0)
	}
}

// Slice copies the z-th XY layer, row-major by y.
func (t *Texture3D) Slice(z uint32) []uint32 {
	out := make([]uint32, t.size*t.size)
	if z >= t.size {
		return out
	}
	for y := uint32(0); y < t.size; y++ {
		for x := uint32(0); x < t.size; x++ {
			out[y*t.size+x] = t.Load(x, y, z)
		}
	}
	return out
}

// NonZero counts written texels.
func (t *Texture3D) NonZero() int {
	n := 0
	for i := range t.texels {
		if t.texels[i].Load() != 0 {
			n++
		}
	}
	return n
}
