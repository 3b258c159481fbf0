package octree

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Fragment positions are packed 10:10:10 (x in the low bits), colors are
// RGBA8 (r in the low byte) and normals are signed 8:8:8 biased by 128.

func PackPosition(x, y, z uint32) uint32 {
	return (x & 0x3FF) | (y&0x3FF)<<10 | (z&0x3FF)<<20
}

func UnpackPosition(p uint32) [3]uint32 {
	return [3]uint32{p & 0x3FF, (p >> 10) & 0x3FF, (p >> 20) & 0x3FF}
}

func PackRGBA8(c mgl32.Vec4) uint32 {
	return uint32(unorm8(c[0])) |
		uint32(unorm8(c[1]))<<8 |
		uint32(unorm8(c[2]))<<16 |
		uint32(unorm8(c[3]))<<24
}

func UnpackRGBA8(v uint32) mgl32.Vec4 {
	return mgl32.Vec4{
		float32(v&0xFF) / 255,
		float32((v>>8)&0xFF) / 255,
		float32((v>>16)&0xFF) / 255,
		float32((v>>24)&0xFF) / 255,
	}
}

func PackNormal(n mgl32.Vec3) uint32 {
	if l := n.Len(); l > 0 {
		n = n.Mul(1 / l)
	}
	return uint32(snorm8(n[0])) | uint32(snorm8(n[1]))<<8 | uint32(snorm8(n[2]))<<16
}

func UnpackNormal(v uint32) mgl32.Vec3 {
	return mgl32.Vec3{
		(float32(v&0xFF) - 128) / 127,
		(float32((v>>8)&0xFF) - 128) / 127,
		(float32((v>>16)&0xFF) - 128) / 127,
	}
}

func unorm8(f float32) uint8 {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return uint8(f*255 + 0.5)
}

func snorm8(f float32) uint8 {
	if f < -1 {
		f = -1
	}
	if f > 1 {
		f = 1
	}
	return uint8(int32(f*127+128.5) & 0xFF)
}

// Octant returns the child slot 0..7 that voxel coordinate c falls into when
// descending from depth to depth+1 in a tree of numLevels levels.
func Octant(c [3]uint32, depth, numLevels uint32) uint32 {
	shift := numLevels - 2 - depth
	return (c[0]>>shift)&1 | ((c[1]>>shift)&1)<<1 | ((c[2]>>shift)&1)<<2
}

// OctantOffset splits an octant into its per-axis 0/1 offsets.
func OctantOffset(o uint32) [3]uint32 {
	return [3]uint32{o & 1, (o >> 1) & 1, (o >> 2) & 1}
}
