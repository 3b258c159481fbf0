package cpu

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/go-gl/mathgl/mgl32"
)

// RenderShadowMap rasterizes the depth of nodes as seen from a directional
// light into a size×size map covering the voxel grid's bounding sphere.
func (b *Backend) RenderShadowMap(ctx context.Context, nodes []*core.SceneNode, light *core.SceneNode, size int) (*core.ShadowMap, error) {
	if light == nil {
		return nil, fmt.Errorf("shadow map: no light node")
	}
	if size <= 0 {
		return nil, fmt.Errorf("shadow map: invalid size %d", size)
	}

	center := b.grid.GridTransform().Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	radius := b.grid.SideLengths().Len() / 2
	viewProj := core.DirectionalViewProj(core.LightDirection(light), center, radius)
	sm := core.NewShadowMap(size, size, viewProj)

	// Non-negative floats order like their bit patterns, so the depth test
	// is an atomic min on the raw bits.
	depth := make([]atomic.Uint32, size*size)
	one := math.Float32bits(1)
	for i := range depth {
		depth[i].Store(one)
	}

	for _, node := range nodes {
		if node == nil || node.Mesh == nil {
			continue
		}
		m := node.Mesh
		mvp := viewProj.Mul4(node.World())
		screen := make([]mgl32.Vec3, len(m.Positions))
		for i, p := range m.Positions {
			c := mgl32.TransformCoordinate(p, mvp)
			screen[i] = mgl32.Vec3{
				(c[0]*0.5 + 0.5) * float32(size),
				(c[1]*0.5 + 0.5) * float32(size),
				c[2]*0.5 + 0.5,
			}
		}
		tris := uint32(m.TriangleCount())
		err := b.dispatch(ctx, octree.ArgsFor(tris), func(id uint32) {
			if id >= tris {
				return
			}
			i0, i1, i2 := m.Triangle(int(id))
			rasterDepth(screen[i0], screen[i1], screen[i2], size, depth)
		})
		if err != nil {
			return nil, err
		}
	}

	for i := range depth {
		sm.Depth[i] = math.Float32frombits(depth[i].Load())
	}
	return sm, nil
}

func rasterDepth(a, b, c mgl32.Vec3, size int, depth []atomic.Uint32) {
	area := edge(a[0], a[1], b[0], b[1], c[0], c[1])
	if area == 0 {
		return
	}
	res := uint32(size)
	minX := clampCell(min(a[0], b[0], c[0]), res)
	maxX := clampCell(max(a[0], b[0], c[0]), res)
	minY := clampCell(min(a[1], b[1], c[1]), res)
	maxY := clampCell(max(a[1], b[1], c[1]), res)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float32(x)+0.5, float32(y)+0.5
			w0 := edge(b[0], b[1], c[0], c[1], px, py) / area
			w1 := edge(c[0], c[1], a[0], a[1], px, py) / area
			w2 := edge(a[0], a[1], b[0], b[1], px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*a[2] + w1*b[2] + w2*c[2]
			if z < 0 || z > 1 {
				continue
			}
			bits := math.Float32bits(z)
			cell := &depth[int(y)*size+int(x)]
			for {
				old := cell.Load()
				if bits >= old || cell.CompareAndSwap(old, bits) {
					break
				}
			}
		}
	}
}
