package cpu

import (
	"context"
	"sync/atomic"

	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/go-gl/mathgl/mgl32"
)

// leafAccum gathers the fragments that land in one leaf. Colors are summed
// as 8-bit channels and normals as biased snorm8 components so that every
// update is a plain atomic add.
type leafAccum struct {
	rgba   [4]atomic.Uint64
	normal [3]atomic.Int64
	count  atomic.Uint32
}

// WriteLeafNodes averages the fragments of every leaf into its value.
// Occupied leaves get alpha 1.
func (b *Backend) WriteLeafNodes(ctx context.Context) error {
	pool := b.grid.Pool()
	frags := b.grid.Fragments()
	leaf := pool.LeafLevel()
	r := pool.Level(leaf)
	count := frags.Count()

	acc := make([]leafAccum, r.Count)
	err := b.dispatch(ctx, b.grid.Indirect().Fragments, func(id uint32) {
		if id >= count {
			return
		}
		pos, col, nrm := frags.Packed(id)
		node, ok := pool.Descend(octree.UnpackPosition(pos), leaf)
		if !ok || node < r.Start || node >= r.End() {
			return
		}
		a := &acc[node-r.Start]
		for c := 0; c < 4; c++ {
			a.rgba[c].Add(uint64((col >> (8 * c)) & 0xFF))
		}
		for c := 0; c < 3; c++ {
			a.normal[c].Add(int64((nrm>>(8*c))&0xFF) - 128)
		}
		a.count.Add(1)
	})
	if err != nil {
		return err
	}

	return b.dispatch(ctx, b.grid.Indirect().Level(leaf), func(id uint32) {
		if id >= r.Count {
			return
		}
		node := r.Start + id
		a := &acc[id]
		n := a.count.Load()
		if n == 0 {
			pool.SetValue(node, octree.NodeValue{})
			return
		}
		inv := 1 / (255 * float32(n))
		color := mgl32.Vec4{
			float32(a.rgba[0].Load()) * inv,
			float32(a.rgba[1].Load()) * inv,
			float32(a.rgba[2].Load()) * inv,
			1,
		}
		normal := mgl32.Vec3{
			float32(a.normal[0].Load()),
			float32(a.normal[1].Load()),
			float32(a.normal[2].Load()),
		}
		if l := normal.Len(); l > 0 {
			normal = normal.Mul(1 / l)
		}
		pool.SetValue(node, octree.NodeValue{
			Color:  color,
			Normal: normal.Vec4(1),
		})
	})
}

// LightInjection writes the direct radiance of every occupied leaf and then
// fills the leaf borders, which are only final once radiance is known.
func (b *Backend) LightInjection(ctx context.Context, light *core.SceneNode, shadow *core.ShadowMap) error {
	pool := b.grid.Pool()
	leaf := pool.LeafLevel()
	r := pool.Level(leaf)

	var radiance mgl32.Vec3
	dir := mgl32.Vec3{0, -1, 0}
	if light != nil && light.Light != nil {
		radiance = light.Light.Radiance()
		dir = core.LightDirection(light)
	}
	toLight := dir.Mul(-1)
	bias := b.grid.Params().ShadowBias

	err := b.dispatch(ctx, b.grid.Indirect().Level(leaf), func(id uint32) {
		if id >= r.Count {
			return
		}
		node := r.Start + id
		if !pool.IsFlagged(node) {
			return
		}
		v := pool.Value(node)
		ndl := float32(1)
		if n := v.Normal.Vec3(); n.Len() > 1e-4 {
			ndl = max(n.Normalize().Dot(toLight), 0)
		}
		vis := shadow.Visibility(b.grid.NodeCenter(node, leaf), bias)
		k := ndl * vis
		v.Radiance = mgl32.Vec4{
			v.Color[0] * radiance[0] * k,
			v.Color[1] * radiance[1] * k,
			v.Color[2] * radiance[2] * k,
			v.Color[3],
		}
		pool.SetValue(node, v)
	})
	if err != nil {
		return err
	}
	return b.borderTransfer(ctx, leaf)
}

// OctreeMipmap filters level+1 into level: every node with children takes
// the box filtered sum of its tile.
func (b *Backend) OctreeMipmap(ctx context.Context, level uint32) error {
	pool := b.grid.Pool()
	if level >= pool.LeafLevel() {
		return nil
	}
	r := pool.Level(level)

	return b.dispatch(ctx, b.grid.Indirect().Level(level), func(id uint32) {
		if id >= r.Count {
			return
		}
		node := r.Start + id
		base := pool.Child(node)
		if base == octree.NoNode {
			pool.SetValue(node, octree.NodeValue{})
			return
		}
		var sum octree.NodeValue
		for o := uint32(0); o < octree.TileSize; o++ {
			sum = sum.Add(pool.Value(base + o))
		}
		pool.SetValue(node, sum.Scale(1/float32(octree.TileSize)))
	})
}

func (b *Backend) BorderTransfer(ctx context.Context, level uint32) error {
	return b.borderTransfer(ctx, level)
}

// borderTransfer averages every occupied node of level with its six
// neighbours. Both sides of a shared face compute the same sum, so the face
// value is identical from either node.
func (b *Backend) borderTransfer(ctx context.Context, level uint32) error {
	pool := b.grid.Pool()
	r := pool.Level(level)

	return b.dispatch(ctx, b.grid.Indirect().Level(level), func(id uint32) {
		if id >= r.Count {
			return
		}
		node := r.Start + id
		if !pool.IsFlagged(node) {
			return
		}
		v := pool.Value(node)
		var borders [octree.NumDirections]octree.BorderValue
		for d := octree.Direction(0); d < octree.NumDirections; d++ {
			var nv octree.NodeValue
			if nb := pool.Neighbour(node, d); nb != octree.NoNode {
				nv = pool.Value(nb)
			}
			borders[d] = octree.BorderValue{
				Color:    v.Color.Add(nv.Color).Mul(0.5),
				Radiance: v.Radiance.Add(nv.Radiance).Mul(0.5),
			}
		}
		pool.SetBorders(node, borders)
	})
}
