package cpu

import (
	"context"
	"fmt"
	"math"

	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/go-gl/mathgl/mgl32"
)

// meshDraw is one render node prepared for rasterization: vertices already
// in voxel space, normals in world space.
type meshDraw struct {
	mesh    *core.Mesh
	voxel   []mgl32.Vec3
	normals []mgl32.Vec3
	diffuse *core.Texture
}

// Voxelize rasterizes every mesh into the voxel grid and appends one
// fragment per covered voxel. Each triangle is projected along the axis its
// normal is most aligned with onto an R×R viewport; depth testing does not
// apply, so every covered pixel center emits a fragment.
func (b *Backend) Voxelize(ctx context.Context, nodes []*core.SceneNode) error {
	toVoxel := b.grid.VoxelMatrix()

	for _, node := range nodes {
		if node == nil || node.Mesh == nil {
			continue
		}
		if err := node.Mesh.Validate(); err != nil {
			return fmt.Errorf("voxelize %s: %w", node.Name, err)
		}
		draw := prepareDraw(node, toVoxel)
		tris := uint32(node.Mesh.TriangleCount())
		err := b.dispatch(ctx, octree.ArgsFor(tris), func(id uint32) {
			if id >= tris {
				return
			}
			b.rasterize(draw, int(id))
		})
		if err != nil {
			return err
		}
	}

	b.logger.Debugf("voxelize: %d fragments", b.grid.Fragments().Count())
	return b.grid.Fragments().Err()
}

func prepareDraw(node *core.SceneNode, toVoxel mgl32.Mat4) *meshDraw {
	m := node.Mesh
	mvp := toVoxel.Mul4(node.World())
	d := &meshDraw{
		mesh:    m,
		voxel:   make([]mgl32.Vec3, len(m.Positions)),
		diffuse: node.Textures.Diffuse(),
	}
	for i, p := range m.Positions {
		d.voxel[i] = mgl32.TransformCoordinate(p, mvp)
	}
	if m.Normals != nil {
		nm := node.WorldNormal()
		d.normals = make([]mgl32.Vec3, len(m.Normals))
		for i, n := range m.Normals {
			d.normals[i] = nm.Mul3x1(n)
		}
	}
	return d
}

func (b *Backend) rasterize(d *meshDraw, tri int) {
	i0, i1, i2 := d.mesh.Triangle(tri)
	v0, v1, v2 := d.voxel[i0], d.voxel[i1], d.voxel[i2]

	face := v1.Sub(v0).Cross(v2.Sub(v0))
	if face.Len() == 0 {
		return
	}
	// Dominant axis a is the projection direction; u and v span the viewport.
	a := dominantAxis(face)
	u, v := (a+1)%3, (a+2)%3

	res := b.grid.Resolution()
	minU := clampCell(min(v0[u], v1[u], v2[u]), res)
	maxU := clampCell(max(v0[u], v1[u], v2[u]), res)
	minV := clampCell(min(v0[v], v1[v], v2[v]), res)
	maxV := clampCell(max(v0[v], v1[v], v2[v]), res)

	area := edge(v0[u], v0[v], v1[u], v1[v], v2[u], v2[v])
	if area == 0 {
		return
	}
	// Orient the triangle counter-clockwise in (u, v) so inside is positive.
	sign := float32(1)
	if area < 0 {
		sign = -1
	}
	e0 := fillEdge{v1[u], v1[v], v2[u], v2[v], sign}
	e1 := fillEdge{v2[u], v2[v], v0[u], v0[v], sign}
	e2 := fillEdge{v0[u], v0[v], v1[u], v1[v], sign}
	area *= sign

	worldFace := faceNormal(d, i0, i1, i2, face)

	for py := minV; py <= maxV; py++ {
		for px := minU; px <= maxU; px++ {
			cu, cv := float32(px)+0.5, float32(py)+0.5
			f0, in0 := e0.covers(cu, cv)
			f1, in1 := e1.covers(cu, cv)
			f2, in2 := e2.covers(cu, cv)
			if !in0 || !in1 || !in2 {
				continue
			}
			w0, w1, w2 := f0/area, f1/area, f2/area
			depth := w0*v0[a] + w1*v1[a] + w2*v2[a]
			if depth < 0 || depth >= float32(res) {
				continue
			}
			var cell [3]uint32
			cell[a] = uint32(depth)
			cell[u] = uint32(px)
			cell[v] = uint32(py)

			color := d.color(i0, i1, i2, w0, w1, w2)
			normal := worldFace
			if d.normals != nil {
				normal = d.normals[i0].Mul(w0).Add(d.normals[i1].Mul(w1)).Add(d.normals[i2].Mul(w2))
			}
			b.emit(cell, color, normal)
		}
	}
}

func (b *Backend) emit(cell [3]uint32, color mgl32.Vec4, normal mgl32.Vec3) {
	packedColor := octree.PackRGBA8(color)
	_, ok := b.grid.Fragments().Append(
		octree.PackPosition(cell[0], cell[1], cell[2]),
		packedColor,
		octree.PackNormal(normal),
	)
	if ok {
		b.grid.Texture().Store(cell[0], cell[1], cell[2], packedColor)
	}
}

func (d *meshDraw) color(i0, i1, i2 uint32, w0, w1, w2 float32) mgl32.Vec4 {
	c := mgl32.Vec4{1, 1, 1, 1}
	m := d.mesh
	if m.Colors != nil {
		c = m.Colors[i0].Mul(w0).Add(m.Colors[i1].Mul(w1)).Add(m.Colors[i2].Mul(w2))
	}
	if d.diffuse != nil && m.UVs != nil {
		uv := m.UVs[i0].Mul(w0).Add(m.UVs[i1].Mul(w1)).Add(m.UVs[i2].Mul(w2))
		t := d.diffuse.Sample(uv)
		c = mgl32.Vec4{c[0] * t[0], c[1] * t[1], c[2] * t[2], c[3] * t[3]}
	}
	return c
}

func faceNormal(d *meshDraw, i0, i1, i2 uint32, voxelFace mgl32.Vec3) mgl32.Vec3 {
	if d.normals != nil {
		return d.normals[i0].Add(d.normals[i1]).Add(d.normals[i2])
	}
	// Voxel space differs from world space by a positive scale and a
	// translation, so the orientation of the face normal is preserved.
	return voxelFace
}

func dominantAxis(n mgl32.Vec3) int {
	x, y, z := abs(n[0]), abs(n[1]), abs(n[2])
	if x >= y && x >= z {
		return 0
	}
	if y >= z {
		return 1
	}
	return 2
}

// fillEdge is a directed triangle edge from a to b, scaled by the
// orientation of its triangle.
type fillEdge struct {
	ax, ay, bx, by float32
	sign           float32
}

// covers returns the oriented edge function at p and whether p is inside
// the edge. Points exactly on the edge belong to it only when it is a top or
// left edge, so a pixel center on an edge shared by two triangles is
// emitted once.
func (e fillEdge) covers(px, py float32) (float32, bool) {
	f := e.sign * canonicalEdge(e.ax, e.ay, e.bx, e.by, px, py)
	if f != 0 {
		return f, f > 0
	}
	dx, dy := e.sign*(e.bx-e.ax), e.sign*(e.by-e.ay)
	return 0, dy < 0 || (dy == 0 && dx < 0)
}

// canonicalEdge evaluates the edge with its endpoints in a fixed order, so
// both triangles sharing an edge see exactly negated values.
func canonicalEdge(ax, ay, bx, by, px, py float32) float32 {
	if ax > bx || (ax == bx && ay > by) {
		return -edge(bx, by, ax, ay, px, py)
	}
	return edge(ax, ay, bx, by, px, py)
}

// edge is twice the signed area of (a, b, p).
func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func clampCell(f float32, res uint32) uint32 {
	if f <= 0 || math.IsNaN(float64(f)) {
		return 0
	}
	if f >= float32(res) {
		return res - 1
	}
	return uint32(f)
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
