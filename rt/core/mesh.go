package core

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is an indexed triangle list. Normals, UVs and Colors are optional but,
// when present, must have one entry per position.
type Mesh struct {
	Name      string
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Colors    []mgl32.Vec4
	Indices   []uint32
}

func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Triangle returns the vertex indices of triangle i.
func (m *Mesh) Triangle(i int) (uint32, uint32, uint32) {
	return m.Indices[3*i], m.Indices[3*i+1], m.Indices[3*i+2]
}

func (m *Mesh) Validate() error {
	n := len(m.Positions)
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("mesh %q: index count %d is not a multiple of 3", m.Name, len(m.Indices))
	}
	for _, idx := range m.Indices {
		if int(idx) >= n {
			return fmt.Errorf("mesh %q: index %d out of range (%d vertices)", m.Name, idx, n)
		}
	}
	if m.Normals != nil && len(m.Normals) != n {
		return fmt.Errorf("mesh %q: %d normals for %d vertices", m.Name, len(m.Normals), n)
	}
	if m.UVs != nil && len(m.UVs) != n {
		return fmt.Errorf("mesh %q: %d uvs for %d vertices", m.Name, len(m.UVs), n)
	}
	if m.Colors != nil && len(m.Colors) != n {
		return fmt.Errorf("mesh %q: %d colors for %d vertices", m.Name, len(m.Colors), n)
	}
	return nil
}

// NewCube returns an axis aligned cube of the given edge length centered at the origin,
// with per-face normals and UVs.
func NewCube(size float32) *Mesh {
	h := size / 2
	m := &Mesh{Name: "cube"}
	faces := []struct {
		n, u, v mgl32.Vec3
	}{
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
	}
	for _, f := range faces {
		base := uint32(len(m.Positions))
		c := f.n.Mul(h)
		corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
		for _, k := range corners {
			p := c.Add(f.u.Mul(k[0] * h)).Add(f.v.Mul(k[1] * h))
			m.Positions = append(m.Positions, p)
			m.Normals = append(m.Normals, f.n)
			m.UVs = append(m.UVs, mgl32.Vec2{(k[0] + 1) / 2, (k[1] + 1) / 2})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}

// NewQuad returns a square in the XZ plane facing +Y.
func NewQuad(size float32) *Mesh {
	h := size / 2
	up := mgl32.Vec3{0, 1, 0}
	return &Mesh{
		Name: "quad",
		Positions: []mgl32.Vec3{
			{-h, 0, h}, {h, 0, h}, {h, 0, -h}, {-h, 0, -h},
		},
		Normals: []mgl32.Vec3{up, up, up, up},
		UVs:     []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}

// NewSphere returns a UV sphere.
func NewSphere(radius float32, rings, segments int) *Mesh {
	if rings < 2 {
		rings = 2
	}
	if segments < 3 {
		segments = 3
	}
	m := &Mesh{Name: "sphere"}
	for r := 0; r <= rings; r++ {
		theta := math.Pi * float64(r) / float64(rings)
		for s := 0; s <= segments; s++ {
			phi := 2 * math.Pi * float64(s) / float64(segments)
			n := mgl32.Vec3{
				float32(math.Sin(theta) * math.Cos(phi)),
				float32(math.Cos(theta)),
				float32(math.Sin(theta) * math.Sin(phi)),
			}
			m.Positions = append(m.Positions, n.Mul(radius))
			m.Normals = append(m.Normals, n)
			m.UVs = append(m.UVs, mgl32.Vec2{float32(s) / float32(segments), float32(r) / float32(rings)})
		}
	}
	stride := uint32(segments + 1)
	for r := uint32(0); r < uint32(rings); r++ {
		for s := uint32(0); s < uint32(segments); s++ {
			a := r*stride + s
			b := a + stride
			m.Indices = append(m.Indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return m
}
