package core

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestTransformInverse(t *testing.T) {
	tr := NewTransform()
	tr.Position = mgl32.Vec3{1, 2, 3}
	tr.Rotation = mgl32.QuatRotate(0.7, mgl32.Vec3{0, 1, 0})
	tr.Scale = mgl32.Vec3{2, 3, 4}

	id := tr.Matrix().Mul4(tr.Inverse())
	if !id.ApproxEqualThreshold(mgl32.Ident4(), 1e-5) {
		t.Errorf("M * inv(M) should be identity, got %v", id)
	}
}

func TestHierarchyWorld(t *testing.T) {
	parent := NewSceneNode("parent")
	parent.Transform.Position = mgl32.Vec3{10, 0, 0}
	parent.Transform.Scale = mgl32.Vec3{2, 2, 2}

	child := NewSceneNode("child")
	child.Transform.Position = mgl32.Vec3{1, 0, 0}
	parent.AddChild(child)

	p := child.World().Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	if !p.ApproxEqual(mgl32.Vec3{12, 0, 0}) {
		t.Errorf("Expected child origin at (12,0,0), got %v", p)
	}

	back := child.WorldInverse().Mul4x1(p.Vec4(1)).Vec3()
	if !back.ApproxEqualThreshold(mgl32.Vec3{}, 1e-5) {
		t.Errorf("Expected inverse to map back to origin, got %v", back)
	}

	other := NewSceneNode("other")
	other.AddChild(child)
	if len(parent.Children()) != 0 || child.Parent() != other {
		t.Error("AddChild should reparent")
	}
}

func TestSceneManagerQueries(t *testing.T) {
	s := NewSceneManager()
	box := NewSceneNode("box")
	box.Mesh = NewCube(1)
	sun := NewSceneNode("sun")
	sun.Light = NewLight(mgl32.Vec3{1, 1, 1}, 1)
	s.Add(box)
	box.AddChild(sun)

	if got := s.RenderNodes(); len(got) != 1 || got[0] != box {
		t.Errorf("Expected one render node, got %d", len(got))
	}
	if got := s.LightNodes(); len(got) != 1 || got[0] != sun {
		t.Errorf("Expected one light node, got %d", len(got))
	}
	if s.Find(sun.ID) != sun {
		t.Error("Find should locate the light by id")
	}
}

func TestMeshValidate(t *testing.T) {
	for _, m := range []*Mesh{NewCube(2), NewQuad(1), NewSphere(1, 8, 12)} {
		if err := m.Validate(); err != nil {
			t.Errorf("%s: %v", m.Name, err)
		}
	}

	bad := &Mesh{Name: "bad", Positions: []mgl32.Vec3{{0, 0, 0}}, Indices: []uint32{0, 0, 1}}
	if err := bad.Validate(); err == nil {
		t.Error("Expected out of range index to fail validation")
	}
	if NewCube(1).TriangleCount() != 12 {
		t.Errorf("Expected 12 cube triangles, got %d", NewCube(1).TriangleCount())
	}
}

func TestTextureSample(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255}) // top left
	img.SetRGBA(0, 1, color.RGBA{0, 255, 0, 255}) // bottom left
	tex := NewTexture("checker", img)

	if c := tex.Sample(mgl32.Vec2{0.25, 0.75}); c != (mgl32.Vec4{1, 0, 0, 1}) {
		t.Errorf("Expected red at top left, got %v", c)
	}
	if c := tex.Sample(mgl32.Vec2{0.25, 0.25}); c != (mgl32.Vec4{0, 1, 0, 1}) {
		t.Errorf("Expected green at bottom left, got %v", c)
	}
	if c := tex.Sample(mgl32.Vec2{1.25, 1.25}); c != (mgl32.Vec4{0, 1, 0, 1}) {
		t.Errorf("Expected wrapping, got %v", c)
	}
}

func TestLightDirection(t *testing.T) {
	sun := NewSceneNode("sun")
	if d := LightDirection(sun); !d.ApproxEqual(mgl32.Vec3{0, 0, -1}) {
		t.Errorf("Expected -Z, got %v", d)
	}
	sun.Transform.Rotation = mgl32.QuatRotate(-math.Pi/2, mgl32.Vec3{1, 0, 0})
	if d := LightDirection(sun); !d.ApproxEqualThreshold(mgl32.Vec3{0, -1, 0}, 1e-5) {
		t.Errorf("Expected -Y, got %v", d)
	}
}

func TestShadowMapVisibility(t *testing.T) {
	vp := DirectionalViewProj(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{}, 10)
	sm := NewShadowMap(4, 4, vp)

	u, v, d := sm.Project(mgl32.Vec3{0, 0, 0})
	if math.Abs(float64(u-0.5)) > 1e-5 || math.Abs(float64(v-0.5)) > 1e-5 {
		t.Errorf("Expected center to project to (0.5,0.5), got (%f,%f)", u, v)
	}
	if sm.Visibility(mgl32.Vec3{}, 0.001) != 1 {
		t.Error("Empty shadow map should not occlude")
	}

	// Occluder at the center's depth minus a margin.
	for i := range sm.Depth {
		sm.Depth[i] = d - 0.1
	}
	if sm.Visibility(mgl32.Vec3{}, 0.001) != 0 {
		t.Error("Expected point behind occluder to be shadowed")
	}

	var none *ShadowMap
	if none.Visibility(mgl32.Vec3{}, 0) != 1 {
		t.Error("Nil shadow map should mean fully visible")
	}
}
