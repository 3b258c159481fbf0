package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// ShadowMap is a light-space depth buffer. Depth is stored in [0,1], 1 is the far plane.
type ShadowMap struct {
	Width, Height int
	Depth         []float32
	ViewProj      mgl32.Mat4
}

func NewShadowMap(width, height int, viewProj mgl32.Mat4) *ShadowMap {
	sm := &ShadowMap{
		Width:    width,
		Height:   height,
		Depth:    make([]float32, width*height),
		ViewProj: viewProj,
	}
	sm.Clear()
	return sm
}

func (s *ShadowMap) Clear() {
	for i := range s.Depth {
		s.Depth[i] = 1
	}
}

// Project maps a world position to shadow map uv and depth.
func (s *ShadowMap) Project(world mgl32.Vec3) (u, v, depth float32) {
	clip := s.ViewProj.Mul4x1(world.Vec4(1))
	if clip.W() != 0 {
		clip = clip.Mul(1 / clip.W())
	}
	return clip.X()*0.5 + 0.5, clip.Y()*0.5 + 0.5, clip.Z()*0.5 + 0.5
}

// At returns the stored depth at uv, or 1 outside the map.
func (s *ShadowMap) At(u, v float32) float32 {
	if u < 0 || v < 0 || u >= 1 || v >= 1 || s.Width == 0 || s.Height == 0 {
		return 1
	}
	x := int(u * float32(s.Width))
	y := int(v * float32(s.Height))
	return s.Depth[y*s.Width+x]
}

// Visibility is 1 when world is not occluded from the light, 0 otherwise.
func (s *ShadowMap) Visibility(world mgl32.Vec3, bias float32) float32 {
	if s == nil {
		return 1
	}
	u, v, d := s.Project(world)
	if d-bias > s.At(u, v) {
		return 0
	}
	return 1
}
