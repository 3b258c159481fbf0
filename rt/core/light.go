package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Light is a directional light component. It shines along the owning node's -Z axis.
type Light struct {
	Color     mgl32.Vec3
	Intensity float32
}

func NewLight(color mgl32.Vec3, intensity float32) *Light {
	return &Light{Color: color, Intensity: intensity}
}

// Radiance is Color scaled by Intensity.
func (l *Light) Radiance() mgl32.Vec3 {
	return l.Color.Mul(l.Intensity)
}

// LightDirection returns the normalized world direction the light travels in.
func LightDirection(node *SceneNode) mgl32.Vec3 {
	d := node.World().Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3()
	if d.Len() == 0 {
		return mgl32.Vec3{0, -1, 0}
	}
	return d.Normalize()
}

// DirectionalViewProj builds an orthographic light view-projection that
// covers a sphere of the given radius around center.
func DirectionalViewProj(dir, center mgl32.Vec3, radius float32) mgl32.Mat4 {
	up := mgl32.Vec3{0, 1, 0}
	if abs32(dir.Normalize().Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	eye := center.Sub(dir.Normalize().Mul(2 * radius))
	view := mgl32.LookAtV(eye, center, up)
	proj := mgl32.Ortho(-radius, radius, -radius, radius, 0, 4*radius)
	return proj.Mul4(view)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
