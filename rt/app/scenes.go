package app

import (
	"fmt"
	"sort"

	"github.com/gekko3d/vct/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

var scenes = map[string]func(half float32) *core.SceneManager{
	"box":     boxScene,
	"sphere":  sphereScene,
	"cornell": cornellScene,
}

func SceneNames() []string {
	names := make([]string, 0, len(scenes))
	for n := range scenes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildScene creates a procedural scene sized to fit a voxel grid with the
// given side lengths, centered at the origin.
func BuildScene(name string, sides mgl32.Vec3) (*core.SceneManager, error) {
	build, ok := scenes[name]
	if !ok {
		return nil, fmt.Errorf("unknown scene %q, want one of %v", name, SceneNames())
	}
	half := 0.5 * min(sides[0], sides[1], sides[2])
	return build(half), nil
}

func meshNode(name string, mesh *core.Mesh, color mgl32.Vec4) *core.SceneNode {
	mesh.Colors = make([]mgl32.Vec4, len(mesh.Positions))
	for i := range mesh.Colors {
		mesh.Colors[i] = color
	}
	n := core.NewSceneNode(name)
	n.Mesh = mesh
	return n
}

// sunNode shines along dir.
func sunNode(dir mgl32.Vec3, intensity float32) *core.SceneNode {
	n := core.NewSceneNode("Sun")
	n.Light = core.NewLight(mgl32.Vec3{1, 1, 1}, intensity)
	n.Transform.Rotation = mgl32.QuatBetweenVectors(mgl32.Vec3{0, 0, -1}, dir.Normalize())
	return n
}

func boxScene(half float32) *core.SceneManager {
	s := core.NewSceneManager()
	box := meshNode("Box", core.NewCube(half), mgl32.Vec4{0.9, 0.9, 0.9, 1})
	box.Transform.Rotation = mgl32.QuatRotate(mgl32.DegToRad(30), mgl32.Vec3{0, 1, 0})
	s.Add(box)
	s.Add(sunNode(mgl32.Vec3{-0.4, -1, -0.3}, 3))
	return s
}

func sphereScene(half float32) *core.SceneManager {
	s := core.NewSceneManager()
	s.Add(meshNode("Sphere", core.NewSphere(0.7*half, 24, 48), mgl32.Vec4{0.8, 0.6, 0.4, 1}))
	s.Add(sunNode(mgl32.Vec3{-0.4, -1, -0.3}, 3))
	return s
}

// cornellScene is a closed room with a red left wall, a green right wall
// and two objects on the floor.
func cornellScene(half float32) *core.SceneManager {
	h := 0.9 * half
	white := mgl32.Vec4{0.8, 0.8, 0.8, 1}
	s := core.NewSceneManager()

	wall := func(name string, color mgl32.Vec4, pos mgl32.Vec3, rot mgl32.Quat) {
		n := meshNode(name, core.NewQuad(2*h), color)
		n.Transform.Position = pos
		n.Transform.Rotation = rot
		s.Add(n)
	}
	x := mgl32.Vec3{1, 0, 0}
	z := mgl32.Vec3{0, 0, 1}
	wall("Floor", white, mgl32.Vec3{0, -h, 0}, mgl32.QuatIdent())
	wall("Ceiling", white, mgl32.Vec3{0, h, 0}, mgl32.QuatRotate(mgl32.DegToRad(180), x))
	wall("Back", white, mgl32.Vec3{0, 0, -h}, mgl32.QuatRotate(mgl32.DegToRad(90), x))
	wall("Left", mgl32.Vec4{0.8, 0.1, 0.1, 1}, mgl32.Vec3{-h, 0, 0}, mgl32.QuatRotate(mgl32.DegToRad(-90), z))
	wall("Right", mgl32.Vec4{0.1, 0.8, 0.1, 1}, mgl32.Vec3{h, 0, 0}, mgl32.QuatRotate(mgl32.DegToRad(90), z))

	box := meshNode("Box", core.NewCube(0.5*h), white)
	box.Transform.Position = mgl32.Vec3{-0.35 * h, -0.75 * h, -0.2 * h}
	box.Transform.Rotation = mgl32.QuatRotate(mgl32.DegToRad(20), mgl32.Vec3{0, 1, 0})
	s.Add(box)

	ball := meshNode("Ball", core.NewSphere(0.3*h, 16, 32), white)
	ball.Transform.Position = mgl32.Vec3{0.4 * h, -0.7 * h, 0.3 * h}
	s.Add(ball)

	s.Add(sunNode(mgl32.Vec3{0.3, -1, -0.2}, 4))
	return s
}
