package core

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// SceneNode is an element of the scene hierarchy. Components are optional;
// a node with a Mesh is renderable, a node with a Light is a light source.
type SceneNode struct {
	ID        uuid.UUID
	Name      string
	Transform *Transform
	Mesh      *Mesh
	Textures  *TexturesComponent
	Light     *Light

	parent   *SceneNode
	children []*SceneNode
}

func NewSceneNode(name string) *SceneNode {
	return &SceneNode{
		ID:        uuid.New(),
		Name:      name,
		Transform: NewTransform(),
	}
}

func (n *SceneNode) Parent() *SceneNode {
	return n.parent
}

func (n *SceneNode) Children() []*SceneNode {
	return n.children
}

// AddChild reparents child under n.
func (n *SceneNode) AddChild(child *SceneNode) {
	if child == nil || child == n {
		return
	}
	if child.parent != nil {
		child.parent.RemoveChild(child)
	}
	child.parent = n
	n.children = append(n.children, child)
}

func (n *SceneNode) RemoveChild(child *SceneNode) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// World returns the node's local-to-world matrix, composed through its parents.
func (n *SceneNode) World() mgl32.Mat4 {
	m := n.Transform.Matrix()
	for p := n.parent; p != nil; p = p.parent {
		m = p.Transform.Matrix().Mul4(m)
	}
	return m
}

// WorldInverse returns the world-to-local matrix.
func (n *SceneNode) WorldInverse() mgl32.Mat4 {
	m := n.Transform.Inverse()
	for p := n.parent; p != nil; p = p.parent {
		m = m.Mul4(p.Transform.Inverse())
	}
	return m
}

// WorldNormal returns the matrix that takes object normals to world space.
func (n *SceneNode) WorldNormal() mgl32.Mat3 {
	return n.WorldInverse().Mat3().Transpose()
}

// Walk visits n and its descendants depth first. Returning false prunes the subtree.
func (n *SceneNode) Walk(fn func(*SceneNode) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}
