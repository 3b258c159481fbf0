package core

import "github.com/google/uuid"

// SceneManager owns the root of the node hierarchy.
type SceneManager struct {
	root *SceneNode
}

func NewSceneManager() *SceneManager {
	return &SceneManager{root: NewSceneNode("root")}
}

func (s *SceneManager) Root() *SceneNode {
	return s.root
}

func (s *SceneManager) Add(node *SceneNode) {
	s.root.AddChild(node)
}

// RenderNodes returns every node that carries a mesh, in hierarchy order.
func (s *SceneManager) RenderNodes() []*SceneNode {
	var out []*SceneNode
	s.root.Walk(func(n *SceneNode) bool {
		if n.Mesh != nil {
			out = append(out, n)
		}
		return true
	})
	return out
}

// LightNodes returns every node that carries a light.
func (s *SceneManager) LightNodes() []*SceneNode {
	var out []*SceneNode
	s.root.Walk(func(n *SceneNode) bool {
		if n.Light != nil {
			out = append(out, n)
		}
		return true
	})
	return out
}

func (s *SceneManager) Find(id uuid.UUID) *SceneNode {
	var found *SceneNode
	s.root.Walk(func(n *SceneNode) bool {
		if found != nil {
			return false
		}
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}
