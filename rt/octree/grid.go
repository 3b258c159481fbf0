package octree

import (
	"fmt"

	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// VoxelGrid is the state every pass of the pipeline reads: grid parameters,
// the grid transform node, the render nodes and the GPU-style resources
// (3D texture, fragment list, node pool, indirect buffer).
type VoxelGrid struct {
	params      vct.Params
	resolution  uint32
	numLevels   uint32
	node        *core.SceneNode
	camera      *core.Camera
	renderNodes []*core.SceneNode

	texture   *Texture3D
	fragments *FragmentList
	pool      *NodePool
	indirect  *IndirectBuffer
}

func NewVoxelGrid(params vct.Params, renderNodes []*core.SceneNode, camera *core.Camera) (*VoxelGrid, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("voxel grid: %w", err)
	}
	r := params.VoxelGridResolution
	levels := params.NumLevels()

	// Grid local space is [-1,1]^3, scaled to the side lengths in world space.
	node := core.NewSceneNode("VoxelGrid")
	node.Transform.Scale = params.VoxelGridSideLengths.Mul(0.5)

	return &VoxelGrid{
		params:      params,
		resolution:  r,
		numLevels:   levels,
		node:        node,
		camera:      camera,
		renderNodes: renderNodes,
		texture:     NewTexture3D(r),
		fragments:   NewFragmentList(params.FragmentCapacity()),
		pool:        NewNodePool(params.PoolCapacity(), levels),
		indirect:    NewIndirectBuffer(levels),
	}, nil
}

func (g *VoxelGrid) Params() vct.Params                 { return g.params }
func (g *VoxelGrid) Resolution() uint32                 { return g.resolution }
func (g *VoxelGrid) NumLevels() uint32                  { return g.numLevels }
func (g *VoxelGrid) SideLengths() mgl32.Vec3            { return g.params.VoxelGridSideLengths }
func (g *VoxelGrid) Node() *core.SceneNode              { return g.node }
func (g *VoxelGrid) Camera() *core.Camera               { return g.camera }
func (g *VoxelGrid) RenderNodes() []*core.SceneNode     { return g.renderNodes }
func (g *VoxelGrid) Texture() *Texture3D                { return g.texture }
func (g *VoxelGrid) Fragments() *FragmentList           { return g.fragments }
func (g *VoxelGrid) Pool() *NodePool                    { return g.pool }
func (g *VoxelGrid) Indirect() *IndirectBuffer          { return g.indirect }
func (g *VoxelGrid) SetRenderNodes(n []*core.SceneNode) { g.renderNodes = n }

// GridTransform maps grid local space to world space.
func (g *VoxelGrid) GridTransform() mgl32.Mat4 {
	return g.node.World()
}

// InverseGridTransform maps world space to grid local space.
func (g *VoxelGrid) InverseGridTransform() mgl32.Mat4 {
	return g.node.WorldInverse()
}

// WorldToVoxel maps a world position to continuous voxel coordinates in [0,R).
func (g *VoxelGrid) WorldToVoxel(p mgl32.Vec3) mgl32.Vec3 {
	local := g.InverseGridTransform().Mul4x1(p.Vec4(1)).Vec3()
	return local.Add(mgl32.Vec3{1, 1, 1}).Mul(0.5 * float32(g.resolution))
}

// VoxelMatrix maps world space to continuous voxel coordinates [0,R)^3.
func (g *VoxelGrid) VoxelMatrix() mgl32.Mat4 {
	half := 0.5 * float32(g.resolution)
	localToVoxel := mgl32.Scale3D(half, half, half).Mul4(mgl32.Translate3D(1, 1, 1))
	return localToVoxel.Mul4(g.InverseGridTransform())
}

// VoxelToWorld maps continuous voxel coordinates back to world space.
func (g *VoxelGrid) VoxelToWorld(v mgl32.Vec3) mgl32.Vec3 {
	local := v.Mul(2 / float32(g.resolution)).Sub(mgl32.Vec3{1, 1, 1})
	return g.GridTransform().Mul4x1(local.Vec4(1)).Vec3()
}

// CellSize is the edge length in voxels of a node at the given level.
func (g *VoxelGrid) CellSize(level uint32) uint32 {
	return g.resolution >> level
}

// NodeCenter returns the world position of the center of a node at level.
func (g *VoxelGrid) NodeCenter(node, level uint32) mgl32.Vec3 {
	c := g.pool.Cell(node)
	size := float32(g.CellSize(level))
	v := mgl32.Vec3{
		(float32(c[0]) + 0.5) * size,
		(float32(c[1]) + 0.5) * size,
		(float32(c[2]) + 0.5) * size,
	}
	return g.VoxelToWorld(v)
}
