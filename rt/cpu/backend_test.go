package cpu

import (
	"context"
	"image/color"
	"math"
	"testing"

	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/gekko3d/vct/rt/pass"
	"github.com/gekko3d/vct/rt/svo"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGrid builds a grid whose side length equals its resolution, so a world
// position p lies in voxel p + R/2.
func newGrid(t *testing.T, resolution uint32, mutate ...func(*vct.Params)) *octree.VoxelGrid {
	t.Helper()
	params := vct.DefaultParams()
	params.VoxelGridResolution = resolution
	s := float32(resolution)
	params.VoxelGridSideLengths = mgl32.Vec3{s, s, s}
	for _, m := range mutate {
		m(&params)
	}
	grid, err := octree.NewVoxelGrid(params, nil, core.NewCamera())
	require.NoError(t, err)
	return grid
}

func meshNode(name string, positions []mgl32.Vec3, indices []uint32) *core.SceneNode {
	n := core.NewSceneNode(name)
	n.Mesh = &core.Mesh{Name: name, Positions: positions, Indices: indices}
	return n
}

// quad covers the rectangle [x0,x1]×[y0,y1] at height z, split along its
// diagonal into two triangles.
func quad(x0, x1, y0, y1, z float32) *core.SceneNode {
	return meshNode("quad", []mgl32.Vec3{
		{x0, y0, z}, {x1, y0, z}, {x1, y1, z}, {x0, y1, z},
	}, []uint32{0, 1, 2, 0, 2, 3})
}

func build(t *testing.T, b *Backend, nodes []*core.SceneNode, light *core.SceneNode) error {
	t.Helper()
	stage := svo.NewConstructionStage(light, nodes, b.Grid().Params(), b.Grid(), nil, b)
	return stage.Run(pass.NewContext(context.Background(), 0, nil, nil))
}

func whiteLight(intensity float32) *core.SceneNode {
	n := core.NewSceneNode("sun")
	n.Light = core.NewLight(mgl32.Vec3{1, 1, 1}, intensity)
	return n
}

func assertVec4(t *testing.T, want, got mgl32.Vec4) {
	t.Helper()
	for i := 0; i < 4; i++ {
		assert.InDelta(t, want[i], got[i], 1e-5, "component %d of %v vs %v", i, want, got)
	}
}

func TestSingleFragment(t *testing.T) {
	grid := newGrid(t, 8)
	b := NewBackend(grid, nil)

	// Only the pixel center (4.5, 4.5) of the z=4 slice is covered.
	tri := meshNode("tri", []mgl32.Vec3{
		{0.2, 0.2, 0.5}, {0.9, 0.2, 0.5}, {0.2, 0.9, 0.5},
	}, []uint32{0, 1, 2})

	require.NoError(t, build(t, b, []*core.SceneNode{tri}, whiteLight(2)))

	frags := grid.Fragments()
	require.Equal(t, uint32(1), frags.Count())
	assert.Equal(t, [3]uint32{4, 4, 4}, frags.Position(0))
	assert.NotZero(t, grid.Texture().Load(4, 4, 4))
	assert.Equal(t, 1, grid.Texture().NonZero())

	stats := grid.Pool().Stats()
	assert.Equal(t, []uint32{1, 1, 1, 1}, stats.OccupiedNodes)
	assert.Equal(t, []uint32{1, 8, 8, 8}, stats.LevelNodes)
	assert.Equal(t, uint32(1+3*8), stats.Nodes)

	pool := grid.Pool()
	leaf, ok := pool.Descend([3]uint32{4, 4, 4}, 3)
	require.True(t, ok)
	require.True(t, pool.IsFlagged(leaf))
	assert.Equal(t, [3]uint32{4, 4, 4}, pool.Cell(leaf))

	lv := pool.Value(leaf)
	assertVec4(t, mgl32.Vec4{1, 1, 1, 1}, lv.Color)
	assertVec4(t, mgl32.Vec4{2, 2, 2, 1}, lv.Radiance)

	// Each level up divides by 8: one occupied child out of eight.
	for level := uint32(0); level < 3; level++ {
		node, ok := pool.Descend([3]uint32{4, 4, 4}, level)
		require.True(t, ok)
		scale := float32(math.Pow(8, -float64(3-level)))
		v := pool.Value(node)
		assertVec4(t, lv.Color.Mul(scale), v.Color)
		assertVec4(t, lv.Radiance.Mul(scale), v.Radiance)
	}

	// No neighbours are occupied: every border is half the node's own value.
	for d := octree.Direction(0); d < octree.NumDirections; d++ {
		assertVec4(t, lv.Color.Mul(0.5), pool.Border(leaf, d).Color)
	}
}

func TestZeroFragments(t *testing.T) {
	grid := newGrid(t, 8)
	b := NewBackend(grid, nil)

	// A triangle entirely outside the grid emits nothing.
	outside := meshNode("outside", []mgl32.Vec3{
		{20, 20, 20}, {21, 20, 20}, {20, 21, 20},
	}, []uint32{0, 1, 2})

	require.NoError(t, build(t, b, []*core.SceneNode{outside}, whiteLight(1)))

	assert.Zero(t, grid.Fragments().Count())
	stats := grid.Pool().Stats()
	assert.Equal(t, uint32(1), stats.Nodes)
	assert.Equal(t, uint32(0), stats.Tiles)
	assert.Equal(t, []uint32{1, 0, 0, 0}, stats.LevelNodes)
	assert.Equal(t, []uint32{0, 0, 0, 0}, stats.OccupiedNodes)
	assert.False(t, grid.Pool().IsFlagged(0))
	assert.Equal(t, octree.NodeValue{}, grid.Pool().Value(0))
	assert.Zero(t, grid.Indirect().Fragments.X)
}

func TestAdjacentLeavesShareBorders(t *testing.T) {
	tests := []struct {
		name   string
		x0, x1 float32
		a, b   [3]uint32
	}{
		// Both cells have the same parent.
		{"siblings", 0.1, 1.9, [3]uint32{4, 4, 4}, [3]uint32{5, 4, 4}},
		// The cells sit in different subtrees up to level 1.
		{"across tiles", -0.9, 0.9, [3]uint32{3, 4, 4}, [3]uint32{4, 4, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := newGrid(t, 8)
			b := NewBackend(grid, nil)
			require.NoError(t, build(t, b, []*core.SceneNode{quad(tt.x0, tt.x1, 0.1, 0.9, 0.5)}, whiteLight(1)))
			require.Equal(t, uint32(2), grid.Fragments().Count())

			pool := grid.Pool()
			na, ok := pool.Descend(tt.a, 3)
			require.True(t, ok)
			nb, ok := pool.Descend(tt.b, 3)
			require.True(t, ok)
			require.True(t, pool.IsFlagged(na))
			require.True(t, pool.IsFlagged(nb))

			assert.Equal(t, nb, pool.Neighbour(na, octree.PosX))
			assert.Equal(t, na, pool.Neighbour(nb, octree.NegX))
			assert.Equal(t, pool.Border(na, octree.PosX), pool.Border(nb, octree.NegX))

			va := pool.Value(na)
			assertVec4(t, va.Color, pool.Border(na, octree.PosX).Color)
		})
	}
}

func TestOccupancyMatchesFragments(t *testing.T) {
	grid := newGrid(t, 16)
	b := NewBackend(grid, nil)

	sphere := core.NewSceneNode("sphere")
	sphere.Mesh = core.NewSphere(5, 12, 16)
	require.NoError(t, build(t, b, []*core.SceneNode{sphere}, whiteLight(1)))

	frags := grid.Fragments()
	require.NotZero(t, frags.Count())

	pool := grid.Pool()
	leaf := pool.LeafLevel()
	cells := map[[3]uint32]bool{}
	for i := uint32(0); i < frags.Count(); i++ {
		pos := frags.Position(i)
		cells[pos] = true
		node, ok := pool.Descend(pos, leaf)
		require.True(t, ok, "fragment %v has no leaf", pos)
		require.True(t, pool.IsFlagged(node))
		require.Equal(t, pos, pool.Cell(node))
	}

	stats := pool.Stats()
	assert.Equal(t, uint32(len(cells)), stats.OccupiedNodes[leaf])
	for l := uint32(1); l < pool.NumLevels(); l++ {
		assert.Equal(t, stats.OccupiedNodes[l-1]*octree.TileSize, stats.LevelNodes[l], "level %d", l)
	}

	// Occupancy of the root equals the fraction of occupied leaves.
	root := pool.Value(0)
	want := float64(len(cells)) / math.Pow(8, float64(leaf))
	assert.InDelta(t, want, root.Color[3], 1e-5)
}

func TestRebuildIsIdempotent(t *testing.T) {
	grid := newGrid(t, 16)
	b := NewBackend(grid, nil)

	cube := core.NewSceneNode("cube")
	cube.Mesh = core.NewCube(6)
	stage := svo.NewConstructionStage(whiteLight(1), []*core.SceneNode{cube}, grid.Params(), grid, nil, b)

	require.NoError(t, stage.Run(pass.NewContext(context.Background(), 0, nil, nil)))
	first := grid.Pool().Stats()
	firstRoot := grid.Pool().Value(0)

	require.NoError(t, stage.Run(pass.NewContext(context.Background(), 1, nil, nil)))
	assert.Equal(t, first, grid.Pool().Stats())
	assert.Equal(t, firstRoot, grid.Pool().Value(0))
}

func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	run := func(workers int) (octree.PoolStats, octree.NodeValue) {
		grid := newGrid(t, 32)
		b := NewBackend(grid, nil)
		b.SetWorkers(workers)
		sphere := core.NewSceneNode("sphere")
		sphere.Mesh = core.NewSphere(10, 16, 24)
		require.NoError(t, build(t, b, []*core.SceneNode{sphere}, whiteLight(1)))
		return grid.Pool().Stats(), grid.Pool().Value(0)
	}

	s1, v1 := run(1)
	s8, v8 := run(8)
	assert.Equal(t, s1.OccupiedNodes, s8.OccupiedNodes)
	assert.Equal(t, s1.LevelNodes, s8.LevelNodes)
	assertVec4(t, v1.Color, v8.Color)
}

func TestNodePoolOverflow(t *testing.T) {
	// Room for the root and a single tile.
	grid := newGrid(t, 8, func(p *vct.Params) { p.NodePoolCapacity = 1 + octree.TileSize })
	b := NewBackend(grid, nil)

	err := build(t, b, []*core.SceneNode{quad(-2.9, 2.9, -2.9, 2.9, 0.5)}, whiteLight(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, octree.ErrCapacityExceeded)
	assert.True(t, grid.Pool().Overflowed())
}

func TestModifyIndirectBuffer(t *testing.T) {
	grid := newGrid(t, 8)
	b := NewBackend(grid, nil)
	ctx := context.Background()

	require.NoError(t, b.Clear(ctx))
	for i := 0; i < 65; i++ {
		_, ok := grid.Fragments().Append(octree.PackPosition(1, 2, 3), 0, 0)
		require.True(t, ok)
	}
	require.NoError(t, b.ModifyIndirectBuffer(ctx))
	assert.Equal(t, octree.DispatchArgs{X: 2, Y: 1, Z: 1}, grid.Indirect().Fragments)
}

func TestLightInjectionFacingAway(t *testing.T) {
	grid := newGrid(t, 8)
	b := NewBackend(grid, nil)

	// The light travels along -Z; a +Z facing triangle is lit, so flip it.
	tri := meshNode("tri", []mgl32.Vec3{
		{0.2, 0.2, 0.5}, {0.2, 0.9, 0.5}, {0.9, 0.2, 0.5},
	}, []uint32{0, 1, 2})

	require.NoError(t, build(t, b, []*core.SceneNode{tri}, whiteLight(3)))
	leaf, ok := grid.Pool().Descend([3]uint32{4, 4, 4}, 3)
	require.True(t, ok)
	v := grid.Pool().Value(leaf)
	assertVec4(t, mgl32.Vec4{0, 0, 0, 1}, v.Radiance)
}

func TestShadowMapOccludes(t *testing.T) {
	grid := newGrid(t, 32)
	b := NewBackend(grid, nil)

	floor := core.NewSceneNode("floor")
	floor.Mesh = core.NewQuad(20)

	sun := whiteLight(1)
	sun.Transform.Rotation = mgl32.QuatRotate(-math.Pi/2, mgl32.Vec3{1, 0, 0})
	assert.InDelta(t, -1, core.LightDirection(sun).Y(), 1e-5)

	sm, err := b.RenderShadowMap(context.Background(), []*core.SceneNode{floor}, sun, 64)
	require.NoError(t, err)

	covered := 0
	for _, d := range sm.Depth {
		if d < 1 {
			covered++
		}
	}
	assert.NotZero(t, covered)

	bias := grid.Params().ShadowBias
	assert.Equal(t, float32(1), sm.Visibility(mgl32.Vec3{3, 5, 1}, bias))
	assert.Equal(t, float32(0), sm.Visibility(mgl32.Vec3{3, -5, 1}, bias))
	// Outside the floor nothing occludes.
	assert.Equal(t, float32(1), sm.Visibility(mgl32.Vec3{15, -5, 1}, bias))
}

func TestVoxelizeSamplesDiffuseTexture(t *testing.T) {
	grid := newGrid(t, 8)
	b := NewBackend(grid, nil)

	tri := meshNode("tri", []mgl32.Vec3{
		{0.2, 0.2, 0.5}, {0.9, 0.2, 0.5}, {0.2, 0.9, 0.5},
	}, []uint32{0, 1, 2})
	tri.Mesh.UVs = []mgl32.Vec2{{0.1, 0.1}, {0.2, 0.1}, {0.1, 0.2}}
	tri.Textures = &core.TexturesComponent{Textures: []*core.Texture{
		core.NewSolidTexture("red", color.RGBA{R: 255, A: 255}),
	}}

	require.NoError(t, build(t, b, []*core.SceneNode{tri}, whiteLight(1)))
	require.Equal(t, uint32(1), grid.Fragments().Count())

	c := octree.UnpackRGBA8(grid.Texture().Load(4, 4, 4))
	assertVec4(t, mgl32.Vec4{1, 0, 0, 1}, c)
}

func TestSharedEdgeEmitsOnce(t *testing.T) {
	tests := []struct {
		name    string
		indices []uint32
	}{
		{"same winding", []uint32{0, 1, 2, 0, 2, 3}},
		{"mixed winding", []uint32{0, 1, 2, 0, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := newGrid(t, 8)
			b := NewBackend(grid, nil)

			// The diagonal runs through the pixel centers of the z=4 slice.
			q := meshNode("quad", []mgl32.Vec3{
				{-4, -4, 0.5}, {4, -4, 0.5}, {4, 4, 0.5}, {-4, 4, 0.5},
			}, tt.indices)
			require.NoError(t, b.Voxelize(context.Background(), []*core.SceneNode{q}))

			frags := grid.Fragments()
			assert.Equal(t, uint32(64), frags.Count())
			assert.Equal(t, int(frags.Count()), grid.Texture().NonZero())
		})
	}
}

func TestClearTwiceEqualsClearOnce(t *testing.T) {
	grid := newGrid(t, 16)
	b := NewBackend(grid, nil)
	ctx := context.Background()

	cube := core.NewSceneNode("cube")
	cube.Mesh = core.NewCube(6)
	require.NoError(t, build(t, b, []*core.SceneNode{cube}, whiteLight(1)))
	require.NotZero(t, grid.Texture().NonZero())

	snapshot := func() (octree.PoolStats, uint32, [][]uint32) {
		slices := make([][]uint32, grid.Resolution())
		for z := range slices {
			slices[z] = grid.Texture().Slice(uint32(z))
		}
		return grid.Pool().Stats(), grid.Fragments().Count(), slices
	}

	require.NoError(t, b.Clear(ctx))
	require.NoError(t, b.ClearNeighbours(ctx))
	onceStats, onceFrags, onceTex := snapshot()

	require.NoError(t, b.Clear(ctx))
	require.NoError(t, b.ClearNeighbours(ctx))
	twiceStats, twiceFrags, twiceTex := snapshot()

	assert.Equal(t, onceStats, twiceStats)
	assert.Equal(t, onceFrags, twiceFrags)
	assert.Equal(t, onceTex, twiceTex)
	assert.Zero(t, twiceFrags)
	assert.Zero(t, grid.Texture().NonZero())
	assert.Equal(t, uint32(1), twiceStats.Nodes)
	assert.Equal(t, octree.NodeValue{}, grid.Pool().Value(0))
}
