package gpu

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(t *testing.T, resolution uint32) *octree.VoxelGrid {
	t.Helper()
	p := vct.DefaultParams()
	p.VoxelGridResolution = resolution
	p.VoxelGridSideLengths = mgl32.Vec3{float32(resolution), float32(resolution), float32(resolution)}
	g, err := octree.NewVoxelGrid(p, nil, nil)
	require.NoError(t, err)
	return g
}

func u32(buf []byte, off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }
func f32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func TestPoolLayoutSizes(t *testing.T) {
	l := newPoolLayout(100, 73)
	assert.Equal(t, uint32(9), l.maxTiles)
	assert.Equal(t, uint64(1200), l.fragmentsSize())
	assert.Equal(t, uint64(73*9*4), l.nodesSize())
	assert.Equal(t, uint64(73*4), l.nodeWordsSize())
	assert.Equal(t, uint64((9+73)*4), l.neighboursOffset())
	assert.Equal(t, uint64(73*6*4), l.neighboursSize())
	assert.Equal(t, l.neighboursOffset()+l.neighboursSize(), l.linksSize())
	assert.Equal(t, uint64(73*48), l.valuesSize())
	assert.Equal(t, uint64(73*192), l.bordersSize())
	assert.NoError(t, l.validate())
}

func TestPoolLayoutRejectsOversizedBindings(t *testing.T) {
	// borders are the largest per-node buffer at 192 bytes
	l := newPoolLayout(1, maxBindingSize/nodeBordersSize+1)
	err := l.validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBindingTooLarge))
	assert.Contains(t, err.Error(), "borders")
}

func TestEncodeParams(t *testing.T) {
	g := testGrid(t, 16)
	l := newPoolLayout(g.Params().FragmentCapacity(), g.Params().PoolCapacity())

	buf := encodeParams(g, l, lightParams{})
	require.Len(t, buf, paramsSize)
	assert.Equal(t, uint32(16), u32(buf, 0))
	assert.Equal(t, uint32(5), u32(buf, 4))
	assert.Equal(t, l.fragmentCapacity, u32(buf, 8))
	assert.Equal(t, l.capacity, u32(buf, 12))
	assert.Equal(t, l.maxTiles, u32(buf, 16))
	assert.Equal(t, float32(vct.DefaultShadowBias), f32(buf, 20))
	assert.Equal(t, uint32(0), u32(buf, 24), "no shadow map")
	assert.Equal(t, float32(0), f32(buf, 48), "no light, no radiance")

	// grid_to_world scales by half the side lengths
	assert.Equal(t, float32(8), f32(buf, 128))
	assert.Equal(t, float32(8), f32(buf, 128+5*4))
	assert.Equal(t, float32(8), f32(buf, 128+10*4))
}

func TestEncodeParamsWithLight(t *testing.T) {
	g := testGrid(t, 8)
	l := newPoolLayout(g.Params().FragmentCapacity(), g.Params().PoolCapacity())

	light := core.NewSceneNode("Sun")
	light.Light = core.NewLight(mgl32.Vec3{1, 0.5, 0.25}, 2)
	sm := core.NewShadowMap(4, 4, mgl32.Scale3D(2, 2, 2))

	lp := lightParamsFor(light, sm)
	buf := encodeParams(g, l, lp)
	assert.Equal(t, uint32(1), u32(buf, 24))
	assert.InDelta(t, lp.direction.Len(), 1, 1e-5)
	assert.Equal(t, float32(2), f32(buf, 48))
	assert.Equal(t, float32(1), f32(buf, 52))
	assert.Equal(t, float32(0.5), f32(buf, 56))
	assert.Equal(t, float32(2), f32(buf, 64), "shadow view-projection")
}

func TestControlRoundTrip(t *testing.T) {
	s, err := decodeControl(encodeControl())
	require.NoError(t, err)
	assert.Zero(t, s.fragments)
	assert.Zero(t, s.tiles)
	assert.False(t, s.fragmentOverflow)
	assert.False(t, s.poolOverflow)
	assert.Equal(t, octree.LevelRange{Start: 0, Count: 1}, s.levels[0])
	assert.Equal(t, octree.LevelRange{}, s.levels[1])

	_, err = decodeControl(make([]byte, 8))
	assert.Error(t, err)
}

func TestPoolStatsFromReadback(t *testing.T) {
	l := newPoolLayout(64, 17)
	ctrl := encodeControl()
	binary.LittleEndian.PutUint32(ctrl[0:], 3)  // fragments
	binary.LittleEndian.PutUint32(ctrl[4:], 2)  // tiles
	binary.LittleEndian.PutUint32(ctrl[12:], 1) // pool overflow
	binary.LittleEndian.PutUint32(ctrl[16+8:], 1)
	binary.LittleEndian.PutUint32(ctrl[16+12:], 8)
	binary.LittleEndian.PutUint32(ctrl[16+16:], 9)
	binary.LittleEndian.PutUint32(ctrl[16+20:], 8)
	s, err := decodeControl(ctrl)
	require.NoError(t, err)

	words := make([]byte, l.nodeWordsSize())
	flag := func(n uint32) { binary.LittleEndian.PutUint32(words[n*4:], octree.FlagBit|1) }
	flag(0)
	flag(3)
	flag(12)
	flag(13)

	ps := poolStats(s, words, l, 3)
	assert.Equal(t, uint32(17), ps.Capacity)
	assert.Equal(t, uint32(2), ps.Tiles)
	assert.Equal(t, uint32(17), ps.Nodes)
	assert.Equal(t, []uint32{1, 8, 8}, ps.LevelNodes)
	assert.Equal(t, []uint32{1, 1, 2}, ps.OccupiedNodes)
	assert.True(t, ps.Overflowed)
}

func TestEncodeVerticesDefaults(t *testing.T) {
	m := &core.Mesh{
		Positions: []mgl32.Vec3{{1, 2, 3}},
		Indices:   []uint32{0, 0, 0},
	}
	buf := encodeVertices(m)
	require.Len(t, buf, meshVertexSize)
	assert.Equal(t, float32(1), f32(buf, 0))
	assert.Equal(t, float32(3), f32(buf, 8))
	assert.Equal(t, float32(1), f32(buf, 12), "position w")
	assert.Equal(t, float32(0), f32(buf, 16), "no normal")
	assert.Equal(t, float32(0), f32(buf, 32), "no uv")
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(1), f32(buf, 48+4*i), "white")
	}

	idx := encodeIndices(m)
	assert.Len(t, idx, 12)
}

func TestEncodeMeshParams(t *testing.T) {
	g := testGrid(t, 8)
	node := core.NewSceneNode("Tri")
	node.Mesh = &core.Mesh{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Indices:   []uint32{0, 1, 2},
	}
	buf := encodeMeshParams(g.VoxelMatrix(), node, 8)
	require.Len(t, buf, meshParamsSize)
	// world origin lands at the grid center
	assert.Equal(t, float32(4), f32(buf, 48))
	assert.Equal(t, float32(4), f32(buf, 52))
	assert.Equal(t, float32(4), f32(buf, 56))
	assert.Equal(t, uint32(8), u32(buf, 128))
	assert.Equal(t, uint32(1), u32(buf, 132))
	assert.Equal(t, uint32(1), u32(buf, 136))
}

func TestAlignedRowPitch(t *testing.T) {
	assert.Equal(t, uint32(256), alignedRowPitch(1, 4))
	assert.Equal(t, uint32(256), alignedRowPitch(64, 4))
	assert.Equal(t, uint32(512), alignedRowPitch(65, 4))
}
