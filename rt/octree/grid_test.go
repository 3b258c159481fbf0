package octree

import (
	"testing"

	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVoxelGrid(t *testing.T) {
	params := vct.DefaultParams()
	grid, err := NewVoxelGrid(params, nil, core.NewCamera())
	require.NoError(t, err)

	assert.Equal(t, uint32(64), grid.Resolution())
	assert.Equal(t, uint32(7), grid.NumLevels())
	assert.Equal(t, uint32(64), grid.Texture().Size())
	assert.Equal(t, uint32(2*64*64*64), grid.Fragments().Capacity())
	assert.Len(t, grid.Indirect().Levels, 7)
	assert.Equal(t, mgl32.Vec3{25, 25, 25}, grid.Node().Transform.Scale)
}

func TestNewVoxelGridRejectsInvalidParams(t *testing.T) {
	params := vct.DefaultParams()
	params.VoxelGridResolution = 48
	_, err := NewVoxelGrid(params, nil, nil)
	assert.ErrorIs(t, err, vct.ErrInvalidResolution)
}

func TestWorldToVoxel(t *testing.T) {
	params := vct.DefaultParams()
	params.VoxelGridResolution = 8
	params.VoxelGridSideLengths = mgl32.Vec3{16, 16, 16}
	grid, err := NewVoxelGrid(params, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		world, voxel mgl32.Vec3
	}{
		{mgl32.Vec3{0, 0, 0}, mgl32.Vec3{4, 4, 4}},
		{mgl32.Vec3{-8, -8, -8}, mgl32.Vec3{0, 0, 0}},
		{mgl32.Vec3{8, 0, -8}, mgl32.Vec3{8, 4, 0}},
		{mgl32.Vec3{1, 2, 3}, mgl32.Vec3{4.5, 5, 5.5}},
	}
	for _, tt := range tests {
		got := grid.WorldToVoxel(tt.world)
		assert.True(t, got.ApproxEqualThreshold(tt.voxel, 1e-5), "world %v: got %v want %v", tt.world, got, tt.voxel)
		back := grid.VoxelToWorld(got)
		assert.True(t, back.ApproxEqualThreshold(tt.world, 1e-5))
	}

	assert.Equal(t, uint32(8), grid.CellSize(0))
	assert.Equal(t, uint32(1), grid.CellSize(3))
}

func TestTexture3D(t *testing.T) {
	tex := NewTexture3D(4)
	tex.Store(1, 2, 3, 0xff0000ff)
	tex.Store(9, 0, 0, 1)

	assert.Equal(t, uint32(0xff0000ff), tex.Load(1, 2, 3))
	assert.Zero(t, tex.Load(9, 0, 0))
	assert.Equal(t, 1, tex.NonZero())
	assert.Len(t, tex.Slice(3), 16)
	assert.Equal(t, uint32(0xff0000ff), tex.Slice(3)[2*4+1])

	tex.Clear()
	assert.Zero(t, tex.NonZero())
}
