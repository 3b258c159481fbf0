package vct

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumLevels(t *testing.T) {
	tests := []struct {
		resolution, levels uint32
	}{
		{1, 1},
		{2, 2},
		{8, 4},
		{64, 7},
		{1024, 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.levels, NumLevels(tt.resolution), "R=%d", tt.resolution)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.VoxelGridResolution = 48
	assert.ErrorIs(t, p.Validate(), ErrInvalidResolution)

	p = DefaultParams()
	p.VoxelGridResolution = 2048
	assert.ErrorIs(t, p.Validate(), ErrInvalidResolution)

	p = DefaultParams()
	p.VoxelGridSideLengths = mgl32.Vec3{1, 0, 1}
	assert.ErrorIs(t, p.Validate(), ErrInvalidSideLengths)

	// Every problem is reported, not only the first.
	p = Params{VoxelGridResolution: 3, Rebuild: "sometimes"}
	err := p.Validate()
	assert.ErrorIs(t, err, ErrInvalidResolution)
	assert.ErrorIs(t, err, ErrInvalidSideLengths)
	assert.ErrorIs(t, err, ErrInvalidRebuild)
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	data := `{"voxel_grid_resolution": 128, "voxel_grid_sidelengths": [10, 20, 30], "rebuild": "once"}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	p, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(128), p.VoxelGridResolution)
	assert.Equal(t, mgl32.Vec3{10, 20, 30}, p.VoxelGridSideLengths)
	assert.Equal(t, RebuildOnce, p.Rebuild)
	assert.Equal(t, float32(DefaultShadowBias), p.ShadowBias)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"voxel_grid_resolution": 100}`), 0o644))
	_, err = LoadParams(bad)
	assert.ErrorIs(t, err, ErrInvalidResolution)

	_, err = LoadParams(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCapacities(t *testing.T) {
	p := DefaultParams()
	p.VoxelGridResolution = 8
	assert.Equal(t, uint64(1+8+64+512), FullTreeNodes(4))
	assert.Equal(t, uint32(1+8+64+512), p.PoolCapacity())
	assert.Equal(t, uint32(2*8*8*8), p.FragmentCapacity())

	p.NodePoolCapacity = 100
	assert.Equal(t, uint32(100), p.PoolCapacity())

	p = DefaultParams()
	p.VoxelGridResolution = 1024
	assert.Equal(t, uint32(DefaultMaxNodes), p.PoolCapacity())
}
