package vct

import (
	"errors"
	"fmt"
	"math/bits"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"go.uber.org/multierr"
)

const (
	// MaxResolution is bounded by the 10 bits per axis of a packed fragment position.
	MaxResolution = 1024

	// DefaultMaxNodes caps the node pool when a full tree would not fit.
	DefaultMaxNodes = 1 << 22

	DefaultShadowBias = 0.005
)

var (
	ErrInvalidResolution  = errors.New("voxel grid resolution must be a power of two in [1, 1024]")
	ErrInvalidSideLengths = errors.New("voxel grid side lengths must be positive")
	ErrInvalidRebuild     = errors.New("rebuild must be \"every-frame\" or \"once\"")
)

type RebuildPolicy string

const (
	RebuildEveryFrame RebuildPolicy = "every-frame"
	RebuildOnce       RebuildPolicy = "once"
)

// Params configures the voxel grid and the octree built over it.
type Params struct {
	VoxelGridResolution  uint32        `json:"voxel_grid_resolution"`
	VoxelGridSideLengths mgl32.Vec3    `json:"voxel_grid_sidelengths"`
	NodePoolCapacity     uint32        `json:"node_pool_capacity,omitempty"`
	ShadowBias           float32       `json:"shadow_bias,omitempty"`
	Rebuild              RebuildPolicy `json:"rebuild,omitempty"`
}

func DefaultParams() Params {
	return Params{
		VoxelGridResolution:  64,
		VoxelGridSideLengths: mgl32.Vec3{50, 50, 50},
		ShadowBias:           DefaultShadowBias,
		Rebuild:              RebuildEveryFrame,
	}
}

// LoadParams reads a JSON parameter file. Missing fields keep their defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read params %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode params %s: %w", path, err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid params %s: %w", path, err)
	}
	return p, nil
}

func (p *Params) applyDefaults() {
	if p.ShadowBias == 0 {
		p.ShadowBias = DefaultShadowBias
	}
	if p.Rebuild == "" {
		p.Rebuild = RebuildEveryFrame
	}
}

func (p Params) Validate() error {
	var err error
	r := p.VoxelGridResolution
	if r == 0 || r > MaxResolution || r&(r-1) != 0 {
		err = multierr.Append(err, fmt.Errorf("%w: got %d", ErrInvalidResolution, r))
	}
	for i := 0; i < 3; i++ {
		if p.VoxelGridSideLengths[i] <= 0 {
			err = multierr.Append(err, fmt.Errorf("%w: got %v", ErrInvalidSideLengths, p.VoxelGridSideLengths))
			break
		}
	}
	switch p.Rebuild {
	case "", RebuildEveryFrame, RebuildOnce:
	default:
		err = multierr.Append(err, fmt.Errorf("%w: got %q", ErrInvalidRebuild, p.Rebuild))
	}
	return err
}

// NumLevels is log2(resolution)+1. Only meaningful for valid params.
func (p Params) NumLevels() uint32 {
	return NumLevels(p.VoxelGridResolution)
}

func NumLevels(resolution uint32) uint32 {
	if resolution == 0 {
		return 0
	}
	return uint32(bits.Len32(resolution))
}

// FullTreeNodes is the node count of a complete octree with the given depth:
// the root plus one tile of 8 for every node above the leaf level.
func FullTreeNodes(numLevels uint32) uint64 {
	total := uint64(1)
	perLevel := uint64(1)
	for l := uint32(1); l < numLevels; l++ {
		perLevel *= 8
		total += perLevel
	}
	return total
}

// PoolCapacity returns the configured node pool capacity or the default for the grid.
func (p Params) PoolCapacity() uint32 {
	if p.NodePoolCapacity > 0 {
		return p.NodePoolCapacity
	}
	full := FullTreeNodes(p.NumLevels())
	if full > DefaultMaxNodes {
		return DefaultMaxNodes
	}
	return uint32(full)
}

// FragmentCapacity is the worst case fragment count, 2·R³.
func (p Params) FragmentCapacity() uint32 {
	r := uint64(p.VoxelGridResolution)
	c := 2 * r * r * r
	if c > 1<<31 {
		return 1 << 31
	}
	return uint32(c)
}
