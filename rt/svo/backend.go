package svo

import (
	"context"
	"fmt"

	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
)

// Backend executes the individual passes of the octree pipeline against the
// voxel grid it was created for. Each call is one complete pass: when it
// returns, its writes are visible to the next call.
type Backend interface {
	Name() string

	Clear(ctx context.Context) error
	ClearNeighbours(ctx context.Context) error
	Voxelize(ctx context.Context, nodes []*core.SceneNode) error
	ModifyIndirectBuffer(ctx context.Context) error

	Flag(ctx context.Context, level uint32) error
	Allocate(ctx context.Context, level uint32) error
	NeighbourPointers(ctx context.Context, level uint32) error

	WriteLeafNodes(ctx context.Context) error
	LightInjection(ctx context.Context, light *core.SceneNode, shadow *core.ShadowMap) error

	OctreeMipmap(ctx context.Context, level uint32) error
	BorderTransfer(ctx context.Context, level uint32) error
}

// Stats is the outcome of one frame, as far as a backend can report it.
type Stats struct {
	Fragments           uint32           `json:"fragments"`
	FragmentsOverflowed bool             `json:"fragments_overflowed"`
	Pool                octree.PoolStats `json:"pool"`
}

// Err reports a capacity overflow recorded during the frame.
func (s Stats) Err() error {
	if s.FragmentsOverflowed {
		return fmt.Errorf("fragment list: %w", octree.ErrCapacityExceeded)
	}
	if s.Pool.Overflowed {
		return fmt.Errorf("node pool: %w", octree.ErrCapacityExceeded)
	}
	return nil
}

// StatsReporter is implemented by backends that can read their results back.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}
