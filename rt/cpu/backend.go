package cpu

import (
	"context"
	"runtime"

	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/gekko3d/vct/rt/svo"
	"golang.org/x/sync/errgroup"
)

// Backend runs every pass of the octree pipeline on the CPU. Each pass is a
// dispatch of workgroups over goroutines with no ordering between
// invocations; returning from a dispatch is the barrier between passes.
type Backend struct {
	grid    *octree.VoxelGrid
	logger  vct.Logger
	workers int
}

var _ svo.Backend = (*Backend)(nil)
var _ svo.StatsReporter = (*Backend)(nil)

func NewBackend(grid *octree.VoxelGrid, logger vct.Logger) *Backend {
	return &Backend{
		grid:    grid,
		logger:  vct.LoggerOrNop(logger),
		workers: runtime.GOMAXPROCS(0),
	}
}

// SetWorkers bounds the number of goroutines a dispatch uses.
func (b *Backend) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	b.workers = n
}

func (b *Backend) Name() string {
	return "cpu"
}

func (b *Backend) Grid() *octree.VoxelGrid {
	return b.grid
}

func (b *Backend) Stats(ctx context.Context) (svo.Stats, error) {
	return svo.Stats{
		Fragments:           b.grid.Fragments().Count(),
		FragmentsOverflowed: b.grid.Fragments().Overflowed(),
		Pool:                b.grid.Pool().Stats(),
	}, nil
}

// dispatch runs kernel once per invocation of args. Kernels bound-check
// their invocation id against the real work size, as compute shaders do.
func (b *Backend) dispatch(ctx context.Context, args octree.DispatchArgs, kernel func(id uint32)) error {
	groups := args.Workgroups()
	if groups == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	chunk := max(groups/uint32(4*b.workers), 1)
	for start := uint32(0); start < groups; start += chunk {
		first, last := start, min(start+chunk, groups)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for wg := first; wg < last; wg++ {
				base := wg * octree.WorkgroupSize
				for i := uint32(0); i < octree.WorkgroupSize; i++ {
					kernel(base + i)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
