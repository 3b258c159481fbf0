package cpu

import (
	"context"
	"fmt"

	"github.com/gekko3d/vct/rt/octree"
)

func (b *Backend) Clear(ctx context.Context) error {
	b.grid.Pool().Reset()
	b.grid.Fragments().Reset()
	b.grid.Texture().Clear()
	b.grid.Indirect().Reset()
	return nil
}

func (b *Backend) ClearNeighbours(ctx context.Context) error {
	b.grid.Pool().ResetNeighbours()
	return nil
}

func (b *Backend) ModifyIndirectBuffer(ctx context.Context) error {
	count := b.grid.Fragments().Count()
	b.grid.Indirect().SetFragments(count)
	b.logger.Debugf("modify indirect buffer: %d fragments, %d workgroups", count, b.grid.Indirect().Fragments.X)
	return nil
}

// Flag descends from the root along every fragment's path and flags the
// node it reaches at level.
func (b *Backend) Flag(ctx context.Context, level uint32) error {
	pool := b.grid.Pool()
	frags := b.grid.Fragments()
	count := frags.Count()

	return b.dispatch(ctx, b.grid.Indirect().Fragments, func(id uint32) {
		if id >= count {
			return
		}
		if node, ok := pool.Descend(frags.Position(id), level); ok {
			pool.Flag(node)
		}
	})
}

// Allocate reserves a child tile for every flagged node of level, then
// publishes the reserved tiles as level+1 and sizes its dispatch.
func (b *Backend) Allocate(ctx context.Context, level uint32) error {
	pool := b.grid.Pool()
	if level >= pool.LeafLevel() {
		return nil
	}
	r := pool.Level(level)

	err := b.dispatch(ctx, b.grid.Indirect().Level(level), func(id uint32) {
		if id >= r.Count {
			return
		}
		node := r.Start + id
		if !pool.IsFlagged(node) || pool.Child(node) != octree.NoNode {
			return
		}
		if base, ok := pool.ReserveTile(); ok {
			pool.LinkChildren(node, base)
		}
	})
	if err != nil {
		return err
	}

	next := pool.CommitLevel(level)
	b.grid.Indirect().SetLevel(level+1, next.Count)
	b.logger.Debugf("allocate L%d: %d nodes at level %d", level, next.Count, level+1)
	if err := pool.Err(); err != nil {
		return fmt.Errorf("allocate level %d: %w", level, err)
	}
	return nil
}

// NeighbourPointers resolves, for every node created by Allocate(level), its
// cell coordinate and its six same-level neighbours. A neighbour inside the
// same tile is a sibling; otherwise it is a child of the parent's neighbour.
func (b *Backend) NeighbourPointers(ctx context.Context, level uint32) error {
	pool := b.grid.Pool()
	child := level + 1
	if child >= pool.NumLevels() {
		return nil
	}
	r := pool.Level(child)

	return b.dispatch(ctx, b.grid.Indirect().Level(child), func(id uint32) {
		if id >= r.Count {
			return
		}
		node := r.Start + id
		parent, oct := pool.Parent(node)
		off := octree.OctantOffset(oct)
		pc := pool.Cell(parent)
		pool.SetCell(node, [3]uint32{2*pc[0] + off[0], 2*pc[1] + off[1], 2*pc[2] + off[2]})
		pool.SetNeighbours(node, neighboursOf(pool, node, parent, oct))
	})
}

func neighboursOf(pool *octree.NodePool, node, parent, oct uint32) [octree.NumDirections]uint32 {
	var out [octree.NumDirections]uint32
	tile := node - oct
	off := octree.OctantOffset(oct)
	for d := octree.Direction(0); d < octree.NumDirections; d++ {
		a := d.Axis()
		bit := uint32(1) << a
		inside := (d.Positive() && off[a] == 0) || (!d.Positive() && off[a] == 1)
		if inside {
			out[d] = tile + (oct ^ bit)
			continue
		}
		pn := pool.Neighbour(parent, d)
		if pn == octree.NoNode {
			continue
		}
		if base := pool.Child(pn); base != octree.NoNode {
			out[d] = base + (oct ^ bit)
		}
	}
	return out
}
