package octree

import "encoding/binary"

// WorkgroupSize is the number of invocations per workgroup for every
// one-dimensional dispatch of the pipeline.
const WorkgroupSize = 64

// DispatchArgs mirrors the three u32 of an indirect compute dispatch.
type DispatchArgs struct {
	X, Y, Z uint32
}

// ArgsFor sizes a dispatch for n invocations. Zero work yields zero workgroups.
func ArgsFor(n uint32) DispatchArgs {
	if n == 0 {
		return DispatchArgs{X: 0, Y: 1, Z: 1}
	}
	return DispatchArgs{X: (n + WorkgroupSize - 1) / WorkgroupSize, Y: 1, Z: 1}
}

func (a DispatchArgs) Workgroups() uint32 {
	return a.X * a.Y * a.Z
}

func (a DispatchArgs) Invocations() uint32 {
	return a.Workgroups() * WorkgroupSize
}

// IndirectBuffer holds the dispatch arguments of every data-dependent pass:
// one command sized by the fragment count and one per octree level sized by
// that level's node count.
type IndirectBuffer struct {
	Fragments DispatchArgs
	Levels    []DispatchArgs
}

func NewIndirectBuffer(numLevels uint32) *IndirectBuffer {
	b := &IndirectBuffer{Levels: make([]DispatchArgs, numLevels)}
	b.Reset()
	return b
}

// Reset zeroes all commands except level 0, which always holds the root.
func (b *IndirectBuffer) Reset() {
	b.Fragments = ArgsFor(0)
	for i := range b.Levels {
		b.Levels[i] = ArgsFor(0)
	}
	if len(b.Levels) > 0 {
		b.Levels[0] = ArgsFor(1)
	}
}

func (b *IndirectBuffer) SetFragments(count uint32) {
	b.Fragments = ArgsFor(count)
}

func (b *IndirectBuffer) SetLevel(level, nodes uint32) {
	if int(level) < len(b.Levels) {
		b.Levels[level] = ArgsFor(nodes)
	}
}

func (b *IndirectBuffer) Level(level uint32) DispatchArgs {
	if int(level) >= len(b.Levels) {
		return ArgsFor(0)
	}
	return b.Levels[level]
}

// Bytes returns the GPU layout: fragments command first, then one command per level.
func (b *IndirectBuffer) Bytes() []byte {
	out := make([]byte, 0, 12*(1+len(b.Levels)))
	put := func(a DispatchArgs) {
		out = binary.LittleEndian.AppendUint32(out, a.X)
		out = binary.LittleEndian.AppendUint32(out, a.Y)
		out = binary.LittleEndian.AppendUint32(out, a.Z)
	}
	put(b.Fragments)
	for _, a := range b.Levels {
		put(a)
	}
	return out
}

// FragmentArgsOffset and LevelArgsOffset locate commands inside Bytes.
func FragmentArgsOffset() uint64 {
	return 0
}

func LevelArgsOffset(level uint32) uint64 {
	return 12 * uint64(1+level)
}
