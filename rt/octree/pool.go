package octree

import (
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// NoNode marks an unallocated child or a missing neighbour. Node 0 is the
	// root, which is never a child or a neighbour of anything.
	NoNode uint32 = 0

	// FlagBit is set on a node that contains at least one voxel fragment.
	FlagBit uint32 = 1 << 31

	// ChildMask extracts the child tile base from a node word.
	ChildMask uint32 = FlagBit - 1

	// TileSize is the number of children reserved per subdivided node.
	TileSize uint32 = 8
)

// Direction indexes the six neighbour pointers of a node.
type Direction uint32

const (
	PosX Direction = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
	NumDirections
)

func (d Direction) Axis() int {
	return int(d) / 2
}

func (d Direction) Positive() bool {
	return d%2 == 0
}

func (d Direction) Opposite() Direction {
	return d ^ 1
}

func (d Direction) String() string {
	return [...]string{"+X", "-X", "+Y", "-Y", "+Z", "-Z"}[d]
}

// NodeValue is the payload stored per node: filtered albedo, normal and
// injected radiance. Alpha of Color carries occupancy.
type NodeValue struct {
	Color    mgl32.Vec4
	Normal   mgl32.Vec4
	Radiance mgl32.Vec4
}

func (v NodeValue) Add(o NodeValue) NodeValue {
	return NodeValue{
		Color:    v.Color.Add(o.Color),
		Normal:   v.Normal.Add(o.Normal),
		Radiance: v.Radiance.Add(o.Radiance),
	}
}

func (v NodeValue) Scale(f float32) NodeValue {
	return NodeValue{
		Color:    v.Color.Mul(f),
		Normal:   v.Normal.Mul(f),
		Radiance: v.Radiance.Mul(f),
	}
}

// BorderValue is the value on one face of a node, shared with the neighbour across it.
type BorderValue struct {
	Color    mgl32.Vec4
	Radiance mgl32.Vec4
}

// LevelRange is the contiguous span of node indices belonging to one level.
type LevelRange struct {
	Start, Count uint32
}

func (r LevelRange) End() uint32 {
	return r.Start + r.Count
}

// NodePool is the octree arena. Node words are preallocated for the whole
// capacity so that concurrent Allocate invocations never grow a slice; the
// per-node payload is grown serially between passes as levels are committed.
type NodePool struct {
	capacity  uint32
	numLevels uint32
	maxTiles  uint32

	next       []atomic.Uint32
	tileParent []uint32
	tiles      atomic.Uint32
	overflow   atomic.Bool
	highWater  uint32

	levels []LevelRange

	neighbours [][NumDirections]uint32
	cells      []uint32
	values     []NodeValue
	borders    [][NumDirections]BorderValue
}

func NewNodePool(capacity, numLevels uint32) *NodePool {
	if capacity < 1 {
		capacity = 1
	}
	maxTiles := (capacity - 1) / TileSize
	p := &NodePool{
		capacity:   capacity,
		numLevels:  numLevels,
		maxTiles:   maxTiles,
		next:       make([]atomic.Uint32, capacity),
		tileParent: make([]uint32, maxTiles),
		levels:     make([]LevelRange, numLevels),
		highWater:  1,
	}
	p.Reset()
	p.ResetNeighbours()
	return p
}

func (p *NodePool) Capacity() uint32  { return p.capacity }
func (p *NodePool) NumLevels() uint32 { return p.numLevels }
func (p *NodePool) LeafLevel() uint32 { return p.numLevels - 1 }

// Reset empties the pool down to an unflagged root. Neighbour data is left
// alone; see ResetNeighbours.
func (p *NodePool) Reset() {
	hw := min(max(p.highWater, p.NodeCount()), p.capacity)
	for i := uint32(0); i < hw; i++ {
		p.next[i].Store(0)
	}
	p.highWater = 1
	p.tiles.Store(0)
	p.overflow.Store(false)
	for i := range p.levels {
		p.levels[i] = LevelRange{}
	}
	if len(p.levels) > 0 {
		p.levels[0] = LevelRange{Start: 0, Count: 1}
	}
	p.values = append(p.values[:0], NodeValue{})
	p.cells = append(p.cells[:0], 0)
}

// ResetNeighbours drops every neighbour pointer and border value.
func (p *NodePool) ResetNeighbours() {
	var none [NumDirections]uint32
	p.neighbours = append(p.neighbours[:0], none)
	p.borders = append(p.borders[:0], [NumDirections]BorderValue{})
}

// ReserveTile atomically reserves TileSize consecutive node slots and returns
// the first one. Concurrent callers always receive disjoint tiles; together
// they cover a contiguous range starting right after the root.
func (p *NodePool) ReserveTile() (uint32, bool) {
	t := p.tiles.Add(1) - 1
	if t >= p.maxTiles {
		p.overflow.Store(true)
		return NoNode, false
	}
	return 1 + t*TileSize, true
}

// Flag marks node as containing fragments.
func (p *NodePool) Flag(node uint32) {
	p.next[node].Or(FlagBit)
}

func (p *NodePool) IsFlagged(node uint32) bool {
	return p.next[node].Load()&FlagBit != 0
}

// Child returns the base of node's child tile, or NoNode.
func (p *NodePool) Child(node uint32) uint32 {
	return p.next[node].Load() & ChildMask
}

func (p *NodePool) Word(node uint32) uint32 {
	return p.next[node].Load()
}

// LinkChildren records base as node's child tile. One invocation per node calls it.
func (p *NodePool) LinkChildren(node, base uint32) {
	p.next[node].Or(base & ChildMask)
	p.tileParent[(base-1)/TileSize] = node
}

// Parent returns the parent of a non-root node and its octant within the parent's tile.
func (p *NodePool) Parent(node uint32) (parent, octant uint32) {
	if node == NoNode {
		return NoNode, 0
	}
	return p.tileParent[(node-1)/TileSize], (node - 1) % TileSize
}

func (p *NodePool) TileCount() uint32 {
	return min(p.tiles.Load(), p.maxTiles)
}

// NodeCount is the number of slots in use, root included.
func (p *NodePool) NodeCount() uint32 {
	return 1 + p.TileCount()*TileSize
}

func (p *NodePool) Overflowed() bool {
	return p.overflow.Load()
}

func (p *NodePool) Err() error {
	if p.Overflowed() {
		return fmt.Errorf("node pool: %d tiles requested, %d available: %w", p.tiles.Load(), p.maxTiles, ErrCapacityExceeded)
	}
	return nil
}

func (p *NodePool) Level(level uint32) LevelRange {
	if level >= p.numLevels {
		return LevelRange{}
	}
	return p.levels[level]
}

// CommitLevel publishes the nodes reserved by allocating level as level+1
// and grows the payload arrays to cover them. It must run after every
// allocation of that level has completed.
func (p *NodePool) CommitLevel(level uint32) LevelRange {
	if level+1 >= p.numLevels {
		return LevelRange{}
	}
	start := p.levels[level].End()
	count := p.NodeCount() - start
	r := LevelRange{Start: start, Count: count}
	p.levels[level+1] = r
	p.grow(p.NodeCount())
	return r
}

func (p *NodePool) grow(n uint32) {
	if n > p.highWater {
		p.highWater = n
	}
	var none [NumDirections]uint32
	for uint32(len(p.values)) < n {
		p.values = append(p.values, NodeValue{})
	}
	for uint32(len(p.cells)) < n {
		p.cells = append(p.cells, 0)
	}
	for uint32(len(p.neighbours)) < n {
		p.neighbours = append(p.neighbours, none)
	}
	for uint32(len(p.borders)) < n {
		p.borders = append(p.borders, [NumDirections]BorderValue{})
	}
}

// Descend walks from the root towards voxel coordinate pos and returns the
// node at the requested level, or false when the path is not allocated.
func (p *NodePool) Descend(pos [3]uint32, level uint32) (uint32, bool) {
	node := uint32(0)
	for depth := uint32(0); depth < level; depth++ {
		base := p.Child(node)
		if base == NoNode {
			return NoNode, false
		}
		node = base + Octant(pos, depth, p.numLevels)
	}
	return node, true
}

func (p *NodePool) Neighbour(node uint32, d Direction) uint32 {
	return p.neighbours[node][d]
}

func (p *NodePool) Neighbours(node uint32) [NumDirections]uint32 {
	return p.neighbours[node]
}

func (p *NodePool) SetNeighbours(node uint32, n [NumDirections]uint32) {
	p.neighbours[node] = n
}

// Cell returns the node's integer coordinate within its level's grid.
func (p *NodePool) Cell(node uint32) [3]uint32 {
	return UnpackPosition(p.cells[node])
}

func (p *NodePool) SetCell(node uint32, c [3]uint32) {
	p.cells[node] = PackPosition(c[0], c[1], c[2])
}

func (p *NodePool) Value(node uint32) NodeValue {
	return p.values[node]
}

func (p *NodePool) SetValue(node uint32, v NodeValue) {
	p.values[node] = v
}

func (p *NodePool) Border(node uint32, d Direction) BorderValue {
	return p.borders[node][d]
}

func (p *NodePool) SetBorders(node uint32, b [NumDirections]BorderValue) {
	p.borders[node] = b
}

// PoolStats summarizes the pool after a build.
type PoolStats struct {
	Capacity      uint32   `json:"capacity"`
	Tiles         uint32   `json:"tiles"`
	Nodes         uint32   `json:"nodes"`
	LevelNodes    []uint32 `json:"level_nodes"`
	OccupiedNodes []uint32 `json:"occupied_nodes"`
	Overflowed    bool     `json:"overflowed"`
}

func (p *NodePool) Stats() PoolStats {
	s := PoolStats{
		Capacity:      p.capacity,
		Tiles:         p.TileCount(),
		Nodes:         p.NodeCount(),
		LevelNodes:    make([]uint32, p.numLevels),
		OccupiedNodes: make([]uint32, p.numLevels),
		Overflowed:    p.Overflowed(),
	}
	for l := uint32(0); l < p.numLevels; l++ {
		r := p.levels[l]
		s.LevelNodes[l] = r.Count
		for n := r.Start; n < r.End(); n++ {
			if p.IsFlagged(n) {
				s.OccupiedNodes[l]++
			}
		}
	}
	return s
}
