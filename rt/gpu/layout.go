package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/go-gl/mathgl/mgl32"
)

// Byte sizes of the structs shared with the WGSL kernels.
const (
	paramsSize      = 192
	controlSize     = 16 + maxLevels*8
	levelParamsSize = 16
	meshParamsSize  = 144
	nodeValueSize   = 48
	nodeBordersSize = 192
	meshVertexSize  = 64
	voxelVertexSize = 80

	maxLevels  = 16
	accumWords = 8

	// maxBindingSize is the WebGPU default maxStorageBufferBindingSize.
	maxBindingSize = 128 << 20
)

var ErrBindingTooLarge = errors.New("storage buffer exceeds the binding size limit")

// poolLayout sizes the packed storage buffers of one voxel grid.
type poolLayout struct {
	fragmentCapacity uint32
	capacity         uint32
	maxTiles         uint32
}

func newPoolLayout(fragmentCapacity, capacity uint32) poolLayout {
	return poolLayout{
		fragmentCapacity: fragmentCapacity,
		capacity:         capacity,
		maxTiles:         (capacity - 1) / octree.TileSize,
	}
}

func (l poolLayout) fragmentsSize() uint64 { return uint64(l.fragmentCapacity) * 3 * 4 }

// nodesSize covers the node words followed by the leaf accumulators.
func (l poolLayout) nodesSize() uint64 { return uint64(l.capacity) * (1 + accumWords) * 4 }

func (l poolLayout) nodeWordsSize() uint64 { return uint64(l.capacity) * 4 }

// linksSize covers tile parents, cells and six neighbours per node.
func (l poolLayout) linksSize() uint64 {
	return (uint64(l.maxTiles) + uint64(l.capacity)*(1+uint64(octree.NumDirections))) * 4
}

func (l poolLayout) neighboursOffset() uint64 {
	return (uint64(l.maxTiles) + uint64(l.capacity)) * 4
}

func (l poolLayout) neighboursSize() uint64 {
	return uint64(l.capacity) * uint64(octree.NumDirections) * 4
}

func (l poolLayout) valuesSize() uint64  { return uint64(l.capacity) * nodeValueSize }
func (l poolLayout) bordersSize() uint64 { return uint64(l.capacity) * nodeBordersSize }

func (l poolLayout) validate() error {
	sizes := []struct {
		name string
		size uint64
	}{
		{"fragments", l.fragmentsSize()},
		{"nodes", l.nodesSize()},
		{"links", l.linksSize()},
		{"values", l.valuesSize()},
		{"borders", l.bordersSize()},
	}
	for _, s := range sizes {
		if s.size > maxBindingSize {
			return fmt.Errorf("%s buffer needs %d bytes, limit is %d: %w", s.name, s.size, maxBindingSize, ErrBindingTooLarge)
		}
	}
	return nil
}

type lightParams struct {
	direction mgl32.Vec3
	radiance  mgl32.Vec3
	shadow    *core.ShadowMap
}

func lightParamsFor(node *core.SceneNode, shadow *core.ShadowMap) lightParams {
	lp := lightParams{shadow: shadow}
	if node == nil || node.Light == nil {
		return lp
	}
	lp.direction = core.LightDirection(node)
	lp.radiance = node.Light.Radiance()
	return lp
}

func encodeParams(grid *octree.VoxelGrid, l poolLayout, light lightParams) []byte {
	buf := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(buf[0:], grid.Resolution())
	binary.LittleEndian.PutUint32(buf[4:], grid.NumLevels())
	binary.LittleEndian.PutUint32(buf[8:], l.fragmentCapacity)
	binary.LittleEndian.PutUint32(buf[12:], l.capacity)
	binary.LittleEndian.PutUint32(buf[16:], l.maxTiles)
	binary.LittleEndian.PutUint32(buf[20:], math.Float32bits(grid.Params().ShadowBias))

	viewProj := mgl32.Ident4()
	if light.shadow != nil {
		binary.LittleEndian.PutUint32(buf[24:], 1)
		viewProj = light.shadow.ViewProj
	}
	putVec4(buf[32:], light.direction.Vec4(0))
	putVec4(buf[48:], light.radiance.Vec4(0))
	putMat4(buf[64:], viewProj)
	putMat4(buf[128:], grid.GridTransform())
	return buf
}

// encodeControl is the control block of an empty tree: no fragments, no
// tiles, and level 0 holding only the root.
func encodeControl() []byte {
	buf := make([]byte, controlSize)
	binary.LittleEndian.PutUint32(buf[16+4:], 1)
	return buf
}

type controlState struct {
	fragments        uint32
	tiles            uint32
	fragmentOverflow bool
	poolOverflow     bool
	levels           [maxLevels]octree.LevelRange
}

func decodeControl(buf []byte) (controlState, error) {
	if len(buf) < controlSize {
		return controlState{}, fmt.Errorf("control block: got %d bytes, want %d", len(buf), controlSize)
	}
	s := controlState{
		fragments:        binary.LittleEndian.Uint32(buf[0:]),
		tiles:            binary.LittleEndian.Uint32(buf[4:]),
		fragmentOverflow: binary.LittleEndian.Uint32(buf[8:]) != 0,
		poolOverflow:     binary.LittleEndian.Uint32(buf[12:]) != 0,
	}
	for i := range s.levels {
		off := 16 + i*8
		s.levels[i] = octree.LevelRange{
			Start: binary.LittleEndian.Uint32(buf[off:]),
			Count: binary.LittleEndian.Uint32(buf[off+4:]),
		}
	}
	return s, nil
}

// poolStats derives the pool summary from the control block and the node words.
func poolStats(s controlState, words []byte, l poolLayout, numLevels uint32) octree.PoolStats {
	tiles := min(s.tiles, l.maxTiles)
	ps := octree.PoolStats{
		Capacity:      l.capacity,
		Tiles:         tiles,
		Nodes:         1 + tiles*octree.TileSize,
		LevelNodes:    make([]uint32, numLevels),
		OccupiedNodes: make([]uint32, numLevels),
		Overflowed:    s.poolOverflow,
	}
	for lvl := uint32(0); lvl < numLevels; lvl++ {
		r := s.levels[lvl]
		ps.LevelNodes[lvl] = r.Count
		for n := r.Start; n < r.End() && int(n)*4+4 <= len(words); n++ {
			if binary.LittleEndian.Uint32(words[n*4:])&octree.FlagBit != 0 {
				ps.OccupiedNodes[lvl]++
			}
		}
	}
	return ps
}

func encodeLevel(level uint32) []byte {
	buf := make([]byte, levelParamsSize)
	binary.LittleEndian.PutUint32(buf, level)
	return buf
}

func encodeMeshParams(toVoxel mgl32.Mat4, node *core.SceneNode, resolution uint32) []byte {
	m := node.Mesh
	buf := make([]byte, meshParamsSize)
	putMat4(buf[0:], toVoxel.Mul4(node.World()))
	putMat4(buf[64:], node.WorldNormal().Mat4())
	binary.LittleEndian.PutUint32(buf[128:], resolution)
	binary.LittleEndian.PutUint32(buf[132:], uint32(m.TriangleCount()))
	if m.Normals != nil {
		binary.LittleEndian.PutUint32(buf[136:], 1)
	}
	return buf
}

// encodeVertices interleaves the mesh attributes, filling the optional ones
// with a zero normal, zero uv and white.
func encodeVertices(m *core.Mesh) []byte {
	buf := make([]byte, len(m.Positions)*meshVertexSize)
	for i, p := range m.Positions {
		v := buf[i*meshVertexSize:]
		putVec4(v[0:], p.Vec4(1))
		if m.Normals != nil {
			putVec4(v[16:], m.Normals[i].Vec4(0))
		}
		if m.UVs != nil {
			putVec4(v[32:], mgl32.Vec4{m.UVs[i][0], m.UVs[i][1], 0, 0})
		}
		c := mgl32.Vec4{1, 1, 1, 1}
		if m.Colors != nil {
			c = m.Colors[i]
		}
		putVec4(v[48:], c)
	}
	return buf
}

func encodeIndices(m *core.Mesh) []byte {
	buf := make([]byte, len(m.Indices)*4)
	for i, idx := range m.Indices {
		binary.LittleEndian.PutUint32(buf[i*4:], idx)
	}
	return buf
}

func encodeDepth(sm *core.ShadowMap) []byte {
	buf := make([]byte, len(sm.Depth)*4)
	for i, d := range sm.Depth {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(d))
	}
	return buf
}

// alignedRowPitch is the bytes per row of a texture copy, rounded up to the
// 256 byte alignment buffer copies require.
func alignedRowPitch(width, bytesPerTexel uint32) uint32 {
	return (width*bytesPerTexel + 255) &^ 255
}

func putVec4(buf []byte, v mgl32.Vec4) {
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v[i]))
	}
}

func putMat4(buf []byte, m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(m[i]))
	}
}
