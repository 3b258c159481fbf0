package svo

import (
	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/gekko3d/vct/rt/pass"
)

const StageName = "SVOconstruction"

// NewConstructionStage assembles the octree pipeline:
//
//	Clear, ClearNeighbours, Voxelize, ModifyIndirectBuffer,
//	for level 0..n-1:  Flag, Allocate, NeighbourPointers
//	WriteLeafNodes, LightInjection,
//	for level n-2..0:  OctreeMipmap, BorderTransfer
//
// The order is the synchronization: each pass observes all writes of the
// passes before it. params.Rebuild selects between rebuilding every frame
// and building once for a static scene.
func NewConstructionStage(
	light *core.SceneNode,
	renderNodes []*core.SceneNode,
	params vct.Params,
	grid *octree.VoxelGrid,
	shadowMap *core.ShadowMap,
	backend Backend,
) *pass.Stage {
	exec := pass.ExecuteContinuous
	if params.Rebuild == vct.RebuildOnce {
		exec = pass.ExecuteOnce
	}

	s := pass.NewStage(StageName)
	s.Add(NewClearPass(backend), exec)
	s.Add(NewClearNeighboursPass(backend), exec)
	s.Add(NewVoxelizePass(backend, grid, renderNodes), exec)
	s.Add(NewModifyIndirectBufferPass(backend), exec)

	numLevels := grid.NumLevels()
	for level := uint32(0); level < numLevels; level++ {
		s.Add(NewFlagPass(backend, level), exec)
		s.Add(NewAllocatePass(backend, grid, level), exec)
		s.Add(NewNeighbourPointersPass(backend, level), exec)
	}

	s.Add(NewWriteLeafNodesPass(backend), exec)
	s.Add(NewLightInjectionPass(backend, light, shadowMap), exec)

	for level := int(numLevels) - 2; level >= 0; level-- {
		s.Add(NewOctreeMipmapPass(backend, uint32(level)), exec)
		s.Add(NewBorderTransferPass(backend, uint32(level)), exec)
	}
	return s
}
