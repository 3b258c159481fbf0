package svo

import (
	"errors"
	"fmt"

	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/gekko3d/vct/rt/pass"
)

// Kind identifies one of the closed set of pipeline passes.
type Kind int

const (
	KindClear Kind = iota
	KindClearNeighbours
	KindVoxelize
	KindModifyIndirectBuffer
	KindFlag
	KindAllocate
	KindNeighbourPointers
	KindWriteLeafNodes
	KindLightInjection
	KindOctreeMipmap
	KindBorderTransfer
)

var kindNames = [...]string{
	KindClear:                "Clear",
	KindClearNeighbours:      "ClearNeighbours",
	KindVoxelize:             "Voxelize",
	KindModifyIndirectBuffer: "ModifyIndirectBuffer",
	KindFlag:                 "Flag",
	KindAllocate:             "Allocate",
	KindNeighbourPointers:    "NeighbourPointers",
	KindWriteLeafNodes:       "WriteLeafNodes",
	KindLightInjection:       "LightInjection",
	KindOctreeMipmap:         "OctreeMipmap",
	KindBorderTransfer:       "BorderTransfer",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// PerLevel reports whether passes of this kind are repeated per octree level.
func (k Kind) PerLevel() bool {
	switch k {
	case KindFlag, KindAllocate, KindNeighbourPointers, KindOctreeMipmap, KindBorderTransfer:
		return true
	}
	return false
}

// Step is implemented by every pass of the pipeline.
type Step interface {
	pass.Pass
	Kind() Kind
	Level() uint32
}

func levelName(k Kind, level uint32) string {
	return fmt.Sprintf("%s L%d", k, level)
}

type ClearPass struct {
	backend Backend
}

func NewClearPass(b Backend) *ClearPass { return &ClearPass{backend: b} }

func (p *ClearPass) Name() string  { return KindClear.String() }
func (p *ClearPass) Kind() Kind    { return KindClear }
func (p *ClearPass) Level() uint32 { return 0 }

func (p *ClearPass) Execute(ctx *pass.Context) error {
	return observe(KindClear, func() error { return p.backend.Clear(ctx) })
}

type ClearNeighboursPass struct {
	backend Backend
}

func NewClearNeighboursPass(b Backend) *ClearNeighboursPass { return &ClearNeighboursPass{backend: b} }

func (p *ClearNeighboursPass) Name() string  { return KindClearNeighbours.String() }
func (p *ClearNeighboursPass) Kind() Kind    { return KindClearNeighbours }
func (p *ClearNeighboursPass) Level() uint32 { return 0 }

func (p *ClearNeighboursPass) Execute(ctx *pass.Context) error {
	return observe(KindClearNeighbours, func() error { return p.backend.ClearNeighbours(ctx) })
}

// VoxelizePass turns every render node's mesh into voxel fragments.
type VoxelizePass struct {
	backend Backend
	grid    *octree.VoxelGrid
	nodes   []*core.SceneNode
}

func NewVoxelizePass(b Backend, grid *octree.VoxelGrid, nodes []*core.SceneNode) *VoxelizePass {
	return &VoxelizePass{backend: b, grid: grid, nodes: nodes}
}

func (p *VoxelizePass) Name() string  { return KindVoxelize.String() }
func (p *VoxelizePass) Kind() Kind    { return KindVoxelize }
func (p *VoxelizePass) Level() uint32 { return 0 }

func (p *VoxelizePass) Execute(ctx *pass.Context) error {
	ctx.Logger.Debugf("voxelize: %d render nodes into %d^3 grid", len(p.nodes), p.grid.Resolution())
	err := observe(KindVoxelize, func() error { return p.backend.Voxelize(ctx, p.nodes) })
	if errors.Is(err, octree.ErrCapacityExceeded) {
		instrumentFragmentOverflow()
	}
	return err
}

type ModifyIndirectBufferPass struct {
	backend Backend
}

func NewModifyIndirectBufferPass(b Backend) *ModifyIndirectBufferPass {
	return &ModifyIndirectBufferPass{backend: b}
}

func (p *ModifyIndirectBufferPass) Name() string  { return KindModifyIndirectBuffer.String() }
func (p *ModifyIndirectBufferPass) Kind() Kind    { return KindModifyIndirectBuffer }
func (p *ModifyIndirectBufferPass) Level() uint32 { return 0 }

func (p *ModifyIndirectBufferPass) Execute(ctx *pass.Context) error {
	return observe(KindModifyIndirectBuffer, func() error { return p.backend.ModifyIndirectBuffer(ctx) })
}

type FlagPass struct {
	backend Backend
	level   uint32
}

func NewFlagPass(b Backend, level uint32) *FlagPass { return &FlagPass{backend: b, level: level} }

func (p *FlagPass) Name() string  { return levelName(KindFlag, p.level) }
func (p *FlagPass) Kind() Kind    { return KindFlag }
func (p *FlagPass) Level() uint32 { return p.level }

func (p *FlagPass) Execute(ctx *pass.Context) error {
	return observe(KindFlag, func() error { return p.backend.Flag(ctx, p.level) })
}

// AllocatePass reserves child tiles for the flagged nodes of its level.
type AllocatePass struct {
	backend Backend
	grid    *octree.VoxelGrid
	level   uint32
}

func NewAllocatePass(b Backend, grid *octree.VoxelGrid, level uint32) *AllocatePass {
	return &AllocatePass{backend: b, grid: grid, level: level}
}

func (p *AllocatePass) Name() string  { return levelName(KindAllocate, p.level) }
func (p *AllocatePass) Kind() Kind    { return KindAllocate }
func (p *AllocatePass) Level() uint32 { return p.level }

func (p *AllocatePass) Execute(ctx *pass.Context) error {
	err := observe(KindAllocate, func() error { return p.backend.Allocate(ctx, p.level) })
	if err != nil {
		return err
	}
	if ctx.Logger.DebugEnabled() && p.level+1 < p.grid.NumLevels() {
		r := p.grid.Pool().Level(p.level + 1)
		ctx.Logger.Debugf("allocate L%d: level %d spans nodes [%d, %d)", p.level, p.level+1, r.Start, r.End())
	}
	return nil
}

type NeighbourPointersPass struct {
	backend Backend
	level   uint32
}

func NewNeighbourPointersPass(b Backend, level uint32) *NeighbourPointersPass {
	return &NeighbourPointersPass{backend: b, level: level}
}

func (p *NeighbourPointersPass) Name() string  { return levelName(KindNeighbourPointers, p.level) }
func (p *NeighbourPointersPass) Kind() Kind    { return KindNeighbourPointers }
func (p *NeighbourPointersPass) Level() uint32 { return p.level }

func (p *NeighbourPointersPass) Execute(ctx *pass.Context) error {
	return observe(KindNeighbourPointers, func() error { return p.backend.NeighbourPointers(ctx, p.level) })
}

type WriteLeafNodesPass struct {
	backend Backend
}

func NewWriteLeafNodesPass(b Backend) *WriteLeafNodesPass { return &WriteLeafNodesPass{backend: b} }

func (p *WriteLeafNodesPass) Name() string  { return KindWriteLeafNodes.String() }
func (p *WriteLeafNodesPass) Kind() Kind    { return KindWriteLeafNodes }
func (p *WriteLeafNodesPass) Level() uint32 { return 0 }

func (p *WriteLeafNodesPass) Execute(ctx *pass.Context) error {
	return observe(KindWriteLeafNodes, func() error { return p.backend.WriteLeafNodes(ctx) })
}

// LightInjectionPass stores direct radiance in every leaf.
type LightInjectionPass struct {
	backend Backend
	light   *core.SceneNode
	shadow  *core.ShadowMap
}

func NewLightInjectionPass(b Backend, light *core.SceneNode, shadow *core.ShadowMap) *LightInjectionPass {
	return &LightInjectionPass{backend: b, light: light, shadow: shadow}
}

func (p *LightInjectionPass) Name() string  { return KindLightInjection.String() }
func (p *LightInjectionPass) Kind() Kind    { return KindLightInjection }
func (p *LightInjectionPass) Level() uint32 { return 0 }

func (p *LightInjectionPass) Execute(ctx *pass.Context) error {
	if p.light == nil || p.light.Light == nil {
		ctx.Logger.Warnf("light injection: no light source, leaves keep zero radiance")
	}
	return observe(KindLightInjection, func() error { return p.backend.LightInjection(ctx, p.light, p.shadow) })
}

type OctreeMipmapPass struct {
	backend Backend
	level   uint32
}

func NewOctreeMipmapPass(b Backend, level uint32) *OctreeMipmapPass {
	return &OctreeMipmapPass{backend: b, level: level}
}

func (p *OctreeMipmapPass) Name() string  { return levelName(KindOctreeMipmap, p.level) }
func (p *OctreeMipmapPass) Kind() Kind    { return KindOctreeMipmap }
func (p *OctreeMipmapPass) Level() uint32 { return p.level }

func (p *OctreeMipmapPass) Execute(ctx *pass.Context) error {
	return observe(KindOctreeMipmap, func() error { return p.backend.OctreeMipmap(ctx, p.level) })
}

type BorderTransferPass struct {
	backend Backend
	level   uint32
}

func NewBorderTransferPass(b Backend, level uint32) *BorderTransferPass {
	return &BorderTransferPass{backend: b, level: level}
}

func (p *BorderTransferPass) Name() string  { return levelName(KindBorderTransfer, p.level) }
func (p *BorderTransferPass) Kind() Kind    { return KindBorderTransfer }
func (p *BorderTransferPass) Level() uint32 { return p.level }

func (p *BorderTransferPass) Execute(ctx *pass.Context) error {
	return observe(KindBorderTransfer, func() error { return p.backend.BorderTransfer(ctx, p.level) })
}
