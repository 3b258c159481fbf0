package gpu

import (
	"context"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/gekko3d/vct/rt/svo"
)

// Backend records every pass of the octree pipeline as WebGPU compute work.
// Data-dependent passes are dispatched indirectly from arguments the
// kernels write themselves, so the CPU never waits on the GPU while
// building unless overflow checks are enabled.
type Backend struct {
	grid    *octree.VoxelGrid
	logger  vct.Logger
	buffers *SVOBufferManager
	pipes   *pipelines

	overflowChecks bool
}

var _ svo.Backend = (*Backend)(nil)
var _ svo.StatsReporter = (*Backend)(nil)

func NewBackend(device *wgpu.Device, grid *octree.VoxelGrid, logger vct.Logger) (*Backend, error) {
	buffers, err := NewSVOBufferManager(device, grid)
	if err != nil {
		return nil, fmt.Errorf("gpu backend: %w", err)
	}
	pipes, err := createPipelines(buffers)
	if err != nil {
		buffers.Release()
		return nil, fmt.Errorf("gpu backend: %w", err)
	}
	return &Backend{
		grid:           grid,
		logger:         vct.LoggerOrNop(logger),
		buffers:        buffers,
		pipes:          pipes,
		overflowChecks: true,
	}, nil
}

func (b *Backend) Name() string {
	return "gpu"
}

func (b *Backend) Grid() *octree.VoxelGrid {
	return b.grid
}

func (b *Backend) Buffers() *SVOBufferManager {
	return b.buffers
}

// SetOverflowChecks controls whether Voxelize and Allocate read the control
// block back to report ErrCapacityExceeded. Without them an overflow only
// shows up in Stats.
func (b *Backend) SetOverflowChecks(enabled bool) {
	b.overflowChecks = enabled
}

func (b *Backend) Release() {
	if b.pipes != nil {
		b.pipes.release()
		b.pipes = nil
	}
	if b.buffers != nil {
		b.buffers.Release()
		b.buffers = nil
	}
}

// submit records one command buffer and hands it to the queue.
func (b *Backend) submit(label string, record func(enc *wgpu.CommandEncoder) error) error {
	enc, err := b.buffers.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("%s: create encoder: %w", label, err)
	}
	if err := record(enc); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("%s: finish encoder: %w", label, err)
	}
	defer cmd.Release()
	b.buffers.Queue.Submit(cmd)
	return nil
}

// dispatchIndirect records one compute pass sized by the command at offset
// of the indirect buffer.
func (b *Backend) dispatchIndirect(enc *wgpu.CommandEncoder, pipeline *wgpu.ComputePipeline, level uint32, offset uint64) error {
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, b.buffers.BindGroup0, nil)
	pass.SetBindGroup(1, b.buffers.LevelBindGroups[level], nil)
	pass.DispatchWorkgroupsIndirect(b.buffers.IndirectBuf, offset)
	return pass.End()
}

// writeArgs records a single-invocation kernel that writes the indirect buffer.
func (b *Backend) writeArgs(enc *wgpu.CommandEncoder, pipeline *wgpu.ComputePipeline, level uint32) error {
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, b.buffers.BindGroup0, nil)
	pass.SetBindGroup(1, b.buffers.LevelBindGroups[level], nil)
	pass.SetBindGroup(2, b.buffers.IndirectBindGroup, nil)
	pass.DispatchWorkgroups(1, 1, 1)
	return pass.End()
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := b.buffers
	m.Queue.WriteBuffer(m.ControlBuf, 0, encodeControl())
	m.Queue.WriteBuffer(m.IndirectBuf, 0, octree.NewIndirectBuffer(b.grid.NumLevels()).Bytes())

	return b.submit("Clear", func(enc *wgpu.CommandEncoder) error {
		enc.ClearBuffer(m.NodesBuf, 0, m.layout.nodesSize())
		enc.ClearBuffer(m.LinksBuf, 0, m.layout.neighboursOffset())
		enc.ClearBuffer(m.ValuesBuf, 0, m.layout.valuesSize())

		n := (b.grid.Resolution() + 3) / 4
		pass := enc.BeginComputePass(nil)
		pass.SetPipeline(b.pipes.clearTexture)
		pass.SetBindGroup(0, m.BindGroup0, nil)
		pass.SetBindGroup(1, m.LevelBindGroups[0], nil)
		pass.DispatchWorkgroups(n, n, n)
		return pass.End()
	})
}

func (b *Backend) ClearNeighbours(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := b.buffers
	return b.submit("ClearNeighbours", func(enc *wgpu.CommandEncoder) error {
		enc.ClearBuffer(m.LinksBuf, m.layout.neighboursOffset(), m.layout.neighboursSize())
		enc.ClearBuffer(m.BordersBuf, 0, m.layout.bordersSize())
		return nil
	})
}

func (b *Backend) ModifyIndirectBuffer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.submit("ModifyIndirectBuffer", func(enc *wgpu.CommandEncoder) error {
		return b.writeArgs(enc, b.pipes.modifyIndirect, 0)
	})
}

func (b *Backend) Flag(ctx context.Context, level uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.submit(fmt.Sprintf("Flag L%d", level), func(enc *wgpu.CommandEncoder) error {
		return b.dispatchIndirect(enc, b.pipes.flag, level, octree.FragmentArgsOffset())
	})
}

// Allocate reserves child tiles for the flagged nodes of level, then
// publishes level+1 and its dispatch arguments.
func (b *Backend) Allocate(ctx context.Context, level uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if level+1 >= b.grid.NumLevels() {
		return nil
	}
	err := b.submit(fmt.Sprintf("Allocate L%d", level), func(enc *wgpu.CommandEncoder) error {
		if err := b.dispatchIndirect(enc, b.pipes.allocate, level, octree.LevelArgsOffset(level)); err != nil {
			return err
		}
		return b.writeArgs(enc, b.pipes.commitLevel, level)
	})
	if err != nil || !b.overflowChecks {
		return err
	}
	s, err := b.readControl(ctx)
	if err != nil {
		return err
	}
	if s.poolOverflow {
		return fmt.Errorf("allocate L%d: node pool of %d: %w", level, b.buffers.layout.capacity, octree.ErrCapacityExceeded)
	}
	return nil
}

func (b *Backend) NeighbourPointers(ctx context.Context, level uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if level+1 >= b.grid.NumLevels() {
		return nil
	}
	return b.submit(fmt.Sprintf("NeighbourPointers L%d", level), func(enc *wgpu.CommandEncoder) error {
		return b.dispatchIndirect(enc, b.pipes.neighbours, level, octree.LevelArgsOffset(level+1))
	})
}

func (b *Backend) WriteLeafNodes(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	leaf := b.grid.NumLevels() - 1
	return b.submit("WriteLeafNodes", func(enc *wgpu.CommandEncoder) error {
		if err := b.dispatchIndirect(enc, b.pipes.accumulate, leaf, octree.FragmentArgsOffset()); err != nil {
			return err
		}
		return b.dispatchIndirect(enc, b.pipes.writeLeaves, leaf, octree.LevelArgsOffset(leaf))
	})
}

// LightInjection stores direct radiance in every occupied leaf and then
// fills the leaf borders, which later mipmap levels read.
func (b *Backend) LightInjection(ctx context.Context, light *core.SceneNode, shadow *core.ShadowMap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := b.buffers
	if err := m.UploadShadowMap(shadow); err != nil {
		return fmt.Errorf("light injection: %w", err)
	}
	m.WriteParams(lightParamsFor(light, shadow))

	leaf := b.grid.NumLevels() - 1
	return b.submit("LightInjection", func(enc *wgpu.CommandEncoder) error {
		if err := b.dispatchIndirect(enc, b.pipes.injectLight, leaf, octree.LevelArgsOffset(leaf)); err != nil {
			return err
		}
		return b.dispatchIndirect(enc, b.pipes.borders, leaf, octree.LevelArgsOffset(leaf))
	})
}

func (b *Backend) OctreeMipmap(ctx context.Context, level uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if level+1 >= b.grid.NumLevels() {
		return nil
	}
	return b.submit(fmt.Sprintf("OctreeMipmap L%d", level), func(enc *wgpu.CommandEncoder) error {
		return b.dispatchIndirect(enc, b.pipes.mipmap, level, octree.LevelArgsOffset(level))
	})
}

func (b *Backend) BorderTransfer(ctx context.Context, level uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.submit(fmt.Sprintf("BorderTransfer L%d", level), func(enc *wgpu.CommandEncoder) error {
		return b.dispatchIndirect(enc, b.pipes.borders, level, octree.LevelArgsOffset(level))
	})
}
