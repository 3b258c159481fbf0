package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/vct/rt/shaders"
	"go.uber.org/multierr"
)

type pipelines struct {
	clearTexture   *wgpu.ComputePipeline
	modifyIndirect *wgpu.ComputePipeline
	commitLevel    *wgpu.ComputePipeline
	project        *wgpu.ComputePipeline
	flag           *wgpu.ComputePipeline
	allocate       *wgpu.ComputePipeline
	neighbours     *wgpu.ComputePipeline
	accumulate     *wgpu.ComputePipeline
	writeLeaves    *wgpu.ComputePipeline
	injectLight    *wgpu.ComputePipeline
	mipmap         *wgpu.ComputePipeline
	borders        *wgpu.ComputePipeline
	voxelize       *wgpu.RenderPipeline

	layouts []*wgpu.PipelineLayout
	modules []*wgpu.ShaderModule
}

type kernel struct {
	dst    **wgpu.ComputePipeline
	label  string
	code   string
	entry  string
	layout *wgpu.PipelineLayout
}

func createPipelines(m *SVOBufferManager) (*pipelines, error) {
	p := &pipelines{}

	var errs error
	layout := func(label string, bgls ...*wgpu.BindGroupLayout) *wgpu.PipelineLayout {
		l, err := m.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
			Label:            label,
			BindGroupLayouts: bgls,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pipeline layout %s: %w", label, err))
			return nil
		}
		p.layouts = append(p.layouts, l)
		return l
	}
	levelLayout := layout("SVO Level", m.MainLayout, m.LevelLayout)
	indirectLayout := layout("SVO Indirect", m.MainLayout, m.LevelLayout, m.IndirectLayout)
	drawLayout := layout("Voxelize Draw", m.MainLayout, m.DrawLayout)
	projectLayout := layout("Voxelize Project", m.ProjectLayout)
	if errs != nil {
		p.release()
		return nil, errs
	}

	kernels := []kernel{
		{&p.clearTexture, "Clear Texture", shaders.Kernel(shaders.ClearWGSL), "clear_texture", levelLayout},
		{&p.modifyIndirect, "Modify Indirect", shaders.Kernel(shaders.IndirectWGSL), "modify_indirect", indirectLayout},
		{&p.commitLevel, "Commit Level", shaders.Kernel(shaders.IndirectWGSL), "commit_level", indirectLayout},
		{&p.project, "Project Triangles", shaders.ProjectWGSL, "project_triangles", projectLayout},
		{&p.flag, "Flag", shaders.Kernel(shaders.FlagWGSL), "flag", levelLayout},
		{&p.allocate, "Allocate", shaders.Kernel(shaders.AllocateWGSL), "allocate", levelLayout},
		{&p.neighbours, "Neighbour Pointers", shaders.Kernel(shaders.NeighboursWGSL), "neighbour_pointers", levelLayout},
		{&p.accumulate, "Accumulate Leaves", shaders.Kernel(shaders.LeafWGSL), "accumulate_leaves", levelLayout},
		{&p.writeLeaves, "Write Leaves", shaders.Kernel(shaders.LeafWGSL), "write_leaves", levelLayout},
		{&p.injectLight, "Light Injection", shaders.Kernel(shaders.LightWGSL), "inject_light", levelLayout},
		{&p.mipmap, "Octree Mipmap", shaders.Kernel(shaders.MipmapWGSL), "mipmap", levelLayout},
		{&p.borders, "Border Transfer", shaders.Kernel(shaders.BordersWGSL), "border_transfer", levelLayout},
	}
	for _, k := range kernels {
		mod, err := p.module(m.Device, k.label, k.code)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		*k.dst, err = m.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  k.label + " Pipeline",
			Layout: k.layout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     mod,
				EntryPoint: k.entry,
			},
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("compute pipeline %s: %w", k.label, err))
		}
	}

	if err := p.createVoxelize(m.Device, drawLayout); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		p.release()
		return nil, errs
	}
	return p, nil
}

func (p *pipelines) module(device *wgpu.Device, label, code string) (*wgpu.ShaderModule, error) {
	mod, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("shader module %s: %w", label, err)
	}
	p.modules = append(p.modules, mod)
	return mod, nil
}

func (p *pipelines) createVoxelize(device *wgpu.Device, layout *wgpu.PipelineLayout) error {
	mod, err := p.module(device, "Voxelize", shaders.Compose(shaders.CommonWGSL, shaders.VoxelizeWGSL))
	if err != nil {
		return err
	}
	attrs := make([]wgpu.VertexAttribute, 5)
	for i := range attrs {
		attrs[i] = wgpu.VertexAttribute{
			Format:         wgpu.VertexFormatFloat32x4,
			Offset:         uint64(i * 16),
			ShaderLocation: uint32(i),
		}
	}
	p.voxelize, err = device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Voxelize Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     mod,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: voxelVertexSize,
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes:  attrs,
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    wgpu.TextureFormatR8Unorm,
				WriteMask: wgpu.ColorWriteMaskNone,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("render pipeline Voxelize: %w", err)
	}
	return nil
}

func (p *pipelines) release() {
	for _, cp := range []*wgpu.ComputePipeline{
		p.clearTexture, p.modifyIndirect, p.commitLevel, p.project, p.flag, p.allocate,
		p.neighbours, p.accumulate, p.writeLeaves, p.injectLight, p.mipmap, p.borders,
	} {
		if cp != nil {
			cp.Release()
		}
	}
	if p.voxelize != nil {
		p.voxelize.Release()
	}
	for _, l := range p.layouts {
		l.Release()
	}
	for _, m := range p.modules {
		m.Release()
	}
}
