package gpu

import (
	"context"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
)

// meshResources is the uploaded geometry of one mesh together with the
// buffer its triangles are projected into.
type meshResources struct {
	vertexCount int
	indexCount  int

	vertices  *wgpu.Buffer
	indices   *wgpu.Buffer
	params    *wgpu.Buffer
	projected *wgpu.Buffer
	bindGroup *wgpu.BindGroup
}

func (r *meshResources) release() {
	if r.bindGroup != nil {
		r.bindGroup.Release()
	}
	for _, b := range []*wgpu.Buffer{r.vertices, r.indices, r.params, r.projected} {
		if b != nil {
			b.Release()
		}
	}
}

type textureResources struct {
	texture   *wgpu.Texture
	view      *wgpu.TextureView
	bindGroup *wgpu.BindGroup
	owned     bool
}

func (r *textureResources) release() {
	if r.bindGroup != nil {
		r.bindGroup.Release()
	}
	if !r.owned {
		return
	}
	if r.view != nil {
		r.view.Release()
	}
	if r.texture != nil {
		r.texture.Release()
	}
}

// meshResources uploads m on first use. A mesh whose vertex or index count
// changed is uploaded again; in-place edits need InvalidateMesh.
func (m *SVOBufferManager) meshResources(mesh *core.Mesh) (*meshResources, error) {
	if r, ok := m.meshes[mesh]; ok {
		if r.vertexCount == len(mesh.Positions) && r.indexCount == len(mesh.Indices) {
			return r, nil
		}
		r.release()
		delete(m.meshes, mesh)
	}

	r := &meshResources{vertexCount: len(mesh.Positions), indexCount: len(mesh.Indices)}
	fail := func(err error) (*meshResources, error) {
		r.release()
		return nil, fmt.Errorf("mesh %q: %w", mesh.Name, err)
	}
	var err error
	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	if r.vertices, err = m.createBuffer("MeshVertices", uint64(len(mesh.Positions)*meshVertexSize), storage); err != nil {
		return fail(err)
	}
	if r.indices, err = m.createBuffer("MeshIndices", uint64(len(mesh.Indices)*4), storage); err != nil {
		return fail(err)
	}
	if r.params, err = m.createBuffer("MeshParams", meshParamsSize, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst); err != nil {
		return fail(err)
	}
	if r.projected, err = m.createBuffer("ProjectedVertices", uint64(len(mesh.Indices)*voxelVertexSize), wgpu.BufferUsageStorage|wgpu.BufferUsageVertex); err != nil {
		return fail(err)
	}
	m.Queue.WriteBuffer(r.vertices, 0, encodeVertices(mesh))
	m.Queue.WriteBuffer(r.indices, 0, encodeIndices(mesh))

	r.bindGroup, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Voxelize Project " + mesh.Name,
		Layout: m.ProjectLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: r.params, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: r.vertices, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: r.indices, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: r.projected, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create project bind group: %w", err))
	}
	m.meshes[mesh] = r
	return r, nil
}

// InvalidateMesh drops the cached upload of mesh.
func (m *SVOBufferManager) InvalidateMesh(mesh *core.Mesh) {
	if r, ok := m.meshes[mesh]; ok {
		r.release()
		delete(m.meshes, mesh)
	}
}

// drawBindGroup binds tex as the diffuse texture, or white when tex is nil.
func (m *SVOBufferManager) drawBindGroup(tex *core.Texture) (*wgpu.BindGroup, error) {
	if r, ok := m.textures[tex]; ok {
		return r.bindGroup, nil
	}
	r := &textureResources{texture: m.WhiteTexture, view: m.WhiteView}
	if tex != nil {
		t, view, err := m.uploadRGBA(tex.Name, tex)
		if err != nil {
			return nil, err
		}
		r = &textureResources{texture: t, view: view, owned: true}
	}
	var err error
	r.bindGroup, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Voxelize Diffuse",
		Layout: m.DrawLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: r.view},
			{Binding: 1, Sampler: m.Sampler},
		},
	})
	if err != nil {
		r.release()
		return nil, fmt.Errorf("failed to create diffuse bind group: %w", err)
	}
	m.textures[tex] = r
	return r.bindGroup, nil
}

// Voxelize projects the triangles of each render node along their dominant
// axis in a compute pass, then rasterizes them into an R×R viewport whose
// fragment stage appends voxel fragments. Nodes are submitted one at a time
// so each sees its own mesh parameters.
func (b *Backend) Voxelize(ctx context.Context, nodes []*core.SceneNode) error {
	m := b.buffers
	toVoxel := b.grid.VoxelMatrix()
	r := b.grid.Resolution()

	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if node == nil || node.Mesh == nil {
			continue
		}
		if err := node.Mesh.Validate(); err != nil {
			return fmt.Errorf("voxelize %s: %w", node.Name, err)
		}
		tris := uint32(node.Mesh.TriangleCount())
		if tris == 0 {
			continue
		}
		mesh, err := m.meshResources(node.Mesh)
		if err != nil {
			return fmt.Errorf("voxelize %s: %w", node.Name, err)
		}
		diffuse, err := m.drawBindGroup(node.Textures.Diffuse())
		if err != nil {
			return fmt.Errorf("voxelize %s: %w", node.Name, err)
		}
		m.Queue.WriteBuffer(mesh.params, 0, encodeMeshParams(toVoxel, node, r))

		err = b.submit("Voxelize "+node.Name, func(enc *wgpu.CommandEncoder) error {
			cp := enc.BeginComputePass(nil)
			cp.SetPipeline(b.pipes.project)
			cp.SetBindGroup(0, mesh.bindGroup, nil)
			cp.DispatchWorkgroups(octree.ArgsFor(tris).X, 1, 1)
			if err := cp.End(); err != nil {
				return err
			}

			rp := enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
				Label: "Voxelize",
				ColorAttachments: []wgpu.RenderPassColorAttachment{{
					View:       m.TargetView,
					LoadOp:     wgpu.LoadOpClear,
					StoreOp:    wgpu.StoreOpDiscard,
					ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 0},
				}},
			})
			rp.SetPipeline(b.pipes.voxelize)
			rp.SetBindGroup(0, m.BindGroup0, nil)
			rp.SetBindGroup(1, diffuse, nil)
			rp.SetViewport(0, 0, float32(r), float32(r), 0, 1)
			rp.SetVertexBuffer(0, mesh.projected, 0, wgpu.WholeSize)
			rp.Draw(3*tris, 1, 0, 0)
			return rp.End()
		})
		if err != nil {
			return err
		}
	}

	if !b.overflowChecks && !b.logger.DebugEnabled() {
		return nil
	}
	s, err := b.readControl(ctx)
	if err != nil {
		return err
	}
	b.logger.Debugf("voxelize: %d fragments", min(s.fragments, m.layout.fragmentCapacity))
	if b.overflowChecks && s.fragmentOverflow {
		return fmt.Errorf("fragment list of %d: %w", m.layout.fragmentCapacity, octree.ErrCapacityExceeded)
	}
	return nil
}
