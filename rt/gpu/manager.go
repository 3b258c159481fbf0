package gpu

import (
	"fmt"
	"image/color"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/octree"
)

// SVOBufferManager owns every GPU resource of one voxel grid: the packed
// storage buffers the kernels share, the 3D voxel texture, the shadow map
// and the per-mesh upload caches.
type SVOBufferManager struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	grid   *octree.VoxelGrid
	layout poolLayout

	ParamsBuf    *wgpu.Buffer
	ControlBuf   *wgpu.Buffer
	FragmentsBuf *wgpu.Buffer
	NodesBuf     *wgpu.Buffer
	LinksBuf     *wgpu.Buffer
	ValuesBuf    *wgpu.Buffer
	BordersBuf   *wgpu.Buffer
	IndirectBuf  *wgpu.Buffer
	LevelBufs    []*wgpu.Buffer

	ControlReadback *wgpu.Buffer
	NodesReadback   *wgpu.Buffer

	VoxelTexture *wgpu.Texture
	VoxelView    *wgpu.TextureView

	// 1x1 at depth 1 until a shadow map is uploaded.
	ShadowTexture *wgpu.Texture
	ShadowView    *wgpu.TextureView
	shadowW       uint32
	shadowH       uint32

	// Voxelization renders into a target it never writes.
	TargetTexture *wgpu.Texture
	TargetView    *wgpu.TextureView

	WhiteTexture *wgpu.Texture
	WhiteView    *wgpu.TextureView
	Sampler      *wgpu.Sampler

	MainLayout     *wgpu.BindGroupLayout
	LevelLayout    *wgpu.BindGroupLayout
	IndirectLayout *wgpu.BindGroupLayout
	DrawLayout     *wgpu.BindGroupLayout
	ProjectLayout  *wgpu.BindGroupLayout

	BindGroup0        *wgpu.BindGroup
	LevelBindGroups   []*wgpu.BindGroup
	IndirectBindGroup *wgpu.BindGroup

	meshes   map[*core.Mesh]*meshResources
	textures map[*core.Texture]*textureResources
}

func NewSVOBufferManager(device *wgpu.Device, grid *octree.VoxelGrid) (*SVOBufferManager, error) {
	if grid.NumLevels() > maxLevels {
		return nil, fmt.Errorf("%d octree levels, at most %d supported", grid.NumLevels(), maxLevels)
	}
	p := grid.Params()
	layout := newPoolLayout(p.FragmentCapacity(), p.PoolCapacity())
	if err := layout.validate(); err != nil {
		return nil, err
	}

	m := &SVOBufferManager{
		Device:   device,
		Queue:    device.GetQueue(),
		grid:     grid,
		layout:   layout,
		meshes:   make(map[*core.Mesh]*meshResources),
		textures: make(map[*core.Texture]*textureResources),
	}
	steps := []func() error{
		m.createBuffers,
		m.createTextures,
		m.createLayouts,
		m.createBindGroups,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			m.Release()
			return nil, err
		}
	}
	return m, nil
}

func (m *SVOBufferManager) createBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := m.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s buffer: %w", label, err)
	}
	return buf, nil
}

func (m *SVOBufferManager) createBuffers() error {
	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	l := m.layout

	var err error
	create := func(dst **wgpu.Buffer, label string, size uint64, usage wgpu.BufferUsage) {
		if err != nil {
			return
		}
		*dst, err = m.createBuffer(label, size, usage)
	}
	create(&m.ParamsBuf, "SVOParams", paramsSize, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	create(&m.ControlBuf, "SVOControl", controlSize, storage)
	create(&m.FragmentsBuf, "VoxelFragments", l.fragmentsSize(), storage)
	create(&m.NodesBuf, "NodePool", l.nodesSize(), storage)
	create(&m.LinksBuf, "NodeLinks", l.linksSize(), storage)
	create(&m.ValuesBuf, "NodeValues", l.valuesSize(), storage)
	create(&m.BordersBuf, "NodeBorders", l.bordersSize(), storage)
	create(&m.IndirectBuf, "IndirectArgs", uint64(len(m.grid.Indirect().Bytes())), storage|wgpu.BufferUsageIndirect)
	create(&m.ControlReadback, "SVOControlReadback", controlSize, wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead)
	create(&m.NodesReadback, "NodePoolReadback", l.nodeWordsSize(), wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead)
	if err != nil {
		return err
	}

	m.LevelBufs = make([]*wgpu.Buffer, m.grid.NumLevels())
	for lvl := range m.LevelBufs {
		buf, err := m.createBuffer(fmt.Sprintf("LevelParams L%d", lvl), levelParamsSize, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
		if err != nil {
			return err
		}
		m.Queue.WriteBuffer(buf, 0, encodeLevel(uint32(lvl)))
		m.LevelBufs[lvl] = buf
	}

	m.WriteParams(lightParams{})
	return nil
}

func (m *SVOBufferManager) createTextures() error {
	r := m.grid.Resolution()
	var err error

	m.VoxelTexture, err = m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Voxel Texture",
		Size:          wgpu.Extent3D{Width: r, Height: r, DepthOrArrayLayers: r},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension3D,
		Format:        wgpu.TextureFormatR32Uint,
		Usage:         wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("failed to create voxel texture: %w", err)
	}
	m.VoxelView, err = m.VoxelTexture.CreateView(&wgpu.TextureViewDescriptor{
		Label:           "Voxel Texture View",
		Format:          wgpu.TextureFormatR32Uint,
		Dimension:       wgpu.TextureViewDimension3D,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create voxel texture view: %w", err)
	}

	m.TargetTexture, err = m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Voxelize Target",
		Size:          wgpu.Extent3D{Width: r, Height: r, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR8Unorm,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("failed to create voxelize target: %w", err)
	}
	m.TargetView, err = m.TargetTexture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("failed to create voxelize target view: %w", err)
	}

	white := core.NewSolidTexture("White", color.RGBA{R: 255, G: 255, B: 255, A: 255})
	m.WhiteTexture, m.WhiteView, err = m.uploadRGBA("White", white)
	if err != nil {
		return err
	}

	m.Sampler, err = m.Device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeNearest,
		MinFilter:     wgpu.FilterModeNearest,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   1,
		Compare:       wgpu.CompareFunctionUndefined,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create diffuse sampler: %w", err)
	}

	_, err = m.ensureShadowTexture(1, 1)
	if err != nil {
		return err
	}
	m.Queue.WriteTexture(m.ShadowTexture.AsImageCopy(), encodeDepth(&core.ShadowMap{Width: 1, Height: 1, Depth: []float32{1}}), &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  4,
		RowsPerImage: 1,
	}, &wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1})
	return nil
}

// ensureShadowTexture reallocates the shadow texture when the map size
// changes. It reports whether bind group 0 must be rebuilt.
func (m *SVOBufferManager) ensureShadowTexture(w, h uint32) (bool, error) {
	if m.ShadowTexture != nil && m.shadowW == w && m.shadowH == h {
		return false, nil
	}
	if m.ShadowView != nil {
		m.ShadowView.Release()
	}
	if m.ShadowTexture != nil {
		m.ShadowTexture.Release()
	}
	var err error
	m.ShadowTexture, err = m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Shadow Map",
		Size:          wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR32Float,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create shadow map texture: %w", err)
	}
	m.ShadowView, err = m.ShadowTexture.CreateView(nil)
	if err != nil {
		return false, fmt.Errorf("failed to create shadow map view: %w", err)
	}
	m.shadowW, m.shadowH = w, h
	return true, nil
}

func (m *SVOBufferManager) createLayouts() error {
	storage := func(binding uint32) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute | wgpu.ShaderStageFragment,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
		}
	}

	var err error
	m.MainLayout, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "SVO BGL0",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment | wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
			},
			storage(1), // control
			storage(2), // fragments
			storage(3), // nodes
			storage(4), // links
			storage(5), // values
			storage(6), // borders
			{
				Binding:    7,
				Visibility: wgpu.ShaderStageCompute | wgpu.ShaderStageFragment,
				StorageTexture: wgpu.StorageTextureBindingLayout{
					Access:        wgpu.StorageTextureAccessWriteOnly,
					Format:        wgpu.TextureFormatR32Uint,
					ViewDimension: wgpu.TextureViewDimension3D,
				},
			},
			{
				Binding:    8,
				Visibility: wgpu.ShaderStageCompute | wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create main bind group layout: %w", err)
	}

	m.LevelLayout, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "SVO Level BGL",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create level bind group layout: %w", err)
	}

	m.IndirectLayout, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "SVO Indirect BGL",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indirect bind group layout: %w", err)
	}

	m.DrawLayout, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Voxelize Draw BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create draw bind group layout: %w", err)
	}

	m.ProjectLayout, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Voxelize Project BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create project bind group layout: %w", err)
	}
	return nil
}

func (m *SVOBufferManager) createBindGroups() error {
	if err := m.createBindGroup0(); err != nil {
		return err
	}

	m.LevelBindGroups = make([]*wgpu.BindGroup, len(m.LevelBufs))
	for lvl, buf := range m.LevelBufs {
		bg, err := m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   fmt.Sprintf("SVO Level L%d", lvl),
			Layout:  m.LevelLayout,
			Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: buf, Size: wgpu.WholeSize}},
		})
		if err != nil {
			return fmt.Errorf("failed to create level %d bind group: %w", lvl, err)
		}
		m.LevelBindGroups[lvl] = bg
	}

	var err error
	m.IndirectBindGroup, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "SVO Indirect",
		Layout:  m.IndirectLayout,
		Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: m.IndirectBuf, Size: wgpu.WholeSize}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indirect bind group: %w", err)
	}
	return nil
}

func (m *SVOBufferManager) createBindGroup0() error {
	if m.BindGroup0 != nil {
		m.BindGroup0.Release()
	}
	var err error
	m.BindGroup0, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "SVO BG0",
		Layout: m.MainLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: m.ParamsBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: m.ControlBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: m.FragmentsBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: m.NodesBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: m.LinksBuf, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: m.ValuesBuf, Size: wgpu.WholeSize},
			{Binding: 6, Buffer: m.BordersBuf, Size: wgpu.WholeSize},
			{Binding: 7, TextureView: m.VoxelView},
			{Binding: 8, TextureView: m.ShadowView},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create main bind group: %w", err)
	}
	return nil
}

// WriteParams uploads the grid constants together with the light state.
func (m *SVOBufferManager) WriteParams(light lightParams) {
	m.Queue.WriteBuffer(m.ParamsBuf, 0, encodeParams(m.grid, m.layout, light))
}

// UploadShadowMap makes sm visible to the light injection kernel.
func (m *SVOBufferManager) UploadShadowMap(sm *core.ShadowMap) error {
	if sm == nil || sm.Width == 0 || sm.Height == 0 {
		return nil
	}
	w, h := uint32(sm.Width), uint32(sm.Height)
	resized, err := m.ensureShadowTexture(w, h)
	if err != nil {
		return err
	}
	if resized {
		if err := m.createBindGroup0(); err != nil {
			return err
		}
	}
	m.Queue.WriteTexture(m.ShadowTexture.AsImageCopy(), encodeDepth(sm), &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  4 * w,
		RowsPerImage: h,
	}, &wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1})
	return nil
}

func (m *SVOBufferManager) uploadRGBA(label string, tex *core.Texture) (*wgpu.Texture, *wgpu.TextureView, error) {
	w, h := tex.Size()
	t, err := m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create texture %s: %w", label, err)
	}
	img := tex.RGBA()
	m.Queue.WriteTexture(t.AsImageCopy(), img.Pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(img.Stride),
		RowsPerImage: uint32(h),
	}, &wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})

	view, err := t.CreateView(nil)
	if err != nil {
		t.Release()
		return nil, nil, fmt.Errorf("failed to create texture view %s: %w", label, err)
	}
	return t, view, nil
}

// Release frees every GPU object the manager created.
func (m *SVOBufferManager) Release() {
	for _, r := range m.meshes {
		r.release()
	}
	for _, r := range m.textures {
		r.release()
	}
	m.meshes = nil
	m.textures = nil

	for _, bg := range m.LevelBindGroups {
		bg.Release()
	}
	for _, bg := range []*wgpu.BindGroup{m.BindGroup0, m.IndirectBindGroup} {
		if bg != nil {
			bg.Release()
		}
	}
	for _, l := range []*wgpu.BindGroupLayout{m.MainLayout, m.LevelLayout, m.IndirectLayout, m.DrawLayout, m.ProjectLayout} {
		if l != nil {
			l.Release()
		}
	}
	for _, v := range []*wgpu.TextureView{m.VoxelView, m.ShadowView, m.TargetView, m.WhiteView} {
		if v != nil {
			v.Release()
		}
	}
	for _, t := range []*wgpu.Texture{m.VoxelTexture, m.ShadowTexture, m.TargetTexture, m.WhiteTexture} {
		if t != nil {
			t.Release()
		}
	}
	if m.Sampler != nil {
		m.Sampler.Release()
	}
	bufs := append([]*wgpu.Buffer{
		m.ParamsBuf, m.ControlBuf, m.FragmentsBuf, m.NodesBuf, m.LinksBuf,
		m.ValuesBuf, m.BordersBuf, m.IndirectBuf, m.ControlReadback, m.NodesReadback,
	}, m.LevelBufs...)
	for _, b := range bufs {
		if b != nil {
			b.Release()
		}
	}
}
