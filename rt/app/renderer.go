package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/core"
	"github.com/gekko3d/vct/rt/cpu"
	"github.com/gekko3d/vct/rt/gpu"
	"github.com/gekko3d/vct/rt/octree"
	"github.com/gekko3d/vct/rt/pass"
	"github.com/gekko3d/vct/rt/svo"
)

const (
	BackendCPU = "cpu"
	BackendGPU = "gpu"

	DefaultShadowMapSize = 512
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrNoDevice is returned by Init when no WebGPU adapter or device is available.
	ErrNoDevice = errors.New("no webgpu device")
)

type Config struct {
	Params  vct.Params
	Backend string

	// Workers bounds CPU dispatch parallelism; 0 keeps GOMAXPROCS.
	Workers int

	// ShadowMapSize is the edge of the light's depth map; 0 disables shadows.
	ShadowMapSize int

	// DisableOverflowChecks skips the GPU readbacks that turn a capacity
	// overflow into a pass error.
	DisableOverflowChecks bool
}

func DefaultConfig() Config {
	return Config{
		Params:        vct.DefaultParams(),
		Backend:       BackendCPU,
		ShadowMapSize: DefaultShadowMapSize,
	}
}

// Renderer drives the octree construction stage over a scene, one frame at
// a time. It runs headless: the GPU backend requests a device without a
// surface.
type Renderer struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device

	Scene     *core.SceneManager
	Camera    *core.Camera
	Grid      *octree.VoxelGrid
	Backend   svo.Backend
	Stage     *pass.Stage
	Profiler  *pass.Profiler
	Logger    vct.Logger
	Light     *core.SceneNode
	ShadowMap *core.ShadowMap

	FrameCount uint64
	LastStats  svo.Stats

	config Config
	cpu    *cpu.Backend
}

func NewRenderer(scene *core.SceneManager, camera *core.Camera, cfg Config, logger vct.Logger) *Renderer {
	return &Renderer{
		Scene:    scene,
		Camera:   camera,
		Profiler: pass.NewProfiler(),
		Logger:   vct.LoggerOrNop(logger),
		config:   cfg,
	}
}

func (r *Renderer) Init(ctx context.Context) error {
	nodes := r.Scene.RenderNodes()
	grid, err := octree.NewVoxelGrid(r.config.Params, nodes, r.Camera)
	if err != nil {
		return err
	}
	r.Grid = grid

	// The CPU backend always exists: it renders the shadow map.
	r.cpu = cpu.NewBackend(grid, r.Logger)
	if r.config.Workers > 0 {
		r.cpu.SetWorkers(r.config.Workers)
	}

	switch r.config.Backend {
	case BackendCPU, "":
		r.Backend = r.cpu
	case BackendGPU:
		if err := r.initDevice(); err != nil {
			return err
		}
		b, err := gpu.NewBackend(r.Device, grid, r.Logger)
		if err != nil {
			return err
		}
		b.SetOverflowChecks(!r.config.DisableOverflowChecks)
		r.Backend = b
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, r.config.Backend)
	}

	if lights := r.Scene.LightNodes(); len(lights) > 0 {
		r.Light = lights[0]
		if len(lights) > 1 {
			r.Logger.Warnf("renderer: %d lights in scene, injecting %s only", len(lights), r.Light.Name)
		}
	}
	if err := r.RefreshShadowMap(ctx); err != nil {
		return err
	}

	r.Stage = svo.NewConstructionStage(r.Light, nodes, r.config.Params, grid, r.ShadowMap, r.Backend)
	r.Logger.Infof("renderer: %s backend, %d^3 grid, %d levels, %d passes, pool capacity %d",
		r.Backend.Name(), grid.Resolution(), grid.NumLevels(), r.Stage.Len(), grid.Params().PoolCapacity())
	return nil
}

func (r *Renderer) initDevice() error {
	r.Instance = wgpu.CreateInstance(nil)

	adapter, err := r.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("%w: request adapter: %v", ErrNoDevice, err)
	}
	r.Adapter = adapter

	r.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("%w: request device: %v", ErrNoDevice, err)
	}
	return nil
}

// RefreshShadowMap re-renders the light's depth map in place, so passes
// holding the map see the new depths.
func (r *Renderer) RefreshShadowMap(ctx context.Context) error {
	if r.Light == nil || r.config.ShadowMapSize <= 0 {
		return nil
	}
	sm, err := r.cpu.RenderShadowMap(ctx, r.Scene.RenderNodes(), r.Light, r.config.ShadowMapSize)
	if err != nil {
		return err
	}
	if r.ShadowMap == nil {
		r.ShadowMap = sm
	} else {
		*r.ShadowMap = *sm
	}
	return nil
}

// Frame runs one frame of the construction stage and reads the result back.
func (r *Renderer) Frame(ctx context.Context) error {
	if r.Stage == nil {
		return errors.New("renderer: not initialized")
	}
	r.FrameCount++
	r.Profiler.Reset()

	pctx := pass.NewContext(ctx, r.FrameCount, r.Logger, r.Profiler)
	if err := r.Stage.Run(pctx); err != nil {
		return err
	}

	stats, ok, err := svo.RecordStats(ctx, r.Backend)
	if err != nil {
		return fmt.Errorf("frame %d: read stats: %w", r.FrameCount, err)
	}
	if ok {
		r.LastStats = stats
		r.Profiler.SetCount("Fragments", int(stats.Fragments))
		r.Profiler.SetCount("Nodes", int(stats.Pool.Nodes))
		if err := stats.Err(); err != nil {
			return fmt.Errorf("frame %d: %w", r.FrameCount, err)
		}
	}
	if r.Logger.DebugEnabled() {
		r.Logger.Debugf("frame %d:\n%s", r.FrameCount, r.Profiler.GetStatsString())
	}
	return nil
}

// SyncTexture makes the grid's Texture3D reflect the backend's voxel texture.
func (r *Renderer) SyncTexture(ctx context.Context) error {
	if b, ok := r.Backend.(*gpu.Backend); ok {
		return b.SyncTexture(ctx)
	}
	return nil
}

func (r *Renderer) Release() {
	if b, ok := r.Backend.(*gpu.Backend); ok {
		b.Release()
	}
	if r.Device != nil {
		r.Device.Release()
	}
	if r.Adapter != nil {
		r.Adapter.Release()
	}
	if r.Instance != nil {
		r.Instance.Release()
	}
}
