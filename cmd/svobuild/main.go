// Command svobuild voxelizes a procedural scene, builds its sparse voxel
// octree and reports the result.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/gekko3d/vct"
	"github.com/gekko3d/vct/rt/app"
	"github.com/gekko3d/vct/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	flagParams           = "params"
	flagResolution       = "resolution"
	flagSides            = "sides"
	flagScene            = "scene"
	flagBackend          = "backend"
	flagFrames           = "frames"
	flagWorkers          = "workers"
	flagShadowMapSize    = "shadow-map-size"
	flagNoOverflowChecks = "no-overflow-checks"
	flagJSONLogs         = "json-logs"
	flagDebug            = "debug"
	flagStats            = "stats"
	flagSlices           = "slices"
	flagSliceScale       = "slice-scale"
	flagOut              = "out"
)

func main() {
	cliApp := &cli.App{
		Name:  "svobuild",
		Usage: "build a sparse voxel octree for a procedural scene",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagParams,
				Usage: "JSON parameter file; flags below override it",
			},
			&cli.UintFlag{
				Name:    flagResolution,
				Aliases: []string{"r"},
				Usage:   "voxel grid resolution, a power of two up to 1024",
			},
			&cli.Float64Flag{
				Name:  flagSides,
				Usage: "edge length of the cubic voxel grid in world units",
			},
			&cli.StringFlag{
				Name:  flagScene,
				Value: "cornell",
				Usage: fmt.Sprintf("procedural scene, one of %v", app.SceneNames()),
			},
			&cli.StringFlag{
				Name:  flagBackend,
				Value: app.BackendCPU,
				Usage: "cpu or gpu",
			},
			&cli.IntFlag{
				Name:  flagFrames,
				Value: 1,
				Usage: "number of frames to run",
			},
			&cli.IntFlag{
				Name:  flagWorkers,
				Usage: "CPU dispatch goroutines, 0 for GOMAXPROCS",
			},
			&cli.IntFlag{
				Name:  flagShadowMapSize,
				Value: app.DefaultShadowMapSize,
				Usage: "shadow map edge in texels, 0 disables shadows",
			},
			&cli.BoolFlag{
				Name:  flagNoOverflowChecks,
				Usage: "skip the GPU readbacks that report capacity overflows per pass",
			},
			&cli.BoolFlag{
				Name:  flagJSONLogs,
				Usage: "log as JSON",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "log per pass details and timings",
			},
			&cli.StringFlag{
				Name:  flagStats,
				Usage: "write build statistics as JSON to this file, - for stdout",
			},
			&cli.IntFlag{
				Name:  flagSlices,
				Usage: "write this many evenly spaced Z slices of the voxel texture as PNG",
			},
			&cli.IntFlag{
				Name:  flagSliceScale,
				Value: 4,
				Usage: "upscale factor of slice images",
			},
			&cli.StringFlag{
				Name:  flagOut,
				Value: ".",
				Usage: "output directory for slice images",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "svobuild:", err)
		os.Exit(1)
	}
}

func newZap(jsonLogs, debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if jsonLogs {
		cfg = zap.NewProductionConfig()
	}
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func loadParams(c *cli.Context) (vct.Params, error) {
	params := vct.DefaultParams()
	if path := c.String(flagParams); path != "" {
		var err error
		if params, err = vct.LoadParams(path); err != nil {
			return params, err
		}
	}
	if c.IsSet(flagResolution) {
		params.VoxelGridResolution = uint32(c.Uint(flagResolution))
	}
	if c.IsSet(flagSides) {
		s := float32(c.Float64(flagSides))
		params.VoxelGridSideLengths = mgl32.Vec3{s, s, s}
	}
	return params, params.Validate()
}

func run(c *cli.Context) error {
	zl, err := newZap(c.Bool(flagJSONLogs), c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := vct.NewZapLogger(zl, c.Bool(flagDebug))

	params, err := loadParams(c)
	if err != nil {
		return err
	}
	scene, err := app.BuildScene(c.String(flagScene), params.VoxelGridSideLengths)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	cfg := app.Config{
		Params:                params,
		Backend:               c.String(flagBackend),
		Workers:               c.Int(flagWorkers),
		ShadowMapSize:         c.Int(flagShadowMapSize),
		DisableOverflowChecks: c.Bool(flagNoOverflowChecks),
	}
	r := app.NewRenderer(scene, core.NewCamera(), cfg, logger)
	defer r.Release()
	if err := r.Init(ctx); err != nil {
		return err
	}

	frames := max(c.Int(flagFrames), 1)
	for i := 0; i < frames; i++ {
		if err := r.Frame(ctx); err != nil {
			return err
		}
	}
	s := r.LastStats
	logger.Infof("built %d frames: %d fragments, %d nodes in %d tiles, %v occupied per level",
		r.FrameCount, s.Fragments, s.Pool.Nodes, s.Pool.Tiles, s.Pool.OccupiedNodes)

	if path := c.String(flagStats); path != "" {
		if err := writeReport(path, newReport(c.String(flagScene), r)); err != nil {
			return err
		}
	}
	if n := c.Int(flagSlices); n > 0 {
		if err := r.SyncTexture(ctx); err != nil {
			return err
		}
		paths, err := writeSlices(r.Grid.Texture(), c.String(flagOut), n, c.Int(flagSliceScale))
		if err != nil {
			return err
		}
		logger.Infof("wrote %d slices to %s", len(paths), c.String(flagOut))
	}
	return nil
}
