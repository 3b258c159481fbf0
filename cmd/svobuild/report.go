package main

import (
	"fmt"
	"os"

	"github.com/gekko3d/vct/rt/app"
	"github.com/gekko3d/vct/rt/svo"
	"github.com/segmentio/encoding/json"
)

type report struct {
	Scene      string             `json:"scene"`
	Backend    string             `json:"backend"`
	Resolution uint32             `json:"resolution"`
	Levels     uint32             `json:"levels"`
	Frames     uint64             `json:"frames"`
	Stats      svo.Stats          `json:"stats"`
	TimingsMS  map[string]float64 `json:"timings_ms"`
}

func newReport(scene string, r *app.Renderer) report {
	timings := make(map[string]float64, len(r.Profiler.Scopes))
	for name, d := range r.Profiler.Scopes {
		timings[name] = float64(d.Microseconds()) / 1000
	}
	return report{
		Scene:      scene,
		Backend:    r.Backend.Name(),
		Resolution: r.Grid.Resolution(),
		Levels:     r.Grid.NumLevels(),
		Frames:     r.FrameCount,
		Stats:      r.LastStats,
		TimingsMS:  timings,
	}
}

func writeReport(path string, rep report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}
