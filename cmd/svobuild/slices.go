package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gekko3d/vct/rt/octree"
	"golang.org/x/image/draw"
)

// sliceImage renders the z-th layer of the voxel texture. Empty voxels are
// opaque black, y grows upwards.
func sliceImage(tex *octree.Texture3D, z uint32, scale int) *image.RGBA {
	n := int(tex.Size())
	src := image.NewRGBA(image.Rect(0, 0, n, n))
	texels := tex.Slice(z)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			c := octree.UnpackRGBA8(texels[y*n+x])
			px := color.RGBA{A: 255}
			if texels[y*n+x] != 0 {
				px = color.RGBA{R: uint8(c[0]*255 + 0.5), G: uint8(c[1]*255 + 0.5), B: uint8(c[2]*255 + 0.5), A: 255}
			}
			src.SetRGBA(x, n-1-y, px)
		}
	}
	if scale <= 1 {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, n*scale, n*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// sliceLayers picks count evenly spaced layers, centered in their bands.
func sliceLayers(size uint32, count int) []uint32 {
	count = min(count, int(size))
	out := make([]uint32, count)
	for i := range out {
		out[i] = uint32((2*i + 1) * int(size) / (2 * count))
	}
	return out
}

func writeSlices(tex *octree.Texture3D, dir string, count, scale int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slice directory: %w", err)
	}
	var paths []string
	for _, z := range sliceLayers(tex.Size(), count) {
		path := filepath.Join(dir, fmt.Sprintf("slice_z%04d.png", z))
		f, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("create slice: %w", err)
		}
		err = png.Encode(f, sliceImage(tex, z, scale))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return paths, fmt.Errorf("write slice %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
