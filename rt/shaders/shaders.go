package shaders

import (
	_ "embed"
	"strings"
)

// Octree kernels share the declarations in common.wgsl; compute kernels
// additionally see the per-level uniform in level.wgsl. WGSL has no include
// directive, so modules are assembled with Compose.

//go:embed common.wgsl
var CommonWGSL string

//go:embed level.wgsl
var LevelWGSL string

//go:embed clear.wgsl
var ClearWGSL string

//go:embed indirect.wgsl
var IndirectWGSL string

//go:embed project.wgsl
var ProjectWGSL string

//go:embed voxelize.wgsl
var VoxelizeWGSL string

//go:embed flag.wgsl
var FlagWGSL string

//go:embed allocate.wgsl
var AllocateWGSL string

//go:embed neighbours.wgsl
var NeighboursWGSL string

//go:embed leaf.wgsl
var LeafWGSL string

//go:embed light.wgsl
var LightWGSL string

//go:embed mipmap.wgsl
var MipmapWGSL string

//go:embed borders.wgsl
var BordersWGSL string

// Compose concatenates shader sources into one module.
func Compose(parts ...string) string {
	return strings.Join(parts, "\n")
}

// Kernel is a compute module built on the shared and per-level declarations.
func Kernel(src string) string {
	return Compose(CommonWGSL, LevelWGSL, src)
}
