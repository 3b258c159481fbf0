package core

import (
	"image"
	"image/color"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
)

// Texture is a CPU-side RGBA8 image sampled with wrapped nearest filtering.
type Texture struct {
	Name string
	img  *image.RGBA
}

// NewTexture converts any image into RGBA8.
func NewTexture(name string, src image.Image) *Texture {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	return &Texture{Name: name, img: dst}
}

// NewSolidTexture is a 1x1 texture of the given color.
func NewSolidTexture(name string, c color.RGBA) *Texture {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, c)
	return &Texture{Name: name, img: img}
}

func (t *Texture) Size() (int, int) {
	b := t.img.Bounds()
	return b.Dx(), b.Dy()
}

func (t *Texture) RGBA() *image.RGBA {
	return t.img
}

// Sample returns the texel at uv in [0,1] range, wrapping outside it.
func (t *Texture) Sample(uv mgl32.Vec2) mgl32.Vec4 {
	w, h := t.Size()
	if w == 0 || h == 0 {
		return mgl32.Vec4{1, 1, 1, 1}
	}
	x := wrap(int(uv.X()*float32(w)), w)
	// Image rows go top-down, v goes bottom-up.
	y := wrap(h-1-int(uv.Y()*float32(h)), h)
	c := t.img.RGBAAt(x, y)
	return mgl32.Vec4{
		float32(c.R) / 255,
		float32(c.G) / 255,
		float32(c.B) / 255,
		float32(c.A) / 255,
	}
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// TexturesComponent holds the textures bound to a render node. Slot 0 is the diffuse texture.
type TexturesComponent struct {
	Textures []*Texture
}

func (c *TexturesComponent) Diffuse() *Texture {
	if c == nil || len(c.Textures) == 0 {
		return nil
	}
	return c.Textures[0]
}
