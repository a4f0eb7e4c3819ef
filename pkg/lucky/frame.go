package lucky

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"golang.org/x/image/draw" // replace by "image/draw" at some point

	"github.com/abworrall/luckystack/pkg/emath"
)

// A Frame is one decoded image from a FrameSource. Frames are never
// mutated; every warp or crop works on a copy.
type Frame struct {
	Index  int    // global index within the FrameSource
	Source string // the file or stream the frame came from

	image.Image
}

func (f Frame) String() string {
	if f.Image == nil {
		return fmt.Sprintf("frame#%d[%s, empty]", f.Index, filepath.Base(f.Source))
	}
	return fmt.Sprintf("frame#%d[%s, %dx%d]", f.Index, filepath.Base(f.Source), f.Bounds().Dx(), f.Bounds().Dy())
}

// Empty is true when there are no pixels to work with.
func (f Frame) Empty() bool { return isEmpty(f.Image) }

func isEmpty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}

// ColToGray maps a color into a gray value in the range [0, 255]. If we had more
// of a handle on the color, maybe we'd map it to XYZ and pick out the luminance; but
// this works just fine.
func ColToGray(c color.Color) float64 {
	r, g, b, _ := c.RGBA() // channel values in range [0, 0xFFFF]
	gray := float64(r)*0.2989 + float64(g)*0.5870 + float64(b)*0.1140
	if gray > 0xFFFF {
		gray = 0xFFFF
	}
	return gray / 257.0
}

// Gray builds a grayscale FloatGrid over the image bounds, with the
// grid's (0,0) at img.Bounds().Min.
func Gray(img image.Image) emath.FloatGrid {
	if isEmpty(img) {
		return emath.FloatGrid{}
	}
	b := img.Bounds()
	g := emath.NewFloatGrid(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.RGBA64:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := src.RGBA64At(b.Min.X+x, b.Min.Y+y)
				v := (float64(c.R)*0.2989 + float64(c.G)*0.5870 + float64(c.B)*0.1140) / 257.0
				g.Set(x, y, v)
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				g.Set(x, y, ColToGray(img.At(b.Min.X+x, b.Min.Y+y)))
			}
		}
	}

	return g
}

// Crop copies the pixels of r into a new image anchored at (0,0). Any
// part of r outside the source is left black.
func Crop(img image.Image, r image.Rectangle) *image.RGBA64 {
	dst := image.NewRGBA64(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	if isEmpty(img) {
		return dst
	}
	valid := r.Intersect(img.Bounds())
	if valid.Empty() {
		return dst
	}
	draw.Draw(dst, valid.Sub(r.Min), img, valid.Min, draw.Src)
	return dst
}

// toRGBA64 returns img as an *image.RGBA64 anchored at (0,0), copying
// only when it has to.
func toRGBA64(img image.Image) *image.RGBA64 {
	if rgba, ok := img.(*image.RGBA64); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	return Crop(img, img.Bounds())
}

func RectCenter(b image.Rectangle) image.Point {
	return image.Point{(b.Min.X + b.Max.X) / 2, (b.Min.Y + b.Max.Y) / 2}
}
