package lucky

import (
	"image"
	"image/color"
	"math"

	"github.com/abworrall/luckystack/pkg/emath"
)

// blobGrid is a gaussian blob peaking at 255, on a black w x h grid.
func blobGrid(w, h int, cx, cy, sigma float64) emath.FloatGrid {
	g := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d2 := (float64(x)-cx)*(float64(x)-cx) + (float64(y)-cy)*(float64(y)-cy)
			g.Set(x, y, 255*math.Exp(-d2/(2*sigma*sigma)))
		}
	}
	return g
}

// gridImage turns a [0,255] grid into a gray RGBA64 image.
func gridImage(g emath.FloatGrid) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, g.Dx(), g.Dy()))
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			v := g.Get(x, y)
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			c := uint16(v*257 + 0.5)
			img.SetRGBA64(x, y, color.RGBA64{c, c, c, 0xFFFF})
		}
	}
	return img
}

func blobImage(w, h int, cx, cy, sigma float64) *image.RGBA64 {
	return gridImage(blobGrid(w, h, cx, cy, sigma))
}

// discImage is a hard-edged disc of the given gray level.
func discImage(w, h int, cx, cy, radius, level float64) *image.RGBA64 {
	g := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if math.Hypot(float64(x)-cx, float64(y)-cy) <= radius {
				g.Set(x, y, level)
			}
		}
	}
	return gridImage(g)
}

// checkerImage is a low contrast checkerboard of square x square
// tiles, blurred by sigma (no blur if sigma is 0).
func checkerImage(w, h, square int, sigma float64) *image.RGBA64 {
	g := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 100.0
			if (x/square+y/square)%2 == 1 {
				v = 140
			}
			g.Set(x, y, v)
		}
	}
	if sigma > 0 {
		g = g.GaussianBlur(int(6*sigma)|1, sigma)
	}
	return gridImage(g)
}

func blackImage(w, h int) *image.RGBA64 {
	return gridImage(emath.NewFloatGrid(w, h))
}
