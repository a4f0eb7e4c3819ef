package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
	"gonum.org/v1/gonum/stat"
)

// A FloatGrid is a grid of floats, with some operations. Values are
// stored row-major, so (x,y) lives at values[y*stride+x].
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	if w <= 0 || h <= 0 {
		return FloatGrid{}
	}
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

func (g1 *FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Values() []float64       { return fg.values }
func (fg *FloatGrid) Empty() bool             { return len(fg.values) == 0 }

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (fg *FloatGrid) Bounds() image.Rectangle {
	return image.Rect(0, 0, fg.Dx(), fg.Dy())
}

// GetClamped treats the grid as if its edge values were replicated
// out to infinity.
func (fg *FloatGrid) GetClamped(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= fg.stride {
		x = fg.stride - 1
	}
	if h := fg.Dy(); y < 0 {
		y = 0
	} else if y >= h {
		y = h - 1
	}
	return fg.Get(x, y)
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// Crop returns a new grid holding the values inside r, which must lie
// within the grid.
func (g1 *FloatGrid) Crop(r image.Rectangle) FloatGrid {
	r = r.Intersect(g1.Bounds())
	g2 := NewFloatGrid(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		copy(g2.values[y*g2.stride:(y+1)*g2.stride], g1.values[(r.Min.Y+y)*g1.stride+r.Min.X:])
	}
	return g2
}

// separable runs the 1D kernel k (odd length, centered) along X then
// along Y, replicating edge values.
func (g1 FloatGrid) separable(k []float64) FloatGrid {
	width, height := g1.Dx(), g1.Dy()
	r := len(k) / 2
	T := g1.NewFromThis()
	g2 := g1.NewFromThis()

	//--- X pass, build up in T
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := 0.0
			for i, w := range k {
				t += w * g1.GetClamped(x+i-r, y)
			}
			T.Set(x, y, t)
		}
	}

	//--- Y pass, read from T and generate output
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := 0.0
			for i, w := range k {
				t += w * T.GetClamped(x, y+i-r)
			}
			g2.Set(x, y, t)
		}
	}

	return g2
}

// GaussianBlur applies a ksize x ksize gaussian with the given sigma.
func (g1 FloatGrid) GaussianBlur(ksize int, sigma float64) FloatGrid {
	if ksize < 1 || g1.Empty() {
		return *g1.Copy()
	}
	if ksize%2 == 0 {
		ksize++
	}
	k := make([]float64, ksize)
	r := ksize / 2
	sum := 0.0
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return g1.separable(k)
}

// BoxBlur is a normalized ksize x ksize box filter.
func (g1 FloatGrid) BoxBlur(ksize int) FloatGrid {
	if ksize < 1 || g1.Empty() {
		return *g1.Copy()
	}
	if ksize%2 == 0 {
		ksize++
	}
	k := make([]float64, ksize)
	for i := range k {
		k[i] = 1.0 / float64(ksize)
	}
	return g1.separable(k)
}

// Sobel returns the 3x3 sobel derivatives in X and Y.
func (H *FloatGrid) Sobel() (FloatGrid, FloatGrid) {
	gx, gy := H.NewFromThis(), H.NewFromThis()
	width, height := H.Dx(), H.Dy()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			nw, n, ne := H.GetClamped(x-1, y-1), H.GetClamped(x, y-1), H.GetClamped(x+1, y-1)
			w, e := H.GetClamped(x-1, y), H.GetClamped(x+1, y)
			sw, s, se := H.GetClamped(x-1, y+1), H.GetClamped(x, y+1), H.GetClamped(x+1, y+1)

			gx.Set(x, y, (ne+2*e+se)-(nw+2*w+sw))
			gy.Set(x, y, (sw+2*s+se)-(nw+2*n+ne))
		}
	}

	return gx, gy
}

// GradientMagnitude is sqrt(gx^2 + gy^2) of the sobel derivatives, with
// each value capped at ceiling (ceiling <= 0 means no cap).
func (H *FloatGrid) GradientMagnitude(ceiling float64) FloatGrid {
	gx, gy := H.Sobel()
	G := H.NewFromThis()
	for i := range G.values {
		m := math.Hypot(gx.values[i], gy.values[i])
		if ceiling > 0 && m > ceiling {
			m = ceiling
		}
		G.values[i] = m
	}
	return G
}

// DownSample returns a grid that is 1/4 of the size, averaging the values from the
// original. An odd last row or column is dropped.
func (g1 *FloatGrid) DownSample() FloatGrid {
	width := g1.Dx() / 2
	height := g1.Dy() / 2
	g2 := NewFloatGrid(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := g1.Get(2*x, 2*y)
			p += g1.Get(2*x+1, 2*y)
			p += g1.Get(2*x, 2*y+1)
			p += g1.Get(2*x+1, 2*y+1)
			g2.Set(x, y, p/4.0)
		}
	}

	return g2
}

func (fg *FloatGrid) Mean() float64 {
	if fg.Empty() {
		return 0
	}
	return stat.Mean(fg.values, nil)
}

func (fg *FloatGrid) MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0 * min
	for _, v := range fg.values {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return min, max
}

// SubtractMean returns a copy with the mean removed, plus the L2 norm
// of the result.
func (g1 *FloatGrid) SubtractMean() (FloatGrid, float64) {
	g2 := *g1.Copy()
	mean := g1.Mean()
	norm := 0.0
	for i := range g2.values {
		g2.values[i] -= mean
		norm += g2.values[i] * g2.values[i]
	}
	return g2, math.Sqrt(norm)
}

func (fg *FloatGrid) Stats() string {
	min, max := fg.MinMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale, based on the range of values in the grid, and gamma scaling the
// gray to look normal for human vision
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := fg.MinMax()
	if max <= min {
		max = min + 1
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), fg.Dy()}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < fg.Dy(); y++ {
			gray := GammaExpand_F64((fg.Get(x, y) - min) / (max - min))
			col := color.RGBA64{uint16(gray * 65535.0), uint16(gray * 65535.0), uint16(gray * 65535.0), 0xFFFF}
			img.Set(x, y, col)
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0.2, 0.2)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}
