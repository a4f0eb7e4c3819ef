package emath

import (
	"math"
	"sort"
)

// BinomialBlur is the [1 2 1]/4 kernel on both axes, used to build
// gaussian pyramids.
func (g1 FloatGrid) BinomialBlur() FloatGrid {
	if g1.Empty() {
		return g1
	}
	return g1.separable([]float64{0.25, 0.5, 0.25})
}

// LogGradients is the central difference gradient magnitude at one
// level of a pyramid (level 0 is full size), along with its mean.
func (H *FloatGrid) LogGradients(level int) (FloatGrid, float64) {
	G := H.NewFromThis()
	width, height := H.Dx(), H.Dy()
	divider := math.Pow(2.0, float64(level)+1)
	sum := 0.0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gx := (H.GetClamped(x+1, y) - H.GetClamped(x-1, y)) / divider
			gy := (H.GetClamped(x, y+1) - H.GetClamped(x, y-1)) / divider
			g := math.Sqrt(gx*gx + gy*gy)
			G.Set(x, y, g)
			sum += g
		}
	}

	return G, sum / float64(width*height)
}

// UpSampleInto populates a grid `B`, which is assumed be 2x as big,
// by simply copying each value from `A` four times into a 2x2 block
// of values in `B`
func (A *FloatGrid) UpSampleInto(B *FloatGrid) {
	awidth, aheight := A.Dx(), A.Dy()
	for y := 0; y < B.Dy(); y++ {
		for x := 0; x < B.Dx(); x++ {
			ax, ay := MinInt(x/2, awidth-1), MinInt(y/2, aheight-1)
			B.Set(x, y, A.Get(ax, ay))
		}
	}
}

// Percentiles returns the values at the lo and hi fractions (in [0,1])
// of the sorted non-zero values.
func (fg *FloatGrid) Percentiles(lo, hi float64) (float64, float64) {
	vals := make([]float64, 0, len(fg.values))
	for _, v := range fg.values {
		if v != 0 {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	sort.Float64s(vals)

	iLo := ClampInt(int(lo*float64(len(vals))), 0, len(vals)-1)
	iHi := ClampInt(int(hi*float64(len(vals))), 0, len(vals)-1)
	return vals[iLo], vals[iHi]
}
