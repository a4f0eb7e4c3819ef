// Package fattal02 implements Fattal '02, "Gradient Domain High Dynamic
// Range Compression", as a tone mapper for stacked composites. It
// squashes the big gradients (the planet's limb against the sky) and
// leaves the small ones (belts, festoons, craters) alone.
package fattal02

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/abworrall/luckystack/pkg/emath"
)

// Fattal02 follows the PFSTMO implementation, with its FFT Poisson
// solver.
type Fattal02 struct {
	// Algo parameters
	DetailLevel int
	Noise       float64
	Alpha       float64
	Beta        float64
	Gamma       float64
	BlackPoint  float64
	WhitePoint  float64
	Saturation  float64

	GammaExpand bool   // whether to perform sRGB gamma expansion on final output
	DumpDir     string // if set, write greyscale images of the intermediate grids here

	Input  hdr.Image
	Output image.Image

	// Intermediate grids, all on luminance, in the order they're built
	logLuminance emath.FloatGrid   // H, log(lum)
	pyramid      []emath.FloatGrid // gaussian pyramid of H
	gradients    []emath.FloatGrid // gradient magnitudes for each level
	avgGrad      []float64         // and their means
	attenuation  emath.FloatGrid   // PHI, the gradient attenuation
	divG         emath.FloatGrid   // divergence of the attenuated gradients
	u            emath.FloatGrid   // solution to laplace(U) = divG
	outputLum    emath.FloatGrid   // exp(U), renormalized
}

func (f02 *Fattal02) Width() int     { return f02.Input.Bounds().Dx() }
func (f02 *Fattal02) Height() int    { return f02.Input.Bounds().Dy() }
func (f02 *Fattal02) NumLevels() int { return len(f02.pyramid) }

func NewDefaultFattal02(img hdr.Image) *Fattal02 {
	return &Fattal02{
		// The PFSTMO parameters - see https://www.mankier.com/1/pfstmo_fattal02
		// These are the default values when using the FFT solver
		DetailLevel: 3,
		Noise:       0.002,
		Alpha:       1.0,
		Beta:        0.9,
		Gamma:       0.8,
		BlackPoint:  0.1,
		WhitePoint:  0.5,
		Saturation:  0.8,
		GammaExpand: true,

		Input: img,
	}
}

// Perform implements mdouchement/hdr/tmo:ToneMappingOperator
func (f02 *Fattal02) Perform() image.Image {
	if f02.Width() < 2 || f02.Height() < 2 {
		f02.Output = image.NewRGBA64(f02.Input.Bounds())
		return f02.Output
	}

	f02.createLogLuminance()
	f02.createPyramid()
	f02.calculateGradients()
	f02.calculateAttenuation()
	f02.calculateDivergence()

	f02.u = emath.SolvePoisson(f02.divG)
	f02.dump(f02.u, "006-solved")

	f02.createOutputLuminance()
	f02.fillOutputImage()

	return f02.Output
}

func (f02 *Fattal02) dump(g emath.FloatGrid, name string) {
	if f02.DumpDir == "" {
		return
	}
	if err := g.ToImg(name, filepath.Join(f02.DumpDir, name+".png")); err != nil {
		f02.DumpDir = "" // one failure is enough
	}
}

func luminance(c hdrcolor.Color) float64 {
	_, y, _, _ := hdrcolor.XYZModel.Convert(c).(hdrcolor.Color).HDRXYZA()
	return y
}

func (f02 *Fattal02) createLogLuminance() {
	b := f02.Input.Bounds()
	lum := emath.NewFloatGrid(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			lum.Set(x, y, luminance(f02.Input.HDRAt(b.Min.X+x, b.Min.Y+y)))
		}
	}
	minLum, maxLum := lum.MinMax()
	if maxLum <= minLum {
		maxLum = minLum + 1
	}

	H := lum.NewFromThis()
	for i, v := range lum.Values() {
		H.Values()[i] = math.Log(100.0*(v-minLum)/(maxLum-minLum) + 0.0001) // black = log(0.0001) = -9.2
	}

	f02.dump(lum, "001-luminance")
	f02.dump(H, "001-log-luminance")
	f02.logLuminance = H
}

func (f02 *Fattal02) createPyramid() {
	nLevels := 0
	for minDim := emath.MinInt(f02.Width(), f02.Height()); minDim >= 8; minDim /= 2 {
		nLevels++
	}
	if nLevels == 0 {
		nLevels = 1
	}

	f02.pyramid = make([]emath.FloatGrid, nLevels)
	f02.pyramid[0] = *f02.logLuminance.Copy()
	for k := 1; k < nLevels; k++ {
		blurred := f02.pyramid[k-1].BinomialBlur()
		f02.pyramid[k] = blurred.DownSample()
		f02.dump(f02.pyramid[k], fmt.Sprintf("002-pyramid%02d", k))
	}
}

func (f02 *Fattal02) calculateGradients() {
	f02.gradients = make([]emath.FloatGrid, f02.NumLevels())
	f02.avgGrad = make([]float64, f02.NumLevels())
	for k := range f02.pyramid {
		f02.gradients[k], f02.avgGrad[k] = f02.pyramid[k].LogGradients(k)
		f02.dump(f02.gradients[k], fmt.Sprintf("003-gradient%02d", k))
	}
}

// calculateAttenuation walks down from the coarsest level, scaling
// down gradients bigger than Alpha times the level's mean, and
// carrying the product down to full size.
func (f02 *Fattal02) calculateAttenuation() {
	n := f02.NumLevels()
	phi := f02.gradients[n-1].NewFromThis()
	for i := range phi.Values() {
		phi.Values()[i] = 1.0
	}

	for k := n - 1; k >= 0; k-- {
		// only levels >= DetailLevel, but always the coarsest
		if k >= f02.DetailLevel || k == n-1 {
			a := f02.Alpha * f02.avgGrad[k]
			for i, grad := range f02.gradients[k].Values() {
				if grad > 1e-4 && a > 0 {
					phi.Values()[i] *= a / (grad + f02.Noise) * math.Pow((grad+f02.Noise)/a, f02.Beta)
				}
			}
		}
		f02.dump(phi, fmt.Sprintf("004-attenuation%02d", k))

		if k > 0 {
			upsampled := f02.gradients[k-1].NewFromThis()
			phi.UpSampleInto(&upsampled)
			phi = upsampled.BinomialBlur()
		}
	}

	f02.attenuation = phi
}

func (f02 *Fattal02) calculateDivergence() {
	width, height := f02.Width(), f02.Height()
	H, PHI := f02.logLuminance, f02.attenuation
	Gx, Gy := H.NewFromThis(), H.NewFromThis()

	// The solver assumes H(N) = H(N-2) past the far edges
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			xp1, yp1 := x+1, y+1
			if xp1 >= width {
				xp1 = width - 2
			}
			if yp1 >= height {
				yp1 = height - 2
			}

			// forward differences in H, so PHI is taken between the points
			Gx.Set(x, y, (H.Get(xp1, y)-H.Get(x, y))*0.5*(PHI.Get(xp1, y)+PHI.Get(x, y)))
			Gy.Set(x, y, (H.Get(x, yp1)-H.Get(x, y))*0.5*(PHI.Get(x, yp1)+PHI.Get(x, y)))
		}
	}

	divG := H.NewFromThis()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			val := Gx.Get(x, y) + Gy.Get(x, y)
			if x > 0 {
				val -= Gx.Get(x-1, y)
			} else {
				val += Gx.Get(x, y)
			}
			if y > 0 {
				val -= Gy.Get(x, y-1)
			} else {
				val += Gy.Get(x, y)
			}
			divG.Set(x, y, val)
		}
	}

	f02.dump(divG, "005-divergence")
	f02.divG = divG
}

func (f02 *Fattal02) createOutputLuminance() {
	L := f02.u.NewFromThis()
	for i, u := range f02.u.Values() {
		L.Values()[i] = math.Exp(f02.Gamma*u) - 1e-4
	}

	// drop the extreme percentiles and renormalize
	lo, hi := L.Percentiles(0.01*f02.BlackPoint, 1.0-0.01*f02.WhitePoint)
	if hi <= lo {
		hi = lo + 1
	}
	for i, v := range L.Values() {
		val := (v - lo) / (hi - lo)
		if val <= 0.0 {
			val = 1e-4
		}
		L.Values()[i] = val
	}

	f02.dump(L, "007-exponentiated")
	f02.outputLum = L
}

// fillOutputImage rescales each pixel's colour to the new luminance:
// C_out = (C_in / L_before)^s * L_after
func (f02 *Fattal02) fillOutputImage() {
	const epsilon = 1e-4
	b := f02.Input.Bounds()
	out := image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := f02.Input.HDRAt(b.Min.X+x, b.Min.Y+y)
			r, g, bl, _ := c.HDRRGBA()
			before := math.Max(luminance(c), epsilon)
			after := math.Max(f02.outputLum.Get(x, y), epsilon)

			var ch [3]uint16
			for i, v := range []float64{r, g, bl} {
				v = math.Pow(math.Max(v/before, 0), f02.Saturation) * after
				if f02.GammaExpand {
					v = emath.GammaExpand_F64(math.Min(v, 1.0))
				}
				ch[i] = uint16(math.Min(v, 1.0) * 0xFFFF) // clip, else high values wrap around
			}
			out.SetRGBA64(x, y, color.RGBA64{ch[0], ch[1], ch[2], 0xFFFF})
		}
	}

	f02.Output = out
}
