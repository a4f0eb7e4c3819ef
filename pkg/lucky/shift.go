package lucky

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/abworrall/luckystack/pkg/emath"
)

// A ShiftVector says the target is the reference moved by (+DX, +DY);
// sample the target at (x+DX, y+DY) to line it up with the reference.
// Response is the normalized cross-correlation at the peak, in [-1, 1].
type ShiftVector struct {
	DX, DY   float64
	Response float64
}

func (s ShiftVector) String() string {
	return fmt.Sprintf("Shift[(%6.2f,%6.2f), resp:%5.3f]", s.DX, s.DY, s.Response)
}

// IsZero is true for a shift that moves nothing.
func (s ShiftVector) IsZero() bool { return s.DX == 0 && s.DY == 0 }

// EstimateShift finds the translation between two same-sized gray
// grids by cross-correlation in the frequency domain, refined to
// sub-pixel precision with a parabola through the peak on each axis.
// If the correlation response is below minResponse it reports a zero
// shift (still carrying the response). It never fails.
func EstimateShift(ref, tgt emath.FloatGrid, minResponse float64) ShiftVector {
	W, H := ref.Dx(), ref.Dy()
	if W == 0 || H == 0 || W != tgt.Dx() || H != tgt.Dy() {
		return ShiftVector{}
	}

	r, rNorm := ref.SubtractMean()
	t, tNorm := tgt.SubtractMean()
	if rNorm == 0 || tNorm == 0 {
		return ShiftVector{} // nothing to correlate against
	}

	fft := emath.NewFFT2D(W, H)
	cross := r.ToComplex()
	fft.Forward(cross)
	tSpec := t.ToComplex()
	fft.Forward(tSpec)

	for i := range cross {
		cross[i] = cmplx.Conj(cross[i]) * tSpec[i]
	}
	fft.Inverse(cross)

	corr := func(x, y int) float64 {
		return real(cross[((y+H)%H)*W+(x+W)%W])
	}

	peak := 0
	for i := range cross {
		if real(cross[i]) > real(cross[peak]) {
			peak = i
		}
	}
	px, py := peak%W, peak/W

	shift := ShiftVector{
		DX:       float64(px) + parabolicOffset(corr(px-1, py), corr(px, py), corr(px+1, py)),
		DY:       float64(py) + parabolicOffset(corr(px, py-1), corr(px, py), corr(px, py+1)),
		Response: corr(px, py) / (rNorm * tNorm),
	}

	// Peaks past the halfway point are wrapped-around negative shifts
	if shift.DX >= float64(W)/2 {
		shift.DX -= float64(W)
	}
	if shift.DY >= float64(H)/2 {
		shift.DY -= float64(H)
	}

	if shift.Response < minResponse {
		return ShiftVector{Response: shift.Response}
	}
	return shift
}

// parabolicOffset fits a parabola through three equally spaced samples
// and returns where its vertex lies relative to b. Zero unless b is a
// strict peak and the curvature is usable.
func parabolicOffset(a, b, c float64) float64 {
	denom := a - 2*b + c
	if b <= a || b <= c || math.Abs(denom) <= 1e-5 {
		return 0
	}
	return (a - c) / (2 * denom)
}
