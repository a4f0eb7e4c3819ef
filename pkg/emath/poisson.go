package emath

import "math"

// redft00 is the unnormalized 2D type-I cosine transform (FFTW's
// REDFT00 on both axes). It is the DFT of the grid's even extension,
// which is 2(w-1) x 2(h-1). Needs w, h >= 2.
func (fg *FloatGrid) redft00() FloatGrid {
	w, h := fg.Dx(), fg.Dy()
	ew, eh := 2*(w-1), 2*(h-1)

	ext := make([]complex128, ew*eh)
	for y := 0; y < eh; y++ {
		sy := y
		if sy >= h {
			sy = eh - y
		}
		for x := 0; x < ew; x++ {
			sx := x
			if sx >= w {
				sx = ew - x
			}
			ext[y*ew+x] = complex(fg.Get(sx, sy), 0)
		}
	}
	NewFFT2D(ew, eh).Forward(ext)

	out := fg.NewFromThis()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, real(ext[y*ew+x]))
		}
	}
	return out
}

// poissonEigen are the eigenvalues of the 1D second difference
// operator with reflected boundaries, U(-1)=U(1).
func poissonEigen(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		u := math.Sin(float64(i) / float64(2*(n-1)) * math.Pi)
		v[i] = -4.0 * u * u
	}
	return v
}

// SolvePoisson solves laplace(U) = F, treating the grid as reflected
// about its edge pixels. The solution is only defined up to a
// constant; it is shifted so that its maximum is zero.
func SolvePoisson(F FloatGrid) FloatGrid {
	w, h := F.Dx(), F.Dy()
	if w < 2 || h < 2 {
		return F.NewFromThis()
	}

	//--- Into eigen space
	T := F.redft00()
	scale := 1.0 / float64((h-1)*(w-1))
	for i := range T.values {
		T.values[i] *= scale
	}
	for x := 0; x < w; x++ {
		T.Set(x, 0, T.Get(x, 0)*0.5)
		T.Set(x, h-1, T.Get(x, h-1)*0.5)
	}
	for y := 0; y < h; y++ {
		T.Set(0, y, T.Get(0, y)*0.5)
		T.Set(w-1, y, T.Get(w-1, y)*0.5)
	}

	//--- Solve, it's just a division there
	ly, lx := poissonEigen(h), poissonEigen(w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x == 0 && y == 0 {
				T.Set(x, y, 0) // the free constant
				continue
			}
			T.Set(x, y, T.Get(x, y)/(ly[y]+lx[x]))
		}
	}

	//--- And back again
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			T.Set(x, y, T.Get(x, y)*0.25)
		}
	}
	for x := 1; x < w-1; x++ {
		T.Set(x, 0, T.Get(x, 0)*0.5)
		T.Set(x, h-1, T.Get(x, h-1)*0.5)
	}
	for y := 1; y < h-1; y++ {
		T.Set(0, y, T.Get(0, y)*0.5)
		T.Set(w-1, y, T.Get(w-1, y)*0.5)
	}
	U := T.redft00()

	_, max := U.MinMax()
	for i := range U.values {
		U.values[i] -= max
	}
	return U
}
