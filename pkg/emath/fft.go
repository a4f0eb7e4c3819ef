package emath

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT2D performs 2D complex transforms over row-major grids, as a pass
// of 1D transforms along each row followed by a pass along each column.
// An FFT2D is not safe for concurrent use.
type FFT2D struct {
	w, h int
	rows *fourier.CmplxFFT
	cols *fourier.CmplxFFT
	col  []complex128
}

func NewFFT2D(w, h int) *FFT2D {
	return &FFT2D{
		w:    w,
		h:    h,
		rows: fourier.NewCmplxFFT(w),
		cols: fourier.NewCmplxFFT(h),
		col:  make([]complex128, h),
	}
}

// Forward transforms data (length w*h) in place.
func (f *FFT2D) Forward(data []complex128) {
	f.pass(data, f.rows.Coefficients, f.cols.Coefficients)
}

// Inverse transforms data in place, scaled so that Inverse(Forward(x)) == x.
func (f *FFT2D) Inverse(data []complex128) {
	f.pass(data, f.rows.Sequence, f.cols.Sequence)
	scale := complex(1.0/float64(f.w*f.h), 0)
	for i := range data {
		data[i] *= scale
	}
}

func (f *FFT2D) pass(data []complex128, rowFn, colFn func(dst, src []complex128) []complex128) {
	for y := 0; y < f.h; y++ {
		row := data[y*f.w : (y+1)*f.w]
		rowFn(row, row)
	}
	for x := 0; x < f.w; x++ {
		for y := 0; y < f.h; y++ {
			f.col[y] = data[y*f.w+x]
		}
		colFn(f.col, f.col)
		for y := 0; y < f.h; y++ {
			data[y*f.w+x] = f.col[y]
		}
	}
}

// ToComplex packs a grid into a fresh complex slice, ready for Forward.
func (fg *FloatGrid) ToComplex() []complex128 {
	out := make([]complex128, len(fg.values))
	for i, v := range fg.values {
		out[i] = complex(v, 0)
	}
	return out
}
