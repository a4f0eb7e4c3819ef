package lucky

import (
	"math"
	"testing"

	"github.com/abworrall/luckystack/pkg/emath"
)

func TestEstimateShiftSubPixel(t *testing.T) {
	tests := []struct {
		dx, dy float64
	}{
		{0, 0},
		{3.3, -5.7},
		{0.4, 0.2},
		{1.7, -2.2},
		{-3.85, 0.35},
		{7.2, -7.6},
	}

	ref := blobGrid(48, 48, 24, 24, 3.5)
	for _, test := range tests {
		tgt := blobGrid(48, 48, 24+test.dx, 24+test.dy, 3.5)
		s := EstimateShift(ref, tgt, 0)

		if math.Abs(s.DX-test.dx) > 0.05 || math.Abs(s.DY-test.dy) > 0.05 {
			t.Errorf("shift (%.2f,%.2f): got %s", test.dx, test.dy, s)
		}
		if s.Response < 0.9 || s.Response > 1.0+1e-9 {
			t.Errorf("shift (%.2f,%.2f): expected a response near 1, got %s", test.dx, test.dy, s)
		}
	}
}

func TestEstimateShiftIntegerIsExact(t *testing.T) {
	ref := blobGrid(48, 40, 20, 20, 3)
	tgt := blobGrid(48, 40, 17, 24, 3)

	s := EstimateShift(ref, tgt, 0.5)
	if math.Abs(s.DX+3) > 0.01 || math.Abs(s.DY-4) > 0.01 {
		t.Errorf("expected (-3,4), got %s", s)
	}
}

func TestEstimateShiftDegenerate(t *testing.T) {
	flat := emath.NewFloatGrid(32, 32)
	for i := range flat.Values() {
		flat.Values()[i] = 17
	}
	blob := blobGrid(32, 32, 16, 16, 3)

	if s := EstimateShift(flat, blob, 0); !s.IsZero() || s.Response != 0 {
		t.Errorf("flat reference: expected zero shift and response, got %s", s)
	}
	if s := EstimateShift(blob, flat, 0); !s.IsZero() || s.Response != 0 {
		t.Errorf("flat target: expected zero shift and response, got %s", s)
	}
	if s := EstimateShift(blob, blobGrid(30, 32, 15, 16, 3), 0); !s.IsZero() || s.Response != 0 {
		t.Errorf("mismatched sizes: expected zero shift and response, got %s", s)
	}
	if s := EstimateShift(emath.FloatGrid{}, emath.FloatGrid{}, 0); !s.IsZero() {
		t.Errorf("empty grids: expected zero shift, got %s", s)
	}
}

func TestEstimateShiftBelowMinResponse(t *testing.T) {
	ref := blobGrid(48, 48, 24, 24, 3.5)
	tgt := blobGrid(48, 48, 27, 22, 3.5)

	s := EstimateShift(ref, tgt, 1.5) // nothing can pass this
	if !s.IsZero() {
		t.Errorf("expected a zero shift, got %s", s)
	}
	if s.Response < 0.9 {
		t.Errorf("expected the response to be carried through, got %s", s)
	}
}

func TestParabolicOffset(t *testing.T) {
	tests := []struct {
		a, b, c  float64
		expected float64
	}{
		{1, 2, 1, 0},        // symmetric
		{0, 4, 2, 1.0 / 6},  // leans right
		{2, 4, 0, -1.0 / 6}, // leans left
		{1, 1, 0, 0},        // not a strict peak
		{3, 2, 1, 0},        // not a peak at all
	}
	for _, test := range tests {
		got := parabolicOffset(test.a, test.b, test.c)
		if math.Abs(got-test.expected) > 1e-12 {
			t.Errorf("parabolicOffset(%v,%v,%v): expected %f, got %f", test.a, test.b, test.c, test.expected, got)
		}
	}
}
