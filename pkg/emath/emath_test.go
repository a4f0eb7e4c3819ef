package emath

import (
	"image"
	"math"
	"math/cmplx"
	"testing"
)

func rectMask(w, h int, rects ...image.Rectangle) Mask {
	m := NewMask(w, h)
	for _, r := range rects {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				m.Set(x, y, true)
			}
		}
	}
	return m
}

func TestFFTRoundTrip(t *testing.T) {
	g := NewFloatGrid(8, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			g.Set(x, y, math.Mod(float64(x*7+y*13)*0.37, 5.0))
		}
	}

	data := g.ToComplex()
	fft := NewFFT2D(8, 6)
	fft.Forward(data)

	// The DC term is the sum of all values
	sum := 0.0
	for _, v := range g.Values() {
		sum += v
	}
	if math.Abs(real(data[0])-sum) > 1e-9 {
		t.Errorf("expected DC term %f, got %v", sum, data[0])
	}

	fft.Inverse(data)
	for i, v := range g.Values() {
		if cmplx.Abs(data[i]-complex(v, 0)) > 1e-9 {
			t.Fatalf("round trip [%d]: expected %f, got %v", i, v, data[i])
		}
	}
}

func TestBlursPreserveConstant(t *testing.T) {
	g := NewFloatGrid(7, 5)
	for i := range g.Values() {
		g.Values()[i] = 42
	}

	for name, out := range map[string]FloatGrid{
		"gaussian": g.GaussianBlur(3, 0.5),
		"box":      g.BoxBlur(3),
	} {
		for i, v := range out.Values() {
			if math.Abs(v-42) > 1e-9 {
				t.Errorf("%s [%d]: expected 42, got %f", name, i, v)
			}
		}
	}

	mag := g.GradientMagnitude(200)
	if m := mag.Mean(); m != 0 {
		t.Errorf("gradient of a constant grid: expected 0, got %f", m)
	}
}

func TestSobelOnRamp(t *testing.T) {
	g := NewFloatGrid(6, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			g.Set(x, y, float64(3*x))
		}
	}
	gx, gy := g.Sobel()
	// Interior: (1+2+1) * (3*(x+1) - 3*(x-1)) = 24
	if v := gx.Get(2, 2); v != 24 {
		t.Errorf("expected gx 24, got %f", v)
	}
	if v := gy.Get(2, 2); v != 0 {
		t.Errorf("expected gy 0, got %f", v)
	}

	capped := g.GradientMagnitude(10)
	if v := capped.Get(2, 2); v != 10 {
		t.Errorf("expected capped magnitude 10, got %f", v)
	}
}

func TestDownSampleAndCrop(t *testing.T) {
	g := NewFloatGrid(5, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			g.Set(x, y, float64(10*y+x))
		}
	}

	d := g.DownSample()
	if d.Dx() != 2 || d.Dy() != 2 {
		t.Fatalf("expected 2x2, got %dx%d", d.Dx(), d.Dy())
	}
	if v := d.Get(1, 1); v != (22+23+32+33)/4.0 {
		t.Errorf("expected 27.5, got %f", v)
	}

	c := g.Crop(image.Rect(1, 2, 4, 4))
	if c.Dx() != 3 || c.Dy() != 2 {
		t.Fatalf("expected 3x2 crop, got %dx%d", c.Dx(), c.Dy())
	}
	if c.Get(0, 0) != 21 || c.Get(2, 1) != 33 {
		t.Errorf("crop has wrong values: %v", c.Values())
	}
}

func TestSubtractMean(t *testing.T) {
	g := NewFloatGrid(2, 2)
	g.Set(0, 0, 1)
	g.Set(1, 0, 3)
	g.Set(0, 1, 1)
	g.Set(1, 1, 3)

	z, norm := g.SubtractMean()
	if z.Mean() != 0 {
		t.Errorf("expected zero mean, got %f", z.Mean())
	}
	if norm != 2 {
		t.Errorf("expected norm 2, got %f", norm)
	}
}

func TestOtsuThreshold(t *testing.T) {
	g := NewFloatGrid(10, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			v := 20.0
			if x >= 5 {
				v = 200
			}
			g.Set(x, y, v)
		}
	}

	thresh := g.OtsuThreshold()
	if thresh < 20 || thresh >= 200 {
		t.Errorf("expected threshold in [20,200), got %f", thresh)
	}
	m := g.Binarize(thresh)
	if m.Count() != 50 {
		t.Errorf("expected 50 foreground pixels, got %d", m.Count())
	}
	if bb := m.BoundingBox(); bb != image.Rect(5, 0, 10, 10) {
		t.Errorf("expected bounding box (5,0)-(10,10), got %v", bb)
	}
}

func TestErode(t *testing.T) {
	tests := []struct {
		name  string
		mask  Mask
		k     int
		count int
	}{
		{"odd kernel", rectMask(10, 10, image.Rect(2, 2, 8, 8)), 3, 16},
		{"even kernel", rectMask(10, 10, image.Rect(2, 2, 8, 8)), 2, 25},
		{"too big", rectMask(10, 10, image.Rect(2, 2, 8, 8)), 7, 0},
		{"kernel of one", rectMask(10, 10, image.Rect(2, 2, 8, 8)), 1, 36},
		{"frame edges don't erode", rectMask(10, 10, image.Rect(0, 0, 10, 10)), 5, 100},
	}

	for _, test := range tests {
		out := test.mask.Erode(test.k)
		if out.Count() != test.count {
			t.Errorf("%s: expected %d pixels, got %d", test.name, test.count, out.Count())
		}
	}
}

func TestFillHoles(t *testing.T) {
	m := rectMask(9, 9, image.Rect(1, 1, 8, 8))
	for y := 3; y < 6; y++ {
		for x := 3; x < 6; x++ {
			m.Set(x, y, false)
		}
	}
	if m.Count() != 40 {
		t.Fatalf("setup: expected 40, got %d", m.Count())
	}

	filled := m.FillHoles()
	if filled.Count() != 49 {
		t.Errorf("expected 49 pixels after filling, got %d", filled.Count())
	}
	if filled.Get(0, 0) {
		t.Errorf("background got filled")
	}
}

func TestComponentsAndRegion(t *testing.T) {
	m := rectMask(12, 12, image.Rect(1, 1, 4, 4), image.Rect(6, 5, 10, 9))
	m.Set(11, 11, true)

	seeds := m.Components()
	expected := []image.Point{{1, 1}, {6, 5}, {11, 11}}
	if len(seeds) != len(expected) {
		t.Fatalf("expected %d components, got %d", len(expected), len(seeds))
	}
	for i := range expected {
		if seeds[i] != expected[i] {
			t.Errorf("seed %d: expected %v, got %v", i, expected[i], seeds[i])
		}
	}

	r := m.Region(seeds[1])
	if r.Count() != 16 {
		t.Errorf("expected a 16 pixel region, got %d", r.Count())
	}
	if r2 := m.Region(image.Point{7, 6}); !r2.Equal(&r) {
		t.Errorf("region from an interior pixel should match the one from its seed")
	}
	if r3 := m.Region(image.Point{0, 0}); r3.Count() != 0 {
		t.Errorf("region from a background pixel: expected 0, got %d", r3.Count())
	}
}

func TestTraceBoundary(t *testing.T) {
	m := rectMask(12, 12, image.Rect(1, 1, 4, 4), image.Rect(6, 5, 10, 9))

	contours := m.ExternalContours()
	if len(contours) != 2 {
		t.Fatalf("expected 2 contours, got %d", len(contours))
	}

	small := Contour{{1, 1}, {2, 1}, {3, 1}, {3, 2}, {3, 3}, {2, 3}, {1, 3}, {1, 2}}
	if len(contours[0]) != len(small) {
		t.Fatalf("expected %v, got %v", small, contours[0])
	}
	for i := range small {
		if contours[0][i] != small[i] {
			t.Errorf("point %d: expected %v, got %v", i, small[i], contours[0][i])
		}
	}

	if l := contours[0].ArcLength(); l != 8 {
		t.Errorf("expected arc length 8, got %f", l)
	}
	if a := contours[0].Area(); a != 4 {
		t.Errorf("expected area 4, got %f", a)
	}
	if a := contours[1].Area(); a != 9 {
		t.Errorf("expected area 9, got %f", a)
	}
	if len(contours[1]) != 12 {
		t.Errorf("expected 12 boundary pixels, got %d", len(contours[1]))
	}
}

func TestTraceDiagonal(t *testing.T) {
	m := NewMask(3, 3)
	m.Set(0, 0, true)
	m.Set(1, 1, true)
	m.Set(2, 2, true)

	c := m.TraceBoundary(image.Point{0, 0})
	expected := Contour{{0, 0}, {1, 1}, {2, 2}, {1, 1}}
	if len(c) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, c)
	}
	for i := range c {
		if c[i] != expected[i] {
			t.Errorf("point %d: expected %v, got %v", i, expected[i], c[i])
		}
	}
}

func TestPointAt(t *testing.T) {
	c := Contour{{0, 0}, {4, 0}, {4, 2}, {0, 2}}
	tests := []struct {
		dist float64
		x, y float64
	}{
		{0, 0, 0},
		{1.5, 1.5, 0},
		{5, 4, 1},
		{11, 0, 1}, // on the closing segment
	}
	for _, test := range tests {
		x, y := c.PointAt(test.dist)
		if math.Abs(x-test.x) > 1e-9 || math.Abs(y-test.y) > 1e-9 {
			t.Errorf("PointAt(%.1f): expected (%.1f,%.1f), got (%.1f,%.1f)", test.dist, test.x, test.y, x, y)
		}
	}
	if l := c.ArcLength(); l != 12 {
		t.Errorf("expected arc length 12, got %f", l)
	}
}

func TestAffine(t *testing.T) {
	m := Identity().Scale(2, 2).Translate(-1.5, 0.5)
	x, y := m.Apply(10, 10)
	if x != 17 || y != 21 {
		t.Errorf("expected (17,21), got (%f,%f)", x, y)
	}
	if !m.IsAxisAligned() {
		t.Errorf("scale+translate should be axis aligned: %s", m)
	}
}

// laplacian with the grid reflected about its edge pixels
func reflectedLaplacian(U *FloatGrid) FloatGrid {
	w, h := U.Dx(), U.Dy()
	reflect := func(i, n int) int {
		if i < 0 {
			return -i
		} else if i >= n {
			return 2*(n-1) - i
		}
		return i
	}
	F := U.NewFromThis()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := U.Get(reflect(x-1, w), y) + U.Get(reflect(x+1, w), y) +
				U.Get(x, reflect(y-1, h)) + U.Get(x, reflect(y+1, h)) - 4*U.Get(x, y)
			F.Set(x, y, v)
		}
	}
	return F
}

func TestSolvePoisson(t *testing.T) {
	U := NewFloatGrid(9, 7)
	for y := 0; y < 7; y++ {
		for x := 0; x < 9; x++ {
			U.Set(x, y, math.Sin(float64(x)*0.9)+math.Cos(float64(y*x)*0.31)+math.Mod(float64(x*11+y*5), 3.0))
		}
	}
	_, max := U.MinMax()

	got := SolvePoisson(reflectedLaplacian(&U))
	for y := 0; y < 7; y++ {
		for x := 0; x < 9; x++ {
			if expected := U.Get(x, y) - max; math.Abs(got.Get(x, y)-expected) > 1e-9 {
				t.Fatalf("(%d,%d): expected %f, got %f", x, y, expected, got.Get(x, y))
			}
		}
	}

	if out := SolvePoisson(NewFloatGrid(1, 5)); out.Dx() != 1 || out.Dy() != 5 || out.Get(0, 2) != 0 {
		t.Errorf("expected a zero 1x5 grid, got %s", out.Stats())
	}
}

func TestPyramidHelpers(t *testing.T) {
	g := NewFloatGrid(6, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			g.Set(x, y, float64(4*x))
		}
	}

	// A ramp's gradient is its slope, halved per level
	G, mean := g.LogGradients(0)
	if G.Get(2, 1) != 4 {
		t.Errorf("interior gradient: expected 4, got %f", G.Get(2, 1))
	}
	if G.Get(0, 0) != 2 {
		t.Errorf("clamped edge gradient: expected 2, got %f", G.Get(0, 0))
	}
	if math.Abs(mean-20/6.0) > 1e-9 {
		t.Errorf("expected mean %f, got %f", 20/6.0, mean)
	}
	if G1, _ := g.LogGradients(1); G1.Get(2, 1) != 2 {
		t.Errorf("level 1 gradient: expected 2, got %f", G1.Get(2, 1))
	}

	small := NewFloatGrid(2, 2)
	small.Set(1, 0, 5)
	big := NewFloatGrid(5, 4)
	small.UpSampleInto(&big)
	tests := []struct {
		x, y     int
		expected float64
	}{{0, 0, 0}, {2, 1, 5}, {3, 0, 5}, {4, 0, 5}, {4, 3, 0}}
	for _, c := range tests {
		if big.Get(c.x, c.y) != c.expected {
			t.Errorf("upsampled (%d,%d): expected %f, got %f", c.x, c.y, c.expected, big.Get(c.x, c.y))
		}
	}

	p := NewFloatGrid(10, 11)
	for i := range p.Values() {
		p.Values()[i] = float64(i % 100)
	}
	// 108 non-zero values, 1..99 plus 1..9
	if lo, hi := p.Percentiles(0, 1); lo != 1 || hi != 99 {
		t.Errorf("expected 1, 99; got %f, %f", lo, hi)
	}
	zero := NewFloatGrid(3, 3)
	if lo, hi := zero.Percentiles(0.1, 0.9); lo != 0 || hi != 0 {
		t.Errorf("all zero: expected 0, 0; got %f, %f", lo, hi)
	}

	if b := g.BinomialBlur(); math.Abs(b.Get(2, 2)-8) > 1e-9 {
		t.Errorf("blurred ramp: expected 8, got %f", b.Get(2, 2))
	}
}
