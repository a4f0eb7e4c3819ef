package emath

import (
	"image"
)

// A Mask is a binary image; true pixels are foreground.
type Mask struct {
	w, h int
	bits []bool
}

func NewMask(w, h int) Mask {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Mask{w: w, h: h, bits: make([]bool, w*h)}
}

func (m *Mask) Dx() int                 { return m.w }
func (m *Mask) Dy() int                 { return m.h }
func (m *Mask) Set(x, y int, v bool)    { m.bits[y*m.w+x] = v }
func (m *Mask) In(x, y int) bool        { return x >= 0 && y >= 0 && x < m.w && y < m.h }
func (m *Mask) Bounds() image.Rectangle { return image.Rect(0, 0, m.w, m.h) }

// Get is false for anything outside the mask.
func (m *Mask) Get(x, y int) bool {
	return m.In(x, y) && m.bits[y*m.w+x]
}

func (m *Mask) Copy() Mask {
	m2 := Mask{w: m.w, h: m.h, bits: make([]bool, len(m.bits))}
	copy(m2.bits, m.bits)
	return m2
}

func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

func (m *Mask) Equal(m2 *Mask) bool {
	if m.w != m2.w || m.h != m2.h {
		return false
	}
	for i := range m.bits {
		if m.bits[i] != m2.bits[i] {
			return false
		}
	}
	return true
}

// BoundingBox is the smallest rectangle holding every set pixel, or the
// empty rectangle if nothing is set.
func (m *Mask) BoundingBox() image.Rectangle {
	r := image.Rectangle{}
	found := false
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			if !m.bits[y*m.w+x] {
				continue
			}
			if !found {
				r = image.Rect(x, y, x+1, y+1)
				found = true
				continue
			}
			if x < r.Min.X {
				r.Min.X = x
			}
			if x+1 > r.Max.X {
				r.Max.X = x + 1
			}
			r.Max.Y = y + 1
		}
	}
	return r
}

var neighbours8 = []image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// Components returns one seed per 8-connected region: the region's
// first pixel in scan order.
func (m *Mask) Components() []image.Point {
	seen := make([]bool, len(m.bits))
	seeds := []image.Point{}

	for i, b := range m.bits {
		if !b || seen[i] {
			continue
		}
		seed := image.Point{i % m.w, i / m.w}
		seeds = append(seeds, seed)
		m.flood(seed, seen, nil)
	}

	return seeds
}

// Region returns a mask holding just the 8-connected region around seed.
func (m *Mask) Region(seed image.Point) Mask {
	region := NewMask(m.w, m.h)
	if m.Get(seed.X, seed.Y) {
		m.flood(seed, make([]bool, len(m.bits)), &region)
	}
	return region
}

func (m *Mask) flood(seed image.Point, seen []bool, into *Mask) {
	toVisit := []image.Point{seed}
	seen[seed.Y*m.w+seed.X] = true
	for len(toVisit) > 0 {
		p := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		if into != nil {
			into.Set(p.X, p.Y, true)
		}

		for _, d := range neighbours8 {
			q := p.Add(d)
			if !m.Get(q.X, q.Y) || seen[q.Y*m.w+q.X] {
				continue
			}
			seen[q.Y*m.w+q.X] = true
			toVisit = append(toVisit, q)
		}
	}
}

// FillHoles sets every unset pixel that cannot reach the mask border
// through other unset pixels (4-connected).
func (m *Mask) FillHoles() Mask {
	outside := make([]bool, len(m.bits))
	toVisit := []image.Point{}
	visit := func(x, y int) {
		if !m.In(x, y) || m.bits[y*m.w+x] || outside[y*m.w+x] {
			return
		}
		outside[y*m.w+x] = true
		toVisit = append(toVisit, image.Point{x, y})
	}

	for x := 0; x < m.w; x++ {
		visit(x, 0)
		visit(x, m.h-1)
	}
	for y := 0; y < m.h; y++ {
		visit(0, y)
		visit(m.w-1, y)
	}
	for len(toVisit) > 0 {
		p := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		visit(p.X-1, p.Y)
		visit(p.X+1, p.Y)
		visit(p.X, p.Y-1)
		visit(p.X, p.Y+1)
	}

	filled := NewMask(m.w, m.h)
	for i := range filled.bits {
		filled.bits[i] = !outside[i]
	}
	return filled
}

// Erode with a k x k square of ones, anchored at (k/2, k/2). Pixels
// outside the mask count as set, so the frame edge does not eat into
// the foreground.
func (m *Mask) Erode(k int) Mask {
	if k <= 1 {
		return m.Copy()
	}
	lo := -(k / 2)
	hi := lo + k - 1

	// Rows then columns; a pixel survives if its window holds no unset pixel.
	rows := NewMask(m.w, m.h)
	gaps := make([]int, m.w+1)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			gaps[x+1] = gaps[x]
			if !m.bits[y*m.w+x] {
				gaps[x+1]++
			}
		}
		for x := 0; x < m.w; x++ {
			a, b := ClampInt(x+lo, 0, m.w), ClampInt(x+hi+1, 0, m.w)
			rows.bits[y*m.w+x] = gaps[b]-gaps[a] == 0
		}
	}

	out := NewMask(m.w, m.h)
	gaps = make([]int, m.h+1)
	for x := 0; x < m.w; x++ {
		for y := 0; y < m.h; y++ {
			gaps[y+1] = gaps[y]
			if !rows.bits[y*m.w+x] {
				gaps[y+1]++
			}
		}
		for y := 0; y < m.h; y++ {
			a, b := ClampInt(y+lo, 0, m.h), ClampInt(y+hi+1, 0, m.h)
			out.bits[y*m.w+x] = gaps[b]-gaps[a] == 0
		}
	}

	return out
}
