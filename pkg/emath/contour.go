package emath

import (
	"image"
	"math"
)

// A Contour is a closed chain of boundary pixels; the last point
// connects back to the first.
type Contour []image.Point

func dirIndex(d image.Point) int {
	for i, n := range neighbours8 {
		if n == d {
			return i
		}
	}
	return -1
}

// TraceBoundary walks the outer boundary of the 8-connected region
// holding start, which must be the region's first pixel in scan order.
// Moore neighbour tracing, with Jacob's stopping criterion.
func (m *Mask) TraceBoundary(start image.Point) Contour {
	contour := Contour{start}
	p := start
	back := 4 // came in from the west; nothing set there, given scan order
	firstDir := -1

	for steps := 0; steps < 4*len(m.bits)+8; steps++ {
		found := -1
		for i := 1; i <= 8; i++ {
			d := (back + i) % 8
			if q := p.Add(neighbours8[d]); m.Get(q.X, q.Y) {
				found = d
				break
			}
		}
		if found < 0 {
			return contour // isolated pixel
		}
		if p == start && found == firstDir {
			break
		}
		if firstDir < 0 {
			firstDir = found
		}

		next := p.Add(neighbours8[found])
		prev := p.Add(neighbours8[(found+7)%8])
		back = dirIndex(prev.Sub(next))
		p = next
		contour = append(contour, p)
	}

	if len(contour) > 1 && contour[len(contour)-1] == start {
		contour = contour[:len(contour)-1]
	}
	return contour
}

// ExternalContours traces the outer boundary of every 8-connected
// region, in scan order.
func (m *Mask) ExternalContours() []Contour {
	out := []Contour{}
	for _, seed := range m.Components() {
		out = append(out, m.TraceBoundary(seed))
	}
	return out
}

// ArcLength is the perimeter of the closed contour.
func (c Contour) ArcLength() float64 {
	if len(c) < 2 {
		return 0
	}
	l := 0.0
	for i := range c {
		l += segLen(c[i], c[(i+1)%len(c)])
	}
	return l
}

// Area is the absolute shoelace area of the polygon through the
// contour's pixel centers.
func (c Contour) Area() float64 {
	a := 0
	for i := range c {
		p, q := c[i], c[(i+1)%len(c)]
		a += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(float64(a)) / 2
}

// PointAt returns the point at arc distance dist along the closed
// contour, interpolating linearly between vertices.
func (c Contour) PointAt(dist float64) (float64, float64) {
	if len(c) == 0 {
		return 0, 0
	}
	running := 0.0
	for i := range c {
		p, q := c[i], c[(i+1)%len(c)]
		l := segLen(p, q)
		if l > 0 && running+l >= dist {
			alpha := (dist - running) / l
			return float64(p.X) + alpha*float64(q.X-p.X), float64(p.Y) + alpha*float64(q.Y-p.Y)
		}
		running += l
	}
	return float64(c[0].X), float64(c[0].Y)
}

func segLen(p, q image.Point) float64 {
	return math.Hypot(float64(q.X-p.X), float64(q.Y-p.Y))
}
