package lucky

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/abworrall/luckystack/pkg/emath"
)

// Placement picks how alignment points are laid out over the object.
type Placement int

const (
	Uniform      Placement = iota // concentric rings following the silhouette
	FeatureBased                  // on the strongest corners
)

func (p Placement) String() string {
	switch p {
	case Uniform:
		return "uniform"
	case FeatureBased:
		return "features"
	}
	return fmt.Sprintf("placement(%d)", int(p))
}

func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(s) {
	case "uniform", "":
		return Uniform, nil
	case "features", "feature", "featurebased":
		return FeatureBased, nil
	}
	return Uniform, fmt.Errorf("no placement named '%s': %w", s, ErrBadConfig)
}

const (
	maxFeaturePoints    = 150
	featureQualityLevel = 0.25 // corners weaker than this fraction of the strongest are ignored
)

// An AlignmentPoint is a square patch of the reference frame, used as
// an anchor for local alignment.
type AlignmentPoint struct {
	X, Y int // center
	Size int
}

func (ap AlignmentPoint) String() string {
	return fmt.Sprintf("AP(%d,%d;%d)", ap.X, ap.Y, ap.Size)
}

// Rect is the patch on the reference frame. It may hang off the edge.
func (ap AlignmentPoint) Rect() image.Rectangle {
	min := image.Point{ap.X - ap.Size/2, ap.Y - ap.Size/2}
	return image.Rectangle{Min: min, Max: min.Add(image.Point{ap.Size, ap.Size})}
}

// PlanAlignmentPoints lays out alignment points of the given size over
// the object in img. The result is deterministic for a given input; an
// empty list means no object was found, and the caller should stick to
// global alignment.
func PlanAlignmentPoints(img image.Image, size int, placement Placement) []AlignmentPoint {
	if size <= 0 || isEmpty(img) {
		return nil
	}

	var centers []image.Point
	switch placement {
	case FeatureBased:
		centers = featureCenters(Gray(img), size)
	default:
		centers = uniformCenters(Gray(img), size)
	}

	aps := make([]AlignmentPoint, 0, len(centers))
	for _, c := range centers {
		aps = append(aps, AlignmentPoint{X: c.X, Y: c.Y, Size: size})
	}
	return aps
}

type corner struct {
	image.Point
	strength float64
}

// featureCenters picks Shi-Tomasi corners: the smaller eigenvalue of
// the gradient structure tensor summed over a 3x3 window.
func featureCenters(g emath.FloatGrid, size int) []image.Point {
	g = g.BoxBlur(3)
	gx, gy := g.Sobel()
	w, h := g.Dx(), g.Dy()

	xx, xy, yy := g.NewFromThis(), g.NewFromThis(), g.NewFromThis()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := gx.Get(x, y), gy.Get(x, y)
			xx.Set(x, y, dx*dx)
			xy.Set(x, y, dx*dy)
			yy.Set(x, y, dy*dy)
		}
	}
	xx, xy, yy = xx.BoxBlur(3), xy.BoxBlur(3), yy.BoxBlur(3)

	eig := g.NewFromThis()
	maxEig := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a, b, c := xx.Get(x, y), xy.Get(x, y), yy.Get(x, y)
			l := (a+c)/2 - math.Sqrt((a-c)*(a-c)/4+b*b)
			eig.Set(x, y, l)
			if l > maxEig {
				maxEig = l
			}
		}
	}
	if maxEig <= 0 {
		return nil
	}

	corners := []corner{}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := eig.Get(x, y)
			if v < featureQualityLevel*maxEig || !isLocalMax(&eig, x, y) {
				continue
			}
			corners = append(corners, corner{image.Point{x, y}, v})
		}
	}

	// Strongest first; scan order breaks ties
	sort.SliceStable(corners, func(i, j int) bool { return corners[i].strength > corners[j].strength })

	minDist := float64(size / 2)
	out := []image.Point{}
	for _, c := range corners {
		if len(out) >= maxFeaturePoints {
			break
		}
		tooClose := false
		for _, p := range out {
			dx, dy := float64(p.X-c.X), float64(p.Y-c.Y)
			if dx*dx+dy*dy < minDist*minDist {
				tooClose = true
				break
			}
		}
		if !tooClose {
			out = append(out, c.Point)
		}
	}
	return out
}

func isLocalMax(g *emath.FloatGrid, x, y int) bool {
	v := g.Get(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if g.GetClamped(x+dx, y+dy) > v {
				return false
			}
		}
	}
	return true
}

// uniformCenters walks rings inward from the object's silhouette,
// dropping a point every size/2 pixels of perimeter; each ring sits
// one AP size inside the last.
func uniformCenters(g emath.FloatGrid, size int) []image.Point {
	mask := g.Binarize(g.OtsuThreshold())
	contours := mask.ExternalContours()
	if len(contours) == 0 {
		return nil
	}
	seeds := mask.Components()
	object := mask.Region(seeds[largestContour(contours)])
	object = object.FillHoles()

	spacing := float64(emath.MaxInt(1, size/2))
	mask = object.Erode(emath.MaxInt(1, size/2))

	out := []image.Point{}
	for mask.Count() > 0 {
		ring := mask.ExternalContours()
		contour := ring[largestContour(ring)]

		arcLen := contour.ArcLength()
		n := emath.MaxInt(1, int(math.Ceil(arcLen/spacing)))
		for i := 0; i < n; i++ {
			x, y := contour.PointAt(arcLen * float64(i) / float64(n))
			out = append(out, image.Point{int(math.Round(x)), int(math.Round(y))})
		}

		next := mask.Erode(emath.MaxInt(2, size))
		if next.Equal(&mask) {
			break // the mask fills the frame; erosion can't make progress
		}
		mask = next
	}
	return out
}

func largestContour(contours []emath.Contour) int {
	best, bestArea := 0, -1.0
	for i, c := range contours {
		if a := c.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}
