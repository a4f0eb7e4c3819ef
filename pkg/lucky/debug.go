package lucky

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
)

// DrawAlignmentPoints saves a PNG of the reference with each alignment
// point's box drawn over it. Boxes are colored by how much detail is
// under them, from red (flat) through to green (sharpest).
func DrawAlignmentPoints(ref image.Image, aps []AlignmentPoint, title, filename string) error {
	if isEmpty(ref) {
		return ErrNoReference
	}

	detail := make([]float64, len(aps))
	lo, hi := 0.0, 0.0
	for i, ap := range aps {
		detail[i] = EstimateQuality(Crop(ref, ap.Rect().Add(ref.Bounds().Min)))
		if i == 0 || detail[i] < lo {
			lo = detail[i]
		}
		if i == 0 || detail[i] > hi {
			hi = detail[i]
		}
	}

	dc := gg.NewContextForImage(ref)
	dc.SetLineWidth(1)
	for i, ap := range aps {
		t := 1.0
		if hi > lo {
			t = (detail[i] - lo) / (hi - lo)
		}
		col := colorful.Hsv(120*t, 1, 1).Clamped()
		dc.SetRGB(col.R, col.G, col.B)

		r := ap.Rect()
		dc.DrawRectangle(float64(r.Min.X)+0.5, float64(r.Min.Y)+0.5, float64(r.Dx()-1), float64(r.Dy()-1))
		dc.Stroke()
		dc.DrawPoint(float64(ap.X), float64(ap.Y), 1.5)
		dc.Fill()
	}

	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("%s: %d APs", title, len(aps)), 10, 20)
	return dc.SavePNG(filename)
}
