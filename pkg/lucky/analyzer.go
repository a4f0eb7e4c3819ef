package lucky

import (
	"image"

	"github.com/abworrall/luckystack/pkg/emath"
)

const (
	qualityBlurSigma       = 0.5
	qualityGradientCeiling = 200.0 // hot pixels and cosmic rays shouldn't dominate the score

	objectSearchSize = 256 // downsample until the smaller side is no bigger than this
)

// EstimateQuality scores the sharpness of a frame: the mean of the
// (capped) sobel gradient magnitude over a lightly blurred grayscale
// copy. Higher is sharper; a featureless frame scores zero.
func EstimateQuality(img image.Image) float64 {
	g := Gray(img)
	if g.Empty() {
		return 0
	}
	blurred := g.GaussianBlur(3, qualityBlurSigma)
	mag := blurred.GradientMagnitude(qualityGradientCeiling)
	return mag.Mean()
}

// FindObject returns a box around the bright object in the frame, in
// the frame's coordinates. It binarizes a blurred gray copy (Otsu) and
// bounds all the foreground. If there is nothing, or the box's smaller
// side is less than minSize, it returns the empty rectangle.
func FindObject(img image.Image, minSize int) image.Rectangle {
	g := Gray(img)
	if g.Empty() {
		return image.Rectangle{}
	}

	// Work on a smaller copy; we only need a rough box.
	scale := 1
	for emath.MinInt(g.Dx(), g.Dy()) > objectSearchSize {
		g = g.DownSample()
		scale *= 2
	}

	g = g.BoxBlur(3)
	mask := g.Binarize(g.OtsuThreshold())
	box := mask.BoundingBox()
	if box.Empty() {
		return image.Rectangle{}
	}

	b := img.Bounds()
	box = image.Rect(box.Min.X*scale, box.Min.Y*scale, box.Max.X*scale, box.Max.Y*scale)
	box = box.Add(b.Min).Intersect(b)

	if emath.MinInt(box.Dx(), box.Dy()) < minSize {
		return image.Rectangle{}
	}
	return box
}

// CropOnObject returns a w x h window centered on the object, or on the
// middle of the frame if no object was found. Any part of the window
// outside the frame is black, so the result is always exactly w x h.
func CropOnObject(img image.Image, w, h int) *image.RGBA64 {
	crop, _ := cropOnObject(img, w, h)
	return crop
}

// cropOnObject also returns the part of the crop that came from real
// frame pixels.
func cropOnObject(img image.Image, w, h int) (*image.RGBA64, image.Rectangle) {
	if isEmpty(img) {
		return Crop(nil, image.Rect(0, 0, w, h)), image.Rectangle{}
	}
	center := RectCenter(img.Bounds())
	if box := FindObject(img, 0); !box.Empty() {
		center = RectCenter(box)
	}
	window := windowAround(center, w, h)
	return Crop(img, window), window.Intersect(img.Bounds()).Sub(window.Min)
}

// CenterObject is like CropOnObject, but hands back the frame untouched
// if there is no object to center on.
func CenterObject(img image.Image, w, h int) image.Image {
	box := FindObject(img, 0)
	if box.Empty() {
		return img
	}
	return Crop(img, windowAround(RectCenter(box), w, h))
}

func windowAround(c image.Point, w, h int) image.Rectangle {
	min := image.Point{c.X - w/2, c.Y - h/2}
	return image.Rectangle{Min: min, Max: min.Add(image.Point{w, h})}
}
