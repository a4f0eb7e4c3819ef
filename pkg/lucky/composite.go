package lucky

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"golang.org/x/image/tiff"
)

// A Composite is the normalized result of a stack: linear RGB floats,
// nominally in [0,1]. It implements image.Image and hdr.Image.
type Composite struct {
	Rect image.Rectangle
	Pix  []float64 // 3 per pixel, row-major
}

func NewComposite(w, h int) *Composite {
	return &Composite{
		Rect: image.Rect(0, 0, w, h),
		Pix:  make([]float64, 3*w*h),
	}
}

// Implement image.Image
func (c *Composite) ColorModel() color.Model { return hdrcolor.RGBModel }
func (c *Composite) Bounds() image.Rectangle { return c.Rect }
func (c *Composite) At(x, y int) color.Color { return c.HDRAt(x, y) }

// Implement hdr.Image
func (c *Composite) HDRAt(x, y int) hdrcolor.Color {
	r, g, b := c.RGBAt(x, y)
	return hdrcolor.RGB{R: r, G: g, B: b}
}
func (c *Composite) Size() int { return c.Rect.Dx() * c.Rect.Dy() }

func (c *Composite) String() string {
	return fmt.Sprintf("Composite[%dx%d]", c.Rect.Dx(), c.Rect.Dy())
}

func (c *Composite) offset(x, y int) int {
	return 3 * ((y-c.Rect.Min.Y)*c.Rect.Dx() + (x - c.Rect.Min.X))
}

func (c *Composite) RGBAt(x, y int) (float64, float64, float64) {
	if !(image.Point{x, y}.In(c.Rect)) {
		return 0, 0, 0
	}
	i := c.offset(x, y)
	return c.Pix[i], c.Pix[i+1], c.Pix[i+2]
}

func (c *Composite) SetRGB(x, y int, r, g, b float64) {
	i := c.offset(x, y)
	c.Pix[i], c.Pix[i+1], c.Pix[i+2] = r, g, b
}

// ExpandBorders centers the composite in a w x h black frame. Axes that
// are already big enough are left alone.
func (c *Composite) ExpandBorders(w, h int) *Composite {
	cw, ch := c.Rect.Dx(), c.Rect.Dy()
	if w <= cw && h <= ch {
		return c
	}
	left, top := 0, 0
	if w > cw {
		left = (w - cw) / 2
	} else {
		w = cw
	}
	if h > ch {
		top = (h - ch) / 2
	} else {
		h = ch
	}

	out := NewComposite(w, h)
	for y := 0; y < ch; y++ {
		src := c.Pix[3*y*cw : 3*(y+1)*cw]
		copy(out.Pix[out.offset(left, top+y):], src)
	}
	return out
}

// ToRGBA64 clamps into a 16 bit per channel image.
func (c *Composite) ToRGBA64() *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, c.Rect.Dx(), c.Rect.Dy()))
	for y := 0; y < c.Rect.Dy(); y++ {
		for x := 0; x < c.Rect.Dx(); x++ {
			r, g, b := c.RGBAt(c.Rect.Min.X+x, c.Rect.Min.Y+y)
			img.SetRGBA64(x, y, color.RGBA64{to16(r), to16(g), to16(b), 0xFFFF})
		}
	}
	return img
}

func to16(v float64) uint16 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 0xFFFF
	}
	return uint16(v*0xFFFF + 0.5)
}

// Write picks an encoder from the filename's extension.
func (c *Composite) Write(filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".hdr":
		return c.WriteToHDR(filename)
	case ".tif", ".tiff":
		return c.WriteToTIFF(filename)
	case ".png":
		return WritePNG(c.ToRGBA64(), filename)
	}
	return fmt.Errorf("write '%s': unknown extension: %w", filename, ErrBadConfig)
}

// WriteToHDR outputs a HDR image. You can load this into photoshop or other HDR tools.
func (c *Composite) WriteToHDR(filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("Composite.WriteToHDR, open+w '%s': %v", filename, err)
	}
	defer writer.Close()

	if err := rgbe.Encode(writer, c); err != nil {
		return fmt.Errorf("Composite.WriteToHDR, encoding RGBE file: %v", err)
	}
	return nil
}

// WriteToTIFF outputs an uncompressed 16 bit TIFF.
func (c *Composite) WriteToTIFF(filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("Composite.WriteToTIFF, open+w '%s': %v", filename, err)
	}
	defer writer.Close()

	if err := tiff.Encode(writer, c.ToRGBA64(), &tiff.Options{Compression: tiff.Uncompressed}); err != nil {
		return fmt.Errorf("Composite.WriteToTIFF, encoding: %v", err)
	}
	return nil
}

func WritePNG(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return png.Encode(writer, img)
	}
}
