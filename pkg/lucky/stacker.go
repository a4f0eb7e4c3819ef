package lucky

import (
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"     // replace by "image/draw" at some point
	"golang.org/x/image/math/f64" // replace by "image/math/f64" at some point

	"github.com/abworrall/luckystack/pkg/emath"
)

type EngineState int

const (
	Idle EngineState = iota
	Initialized
	Accumulating
	Finalized
)

func (s EngineState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initialized:
		return "initialized"
	case Accumulating:
		return "accumulating"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EngineConfig is fixed for the lifetime of one run.
type EngineConfig struct {
	OutputWidth  int // <= 0 means "same as the reference"
	OutputHeight int

	Upsample        float64          // drizzle factor, >= 1.0
	AlignmentPoints []AlignmentPoint // empty means global alignment only

	GlobalMinResponse float64 // shifts with a weaker correlation are treated as zero
	LocalMinResponse  float64
}

func (c EngineConfig) String() string {
	return fmt.Sprintf("Engine[out %dx%d, x%.2f, %d APs, minresp %.2f/%.2f]", c.OutputWidth, c.OutputHeight,
		c.Upsample, len(c.AlignmentPoints), c.GlobalMinResponse, c.LocalMinResponse)
}

const (
	roiPadding = 5  // extra native pixels around an AP, so the interpolator has real neighbours
	bandRows   = 16 // canvas rows per local-accumulator lock
)

// A canvas is a weighted running sum of RGB samples.
type canvas struct {
	w, h   int
	rgb    []float64 // 3 values per pixel
	weight []float64
}

func newCanvas(w, h int) canvas {
	return canvas{w: w, h: h, rgb: make([]float64, 3*w*h), weight: make([]float64, w*h)}
}

func (c *canvas) bounds() image.Rectangle { return image.Rect(0, 0, c.w, c.h) }

// accumulate adds img*weight over r (clipped to the canvas).
func (c *canvas) accumulate(img *image.RGBA64, r image.Rectangle, weight float64) {
	r = r.Intersect(c.bounds()).Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			col := img.RGBA64At(x, y)
			i := y*c.w + x
			c.rgb[3*i+0] += weight * float64(col.R) / 0xFFFF
			c.rgb[3*i+1] += weight * float64(col.G) / 0xFFFF
			c.rgb[3*i+2] += weight * float64(col.B) / 0xFFFF
			c.weight[i] += weight
		}
	}
}

// geometry of one run: native frame size, canvas size and the factor
// between them.
type geometry struct {
	w, h   int
	cw, ch int
	f      float64
}

// A StackingEngine aligns frames against a reference and accumulates
// them into an up-sampled canvas. Add is safe to call from many
// goroutines at once; alignment and warping run unlocked, and only the
// accumulation itself is serialized (the global canvas under one
// mutex, the local canvas under per-row-band mutexes).
type StackingEngine struct {
	mu      sync.RWMutex // Add holds it for reading; Initialize, Reset and Average for writing
	state   atomic.Int32
	added   atomic.Int64
	skipped atomic.Int64

	cfg       EngineConfig
	geo       geometry
	reference *image.RGBA64
	refGray   emath.FloatGrid

	globalMu sync.Mutex
	global   canvas

	bands []sync.Mutex // one per bandRows rows of the local canvas
	local canvas
}

func NewStackingEngine() *StackingEngine {
	return &StackingEngine{}
}

func (e *StackingEngine) State() EngineState { return EngineState(e.state.Load()) }

// Counts reports how many frames were added and skipped since Initialize.
func (e *StackingEngine) Counts() (int, int) {
	return int(e.added.Load()), int(e.skipped.Load())
}

// CanvasSize is the size of the accumulators, before any border
// expansion to the output size.
func (e *StackingEngine) CanvasSize() image.Point {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return image.Point{e.geo.cw, e.geo.ch}
}

// Reference returns the cropped reference frame that fixes the stack's
// geometry; alignment points are expressed in its coordinates.
func (e *StackingEngine) Reference() *image.RGBA64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reference
}

// Initialize sets the reference frame and config, throwing away
// anything accumulated so far. The reference is cropped around its
// object and seeded into the global accumulator with weight 1.
func (e *StackingEngine) Initialize(reference image.Image, cfg EngineConfig) error {
	if isEmpty(reference) {
		return ErrNoReference
	}
	if cfg.Upsample < 1.0 {
		return fmt.Errorf("upsample %.2f, must be >= 1: %w", cfg.Upsample, ErrBadConfig)
	}

	rb := reference.Bounds()
	geo := geometry{w: rb.Dx(), h: rb.Dy(), f: cfg.Upsample}
	if cfg.OutputWidth > 0 {
		geo.w = emath.MinInt(geo.w, cfg.OutputWidth)
	}
	if cfg.OutputHeight > 0 {
		geo.h = emath.MinInt(geo.h, cfg.OutputHeight)
	}
	geo.cw, geo.ch = int(float64(geo.w)*geo.f), int(float64(geo.h)*geo.f)
	ref, refValid := cropOnObject(reference, geo.w, geo.h)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.geo = geo
	e.reference = ref
	e.refGray = Gray(ref)
	e.global = newCanvas(geo.cw, geo.ch)
	e.local = newCanvas(geo.cw, geo.ch)
	e.bands = make([]sync.Mutex, (geo.ch+bandRows-1)/bandRows)
	e.added.Store(0)
	e.skipped.Store(0)
	e.state.Store(int32(Initialized))

	seeded, cov := warpToCanvas(ref, refValid, ShiftVector{}, geo)
	e.global.accumulate(seeded, cov, 1.0)

	log.Debugf("Stacker initialized: %s, native %dx%d, canvas %dx%d", cfg, geo.w, geo.h, geo.cw, geo.ch)
	return nil
}

// Reset drops everything and goes back to Idle.
func (e *StackingEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = EngineConfig{}
	e.geo = geometry{}
	e.reference = nil
	e.refGray = emath.FloatGrid{}
	e.global, e.local = canvas{}, canvas{}
	e.bands = nil
	e.added.Store(0)
	e.skipped.Store(0)
	e.state.Store(int32(Idle))
}

// Add aligns img against the reference and accumulates it with the
// given weight. Frames that can't be used (no pixels, weight <= 0) are
// skipped with ErrFrameSkipped; the run carries on regardless.
func (e *StackingEngine) Add(img image.Image, weight float64) (ShiftVector, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.State() == Idle {
		return ShiftVector{}, ErrNoReference
	}
	if isEmpty(img) || !(weight > 0) {
		e.skipped.Add(1)
		return ShiftVector{}, fmt.Errorf("weight %.3f: %w", weight, ErrFrameSkipped)
	}

	frame, valid := cropOnObject(img, e.geo.w, e.geo.h)
	shift := EstimateShift(e.refGray, Gray(frame), e.cfg.GlobalMinResponse)

	var patches []localPatch
	if len(e.cfg.AlignmentPoints) > 0 {
		patches = alignLocally(frame, valid, e.refGray, shift, e.cfg, e.geo)
	}
	upsampled, cov := warpToCanvas(frame, valid, shift, e.geo)

	e.globalMu.Lock()
	e.global.accumulate(upsampled, cov, weight)
	e.globalMu.Unlock()

	for _, p := range patches {
		e.lockRows(p.cov)
		e.local.accumulate(p.img, p.cov, weight)
		e.unlockRows(p.cov)
	}

	e.added.Add(1)
	e.state.Store(int32(Accumulating))
	return shift, nil
}

// lockRows takes the band locks covering r, in ascending order.
func (e *StackingEngine) lockRows(r image.Rectangle) {
	for b := r.Min.Y / bandRows; b <= (r.Max.Y-1)/bandRows && b < len(e.bands); b++ {
		e.bands[b].Lock()
	}
}

func (e *StackingEngine) unlockRows(r image.Rectangle) {
	for b := r.Min.Y / bandRows; b <= (r.Max.Y-1)/bandRows && b < len(e.bands); b++ {
		e.bands[b].Unlock()
	}
}

// warpToCanvas undoes the shift and scales the valid part of the frame
// up to canvas resolution, returning the canvas pixels that hold real
// samples.
func warpToCanvas(frame *image.RGBA64, valid image.Rectangle, shift ShiftVector, geo geometry) (*image.RGBA64, image.Rectangle) {
	m := emath.Identity().Scale(geo.f, geo.f).Translate(-shift.DX, -shift.DY)
	dst := image.NewRGBA64(image.Rect(0, 0, geo.cw, geo.ch))
	if valid.Empty() {
		return dst, image.Rectangle{}
	}
	cov := warpInto(dst, frame, m, valid)
	return dst, cov
}

type localPatch struct {
	img *image.RGBA64
	cov image.Rectangle // canvas pixels to accumulate
}

// alignLocally estimates a shift per alignment point within the
// globally aligned frame, and renders each AP's up-sampled patch.
func alignLocally(frame *image.RGBA64, sr image.Rectangle, refGray emath.FloatGrid, global ShiftVector, cfg EngineConfig, geo geometry) []localPatch {
	bounds := frame.Bounds()
	if sr.Empty() {
		return nil
	}
	toRef := emath.Identity().Translate(-global.DX, -global.DY)
	aligned := image.NewRGBA64(bounds)
	valid := warpInto(aligned, frame, toRef, sr)
	alignedGray := Gray(aligned)

	f := geo.f
	patches := make([]localPatch, 0, len(cfg.AlignmentPoints))
	for _, ap := range cfg.AlignmentPoints {
		roi := ap.Rect().Intersect(bounds)
		if roi.Empty() {
			continue
		}
		padded := roi.Inset(-roiPadding).Intersect(bounds).Intersect(valid)
		if padded.Empty() {
			continue
		}

		local := EstimateShift(refGray.Crop(roi), alignedGray.Crop(roi), cfg.LocalMinResponse)

		scaledRoi := image.Rect(int(float64(roi.Min.X)*f), int(float64(roi.Min.Y)*f),
			int(float64(roi.Min.X)*f)+int(float64(roi.Dx())*f), int(float64(roi.Min.Y)*f)+int(float64(roi.Dy())*f))
		patch := image.NewRGBA64(scaledRoi)
		m := emath.Identity().Scale(f, f).Translate(-local.DX, -local.DY)
		cov := warpInto(patch, aligned, m, padded)
		if cov.Empty() {
			continue
		}
		patches = append(patches, localPatch{img: patch, cov: cov})
	}
	return patches
}

// warpInto renders src (restricted to sr) through the scale+translate
// m into dst, with Catmull-Rom interpolation. It returns the dst pixels
// that were written: those whose sample point falls inside sr.
func warpInto(dst *image.RGBA64, src image.Image, m emath.Aff3, sr image.Rectangle) image.Rectangle {
	draw.CatmullRom.Transform(dst, f64.Aff3(m), src, sr, draw.Src, nil)
	return coverage(m, sr).Intersect(dst.Bounds())
}

// coverage is the set of dst pixels j with floor((j+0.5-b)/a) inside
// [lo, hi) on each axis, for dst = a*src + b. Borderline pixels are
// left out, in case rounding in the interpolator went the other way.
// Only scale+translate transforms have a rectangular coverage; anything
// else covers nothing.
func coverage(m emath.Aff3, sr image.Rectangle) image.Rectangle {
	const eps = 1e-9
	if !m.IsAxisAligned() || m[0] <= 0 || m[4] <= 0 {
		return image.Rectangle{}
	}
	minX, minY := m.Apply(float64(sr.Min.X), float64(sr.Min.Y))
	maxX, maxY := m.Apply(float64(sr.Max.X), float64(sr.Max.Y))
	return image.Rect(
		int(math.Ceil(minX-0.5+eps)), int(math.Ceil(minY-0.5+eps)),
		int(math.Ceil(maxX-0.5-eps)), int(math.Ceil(maxY-0.5-eps)))
}

// Average combines the accumulators into the final image. Wherever a
// pixel got any local (per-AP) samples it uses only those; elsewhere
// it falls back to the global stack. The result is padded with black
// out to the configured output size (times the upsample factor).
func (e *StackingEngine) Average() (*Composite, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == Idle {
		return nil, ErrNoReference
	}
	if e.added.Load() == 0 {
		return nil, ErrNoFrames
	}

	out := NewComposite(e.geo.cw, e.geo.ch)
	for i := 0; i < e.geo.cw*e.geo.ch; i++ {
		src, w := e.global.rgb, e.global.weight[i]
		if e.local.weight[i] > 0 {
			src, w = e.local.rgb, e.local.weight[i]
		}
		if w <= 0 {
			continue
		}
		out.Pix[3*i+0] = src[3*i+0] / w
		out.Pix[3*i+1] = src[3*i+1] / w
		out.Pix[3*i+2] = src[3*i+2] / w
	}
	e.state.Store(int32(Finalized))

	ow, oh := e.cfg.OutputWidth, e.cfg.OutputHeight
	if ow <= 0 {
		ow = e.geo.w
	}
	if oh <= 0 {
		oh = e.geo.h
	}
	return out.ExpandBorders(int(float64(ow)*e.geo.f), int(float64(oh)*e.geo.f)), nil
}
