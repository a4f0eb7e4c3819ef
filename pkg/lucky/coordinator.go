package lucky

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressFunc is called from worker goroutines as each unit of work
// completes. It must be safe for concurrent use.
type ProgressFunc func(done, total int)

// A QualityCache remembers frame scores between runs, keyed by the
// name a FrameNamer gives each frame.
type QualityCache interface {
	GetScore(name string) (float64, bool)
	PutScore(name string, score float64) error
}

// A Coordinator drives a full run over a FrameSource: score every
// frame, rank them, then stack the best N% for each configured N. The
// heavy lifting is spread over a pool of Config.Workers() goroutines.
type Coordinator struct {
	Source   FrameSource
	Config   Config
	Progress ProgressFunc // may be nil
	Cache    QualityCache // may be nil
}

// A Result is one finished stack.
type Result struct {
	Percentage int
	Composite  *Composite
	APs        []AlignmentPoint
	Stats      *RunStats
}

// Basename is "stacked-<pct>-<local-N|global>-<timestamp>".
func (r Result) Basename(t time.Time) string {
	mode := "global"
	if len(r.APs) > 0 {
		mode = fmt.Sprintf("local-%d", len(r.APs))
	}
	return fmt.Sprintf("stacked-%d-%s-%s", r.Percentage, mode, t.Format("20060102-150405"))
}

// Save writes the composite into dir once per format, returning the
// filenames. PNGs are tonemapped 8 bit previews; the rest keep the
// full range.
func (r Result) Save(dir string, formats []string, tonemapper string, t time.Time) ([]string, error) {
	var written []string
	for _, format := range formats {
		filename := filepath.Join(dir, r.Basename(t)+"."+format)
		var err error
		if format == "png" {
			var img image.Image
			if img, err = r.Composite.Tonemap(tonemapper); err == nil {
				err = WritePNG(img, filename)
			}
		} else {
			err = r.Composite.Write(filename)
		}
		if err != nil {
			return written, fmt.Errorf("save %s: %w", filename, err)
		}
		written = append(written, filename)
	}
	return written, nil
}

func (c *Coordinator) progress(done, total int) {
	if c.Progress != nil {
		c.Progress(done, total)
	}
}

// Run scores the frames once, then stacks once per percentage. Bad
// percentages are skipped. A stack that fails outright fails the run.
func (c *Coordinator) Run(ctx context.Context, pcts []int) ([]Result, error) {
	ranked, err := c.ScoreFrames(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, pct := range pcts {
		if pct < 1 || pct > 100 {
			log.Warnf("Skipping stack of %d%%", pct)
			continue
		}
		res, err := c.Stack(ctx, ranked, pct)
		if err != nil {
			return results, fmt.Errorf("stack %d%%: %w", pct, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// ScoreFrames estimates the quality of every frame, and returns them
// ranked best first with normalized scores. Frames that can't be
// decoded score zero.
func (c *Coordinator) ScoreFrames(ctx context.Context) ([]QualityRecord, error) {
	n := c.Source.FrameCount()
	if n == 0 {
		return nil, ErrNoFrames
	}

	tStart := time.Now()
	scores := make([]float64, n) // each worker writes only its own slots
	var done, failed, cached atomic.Int64

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < c.Config.Workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				score, hit, err := c.scoreFrame(i)
				if err != nil {
					log.Warnf("Scoring frame %d: %v", i, err)
					failed.Add(1)
				}
				if hit {
					cached.Add(1)
				}
				scores[i] = score
				c.progress(int(done.Add(1)), n)
			}
		}()
	}

	err := feed(ctx, jobs, n, func(i int) int { return i })
	wg.Wait()
	if err != nil {
		return nil, err
	}

	recs := make([]QualityRecord, n)
	for i, s := range scores {
		recs[i] = QualityRecord{Index: i, Score: s}
	}
	log.Infof("Scored %d frames (%d cached, %d unreadable) in %s", n, cached.Load(), failed.Load(),
		time.Since(tStart).Round(time.Millisecond))

	return NormalizeAndRank(recs), nil
}

func (c *Coordinator) scoreFrame(i int) (float64, bool, error) {
	name := ""
	if namer, ok := c.Source.(FrameNamer); ok && c.Cache != nil {
		name = namer.FrameName(i)
	}
	if name != "" {
		if score, ok := c.Cache.GetScore(name); ok {
			return score, true, nil
		}
	}

	f, err := c.Source.FrameAt(i)
	if err != nil {
		return 0, false, err
	}
	score := EstimateQuality(f.Image)

	if name != "" {
		if err := c.Cache.PutScore(name, score); err != nil {
			log.Warnf("Caching score for %s: %v", name, err)
		}
	}
	return score, false, nil
}

// feed sends job(0) .. job(n-1) until they run out or the context is
// cancelled. It always closes the channel.
func feed(ctx context.Context, jobs chan<- int, n int, job func(int) int) error {
	defer close(jobs)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobs <- job(i):
		}
	}
	return nil
}

// reference loads the best ranked frame that can actually be decoded.
func (c *Coordinator) reference(ranked []QualityRecord) (Frame, error) {
	for _, r := range ranked {
		f, err := c.Source.FrameAt(r.Index)
		if err == nil && !f.Empty() {
			return f, nil
		}
		log.Warnf("Reference candidate %d: %v", r.Index, err)
	}
	return Frame{}, ErrNoReference
}

// prepare sets up a fresh engine on the reference frame, planning
// alignment points on its cropped copy if local alignment is on. If
// no points can be placed, it carries on with global alignment only.
func (c *Coordinator) prepare(ref Frame) (*StackingEngine, []AlignmentPoint, error) {
	e := NewStackingEngine()
	ecfg := c.Config.EngineConfig()
	if err := e.Initialize(ref.Image, ecfg); err != nil {
		return nil, nil, err
	}
	if !c.Config.LocalAlign {
		return e, nil, nil
	}

	aps := PlanAlignmentPoints(e.Reference(), c.Config.APSize, c.Config.GetPlacement())
	if len(aps) == 0 {
		log.Warnf("No alignment points on %s, falling back to global alignment", ref)
		return e, nil, nil
	}

	ecfg.AlignmentPoints = aps
	if err := e.Initialize(ref.Image, ecfg); err != nil {
		return nil, nil, err
	}
	return e, aps, nil
}

// Plan returns the cropped reference for a ranking, and the alignment
// points that a stack would use on it.
func (c *Coordinator) Plan(ranked []QualityRecord) (*image.RGBA64, []AlignmentPoint, error) {
	ref, err := c.reference(ranked)
	if err != nil {
		return nil, nil, err
	}
	e, aps, err := c.prepare(ref)
	if err != nil {
		return nil, nil, err
	}
	return e.Reference(), aps, nil
}

// Stack aligns and accumulates the best pct% of the ranked frames.
// Frames are fed to the pool in index order, which keeps sequential
// sources happy; the result doesn't depend on the order.
func (c *Coordinator) Stack(ctx context.Context, ranked []QualityRecord, pct int) (Result, error) {
	res := Result{Percentage: pct, Stats: NewRunStats(pct)}
	stats := res.Stats
	tStart := time.Now()

	selected := Select(ranked, pct)
	if len(selected) == 0 {
		return res, ErrNoFrames
	}
	stats.Selected = len(selected)

	ref, err := c.reference(selected)
	if err != nil {
		return res, err
	}
	engine, aps, err := c.prepare(ref)
	if err != nil {
		return res, err
	}
	res.APs, stats.APs = aps, len(aps)

	weights := Weights(selected, c.Config.Weighting)
	order := make([]int, 0, len(selected))
	for _, r := range selected {
		order = append(order, r.Index)
		stats.recordScore(r.Score)
	}
	sort.Ints(order)

	log.Infof("Stacking %d%%: %d frames, reference %s, %d APs", pct, len(order), ref, len(aps))

	n := len(order)
	var done, unreadable atomic.Int64
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < c.Config.Workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				c.stackFrame(engine, i, weights[i], stats, &unreadable)
				c.progress(int(done.Add(1)), n)
			}
		}()
	}

	err = feed(ctx, jobs, n, func(i int) int { return order[i] })
	wg.Wait()
	if err != nil {
		return res, err
	}

	added, skipped := engine.Counts()
	stats.Added, stats.Skipped = added, skipped+int(unreadable.Load())

	comp, err := engine.Average()
	if err != nil {
		return res, err
	}
	res.Composite = comp
	stats.Elapsed = time.Since(tStart)
	log.Infof("Stacked %s", stats)

	return res, nil
}

func (c *Coordinator) stackFrame(engine *StackingEngine, i int, weight float64, stats *RunStats, unreadable *atomic.Int64) {
	f, err := c.Source.FrameAt(i)
	if err != nil {
		log.Warnf("Stacking frame %d: %v", i, err)
		unreadable.Add(1)
		return
	}

	tAdd := time.Now()
	shift, err := engine.Add(f.Image, weight)
	if err != nil {
		if !errors.Is(err, ErrFrameSkipped) {
			log.Warnf("Stacking %s: %v", f, err)
		}
		return
	}
	stats.recordAdd(time.Since(tAdd), shift, c.Config.GlobalMinResponse)
	log.Debugf("Added %s, weight %.3f, shift %s", f, weight, shift)
}
