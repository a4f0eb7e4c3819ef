package lucky

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// namedSource gives a SliceSource's frames stable names, so their
// scores can be cached.
type namedSource struct {
	SliceSource
}

func (n namedSource) FrameName(i int) string { return fmt.Sprintf("%s#%d", n.Name, i) }

type mapCache struct {
	mu     sync.Mutex
	scores map[string]float64
	hits   int
}

func (c *mapCache) GetScore(name string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.scores[name]
	if ok {
		c.hits++
	}
	return s, ok
}

func (c *mapCache) PutScore(name string, score float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scores[name] = score
	return nil
}

func testConfig() Config {
	c := NewConfig()
	c.NumWorkers = 3
	c.Weighting = "uniform"
	return c
}

// Blurry, sharp, softish.
func checkerSource() SliceSource {
	return SliceSource{Name: "checkers", Images: []image.Image{
		checkerImage(64, 64, 4, 2),
		checkerImage(64, 64, 4, 0),
		checkerImage(64, 64, 4, 1),
	}}
}

// The same blob, jittered by a pixel.
func blobSource() SliceSource {
	s := SliceSource{Name: "blobs"}
	for _, o := range []image.Point{{0, 0}, {1, 0}, {0, 1}, {-1, 0}, {0, -1}} {
		s.Images = append(s.Images, blobImage(64, 64, 32+float64(o.X), 32+float64(o.Y), 4))
	}
	return s
}

func TestScoreFrames(t *testing.T) {
	var calls, maxDone atomic.Int64
	c := Coordinator{Source: checkerSource(), Config: testConfig(), Progress: func(done, total int) {
		calls.Add(1)
		for {
			m := maxDone.Load()
			if int64(done) <= m || maxDone.CompareAndSwap(m, int64(done)) {
				break
			}
		}
	}}

	ranked, err := c.ScoreFrames(context.Background())
	if err != nil {
		t.Fatalf("ScoreFrames: %v", err)
	}
	expected := []int{1, 2, 0}
	for i, idx := range expected {
		if ranked[i].Index != idx {
			t.Errorf("rank %d: expected frame %d, got %s", i, idx, ranked[i])
		}
	}
	if ranked[0].Score != 1 || ranked[2].Score != 0 {
		t.Errorf("expected normalized scores, got %v", ranked)
	}
	if calls.Load() != 3 || maxDone.Load() != 3 {
		t.Errorf("expected 3 progress calls up to 3, got %d up to %d", calls.Load(), maxDone.Load())
	}
}

func TestScoreFramesCached(t *testing.T) {
	cache := &mapCache{scores: map[string]float64{}}
	c := Coordinator{Source: namedSource{checkerSource()}, Config: testConfig(), Cache: cache}

	first, err := c.ScoreFrames(context.Background())
	if err != nil {
		t.Fatalf("ScoreFrames: %v", err)
	}
	if len(cache.scores) != 3 || cache.hits != 0 {
		t.Fatalf("expected 3 scores stored and no hits, got %d and %d", len(cache.scores), cache.hits)
	}

	// Same names, but no pixels: everything has to come from the cache.
	c.Source = namedSource{SliceSource{Name: "checkers", Images: make([]image.Image, 3)}}
	second, err := c.ScoreFrames(context.Background())
	if err != nil {
		t.Fatalf("ScoreFrames: %v", err)
	}
	if cache.hits != 3 {
		t.Errorf("expected 3 cache hits, got %d", cache.hits)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("rank %d: %s then %s", i, first[i], second[i])
		}
	}
}

func TestScoreFramesErrors(t *testing.T) {
	c := Coordinator{Source: SliceSource{}, Config: testConfig()}
	if _, err := c.ScoreFrames(context.Background()); !errors.Is(err, ErrNoFrames) {
		t.Errorf("empty source: expected ErrNoFrames, got %v", err)
	}

	s := SliceSource{Name: "many"}
	for i := 0; i < 50; i++ {
		s.Images = append(s.Images, blackImage(8, 8))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Source = s
	if _, err := c.ScoreFrames(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: expected context.Canceled, got %v", err)
	}
}

func TestStackGlobal(t *testing.T) {
	src := blobSource()
	c := Coordinator{Source: src, Config: testConfig()}

	ranked, err := c.ScoreFrames(context.Background())
	if err != nil {
		t.Fatalf("ScoreFrames: %v", err)
	}
	res, err := c.Stack(context.Background(), ranked, 100)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}

	if res.Percentage != 100 || len(res.APs) != 0 {
		t.Errorf("expected a global stack of 100%%, got %d%% with %d APs", res.Percentage, len(res.APs))
	}
	if res.Stats.Selected != 5 || res.Stats.Added != 5 || res.Stats.Skipped != 0 {
		t.Errorf("expected 5 selected and added, got %s", res.Stats)
	}
	if res.Composite.Bounds() != image.Rect(0, 0, 64, 64) {
		t.Fatalf("expected 64x64, got %v", res.Composite.Bounds())
	}
	if r, _, _ := res.Composite.RGBAt(32, 32); math.Abs(r-1) > 0.01 {
		t.Errorf("expected the blob's peak in the middle, got %.3f", r)
	}
}

func TestStackSkipsUnreadable(t *testing.T) {
	src := blobSource()
	src.Images[2] = nil
	cfg := testConfig()
	cfg.Weighting = "quality"
	c := Coordinator{Source: src, Config: cfg}

	ranked, err := c.ScoreFrames(context.Background())
	if err != nil {
		t.Fatalf("ScoreFrames: %v", err)
	}
	if last := ranked[len(ranked)-1]; last.Index != 2 || last.Score != 0 {
		t.Errorf("expected the unreadable frame last with score 0, got %s", last)
	}

	res, err := c.Stack(context.Background(), ranked, 100)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if res.Stats.Added != 4 || res.Stats.Skipped != 1 {
		t.Errorf("expected 4 added, 1 skipped; got %s", res.Stats)
	}
}

func TestStackLocal(t *testing.T) {
	cfg := testConfig()
	cfg.LocalAlign = true
	cfg.APSize = 16
	c := Coordinator{Source: blobSource(), Config: cfg}

	ranked, err := c.ScoreFrames(context.Background())
	if err != nil {
		t.Fatalf("ScoreFrames: %v", err)
	}

	ref, aps, err := c.Plan(ranked)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if ref.Bounds() != image.Rect(0, 0, 64, 64) || len(aps) == 0 {
		t.Fatalf("expected a 64x64 reference with some APs, got %v and %d", ref.Bounds(), len(aps))
	}

	res, err := c.Stack(context.Background(), ranked, 40)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if len(res.APs) != len(aps) || res.Stats.APs != len(aps) {
		t.Errorf("expected the planned %d APs, got %d", len(aps), len(res.APs))
	}
	if res.Stats.Selected != 2 {
		t.Errorf("expected 2 frames at 40%%, got %d", res.Stats.Selected)
	}
	if r, _, _ := res.Composite.RGBAt(32, 32); math.Abs(r-1) > 0.02 {
		t.Errorf("expected the blob's peak in the middle, got %.3f", r)
	}
}

func TestStackNoReference(t *testing.T) {
	c := Coordinator{Source: SliceSource{Images: make([]image.Image, 3)}, Config: testConfig()}
	ranked := NormalizeAndRank([]QualityRecord{{0, 0}, {1, 0}, {2, 0}})
	if _, err := c.Stack(context.Background(), ranked, 100); !errors.Is(err, ErrNoReference) {
		t.Errorf("expected ErrNoReference, got %v", err)
	}
	if _, err := c.Stack(context.Background(), nil, 100); !errors.Is(err, ErrNoFrames) {
		t.Errorf("expected ErrNoFrames, got %v", err)
	}
}

func TestRun(t *testing.T) {
	c := Coordinator{Source: blobSource(), Config: testConfig()}

	results, err := c.Run(context.Background(), []int{0, 50, 100, 101})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 || results[0].Percentage != 50 || results[1].Percentage != 100 {
		t.Fatalf("expected stacks at 50%% and 100%%, got %d results", len(results))
	}
	if results[0].Stats.Selected != 2 || results[1].Stats.Selected != 5 {
		t.Errorf("expected 2 and 5 frames, got %d and %d", results[0].Stats.Selected, results[1].Stats.Selected)
	}
	if results[0].Stats.RunID == results[1].Stats.RunID {
		t.Errorf("each stack should get its own run id")
	}
}

func TestResultBasename(t *testing.T) {
	when := time.Date(2024, 3, 1, 21, 4, 5, 0, time.UTC)

	r := Result{Percentage: 25}
	if name := r.Basename(when); name != "stacked-25-global-20240301-210405" {
		t.Errorf("got %s", name)
	}
	r.APs = make([]AlignmentPoint, 3)
	if name := r.Basename(when); name != "stacked-25-local-3-20240301-210405" {
		t.Errorf("got %s", name)
	}
}

func TestResultSave(t *testing.T) {
	dir := t.TempDir()
	r := Result{Percentage: 10, Composite: testComposite()}

	files, err := r.Save(dir, []string{"tif", "png"}, "linear", time.Now())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(files) != 2 || !strings.HasSuffix(files[1], ".png") {
		t.Fatalf("expected a tif and a png, got %v", files)
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("%s: %v", f, err)
		}
	}

	if _, err := r.Save(dir, []string{"png"}, "sepia", time.Now()); !errors.Is(err, ErrBadConfig) {
		t.Errorf("bad tonemapper: expected ErrBadConfig, got %v", err)
	}
}
