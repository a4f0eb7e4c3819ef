package lucky

import (
	"fmt"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/google/uuid"
	"github.com/skypies/util/histogram"
)

// RunStats describes one stacking run. It is filled in concurrently
// by the workers, so the recorders go through a mutex.
type RunStats struct {
	RunID      string
	Percentage int
	Selected   int // frames picked by quality
	Added      int // frames that made it into the accumulators
	Skipped    int // unreadable, or zero weight
	APs        int // alignment points in use (0 means global only)
	Elapsed    time.Duration

	mu         sync.Mutex
	addLatency *hdrhistogram.Histogram // microseconds per Add
	scores     histogram.Histogram     // selected scores, on a 0..255 scale
	lowResp    int                     // global shifts that were gated to zero
}

func NewRunStats(pct int) *RunStats {
	return &RunStats{
		RunID:      uuid.New().String(),
		Percentage: pct,
		addLatency: hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3),
		scores:     histogram.Histogram{NumBuckets: 256, ValMin: 0, ValMax: 256},
	}
}

func (s *RunStats) recordScore(score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores.Add(histogram.ScalarVal(int(score * 255)))
}

func (s *RunStats) recordAdd(d time.Duration, shift ShiftVector, minResponse float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	s.addLatency.RecordValue(us) // values past the max are dropped
	if shift.Response < minResponse {
		s.lowResp++
	}
}

// AddLatency reports the median and 99th percentile of the per-frame
// align+accumulate time.
func (s *RunStats) AddLatency() (p50, p99 time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addLatency.TotalCount() == 0 {
		return 0, 0
	}
	return time.Duration(s.addLatency.ValueAtQuantile(50)) * time.Microsecond,
		time.Duration(s.addLatency.ValueAtQuantile(99)) * time.Microsecond
}

// LowResponse is how many frames had their global shift thrown away
// for lack of correlation.
func (s *RunStats) LowResponse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowResp
}

func (s *RunStats) ScoreHistogram() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%v", s.scores)
}

func (s *RunStats) String() string {
	p50, p99 := s.AddLatency()
	return fmt.Sprintf("run %s: %d%%, %d selected, %d added, %d skipped, %d low-response, %d APs, add p50 %s p99 %s, took %s",
		s.RunID[:8], s.Percentage, s.Selected, s.Added, s.Skipped, s.LowResponse(), s.APs, p50, p99, s.Elapsed.Round(time.Millisecond))
}
