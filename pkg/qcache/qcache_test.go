package qcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/abworrall/luckystack/pkg/lucky"
)

var _ lucky.QualityCache = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "scores.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScores(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.GetScore("/data/jupiter/0001.tif"); ok {
		t.Errorf("expected a miss on an empty store")
	}

	if err := s.PutScore("/data/jupiter/0001.tif", 12.5); err != nil {
		t.Fatalf("PutScore: %v", err)
	}
	if err := s.PutScore("/data/jupiter/0002.tif", 8); err != nil {
		t.Fatalf("PutScore: %v", err)
	}
	if err := s.PutScore("/data/saturn.ser#4", 3); err != nil {
		t.Fatalf("PutScore: %v", err)
	}
	if score, ok := s.GetScore("/data/jupiter/0001.tif"); !ok || score != 12.5 {
		t.Errorf("expected 12.5, got %f (%v)", score, ok)
	}

	// Rescoring overwrites
	if err := s.PutScore("/data/jupiter/0001.tif", 14); err != nil {
		t.Fatalf("PutScore: %v", err)
	}
	if score, _ := s.GetScore("/data/jupiter/0001.tif"); score != 14 {
		t.Errorf("expected 14 after the update, got %f", score)
	}

	n, err := s.Forget("/data/jupiter/")
	if err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 scores forgotten, got %d", n)
	}
	if _, ok := s.GetScore("/data/jupiter/0002.tif"); ok {
		t.Errorf("expected the jupiter scores to be gone")
	}
	if _, ok := s.GetScore("/data/saturn.ser#4"); !ok {
		t.Errorf("expected the saturn score to survive")
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.PutScore("frame", 1.5); err != nil {
		t.Fatalf("PutScore: %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if score, ok := s.GetScore("frame"); !ok || score != 1.5 {
		t.Errorf("expected 1.5 to persist, got %f (%v)", score, ok)
	}
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)

	when := time.Date(2024, 3, 1, 21, 4, 5, 0, time.UTC)
	id, err := s.RecordRun(RunRecord{Percentage: 25, Frames: 120, Skipped: 2, APs: 40, Outputs: "a.tif,a.png", CreatedAt: when})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated id")
	}

	r, err := s.GetRun(id)
	if err != nil || r == nil {
		t.Fatalf("GetRun: %v, %v", r, err)
	}
	if r.Percentage != 25 || r.Frames != 120 || r.Skipped != 2 || r.APs != 40 || r.Outputs != "a.tif,a.png" {
		t.Errorf("wrong record: %+v", r)
	}
	if !r.CreatedAt.Equal(when) {
		t.Errorf("expected %s, got %s", when, r.CreatedAt)
	}

	if _, err := s.RecordRun(RunRecord{ID: id, Percentage: 10}); err == nil {
		t.Errorf("expected an error reusing a run id")
	}
	if _, err := s.RecordRun(RunRecord{ID: "run-1"}); err == nil {
		t.Errorf("expected an error for a malformed id")
	}

	if r, err := s.GetRun("6c1d0c52-51a5-4d0c-8e0f-3f7f3e1f0b6a"); r != nil || err != nil {
		t.Errorf("unknown id: expected nil, nil; got %v, %v", r, err)
	}
}
