// Package qcache keeps frame quality scores in SQLite, so that
// restacking the same capture at different percentages doesn't pay
// for rescoring every frame.
package qcache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// scorer identifies the quality metric; bump it when the metric
// changes, and old scores stop matching.
const scorer = "sobel-mean/v1"

// Store wraps the sqlite database. It implements lucky.QualityCache.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite has one writer; let database/sql queue the workers
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS frame_scores (
            name TEXT NOT NULL,
            scorer TEXT NOT NULL,
            score REAL NOT NULL,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (name, scorer)
        );`,
		`CREATE TABLE IF NOT EXISTS stack_runs (
            id TEXT PRIMARY KEY,
            percentage INTEGER NOT NULL,
            frames INTEGER NOT NULL,
            skipped INTEGER NOT NULL,
            aps INTEGER NOT NULL,
            outputs TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) GetScore(name string) (float64, bool) {
	var score float64
	err := s.DB.QueryRow(`SELECT score FROM frame_scores WHERE name = ? AND scorer = ?`, name, scorer).Scan(&score)
	if err != nil {
		return 0, false
	}
	return score, true
}

func (s *Store) PutScore(name string, score float64) error {
	_, err := s.DB.Exec(`INSERT INTO frame_scores (name, scorer, score, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(name, scorer) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		name, scorer, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put score %s: %w", name, err)
	}
	return nil
}

// Forget drops every cached score whose name starts with prefix.
func (s *Store) Forget(prefix string) (int64, error) {
	res, err := s.DB.Exec(`DELETE FROM frame_scores WHERE substr(name, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RunRecord is the summary of one stack that gets logged to the db.
type RunRecord struct {
	ID         string
	Percentage int
	Frames     int
	Skipped    int
	APs        int
	Outputs    string
	CreatedAt  time.Time
}

// RecordRun stores a run summary. An empty ID gets a fresh one.
func (s *Store) RecordRun(r RunRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, err := uuid.Parse(r.ID); err != nil {
		return "", fmt.Errorf("run id %q: %w", r.ID, err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.Exec(`INSERT INTO stack_runs (id, percentage, frames, skipped, aps, outputs, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`, r.ID, r.Percentage, r.Frames, r.Skipped, r.APs, r.Outputs, r.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return r.ID, nil
}

// GetRun fetches a run summary by ID.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	r := RunRecord{}
	err := s.DB.QueryRow(`SELECT id, percentage, frames, skipped, aps, outputs, created_at FROM stack_runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Percentage, &r.Frames, &r.Skipped, &r.APs, &r.Outputs, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
