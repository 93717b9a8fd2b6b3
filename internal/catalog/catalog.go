// Package catalog indexes completed trials in a SQLite database so a sweep
// can be listed without walking the output directory.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/san-kum/autosim/internal/sweep"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "catalog",
})

// timeLayout is fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Catalog struct {
	*sql.DB
}

// Entry is one row of the trials table.
type Entry struct {
	RunID      string
	K          float64
	Count      int
	File       string
	Records    int
	Elapsed    float64
	StartedAt  time.Time
	FinishedAt time.Time
}

func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trials (
			run_id            TEXT NOT NULL,
			k                 DOUBLE NOT NULL,
			count             INTEGER NOT NULL,
			file              TEXT NOT NULL,
			records           INTEGER NOT NULL,
			elapsed_s         DOUBLE NOT NULL,
			started_at        TEXT NOT NULL,
			finished_at       TEXT NOT NULL,
			PRIMARY KEY (run_id, count, k)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create trials table: %w", err)
	}

	return &Catalog{db}, nil
}

// NewRunID returns an identifier for one invocation of the sweep.
func NewRunID() string {
	return uuid.NewString()
}

// Record stores a finished trial. Re-recording the same (run, count, k)
// replaces the earlier row.
func (c *Catalog) Record(runID string, t sweep.TrialSummary) error {
	_, err := c.Exec(`
		INSERT OR REPLACE INTO trials
			(run_id, k, count, file, records, elapsed_s, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		t.K,
		t.Count,
		t.Path,
		t.Records,
		t.Elapsed().Seconds(),
		t.Started.UTC().Format(timeLayout),
		t.Finished.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record trial k=%.3f count=%d: %w", t.K, t.Count, err)
	}
	return nil
}

// List returns every recorded trial, oldest run first and in sweep order
// within a run.
func (c *Catalog) List() ([]Entry, error) {
	return c.query(`
		SELECT run_id, k, count, file, records, elapsed_s, started_at, finished_at
		FROM trials
		ORDER BY started_at, count, k`)
}

// ListRun returns the trials of one run in sweep order.
func (c *Catalog) ListRun(runID string) ([]Entry, error) {
	return c.query(`
		SELECT run_id, k, count, file, records, elapsed_s, started_at, finished_at
		FROM trials
		WHERE run_id = ?
		ORDER BY count, k`, runID)
}

func (c *Catalog) query(q string, args ...any) ([]Entry, error) {
	rows, err := c.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var started, finished string
		if err := rows.Scan(&e.RunID, &e.K, &e.Count, &e.File, &e.Records, &e.Elapsed, &started, &finished); err != nil {
			return nil, err
		}
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Recorder is a sweep.Observer that writes each completed trial to the
// catalog. Insert failures are logged; the sweep keeps going.
type Recorder struct {
	cat   *Catalog
	runID string
}

func NewRecorder(cat *Catalog, runID string) *Recorder {
	return &Recorder{cat: cat, runID: runID}
}

func (r *Recorder) OnTick(sweep.Snapshot) {}

func (r *Recorder) OnTrialComplete(t sweep.TrialSummary) {
	if err := r.cat.Record(r.runID, t); err != nil {
		log.WithFields(logrus.Fields{"run": r.runID}).Errorf("catalog: %v", err)
	}
}

func (r *Recorder) RunID() string { return r.runID }
