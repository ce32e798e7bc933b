package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeu5/traffic-signal-rl/logging"
	_ "modernc.org/sqlite"
)

// fixed width so stored times sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunSummary is one row of the runs table with its episode count
type RunSummary struct {
	ID       string
	Mode     string
	Dir      string
	Status   string
	Started  time.Time
	Finished *time.Time
	Episodes int
	Total    int
}

// Ledger records runs and their episodes in a sqlite file
type Ledger struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

var _ Sink = &Ledger{}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return errors.New("ledger path is required")
	}
	if l.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", l.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	l.db = db
	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			dir TEXT NOT NULL,
			total INTEGER NOT NULL,
			status TEXT NOT NULL,
			started TEXT NOT NULL,
			finished TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			run_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			epsilon REAL NOT NULL,
			reward REAL NOT NULL,
			cumulative_wait REAL NOT NULL,
			avg_queue_length REAL NOT NULL,
			sim_seconds REAL NOT NULL,
			train_seconds REAL NOT NULL,
			PRIMARY KEY (run_id, episode)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create ledger tables: %w", err)
		}
	}
	return nil
}

func (l *Ledger) getDB() (*sql.DB, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return nil, errors.New("ledger is not initialized")
	}
	return l.db, nil
}

func (l *Ledger) Start(ctx context.Context, run Run) error {
	db, err := l.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, dir, total, status, started)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			dir = excluded.dir,
			total = excluded.total,
			status = excluded.status,
			started = excluded.started
	`, run.ID, run.Mode, run.Dir, run.Total, StatusRunning, run.Started.UTC().Format(timeLayout))
	if err != nil {
		logging.Warn("Failed to record run", logging.Report, "run", run.ID, "error", err)
	}
	return err
}

func (l *Ledger) Episode(ctx context.Context, ep Episode) error {
	db, err := l.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO episodes (run_id, episode, epsilon, reward, cumulative_wait, avg_queue_length, sim_seconds, train_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, episode) DO UPDATE SET
			epsilon = excluded.epsilon,
			reward = excluded.reward,
			cumulative_wait = excluded.cumulative_wait,
			avg_queue_length = excluded.avg_queue_length,
			sim_seconds = excluded.sim_seconds,
			train_seconds = excluded.train_seconds
	`, ep.RunID, ep.Episode, ep.Epsilon, ep.Reward, ep.CumulativeWait, ep.AvgQueueLength, ep.SimSeconds, ep.TrainSeconds)
	if err != nil {
		logging.Warn("Failed to record episode", logging.Report, "run", ep.RunID, "episode", ep.Episode, "error", err)
	}
	return err
}

func (l *Ledger) Finish(ctx context.Context, runID string, status string) error {
	db, err := l.getDB()
	if err == nil {
		_, err = db.ExecContext(ctx, `UPDATE runs SET status = ?, finished = ? WHERE id = ?`,
			status, time.Now().UTC().Format(timeLayout), runID)
	}
	if err != nil {
		logging.Warn("Failed to record end of run", logging.Report, "run", runID, "status", status, "error", err)
	}
	return err
}

// ListRuns returns every recorded run, the most recent first
func (l *Ledger) ListRuns(ctx context.Context) ([]RunSummary, error) {
	db, err := l.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.mode, r.dir, r.status, r.started, r.finished, r.total,
			(SELECT COUNT(*) FROM episodes e WHERE e.run_id = r.id)
		FROM runs r
		ORDER BY r.started DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunSummary, 0)
	for rows.Next() {
		var (
			s        RunSummary
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Mode, &s.Dir, &s.Status, &started, &finished, &s.Total, &s.Episodes); err != nil {
			return nil, err
		}
		if s.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse start of run %s: %w", s.ID, err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse end of run %s: %w", s.ID, err)
			}
			s.Finished = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Episodes returns the episodes recorded for runID in order
func (l *Ledger) Episodes(ctx context.Context, runID string) ([]Episode, error) {
	db, err := l.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, episode, epsilon, reward, cumulative_wait, avg_queue_length, sim_seconds, train_seconds
		FROM episodes WHERE run_id = ? ORDER BY episode
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Episode, 0)
	for rows.Next() {
		var ep Episode
		if err := rows.Scan(&ep.RunID, &ep.Episode, &ep.Epsilon, &ep.Reward, &ep.CumulativeWait, &ep.AvgQueueLength, &ep.SimSeconds, &ep.TrainSeconds); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
