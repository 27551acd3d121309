package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store persists experiment runs and their per-iteration reports.
type Store struct {
	db *sql.DB
}

// NewStore creates a store for experiment persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord represents an experiment run row.
type RunRecord struct {
	RunID      string
	Name       string
	Model      string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    string
}

// ResultRecord is one analyzer report captured for a variant iteration.
type ResultRecord struct {
	Variant    string
	Iteration  int
	ReportJSON string
}

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("experiment run not found")

// StatusRunning is the status of a run that has not finished.
const StatusRunning = "running"

// CreateRun inserts a running experiment.
func (s *Store) CreateRun(ctx context.Context, runID, name, model string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO experiment_runs(run_id, name, model, status, started_at, finished_at, summary)
		VALUES(?, ?, ?, ?, ?, NULL, NULL)`,
		runID, name, model, StatusRunning, FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert experiment run: %w", err)
	}
	return nil
}

// AddResult records the report of one variant iteration.
func (s *Store) AddResult(ctx context.Context, runID string, rec ResultRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO experiment_results(run_id, variant, iteration, report) VALUES(?, ?, ?, ?)`,
		runID, rec.Variant, rec.Iteration, rec.ReportJSON)
	if err != nil {
		return fmt.Errorf("insert experiment result: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with the given status and summary JSON.
func (s *Store) FinishRun(ctx context.Context, runID, status, summary string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE experiment_runs SET status=?, finished_at=?, summary=? WHERE run_id=?`,
		status, FormatTime(time.Now()), nullableString(summary), runID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update experiment run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, name, model, status, started_at, COALESCE(finished_at, ''), COALESCE(summary, '')
		FROM experiment_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list experiment runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var (
			rec               RunRecord
			started, finished string
		)
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Model, &rec.Status, &started, &finished, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan experiment run: %w", err)
		}
		if rec.StartedAt, err = ParseTime(started); err != nil {
			return nil, err
		}
		if rec.FinishedAt, err = ParseTime(finished); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Results returns the recorded results of a run ordered by variant and iteration.
func (s *Store) Results(ctx context.Context, runID string) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variant, iteration, report FROM experiment_results
		WHERE run_id=? ORDER BY variant, iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("list experiment results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ResultRecord
	for rows.Next() {
		var rec ResultRecord
		if err := rows.Scan(&rec.Variant, &rec.Iteration, &rec.ReportJSON); err != nil {
			return nil, fmt.Errorf("scan experiment result: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRunStatus returns the status for a run id.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM experiment_runs WHERE run_id=?`, runID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
