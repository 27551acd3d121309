package db

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy controls experiment run cleanup. A zero field is not
// applied; a run is kept when any applied rule keeps it.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
}

// PruneRuns deletes finished runs outside policy together with their
// results. Running runs and runs with unreadable timestamps are kept.
// With dryRun nothing is deleted and Deleted counts what would be.
func (s *Store) PruneRuns(ctx context.Context, policy RetentionPolicy, now time.Time, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = now.UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, started_at, status FROM experiment_runs ORDER BY started_at DESC`)
	if err != nil {
		return PruneResult{}, fmt.Errorf("list experiment runs: %w", err)
	}

	type runRow struct {
		id        string
		startedAt time.Time
		status    string
		parseErr  error
	}
	var runs []runRow
	for rows.Next() {
		var id, startedAt, status string
		if err := rows.Scan(&id, &startedAt, &status); err != nil {
			_ = rows.Close()
			return PruneResult{}, fmt.Errorf("scan experiment run: %w", err)
		}
		parsed, parseErr := ParseTime(startedAt)
		runs = append(runs, runRow{id: id, startedAt: parsed, status: status, parseErr: parseErr})
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return PruneResult{}, fmt.Errorf("iterate experiment runs: %w", err)
	}

	res := PruneResult{Considered: len(runs)}
	for idx, row := range runs {
		keep := row.status == StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 {
			keep = row.parseErr != nil || row.startedAt.After(cutoff)
		}
		if keep {
			res.Kept++
			continue
		}
		if !dryRun {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM experiment_runs WHERE run_id=?`, row.id); err != nil {
				return res, fmt.Errorf("delete experiment run %s: %w", row.id, err)
			}
		}
		res.Deleted++
	}
	return res, nil
}
