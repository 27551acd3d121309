package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/adkx/internal/db"
	"google.golang.org/genai"
)

// SQLiteService persists artifacts in the adkx database. Parts are stored
// as JSON.
type SQLiteService struct {
	db *sql.DB
}

// NewSQLiteService returns a service over an opened and migrated database.
func NewSQLiteService(sqlDB *sql.DB) *SQLiteService {
	return &SQLiteService{db: sqlDB}
}

func (s *SQLiteService) Save(ctx context.Context, key Key, part *genai.Part) (int, error) {
	if !validPart(part) {
		return 0, fmt.Errorf("save artifact %s: empty part", key.Filename)
	}
	key = key.scoped()
	payload, err := json.Marshal(part)
	if err != nil {
		return 0, fmt.Errorf("encode artifact: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save artifact: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version) + 1, 0) FROM artifacts
		WHERE app_name=? AND user_id=? AND session_id=? AND filename=?`,
		key.AppName, key.UserID, key.SessionID, key.Filename).Scan(&version); err != nil {
		return 0, fmt.Errorf("next artifact version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO artifacts(app_name, user_id, session_id, filename, version, part, create_time)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		key.AppName, key.UserID, key.SessionID, key.Filename, version, string(payload), db.FormatTime(time.Now())); err != nil {
		return 0, fmt.Errorf("insert artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit artifact: %w", err)
	}
	return version, nil
}

func (s *SQLiteService) Load(ctx context.Context, key Key, version int) (*genai.Part, error) {
	key = key.scoped()
	query := `SELECT part FROM artifacts WHERE app_name=? AND user_id=? AND session_id=? AND filename=?`
	args := []any{key.AppName, key.UserID, key.SessionID, key.Filename}
	if version < 0 {
		query += ` ORDER BY version DESC LIMIT 1`
	} else {
		query += ` AND version=?`
		args = append(args, version)
	}
	var payload string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Filename)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	part := &genai.Part{}
	if err := json.Unmarshal([]byte(payload), part); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return part, nil
}

func (s *SQLiteService) ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT filename FROM artifacts
		WHERE app_name=? AND user_id=? AND (session_id=? OR session_id='') ORDER BY filename`,
		appName, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *SQLiteService) Delete(ctx context.Context, key Key) error {
	key = key.scoped()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE app_name=? AND user_id=? AND session_id=? AND filename=?`,
		key.AppName, key.UserID, key.SessionID, key.Filename); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *SQLiteService) Versions(ctx context.Context, key Key) ([]int, error) {
	key = key.scoped()
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM artifacts
		WHERE app_name=? AND user_id=? AND session_id=? AND filename=? ORDER BY version`,
		key.AppName, key.UserID, key.SessionID, key.Filename)
	if err != nil {
		return nil, fmt.Errorf("list artifact versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan artifact version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Filename)
	}
	return out, nil
}
