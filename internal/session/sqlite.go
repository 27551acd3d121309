package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/adkx/internal/db"
)

// SQLiteService persists sessions in the adkx database.
type SQLiteService struct {
	db *sql.DB
}

// NewSQLiteService returns a service over an opened and migrated database.
func NewSQLiteService(sqlDB *sql.DB) *SQLiteService {
	return &SQLiteService{db: sqlDB}
}

// Create inserts a new session row and merges scoped initial state.
func (s *SQLiteService) Create(ctx context.Context, req *CreateRequest) (*Session, error) {
	if req.AppName == "" || req.UserID == "" {
		return nil, fmt.Errorf("app name and user id are required")
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	app, user, local := splitDelta(req.State)
	now := db.FormatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE app_name=? AND user_id=? AND id=?`,
		req.AppName, req.UserID, id).Scan(&exists)
	if err == nil {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check session: %w", err)
	}

	stateJSON, err := marshalState(local)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(app_name, user_id, id, state, create_time, update_time)
		VALUES(?, ?, ?, ?, ?, ?)`, req.AppName, req.UserID, id, stateJSON, now, now); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := mergeScopedTx(ctx, tx, req.AppName, req.UserID, app, user, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return s.Get(ctx, &GetRequest{AppName: req.AppName, UserID: req.UserID, SessionID: id})
}

// Get loads a session with its events.
func (s *SQLiteService) Get(ctx context.Context, req *GetRequest) (*Session, error) {
	var stateJSON, updated string
	err := s.db.QueryRowContext(ctx, `SELECT state, update_time FROM sessions WHERE app_name=? AND user_id=? AND id=?`,
		req.AppName, req.UserID, req.SessionID).Scan(&stateJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	local, err := unmarshalState(stateJSON)
	if err != nil {
		return nil, err
	}
	state, err := s.scopedState(ctx, req.AppName, req.UserID, local)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM events WHERE app_name=? AND user_id=? AND session_id=? ORDER BY seq`,
		req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := &Event{}
		if err := json.Unmarshal([]byte(payload), ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sess := New(req.AppName, req.UserID, req.SessionID, state)
	if ts, err := db.ParseTime(updated); err == nil {
		sess.lastUpdate = ts
	}
	sess.setEvents(filterEvents(events, req))
	return sess, nil
}

// List returns the sessions of a user without their events.
func (s *SQLiteService) List(ctx context.Context, req *ListRequest) ([]*Session, error) {
	query := `SELECT user_id, id, state, update_time FROM sessions WHERE app_name=?`
	args := []any{req.AppName}
	if req.UserID != "" {
		query += ` AND user_id=?`
		args = append(args, req.UserID)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type row struct {
		user, id, state, updated string
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.user, &r.id, &r.state, &r.updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	out := make([]*Session, 0, len(found))
	for _, r := range found {
		local, err := unmarshalState(r.state)
		if err != nil {
			return nil, err
		}
		state, err := s.scopedState(ctx, req.AppName, r.user, local)
		if err != nil {
			return nil, err
		}
		sess := New(req.AppName, r.user, r.id, state)
		if ts, err := db.ParseTime(r.updated); err == nil {
			sess.lastUpdate = ts
		}
		out = append(out, sess)
	}
	return out, nil
}

// Delete removes a session and, through the foreign key, its events.
func (s *SQLiteService) Delete(ctx context.Context, req *DeleteRequest) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE app_name=? AND user_id=? AND id=?`,
		req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendEvent stores ev and its state delta in one transaction, then
// applies it to sess.
func (s *SQLiteService) AppendEvent(ctx context.Context, sess *Session, ev *Event) error {
	if ev.Partial {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	now := db.FormatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stateJSON string
	err = tx.QueryRowContext(ctx, `SELECT state FROM sessions WHERE app_name=? AND user_id=? AND id=?`,
		sess.AppName, sess.UserID, sess.ID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID)
	}
	if err != nil {
		return fmt.Errorf("read session state: %w", err)
	}
	local, err := unmarshalState(stateJSON)
	if err != nil {
		return err
	}
	app, user, delta := splitDelta(ev.Actions.StateDelta)
	maps.Copy(local, delta)
	stateJSON, err = marshalState(local)
	if err != nil {
		return err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE app_name=? AND user_id=? AND session_id=?`,
		sess.AppName, sess.UserID, sess.ID).Scan(&seq); err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(id, app_name, user_id, session_id, invocation_id, author, timestamp, seq, payload)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, sess.AppName, sess.UserID, sess.ID, ev.InvocationID, ev.Author, db.FormatTime(ev.Timestamp), seq, string(payload)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET state=?, update_time=? WHERE app_name=? AND user_id=? AND id=?`,
		stateJSON, now, sess.AppName, sess.UserID, sess.ID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := mergeScopedTx(ctx, tx, sess.AppName, sess.UserID, app, user, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append event: %w", err)
	}

	sess.apply(ev)
	return nil
}

func (s *SQLiteService) scopedState(ctx context.Context, appName, userID string, local map[string]any) (map[string]any, error) {
	app, err := s.loadState(ctx, `SELECT state FROM app_states WHERE app_name=?`, appName)
	if err != nil {
		return nil, err
	}
	user, err := s.loadState(ctx, `SELECT state FROM user_states WHERE app_name=? AND user_id=?`, appName, userID)
	if err != nil {
		return nil, err
	}
	return mergeScopes(app, user, local), nil
}

func (s *SQLiteService) loadState(ctx context.Context, query string, args ...any) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scoped state: %w", err)
	}
	return unmarshalState(raw)
}

func mergeScopedTx(ctx context.Context, tx *sql.Tx, appName, userID string, app, user map[string]any, now string) error {
	if len(app) > 0 {
		if err := upsertState(ctx, tx, `SELECT state FROM app_states WHERE app_name=?`,
			`INSERT INTO app_states(app_name, state, update_time) VALUES(?, ?, ?)
			 ON CONFLICT(app_name) DO UPDATE SET state=excluded.state, update_time=excluded.update_time`,
			app, []any{appName}, now); err != nil {
			return err
		}
	}
	if len(user) > 0 {
		if err := upsertState(ctx, tx, `SELECT state FROM user_states WHERE app_name=? AND user_id=?`,
			`INSERT INTO user_states(app_name, user_id, state, update_time) VALUES(?, ?, ?, ?)
			 ON CONFLICT(app_name, user_id) DO UPDATE SET state=excluded.state, update_time=excluded.update_time`,
			user, []any{appName, userID}, now); err != nil {
			return err
		}
	}
	return nil
}

func upsertState(ctx context.Context, tx *sql.Tx, selectQuery, upsertQuery string, delta map[string]any, keys []any, now string) error {
	current := map[string]any{}
	var raw string
	err := tx.QueryRowContext(ctx, selectQuery, keys...).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read scoped state: %w", err)
	default:
		if current, err = unmarshalState(raw); err != nil {
			return err
		}
	}
	maps.Copy(current, delta)
	encoded, err := marshalState(current)
	if err != nil {
		return err
	}
	args := append(append([]any{}, keys...), encoded, now)
	if _, err := tx.ExecContext(ctx, upsertQuery, args...); err != nil {
		return fmt.Errorf("write scoped state: %w", err)
	}
	return nil
}

func marshalState(state map[string]any) (string, error) {
	if state == nil {
		return "{}", nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(b), nil
}

func unmarshalState(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}
