package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when a session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is a conversation between a user and an app. Events and state are
// guarded so that parallel agents can read while the runner appends.
type Session struct {
	ID      string `json:"id"`
	AppName string `json:"app_name"`
	UserID  string `json:"user_id"`

	mu         sync.RWMutex
	state      map[string]any
	events     []*Event
	lastUpdate time.Time
}

// New returns a session with the given identity and initial state.
func New(appName, userID, id string, state map[string]any) *Session {
	if state == nil {
		state = map[string]any{}
	}
	return &Session{
		ID:         id,
		AppName:    appName,
		UserID:     userID,
		state:      state,
		lastUpdate: time.Now(),
	}
}

// State returns a copy of the session state.
func (s *Session) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state)
}

// Events returns a snapshot of the session events.
func (s *Session) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// LastUpdate returns the time of the last appended event.
func (s *Session) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// apply appends ev and merges its state delta, skipping temporary keys.
func (s *Session) apply(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range ev.Actions.StateDelta {
		if strings.HasPrefix(k, TempPrefix) {
			continue
		}
		s.state[k] = v
	}
	s.events = append(s.events, ev)
	s.lastUpdate = ev.Timestamp
}

func (s *Session) setEvents(events []*Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	if n := len(events); n > 0 {
		s.lastUpdate = events[n-1].Timestamp
	}
}

// CreateRequest describes a session to create. An empty SessionID asks the
// service to generate one.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string
	State     map[string]any
}

// GetRequest identifies a session. NumRecentEvents and After limit the
// returned history when set.
type GetRequest struct {
	AppName         string
	UserID          string
	SessionID       string
	NumRecentEvents int
	After           time.Time
}

// ListRequest selects the sessions of a user.
type ListRequest struct {
	AppName string
	UserID  string
}

// DeleteRequest identifies a session to delete.
type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// Service stores sessions and their events.
type Service interface {
	Create(ctx context.Context, req *CreateRequest) (*Session, error)
	Get(ctx context.Context, req *GetRequest) (*Session, error)
	List(ctx context.Context, req *ListRequest) ([]*Session, error)
	Delete(ctx context.Context, req *DeleteRequest) error
	// AppendEvent persists ev and applies it to sess. Partial events are
	// not stored.
	AppendEvent(ctx context.Context, sess *Session, ev *Event) error
}

func filterEvents(events []*Event, req *GetRequest) []*Event {
	if !req.After.IsZero() {
		i := 0
		for i < len(events) && !events[i].Timestamp.After(req.After) {
			i++
		}
		events = events[i:]
	}
	if req.NumRecentEvents > 0 && len(events) > req.NumRecentEvents {
		events = events[len(events)-req.NumRecentEvents:]
	}
	return events
}
