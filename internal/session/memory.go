package session

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryKey struct {
	app, user, id string
}

type userKey struct {
	app, user string
}

type storedSession struct {
	state  map[string]any
	events []*Event
}

// InMemoryService keeps sessions in process memory.
type InMemoryService struct {
	mu        sync.RWMutex
	sessions  map[memoryKey]*storedSession
	appState  map[string]map[string]any
	userState map[userKey]map[string]any
}

// NewInMemoryService returns an empty in-memory session service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions:  map[memoryKey]*storedSession{},
		appState:  map[string]map[string]any{},
		userState: map[userKey]map[string]any{},
	}
}

// Create stores a new session.
func (s *InMemoryService) Create(_ context.Context, req *CreateRequest) (*Session, error) {
	if req.AppName == "" || req.UserID == "" {
		return nil, fmt.Errorf("app name and user id are required")
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey{req.AppName, req.UserID, id}
	if _, ok := s.sessions[key]; ok {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	app, user, sess := splitDelta(req.State)
	s.mergeScopedLocked(req.AppName, req.UserID, app, user)
	s.sessions[key] = &storedSession{state: sess}
	return s.buildLocked(key, &GetRequest{}), nil
}

// Get returns a copy of the stored session.
func (s *InMemoryService) Get(_ context.Context, req *GetRequest) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := memoryKey{req.AppName, req.UserID, req.SessionID}
	if _, ok := s.sessions[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
	}
	return s.buildLocked(key, req), nil
}

// List returns the sessions of a user without their events.
func (s *InMemoryService) List(_ context.Context, req *ListRequest) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for key, stored := range s.sessions {
		if key.app != req.AppName || (req.UserID != "" && key.user != req.UserID) {
			continue
		}
		sess := New(key.app, key.user, key.id, s.stateLocked(key, stored))
		if n := len(stored.events); n > 0 {
			sess.lastUpdate = stored.events[n-1].Timestamp
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes a session.
func (s *InMemoryService) Delete(_ context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, memoryKey{req.AppName, req.UserID, req.SessionID})
	return nil
}

// AppendEvent records ev in storage and on sess.
func (s *InMemoryService) AppendEvent(_ context.Context, sess *Session, ev *Event) error {
	if ev.Partial {
		return nil
	}
	s.mu.Lock()
	key := memoryKey{sess.AppName, sess.UserID, sess.ID}
	stored, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID)
	}
	app, user, local := splitDelta(ev.Actions.StateDelta)
	s.mergeScopedLocked(sess.AppName, sess.UserID, app, user)
	maps.Copy(stored.state, local)
	stored.events = append(stored.events, ev)
	s.mu.Unlock()

	sess.apply(ev)
	return nil
}

func (s *InMemoryService) mergeScopedLocked(app, user string, appDelta, userDelta map[string]any) {
	if len(appDelta) > 0 {
		if s.appState[app] == nil {
			s.appState[app] = map[string]any{}
		}
		maps.Copy(s.appState[app], appDelta)
	}
	if len(userDelta) > 0 {
		uk := userKey{app, user}
		if s.userState[uk] == nil {
			s.userState[uk] = map[string]any{}
		}
		maps.Copy(s.userState[uk], userDelta)
	}
}

func (s *InMemoryService) stateLocked(key memoryKey, stored *storedSession) map[string]any {
	return mergeScopes(s.appState[key.app], s.userState[userKey{key.app, key.user}], stored.state)
}

func (s *InMemoryService) buildLocked(key memoryKey, req *GetRequest) *Session {
	stored := s.sessions[key]
	sess := New(key.app, key.user, key.id, s.stateLocked(key, stored))
	events := filterEvents(stored.events, req)
	sess.setEvents(append([]*Event(nil), events...))
	return sess
}
