package session

import (
	"maps"
	"strings"
	"sync"
)

// State key prefixes select the scope a value is stored in.
const (
	// AppPrefix keys are shared by every session of an app.
	AppPrefix = "app:"
	// UserPrefix keys are shared by every session of a user.
	UserPrefix = "user:"
	// TempPrefix keys live only for the current invocation and are never
	// persisted.
	TempPrefix = "temp:"
)

// State is a view over session state that records every write in a delta.
// Tools and callbacks write through a State whose delta is the pending
// event's StateDelta, so the writes are persisted when the event is
// appended.
type State struct {
	mu    sync.RWMutex
	value map[string]any
	delta map[string]any
}

// NewState wraps value and delta. Either map may be nil.
func NewState(value, delta map[string]any) *State {
	if value == nil {
		value = map[string]any{}
	}
	if delta == nil {
		delta = map[string]any{}
	}
	return &State{value: value, delta: delta}
}

// Get returns the value for key, preferring pending writes.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.delta[key]; ok {
		return v, true
	}
	v, ok := s.value[key]
	return v, ok
}

// Set stores a value and records it in the delta.
func (s *State) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value[key] = v
	s.delta[key] = v
}

// Delta returns the map that receives writes.
func (s *State) Delta() map[string]any {
	return s.delta
}

// HasDelta reports whether any write happened.
func (s *State) HasDelta() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.delta) > 0
}

// Map returns a merged copy of values and pending writes.
func (s *State) Map() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := maps.Clone(s.value)
	maps.Copy(out, s.delta)
	return out
}

// splitDelta partitions a delta into app, user and session scopes, dropping
// temporary keys.
func splitDelta(delta map[string]any) (app, user, sess map[string]any) {
	app, user, sess = map[string]any{}, map[string]any{}, map[string]any{}
	for k, v := range delta {
		switch {
		case strings.HasPrefix(k, TempPrefix):
		case strings.HasPrefix(k, AppPrefix):
			app[strings.TrimPrefix(k, AppPrefix)] = v
		case strings.HasPrefix(k, UserPrefix):
			user[strings.TrimPrefix(k, UserPrefix)] = v
		default:
			sess[k] = v
		}
	}
	return app, user, sess
}

// mergeScopes builds the state a session sees from its three scopes.
func mergeScopes(app, user, sess map[string]any) map[string]any {
	out := maps.Clone(sess)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range app {
		out[AppPrefix+k] = v
	}
	for k, v := range user {
		out[UserPrefix+k] = v
	}
	return out
}
