package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/genai"
)

// InMemoryService keeps artifacts in process memory.
type InMemoryService struct {
	mu    sync.RWMutex
	items map[Key][]*genai.Part
}

// NewInMemoryService returns an empty in-memory artifact service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{items: map[Key][]*genai.Part{}}
}

func (s *InMemoryService) Save(_ context.Context, key Key, part *genai.Part) (int, error) {
	if !validPart(part) {
		return 0, fmt.Errorf("save artifact %s: empty part", key.Filename)
	}
	key = key.scoped()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append(s.items[key], part)
	return len(s.items[key]) - 1, nil
}

func (s *InMemoryService) Load(_ context.Context, key Key, version int) (*genai.Part, error) {
	key = key.scoped()
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.items[key]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Filename)
	}
	if version < 0 {
		version = len(versions) - 1
	}
	if version >= len(versions) {
		return nil, fmt.Errorf("%w: %s version %d", ErrNotFound, key.Filename, version)
	}
	return versions[version], nil
}

func (s *InMemoryService) ListKeys(_ context.Context, appName, userID, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k, v := range s.items {
		if k.AppName != appName || k.UserID != userID || len(v) == 0 {
			continue
		}
		if k.SessionID == sessionID || k.SessionID == "" {
			out = append(out, k.Filename)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryService) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key.scoped())
	return nil
}

func (s *InMemoryService) Versions(_ context.Context, key Key) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.items[key.scoped()]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Filename)
	}
	out := make([]int, len(versions))
	for i := range versions {
		out[i] = i
	}
	return out, nil
}
