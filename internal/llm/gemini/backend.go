package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// Backend manages cached-content resources.
type Backend interface {
	CreateCache(ctx context.Context, model string, cfg *genai.CreateCachedContentConfig) (*genai.CachedContent, error)
	DeleteCache(ctx context.Context, name string) error
	CountTokens(ctx context.Context, model string, contents []*genai.Content) (int, error)
}

// GenAIBackend manages caches through the Gemini API.
type GenAIBackend struct {
	client *genai.Client
}

// NewGenAIBackend returns a backend over client.
func NewGenAIBackend(client *genai.Client) *GenAIBackend {
	return &GenAIBackend{client: client}
}

func (b *GenAIBackend) CreateCache(ctx context.Context, model string, cfg *genai.CreateCachedContentConfig) (*genai.CachedContent, error) {
	cc, err := b.client.Caches.Create(ctx, model, cfg)
	if err != nil {
		return nil, fmt.Errorf("create cached content: %w", err)
	}
	return cc, nil
}

func (b *GenAIBackend) DeleteCache(ctx context.Context, name string) error {
	if _, err := b.client.Caches.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete cached content %s: %w", name, err)
	}
	return nil
}

func (b *GenAIBackend) CountTokens(ctx context.Context, model string, contents []*genai.Content) (int, error) {
	resp, err := b.client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return int(resp.TotalTokens), nil
}

// MemoryBackend keeps caches in memory. It estimates four characters per
// token. Used offline and in tests.
type MemoryBackend struct {
	mu      sync.Mutex
	seq     int
	caches  map[string]*genai.CachedContent
	Created int
	Deleted []string
	Now     func() time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{caches: map[string]*genai.CachedContent{}, Now: time.Now}
}

func (b *MemoryBackend) CreateCache(_ context.Context, model string, cfg *genai.CreateCachedContentConfig) (*genai.CachedContent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.Created++
	now := b.Now()
	cc := &genai.CachedContent{
		Name:        fmt.Sprintf("cachedContents/mem-%d", b.seq),
		DisplayName: cfg.DisplayName,
		Model:       model,
		CreateTime:  now,
		ExpireTime:  now.Add(cfg.TTL),
	}
	b.caches[cc.Name] = cc
	return cc, nil
}

func (b *MemoryBackend) DeleteCache(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.caches[name]; !ok {
		return fmt.Errorf("cached content %s not found", name)
	}
	delete(b.caches, name)
	b.Deleted = append(b.Deleted, name)
	return nil
}

func (b *MemoryBackend) CountTokens(_ context.Context, _ string, contents []*genai.Content) (int, error) {
	chars := 0
	for _, c := range contents {
		if c == nil {
			continue
		}
		for _, p := range c.Parts {
			if p != nil {
				chars += len(strings.TrimSpace(p.Text))
			}
		}
	}
	return (chars + 3) / 4, nil
}

// Live returns the names of caches that were not deleted.
func (b *MemoryBackend) Live() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.caches))
	for name := range b.caches {
		out = append(out, name)
	}
	return out
}
