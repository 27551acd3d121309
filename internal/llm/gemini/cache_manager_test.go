package gemini

import (
	"context"
	"testing"
	"time"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newRequest(contentsCount int, md *cache.Metadata) *llm.Request {
	req := llm.NewRequest("gemini-2.0-flash")
	for i := range contentsCount {
		req.Contents = append(req.Contents, genai.NewContentFromText("Test message "+string(rune('0'+i)), genai.RoleUser))
	}
	req.Config.SystemInstruction = genai.NewContentFromText("Test instruction", "")
	req.Config.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{
			"param": {Type: genai.TypeString},
		}},
	}}}}
	req.Config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}}
	cfg := cache.Config{CacheIntervals: 10, TTL: 30 * time.Minute}
	req.CacheConfig = &cfg
	req.CacheMetadata = md
	return req
}

func TestHandleContextCachingCreatesCache(t *testing.T) {
	backend := NewMemoryBackend()
	mgr := NewCacheManager(backend)
	req := newRequest(3, nil)
	fp := Fingerprint(req, 2)

	start := time.Now()
	md, err := mgr.HandleContextCaching(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, md)

	assert.Equal(t, 1, md.InvocationsUsed)
	assert.Equal(t, 2, md.ContentsCount)
	assert.Equal(t, fp, md.Fingerprint)
	assert.False(t, md.CreatedAt.Before(start))
	assert.True(t, md.ExpireTime.After(time.Now()))
	assert.Equal(t, 1, backend.Created)

	assert.Equal(t, md.CacheName, req.Config.CachedContent)
	assert.Nil(t, req.Config.SystemInstruction)
	assert.Nil(t, req.Config.Tools)
	assert.Nil(t, req.Config.ToolConfig)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "Test message 2", req.Contents[0].Parts[0].Text)
}

func TestHandleContextCachingReusesValidCache(t *testing.T) {
	backend := NewMemoryBackend()
	mgr := NewCacheManager(backend)
	existing := &cache.Metadata{
		CacheName:       "projects/test/locations/us-central1/cachedContents/test123",
		ExpireTime:      time.Now().Add(30 * time.Minute),
		Fingerprint:     Fingerprint(newRequest(4, nil), 3),
		InvocationsUsed: 5,
		ContentsCount:   3,
		CreatedAt:       time.Now().Add(-10 * time.Minute),
	}
	req := newRequest(4, existing)

	md, err := mgr.HandleContextCaching(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.NotSame(t, existing, md)
	assert.Equal(t, *existing, *md)
	assert.Zero(t, backend.Created)
	assert.Len(t, req.Contents, 1)
}

func TestHandleContextCachingReplacesInvalidCache(t *testing.T) {
	cases := map[string]func(md *cache.Metadata){
		"intervals exceeded":    func(md *cache.Metadata) { md.InvocationsUsed = 11 },
		"expired":               func(md *cache.Metadata) { md.ExpireTime = time.Now().Add(-5 * time.Minute) },
		"expires within buffer": func(md *cache.Metadata) { md.ExpireTime = time.Now().Add(time.Minute) },
		"fingerprint mismatch":  func(md *cache.Metadata) { md.Fingerprint = "different_fingerprint" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			backend := NewMemoryBackend()
			mgr := NewCacheManager(backend)
			ctx := context.Background()

			first, err := mgr.HandleContextCaching(ctx, newRequest(3, nil))
			require.NoError(t, err)

			stale := *first
			mutate(&stale)
			md, err := mgr.HandleContextCaching(ctx, newRequest(3, &stale))
			require.NoError(t, err)
			require.NotNil(t, md)
			assert.NotEqual(t, first.CacheName, md.CacheName)
			assert.Equal(t, 1, md.InvocationsUsed)
			assert.Equal(t, []string{first.CacheName}, backend.Deleted)
		})
	}
}

func TestHandleContextCachingSingleContent(t *testing.T) {
	mgr := NewCacheManager(NewMemoryBackend())
	req := newRequest(1, nil)
	md, err := mgr.HandleContextCaching(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, md)
	assert.Empty(t, req.Config.CachedContent)
	assert.NotNil(t, req.Config.SystemInstruction)
}

func TestHandleContextCachingBelowMinTokens(t *testing.T) {
	backend := NewMemoryBackend()
	mgr := NewCacheManager(backend)
	req := newRequest(3, nil)
	req.CacheConfig.MinTokens = 10_000

	md, err := mgr.HandleContextCaching(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.False(t, md.Active())
	assert.Equal(t, 2, md.ContentsCount)
	assert.NotEmpty(t, md.Fingerprint)
	assert.Zero(t, backend.Created)
	assert.Len(t, req.Contents, 3)
}

func TestHandleContextCachingWithoutConfig(t *testing.T) {
	mgr := NewCacheManager(NewMemoryBackend())
	req := newRequest(3, nil)
	req.CacheConfig = nil
	md, err := mgr.HandleContextCaching(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestFingerprintCoversToolsAndToolConfig(t *testing.T) {
	base := newRequest(3, nil)
	assert.Equal(t, Fingerprint(base, 2), Fingerprint(newRequest(3, nil), 2))

	noTools := newRequest(3, nil)
	noTools.Config.Tools = nil
	assert.NotEqual(t, Fingerprint(base, 2), Fingerprint(noTools, 2))

	noneMode := newRequest(3, nil)
	noneMode.Config.ToolConfig.FunctionCallingConfig.Mode = genai.FunctionCallingConfigModeNone
	assert.NotEqual(t, Fingerprint(base, 2), Fingerprint(noneMode, 2))

	assert.NotEqual(t, Fingerprint(base, 1), Fingerprint(base, 2))
	assert.Len(t, Fingerprint(llm.NewRequest("m"), 0), fingerprintLen)
}

func TestPopulateResponseKeepsCounter(t *testing.T) {
	mgr := NewCacheManager(NewMemoryBackend())
	md := &cache.Metadata{CacheName: "cachedContents/1", InvocationsUsed: 3}
	resp := &llm.Response{}
	mgr.PopulateResponse(resp, md)
	require.NotNil(t, resp.CacheMetadata)
	assert.Equal(t, 3, resp.CacheMetadata.InvocationsUsed)
	assert.NotSame(t, md, resp.CacheMetadata)

	empty := &llm.Response{}
	mgr.PopulateResponse(empty, nil)
	assert.Nil(t, empty.CacheMetadata)
}
