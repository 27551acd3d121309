package gemini

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	resp    *genai.GenerateContentResponse
	chunks  []*genai.GenerateContentResponse
	err     error
	configs []*genai.GenerateContentConfig
	models  []string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.models = append(f.models, model)
	f.configs = append(f.configs, cfg)
	return f.resp, f.err
}

func (f *fakeGenerator) GenerateContentStream(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.models = append(f.models, model)
	f.configs = append(f.configs, cfg)
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText(text, genai.RoleModel),
	}}}
}

func TestModelGenerateWithCache(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("answer")}
	m := New("gemini-2.0-flash", gen, NewCacheManager(NewMemoryBackend()))
	req := newRequest(3, nil)
	req.Model = ""

	var got []*llm.Response
	for resp, err := range m.GenerateContent(context.Background(), req, false) {
		require.NoError(t, err)
		got = append(got, resp)
	}
	require.Len(t, got, 1)
	assert.True(t, got[0].TurnComplete)
	require.NotNil(t, got[0].CacheMetadata)
	assert.Equal(t, 1, got[0].CacheMetadata.InvocationsUsed)
	assert.Equal(t, []string{"gemini-2.0-flash"}, gen.models)
	assert.Equal(t, got[0].CacheMetadata.CacheName, gen.configs[0].CachedContent)
}

func TestModelGenerateWithoutCacheConfig(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("answer")}
	m := New("gemini-2.0-flash", gen, NewCacheManager(NewMemoryBackend()))
	req := newRequest(3, &cache.Metadata{CacheName: "cachedContents/x", ExpireTime: time.Now().Add(time.Hour)})
	req.CacheConfig = nil

	for resp, err := range m.GenerateContent(context.Background(), req, false) {
		require.NoError(t, err)
		assert.Nil(t, resp.CacheMetadata)
	}
	assert.Empty(t, gen.configs[0].CachedContent)
}

func TestModelStreamAggregates(t *testing.T) {
	gen := &fakeGenerator{chunks: []*genai.GenerateContentResponse{
		textResponse("Hel"),
		textResponse("lo"),
		{Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{{Text: ""}}},
			FinishReason: genai.FinishReasonStop,
		}}, UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 12}},
	}}
	m := New("gemini-2.0-flash", gen, nil)

	var got []*llm.Response
	for resp, err := range m.GenerateContent(context.Background(), llm.NewRequest(""), true) {
		require.NoError(t, err)
		got = append(got, resp)
	}
	require.Len(t, got, 3)
	assert.True(t, got[0].Partial)
	assert.True(t, got[1].Partial)
	final := got[2]
	assert.False(t, final.Partial)
	assert.True(t, final.TurnComplete)
	assert.Equal(t, "Hello", final.Content.Parts[0].Text)
	assert.Equal(t, int32(12), final.UsageMetadata.PromptTokenCount)
}

func TestModelGenerateError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	m := New("gemini-2.0-flash", gen, nil)
	for _, err := range m.GenerateContent(context.Background(), llm.NewRequest(""), false) {
		require.ErrorContains(t, err, "boom")
	}
}
