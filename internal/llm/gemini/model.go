// Package gemini implements llm.Model over the Gemini API, including
// context cache management.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Generator is the slice of *genai.Models the model calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Model calls Gemini and manages context caches for its requests.
type Model struct {
	name   string
	gen    Generator
	caches *CacheManager
}

// NewModel creates a genai client from cfg and returns a model with a
// cache manager backed by the same client.
func NewModel(ctx context.Context, name string, cfg *genai.ClientConfig) (*Model, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return New(name, client.Models, NewCacheManager(NewGenAIBackend(client))), nil
}

// New returns a model over gen. caches may be nil to disable caching.
func New(name string, gen Generator, caches *CacheManager) *Model {
	return &Model{name: name, gen: gen, caches: caches}
}

func (m *Model) Name() string { return m.name }

// GenerateContent runs req. When context caching applies, the request is
// rewritten to use the cache and the cache metadata is attached to every
// response.
func (m *Model) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		if req.Model == "" {
			req.Model = m.name
		}
		if req.Config == nil {
			req.Config = &genai.GenerateContentConfig{}
		}

		var md *cache.Metadata
		if m.caches != nil && req.CacheConfig != nil {
			handled, err := m.caches.HandleContextCaching(ctx, req)
			if err != nil {
				log.Warn().Err(err).Str("model", req.Model).Msg("gemini: context caching failed, continuing without cache")
			}
			md = handled
		}

		if !stream {
			resp, err := m.gen.GenerateContent(ctx, req.Model, req.Contents, req.Config)
			if err != nil {
				yield(nil, fmt.Errorf("generate content: %w", err))
				return
			}
			out := llm.ResponseFromGenAI(resp)
			out.TurnComplete = true
			m.populate(out, md)
			yield(out, nil)
			return
		}

		var (
			text    strings.Builder
			thought strings.Builder
			extra   []*genai.Part
			last    *genai.GenerateContentResponse
		)
		for resp, err := range m.gen.GenerateContentStream(ctx, req.Model, req.Contents, req.Config) {
			if err != nil {
				yield(nil, fmt.Errorf("generate content stream: %w", err))
				return
			}
			last = resp
			chunk := llm.ResponseFromGenAI(resp)
			if chunk.Content == nil {
				continue
			}
			hasText := false
			for _, p := range chunk.Content.Parts {
				switch {
				case p.Text != "" && p.Thought:
					thought.WriteString(p.Text)
					hasText = true
				case p.Text != "":
					text.WriteString(p.Text)
					hasText = true
				case p.FunctionCall != nil || p.FunctionResponse != nil || p.InlineData != nil ||
					p.FileData != nil || p.ExecutableCode != nil || p.CodeExecutionResult != nil:
					extra = append(extra, p)
				}
			}
			if hasText {
				chunk.Partial = true
				m.populate(chunk, md)
				if !yield(chunk, nil) {
					return
				}
			}
		}
		if last == nil {
			return
		}

		finalOut := llm.ResponseFromGenAI(last)
		var parts []*genai.Part
		if thought.Len() > 0 {
			parts = append(parts, &genai.Part{Text: thought.String(), Thought: true})
		}
		if text.Len() > 0 {
			parts = append(parts, genai.NewPartFromText(text.String()))
		}
		parts = append(parts, extra...)
		if len(parts) > 0 {
			finalOut.Content = &genai.Content{Role: string(genai.RoleModel), Parts: parts}
			finalOut.ErrorCode, finalOut.ErrorMessage = "", ""
		}
		finalOut.TurnComplete = true
		m.populate(finalOut, md)
		yield(finalOut, nil)
	}
}

func (m *Model) populate(resp *llm.Response, md *cache.Metadata) {
	if m.caches != nil {
		m.caches.PopulateResponse(resp, md)
	}
}

var _ llm.Model = (*Model)(nil)
