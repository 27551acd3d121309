// Package adkbridge connects adkx to google.golang.org/adk: ADK models can
// back adkx agents, and adkx apps can run as ADK agents.
package adkbridge

import (
	"context"
	"iter"

	"github.com/metalagman/adkx/internal/llm"
	"github.com/rs/zerolog/log"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// adkModel serves adkx requests with an ADK model.
type adkModel struct {
	m model.LLM
}

// FromADK adapts an ADK model. ADK models know nothing about context
// caching, so cache settings on the request are dropped.
func FromADK(m model.LLM) llm.Model {
	return &adkModel{m: m}
}

func (a *adkModel) Name() string { return a.m.Name() }

func (a *adkModel) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		if req.CacheConfig != nil {
			log.Debug().Str("model", a.m.Name()).Msg("adkbridge: ADK model ignores context cache config")
		}
		for resp, err := range a.m.GenerateContent(ctx, toADKRequest(req), stream) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(fromADKResponse(resp), nil) {
				return
			}
		}
	}
}

func toADKRequest(req *llm.Request) *model.LLMRequest {
	cfg := req.Config
	if cfg == nil {
		cfg = &genai.GenerateContentConfig{}
	}
	return &model.LLMRequest{
		Model:    req.Model,
		Contents: req.Contents,
		Config:   cfg,
	}
}

func fromADKResponse(resp *model.LLMResponse) *llm.Response {
	if resp == nil {
		return &llm.Response{}
	}
	return &llm.Response{
		Content:        resp.Content,
		UsageMetadata:  resp.UsageMetadata,
		FinishReason:   resp.FinishReason,
		ErrorCode:      resp.ErrorCode,
		ErrorMessage:   resp.ErrorMessage,
		Partial:        resp.Partial,
		TurnComplete:   resp.TurnComplete,
		Interrupted:    resp.Interrupted,
		CustomMetadata: resp.CustomMetadata,
	}
}
