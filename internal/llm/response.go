package llm

import (
	"context"
	"iter"

	"github.com/metalagman/adkx/internal/cache"
	"google.golang.org/genai"
)

// Response is one (possibly partial) model response.
type Response struct {
	Content        *genai.Content
	UsageMetadata  *genai.GenerateContentResponseUsageMetadata
	AvgLogprobs    *float64
	LogprobsResult *genai.LogprobsResult
	FinishReason   genai.FinishReason
	ErrorCode      string
	ErrorMessage   string
	Partial        bool
	TurnComplete   bool
	Interrupted    bool
	CacheMetadata  *cache.Metadata
	CustomMetadata map[string]any
}

// ResponseFromGenAI maps the first candidate of resp. A response without
// candidates carries the prompt feedback as an error.
func ResponseFromGenAI(resp *genai.GenerateContentResponse) *Response {
	out := &Response{UsageMetadata: resp.UsageMetadata}
	if len(resp.Candidates) == 0 {
		out.ErrorCode = "UNKNOWN_ERROR"
		out.ErrorMessage = "Unknown error."
		if pf := resp.PromptFeedback; pf != nil {
			out.ErrorCode = string(pf.BlockReason)
			out.ErrorMessage = pf.BlockReasonMessage
		}
		return out
	}
	c := resp.Candidates[0]
	out.FinishReason = c.FinishReason
	if c.AvgLogprobs != 0 {
		avg := c.AvgLogprobs
		out.AvgLogprobs = &avg
	}
	out.LogprobsResult = c.LogprobsResult
	if c.Content != nil && len(c.Content.Parts) > 0 {
		out.Content = c.Content
		return out
	}
	if c.FinishReason != "" && c.FinishReason != genai.FinishReasonStop {
		out.ErrorCode = string(c.FinishReason)
		out.ErrorMessage = c.FinishMessage
	}
	out.Content = c.Content
	return out
}

// Model generates content. With stream set, partial responses are yielded
// before the final aggregated one.
type Model interface {
	Name() string
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]
}
