package plugin

import (
	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/logprobs"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// LogprobsMetadataKey is the custom metadata key holding the analysis.
const LogprobsMetadataKey = "logprobs"

// Logprobs annotates final model responses with a confidence analysis of
// their log probabilities. With Append set, the formatted analysis is also
// added to the response text.
type Logprobs struct {
	Append bool
}

func (Logprobs) Name() string { return "logprobs" }

func (p Logprobs) AfterModel(cctx *agent.CallbackContext, resp *llm.Response) (*llm.Response, error) {
	if resp.Partial || resp.Content == nil || len(resp.Content.Parts) == 0 {
		return nil, nil
	}
	analysis := logprobs.Analyze(resp.AvgLogprobs, resp.LogprobsResult)
	if analysis.Available {
		log.Debug().Str("agent", cctx.AgentName()).Float64("avg_logprobs", analysis.Avg).
			Str("level", string(analysis.Level)).Msg("plugin: logprobs")
	}

	out := *resp
	out.CustomMetadata = map[string]any{}
	for k, v := range resp.CustomMetadata {
		out.CustomMetadata[k] = v
	}
	out.CustomMetadata[LogprobsMetadataKey] = analysis
	if p.Append {
		content := *resp.Content
		content.Parts = append(append([]*genai.Part(nil), resp.Content.Parts...), genai.NewPartFromText(analysis.Format()))
		out.Content = &content
	}
	return &out, nil
}
