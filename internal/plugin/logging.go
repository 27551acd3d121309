package plugin

import (
	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Logging writes every hook it sees to the global logger at debug level.
type Logging struct{}

func (Logging) Name() string { return "logging" }

func invocationLog(ictx *agent.InvocationContext) *zerolog.Event {
	ev := log.Debug().Str("invocation", ictx.InvocationID)
	if ictx.Agent != nil {
		ev = ev.Str("agent", ictx.Agent.Name())
	}
	return ev
}

func (Logging) OnUserMessage(ictx *agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	parts := 0
	if msg != nil {
		parts = len(msg.Parts)
	}
	invocationLog(ictx).Int("parts", parts).Msg("plugin: user message")
	return nil, nil
}

func (Logging) BeforeRun(ictx *agent.InvocationContext) (*genai.Content, error) {
	invocationLog(ictx).Msg("plugin: invocation starting")
	return nil, nil
}

func (Logging) OnEvent(ictx *agent.InvocationContext, ev *session.Event) (*session.Event, error) {
	invocationLog(ictx).
		Str("author", ev.Author).
		Bool("final", ev.IsFinalResponse()).
		Int("calls", len(ev.FunctionCalls())).
		Int("responses", len(ev.FunctionResponses())).
		Msg("plugin: event")
	return nil, nil
}

func (Logging) AfterRun(ictx *agent.InvocationContext) {
	invocationLog(ictx).Msg("plugin: invocation finished")
}

func (Logging) BeforeModel(cctx *agent.CallbackContext, req *llm.Request) (*llm.Response, error) {
	invocationLog(cctx.InvocationContext).
		Str("model", req.Model).
		Int("contents", len(req.Contents)).
		Int("tools", len(req.Tools)).
		Msg("plugin: model request")
	return nil, nil
}

func (Logging) AfterModel(cctx *agent.CallbackContext, resp *llm.Response) (*llm.Response, error) {
	ev := invocationLog(cctx.InvocationContext).Bool("partial", resp.Partial)
	if u := resp.UsageMetadata; u != nil {
		ev = ev.Int32("prompt_tokens", u.PromptTokenCount).Int32("cached_tokens", u.CachedContentTokenCount)
	}
	if resp.ErrorCode != "" {
		ev = ev.Str("error_code", resp.ErrorCode).Str("error", resp.ErrorMessage)
	}
	ev.Msg("plugin: model response")
	return nil, nil
}

func (Logging) BeforeTool(tctx *tool.Context, t tool.Tool, _ map[string]any) (map[string]any, error) {
	log.Debug().Str("invocation", tctx.InvocationID).Str("agent", tctx.AgentName).
		Str("tool", t.Name()).Str("call", tctx.FunctionCallID).Msg("plugin: tool call")
	return nil, nil
}

func (Logging) AfterTool(tctx *tool.Context, t tool.Tool, _, result map[string]any) (map[string]any, error) {
	_, failed := result["error"]
	log.Debug().Str("invocation", tctx.InvocationID).Str("agent", tctx.AgentName).
		Str("tool", t.Name()).Bool("failed", failed).Msg("plugin: tool result")
	return nil, nil
}
