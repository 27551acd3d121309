package agent

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"strings"

	"github.com/google/uuid"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

const functionCallIDPrefix = "adk-"

var tracer = otel.Tracer("github.com/metalagman/adkx/internal/agent")

// step makes one model call and runs the tools it asks for. A transfer
// hands the rest of the step to the target agent.
func (a *LLMAgent) step(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		model, err := a.Model()
		if err != nil {
			yield(nil, err)
			return
		}
		req, err := a.buildRequest(ictx, model)
		if err != nil {
			yield(nil, fmt.Errorf("agent %s: build request: %w", a.name, err))
			return
		}
		if ictx.Ended() {
			return
		}

		cctx := newCallbackContext(ictx)
		responses, err := a.generate(ictx, cctx, model, req)
		if err != nil {
			yield(nil, err)
			return
		}

		pending := cctx.Actions
		for resp, err := range responses {
			if err != nil {
				yield(nil, fmt.Errorf("agent %s: call model %s: %w", a.name, model.Name(), err))
				return
			}
			resp, err = a.afterModel(cctx, resp)
			if err != nil {
				yield(nil, fmt.Errorf("agent %s: after model: %w", a.name, err))
				return
			}

			ev := a.modelEvent(ictx, req, resp)
			if !resp.Partial && pending != nil {
				mergeActions(&ev.Actions, pending)
				pending = nil
			}
			if err := a.storeOutput(ev); err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
			if ev.Partial || len(ev.FunctionCalls()) == 0 {
				continue
			}

			respEv := a.runTools(ictx, req.Tools, ev)
			if respEv == nil {
				continue
			}
			if !yield(respEv, nil) {
				return
			}
			target := respEv.Actions.TransferToAgent
			if target == "" {
				continue
			}
			next := FindAgent(Root(a), target)
			if next == nil {
				yield(nil, fmt.Errorf("%w: %s", ErrAgentNotFound, target))
				return
			}
			log.Debug().Str("from", a.name).Str("to", target).Msg("agent: transfer")
			for ev, err := range next.Run(ictx) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
			return
		}
	}
}

// generate runs before-model hooks and, unless one answers, calls the model.
func (a *LLMAgent) generate(ictx *InvocationContext, cctx *CallbackContext, model llm.Model, req *llm.Request) (iter.Seq2[*llm.Response, error], error) {
	resp, err := ictx.Plugins.RunBeforeModel(cctx, req)
	if err != nil {
		return nil, err
	}
	for _, cb := range a.cfg.BeforeModel {
		if resp != nil {
			break
		}
		if resp, err = cb(cctx, req); err != nil {
			return nil, fmt.Errorf("agent %s: before model: %w", a.name, err)
		}
	}
	if resp != nil {
		return func(yield func(*llm.Response, error) bool) { yield(resp, nil) }, nil
	}
	if err := ictx.countLLMCall(); err != nil {
		return nil, err
	}

	stream := ictx.RunConfig.StreamingMode == StreamingSSE
	return func(yield func(*llm.Response, error) bool) {
		ctx, span := tracer.Start(ictx, "call_llm",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("gen_ai.request.model", req.Model),
				attribute.String("gen_ai.agent.name", a.name),
				attribute.String("adkx.invocation_id", ictx.InvocationID),
			))
		defer span.End()
		for resp, err := range model.GenerateContent(ctx, req, stream) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if u := resp.UsageMetadata; u != nil {
				span.SetAttributes(
					attribute.Int("gen_ai.usage.input_tokens", int(u.PromptTokenCount)),
					attribute.Int("gen_ai.usage.output_tokens", int(u.CandidatesTokenCount)),
				)
			}
			if !yield(resp, err) || err != nil {
				return
			}
		}
	}, nil
}

func (a *LLMAgent) afterModel(cctx *CallbackContext, resp *llm.Response) (*llm.Response, error) {
	out, err := cctx.Plugins.RunAfterModel(cctx, resp)
	if err != nil || out != nil {
		return out, err
	}
	for _, cb := range a.cfg.AfterModel {
		out, err := cb(cctx, resp)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	return resp, nil
}

// modelEvent turns a response into an event, assigning IDs to function
// calls and marking long running ones.
func (a *LLMAgent) modelEvent(ictx *InvocationContext, req *llm.Request, resp *llm.Response) *session.Event {
	ev := ictx.newEvent()
	ev.Content = resp.Content
	ev.Partial = resp.Partial
	ev.TurnComplete = resp.TurnComplete
	ev.FinishReason = resp.FinishReason
	ev.ErrorCode = resp.ErrorCode
	ev.ErrorMessage = resp.ErrorMessage
	ev.UsageMetadata = resp.UsageMetadata
	ev.AvgLogprobs = resp.AvgLogprobs
	ev.LogprobsResult = resp.LogprobsResult
	ev.CacheMetadata = resp.CacheMetadata
	ev.CustomMetadata = resp.CustomMetadata

	if ev.Partial {
		return ev
	}
	for _, call := range ev.FunctionCalls() {
		if call.ID == "" {
			call.ID = functionCallIDPrefix + uuid.NewString()
		}
		if t, ok := req.Tools[call.Name]; ok && t.IsLongRunning() {
			ev.LongRunningToolIDs = append(ev.LongRunningToolIDs, call.ID)
		}
	}
	return ev
}

// storeOutput writes the final response text to the output key.
func (a *LLMAgent) storeOutput(ev *session.Event) error {
	if a.cfg.OutputKey == "" || ev.Author != a.name || !ev.IsFinalResponse() || ev.Content == nil || len(ev.Content.Parts) == 0 {
		return nil
	}
	text := ev.Text()
	var value any = text
	if a.cfg.OutputSchema != nil {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return fmt.Errorf("agent %s: decode output for %s: %w", a.name, a.cfg.OutputKey, err)
		}
		value = decoded
	}
	if ev.Actions.StateDelta == nil {
		ev.Actions.StateDelta = map[string]any{}
	}
	ev.Actions.StateDelta[a.cfg.OutputKey] = value
	return nil
}

// runTools executes the function calls of ev and returns one event holding
// every function response, or nil when no call produced one.
func (a *LLMAgent) runTools(ictx *InvocationContext, tools map[string]tool.Tool, ev *session.Event) *session.Event {
	out := ictx.newEvent()
	out.Content = &genai.Content{Role: string(genai.RoleUser)}
	for _, call := range ev.FunctionCalls() {
		actions := &session.Actions{}
		tctx := tool.NewContext(ictx, ictx.InvocationID, a.name, ictx.Session, ictx.Artifacts, actions)
		tctx.FunctionCallID = call.ID

		t, ok := tools[call.Name]
		var result map[string]any
		if !ok {
			result = map[string]any{"error": fmt.Sprintf("tool %s not found", call.Name)}
		} else {
			result = a.callTool(ictx, tctx, t, call.Args)
		}
		if result == nil && ok && t.IsLongRunning() {
			mergeActions(&out.Actions, actions)
			continue
		}
		if result == nil {
			result = map[string]any{}
		}
		part := genai.NewPartFromFunctionResponse(call.Name, result)
		part.FunctionResponse.ID = call.ID
		out.Content.Parts = append(out.Content.Parts, part)
		mergeActions(&out.Actions, actions)
	}
	if len(out.Content.Parts) == 0 {
		if len(out.Actions.StateDelta) == 0 && len(out.Actions.ArtifactDelta) == 0 {
			return nil
		}
		out.Content = nil
	}
	return out
}

// callTool runs t through plugin and agent tool hooks. Tool errors are
// reported to the model as an error result.
func (a *LLMAgent) callTool(ictx *InvocationContext, tctx *tool.Context, t tool.Tool, args map[string]any) map[string]any {
	result, err := ictx.Plugins.RunBeforeTool(tctx, t, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	for _, cb := range a.cfg.BeforeTool {
		if result != nil {
			break
		}
		if result, err = cb(tctx, t, args); err != nil {
			return map[string]any{"error": err.Error()}
		}
	}

	if result == nil {
		ctx, span := tracer.Start(ictx, "execute_tool")
		span.SetAttributes(
			attribute.String("gen_ai.tool.name", t.Name()),
			attribute.String("gen_ai.tool.call.id", tctx.FunctionCallID),
		)
		tctx.Context = ctx
		result, err = t.Run(tctx, args)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn().Err(err).Str("tool", t.Name()).Str("agent", a.name).Msg("agent: tool failed")
			result = map[string]any{"error": err.Error()}
		}
		span.End()
	}

	if replaced, err := ictx.Plugins.RunAfterTool(tctx, t, args, result); err != nil {
		return map[string]any{"error": err.Error()}
	} else if replaced != nil {
		return replaced
	}
	for _, cb := range a.cfg.AfterTool {
		replaced, err := cb(tctx, t, args, result)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		if replaced != nil {
			return replaced
		}
	}
	return result
}

func mergeActions(dst, src *session.Actions) {
	if len(src.StateDelta) > 0 {
		if dst.StateDelta == nil {
			dst.StateDelta = map[string]any{}
		}
		maps.Copy(dst.StateDelta, src.StateDelta)
	}
	if len(src.ArtifactDelta) > 0 {
		if dst.ArtifactDelta == nil {
			dst.ArtifactDelta = map[string]int{}
		}
		maps.Copy(dst.ArtifactDelta, src.ArtifactDelta)
	}
	dst.Escalate = dst.Escalate || src.Escalate
	dst.SkipSummarization = dst.SkipSummarization || src.SkipSummarization
	if src.TransferToAgent != "" {
		dst.TransferToAgent = src.TransferToAgent
	}
	if src.Compaction != nil {
		dst.Compaction = src.Compaction
	}
}
