package adkbridge

import (
	"errors"
	"fmt"
	"iter"
	"maps"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	adkagent "google.golang.org/adk/agent"
	"google.golang.org/adk/model"
	adksession "google.golang.org/adk/session"
	"google.golang.org/genai"
)

// ToADK exposes an adkx runner as an ADK agent. Each ADK session maps to
// the adkx session with the same user and ID, created on first use.
// Transfers are resolved inside the adkx runner and are not forwarded.
func ToADK(r *runner.Runner) (adkagent.Agent, error) {
	if r == nil {
		return nil, fmt.Errorf("runner is required")
	}
	root := r.RootAgent()
	return adkagent.New(adkagent.Config{
		Name:        root.Name(),
		Description: root.Description(),
		Run: func(ctx adkagent.InvocationContext) iter.Seq2[*adksession.Event, error] {
			return func(yield func(*adksession.Event, error) bool) {
				userID := ctx.Session().UserID()
				sessionID := ctx.Session().ID()
				if err := ensureSession(ctx, r, userID, sessionID); err != nil {
					yield(nil, err)
					return
				}
				for ev, err := range r.Run(ctx, userID, sessionID, ctx.UserContent(), agent.RunConfig{}) {
					if err != nil {
						yield(nil, err)
						return
					}
					if !yield(toADKEvent(ctx.InvocationID(), ev), nil) {
						return
					}
				}
			}
		},
	})
}

func ensureSession(ctx adkagent.InvocationContext, r *runner.Runner, userID, sessionID string) error {
	_, err := r.Sessions().Get(ctx, &session.GetRequest{AppName: r.AppName(), UserID: userID, SessionID: sessionID})
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("get session: %w", err)
	}
	if _, err := r.Sessions().Create(ctx, &session.CreateRequest{AppName: r.AppName(), UserID: userID, SessionID: sessionID}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func toADKEvent(invocationID string, ev *session.Event) *adksession.Event {
	out := adksession.NewEvent(invocationID)
	out.Author = ev.Author
	out.Branch = ev.Branch
	out.LongRunningToolIDs = ev.LongRunningToolIDs
	out.LLMResponse = model.LLMResponse{
		Content:        cloneContent(ev.Content),
		UsageMetadata:  ev.UsageMetadata,
		CustomMetadata: ev.CustomMetadata,
		Partial:        ev.Partial,
		TurnComplete:   ev.TurnComplete,
		FinishReason:   ev.FinishReason,
		ErrorCode:      ev.ErrorCode,
		ErrorMessage:   ev.ErrorMessage,
	}
	if len(ev.Actions.StateDelta) > 0 {
		out.Actions.StateDelta = maps.Clone(ev.Actions.StateDelta)
	}
	out.Actions.Escalate = ev.Actions.Escalate
	out.Actions.SkipSummarization = ev.Actions.SkipSummarization
	return out
}

func cloneContent(c *genai.Content) *genai.Content {
	if c == nil {
		return nil
	}
	return &genai.Content{Role: c.Role, Parts: append([]*genai.Part(nil), c.Parts...)}
}
