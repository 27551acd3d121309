package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/metalagman/adkx/internal/session"
	"google.golang.org/genai"
)

// contents converts the session history visible to the agent into model
// contents. Compacted ranges are replaced by their summary and messages
// from other agents are shown as user context.
func (a *LLMAgent) contents(ictx *InvocationContext) []*genai.Content {
	if ictx.Session == nil {
		return nil
	}
	events := ictx.Session.Events()
	if a.cfg.IncludeContents == IncludeNone {
		events = currentTurn(events, a.name)
	}

	var compactions []*session.Compaction
	for _, ev := range events {
		if c := ev.Actions.Compaction; c != nil && c.Content != nil {
			compactions = append(compactions, c)
		}
	}
	emitted := map[*session.Compaction]bool{}

	var out []*genai.Content
	for _, ev := range events {
		if ev.Actions.Compaction != nil || !visibleOnBranch(ictx.Branch, ev.Branch) {
			continue
		}
		if c := covering(compactions, ev); c != nil {
			if !emitted[c] {
				emitted[c] = true
				out = append(out, c.Content)
			}
			continue
		}
		if ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}
		if ev.Author != a.name && ev.Author != session.AuthorUser {
			if c := otherAgentContent(ev); c != nil {
				out = append(out, c)
			}
			continue
		}
		out = append(out, ev.Content)
	}
	return out
}

// currentTurn returns the events since the last message the agent did not
// author.
func currentTurn(events []*session.Event, agentName string) []*session.Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Author != agentName {
			return events[i:]
		}
	}
	return events
}

// visibleOnBranch reports whether an event on eventBranch is visible from
// branch: either is empty, or eventBranch is branch or one of its ancestors.
func visibleOnBranch(branch, eventBranch string) bool {
	if branch == "" || eventBranch == "" || branch == eventBranch {
		return true
	}
	return strings.HasPrefix(branch, eventBranch+".")
}

// covering returns the widest compaction whose range holds ev.
func covering(compactions []*session.Compaction, ev *session.Event) *session.Compaction {
	var best *session.Compaction
	for _, c := range compactions {
		if ev.Timestamp.Before(c.StartTimestamp) || ev.Timestamp.After(c.EndTimestamp) {
			continue
		}
		if best == nil || c.StartTimestamp.Before(best.StartTimestamp) ||
			(c.StartTimestamp.Equal(best.StartTimestamp) && c.EndTimestamp.After(best.EndTimestamp)) {
			best = c
		}
	}
	return best
}

// otherAgentContent rewrites an event of another agent as user context.
// Thoughts are dropped.
func otherAgentContent(ev *session.Event) *genai.Content {
	parts := []*genai.Part{genai.NewPartFromText("For context:")}
	for _, p := range ev.Content.Parts {
		switch {
		case p == nil || p.Thought:
		case p.Text != "":
			parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[%s] said: %s", ev.Author, p.Text)))
		case p.FunctionCall != nil:
			parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[%s] called tool `%s` with parameters: %s",
				ev.Author, p.FunctionCall.Name, compactJSON(p.FunctionCall.Args))))
		case p.FunctionResponse != nil:
			parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[%s] `%s` tool returned result: %s",
				ev.Author, p.FunctionResponse.Name, compactJSON(p.FunctionResponse.Response))))
		default:
			parts = append(parts, p)
		}
	}
	if len(parts) == 1 {
		return nil
	}
	return &genai.Content{Role: string(genai.RoleUser), Parts: parts}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
