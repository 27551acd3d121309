// Package compaction summarizes old conversation history so model requests
// stay small. A compaction is recorded as an event whose actions carry the
// summary and the time range it replaces.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/session"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Compactor decides whether events need compacting and builds the
// compaction when they do.
type Compactor interface {
	MaybeCompact(ctx context.Context, events []*session.Event) (*session.Compaction, error)
}

// Summarizer condenses events into one content.
type Summarizer interface {
	Summarize(ctx context.Context, events []*session.Event) (*genai.Content, error)
}

// SlidingWindow compacts once Interval invocations completed since the last
// compaction. The window also covers the Overlap invocations preceding
// them, so consecutive summaries share context.
type SlidingWindow struct {
	Interval   int
	Overlap    int
	Summarizer Summarizer
}

// Validate checks the window settings.
func (w SlidingWindow) Validate() error {
	if w.Interval <= 0 {
		return fmt.Errorf("compaction interval must be positive, got %d", w.Interval)
	}
	if w.Overlap < 0 {
		return fmt.Errorf("compaction overlap must not be negative, got %d", w.Overlap)
	}
	if w.Summarizer == nil {
		return errors.New("compaction summarizer is required")
	}
	return nil
}

func (w SlidingWindow) MaybeCompact(ctx context.Context, events []*session.Event) (*session.Compaction, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	lastEnd := -1
	for i, ev := range events {
		if ev.Actions.Compaction != nil {
			lastEnd = i
		}
	}

	order := invocationOrder(events)
	var fresh []string
	seen := map[string]bool{}
	for i := lastEnd + 1; i < len(events); i++ {
		id := events[i].InvocationID
		if events[i].Actions.Compaction != nil || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		fresh = append(fresh, id)
	}
	if len(fresh) < w.Interval {
		return nil, nil
	}

	first := order[fresh[0]] - w.Overlap
	if first < 0 {
		first = 0
	}
	window := map[string]bool{}
	for id, pos := range order {
		if pos >= first && pos <= order[fresh[len(fresh)-1]] {
			window[id] = true
		}
	}

	var selected []*session.Event
	for _, ev := range events {
		if ev.Actions.Compaction == nil && window[ev.InvocationID] {
			selected = append(selected, ev)
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}

	content, err := w.Summarizer.Summarize(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("summarize events: %w", err)
	}
	if content == nil {
		return nil, nil
	}
	log.Debug().
		Int("events", len(selected)).
		Int("invocations", len(window)).
		Msg("compaction: summarized window")
	return &session.Compaction{
		StartTimestamp: selected[0].Timestamp,
		EndTimestamp:   selected[len(selected)-1].Timestamp,
		Content:        content,
	}, nil
}

// invocationOrder maps each invocation ID to the order of its first event.
func invocationOrder(events []*session.Event) map[string]int {
	order := map[string]int{}
	for _, ev := range events {
		if ev.InvocationID == "" || ev.Actions.Compaction != nil {
			continue
		}
		if _, ok := order[ev.InvocationID]; !ok {
			order[ev.InvocationID] = len(order)
		}
	}
	return order
}

const summaryPrompt = `The following is a conversation history between a user and an AI agent.
Summarize the conversation concisely. Keep key facts, decisions, open
questions and tool results the agent may need later.

Conversation history:
%s`

// LLMSummarizer asks a model for the summary.
type LLMSummarizer struct {
	Model llm.Model
	// Prompt is a format string with one %s for the rendered history.
	Prompt string
}

func (s LLMSummarizer) Summarize(ctx context.Context, events []*session.Event) (*genai.Content, error) {
	if s.Model == nil {
		return nil, errors.New("summarizer model is required")
	}
	prompt := s.Prompt
	if prompt == "" {
		prompt = summaryPrompt
	}
	req := llm.NewRequest(s.Model.Name())
	req.AppendContents(genai.NewContentFromText(fmt.Sprintf(prompt, render(events)), genai.RoleUser))

	var last *llm.Response
	for resp, err := range s.Model.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, fmt.Errorf("generate summary: %w", err)
		}
		if !resp.Partial {
			last = resp
		}
	}
	if last == nil || last.Content == nil {
		return nil, nil
	}
	return &genai.Content{Role: string(genai.RoleModel), Parts: last.Content.Parts}, nil
}

// render writes the text of events as "author: text" lines.
func render(events []*session.Event) string {
	var b strings.Builder
	for _, ev := range events {
		text := ev.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", ev.Author, text)
	}
	return b.String()
}
