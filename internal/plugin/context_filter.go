package plugin

import (
	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/llm"
	"google.golang.org/genai"
)

// ContextFilter trims the conversation sent to models. It keeps the
// contents of the last InvocationsToKeep user turns, then applies Filter.
type ContextFilter struct {
	// InvocationsToKeep is ignored when zero.
	InvocationsToKeep int
	Filter            func([]*genai.Content) []*genai.Content
}

func (ContextFilter) Name() string { return "context_filter" }

func (f ContextFilter) BeforeModel(_ *agent.CallbackContext, req *llm.Request) (*llm.Response, error) {
	contents := req.Contents
	if f.InvocationsToKeep > 0 {
		contents = keepLastTurns(contents, f.InvocationsToKeep)
	}
	if f.Filter != nil {
		contents = f.Filter(contents)
	}
	req.Contents = contents
	return nil, nil
}

// keepLastTurns cuts contents at the n-th user message from the end. Tool
// results also carry the user role but do not start a turn.
func keepLastTurns(contents []*genai.Content, n int) []*genai.Content {
	seen := 0
	for i := len(contents) - 1; i >= 0; i-- {
		if !startsTurn(contents[i]) {
			continue
		}
		seen++
		if seen == n {
			return contents[i:]
		}
	}
	return contents
}

func startsTurn(c *genai.Content) bool {
	if c == nil || c.Role != string(genai.RoleUser) {
		return false
	}
	for _, p := range c.Parts {
		if p != nil && p.FunctionResponse != nil {
			return false
		}
	}
	return true
}
