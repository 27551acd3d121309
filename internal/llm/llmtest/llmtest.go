// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/metalagman/adkx/internal/llm"
	"google.golang.org/genai"
)

// Model replays scripted responses in order and records every request.
type Model struct {
	ModelName string

	mu        sync.Mutex
	responses []*llm.Response
	requests  []*llm.Request
}

// New returns a model that answers with responses, one per call.
func New(responses ...*llm.Response) *Model {
	return &Model{ModelName: "mock", responses: responses}
}

// Text builds a final text response.
func Text(text string) *llm.Response {
	return &llm.Response{Content: genai.NewContentFromText(text, genai.RoleModel), TurnComplete: true}
}

// Call builds a response with one function call.
func Call(id, name string, args map[string]any) *llm.Response {
	part := genai.NewPartFromFunctionCall(name, args)
	part.FunctionCall.ID = id
	return &llm.Response{Content: &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{part}}, TurnComplete: true}
}

func (m *Model) Name() string { return m.ModelName }

// Requests returns the recorded requests.
func (m *Model) Requests() []*llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.Request(nil), m.requests...)
}

// Push appends responses to the script.
func (m *Model) Push(responses ...*llm.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *Model) GenerateContent(_ context.Context, req *llm.Request, _ bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		m.mu.Lock()
		m.requests = append(m.requests, req)
		if len(m.responses) == 0 {
			m.mu.Unlock()
			yield(nil, fmt.Errorf("llmtest: no scripted response for call %d", len(m.requests)))
			return
		}
		resp := m.responses[0]
		m.responses = m.responses[1:]
		m.mu.Unlock()

		cp := *resp
		yield(&cp, nil)
	}
}

var _ llm.Model = (*Model)(nil)
