// Package session defines conversation sessions, the events recorded in
// them, and the services that persist both.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/adkx/internal/cache"
	"google.golang.org/genai"
)

// AuthorUser is the author recorded on events carrying user input.
const AuthorUser = "user"

// Event is one entry of a session's history: a user message, a model
// response, a tool result or a pure state change.
type Event struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Author       string    `json:"author"`
	Branch       string    `json:"branch,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	Content      *genai.Content     `json:"content,omitempty"`
	Partial      bool               `json:"partial,omitempty"`
	TurnComplete bool               `json:"turn_complete,omitempty"`
	FinishReason genai.FinishReason `json:"finish_reason,omitempty"`
	ErrorCode    string             `json:"error_code,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`

	UsageMetadata  *genai.GenerateContentResponseUsageMetadata `json:"usage_metadata,omitempty"`
	AvgLogprobs    *float64                                    `json:"avg_logprobs,omitempty"`
	LogprobsResult *genai.LogprobsResult                       `json:"logprobs_result,omitempty"`
	CacheMetadata  *cache.Metadata                             `json:"cache_metadata,omitempty"`
	CustomMetadata map[string]any                              `json:"custom_metadata,omitempty"`

	// LongRunningToolIDs holds the function call IDs of long running tools
	// issued by this event.
	LongRunningToolIDs []string `json:"long_running_tool_ids,omitempty"`

	Actions Actions `json:"actions"`
}

// Actions are side effects attached to an event.
type Actions struct {
	StateDelta        map[string]any `json:"state_delta,omitempty"`
	ArtifactDelta     map[string]int `json:"artifact_delta,omitempty"`
	Escalate          bool           `json:"escalate,omitempty"`
	TransferToAgent   string         `json:"transfer_to_agent,omitempty"`
	SkipSummarization bool           `json:"skip_summarization,omitempty"`
	Compaction        *Compaction    `json:"compaction,omitempty"`
}

// Compaction replaces the events in [StartTimestamp, EndTimestamp] with a
// summary when contents are assembled for a model.
type Compaction struct {
	StartTimestamp time.Time      `json:"start_timestamp"`
	EndTimestamp   time.Time      `json:"end_timestamp"`
	Content        *genai.Content `json:"compacted_content"`
}

// NewEvent returns an event with a fresh ID and the current timestamp.
func NewEvent(invocationID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Timestamp:    time.Now(),
	}
}

// NewInvocationID returns a new invocation identifier.
func NewInvocationID() string {
	return "e-" + uuid.NewString()
}

// FunctionCalls returns the function calls in the event content.
func (e *Event) FunctionCalls() []*genai.FunctionCall {
	if e == nil || e.Content == nil {
		return nil
	}
	var out []*genai.FunctionCall
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionCall != nil {
			out = append(out, p.FunctionCall)
		}
	}
	return out
}

// FunctionResponses returns the function responses in the event content.
func (e *Event) FunctionResponses() []*genai.FunctionResponse {
	if e == nil || e.Content == nil {
		return nil
	}
	var out []*genai.FunctionResponse
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionResponse != nil {
			out = append(out, p.FunctionResponse)
		}
	}
	return out
}

// IsFinalResponse reports whether the event ends the agent's turn.
func (e *Event) IsFinalResponse() bool {
	if e.Actions.SkipSummarization || len(e.LongRunningToolIDs) > 0 {
		return true
	}
	return len(e.FunctionCalls()) == 0 && len(e.FunctionResponses()) == 0 && !e.Partial
}

// Text concatenates the text parts of the event content.
func (e *Event) Text() string {
	if e == nil || e.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range e.Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// IsLongRunningCall reports whether id names a long running call of e.
func (e *Event) IsLongRunningCall(id string) bool {
	for _, v := range e.LongRunningToolIDs {
		if v == id {
			return true
		}
	}
	return false
}
