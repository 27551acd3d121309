// Package tool defines the tools an LLM agent can call and the context they
// run in.
package tool

import (
	"context"
	"fmt"

	"github.com/metalagman/adkx/internal/artifact"
	"github.com/metalagman/adkx/internal/session"
	"google.golang.org/genai"
)

// Tool is a callable exposed to the model as a function declaration.
type Tool interface {
	Name() string
	Description() string
	// IsLongRunning reports whether the call returns before the work is
	// done. The invocation may pause on such calls.
	IsLongRunning() bool
	// Declaration returns the function declaration sent to the model, or
	// nil for tools the model cannot call directly.
	Declaration() *genai.FunctionDeclaration
	Run(ctx *Context, args map[string]any) (map[string]any, error)
}

// Request is the part of an LLM request a tool may amend before the model
// is called.
type Request interface {
	AppendInstructions(texts ...string)
	AppendContents(contents ...*genai.Content)
	LastContent() *genai.Content
}

// RequestProcessor is implemented by tools that amend outgoing requests.
type RequestProcessor interface {
	ProcessRequest(ctx *Context, req Request) error
}

// Context carries the invocation a tool runs in. Writes to State and
// Actions land on the event that carries the function response.
type Context struct {
	context.Context

	InvocationID   string
	AgentName      string
	FunctionCallID string
	Session        *session.Session
	State          *session.State
	Actions        *session.Actions
	Artifacts      artifact.Service
}

// NewContext builds a tool context whose writes go to actions.
func NewContext(ctx context.Context, invocationID, agentName string, sess *session.Session, artifacts artifact.Service, actions *session.Actions) *Context {
	if actions.StateDelta == nil {
		actions.StateDelta = map[string]any{}
	}
	var state map[string]any
	if sess != nil {
		state = sess.State()
	}
	return &Context{
		Context:      ctx,
		InvocationID: invocationID,
		AgentName:    agentName,
		Session:      sess,
		State:        session.NewState(state, actions.StateDelta),
		Actions:      actions,
		Artifacts:    artifacts,
	}
}

func (c *Context) artifactKey(name string) (artifact.Key, error) {
	if c.Artifacts == nil {
		return artifact.Key{}, fmt.Errorf("artifact service is not initialized")
	}
	if c.Session == nil {
		return artifact.Key{}, fmt.Errorf("artifact %s: no session", name)
	}
	return artifact.Key{AppName: c.Session.AppName, UserID: c.Session.UserID, SessionID: c.Session.ID, Filename: name}, nil
}

// SaveArtifact stores part and records the new version in the artifact
// delta.
func (c *Context) SaveArtifact(name string, part *genai.Part) (int, error) {
	key, err := c.artifactKey(name)
	if err != nil {
		return 0, err
	}
	version, err := c.Artifacts.Save(c, key, part)
	if err != nil {
		return 0, err
	}
	if c.Actions.ArtifactDelta == nil {
		c.Actions.ArtifactDelta = map[string]int{}
	}
	c.Actions.ArtifactDelta[name] = version
	return version, nil
}

// LoadArtifact returns the latest version of an artifact.
func (c *Context) LoadArtifact(name string) (*genai.Part, error) {
	key, err := c.artifactKey(name)
	if err != nil {
		return nil, err
	}
	return c.Artifacts.Load(c, key, -1)
}

// ListArtifacts returns the artifact names visible to the session.
func (c *Context) ListArtifacts() ([]string, error) {
	if _, err := c.artifactKey(""); err != nil {
		return nil, err
	}
	return c.Artifacts.ListKeys(c, c.Session.AppName, c.Session.UserID, c.Session.ID)
}
