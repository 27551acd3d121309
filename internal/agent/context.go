package agent

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/metalagman/adkx/internal/artifact"
	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/session"
	"google.golang.org/genai"
)

// DefaultMaxLLMCalls bounds model calls per invocation.
const DefaultMaxLLMCalls = 500

// StreamingMode selects whether models stream partial responses.
type StreamingMode string

const (
	StreamingNone StreamingMode = "none"
	StreamingSSE  StreamingMode = "sse"
)

// RunConfig tunes one invocation.
type RunConfig struct {
	StreamingMode StreamingMode
	// MaxLLMCalls caps model calls; zero means DefaultMaxLLMCalls and a
	// negative value disables the cap.
	MaxLLMCalls int
}

// InvocationContext is the state of one invocation shared by every agent
// it reaches. Copies made for sub-agents share the end flag and the model
// call counter.
type InvocationContext struct {
	context.Context

	InvocationID   string
	Branch         string
	Agent          Agent
	Session        *session.Session
	SessionService session.Service
	Artifacts      artifact.Service
	Plugins        *PluginManager
	CacheConfig    *cache.Config
	Resumable      bool
	UserContent    *genai.Content
	RunConfig      RunConfig

	ended    *atomic.Bool
	llmCalls *atomic.Int64
}

// NewInvocationContext returns a context for a fresh invocation.
func NewInvocationContext(ctx context.Context, sess *session.Session, root Agent) *InvocationContext {
	return &InvocationContext{
		Context:      ctx,
		InvocationID: session.NewInvocationID(),
		Agent:        root,
		Session:      sess,
		Plugins:      NewPluginManager(),
		ended:        &atomic.Bool{},
		llmCalls:     &atomic.Int64{},
	}
}

func (c *InvocationContext) clone() *InvocationContext {
	cp := *c
	if cp.ended == nil {
		cp.ended = &atomic.Bool{}
	}
	if cp.llmCalls == nil {
		cp.llmCalls = &atomic.Int64{}
	}
	return &cp
}

func (c *InvocationContext) withAgent(a Agent) *InvocationContext {
	cp := c.clone()
	cp.Agent = a
	return cp
}

func (c *InvocationContext) withBranch(branch string) *InvocationContext {
	cp := c.clone()
	cp.Branch = branch
	return cp
}

// WithContext returns a copy bound to ctx.
func (c *InvocationContext) WithContext(ctx context.Context) *InvocationContext {
	cp := c.clone()
	cp.Context = ctx
	return cp
}

// EndInvocation stops every agent of the invocation after its current step.
func (c *InvocationContext) EndInvocation() {
	if c.ended != nil {
		c.ended.Store(true)
	}
}

// Ended reports whether EndInvocation was called or the context is done.
func (c *InvocationContext) Ended() bool {
	if c.ended != nil && c.ended.Load() {
		return true
	}
	return c.Context != nil && c.Err() != nil
}

// ShouldPause reports whether ev pauses a resumable invocation: it issued a
// long running function call.
func (c *InvocationContext) ShouldPause(ev *session.Event) bool {
	if !c.Resumable || ev == nil || len(ev.LongRunningToolIDs) == 0 {
		return false
	}
	for _, call := range ev.FunctionCalls() {
		if slices.Contains(ev.LongRunningToolIDs, call.ID) {
			return true
		}
	}
	return false
}

// countLLMCall records a model call and fails once the cap is exceeded.
func (c *InvocationContext) countLLMCall() error {
	limit := c.RunConfig.MaxLLMCalls
	if limit == 0 {
		limit = DefaultMaxLLMCalls
	}
	if c.llmCalls == nil {
		c.llmCalls = &atomic.Int64{}
	}
	n := c.llmCalls.Add(1)
	if limit > 0 && n > int64(limit) {
		return fmt.Errorf("max number of llm calls limit of %d exceeded", limit)
	}
	return nil
}

// newEvent returns an event authored by the current agent on the current
// branch.
func (c *InvocationContext) newEvent() *session.Event {
	ev := session.NewEvent(c.InvocationID)
	if c.Agent != nil {
		ev.Author = c.Agent.Name()
	}
	ev.Branch = c.Branch
	return ev
}

// CallbackContext is handed to agent and model callbacks. State writes land
// in Actions.StateDelta.
type CallbackContext struct {
	*InvocationContext

	State   *session.State
	Actions *session.Actions
}

func newCallbackContext(ictx *InvocationContext) *CallbackContext {
	actions := &session.Actions{StateDelta: map[string]any{}}
	var state map[string]any
	if ictx.Session != nil {
		state = ictx.Session.State()
	}
	return &CallbackContext{
		InvocationContext: ictx,
		State:             session.NewState(state, actions.StateDelta),
		Actions:           actions,
	}
}

// AgentName returns the name of the running agent.
func (c *CallbackContext) AgentName() string {
	if c.Agent == nil {
		return ""
	}
	return c.Agent.Name()
}
