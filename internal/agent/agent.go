// Package agent runs agent trees: LLM agents that call models and tools,
// and workflow agents that sequence, fan out or loop over sub-agents.
package agent

import (
	"errors"
	"fmt"
	"iter"

	"github.com/metalagman/adkx/internal/session"
	"google.golang.org/genai"
)

// ErrAgentNotFound is returned when a transfer or lookup names an unknown
// agent.
var ErrAgentNotFound = errors.New("agent not found")

// Agent is a node of an agent tree.
type Agent interface {
	Name() string
	Description() string
	SubAgents() []Agent
	Parent() Agent
	// Run streams the events the agent produces. The caller must persist
	// each event before resuming the iteration.
	Run(ictx *InvocationContext) iter.Seq2[*session.Event, error]

	setParent(Agent) error
}

// AgentCallback runs before or after an agent. Returning content replaces
// the agent run (before) or adds a closing event (after).
type AgentCallback func(cctx *CallbackContext) (*genai.Content, error)

// base holds what every agent shares.
type base struct {
	name        string
	description string
	subAgents   []Agent
	parent      Agent

	beforeAgent []AgentCallback
	afterAgent  []AgentCallback
}

func newBase(self Agent, name, description string, subs []Agent, before, after []AgentCallback) (base, error) {
	if name == "" {
		return base{}, errors.New("agent name is required")
	}
	if name == session.AuthorUser {
		return base{}, fmt.Errorf("agent name %q is reserved", name)
	}
	seen := map[string]bool{}
	for _, sub := range subs {
		if seen[sub.Name()] {
			return base{}, fmt.Errorf("agent %s: duplicate sub-agent %s", name, sub.Name())
		}
		seen[sub.Name()] = true
	}
	return base{name: name, description: description, subAgents: subs, beforeAgent: before, afterAgent: after}, nil
}

// adopt makes self the parent of its sub-agents.
func adopt(self Agent) error {
	for _, sub := range self.SubAgents() {
		if err := sub.setParent(self); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) Name() string        { return b.name }
func (b *base) Description() string { return b.description }
func (b *base) SubAgents() []Agent  { return b.subAgents }
func (b *base) Parent() Agent       { return b.parent }

func (b *base) setParent(p Agent) error {
	if b.parent != nil {
		return fmt.Errorf("agent %s already has parent %s", b.name, b.parent.Name())
	}
	b.parent = p
	return nil
}

// FindAgent returns a, or the descendant of a, named name.
func FindAgent(a Agent, name string) Agent {
	if a == nil {
		return nil
	}
	if a.Name() == name {
		return a
	}
	for _, sub := range a.SubAgents() {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// Root returns the top of a's tree.
func Root(a Agent) Agent {
	for a.Parent() != nil {
		a = a.Parent()
	}
	return a
}

// run wraps impl with the agent callbacks and the end-of-invocation check.
func run(self Agent, b *base, ictx *InvocationContext, impl func(*InvocationContext) iter.Seq2[*session.Event, error]) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		ictx = ictx.withAgent(self)
		if ictx.Ended() {
			return
		}

		ev, replaced, err := runAgentCallbacks(ictx, b.beforeAgent)
		if err != nil {
			yield(nil, fmt.Errorf("before agent %s: %w", b.name, err))
			return
		}
		if ev != nil && !yield(ev, nil) {
			return
		}
		if replaced {
			ictx.EndInvocation()
			return
		}

		for ev, err := range impl(ictx) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
		if ictx.Ended() {
			return
		}

		ev, _, err = runAgentCallbacks(ictx, b.afterAgent)
		if err != nil {
			yield(nil, fmt.Errorf("after agent %s: %w", b.name, err))
			return
		}
		if ev != nil {
			yield(ev, nil)
		}
	}
}

// runAgentCallbacks runs callbacks until one returns content, reported by
// replaced. State written by callbacks is carried on the returned event even
// without content.
func runAgentCallbacks(ictx *InvocationContext, callbacks []AgentCallback) (ev *session.Event, replaced bool, err error) {
	if len(callbacks) == 0 {
		return nil, false, nil
	}
	cctx := newCallbackContext(ictx)
	for _, cb := range callbacks {
		content, err := cb(cctx)
		if err != nil {
			return nil, false, err
		}
		if content != nil {
			ev := ictx.newEvent()
			ev.Content = content
			ev.Actions = *cctx.Actions
			return ev, true, nil
		}
	}
	if cctx.State.HasDelta() {
		ev := ictx.newEvent()
		ev.Actions = *cctx.Actions
		return ev, false, nil
	}
	return nil, false, nil
}
