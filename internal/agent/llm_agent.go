package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"google.golang.org/genai"
)

// IncludeContents selects the history an LLM agent sends to its model.
type IncludeContents string

const (
	// IncludeDefault sends the session history relevant to the agent.
	IncludeDefault IncludeContents = "default"
	// IncludeNone sends only the current turn.
	IncludeNone IncludeContents = "none"
)

// InstructionProvider builds an instruction at request time. The result is
// used as is, without placeholder injection.
type InstructionProvider func(cctx *CallbackContext) (string, error)

// BeforeModelCallback may edit the request or answer it without a model
// call by returning a response.
type BeforeModelCallback func(cctx *CallbackContext, req *llm.Request) (*llm.Response, error)

// AfterModelCallback may replace a model response.
type AfterModelCallback func(cctx *CallbackContext, resp *llm.Response) (*llm.Response, error)

// BeforeToolCallback may answer a tool call without running the tool.
type BeforeToolCallback func(tctx *tool.Context, t tool.Tool, args map[string]any) (map[string]any, error)

// AfterToolCallback may replace a tool result.
type AfterToolCallback func(tctx *tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error)

// Toolset provides tools resolved at request time, such as an MCP server.
type Toolset interface {
	Tools(ctx context.Context) ([]tool.Tool, error)
}

// LLMConfig configures an LLM agent.
type LLMConfig struct {
	Name        string
	Description string
	// Model is inherited from the nearest LLM ancestor when nil.
	Model llm.Model

	// Instruction is templated with session state and artifacts.
	Instruction         string
	InstructionProvider InstructionProvider
	// GlobalInstruction applies to every agent of the tree; only the root's
	// value is used.
	GlobalInstruction string
	// StaticInstruction is sent verbatim as the system instruction. When
	// set, the templated instruction moves into the conversation so the
	// system instruction stays cacheable.
	StaticInstruction *genai.Content

	Tools          []tool.Tool
	Toolsets       []Toolset
	GenerateConfig *genai.GenerateContentConfig

	IncludeContents IncludeContents
	// OutputKey stores the final response text in session state.
	OutputKey string
	// OutputSchema asks the model for JSON; stored output is decoded.
	OutputSchema *genai.Schema

	DisallowTransferToParent bool
	DisallowTransferToPeers  bool

	SubAgents []Agent

	BeforeAgent []AgentCallback
	AfterAgent  []AgentCallback
	BeforeModel []BeforeModelCallback
	AfterModel  []AfterModelCallback
	BeforeTool  []BeforeToolCallback
	AfterTool   []AfterToolCallback
}

// LLMAgent answers with a model, calling tools and transferring to other
// agents as the model asks.
type LLMAgent struct {
	base
	cfg LLMConfig
}

// NewLLM builds an LLM agent and adopts its sub-agents.
func NewLLM(cfg LLMConfig) (*LLMAgent, error) {
	if cfg.IncludeContents == "" {
		cfg.IncludeContents = IncludeDefault
	}
	if cfg.IncludeContents != IncludeDefault && cfg.IncludeContents != IncludeNone {
		return nil, fmt.Errorf("agent %s: unknown include contents %q", cfg.Name, cfg.IncludeContents)
	}
	if cfg.GenerateConfig != nil {
		if cfg.GenerateConfig.SystemInstruction != nil {
			return nil, fmt.Errorf("agent %s: system instruction must be set with Instruction", cfg.Name)
		}
		if len(cfg.GenerateConfig.Tools) > 0 {
			return nil, fmt.Errorf("agent %s: tools must be set with Tools", cfg.Name)
		}
	}
	a := &LLMAgent{cfg: cfg}
	b, err := newBase(a, cfg.Name, cfg.Description, cfg.SubAgents, cfg.BeforeAgent, cfg.AfterAgent)
	if err != nil {
		return nil, err
	}
	a.base = b
	if err := adopt(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Config returns the agent configuration.
func (a *LLMAgent) Config() LLMConfig { return a.cfg }

// OutputKey returns the state key receiving the final response.
func (a *LLMAgent) OutputKey() string { return a.cfg.OutputKey }

// Model returns the agent's model or the nearest ancestor's.
func (a *LLMAgent) Model() (llm.Model, error) {
	if a.cfg.Model != nil {
		return a.cfg.Model, nil
	}
	for p := a.Parent(); p != nil; p = p.Parent() {
		if la, ok := p.(*LLMAgent); ok && la.cfg.Model != nil {
			return la.cfg.Model, nil
		}
	}
	return nil, fmt.Errorf("agent %s: no model found", a.name)
}

// Run runs the model step loop until a final response.
func (a *LLMAgent) Run(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
	return run(a, &a.base, ictx, a.runSteps)
}

func (a *LLMAgent) runSteps(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		for {
			var (
				last   *session.Event
				paused bool
			)
			for ev, err := range a.step(ictx) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(ev, nil) {
					return
				}
				last = ev
				paused = paused || ictx.ShouldPause(ev)
			}
			if last == nil || last.IsFinalResponse() || paused || ictx.Ended() {
				return
			}
			if last.Partial {
				yield(nil, errors.New("last event is partial"))
				return
			}
		}
	}
}

// transferTargets lists the agents a may hand the conversation to.
func (a *LLMAgent) transferTargets() []Agent {
	targets := append([]Agent(nil), a.SubAgents()...)
	parent, ok := a.Parent().(*LLMAgent)
	if !ok {
		return targets
	}
	if !a.cfg.DisallowTransferToParent {
		targets = append(targets, parent)
	}
	if !a.cfg.DisallowTransferToPeers {
		for _, peer := range parent.SubAgents() {
			if peer.Name() != a.Name() {
				targets = append(targets, peer)
			}
		}
	}
	return targets
}
