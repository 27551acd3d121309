package agent

import (
	"fmt"

	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Plugin extends every agent of an app. A plugin implements any subset of
// the hook interfaces below.
type Plugin interface {
	Name() string
}

// UserMessageHook may replace the incoming user message.
type UserMessageHook interface {
	OnUserMessage(ictx *InvocationContext, msg *genai.Content) (*genai.Content, error)
}

// BeforeRunHook may answer the invocation without running the agent.
type BeforeRunHook interface {
	BeforeRun(ictx *InvocationContext) (*genai.Content, error)
}

// EventHook may replace an event before it reaches the caller. The
// persisted event is not affected.
type EventHook interface {
	OnEvent(ictx *InvocationContext, ev *session.Event) (*session.Event, error)
}

// AfterRunHook observes the end of an invocation.
type AfterRunHook interface {
	AfterRun(ictx *InvocationContext)
}

// BeforeModelHook may modify the request or answer it without a model call.
type BeforeModelHook interface {
	BeforeModel(cctx *CallbackContext, req *llm.Request) (*llm.Response, error)
}

// AfterModelHook may replace a model response.
type AfterModelHook interface {
	AfterModel(cctx *CallbackContext, resp *llm.Response) (*llm.Response, error)
}

// BeforeToolHook may answer a tool call without running the tool.
type BeforeToolHook interface {
	BeforeTool(tctx *tool.Context, t tool.Tool, args map[string]any) (map[string]any, error)
}

// AfterToolHook may replace a tool result.
type AfterToolHook interface {
	AfterTool(tctx *tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error)
}

// PluginManager runs plugin hooks in registration order. For hooks that
// return a value, the first non-nil value wins and later plugins are
// skipped.
type PluginManager struct {
	plugins []Plugin
}

// NewPluginManager returns a manager over plugins. Names must be unique.
func NewPluginManager(plugins ...Plugin) *PluginManager {
	return &PluginManager{plugins: plugins}
}

// Validate checks for duplicate plugin names.
func (m *PluginManager) Validate() error {
	seen := map[string]bool{}
	for _, p := range m.plugins {
		if seen[p.Name()] {
			return fmt.Errorf("plugin %s registered twice", p.Name())
		}
		seen[p.Name()] = true
	}
	return nil
}

// Plugins returns the registered plugins.
func (m *PluginManager) Plugins() []Plugin {
	if m == nil {
		return nil
	}
	return m.plugins
}

func (m *PluginManager) RunOnUserMessage(ictx *InvocationContext, msg *genai.Content) (*genai.Content, error) {
	for _, p := range m.Plugins() {
		h, ok := p.(UserMessageHook)
		if !ok {
			continue
		}
		out, err := h.OnUserMessage(ictx, msg)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: on user message: %w", p.Name(), err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *PluginManager) RunBeforeRun(ictx *InvocationContext) (*genai.Content, error) {
	for _, p := range m.Plugins() {
		h, ok := p.(BeforeRunHook)
		if !ok {
			continue
		}
		out, err := h.BeforeRun(ictx)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: before run: %w", p.Name(), err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *PluginManager) RunOnEvent(ictx *InvocationContext, ev *session.Event) (*session.Event, error) {
	for _, p := range m.Plugins() {
		h, ok := p.(EventHook)
		if !ok {
			continue
		}
		out, err := h.OnEvent(ictx, ev)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: on event: %w", p.Name(), err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

// RunAfterRun calls every AfterRun hook. Hooks cannot fail the invocation.
func (m *PluginManager) RunAfterRun(ictx *InvocationContext) {
	for _, p := range m.Plugins() {
		if h, ok := p.(AfterRunHook); ok {
			h.AfterRun(ictx)
		}
	}
	log.Debug().Str("invocation", ictx.InvocationID).Msg("plugins: after run done")
}

func (m *PluginManager) RunBeforeModel(cctx *CallbackContext, req *llm.Request) (*llm.Response, error) {
	for _, p := range m.Plugins() {
		h, ok := p.(BeforeModelHook)
		if !ok {
			continue
		}
		out, err := h.BeforeModel(cctx, req)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: before model: %w", p.Name(), err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *PluginManager) RunAfterModel(cctx *CallbackContext, resp *llm.Response) (*llm.Response, error) {
	for _, p := range m.Plugins() {
		h, ok := p.(AfterModelHook)
		if !ok {
			continue
		}
		out, err := h.AfterModel(cctx, resp)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: after model: %w", p.Name(), err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *PluginManager) RunBeforeTool(tctx *tool.Context, t tool.Tool, args map[string]any) (map[string]any, error) {
	for _, p := range m.Plugins() {
		h, ok := p.(BeforeToolHook)
		if !ok {
			continue
		}
		out, err := h.BeforeTool(tctx, t, args)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: before tool: %w", p.Name(), err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *PluginManager) RunAfterTool(tctx *tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error) {
	for _, p := range m.Plugins() {
		h, ok := p.(AfterToolHook)
		if !ok {
			continue
		}
		out, err := h.AfterTool(tctx, t, args, result)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: after tool: %w", p.Name(), err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}
