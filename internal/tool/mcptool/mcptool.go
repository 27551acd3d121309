// Package mcptool exposes the tools of an MCP server as adkx tools.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/metalagman/adkx/internal/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Config selects how to reach the server. Exactly one of Command or URL
// is set unless Transport is provided.
type Config struct {
	Command []string `json:"command,omitempty" mapstructure:"command"`
	URL     string   `json:"url,omitempty" mapstructure:"url"`
	// Filter limits the exposed tools by name. Empty exposes all.
	Filter []string `json:"filter,omitempty" mapstructure:"filter"`

	Transport mcp.Transport `json:"-" mapstructure:"-"`
}

// Toolset is a lazily connected MCP client session.
type Toolset struct {
	cfg    Config
	client *mcp.Client

	mu      sync.Mutex
	session *mcp.ClientSession
}

// New returns a toolset for cfg. The connection is opened on first use.
func New(cfg Config) (*Toolset, error) {
	if cfg.Transport == nil && len(cfg.Command) == 0 && cfg.URL == "" {
		return nil, errors.New("mcp toolset: command or url is required")
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "adkx", Version: "v1"}, nil)
	return &Toolset{cfg: cfg, client: client}, nil
}

func (t *Toolset) transport() mcp.Transport {
	switch {
	case t.cfg.Transport != nil:
		return t.cfg.Transport
	case len(t.cfg.Command) > 0:
		return &mcp.CommandTransport{Command: exec.Command(t.cfg.Command[0], t.cfg.Command[1:]...)}
	default:
		return &mcp.StreamableClientTransport{Endpoint: t.cfg.URL}
	}
}

func (t *Toolset) connect(ctx context.Context) (*mcp.ClientSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		return t.session, nil
	}
	cs, err := t.client.Connect(ctx, t.transport(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server: %w", err)
	}
	t.session = cs
	return cs, nil
}

// Tools lists the server tools that pass the filter.
func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	cs, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	for _, name := range t.cfg.Filter {
		allowed[name] = true
	}

	var out []tool.Tool
	cursor := ""
	for {
		res, err := cs.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list mcp tools: %w", err)
		}
		for _, mt := range res.Tools {
			if len(allowed) > 0 && !allowed[mt.Name] {
				continue
			}
			out = append(out, &remoteTool{set: t, def: mt})
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	log.Debug().Int("tools", len(out)).Msg("mcp: tools loaded")
	return out, nil
}

// Close ends the client session.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil
	}
	err := t.session.Close()
	t.session = nil
	return err
}

type remoteTool struct {
	set *Toolset
	def *mcp.Tool
}

func (r *remoteTool) Name() string        { return r.def.Name }
func (r *remoteTool) Description() string { return r.def.Description }
func (r *remoteTool) IsLongRunning() bool { return false }

func (r *remoteTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:                 r.def.Name,
		Description:          r.def.Description,
		ParametersJsonSchema: r.def.InputSchema,
	}
}

func (r *remoteTool) Run(ctx *tool.Context, args map[string]any) (map[string]any, error) {
	cs, err := r.set.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: r.def.Name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call mcp tool %s: %w", r.def.Name, err)
	}
	text := resultText(res)
	if res.IsError {
		return map[string]any{"error": text}, nil
	}
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err == nil {
			var m map[string]any
			if json.Unmarshal(raw, &m) == nil && m != nil {
				return m, nil
			}
		}
	}
	return map[string]any{"result": text}, nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
