package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/metalagman/adkx/internal/session"
)

// Markdown renders model text as terminal markdown.
type Markdown struct {
	r *glamour.TermRenderer
}

// NewMarkdown builds a renderer wrapping at width. An empty style detects
// the terminal background; "notty" renders without escape codes.
func NewMarkdown(width int, style string) (*Markdown, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return &Markdown{r: r}, nil
}

// Render returns text rendered as markdown, or text itself when rendering
// fails.
func (m *Markdown) Render(text string) string {
	if m == nil {
		return text
	}
	out, err := m.r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// Event renders one session event: function calls and results as tool
// lines, text through md. Events with nothing to show render as "".
func Event(st Styles, md *Markdown, ev *session.Event) string {
	if ev == nil {
		return ""
	}
	if ev.ErrorCode != "" || ev.ErrorMessage != "" {
		return st.Bad.Render(fmt.Sprintf("%s error %s: %s", ev.Author, ev.ErrorCode, ev.ErrorMessage))
	}
	var lines []string
	for _, call := range ev.FunctionCalls() {
		lines = append(lines, st.Tool.Render("→ "+call.Name)+" "+compact(call.Args))
	}
	for _, resp := range ev.FunctionResponses() {
		lines = append(lines, st.Tool.Render("← "+resp.Name)+" "+compact(resp.Response))
	}
	if ev.Actions.TransferToAgent != "" {
		lines = append(lines, st.Muted.Render("transfer to "+ev.Actions.TransferToAgent))
	}
	if text := strings.TrimSpace(ev.Text()); text != "" {
		lines = append(lines, st.Agent.Render(ev.Author+":")+"\n"+md.Render(text))
	}
	return strings.Join(lines, "\n")
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
