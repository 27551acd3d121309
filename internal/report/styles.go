// Package report renders cache reports, experiment summaries and session
// events for the terminal.
package report

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1A4D8F", Dark: "#7AB8FF"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	colorGood    = lipgloss.Color("#22A06B")
	colorWarn    = lipgloss.Color("#E2B203")
	colorBad     = lipgloss.Color("#E5484D")
	colorTool    = lipgloss.AdaptiveColor{Light: "#8F5AE0", Dark: "#C4A2FF"}
)

// Styles are the lipgloss styles of every renderer in the package.
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Muted  lipgloss.Style
	Good   lipgloss.Style
	Warn   lipgloss.Style
	Bad    lipgloss.Style
	User   lipgloss.Style
	Agent  lipgloss.Style
	Tool   lipgloss.Style
}

// DefaultStyles returns the adkx palette.
func DefaultStyles() Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		Header: lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Padding(0, 1),
		Muted:  lipgloss.NewStyle().Foreground(colorMuted),
		Good:   lipgloss.NewStyle().Foreground(colorGood),
		Warn:   lipgloss.NewStyle().Foreground(colorWarn),
		Bad:    lipgloss.NewStyle().Foreground(colorBad).Bold(true),
		User:   lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		Agent:  lipgloss.NewStyle().Foreground(colorGood).Bold(true),
		Tool:   lipgloss.NewStyle().Foreground(colorTool),
	}
}

// Table is a titled grid of cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render draws the table with st. Empty tables render as the empty string.
func (t *Table) Render(st Styles) string {
	if len(t.Rows) == 0 {
		return ""
	}
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}
	total := len(widths) - 1
	for i := range widths {
		widths[i] += 2
		total += widths[i]
	}

	sep := st.Muted.Render("│")
	line := func(style lipgloss.Style, cells []string) string {
		out := make([]string, 0, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			out = append(out, style.Width(widths[i]).Render(cell))
		}
		return strings.Join(out, sep)
	}

	var b strings.Builder
	if t.Title != "" {
		b.WriteString(st.Title.Render(t.Title))
		b.WriteString("\n")
	}
	b.WriteString(line(st.Header, t.Headers))
	b.WriteString("\n")
	b.WriteString(st.Muted.Render(strings.Repeat("─", total)))
	b.WriteString("\n")
	for _, row := range t.Rows {
		b.WriteString(line(st.Cell, row))
		b.WriteString("\n")
	}
	return b.String()
}
