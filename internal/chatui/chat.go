// Package chatui is an interactive terminal chat with an adkx runner.
package chatui

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/report"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	"google.golang.org/genai"
)

// SendFunc sends one user message and yields the resulting events.
type SendFunc func(ctx context.Context, text string) iter.Seq2[*session.Event, error]

// RunnerSend adapts a runner session to a SendFunc.
func RunnerSend(r *runner.Runner, userID, sessionID string, cfg agent.RunConfig) SendFunc {
	return func(ctx context.Context, text string) iter.Seq2[*session.Event, error] {
		return r.Run(ctx, userID, sessionID, genai.NewContentFromText(text, genai.RoleUser), cfg)
	}
}

// Run starts the chat and blocks until the user quits.
func Run(title string, send SendFunc) error {
	_, err := tea.NewProgram(newModel(title, send), tea.WithAltScreen()).Run()
	return err
}

type result struct {
	ev  *session.Event
	err error
}

type eventMsg result

type doneMsg struct{}

type tickMsg time.Time

type model struct {
	styles report.Styles
	md     *report.Markdown

	vp      viewport.Model
	input   textarea.Model
	spin    spinner.Model
	history string

	send    SendFunc
	results <-chan result
	cancel  context.CancelFunc

	working   bool
	workStart time.Time
	status    string
}

func newModel(title string, send SendFunc) *model {
	st := report.DefaultStyles()

	input := textarea.New()
	input.Placeholder = "Type a message (Enter to send)"
	input.FocusedStyle.CursorLine = lipgloss.NewStyle()
	input.Prompt = "> "
	input.ShowLineNumbers = false
	input.SetHeight(1)
	input.Focus()

	header := st.Title.Render(title)
	vp := viewport.New(0, 0)
	vp.SetContent(header)
	vp.MouseWheelEnabled = true

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.Tool

	return &model{
		styles:  st,
		vp:      vp,
		input:   input,
		spin:    sp,
		history: header,
		send:    send,
	}
}

func (m *model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !m.working {
			return m, tea.Batch(cmds...)
		}
		m.spin, cmd = m.spin.Update(msg)
		return m, tea.Batch(append(cmds, cmd)...)
	case tickMsg:
		if !m.working {
			return m, nil
		}
		m.updateStatus()
		return m, m.tick()
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if m.working || text == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.submit(text)
		}
	case eventMsg:
		if msg.err != nil {
			m.appendLine(m.styles.Bad.Render(fmt.Sprintf("Error: %v", msg.err)))
		} else if !msg.ev.Partial {
			m.appendEvent(msg.ev)
		}
		return m, m.waitNext()
	case doneMsg:
		m.finish()
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) View() string {
	width := max(m.vp.Width, 10)
	status := m.status
	if m.working {
		status = m.spin.View() + " " + status
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.vp.View(),
		m.styles.Muted.Render(strings.Repeat("─", width)),
		m.styles.Muted.Render(status),
		m.input.View(),
	)
}

func (m *model) resize(width, height int) {
	m.vp.Width = width
	m.vp.Height = max(height-5, 5)
	m.input.SetWidth(width)
	if md, err := report.NewMarkdown(max(width-4, 20), ""); err == nil {
		m.md = md
	}
}

// submit starts a run in the background. Events reach Update one at a
// time through waitNext.
func (m *model) submit(text string) tea.Cmd {
	m.appendLine(m.styles.User.Render("You:") + " " + text)
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.working = true
	m.workStart = time.Now()
	m.updateStatus()

	ch := make(chan result)
	m.results = ch
	go func() {
		defer close(ch)
		for ev, err := range m.send(ctx, text) {
			select {
			case ch <- result{ev: ev, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return tea.Batch(m.waitNext(), m.spin.Tick, m.tick())
}

func (m *model) waitNext() tea.Cmd {
	ch := m.results
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return doneMsg{}
		}
		return eventMsg(r)
	}
}

func (m *model) finish() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.results = nil
	m.working = false
	m.status = fmt.Sprintf("done in %s", time.Since(m.workStart).Round(100*time.Millisecond))
}

func (m *model) appendEvent(ev *session.Event) {
	if line := report.Event(m.styles, m.md, ev); line != "" {
		m.appendLine(line)
	}
}

func (m *model) appendLine(s string) {
	m.history += "\n\n" + s
	m.vp.SetContent(m.history)
	m.vp.GotoBottom()
}

func (m *model) updateStatus() {
	m.status = fmt.Sprintf("working %s", time.Since(m.workStart).Round(time.Second))
}

func (m *model) tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}
