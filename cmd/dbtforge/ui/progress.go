package ui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"dbtforge/internal/document"
)

type statusMsg string

type doneMsg struct{ err error }

// ProgressModel is a one-line spinner with a live status.
type ProgressModel struct {
	title   string
	status  string
	styles  Styles
	spinner spinner.Model
	cancel  context.CancelFunc
	done    bool
	err     error
}

// NewProgressModel creates the view. cancel is called on ctrl+c; the view
// stays up until the work reports completion.
func NewProgressModel(title string, st Styles, cancel context.CancelFunc) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.Spinner
	return ProgressModel{title: title, styles: st, spinner: sp, cancel: cancel}
}

func (m ProgressModel) Init() tea.Cmd { return m.spinner.Tick }

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			m.status = "cancelling..."
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) View() string {
	if m.done {
		return ""
	}
	line := m.spinner.View() + " " + m.styles.Title.Render(m.title)
	if m.status != "" {
		line += "  " + m.styles.Muted.Render(m.status)
	}
	return line + "\n"
}

// Status returns the latest status line.
func (m ProgressModel) Status() string { return m.status }

// Done reports whether the work finished, and with which error.
func (m ProgressModel) Done() (bool, error) { return m.done, m.err }

// RunProgress runs work behind a spinner on stderr. In plain mode it only
// prints the title. The returned error is work's.
func RunProgress(ctx context.Context, title string, plain bool, work func(ctx context.Context, update func(string)) error) error {
	if plain {
		fmt.Fprintln(os.Stderr, title+"...")
		return work(ctx, func(string) {})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(title, DefaultStyles(), cancel), tea.WithOutput(os.Stderr))
	errCh := make(chan error, 1)
	go func() {
		err := work(ctx, func(s string) { p.Send(statusMsg(s)) })
		errCh <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-errCh
		return fmt.Errorf("progress view: %w", err)
	}
	return <-errCh
}

// SchemaStatus summarizes a partial schema for the status line.
func SchemaStatus(s *document.Schema) string {
	if s == nil {
		return ""
	}
	cols := 0
	for _, t := range s.Tables {
		cols += len(t.Columns)
	}
	status := fmt.Sprintf("%d tables, %d columns", len(s.Tables), cols)
	if n := len(s.Tables); n > 0 && s.Tables[n-1].Name != "" {
		status += " (" + s.Tables[n-1].Name + ")"
	}
	return status
}

// RulesStatus summarizes a partial rule set for the status line.
func RulesStatus(r *document.RuleSet) string {
	if r == nil {
		return ""
	}
	tests := 0
	for _, tr := range r.Rules {
		for _, ct := range tr.ColumnTests {
			tests += len(ct.Tests) + len(ct.RelationshipTests)
		}
	}
	status := fmt.Sprintf("%d models, %d tests", len(r.Rules), tests)
	if n := len(r.Rules); n > 0 && r.Rules[n-1].TableName != "" {
		status += " (" + r.Rules[n-1].TableName + ")"
	}
	return status
}

// Tail returns the last line of text, cut to width runes.
func Tail(text string, width int) string {
	text = strings.TrimRight(text, "\n")
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	r := []rune(text)
	if width > 0 && len(r) > width {
		return "..." + string(r[len(r)-width+3:])
	}
	return text
}
