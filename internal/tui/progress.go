// internal/tui/progress.go
// Package tui renders pipeline progress as a small Bubble Tea program.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mwiater/tvmbench/internal/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	elapsedStyle = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	statusStyles = map[rowStatus]lipgloss.Style{
		rowWaiting: lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Background(lipgloss.Color("238")).Padding(0, 1),
		rowRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("33")).Padding(0, 1),
		rowDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("34")).Padding(0, 1),
		rowSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Background(lipgloss.Color("236")).Padding(0, 1),
		rowFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("160")).Padding(0, 1),
	}
)

type rowStatus int

const (
	rowWaiting rowStatus = iota
	rowRunning
	rowDone
	rowSkipped
	rowFailed
)

func (s rowStatus) label() string {
	switch s {
	case rowRunning:
		return "running"
	case rowDone:
		return "done"
	case rowSkipped:
		return "skipped"
	case rowFailed:
		return "failed"
	default:
		return "waiting"
	}
}

type stageRow struct {
	stage   pipeline.Stage
	status  rowStatus
	elapsed time.Duration
	detail  string
}

// stageMsg carries a pipeline event into the program.
type stageMsg pipeline.Event

// doneMsg ends the program once the work function returns.
type doneMsg struct{ err error }

type model struct {
	title       string
	rows        []stageRow
	spinner     spinner.Model
	err         error
	finished    bool
	interrupted bool
}

func newModel(title string) *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	rows := make([]stageRow, len(pipeline.Stages))
	for i, st := range pipeline.Stages {
		rows[i] = stageRow{stage: st}
	}
	return &model{title: title, rows: rows, spinner: s}
}

func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.interrupted = true
			return m, tea.Quit
		}
		return m, nil
	case stageMsg:
		m.apply(pipeline.Event(msg))
		return m, nil
	case doneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) apply(ev pipeline.Event) {
	for i := range m.rows {
		if m.rows[i].stage != ev.Stage {
			continue
		}
		row := &m.rows[i]
		switch ev.Status {
		case pipeline.StatusStarted:
			row.status = rowRunning
		case pipeline.StatusDone:
			row.status = rowDone
		case pipeline.StatusSkipped:
			row.status = rowSkipped
		case pipeline.StatusFailed:
			row.status = rowFailed
			if ev.Err != nil {
				row.detail = ev.Err.Error()
			}
		}
		row.elapsed = ev.Elapsed
		if ev.Detail != "" {
			row.detail = ev.Detail
		}
		return
	}
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	for _, row := range m.rows {
		marker := "  "
		if row.status == rowRunning && !m.finished {
			marker = m.spinner.View()
		}
		fmt.Fprintf(&b, "%s %-8s %s", marker, row.stage, statusStyles[row.status].Render(row.status.label()))
		if row.elapsed > 0 {
			b.WriteString(" " + elapsedStyle.Render(row.elapsed.Round(time.Millisecond).String()))
		}
		if row.detail != "" {
			style := elapsedStyle
			if row.status == rowFailed {
				style = errorStyle
			}
			b.WriteString(" " + style.Render(row.detail))
		}
		b.WriteString("\n")
	}
	if m.interrupted {
		b.WriteString(errorStyle.Render("interrupted") + "\n")
	}
	return b.String()
}

// Work is the function whose progress is shown. It must report stages
// through observer and return when ctx is cancelled.
type Work func(ctx context.Context, observer pipeline.Observer) error

// Run shows progress for work on stderr and returns work's error. Pressing
// q or ctrl+c cancels the context handed to work.
func Run(ctx context.Context, title string, work Work) error {
	return run(ctx, title, work, tea.WithOutput(os.Stderr))
}

func run(ctx context.Context, title string, work Work, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(title)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	result := make(chan error, 1)
	go func() {
		err := work(ctx, func(ev pipeline.Event) { p.Send(stageMsg(ev)) })
		result <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil && !m.finished && !m.interrupted {
		cancel()
		<-result
		return fmt.Errorf("progress view: %w", err)
	}
	cancel()
	return <-result
}
