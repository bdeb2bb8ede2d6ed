package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/engine"
	"github.com/san-kum/hybridsim/internal/storage"
)

const (
	barWidth    = 40
	graphPoints = 120
)

// DoneMsg reports the end of the run being monitored.
type DoneMsg struct {
	Result *engine.Result
	Err    error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Monitor shows the progress of a run executing on another goroutine and
// plots one recorded column. Pressing q cancels the run.
type Monitor struct {
	title    string
	progress *dynamo.Progress
	sink     *storage.Memory
	series   string
	column   string
	cancel   func()
	st       styles

	cancelling bool
	done       bool
	result     *engine.Result
	err        error
	started    time.Time
	elapsed    time.Duration
}

func NewMonitor(title string, progress *dynamo.Progress, sink *storage.Memory, series, column string, cancel func()) *Monitor {
	return &Monitor{
		title:    title,
		progress: progress,
		sink:     sink,
		series:   series,
		column:   column,
		cancel:   cancel,
		st:       ThemeDefault.styles(),
		started:  time.Now(),
	}
}

// SetTheme changes the monitor's colours.
func (m *Monitor) SetTheme(t Theme) { m.st = t.styles() }

func (m *Monitor) Init() tea.Cmd { return tick() }

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tick()
	case DoneMsg:
		m.done = true
		m.result, m.err = msg.Result, msg.Err
		m.elapsed = time.Since(m.started)
		return m, tea.Quit
	}
	return m, nil
}

func (m *Monitor) Result() (*engine.Result, error) { return m.result, m.err }

func (m *Monitor) View() string {
	var b strings.Builder
	b.WriteString(m.st.title.Render(m.title) + "\n\n")

	frac := m.progress.Fraction()
	if m.done && m.err == nil && m.result != nil && m.result.Outcome == dynamo.Completed {
		frac = 1
	}
	filled := int(frac * barWidth)
	b.WriteString(m.st.success.Render(strings.Repeat("█", filled)))
	b.WriteString(m.st.muted.Render(strings.Repeat("░", barWidth-filled)))
	b.WriteString(m.st.text.Render(fmt.Sprintf(" %5.1f%%  t=%.4g  %s", 100*frac, m.progress.Time(), m.elapsed.Round(time.Millisecond))) + "\n\n")

	if chart := m.chart(); chart != "" {
		b.WriteString(m.st.panel.Render(chart) + "\n\n")
	}

	switch {
	case m.done && m.err != nil:
		b.WriteString(m.st.errs.Render("failed: "+m.err.Error()) + "\n")
	case m.done && m.result != nil:
		b.WriteString(m.st.success.Render(m.result.Outcome.String()) +
			m.st.muted.Render(fmt.Sprintf("  steps %d  events %d", m.result.Stats.Steps, len(m.result.Events))) + "\n")
	case m.cancelling:
		b.WriteString(m.st.warning.Render("cancelling...") + "\n")
	default:
		b.WriteString(m.st.muted.Render("q: cancel") + "\n")
	}
	return b.String()
}

func (m *Monitor) chart() string {
	if m.sink == nil {
		return ""
	}
	s, ok := m.sink.Snapshot(m.series)
	if !ok || s.Len() < 2 {
		return ""
	}
	data, err := s.Trace(m.column)
	if err != nil {
		return ""
	}
	if len(data) > graphPoints {
		data = data[len(data)-graphPoints:]
	}
	return asciigraph.Plot(data,
		asciigraph.Height(8),
		asciigraph.Width(60),
		asciigraph.Caption(m.series+"."+m.column),
	)
}

// Watch runs fn on a worker goroutine under a Monitor and returns its
// result once it finishes.
func Watch(m *Monitor, fn func() (*engine.Result, error)) (*engine.Result, error) {
	p := tea.NewProgram(m)
	go func() {
		res, err := fn()
		p.Send(DoneMsg{Result: res, Err: err})
	}()
	final, err := p.Run()
	if err != nil {
		if m.cancel != nil {
			m.cancel()
		}
		return nil, err
	}
	return final.(*Monitor).Result()
}
