// Package progressui renders the event sink of spec.md §6 either as an
// interactive bubbletea spinner/table (adapted from the teacher's
// internal/ui package) or as streamed log lines for non-interactive
// (CI/quiet) environments; the runner picks between them from its
// interactive option and RunConfig's quiet knob, and summary controls the
// streamed sink's progress lines.
package progressui

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/corestories/storyrunner/internal/model"
)

// Sink is the abstract event sink of spec.md §6, implemented by both the
// TUI and the streamed-log adapters below, per the Open Question decision
// in SPEC_FULL.md to treat all source-side bridges as one abstraction.
type Sink interface {
	OnStoryStart(storyID, displayName string)
	OnResult(outcome model.StoryOutcome)
	OnStoryComplete(outcome model.StoryOutcome)
	OnProgress(snapshot model.ProgressSnapshot)
	Close()
}

// ---- streamed logger sink ----

type logSink struct {
	quiet   bool
	summary bool
	start   time.Time
}

// NewLogSink builds a non-interactive sink that prints one line per story
// start and one per story result and, if summary is set, one progress line
// after every outcome. Nothing is printed when quiet is set.
func NewLogSink(quiet, summary bool) Sink {
	return &logSink{quiet: quiet, summary: summary, start: time.Now()}
}

func (s *logSink) OnStoryStart(storyID, displayName string) {
	if s.quiet {
		return
	}
	fmt.Printf("start  %s\n", displayName)
}

func (s *logSink) OnResult(outcome model.StoryOutcome) {}

func (s *logSink) OnStoryComplete(outcome model.StoryOutcome) {
	if s.quiet {
		return
	}
	symbol := statusSymbol(outcome.Status)
	line := fmt.Sprintf("%s %-60s %6dms", symbol, outcome.DisplayName, outcome.DurationMs)
	if outcome.Status == model.StatusFailed || outcome.Status == model.StatusSkipped {
		line += fmt.Sprintf(" (%s)", outcome.Reason)
	}
	fmt.Println(line)
}

func (s *logSink) OnProgress(snapshot model.ProgressSnapshot) {
	if s.quiet || !s.summary {
		return
	}
	fmt.Printf("progress %d/%d passed=%d failed=%d skipped=%d cancelled=%d %.1f/min\n",
		snapshot.Completed, snapshot.Total, snapshot.Passed, snapshot.Failed,
		snapshot.Skipped, snapshot.Cancelled, snapshot.StoriesPerMinute)
}

func (s *logSink) Close() {}

func statusSymbol(status model.Status) string {
	switch status {
	case model.StatusPassed:
		return "PASS"
	case model.StatusFailed:
		return "FAIL"
	case model.StatusSkipped:
		return "SKIP"
	case model.StatusCancelled:
		return "CXLD"
	default:
		return "????"
	}
}

// ---- interactive TUI sink ----

type tuiModel struct {
	total int

	active map[string]activeItem
	logs   []logItem
	maxLog int

	snapshot model.ProgressSnapshot

	styles struct {
		header lipgloss.Style
		ok     lipgloss.Style
		fail   lipgloss.Style
		warn   lipgloss.Style
		dim    lipgloss.Style
		tag    lipgloss.Style
	}
}

type activeItem struct {
	name  string
	start time.Time
}

type logItem struct {
	name   string
	status model.Status
	reason string
	dur    time.Duration
}

func newTUIModel(total int) tuiModel {
	m := tuiModel{total: total, active: make(map[string]activeItem), maxLog: 12}
	m.styles.header = lipgloss.NewStyle().Bold(true)
	m.styles.ok = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	m.styles.fail = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	m.styles.warn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	m.styles.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	m.styles.tag = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Faint(true)
	return m
}

type tickMsg time.Time
type startMsg struct{ storyID, name string }
type completeMsg model.StoryOutcome
type progressMsg model.ProgressSnapshot

func (m tuiModel) Init() tea.Cmd {
	return tea.Tick(time.Second/6, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tea.Tick(time.Second/6, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tea.KeyMsg:
		// The TUI holds the terminal in raw mode, so Ctrl+C arrives as a key
		// instead of SIGINT; re-raise it so the runner's signal handler
		// cancels the run.
		if msg.String() == "ctrl+c" {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	case startMsg:
		if _, ok := m.active[msg.storyID]; !ok {
			m.active[msg.storyID] = activeItem{name: msg.name, start: time.Now()}
		}
	case completeMsg:
		if it, ok := m.active[msg.StoryID]; ok {
			delete(m.active, msg.StoryID)
			m.logs = append(m.logs, logItem{name: it.name, status: msg.Status, reason: msg.Reason, dur: time.Since(it.start)})
			if len(m.logs) > m.maxLog {
				m.logs = m.logs[len(m.logs)-m.maxLog:]
			}
		}
	case progressMsg:
		m.snapshot = model.ProgressSnapshot(msg)
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  total:%d  running:%d  %s:%d  %s:%d  %s:%d  %s:%d  workers:%d  cpu:%.0f%%\n",
		m.styles.header.Render("STORIES"), m.total, len(m.active),
		m.styles.ok.Render("pass"), m.snapshot.Passed,
		m.styles.fail.Render("fail"), m.snapshot.Failed,
		m.styles.warn.Render("skip"), m.snapshot.Skipped,
		m.styles.dim.Render("cxld"), m.snapshot.Cancelled,
		m.snapshot.CurrentWorkers, m.snapshot.CPUPercent,
	)

	if len(m.active) > 0 {
		b.WriteString("\nActive:\n")
		type row struct {
			name string
			age  time.Duration
		}
		rows := make([]row, 0, len(m.active))
		for _, v := range m.active {
			rows = append(rows, row{v.name, time.Since(v.start)})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].age > rows[j].age })
		for _, r := range rows {
			fmt.Fprintf(&b, "  %-48s  %s\n", truncate(r.name, 48), m.styles.dim.Render(r.age.Truncate(100*time.Millisecond).String()))
		}
	}

	if len(m.logs) > 0 {
		b.WriteString("\nLast:\n")
		for i := len(m.logs) - 1; i >= 0; i-- {
			l := m.logs[i]
			status := statusSymbol(l.status)
			switch l.status {
			case model.StatusPassed:
				status = m.styles.ok.Render(status)
			case model.StatusFailed:
				status = m.styles.fail.Render(status)
			case model.StatusSkipped:
				status = m.styles.warn.Render(status)
			case model.StatusCancelled:
				status = m.styles.dim.Render(status)
			}
			reason := ""
			if l.reason != "" {
				reason = " " + m.styles.dim.Render("("+truncate(l.reason, 80)+")")
			}
			fmt.Fprintf(&b, "  %-48s  %6s  %s%s\n", truncate(l.name, 48), l.dur.Truncate(10*time.Millisecond), status, reason)
		}
	}

	eta := time.Duration(m.snapshot.SmoothedETASeconds) * time.Second
	fmt.Fprintf(&b, "\n%s\n", m.styles.tag.Render(fmt.Sprintf("done %d/%d  eta %s  press Ctrl+C to cancel", m.snapshot.Completed, m.total, eta.Truncate(time.Second))))
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

type tuiSink struct {
	prog *tea.Program
}

// NewTUISink starts the bubbletea program and returns a Sink that feeds it,
// adapted from the teacher's ui.Run.
func NewTUISink(ctx context.Context, total int) Sink {
	prog := tea.NewProgram(newTUIModel(total), tea.WithContext(ctx))
	go func() { _ = prog.Start() }()
	return &tuiSink{prog: prog}
}

func (s *tuiSink) OnStoryStart(storyID, displayName string) {
	s.prog.Send(startMsg{storyID: storyID, name: displayName})
}

func (s *tuiSink) OnResult(outcome model.StoryOutcome) {}

func (s *tuiSink) OnStoryComplete(outcome model.StoryOutcome) {
	s.prog.Send(completeMsg(outcome))
}

func (s *tuiSink) OnProgress(snapshot model.ProgressSnapshot) {
	s.prog.Send(progressMsg(snapshot))
}

func (s *tuiSink) Close() {
	s.prog.Quit()
}
