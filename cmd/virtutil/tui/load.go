package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/virtutil/virtutil/pkg/virtutil/loader"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
)

// logLines is how many recent log records are shown under the stats.
const logLines = 5

// StartMsg is sent once the files are partitioned.
type StartMsg struct {
	Workers int
	Files   int
}

// ProgressMsg is sent after every finished file.
type ProgressMsg loader.Progress

// DoneMsg is sent when the load returns.
type DoneMsg struct {
	Err error
}

// LoadModel shows overall progress, the file each worker last finished and
// the newest log records.
type LoadModel struct {
	dir     string
	workers int
	total   int
	done    int
	failed  int
	last    map[int]string
	spinner spinner.Model
	bar     progress.Model
	start   time.Time
	width   int
	height  int

	finished bool
	stopping bool
	err      error

	cancel context.CancelFunc
	logs   func() []logging.Entry
}

// NewLoadModel creates the progress model. cancel is called when the user
// presses Ctrl+C; the model keeps running until DoneMsg arrives.
func NewLoadModel(dir string, cancel context.CancelFunc) LoadModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return LoadModel{
		dir:     dir,
		last:    map[int]string{},
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
		start:   time.Now(),
		width:   80,
		height:  24,
		cancel:  cancel,
		logs:    recentLogs,
	}
}

func recentLogs() []logging.Entry {
	if ring := logging.Recent(); ring != nil {
		return ring.Tail(logLines)
	}
	return nil
}

// Init starts the spinner.
func (m LoadModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the load model.
func (m LoadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
		}
		return m, nil

	case StartMsg:
		m.workers = msg.Workers
		m.total = msg.Files
		return m, nil

	case ProgressMsg:
		// Progress arrives from several workers; keep the highest counts.
		m.done = max(m.done, msg.Done)
		m.failed = max(m.failed, msg.Failed)
		if msg.Total > 0 {
			m.total = msg.Total
		}
		m.last[msg.Worker] = msg.Path
		return m, nil

	case DoneMsg:
		m.finished = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Percent is the finished share of files.
func (m LoadModel) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// View renders the load model.
func (m LoadModel) View() string {
	contentWidth := max(m.width-4, 40)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(m.renderHeader(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n\n")

	switch {
	case m.finished && m.err != nil:
		b.WriteString(errorTextStyle.Render(fmt.Sprintf("  Finished with errors: %v", m.err)))
	case m.finished:
		b.WriteString(successTextStyle.Render("  Load complete"))
	case m.stopping:
		b.WriteString(warningTextStyle.Render(fmt.Sprintf("  %s Stopping, waiting for running isql sessions...", m.spinner.View())))
	default:
		b.WriteString(fmt.Sprintf("  %s Loading %s", m.spinner.View(), truncatePath(m.dir, contentWidth-20)))
	}
	b.WriteString("\n\n")

	m.bar.Width = max(contentWidth-4, 10)
	b.WriteString("  " + m.bar.ViewAs(m.Percent()))
	b.WriteString("\n\n")
	b.WriteString(m.renderStats(contentWidth))
	b.WriteString("\n")

	if workers := m.renderWorkers(contentWidth); workers != "" {
		b.WriteString("\n")
		b.WriteString(workers)
	}
	if logs := m.renderLogs(contentWidth); logs != "" {
		b.WriteString("\n")
		b.WriteString(renderDivider(contentWidth))
		b.WriteString("\n")
		b.WriteString(logs)
	}

	content := b.String()
	if pad := m.height - 2 - (strings.Count(content, "\n") + 1); pad > 0 {
		content += strings.Repeat("\n", pad)
	}
	return outerBoxStyle.Width(m.width - 2).Render(content)
}

func (m LoadModel) renderHeader(width int) string {
	title := titleStyle.Render("  virtutil load-parallel")
	hint := mutedTextStyle.Render("[Ctrl+C to stop]")
	spacing := max(width-lipgloss.Width(title)-lipgloss.Width(hint), 1)
	return title + strings.Repeat(" ", spacing) + hint
}

func (m LoadModel) renderStats(totalWidth int) string {
	boxWidth := max((totalWidth-10)/4, 10)

	elapsed := time.Since(m.start)
	rate := "-"
	if secs := elapsed.Seconds(); secs > 0 && m.done > 0 {
		rate = fmt.Sprintf("%.2f/s", float64(m.done)/secs)
	}

	boxes := []string{
		m.renderStatBox("Files", fmt.Sprintf("%s/%s", humanize.Comma(int64(m.done)), humanize.Comma(int64(m.total))), boxWidth),
		m.renderStatBox("Failed", humanize.Comma(int64(m.failed)), boxWidth),
		m.renderStatBox("Workers", fmt.Sprint(m.workers), boxWidth),
		m.renderStatBox("Rate", rate, boxWidth),
	}
	parts := []string{"  "}
	for i, box := range boxes {
		if i > 0 {
			parts = append(parts, " ")
		}
		parts = append(parts, box)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m LoadModel) renderStatBox(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		center(statsLabelStyle.Render(label), width-4),
		center(statsValueStyle.Render(value), width-4))
	return statsBoxStyle.Width(width).Render(content)
}

func (m LoadModel) renderWorkers(width int) string {
	if len(m.last) == 0 {
		return ""
	}
	ids := make([]int, 0, len(m.last))
	for id := range m.last {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var b strings.Builder
	for _, id := range ids {
		label := mutedTextStyle.Render(fmt.Sprintf("  worker %2d  ", id))
		b.WriteString(label + truncatePath(m.last[id], width-lipgloss.Width(label)) + "\n")
	}
	return b.String()
}

func (m LoadModel) renderLogs(width int) string {
	if m.logs == nil {
		return ""
	}
	entries := m.logs()
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	for _, e := range entries {
		line := fmt.Sprintf("  %s %-5s %s: %s", e.Time.Format("15:04:05"), strings.ToUpper(e.Level.String()), e.Component, e.Message)
		line = truncatePath(line, width)
		switch {
		case e.Level >= logging.LevelError:
			line = errorTextStyle.Render(line)
		case e.Level == logging.LevelWarn:
			line = warningTextStyle.Render(line)
		default:
			line = mutedTextStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// Hooks are installed into loader.ParallelOptions to feed the view.
type Hooks struct {
	OnStart    func(workers, files int)
	OnProgress func(loader.Progress)
}

// LoadFunc runs the load with the given hooks.
type LoadFunc func(ctx context.Context, hooks Hooks) (*loader.Report, error)

// Run shows the progress view while load runs and returns its result. The
// view exits once load returns; Ctrl+C cancels ctx for load.
func Run(ctx context.Context, dir string, load LoadFunc) (*loader.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewLoadModel(dir, cancel), tea.WithAltScreen())

	var (
		report  *loader.Report
		loadErr error
		done    = make(chan struct{})
	)
	go func() {
		report, loadErr = load(ctx, Hooks{
			OnStart:    func(workers, files int) { p.Send(StartMsg{Workers: workers, Files: files}) },
			OnProgress: func(pr loader.Progress) { p.Send(ProgressMsg(pr)) },
		})
		close(done)
		p.Send(DoneMsg{Err: loadErr})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return report, fmt.Errorf("progress view: %w", err)
	}
	<-done
	return report, loadErr
}
