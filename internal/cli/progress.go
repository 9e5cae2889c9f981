package cli

import (
	"fmt"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/fixhow/fixhow/internal/service"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// progressMsg carries an ingestion progress event.
type progressMsg service.Progress

// ingestDoneMsg carries the final result.
type ingestDoneMsg struct {
	result *service.IngestResult
	err    error
}

// ingestModel is the bubbletea model for ingestion progress.
type ingestModel struct {
	latest   service.Progress
	result   *service.IngestResult
	progress progress.Model
	theme    Theme
	done     bool
	aborted  bool
	err      error
}

func newIngestModel() ingestModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return ingestModel{
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m ingestModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.aborted = true
			return m, tea.Quit
		}

	case progressMsg:
		m.latest = service.Progress(msg)
		return m, nil

	case ingestDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m ingestModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m ingestModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.latest.Stage == "" || m.latest.Stage == "search" {
		status := m.theme.statusStyle().Render("[searching]")
		return fmt.Sprintf("%s looking up guides...\n", status)
	}

	var pct float64
	if m.latest.Total > 0 {
		pct = float64(m.latest.Current) / float64(m.latest.Total)
	}

	status := m.theme.statusStyle().Render("[ingesting]")
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d guides", m.latest.Current, m.latest.Total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to abort")

	return fmt.Sprintf("%s %s %s\n%s %s\n%s\n", status, bar, counts,
		m.theme.hintStyle().Render("last:"), m.latest.Title, hint)
}

func (m ingestModel) finalView() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Ingestion failed: %s\n", m.err))
	}

	if m.result != nil {
		r := m.result
		var output string
		output += m.theme.completedStyle().Render("✓ Knowledge base ready") + "\n\n"
		output += fmt.Sprintf("  Documents ingested: %d\n", r.DocumentsIngested)
		output += fmt.Sprintf("  Chunks indexed:     %d\n", r.ChunksIndexed)
		if len(r.Errors) > 0 {
			output += m.theme.errorStyle().Render(fmt.Sprintf("\nWarnings (%d):\n", len(r.Errors)))
			for _, e := range r.Errors {
				output += fmt.Sprintf("  • %s\n", e)
			}
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// runIngestProgress drives the progress UI while run executes in the
// background. The onProgress callback passed to run feeds the UI.
func runIngestProgress(run func(onProgress func(service.Progress)) (*service.IngestResult, error)) (*service.IngestResult, error) {
	p := tea.NewProgram(newIngestModel())

	go func() {
		result, err := run(func(ev service.Progress) {
			p.Send(progressMsg(ev))
		})
		p.Send(ingestDoneMsg{result: result, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(ingestModel)
	if !ok {
		return nil, nil
	}
	if m.aborted {
		return nil, fmt.Errorf("ingestion aborted")
	}
	return m.result, m.err
}
