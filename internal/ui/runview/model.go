// Package runview renders a scan or export in flight: a spinner, the
// running counts, a short scrolling log, and the final summary.
package runview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-export/internal/filter"
	"github.com/nhle/mail-export/internal/run"
	"github.com/nhle/mail-export/internal/theme"
)

// maxLogLines bounds the scrolling log; older lines fall off the top.
const maxLogLines = 8

// Model is the Bubble Tea model for the run view.
type Model struct {
	spinner spinner.Model
	mode    run.Mode
	counts  filter.Counts
	log     []string
	done    *run.DoneMsg
	width   int
}

// New creates a run view.
func New(width int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)
	return Model{spinner: sp, width: width}
}

// Start resets the view for a new run and returns the spinner tick.
func (m *Model) Start(mode run.Mode) tea.Cmd {
	m.mode = mode
	m.counts = filter.Counts{}
	m.log = nil
	m.done = nil
	return m.spinner.Tick
}

// Done reports whether the run has finished.
func (m Model) Done() bool {
	return m.done != nil
}

// Update handles run events and spinner ticks.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case run.ProgressMsg:
		m.counts = msg.Counts
		return m, nil

	case run.LogMsg:
		m.log = append(m.log, msg.Text)
		if len(m.log) > maxLogLines {
			m.log = m.log[len(m.log)-maxLogLines:]
		}
		return m, nil

	case run.DoneMsg:
		m.counts = msg.Counts
		m.done = &msg
		return m, nil

	case spinner.TickMsg:
		if m.done != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the run view.
func (m Model) View() string {
	var b strings.Builder

	if m.done == nil {
		b.WriteString(fmt.Sprintf("%s %s in progress\n\n",
			m.spinner.View(), titleFor(m.mode)))
	}

	b.WriteString(fmt.Sprintf(
		"Examined: %d   Matched: %d   Unreadable: %d\n\n",
		m.counts.Examined, m.counts.Retained, m.counts.Unreadable,
	))

	for _, line := range m.log {
		b.WriteString(theme.LogLineStyle.Render(line) + "\n")
	}

	if m.done != nil {
		b.WriteString("\n" + m.summary())
	} else {
		b.WriteString("\n" + theme.HelpStyle.Render("esc: cancel"))
	}

	return theme.PanelStyle.Width(m.width - 4).Render(b.String())
}

// summary renders the terminal state of the run.
func (m Model) summary() string {
	d := m.done
	var b strings.Builder

	switch {
	case d.Err != nil:
		b.WriteString(theme.ErrorStyle.Render(
			fmt.Sprintf("Run failed: %v", d.Err)) + "\n")

	case d.Mode == run.ModePreview:
		verdict := fmt.Sprintf(
			"%d of %d emails match the current filters", d.Counts.Retained, d.Counts.Examined)
		if d.Cancelled {
			verdict = "Cancelled. " + verdict + " so far"
		}
		b.WriteString(theme.SuccessStyle.Render(verdict) + "\n")
		if d.Counts.Unreadable > 0 {
			b.WriteString(theme.WarningStyle.Render(fmt.Sprintf(
				"%d items could not be read and were skipped", d.Counts.Unreadable)) + "\n")
		}

	case d.Summary != nil:
		verdict := fmt.Sprintf("Exported %d emails", d.Summary.Exported)
		if d.Cancelled {
			verdict = fmt.Sprintf(
				"Cancelled. Partial export holds the %d emails processed so far",
				d.Summary.Exported)
		}
		b.WriteString(theme.SuccessStyle.Render(verdict) + "\n")
		b.WriteString(fmt.Sprintf("Workbook: %s\n", d.Summary.WorkbookPath))
		if d.Summary.SavedAttachments > 0 {
			b.WriteString(fmt.Sprintf("Attachments: %d saved under %s\n",
				d.Summary.SavedAttachments, d.Summary.AttachmentsDir))
		}
		if n := len(d.Summary.Warnings); n > 0 {
			b.WriteString(theme.WarningStyle.Render(fmt.Sprintf(
				"%d attachments could not be saved:", n)) + "\n")
			for _, w := range d.Summary.Warnings {
				b.WriteString(theme.WarningStyle.Render(fmt.Sprintf(
					"  %s / %s: %v", w.Subject, w.Attachment, w.Err)) + "\n")
			}
		}

	default:
		// Cancelled before anything was retained; no file was written.
		b.WriteString(theme.WarningStyle.Render(
			"Cancelled. No emails matched yet, so nothing was written.") + "\n")
	}

	b.WriteString("\n" + theme.HelpStyle.Render("n: new run • q: quit"))
	return b.String()
}

// SetWidth updates the panel width.
func (m *Model) SetWidth(width int) {
	m.width = width
}

func titleFor(mode run.Mode) string {
	if mode == run.ModeExport {
		return "Export"
	}
	return "Preview"
}
