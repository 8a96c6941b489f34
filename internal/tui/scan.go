// Package tui renders scan progress in the terminal. The scan itself runs on
// a scanner.Worker goroutine; the UI only receives messages from it.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mzyy94/ledmscan/internal/scanner"
)

// Messages

// StepMsg reports the stage the running scan has reached.
type StepMsg scanner.Step

// DoneMsg carries the scan outcome and ends the program.
type DoneMsg scanner.Outcome

type styles struct {
	step    lipgloss.Style
	faint   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	path    lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		step:    lipgloss.NewStyle().Bold(true),
		faint:   lipgloss.NewStyle().Faint(true),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		path:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	}
}

// Model is the Bubble Tea model for a single scan.
type Model struct {
	spinner    spinner.Model
	styles     styles
	cancel     func()
	now        func() time.Time
	started    time.Time
	step       scanner.Step
	cancelling bool
	done       bool
	outcome    scanner.Outcome
}

// New creates a scan progress model. cancel aborts the scan.
func New(cancel func()) Model {
	m := Model{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		styles:  defaultStyles(),
		cancel:  cancel,
		now:     time.Now,
	}
	m.started = m.now()
	return m
}

// Outcome returns the scan outcome once DoneMsg has been received.
func (m Model) Outcome() (scanner.Outcome, bool) { return m.outcome, m.done }

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancelling {
				return m, tea.Quit
			}
			// Wait for the worker to report the cancellation.
			m.cancelling = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case StepMsg:
		m.step = scanner.Step(msg)
		return m, nil
	case DoneMsg:
		m.done = true
		m.outcome = scanner.Outcome(msg)
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.done {
		return m.resultView()
	}
	label := stepLabel(m.step)
	if m.cancelling {
		label = "Cancelling"
	}
	elapsed := m.now().Sub(m.started).Round(time.Second)
	return fmt.Sprintf("%s %s %s\n", m.spinner.View(), m.styles.step.Render(label+"…"), m.styles.faint.Render(elapsed.String()))
}

func (m Model) resultView() string {
	var b strings.Builder
	if m.outcome.Err != nil {
		b.WriteString(m.styles.failure.Render("✗ " + scanner.Describe(m.outcome.Err)))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(m.styles.success.Render("✓ " + scanner.Describe(nil)))
	b.WriteString("\n")
	if r := m.outcome.Result; r != nil {
		for _, p := range []string{r.OutputPath, r.ThumbnailPath, r.PDFPath, r.MetadataPath} {
			if p != "" {
				b.WriteString("  " + m.styles.path.Render(p) + "\n")
			}
		}
	}
	return b.String()
}

func stepLabel(s scanner.Step) string {
	switch s {
	case scanner.StepWaiting:
		return "Waiting for the printer"
	case scanner.StepStarting:
		return "Starting scan"
	case scanner.StepLocating:
		return "Locating scan job"
	case scanner.StepDownloading:
		return "Downloading page"
	case scanner.StepProcessing:
		return "Processing image"
	case scanner.StepDone:
		return "Finishing"
	default:
		return "Preparing"
	}
}

// Run starts a scan on w and shows its progress until it finishes. When the
// user quits before the scan reports back, the scan is cancelled and the
// caller should Wait on w before exiting.
func Run(ctx context.Context, w *scanner.Worker, opts scanner.JobOptions) (*scanner.Result, error) {
	p := tea.NewProgram(New(w.Cancel))
	progress := opts.Progress
	opts.Progress = func(s scanner.Step) {
		if progress != nil {
			progress(s)
		}
		p.Send(StepMsg(s))
	}

	done, err := w.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	go func() {
		out := <-done
		p.Send(DoneMsg(out))
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	out, ok := final.(Model).Outcome()
	if !ok {
		return nil, context.Canceled
	}
	return out.Result, out.Err
}
