package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mzyy94/ledmscan/internal/scanner"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestModel_StepUpdatesView(t *testing.T) {
	m := New(nil)
	start := m.started
	m.now = func() time.Time { return start.Add(3 * time.Second) }

	m, cmd := update(t, m, StepMsg(scanner.StepDownloading))
	if cmd != nil {
		t.Error("step should not schedule a command")
	}
	v := m.View()
	if !strings.Contains(v, "Downloading page") {
		t.Errorf("view = %q", v)
	}
	if !strings.Contains(v, "3s") {
		t.Errorf("view lacks elapsed time: %q", v)
	}
}

func TestModel_DoneQuits(t *testing.T) {
	m := New(nil)
	res := &scanner.Result{OutputPath: "/scans/scan.jpg", ThumbnailPath: "/scans/scan_thumbnail.jpg"}
	m, cmd := update(t, m, DoneMsg{Result: res})
	if !isQuit(cmd) {
		t.Error("done should quit")
	}
	out, ok := m.Outcome()
	if !ok || out.Result != res {
		t.Errorf("Outcome = %+v, %v", out, ok)
	}
	v := m.View()
	for _, want := range []string{"Scan done", "/scans/scan.jpg", "/scans/scan_thumbnail.jpg"} {
		if !strings.Contains(v, want) {
			t.Errorf("view lacks %q: %q", want, v)
		}
	}
}

func TestModel_DoneWithError(t *testing.T) {
	m := New(nil)
	m, _ = update(t, m, DoneMsg{Err: scanner.ErrTimedOut})
	if v := m.View(); !strings.Contains(v, "Printer is busy") {
		t.Errorf("view = %q", v)
	}
}

func TestModel_CtrlCCancelsThenQuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(cancel)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if isQuit(cmd) {
		t.Error("first ctrl+c should wait for the scan to stop")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Error("scan context not cancelled")
	}
	if !strings.Contains(m.View(), "Cancelling") {
		t.Errorf("view = %q", m.View())
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if !isQuit(cmd) {
		t.Error("second ctrl+c should quit")
	}
}

func TestStepLabel(t *testing.T) {
	steps := []scanner.Step{
		scanner.StepWaiting, scanner.StepStarting, scanner.StepLocating,
		scanner.StepDownloading, scanner.StepProcessing, scanner.StepDone,
	}
	seen := map[string]bool{}
	for _, s := range steps {
		l := stepLabel(s)
		if l == "" || seen[l] {
			t.Errorf("label for %q = %q", s, l)
		}
		seen[l] = true
	}
	if stepLabel("") != "Preparing" {
		t.Errorf("empty step label = %q", stepLabel(""))
	}
}
