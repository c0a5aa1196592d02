// Package notify provides the Display implementations the delivery queue
// dispatches through.
package notify

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sandeepkv93/tasksync/internal/views"
)

var ErrUnsupportedPlatform = errors.New("notify: desktop notifications unsupported on this platform")

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Terminal writes each notification as a bordered block. Bodies are
// rendered as markdown.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	now   func() time.Time
	style string
}

func NewTerminal(w io.Writer, now func() time.Time) *Terminal {
	if now == nil {
		now = time.Now
	}
	return &Terminal{w: w, now: now, style: "notty"}
}

func (t *Terminal) Display(title, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	header := titleStyle.Render(title) + " " + timeStyle.Render(t.now().Format("15:04"))
	block := header
	if rendered := views.RenderMarkdown(body, t.style); rendered != "" {
		block += "\n" + rendered
	}
	_, err := fmt.Fprintln(t.w, boxStyle.Render(block))
	return err
}

// Desktop shells out to notify-send on Linux and osascript on macOS.
type Desktop struct {
	goos string
	run  func(name string, args ...string) error
}

func NewDesktop() *Desktop {
	return &Desktop{
		goos: runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

func (d *Desktop) Display(title, body string) error {
	switch d.goos {
	case "linux":
		return d.run("notify-send", "--app-name=taskd", title, body)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(body), escapeAppleScript(title))
		return d.run("osascript", "-e", script)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, d.goos)
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Fanout displays through every target. It fails only when all targets
// fail, so a broken desktop bridge cannot cause a redelivery that the
// terminal already showed.
type Fanout []interface {
	Display(title, body string) error
}

func (f Fanout) Display(title, body string) error {
	var errs []error
	for _, target := range f {
		if err := target.Display(title, body); err != nil {
			errs = append(errs, err)
		}
	}
	if len(f) > 0 && len(errs) == len(f) {
		return errors.Join(errs...)
	}
	return nil
}
