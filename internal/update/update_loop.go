package update

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandeepkv93/tasksync/internal/commands"
	"github.com/sandeepkv93/tasksync/internal/views"
)

var errNoBackend = errors.New("watch screen has no backend")

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadSnapshotCmd(), refreshTickCmd(), waitForNoticeCmd(m.notices))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = typed.Width
		m.helpModel.Width = typed.Width
		return m, nil
	case tea.KeyMsg:
		if m.Palette.Active {
			if typed.String() == "ctrl+c" {
				m.Quitting = true
				return m, tea.Quit
			}
			return m.handlePaletteKey(typed)
		}
		switch typed.String() {
		case m.Keys.Palette, "/":
			m.Palette.Active = true
			m.Palette.Input = ""
			m.commandInput.SetValue("")
			m.commandInput.Focus()
			m.Status = StatusBar{Text: "command palette active"}
			return m, nil
		case m.Keys.Sync:
			return m.startCommand(commands.Command{Type: commands.TypeSync, Raw: "sync"})
		case m.Keys.Refresh:
			return m, m.loadSnapshotCmd()
		case m.Keys.Help:
			m.HelpVisible = !m.HelpVisible
			if m.HelpVisible {
				m.Status = StatusBar{Text: "help shown"}
			} else {
				m.Status = StatusBar{Text: "help hidden"}
			}
			return m, nil
		case "ctrl+c", m.Keys.Quit:
			m.Quitting = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		if m.Busy || m.Snapshot.Status.InProgress {
			var cmd tea.Cmd
			m.syncSpinner, cmd = m.syncSpinner.Update(typed)
			return m, cmd
		}
	case SnapshotMsg:
		wasIdle := !m.Snapshot.Status.InProgress
		m.Snapshot = typed.Snapshot
		if wasIdle && m.Snapshot.Status.InProgress && !m.Busy {
			return m, m.syncSpinner.Tick
		}
		return m, nil
	case refreshTickMsg:
		return m, tea.Batch(m.loadSnapshotCmd(), refreshTickCmd())
	case NoticeMsg:
		m.Notifications = append(m.Notifications, typed.Notice)
		if len(m.Notifications) > maxNotifications {
			m.Notifications = m.Notifications[len(m.Notifications)-maxNotifications:]
		}
		return m, tea.Batch(waitForNoticeCmd(m.notices), m.loadSnapshotCmd())
	case CommandDoneMsg:
		m.Busy = false
		if typed.Err != nil {
			m.LastError = typed.Err
			m.Status = StatusBar{Text: typed.Err.Error(), IsError: true}
		} else {
			m.LastResult = typed.Result.Message
			m.Status = StatusBar{Text: typed.Result.Message}
		}
		return m, m.loadSnapshotCmd()
	case SetStatusMsg:
		m.Status = StatusBar{Text: typed.Text, IsError: typed.IsError}
		return m, nil
	case ClearStatusMsg:
		m.Status = StatusBar{}
		return m, nil
	case AppErrorMsg:
		m.LastError = typed.Err
		if typed.Err != nil {
			m.Status = StatusBar{Text: typed.Err.Error(), IsError: true}
		}
		return m, nil
	}
	return m, nil
}

// startCommand runs cmd off the update loop; its outcome arrives as a
// CommandDoneMsg.
func (m Model) startCommand(cmd commands.Command) (Model, tea.Cmd) {
	if m.Busy {
		m.Status = StatusBar{Text: "a command is already running", IsError: true}
		return m, nil
	}
	m.Busy = true
	m.Status = StatusBar{Text: fmt.Sprintf("running %s", cmd.Type)}
	backend := m.backend
	run := func() tea.Msg {
		if backend == nil {
			return CommandDoneMsg{Err: errNoBackend}
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		res, err := commands.Execute(cmd, backend.Handlers(ctx))
		return CommandDoneMsg{Result: res, Err: err}
	}
	return m, tea.Batch(run, m.syncSpinner.Tick)
}

func (m Model) loadSnapshotCmd() tea.Cmd {
	backend := m.backend
	if backend == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		snap, err := backend.Snapshot(ctx)
		if err != nil {
			return AppErrorMsg{Err: err}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

func refreshTickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshTickMsg{} })
}

func waitForNoticeCmd(ch <-chan Notice) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return NoticeMsg{Notice: n}
	}
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	status := ""
	if m.Status.Text != "" {
		if m.Status.IsError {
			status = fmt.Sprintf("status: error: %s", m.Status.Text)
		} else {
			status = fmt.Sprintf("status: %s", m.Status.Text)
		}
	}

	panel := m.Snapshot.Status
	panel.Spinner = m.syncSpinner.View()
	panel.InProgress = panel.InProgress || m.Busy
	panel.LastResult = m.LastResult

	now := m.Snapshot.Now
	if now.IsZero() {
		now = time.Now()
	}
	right := views.RenderQueuePanel(views.QueuePanelData{Now: now, Items: m.Snapshot.Queue})
	if m.HelpVisible {
		right += "\n\n" + m.renderHelpView()
	}

	notification := strings.TrimSpace(strings.Join([]string{
		m.renderNotificationsView(),
		views.RenderCommandPalette(m.Palette.Active, m.commandInput.View()),
	}, "\n"))

	return views.RenderApp(views.AppData{
		Header:       fmt.Sprintf("taskd | device: %s", panel.DeviceID),
		LeftPane:     views.RenderStatusPanel(panel),
		RightPane:    right,
		StatusLine:   status,
		Notification: notification,
		Width:        m.Width,
		Footer:       fmt.Sprintf("keys: %s command | %s sync | %s refresh | %s help | %s quit", m.Keys.Palette, m.Keys.Sync, m.Keys.Refresh, m.Keys.Help, m.Keys.Quit),
	})
}

func (m Model) renderNotificationsView() string {
	if len(m.Notifications) == 0 {
		return ""
	}
	start := max(0, len(m.Notifications)-3)
	lines := make([]string, 0, 3)
	for _, n := range m.Notifications[start:] {
		body := strings.ReplaceAll(strings.TrimSpace(n.Body), "\n", " ")
		lines = append(lines, views.RenderNotification("reminder", fmt.Sprintf("%s %s %s", n.At.Local().Format("15:04"), n.Title, body)))
	}
	return strings.Join(lines, "\n")
}
