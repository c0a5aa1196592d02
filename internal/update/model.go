// Package update is the bubbletea watch screen: sync state, the delivery
// queue, delivered notifications and a command palette.
package update

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"

	"github.com/sandeepkv93/tasksync/internal/commands"
	"github.com/sandeepkv93/tasksync/internal/views"
)

const (
	refreshInterval  = time.Second
	maxNotifications = 20
	commandTimeout   = 30 * time.Second
)

// Snapshot is what the screen shows between refreshes.
type Snapshot struct {
	Now    time.Time
	Status views.StatusPanelData
	Queue  []views.QueueItemData
}

// Backend is the watch screen's view of the running service.
type Backend interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Handlers(ctx context.Context) commands.Handlers
}

type StatusBar struct {
	Text    string
	IsError bool
}

type Notice struct {
	Title string
	Body  string
	At    time.Time
}

type GlobalKeyMap struct {
	Palette string
	Sync    string
	Refresh string
	Help    string
	Quit    string
}

type CommandPaletteState struct {
	Active bool
	Input  string
}

type Model struct {
	Snapshot      Snapshot
	Notifications []Notice
	Palette       CommandPaletteState
	HelpVisible   bool
	Busy          bool
	LastResult    string
	Status        StatusBar
	Keys          GlobalKeyMap
	Quitting      bool
	LastError     error
	Width         int

	backend      Backend
	notices      <-chan Notice
	commandInput textinput.Model
	syncSpinner  spinner.Model
	helpModel    help.Model
}

// NewModel builds the screen. notices may be nil when nothing is delivered
// through the screen.
func NewModel(backend Backend, notices <-chan Notice) Model {
	input := textinput.New()
	input.Placeholder = "sync | status | push | pull | add <title> due:2h | complete <task> | snooze <reminder> 10m | dismiss <reminder>"
	input.Prompt = ": "
	input.CharLimit = 256

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		Keys: GlobalKeyMap{
			Palette: ":",
			Sync:    "s",
			Refresh: "r",
			Help:    "?",
			Quit:    "q",
		},
		backend:      backend,
		notices:      notices,
		commandInput: input,
		syncSpinner:  spin,
		helpModel:    help.New(),
	}
}
