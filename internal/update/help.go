package update

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type KeyBinding struct {
	Key    string
	Action string
}

type helpKeyMap struct {
	short []key.Binding
	full  [][]key.Binding
}

func (k helpKeyMap) ShortHelp() []key.Binding  { return k.short }
func (k helpKeyMap) FullHelp() [][]key.Binding { return k.full }

func (m Model) renderHelpView() string {
	bindings := m.helpBindings()
	var b strings.Builder
	b.WriteString("help:\n")
	for _, kb := range m.globalBindings() {
		fmt.Fprintf(&b, "- %s: %s\n", kb.Key, kb.Action)
	}
	b.WriteString("commands:\n")
	for _, line := range commandHelp {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString(m.helpModel.View(helpKeyMap{
		short: bindings,
		full:  [][]key.Binding{bindings},
	}))
	return strings.TrimSpace(b.String())
}

var commandHelp = []string{
	"sync | push | pull | status",
	"add <title> [due:2h|due:<RFC3339>] [remind:0,15,1h]",
	"complete <task-id>",
	"reschedule <task-id> <2h|RFC3339|none>",
	"snooze <reminder-id> <10m|1d>",
	"dismiss <reminder-id>",
}

func (m Model) globalBindings() []KeyBinding {
	return []KeyBinding{
		{Key: m.Keys.Palette, Action: "open command palette"},
		{Key: m.Keys.Sync, Action: "sync now"},
		{Key: m.Keys.Refresh, Action: "refresh"},
		{Key: m.Keys.Help, Action: "toggle help panel"},
		{Key: m.Keys.Quit, Action: "quit"},
	}
}

func (m Model) helpBindings() []key.Binding {
	out := make([]key.Binding, 0, len(m.globalBindings()))
	for _, kb := range m.globalBindings() {
		out = append(out, key.NewBinding(key.WithKeys(kb.Key), key.WithHelp(kb.Key, kb.Action)))
	}
	return out
}
