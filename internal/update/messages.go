package update

import "github.com/sandeepkv93/tasksync/internal/commands"

type SnapshotMsg struct {
	Snapshot Snapshot
}

type NoticeMsg struct {
	Notice Notice
}

type CommandDoneMsg struct {
	Result commands.Result
	Err    error
}

type SetStatusMsg struct {
	Text    string
	IsError bool
}

type ClearStatusMsg struct{}

type AppErrorMsg struct {
	Err error
}

type refreshTickMsg struct{}
