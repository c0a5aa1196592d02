package views

import (
	"fmt"
	"strings"
	"time"
)

const timeLayout = "Mon 02 Jan 15:04"

type StatusPanelData struct {
	Enabled        bool
	Account        string
	DeviceID       string
	LastSyncAt     *time.Time
	PendingChanges int
	InProgress     bool
	Spinner        string
	LastResult     string
}

type QueueItemData struct {
	ReminderID  string
	TaskTitle   string
	Kind        string
	FireAt      time.Time
	LockedBy    string
	LockedUntil *time.Time
}

type QueuePanelData struct {
	Now   time.Time
	Items []QueueItemData
}

type SyncResultData struct {
	Pushed    int
	Pulled    int
	Conflicts int
	Errors    []string
}

type DeliveryReportData struct {
	Delivered  int
	Duplicates int
	Contended  int
	Closed     int
	Failed     int
}

func RenderStatusPanel(data StatusPanelData) string {
	var b strings.Builder
	b.WriteString("sync:\n")
	fmt.Fprintf(&b, "device: %s\n", data.DeviceID)
	if !data.Enabled {
		b.WriteString("state: disabled (no remote or account)\n")
	} else {
		fmt.Fprintf(&b, "account: %s\n", data.Account)
		state := "idle"
		if data.InProgress {
			state = strings.TrimSpace(data.Spinner + " syncing")
		}
		fmt.Fprintf(&b, "state: %s\n", state)
	}
	last := "never"
	if data.LastSyncAt != nil {
		last = data.LastSyncAt.Local().Format(timeLayout)
	}
	fmt.Fprintf(&b, "last sync: %s\n", last)
	fmt.Fprintf(&b, "pending changes: %d\n", data.PendingChanges)
	if data.LastResult != "" {
		fmt.Fprintf(&b, "last result: %s\n", data.LastResult)
	}
	return strings.TrimSpace(b.String())
}

func RenderQueuePanel(data QueuePanelData) string {
	var b strings.Builder
	b.WriteString("queue:\n")
	if len(data.Items) == 0 {
		b.WriteString("(nothing scheduled)")
		return b.String()
	}
	for _, item := range data.Items {
		marker := " "
		if !item.FireAt.After(data.Now) {
			marker = "!"
		}
		title := item.TaskTitle
		if title == "" {
			title = "(unknown task)"
		}
		fmt.Fprintf(&b, "%s %s [%s] %s  %s\n", marker, item.FireAt.Local().Format(timeLayout), strings.ToUpper(item.Kind), title, shortID(item.ReminderID))
		if item.LockedUntil != nil && item.LockedUntil.After(data.Now) {
			fmt.Fprintf(&b, "    locked by %s until %s\n", shortID(item.LockedBy), item.LockedUntil.Local().Format("15:04:05"))
		}
	}
	return strings.TrimSpace(b.String())
}

func RenderSyncResult(data SyncResultData) string {
	line := fmt.Sprintf("pushed %d, pulled %d, conflicts %d", data.Pushed, data.Pulled, data.Conflicts)
	if len(data.Errors) > 0 {
		line += fmt.Sprintf(", %d error(s): %s", len(data.Errors), strings.Join(data.Errors, "; "))
	}
	return line
}

func RenderDeliveryReport(data DeliveryReportData) string {
	return fmt.Sprintf("delivered %d, duplicates %d, contended %d, closed %d, failed %d",
		data.Delivered, data.Duplicates, data.Contended, data.Closed, data.Failed)
}

func RenderCommandPalette(active bool, input string) string {
	if !active {
		return ""
	}
	return fmt.Sprintf("command: %s", input)
}

func RenderNotification(level string, body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(level), body)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
