package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

var commitmentVerbs = map[model.CommitmentType]string{
	model.CommitmentCall:    "Call",
	model.CommitmentEmail:   "Email",
	model.CommitmentVideo:   "Video call",
	model.CommitmentMeeting: "Meeting",
	model.CommitmentTrip:    "Trip",
}

// Compose builds the notification text for a reminder. task may be the zero
// value when the task has not been synced yet.
func Compose(task model.Task, r model.Reminder, now time.Time) (string, string) {
	title := strings.TrimSpace(task.Title)
	if title == "" {
		title = "Reminder"
	}
	if verb, ok := commitmentVerbs[task.Commitment]; ok {
		title = verb + ": " + title
	}

	var lines []string
	switch r.Type {
	case model.ReminderTypeDue:
		lines = append(lines, "Due now")
	case model.ReminderTypeFollowUp:
		lines = append(lines, "Follow up")
	default:
		if r.AdvanceMinutes != nil {
			lines = append(lines, "Starts in "+humanizeMinutes(*r.AdvanceMinutes))
		} else if task.DueDate != nil && task.DueDate.After(now) {
			lines = append(lines, "Starts in "+humanizeMinutes(int(task.DueDate.Sub(now).Round(time.Minute)/time.Minute)))
		} else {
			lines = append(lines, "Reminder")
		}
	}
	if r.SnoozeCount > 0 {
		lines = append(lines, fmt.Sprintf("Snoozed %d×", r.SnoozeCount))
	}
	if notes := strings.TrimSpace(task.Notes); notes != "" {
		lines = append(lines, notes)
	}
	return title, strings.Join(lines, "\n")
}

func humanizeMinutes(m int) string {
	switch {
	case m >= 1440 && m%1440 == 0:
		return plural(m/1440, "day")
	case m >= 60 && m%60 == 0:
		return plural(m/60, "hour")
	default:
		return plural(m, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
