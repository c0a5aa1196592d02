package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCommitment  = errors.New("model: invalid commitment type")
	ErrRecurrenceRequired = errors.New("model: recurring task requires a recurrence rule")
)

type CommitmentType string

const (
	CommitmentTask    CommitmentType = "task"
	CommitmentCall    CommitmentType = "call"
	CommitmentEmail   CommitmentType = "email"
	CommitmentVideo   CommitmentType = "video"
	CommitmentMeeting CommitmentType = "meeting"
	CommitmentTrip    CommitmentType = "trip"
)

func (c CommitmentType) IsValid() bool {
	switch c {
	case CommitmentTask, CommitmentCall, CommitmentEmail, CommitmentVideo, CommitmentMeeting, CommitmentTrip:
		return true
	default:
		return false
	}
}

type Task struct {
	SyncMeta
	Title          string         `json:"title"`
	Notes          string         `json:"notes,omitempty"`
	ProjectID      string         `json:"projectId,omitempty"`
	TagIDs         []string       `json:"tagIds,omitempty"`
	ContactID      string         `json:"contactId,omitempty"`
	LocationID     string         `json:"locationId,omitempty"`
	Commitment     CommitmentType `json:"commitmentType,omitempty"`
	DueDate        *time.Time     `json:"dueDate,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	IsRecurring    bool           `json:"isRecurring"`
	RecurrenceRule *Recurrence    `json:"recurrenceRule,omitempty"`
	RecurrenceEnd  *time.Time     `json:"recurrenceEnd,omitempty"`
}

func (t Task) Validate() error {
	if err := t.SyncMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("model: task title is required")
	}
	if t.Commitment != "" && !t.Commitment.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCommitment, t.Commitment)
	}
	if t.IsRecurring {
		if t.RecurrenceRule == nil {
			return ErrRecurrenceRequired
		}
		if err := t.RecurrenceRule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (t Task) IsCompleted() bool { return t.CompletedAt != nil }

// CommitmentOrDefault treats an unset commitment as a plain task.
func (t Task) CommitmentOrDefault() CommitmentType {
	if t.Commitment == "" {
		return CommitmentTask
	}
	return t.Commitment
}
