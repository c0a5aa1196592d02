package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidReminderType = errors.New("model: invalid reminder type")

type ReminderType string

const (
	ReminderTypeDue      ReminderType = "due"
	ReminderTypeReminder ReminderType = "reminder"
	ReminderTypeFollowUp ReminderType = "followup"
)

func (r ReminderType) IsValid() bool {
	switch r {
	case ReminderTypeDue, ReminderTypeReminder, ReminderTypeFollowUp:
		return true
	default:
		return false
	}
}

// ReminderTypeForAdvance maps an advance offset to the reminder type it produces.
func ReminderTypeForAdvance(minutes int) ReminderType {
	if minutes == 0 {
		return ReminderTypeDue
	}
	return ReminderTypeReminder
}

type Reminder struct {
	SyncMeta
	TaskID               string       `json:"taskId"`
	FireAt               time.Time    `json:"fireAt"`
	Type                 ReminderType `json:"type"`
	AdvanceMinutes       *int         `json:"advanceMinutes,omitempty"`
	SnoozedUntil         *time.Time   `json:"snoozedUntil,omitempty"`
	SnoozeCount          int          `json:"snoozeCount"`
	Dismissed            bool         `json:"dismissed"`
	FiredAt              *time.Time   `json:"firedAt,omitempty"`
	LastNotifiedAt       *time.Time   `json:"lastNotifiedAt,omitempty"`
	LastNotifiedDeviceID string       `json:"lastNotifiedDeviceId,omitempty"`
	RepeatRule           string       `json:"repeatRule,omitempty"`
}

func (r Reminder) Validate() error {
	if err := r.SyncMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.TaskID) == "" {
		return errors.New("model: reminder task_id is required")
	}
	if r.FireAt.IsZero() {
		return errors.New("model: reminder fire_at is required")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidReminderType, r.Type)
	}
	if r.AdvanceMinutes != nil && *r.AdvanceMinutes < 0 {
		return errors.New("model: reminder advance must not be negative")
	}
	if r.RepeatRule != "" {
		if _, err := ParseRecurrence(r.RepeatRule); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports whether the reminder still expects a delivery.
func (r Reminder) Pending() bool {
	return !r.IsDeleted() && !r.Dismissed && r.FiredAt == nil
}

// NextNotification is the delivery queue row for a pending reminder.
// LockToken is a fencing token: every successful claim increments it.
type NextNotification struct {
	ID              string
	ReminderID      string
	NextFireAt      time.Time
	LockedUntil     *time.Time
	LockedByDevice  string
	LockToken       int64
	LastProcessedAt *time.Time
	ProcessCount    int
	CreatedAt       time.Time
}

// ClaimableAt is the earliest time a claim on the row can succeed: its fire
// time, or the end of a lock that outlives it.
func (n NextNotification) ClaimableAt() time.Time {
	if n.LockedUntil != nil && n.LockedUntil.After(n.NextFireAt) {
		return *n.LockedUntil
	}
	return n.NextFireAt
}
