package model

import (
	"errors"
	"testing"
	"time"
)

func TestReminderValidate(t *testing.T) {
	fire := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	r := Reminder{SyncMeta: SyncMeta{ID: "r1"}, TaskID: "t1", FireAt: fire, Type: ReminderTypeDue}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid reminder, got %v", err)
	}

	r.Type = "alarm"
	if err := r.Validate(); !errors.Is(err, ErrInvalidReminderType) {
		t.Fatalf("expected invalid type, got %v", err)
	}

	r.Type = ReminderTypeReminder
	r.RepeatRule = "fortnightly"
	if err := r.Validate(); !errors.Is(err, ErrInvalidRecurrenceKind) {
		t.Fatalf("expected invalid repeat rule, got %v", err)
	}
}

func TestReminderPending(t *testing.T) {
	now := time.Now()
	r := Reminder{}
	if !r.Pending() {
		t.Fatal("fresh reminder should be pending")
	}
	r.FiredAt = &now
	if r.Pending() {
		t.Fatal("fired reminder should not be pending")
	}
	r.FiredAt = nil
	r.DeletedAt = &now
	if r.Pending() {
		t.Fatal("deleted reminder should not be pending")
	}
}

func TestNextNotificationClaimableAt(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	n := NextNotification{NextFireAt: now}
	if got := n.ClaimableAt(); !got.Equal(now) {
		t.Fatalf("unlocked row: got %s, want %s", got, now)
	}
	lock := now.Add(30 * time.Second)
	n.LockedUntil = &lock
	if got := n.ClaimableAt(); !got.Equal(lock) {
		t.Fatalf("locked row: got %s, want lock expiry %s", got, lock)
	}
	n.NextFireAt = now.Add(time.Hour)
	if got := n.ClaimableAt(); !got.Equal(n.NextFireAt) {
		t.Fatalf("lock expiring before fire time: got %s, want %s", got, n.NextFireAt)
	}
}

func TestReminderTypeForAdvance(t *testing.T) {
	if ReminderTypeForAdvance(0) != ReminderTypeDue || ReminderTypeForAdvance(15) != ReminderTypeReminder {
		t.Fatal("unexpected reminder type mapping")
	}
}
