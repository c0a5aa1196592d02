package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseRecurrence(t *testing.T) {
	cases := map[string]string{
		"daily":              "daily",
		" Weekly ":           "weekly",
		"weekly:fri,mon,wed": "weekly:mon,wed,fri",
		"weekly:mon,mon":     "weekly:mon",
		"monthly":            "monthly",
		"yearly":             "yearly",
		"weekdays":           "weekdays",
	}
	for raw, want := range cases {
		r, err := ParseRecurrence(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if r.String() != want {
			t.Fatalf("parse %q: got %q want %q", raw, r.String(), want)
		}
	}
}

func TestParseRecurrenceRejectsUnknown(t *testing.T) {
	if _, err := ParseRecurrence("hourly"); !errors.Is(err, ErrInvalidRecurrenceKind) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
	if _, err := ParseRecurrence("weekly:funday"); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("expected invalid weekday, got %v", err)
	}
	if _, err := ParseRecurrence("daily:mon"); err == nil {
		t.Fatal("expected error for day set on daily rule")
	}
}

func TestRecurrenceWeeklyDays(t *testing.T) {
	r, err := ParseRecurrence("weekly:mon,wed,fri")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	monday := time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC)
	got := r.Preview(monday, 3)
	want := []string{"2026-02-11 09:00", "2026-02-13 09:00", "2026-02-16 09:00"}
	for i, w := range want {
		if got[i].Format("2006-01-02 15:04") != w {
			t.Fatalf("occurrence %d: got %s want %s", i, got[i].Format(time.RFC3339), w)
		}
	}
}

func TestRecurrenceWeeklyWithoutDays(t *testing.T) {
	r := Recurrence{Kind: RecurWeekly}
	from := time.Date(2026, 2, 11, 8, 0, 0, 0, time.UTC)
	if next := r.Next(from); next.Format("2006-01-02") != "2026-02-18" {
		t.Fatalf("unexpected next weekly: %s", next)
	}
}

func TestRecurrenceWeekdaysSkipsWeekend(t *testing.T) {
	r := Recurrence{Kind: RecurWeekdays}
	friday := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	next := r.Next(friday)
	if next.Weekday() != time.Monday || next.Format("2006-01-02 15:04") != "2026-02-16 10:00" {
		t.Fatalf("unexpected next weekday: %s", next.Format(time.RFC3339))
	}
}

func TestRecurrenceMonthlyClampsToMonthEnd(t *testing.T) {
	r := Recurrence{Kind: RecurMonthly}
	from := time.Date(2026, 1, 31, 17, 0, 0, 0, time.UTC)
	if next := r.Next(from); next.Format("2006-01-02 15:04") != "2026-02-28 17:00" {
		t.Fatalf("unexpected next monthly: %s", next.Format(time.RFC3339))
	}
}

func TestRecurrenceYearlyLeapDay(t *testing.T) {
	r := Recurrence{Kind: RecurYearly}
	from := time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC)
	if next := r.Next(from); next.Format("2006-01-02") != "2029-02-28" {
		t.Fatalf("unexpected next yearly: %s", next.Format(time.RFC3339))
	}
}

func TestRecurrenceDaily(t *testing.T) {
	r := Recurrence{Kind: RecurDaily}
	from := time.Date(2026, 3, 31, 23, 30, 0, 0, time.UTC)
	if next := r.Next(from); next.Format("2006-01-02 15:04") != "2026-04-01 23:30" {
		t.Fatalf("unexpected next daily: %s", next.Format(time.RFC3339))
	}
}

func TestRecurrenceTextRoundTripInTask(t *testing.T) {
	rule, err := ParseRecurrence("weekly:tue,thu")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task := Task{
		SyncMeta:       SyncMeta{ID: "t1", SyncVersion: 1},
		Title:          "Standup",
		IsRecurring:    true,
		RecurrenceRule: &rule,
	}
	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Task
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.RecurrenceRule == nil || decoded.RecurrenceRule.String() != "weekly:tue,thu" {
		t.Fatalf("unexpected decoded rule: %+v", decoded.RecurrenceRule)
	}
	if decoded.ID != "t1" || decoded.SyncVersion != 1 {
		t.Fatalf("unexpected decoded meta: %+v", decoded.SyncMeta)
	}
}

func TestPreviewNonPositiveCount(t *testing.T) {
	if got := (Recurrence{Kind: RecurDaily}).Preview(time.Now(), 0); len(got) != 0 {
		t.Fatalf("expected empty preview, got %d", len(got))
	}
}
