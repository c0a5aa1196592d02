package scheduler

import (
	"testing"
	"time"
)

func TestEngineEmitsInWakeOrder(t *testing.T) {
	engine := NewEngine(8, nil)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	if err := engine.Schedule(Wake{ReminderID: "later", At: now.Add(80 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule later: %v", err)
	}
	if err := engine.Schedule(Wake{ReminderID: "sooner", At: now.Add(20 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule sooner: %v", err)
	}

	first := waitWake(t, engine.C(), time.Second)
	second := waitWake(t, engine.C(), time.Second)
	if first.ReminderID != "sooner" || second.ReminderID != "later" {
		t.Fatalf("unexpected order: first=%s second=%s", first.ReminderID, second.ReminderID)
	}
}

func TestScheduleReplacesWakeForSameReminder(t *testing.T) {
	engine := NewEngine(8, nil)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	if err := engine.Schedule(Wake{ReminderID: "r1", At: now.Add(time.Hour)}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := engine.Schedule(Wake{ReminderID: "r1", At: now.Add(20 * time.Millisecond)}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if engine.Len() != 1 {
		t.Fatalf("expected one pending wake, got %d", engine.Len())
	}

	got := waitWake(t, engine.C(), time.Second)
	if got.ReminderID != "r1" {
		t.Fatalf("unexpected wake: %+v", got)
	}
	if engine.Len() != 0 {
		t.Fatalf("expected no pending wakes, got %d", engine.Len())
	}
}

func TestCancelAndReset(t *testing.T) {
	engine := NewEngine(8, nil)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	_ = engine.Schedule(Wake{ReminderID: "cancelled", At: now.Add(20 * time.Millisecond)})
	engine.Cancel("cancelled")
	engine.Cancel("unknown")

	if err := engine.Reset([]Wake{
		{ReminderID: "a", At: now.Add(time.Hour)},
		{ReminderID: "b", At: now.Add(40 * time.Millisecond)},
		{ReminderID: "", At: now},
	}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if engine.Len() != 2 {
		t.Fatalf("expected two pending wakes, got %d", engine.Len())
	}

	got := waitWake(t, engine.C(), time.Second)
	if got.ReminderID != "b" {
		t.Fatalf("expected b, got %s", got.ReminderID)
	}
	select {
	case extra := <-engine.C():
		t.Fatalf("unexpected wake %+v", extra)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestEngineDropsWhenConsumerIsSlow(t *testing.T) {
	engine := NewEngine(1, nil)
	engine.Start()
	defer engine.Stop()

	at := time.Now().UTC().Add(20 * time.Millisecond)
	wakes := make([]Wake, 0, 25)
	for i := 0; i < 25; i++ {
		wakes = append(wakes, Wake{ReminderID: string(rune('a' + i)), At: at})
	}
	if err := engine.Reset(wakes); err != nil {
		t.Fatalf("reset: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if engine.Dropped() == 0 {
		t.Fatalf("expected dropped wakes > 0, got %d", engine.Dropped())
	}
}

func TestScheduleValidatesWake(t *testing.T) {
	engine := NewEngine(1, nil)
	if err := engine.Schedule(Wake{ReminderID: "bad"}); err != ErrInvalidWakeTime {
		t.Fatalf("expected ErrInvalidWakeTime, got %v", err)
	}
	engine.Stop()
	if err := engine.Schedule(Wake{ReminderID: "r1", At: time.Now()}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func waitWake(t *testing.T, ch <-chan Wake, timeout time.Duration) Wake {
	t.Helper()
	select {
	case w := <-ch:
		return w
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for wake")
		return Wake{}
	}
}
