package reminder

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

var now = time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)

type countingTrigger struct{ n int }

func (c *countingTrigger) Request() { c.n++ }

func newTestScheduler(t *testing.T) (*Scheduler, *storage.SQLiteRepository, *countingTrigger) {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "reminder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	seq := 0
	trigger := &countingTrigger{}
	s := NewScheduler(store, Options{
		DeviceID: "dev-a",
		Now:      func() time.Time { return now },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
		Sync: trigger,
	})
	return s, store, trigger
}

func advancesOf(reminders []model.Reminder) []int {
	out := make([]int, 0, len(reminders))
	for _, r := range reminders {
		if r.AdvanceMinutes != nil {
			out = append(out, *r.AdvanceMinutes)
		}
	}
	sort.Ints(out)
	return out
}

func byAdvance(t *testing.T, reminders []model.Reminder, advance int) model.Reminder {
	t.Helper()
	for _, r := range reminders {
		if r.AdvanceMinutes != nil && *r.AdvanceMinutes == advance {
			return r
		}
	}
	t.Fatalf("no reminder with advance %d", advance)
	return model.Reminder{}
}

func TestFireTimesSkipsPastOffsetsExceptZero(t *testing.T) {
	event := now.Add(30 * time.Minute)
	plans := FireTimes(event, []int{1440, 0, 15, 15}, now)
	require.Len(t, plans, 2)

	assert.Equal(t, 0, plans[0].Advance)
	assert.Equal(t, model.ReminderTypeDue, plans[0].Type)
	assert.True(t, plans[0].FireAt.Equal(event))

	assert.Equal(t, 15, plans[1].Advance)
	assert.Equal(t, model.ReminderTypeReminder, plans[1].Type)
	assert.True(t, plans[1].FireAt.Equal(event.Add(-15*time.Minute)))

	past := FireTimes(now.Add(-time.Hour), []int{0, 5}, now)
	require.Len(t, past, 1)
	assert.Equal(t, 0, past[0].Advance)
}

func TestCreateTaskUsesCommitmentDefaults(t *testing.T) {
	s, store, trigger := newTestScheduler(t)
	ctx := context.Background()
	due := now.Add(48 * time.Hour)

	task, err := s.CreateTask(ctx, NewTask{Title: "Standup", Commitment: model.CommitmentMeeting, DueDate: &due})
	require.NoError(t, err)
	assert.EqualValues(t, 1, task.SyncVersion)
	assert.Equal(t, 1, trigger.n)

	reminders, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 15, 60}, advancesOf(reminders))

	rows, err := store.Notifications.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].NextFireAt.Equal(due.Add(-60*time.Minute)))
}

func TestCreateTaskWithoutDueDateHasNoReminders(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTask{Title: "Someday"})
	require.NoError(t, err)

	reminders, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, reminders)
	rows, err := store.Notifications.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRescheduleDiffsAdvancesInPlace(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()
	due := now.Add(24 * time.Hour)

	task, err := s.CreateTask(ctx, NewTask{Title: "Call mom", DueDate: &due, Advances: []int{0, 15}})
	require.NoError(t, err)
	before, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	zero := byAdvance(t, before, 0)
	fifteen := byAdvance(t, before, 15)
	fifteenRow, err := store.Notifications.GetByReminder(ctx, fifteen.ID)
	require.NoError(t, err)

	moved := due.Add(2 * time.Hour)
	_, err = s.Reschedule(ctx, task.ID, &moved, []int{15, 60})
	require.NoError(t, err)

	after, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{15, 60}, advancesOf(after))

	kept := byAdvance(t, after, 15)
	assert.Equal(t, fifteen.ID, kept.ID)
	assert.True(t, kept.FireAt.Equal(moved.Add(-15*time.Minute)))
	assert.Equal(t, fifteen.SyncVersion+1, kept.SyncVersion)

	row, err := store.Notifications.GetByReminder(ctx, fifteen.ID)
	require.NoError(t, err)
	assert.Equal(t, fifteenRow.ID, row.ID, "queue row must be updated in place")
	assert.True(t, row.NextFireAt.Equal(kept.FireAt))

	gone, err := store.Reminders.Get(ctx, zero.ID)
	require.NoError(t, err)
	assert.True(t, gone.IsDeleted())
	_, err = store.Notifications.GetByReminder(ctx, zero.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sixty := byAdvance(t, after, 60)
	_, err = store.Notifications.GetByReminder(ctx, sixty.ID)
	require.NoError(t, err)
}

func TestRescheduleResetsFiredState(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()
	due := now.Add(time.Hour)

	task, err := s.CreateTask(ctx, NewTask{Title: "Email", DueDate: &due})
	require.NoError(t, err)
	reminders, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	r := reminders[0]

	fired := now
	_, err = store.Reminders.Mutate(ctx, r.ID, "dev-b", now, func(rm *model.Reminder) error {
		rm.FiredAt = &fired
		rm.LastNotifiedAt = &fired
		rm.LastNotifiedDeviceID = "dev-b"
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, store.Notifications.DeleteByReminder(ctx, r.ID))

	moved := due.Add(24 * time.Hour)
	_, err = s.Reschedule(ctx, task.ID, &moved, nil)
	require.NoError(t, err)

	got, err := store.Reminders.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FiredAt)
	assert.Nil(t, got.LastNotifiedAt)
	assert.Empty(t, got.LastNotifiedDeviceID)
	assert.True(t, got.Pending())

	row, err := store.Notifications.GetByReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, row.NextFireAt.Equal(moved))
}

func TestRescheduleClearingDueDateDropsAdvanceReminders(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()
	due := now.Add(time.Hour)

	task, err := s.CreateTask(ctx, NewTask{Title: "Video", Commitment: model.CommitmentVideo, DueDate: &due})
	require.NoError(t, err)
	followUp, err := s.AddFollowUp(ctx, task.ID, now.Add(3*time.Hour), "")
	require.NoError(t, err)

	_, err = s.Reschedule(ctx, task.ID, nil, nil)
	require.NoError(t, err)

	remaining, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, followUp.ID, remaining[0].ID)

	rows, err := store.Notifications.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, followUp.ID, rows[0].ReminderID)
}

func TestCompleteRecurringTaskRollsForward(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()
	monday := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	rule, err := model.ParseRecurrence("weekly:mon,wed,fri")
	require.NoError(t, err)

	task, err := s.CreateTask(ctx, NewTask{Title: "Gym", DueDate: &monday, Recurrence: &rule})
	require.NoError(t, err)
	reminders, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	dueReminder := reminders[0]
	rowBefore, err := store.Notifications.GetByReminder(ctx, dueReminder.ID)
	require.NoError(t, err)

	rolled, err := s.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, rolled.IsCompleted())
	require.NotNil(t, rolled.DueDate)
	assert.Equal(t, time.Wednesday, rolled.DueDate.Weekday())
	assert.EqualValues(t, 2, rolled.SyncVersion)

	moved, err := store.Reminders.Get(ctx, dueReminder.ID)
	require.NoError(t, err)
	assert.True(t, moved.FireAt.Equal(*rolled.DueDate))
	row, err := store.Notifications.GetByReminder(ctx, dueReminder.ID)
	require.NoError(t, err)
	assert.Equal(t, rowBefore.ID, row.ID)
	assert.True(t, row.NextFireAt.Equal(*rolled.DueDate))
}

func TestCompleteRecurringTaskPastEndFinalizes(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	end := due.Add(12 * time.Hour)
	rule := model.Recurrence{Kind: model.RecurDaily}

	task, err := s.CreateTask(ctx, NewTask{Title: "Pills", DueDate: &due, Recurrence: &rule, RecurrenceEnd: &end})
	require.NoError(t, err)

	done, err := s.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted())
	assert.True(t, done.DueDate.Equal(due))

	rows, err := store.Notifications.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	again, err := s.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, done.SyncVersion, again.SyncVersion)

	_, err = s.Reschedule(ctx, task.ID, &due, nil)
	assert.ErrorIs(t, err, ErrTaskCompleted)
}

func TestDeleteTaskTombstonesReminders(t *testing.T) {
	s, store, trigger := newTestScheduler(t)
	ctx := context.Background()
	due := now.Add(time.Hour)

	task, err := s.CreateTask(ctx, NewTask{Title: "Trip", Commitment: model.CommitmentTrip, DueDate: &due})
	require.NoError(t, err)
	_, err = s.AddFollowUp(ctx, task.ID, now.Add(2*time.Hour), "daily")
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, task.ID))
	assert.Equal(t, 3, trigger.n)

	gone, err := store.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, gone.IsDeleted())

	live, err := s.Reminders(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
	rows, err := store.Notifications.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.AddFollowUp(ctx, task.ID, now.Add(time.Hour), "")
	assert.ErrorIs(t, err, ErrTaskDeleted)
}

func TestAddFollowUpRejectsBadRepeatRule(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTask{Title: "Ping vendor"})
	require.NoError(t, err)
	_, err = s.AddFollowUp(ctx, task.ID, now.Add(time.Hour), "fortnightly")
	assert.Error(t, err)
}
