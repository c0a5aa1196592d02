// Package reminder turns task due dates into Reminder rows and keeps their
// delivery queue entries in step as tasks are rescheduled, completed or
// deleted.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

var (
	ErrTaskCompleted = errors.New("reminder: task is completed")
	ErrTaskDeleted   = errors.New("reminder: task is deleted")
)

// Requester asks for a background sync. sync.Trigger implements it.
type Requester interface {
	Request()
}

type Options struct {
	DeviceID string
	Now      func() time.Time
	NewID    func() string
	Sync     Requester
	Logger   *zap.Logger
}

type Scheduler struct {
	store  *storage.SQLiteRepository
	device string
	now    func() time.Time
	newID  func() string
	sync   Requester
	logger *zap.Logger
}

func NewScheduler(store *storage.SQLiteRepository, opts Options) *Scheduler {
	s := &Scheduler{
		store:  store,
		device: opts.DeviceID,
		now:    opts.Now,
		newID:  opts.NewID,
		sync:   opts.Sync,
		logger: opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("reminder")
	return s
}

// Plan is one reminder to be created for an event.
type Plan struct {
	Advance int
	FireAt  time.Time
	Type    model.ReminderType
}

// FireTimes computes one plan per distinct advance offset. Offsets that
// would fire before now are skipped, except offset 0.
func FireTimes(event time.Time, advances []int, now time.Time) []Plan {
	out := make([]Plan, 0, len(advances))
	for _, a := range model.NormalizeAdvances(advances) {
		fireAt := fireAtFor(event, a)
		if a != 0 && fireAt.Before(now) {
			continue
		}
		out = append(out, Plan{Advance: a, FireAt: fireAt, Type: model.ReminderTypeForAdvance(a)})
	}
	return out
}

func fireAtFor(event time.Time, advance int) time.Time {
	return event.Add(-time.Duration(advance) * time.Minute).UTC()
}

type NewTask struct {
	Title         string
	Notes         string
	ProjectID     string
	TagIDs        []string
	ContactID     string
	LocationID    string
	Commitment    model.CommitmentType
	DueDate       *time.Time
	Recurrence    *model.Recurrence
	RecurrenceEnd *time.Time
	// Advances in minutes; nil selects the commitment type's defaults.
	Advances []int
}

func (s *Scheduler) CreateTask(ctx context.Context, in NewTask) (model.Task, error) {
	now := s.now()
	task := model.Task{
		Title:         strings.TrimSpace(in.Title),
		Notes:         in.Notes,
		ProjectID:     in.ProjectID,
		TagIDs:        in.TagIDs,
		ContactID:     in.ContactID,
		LocationID:    in.LocationID,
		Commitment:    in.Commitment,
		DueDate:       utcPtr(in.DueDate),
		IsRecurring:   in.Recurrence != nil,
		RecurrenceEnd: utcPtr(in.RecurrenceEnd),
	}
	if in.Recurrence != nil {
		rule := *in.Recurrence
		task.RecurrenceRule = &rule
	}
	task.ID = s.newID()
	task.Touch(s.device, now)
	if err := s.store.Tasks.Create(ctx, task); err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}
	if err := s.syncReminders(ctx, task, in.Advances); err != nil {
		return task, err
	}
	s.requestSync()
	s.logger.Debug("task created", zap.String("task_id", task.ID))
	return task, nil
}

// Reschedule moves the task's due date, nil clearing it, and brings its
// advance reminders in line with advances. A nil advances list keeps the
// task's current offsets.
func (s *Scheduler) Reschedule(ctx context.Context, taskID string, due *time.Time, advances []int) (model.Task, error) {
	task, err := s.liveTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if !sameTime(task.DueDate, due) {
		task, err = s.store.Tasks.Mutate(ctx, taskID, s.device, s.now(), func(t *model.Task) error {
			t.DueDate = utcPtr(due)
			return nil
		})
		if err != nil {
			return model.Task{}, fmt.Errorf("update due date: %w", err)
		}
	}
	if err := s.syncReminders(ctx, task, advances); err != nil {
		return task, err
	}
	s.requestSync()
	return task, nil
}

// CompleteTask completes a task. A recurring task with another occurrence
// before its end date rolls forward instead and stays open.
func (s *Scheduler) CompleteTask(ctx context.Context, taskID string) (model.Task, error) {
	task, err := s.store.Tasks.Get(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.IsDeleted() {
		return model.Task{}, fmt.Errorf("%w: %s", ErrTaskDeleted, taskID)
	}
	if task.IsCompleted() {
		return task, nil
	}

	if next, ok := nextOccurrence(task); ok {
		task, err = s.store.Tasks.Mutate(ctx, taskID, s.device, s.now(), func(t *model.Task) error {
			t.DueDate = &next
			return nil
		})
		if err != nil {
			return model.Task{}, fmt.Errorf("roll recurrence: %w", err)
		}
		if err := s.syncReminders(ctx, task, nil); err != nil {
			return task, err
		}
		s.logger.Info("recurring task rolled forward",
			zap.String("task_id", taskID),
			zap.Time("due", next),
		)
		s.requestSync()
		return task, nil
	}

	now := s.now().UTC()
	task, err = s.store.Tasks.Mutate(ctx, taskID, s.device, now, func(t *model.Task) error {
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return model.Task{}, fmt.Errorf("complete task: %w", err)
	}
	reminders, err := s.reminders(ctx, taskID)
	if err != nil {
		return task, err
	}
	for _, r := range reminders {
		if err := s.store.Notifications.DeleteByReminder(ctx, r.ID); err != nil {
			return task, fmt.Errorf("close reminder %s: %w", r.ID, err)
		}
	}
	s.requestSync()
	return task, nil
}

// DeleteTask tombstones the task and every reminder it owns.
func (s *Scheduler) DeleteTask(ctx context.Context, taskID string) error {
	now := s.now()
	if _, err := s.store.Tasks.SoftDelete(ctx, taskID, s.device, now); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	reminders, err := s.reminders(ctx, taskID)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		if err := s.dropReminder(ctx, r.ID, now); err != nil {
			return err
		}
	}
	s.requestSync()
	return nil
}

// AddFollowUp schedules a one-off follow-up reminder. A non-empty repeat
// rule is stored on the reminder for the delivery queue's repeat option.
func (s *Scheduler) AddFollowUp(ctx context.Context, taskID string, at time.Time, repeatRule string) (model.Reminder, error) {
	if _, err := s.liveTask(ctx, taskID); err != nil {
		return model.Reminder{}, err
	}
	r := model.Reminder{
		TaskID:     taskID,
		FireAt:     at.UTC(),
		Type:       model.ReminderTypeFollowUp,
		RepeatRule: strings.TrimSpace(repeatRule),
	}
	if err := s.createReminder(ctx, &r, s.now()); err != nil {
		return model.Reminder{}, err
	}
	s.requestSync()
	return r, nil
}

// Reminders lists the live reminders of a task.
func (s *Scheduler) Reminders(ctx context.Context, taskID string) ([]model.Reminder, error) {
	return s.reminders(ctx, taskID)
}

// syncReminders diffs the task's advance reminders against the requested
// offsets. Follow-ups are left alone.
func (s *Scheduler) syncReminders(ctx context.Context, task model.Task, advances []int) error {
	now := s.now()
	existing, err := s.reminders(ctx, task.ID)
	if err != nil {
		return err
	}
	byAdvance := make(map[int]model.Reminder)
	for _, r := range existing {
		if r.AdvanceMinutes == nil {
			continue
		}
		if _, dup := byAdvance[*r.AdvanceMinutes]; dup {
			// Two devices planned the same offset before syncing; keep one.
			if err := s.dropReminder(ctx, r.ID, now); err != nil {
				return err
			}
			continue
		}
		byAdvance[*r.AdvanceMinutes] = r
	}

	if task.DueDate == nil || task.IsCompleted() {
		for _, r := range byAdvance {
			if err := s.dropReminder(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return nil
	}
	due := *task.DueDate

	requested := advances
	if requested == nil {
		if len(byAdvance) > 0 {
			for a := range byAdvance {
				requested = append(requested, a)
			}
		} else {
			requested = model.DefaultAdvances(task.CommitmentOrDefault())
		}
	}
	requested = model.NormalizeAdvances(requested)
	want := make(map[int]bool, len(requested))
	for _, a := range requested {
		want[a] = true
	}

	for a, r := range byAdvance {
		if want[a] {
			continue
		}
		if err := s.dropReminder(ctx, r.ID, now); err != nil {
			return err
		}
	}

	fresh := make([]int, 0, len(requested))
	for _, a := range requested {
		r, ok := byAdvance[a]
		if !ok {
			fresh = append(fresh, a)
			continue
		}
		fireAt := fireAtFor(due, a)
		if r.FireAt.Equal(fireAt) {
			continue
		}
		updated, err := s.store.Reminders.Mutate(ctx, r.ID, s.device, now, func(rm *model.Reminder) error {
			rm.FireAt = fireAt
			rm.FiredAt = nil
			rm.LastNotifiedAt = nil
			rm.LastNotifiedDeviceID = ""
			rm.Dismissed = false
			rm.SnoozedUntil = nil
			return nil
		})
		if err != nil {
			return fmt.Errorf("move reminder %s: %w", r.ID, err)
		}
		if err := s.upsertQueueRow(ctx, updated, now); err != nil {
			return err
		}
	}

	for _, p := range FireTimes(due, fresh, now) {
		advance := p.Advance
		r := model.Reminder{
			TaskID:         task.ID,
			FireAt:         p.FireAt,
			Type:           p.Type,
			AdvanceMinutes: &advance,
		}
		if err := s.createReminder(ctx, &r, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) createReminder(ctx context.Context, r *model.Reminder, now time.Time) error {
	r.ID = s.newID()
	r.Touch(s.device, now)
	if err := s.store.Reminders.Create(ctx, *r); err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return s.upsertQueueRow(ctx, *r, now)
}

func (s *Scheduler) dropReminder(ctx context.Context, id string, now time.Time) error {
	if _, err := s.store.Reminders.SoftDelete(ctx, id, s.device, now); err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	if err := s.store.Notifications.DeleteByReminder(ctx, id); err != nil {
		return fmt.Errorf("dequeue reminder %s: %w", id, err)
	}
	return nil
}

// upsertQueueRow moves an existing queue row in place or creates one.
func (s *Scheduler) upsertQueueRow(ctx context.Context, r model.Reminder, now time.Time) error {
	err := s.store.Notifications.Upsert(ctx, model.NextNotification{
		ID:         s.newID(),
		ReminderID: r.ID,
		NextFireAt: r.FireAt,
		CreatedAt:  now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue reminder %s: %w", r.ID, err)
	}
	return nil
}

func (s *Scheduler) reminders(ctx context.Context, taskID string) ([]model.Reminder, error) {
	out, err := s.store.Reminders.List(ctx, storage.ListFilter{ParentID: taskID})
	if err != nil {
		return nil, fmt.Errorf("list reminders for %s: %w", taskID, err)
	}
	return out, nil
}

func (s *Scheduler) liveTask(ctx context.Context, taskID string) (model.Task, error) {
	task, err := s.store.Tasks.Get(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.IsDeleted() {
		return model.Task{}, fmt.Errorf("%w: %s", ErrTaskDeleted, taskID)
	}
	if task.IsCompleted() {
		return model.Task{}, fmt.Errorf("%w: %s", ErrTaskCompleted, taskID)
	}
	return task, nil
}

func (s *Scheduler) requestSync() {
	if s.sync != nil {
		s.sync.Request()
	}
}

// nextOccurrence reports the recurring task's next due date when it falls on
// or before the recurrence end.
func nextOccurrence(task model.Task) (time.Time, bool) {
	if !task.IsRecurring || task.RecurrenceRule == nil || task.DueDate == nil {
		return time.Time{}, false
	}
	next := task.RecurrenceRule.Next(*task.DueDate).UTC()
	if task.RecurrenceEnd != nil && next.After(*task.RecurrenceEnd) {
		return time.Time{}, false
	}
	return next, true
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
