// Package queue delivers due reminders at most once across every device of
// an account. A device must win the local row lock and, when configured, the
// shared fence before it may display anything.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/metrics"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/remote"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

const (
	DefaultLockDuration    = 30 * time.Second
	DefaultDuplicateWindow = 2 * time.Minute
	DefaultBatchSize       = 50

	maxRepeatSteps = 10000
)

var (
	ErrLockHeld        = errors.New("queue: lock held by another device")
	ErrReminderClosed  = errors.New("queue: reminder is dismissed or deleted")
	ErrSnoozeNotFuture = errors.New("queue: snooze time must be in the future")

	errReminderMoved = errors.New("queue: reminder changed during delivery")
)

// Dispatcher shows a notification to the user.
type Dispatcher interface {
	Display(title, body string) error
}

// Requester asks for a background sync. sync.Trigger implements it.
type Requester interface {
	Request()
}

type Options struct {
	DeviceID        string
	LockDuration    time.Duration
	DuplicateWindow time.Duration
	// RepeatReminders schedules the next occurrence of a reminder's own
	// repeat rule after it fires.
	RepeatReminders bool
	BatchSize       int
	Fence           remote.Fence
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
	NewID           func() string
	Sync            Requester
}

type Queue struct {
	store   *storage.SQLiteRepository
	device  string
	lockFor time.Duration
	window  time.Duration
	repeat  bool
	batch   int
	fence   remote.Fence
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
	sync    Requester
}

func New(store *storage.SQLiteRepository, opts Options) *Queue {
	q := &Queue{
		store:   store,
		device:  opts.DeviceID,
		lockFor: opts.LockDuration,
		window:  opts.DuplicateWindow,
		repeat:  opts.RepeatReminders,
		batch:   opts.BatchSize,
		fence:   opts.Fence,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
		sync:    opts.Sync,
	}
	if q.lockFor <= 0 {
		q.lockFor = DefaultLockDuration
	}
	if q.window <= 0 {
		q.window = DefaultDuplicateWindow
	}
	if q.batch <= 0 {
		q.batch = DefaultBatchSize
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	q.logger = q.logger.Named("queue")
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}
	return q
}

// DeliveryReport summarizes one DeliverDue pass.
type DeliveryReport struct {
	Delivered  int
	Duplicates int
	Contended  int
	Closed     int
	Failed     int
	Errors     []error
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeDuplicate
	outcomeContended
	outcomeClosed
	outcomeFailed
)

// DeliverDue dispatches every due, unlocked row once. Errors on single rows
// are collected in the report; the returned error is reserved for failures
// to read the queue at all.
func (q *Queue) DeliverDue(ctx context.Context, d Dispatcher) (DeliveryReport, error) {
	var report DeliveryReport
	now := q.now()
	due, err := q.store.Notifications.Due(ctx, now, q.batch)
	if err != nil {
		return report, fmt.Errorf("list due notifications: %w", err)
	}

	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := q.deliverOne(ctx, n, now, d)
		if err != nil {
			report.Errors = append(report.Errors, err)
		}
		switch result {
		case outcomeDelivered:
			report.Delivered++
		case outcomeDuplicate:
			report.Duplicates++
		case outcomeContended:
			report.Contended++
		case outcomeClosed:
			report.Closed++
		case outcomeFailed:
			report.Failed++
		}
	}

	if rows, err := q.store.Notifications.List(ctx); err == nil {
		q.metrics.SetQueueDepth(len(rows))
	}
	if report.Delivered > 0 || report.Duplicates > 0 {
		q.requestSync()
	}
	if len(due) > 0 {
		q.logger.Debug("delivery pass",
			zap.Int("due", len(due)),
			zap.Int("delivered", report.Delivered),
			zap.Int("duplicates", report.Duplicates),
			zap.Int("contended", report.Contended),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// claim is a held queue row plus, when a fence is configured and reachable,
// the matching fence token.
type claim struct {
	row        model.NextNotification
	fenceToken uint64
	fenced     bool
}

func (q *Queue) acquire(ctx context.Context, n model.NextNotification, now time.Time) (claim, error) {
	row, err := q.store.Notifications.Claim(ctx, n.ID, q.device, now, q.lockFor)
	if errors.Is(err, storage.ErrNotClaimed) {
		q.metrics.RecordContention("local")
		return claim{}, fmt.Errorf("%w: %s", ErrLockHeld, n.ID)
	}
	if err != nil {
		return claim{}, fmt.Errorf("claim %s: %w", n.ID, err)
	}
	c := claim{row: row}
	if q.fence == nil {
		return c, nil
	}

	token, err := q.fence.Acquire(ctx, n.ReminderID, q.device, q.lockFor)
	switch {
	case err == nil:
		c.fenceToken = token
		c.fenced = true
	case errors.Is(err, remote.ErrFenceHeld):
		q.metrics.RecordContention("fence")
		q.releaseLocal(ctx, row)
		return claim{}, fmt.Errorf("%w: %v", ErrLockHeld, err)
	default:
		q.logger.Warn("fence unavailable, relying on local lock",
			zap.String("reminder_id", n.ReminderID),
			zap.Error(err),
		)
	}
	return c, nil
}

func (q *Queue) deliverOne(ctx context.Context, n model.NextNotification, now time.Time, d Dispatcher) (outcome, error) {
	c, err := q.acquire(ctx, n, now)
	if errors.Is(err, ErrLockHeld) {
		return outcomeContended, nil
	}
	if err != nil {
		return outcomeFailed, err
	}

	reminder, err := q.store.Reminders.Get(ctx, n.ReminderID)
	if errors.Is(err, storage.ErrNotFound) {
		return outcomeClosed, q.finish(ctx, c)
	}
	if err != nil {
		q.abandon(ctx, c)
		return outcomeFailed, fmt.Errorf("load reminder %s: %w", n.ReminderID, err)
	}

	if q.deliveredElsewhere(reminder, now) {
		q.metrics.RecordDuplicate()
		q.logger.Info("reminder already delivered by another device",
			zap.String("reminder_id", reminder.ID),
			zap.String("device", reminder.LastNotifiedDeviceID),
		)
		return outcomeDuplicate, q.finish(ctx, c)
	}
	if !reminder.Pending() {
		return outcomeClosed, q.finish(ctx, c)
	}

	task, err := q.store.Tasks.Get(ctx, reminder.TaskID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		task = model.Task{}
	case err != nil:
		q.abandon(ctx, c)
		return outcomeFailed, fmt.Errorf("load task %s: %w", reminder.TaskID, err)
	case task.IsDeleted() || task.IsCompleted():
		return outcomeClosed, q.finish(ctx, c)
	}

	title, body := Compose(task, reminder, now)
	if err := d.Display(title, body); err != nil {
		q.metrics.RecordDispatchFailure()
		q.abandon(ctx, c)
		return outcomeFailed, fmt.Errorf("display reminder %s: %w", reminder.ID, err)
	}

	firedAt := now.UTC()
	fired, err := q.store.Reminders.Mutate(ctx, reminder.ID, q.device, now, func(r *model.Reminder) error {
		if !r.Pending() || !r.FireAt.Equal(reminder.FireAt) {
			return errReminderMoved
		}
		r.FiredAt = &firedAt
		r.LastNotifiedAt = &firedAt
		r.LastNotifiedDeviceID = q.device
		return nil
	})
	switch {
	case errors.Is(err, errReminderMoved):
		// Snoozed, rescheduled or dismissed while on screen. The re-armed row
		// carries a newer token and belongs to the next delivery.
		q.logger.Info("reminder changed during delivery",
			zap.String("reminder_id", reminder.ID),
			zap.Time("displayed_fire_at", reminder.FireAt),
		)
		q.releaseFence(ctx, c)
		if err := q.store.Notifications.Complete(ctx, c.row.ID, c.row.LockToken); err != nil && !errors.Is(err, storage.ErrNotClaimed) {
			q.logger.Warn("remove queue row failed", zap.String("id", c.row.ID), zap.Error(err))
		}
		q.metrics.RecordDelivered()
		return outcomeDelivered, nil
	case err != nil:
		// Already displayed; dropping the row keeps delivery at most once.
		q.logger.Error("failed to mark reminder fired", zap.String("reminder_id", reminder.ID), zap.Error(err))
	}
	if err := q.store.Notifications.Complete(ctx, c.row.ID, c.row.LockToken); err != nil {
		q.logger.Warn("queue row changed during delivery", zap.String("id", c.row.ID), zap.Error(err))
	}
	if c.fenced {
		// Hold the fence through the duplicate window so slower replicas back off.
		if _, err := q.fence.Acquire(ctx, reminder.ID, q.device, q.window); err != nil {
			q.logger.Debug("extend fence failed", zap.String("reminder_id", reminder.ID), zap.Error(err))
		}
	}
	q.metrics.RecordDelivered()

	if q.repeat && fired.RepeatRule != "" {
		if err := q.scheduleRepeat(ctx, fired, now); err != nil {
			return outcomeDelivered, err
		}
	}
	return outcomeDelivered, nil
}

// deliveredElsewhere is the secondary guard against replicas whose queues
// have not converged yet.
func (q *Queue) deliveredElsewhere(r model.Reminder, now time.Time) bool {
	if r.LastNotifiedAt == nil || r.LastNotifiedDeviceID == "" || r.LastNotifiedDeviceID == q.device {
		return false
	}
	gap := now.Sub(*r.LastNotifiedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap <= q.window
}

// finish removes the row and gives back the fence without dispatching.
func (q *Queue) finish(ctx context.Context, c claim) error {
	q.releaseFence(ctx, c)
	if err := q.store.Notifications.Complete(ctx, c.row.ID, c.row.LockToken); err != nil && !errors.Is(err, storage.ErrNotClaimed) {
		return fmt.Errorf("remove queue row %s: %w", c.row.ID, err)
	}
	return nil
}

// abandon gives the row back for a later retry.
func (q *Queue) abandon(ctx context.Context, c claim) {
	q.releaseFence(ctx, c)
	q.releaseLocal(ctx, c.row)
}

func (q *Queue) releaseLocal(ctx context.Context, row model.NextNotification) {
	if err := q.store.Notifications.Release(ctx, row.ID, row.LockToken); err != nil {
		q.logger.Debug("release lock failed", zap.String("id", row.ID), zap.Error(err))
	}
}

func (q *Queue) releaseFence(ctx context.Context, c claim) {
	if !c.fenced {
		return
	}
	if err := q.fence.Release(ctx, c.row.ReminderID, c.fenceToken); err != nil {
		q.logger.Debug("release fence failed", zap.String("reminder_id", c.row.ReminderID), zap.Error(err))
	}
}

// scheduleRepeat creates a fresh reminder and queue row at the next
// occurrence of the fired reminder's repeat rule.
func (q *Queue) scheduleRepeat(ctx context.Context, fired model.Reminder, now time.Time) error {
	rule, err := model.ParseRecurrence(fired.RepeatRule)
	if err != nil {
		return fmt.Errorf("repeat reminder %s: %w", fired.ID, err)
	}
	next := fired.FireAt
	for i := 0; i < maxRepeatSteps && !next.After(now); i++ {
		next = rule.Next(next)
	}
	if !next.After(now) {
		return fmt.Errorf("repeat reminder %s: no future occurrence", fired.ID)
	}

	r := model.Reminder{
		TaskID:     fired.TaskID,
		FireAt:     next.UTC(),
		Type:       fired.Type,
		RepeatRule: fired.RepeatRule,
	}
	r.ID = q.newID()
	r.Touch(q.device, now)
	if err := q.store.Reminders.Create(ctx, r); err != nil {
		return fmt.Errorf("create repeat of %s: %w", fired.ID, err)
	}
	if err := q.enqueue(ctx, r, now); err != nil {
		return err
	}
	q.logger.Debug("repeat reminder scheduled",
		zap.String("reminder_id", r.ID),
		zap.String("previous_id", fired.ID),
		zap.Time("fire_at", r.FireAt),
	)
	return nil
}

// Snooze pushes a reminder to until and re-arms its queue row.
func (q *Queue) Snooze(ctx context.Context, reminderID string, until time.Time) (model.Reminder, error) {
	now := q.now()
	if !until.After(now) {
		return model.Reminder{}, ErrSnoozeNotFuture
	}
	at := until.UTC()
	r, err := q.store.Reminders.Mutate(ctx, reminderID, q.device, now, func(r *model.Reminder) error {
		if r.IsDeleted() || r.Dismissed {
			return fmt.Errorf("%w: %s", ErrReminderClosed, reminderID)
		}
		r.SnoozedUntil = &at
		r.FireAt = at
		r.SnoozeCount++
		r.FiredAt = nil
		r.LastNotifiedAt = nil
		r.LastNotifiedDeviceID = ""
		return nil
	})
	if err != nil {
		return model.Reminder{}, err
	}
	if err := q.enqueue(ctx, r, now); err != nil {
		return r, err
	}
	q.requestSync()
	return r, nil
}

// Dismiss closes a reminder for good.
func (q *Queue) Dismiss(ctx context.Context, reminderID string) (model.Reminder, error) {
	r, err := q.store.Reminders.Mutate(ctx, reminderID, q.device, q.now(), func(r *model.Reminder) error {
		if r.IsDeleted() {
			return fmt.Errorf("%w: %s", ErrReminderClosed, reminderID)
		}
		r.Dismissed = true
		return nil
	})
	if err != nil {
		return model.Reminder{}, err
	}
	if err := q.store.Notifications.DeleteByReminder(ctx, reminderID); err != nil {
		return r, fmt.Errorf("dequeue reminder %s: %w", reminderID, err)
	}
	q.requestSync()
	return r, nil
}

// Reconcile brings the queue row of a reminder written by sync in line with
// it: pending reminders get a row at their fire time, others lose theirs.
func (q *Queue) Reconcile(ctx context.Context, r model.Reminder) error {
	if !r.Pending() {
		return q.store.Notifications.DeleteByReminder(ctx, r.ID)
	}
	existing, err := q.store.Notifications.GetByReminder(ctx, r.ID)
	if err == nil && existing.NextFireAt.Equal(r.FireAt) {
		return nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return q.enqueue(ctx, r, q.now())
}

// Pending lists queue rows in fire order.
func (q *Queue) Pending(ctx context.Context) ([]model.NextNotification, error) {
	return q.store.Notifications.List(ctx)
}

// NextFireAt reports the earliest queued fire time, or nil.
func (q *Queue) NextFireAt(ctx context.Context) (*time.Time, error) {
	return q.store.Notifications.NextFireAt(ctx)
}

func (q *Queue) enqueue(ctx context.Context, r model.Reminder, now time.Time) error {
	err := q.store.Notifications.Upsert(ctx, model.NextNotification{
		ID:         q.newID(),
		ReminderID: r.ID,
		NextFireAt: r.FireAt,
		CreatedAt:  now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue reminder %s: %w", r.ID, err)
	}
	return nil
}

func (q *Queue) requestSync() {
	if q.sync != nil {
		q.sync.Request()
	}
}
