package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/tasksync/internal/app"
	"github.com/sandeepkv93/tasksync/internal/commands"
	"github.com/sandeepkv93/tasksync/internal/reminder"
	"github.com/sandeepkv93/tasksync/internal/storage"
	tsync "github.com/sandeepkv93/tasksync/internal/sync"
	"github.com/sandeepkv93/tasksync/internal/views"
)

// AppBackend serves the watch screen from a running App.
type AppBackend struct {
	App *app.App
}

func (b AppBackend) Snapshot(ctx context.Context) (Snapshot, error) {
	st, err := b.App.Sync.Status(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	rows, err := b.App.Queue.Pending(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	items := make([]views.QueueItemData, 0, len(rows))
	for _, row := range rows {
		item := views.QueueItemData{
			ReminderID:  row.ReminderID,
			FireAt:      row.NextFireAt,
			LockedBy:    row.LockedByDevice,
			LockedUntil: row.LockedUntil,
		}
		r, err := b.App.Store.Reminders.Get(ctx, row.ReminderID)
		switch {
		case err == nil:
			item.Kind = string(r.Type)
			if task, err := b.App.Store.Tasks.Get(ctx, r.TaskID); err == nil {
				item.TaskTitle = task.Title
			} else if !errors.Is(err, storage.ErrNotFound) {
				return Snapshot{}, err
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			return Snapshot{}, err
		}
		items = append(items, item)
	}
	return Snapshot{
		Now: b.App.Now(),
		Status: views.StatusPanelData{
			Enabled:        st.Enabled,
			Account:        st.Account,
			DeviceID:       st.DeviceID,
			LastSyncAt:     st.LastSyncAt,
			PendingChanges: st.PendingChanges,
			InProgress:     st.InProgress,
		},
		Queue: items,
	}, nil
}

func (b AppBackend) Handlers(ctx context.Context) commands.Handlers {
	a := b.App
	syncWith := func(run func(context.Context) (tsync.Result, error)) func() (commands.Result, error) {
		return func() (commands.Result, error) {
			res, err := run(ctx)
			if err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: views.RenderSyncResult(SyncResultData(res))}, nil
		}
	}
	return commands.Handlers{
		Sync: syncWith(a.Sync.SyncAll),
		Push: syncWith(a.Sync.ForcePush),
		Pull: syncWith(a.Sync.ForcePull),
		Status: func() (commands.Result, error) {
			st, err := a.Sync.Status(ctx)
			if err != nil {
				return commands.Result{}, err
			}
			if !st.Enabled {
				return commands.Result{Message: "sync disabled"}, nil
			}
			return commands.Result{Message: fmt.Sprintf("%d change(s) pending", st.PendingChanges)}, nil
		},
		Add: func(args commands.AddArgs) (commands.Result, error) {
			task, err := a.Scheduler.CreateTask(ctx, reminder.NewTask{
				Title:    args.Title,
				DueDate:  resolveWhen(a.Now(), args.DueIn, args.DueAt),
				Advances: args.Advances,
			})
			if err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: fmt.Sprintf("added %s (%s)", task.Title, task.ID)}, nil
		},
		Complete: func(args commands.TargetArgs) (commands.Result, error) {
			task, err := a.Scheduler.CompleteTask(ctx, args.Target)
			if err != nil {
				return commands.Result{}, err
			}
			if !task.IsCompleted() && task.DueDate != nil {
				return commands.Result{Message: fmt.Sprintf("%s rolled forward to %s", task.Title, task.DueDate.Local().Format(time.DateTime))}, nil
			}
			return commands.Result{Message: fmt.Sprintf("completed %s", task.Title)}, nil
		},
		Reschedule: func(args commands.RescheduleArgs) (commands.Result, error) {
			var due *time.Time
			if !args.Clear {
				due = resolveWhen(a.Now(), args.In, args.At)
			}
			task, err := a.Scheduler.Reschedule(ctx, args.Target, due, nil)
			if err != nil {
				return commands.Result{}, err
			}
			if task.DueDate == nil {
				return commands.Result{Message: fmt.Sprintf("cleared due date of %s", task.Title)}, nil
			}
			return commands.Result{Message: fmt.Sprintf("%s due %s", task.Title, task.DueDate.Local().Format(time.DateTime))}, nil
		},
		Snooze: func(args commands.SnoozeArgs) (commands.Result, error) {
			r, err := a.Queue.Snooze(ctx, args.Target, a.Now().Add(args.For))
			if err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: fmt.Sprintf("snoozed until %s", r.SnoozedUntil.Local().Format(time.DateTime))}, nil
		},
		Dismiss: func(args commands.TargetArgs) (commands.Result, error) {
			if _, err := a.Queue.Dismiss(ctx, args.Target); err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: fmt.Sprintf("dismissed %s", args.Target)}, nil
		},
	}
}

// SyncResultData flattens a sync result for rendering.
func SyncResultData(res tsync.Result) views.SyncResultData {
	out := views.SyncResultData{Pushed: res.Pushed, Pulled: res.Pulled, Conflicts: res.Conflicts}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

func resolveWhen(now time.Time, in time.Duration, at *time.Time) *time.Time {
	if at != nil {
		t := at.UTC()
		return &t
	}
	if in == 0 {
		return nil
	}
	t := now.Add(in).UTC()
	return &t
}
