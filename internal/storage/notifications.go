package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

const notificationColumns = `id, reminder_id, next_fire_at, locked_until, locked_by_device, lock_token, last_processed_at, process_count, created_at`

// NotificationStore holds the delivery queue: at most one row per reminder.
type NotificationStore struct {
	db *sql.DB
}

// Upsert creates the reminder's queue row or moves the existing one to
// n.NextFireAt in place. An update keeps id, created_at and process_count,
// clears any lock and advances lock_token so a delivery still holding the
// old token can neither complete nor release the re-armed row.
func (s *NotificationStore) Upsert(ctx context.Context, n model.NextNotification) error {
	if n.ID == "" || n.ReminderID == "" {
		return errors.New("storage: notification id and reminder id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO next_notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, NULL, '', 0, NULL, 0, ?)
		ON CONFLICT(reminder_id) DO UPDATE SET
			next_fire_at = excluded.next_fire_at,
			locked_until = NULL,
			locked_by_device = '',
			lock_token = lock_token + 1`,
		n.ID, n.ReminderID, mustTime(n.NextFireAt), mustTime(n.CreatedAt),
	)
	return err
}

func (s *NotificationStore) GetByReminder(ctx context.Context, reminderID string) (model.NextNotification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM next_notifications WHERE reminder_id = ?`, reminderID)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NextNotification{}, fmt.Errorf("%w: notification for reminder %s", ErrNotFound, reminderID)
		}
		return model.NextNotification{}, err
	}
	return n, nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (model.NextNotification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM next_notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NextNotification{}, fmt.Errorf("%w: notification %s", ErrNotFound, id)
		}
		return model.NextNotification{}, err
	}
	return n, nil
}

// Due lists rows whose fire time has passed and whose lock is absent or
// expired, oldest first.
func (s *NotificationStore) Due(ctx context.Context, now time.Time, limit int) ([]model.NextNotification, error) {
	ts := mustTime(now)
	args := []any{ts, ts}
	query := `SELECT ` + notificationColumns + ` FROM next_notifications
		WHERE next_fire_at <= ? AND (locked_until IS NULL OR locked_until <= ?)
		ORDER BY next_fire_at ASC, id ASC`
	query += applyPagination(&args, limit, 0)
	return s.query(ctx, query, args...)
}

func (s *NotificationStore) List(ctx context.Context) ([]model.NextNotification, error) {
	return s.query(ctx, `SELECT `+notificationColumns+` FROM next_notifications ORDER BY next_fire_at ASC, id ASC`)
}

// NextFireAt returns the earliest scheduled fire time, or nil when the queue
// is empty.
func (s *NotificationStore) NextFireAt(ctx context.Context) (*time.Time, error) {
	var v sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(next_fire_at) FROM next_notifications`).Scan(&v); err != nil {
		return nil, err
	}
	return parseNullableTime(v)
}

// Claim takes the row's lock with a single conditional write. It returns
// ErrNotClaimed when the row is locked by someone else, not yet due or gone.
// On success the returned row carries the new fencing token.
func (s *NotificationStore) Claim(ctx context.Context, id, device string, now time.Time, lockFor time.Duration) (model.NextNotification, error) {
	ts := mustTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE next_notifications
		SET locked_until = ?, locked_by_device = ?, lock_token = lock_token + 1,
			process_count = process_count + 1, last_processed_at = ?
		WHERE id = ? AND next_fire_at <= ? AND (locked_until IS NULL OR locked_until <= ?)`,
		mustTime(now.Add(lockFor)), device, ts, id, ts, ts,
	)
	if err != nil {
		return model.NextNotification{}, err
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return model.NextNotification{}, err
	}
	if affected == 0 {
		return model.NextNotification{}, fmt.Errorf("%w: %s", ErrNotClaimed, id)
	}
	return s.Get(ctx, id)
}

// Release drops a lock held under token so the row can be retried.
func (s *NotificationStore) Release(ctx context.Context, id string, token int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE next_notifications SET locked_until = NULL, locked_by_device = ''
		WHERE id = ? AND lock_token = ?`, id, token)
	if err != nil {
		return err
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s token %d", ErrNotClaimed, id, token)
	}
	return nil
}

// Complete removes a row the caller still holds under token.
func (s *NotificationStore) Complete(ctx context.Context, id string, token int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM next_notifications WHERE id = ? AND lock_token = ?`, id, token)
	if err != nil {
		return err
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s token %d", ErrNotClaimed, id, token)
	}
	return nil
}

// DeleteByReminder removes the reminder's row if any. Missing rows are fine.
func (s *NotificationStore) DeleteByReminder(ctx context.Context, reminderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM next_notifications WHERE reminder_id = ?`, reminderID)
	return err
}

func (s *NotificationStore) query(ctx context.Context, query string, args ...any) ([]model.NextNotification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.NextNotification, 0)
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(s scanner) (model.NextNotification, error) {
	var out model.NextNotification
	var next, created string
	var locked, processed sql.NullString
	if err := s.Scan(&out.ID, &out.ReminderID, &next, &locked, &out.LockedByDevice, &out.LockToken, &processed, &out.ProcessCount, &created); err != nil {
		return model.NextNotification{}, err
	}
	nextAt, err := parseRequiredTime(next)
	if err != nil {
		return model.NextNotification{}, err
	}
	lockedUntil, err := parseNullableTime(locked)
	if err != nil {
		return model.NextNotification{}, err
	}
	processedAt, err := parseNullableTime(processed)
	if err != nil {
		return model.NextNotification{}, err
	}
	createdAt, err := parseRequiredTime(created)
	if err != nil {
		return model.NextNotification{}, err
	}
	out.NextFireAt = nextAt
	out.LockedUntil = lockedUntil
	out.LastProcessedAt = processedAt
	out.CreatedAt = createdAt
	return out, nil
}
