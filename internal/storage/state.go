package storage

import (
	"context"
	"database/sql"
	"time"
)

// StateStore persists the Settings and SyncCursor singletons.
type StateStore struct {
	db *sql.DB
}

func (s *StateStore) Settings(ctx context.Context) (Settings, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_sync_at FROM settings WHERE id = 1`).Scan(&v)
	if err != nil {
		return Settings{}, err
	}
	last, err := parseNullableTime(v)
	if err != nil {
		return Settings{}, err
	}
	return Settings{LastSyncAt: last}, nil
}

func (s *StateStore) SetLastSyncAt(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, last_sync_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync_at = excluded.last_sync_at`, mustTime(at))
	return err
}

func (s *StateStore) Cursor(ctx context.Context) (SyncCursor, error) {
	var pulled, pushed sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_pulled_at, last_pushed_at FROM sync_cursor WHERE id = 1`).Scan(&pulled, &pushed)
	if err != nil {
		return SyncCursor{}, err
	}
	pulledAt, err := parseNullableTime(pulled)
	if err != nil {
		return SyncCursor{}, err
	}
	pushedAt, err := parseNullableTime(pushed)
	if err != nil {
		return SyncCursor{}, err
	}
	return SyncCursor{LastPulledAt: pulledAt, LastPushedAt: pushedAt}, nil
}

func (s *StateStore) SetCursor(ctx context.Context, c SyncCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursor (id, last_pulled_at, last_pushed_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_pulled_at = excluded.last_pulled_at,
			last_pushed_at = excluded.last_pushed_at`,
		nullTime(c.LastPulledAt), nullTime(c.LastPushedAt))
	return err
}
