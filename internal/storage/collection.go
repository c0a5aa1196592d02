package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

const maxMutateAttempts = 3

const collectionColumns = `id, parent_id, device_id, sync_version, updated_at, deleted_at, body`

type entityPtr[T any] interface {
	*T
	model.Versioned
}

// Collection stores one versioned entity type. The sync metadata lives in
// dedicated columns and is authoritative over the copy inside body.
type Collection[T any, P entityPtr[T]] struct {
	db     *sql.DB
	table  string
	parent func(P) string
}

func NewCollection[T any, P entityPtr[T]](db *sql.DB, table string, parent func(P) string) *Collection[T, P] {
	return &Collection[T, P]{db: db, table: table, parent: parent}
}

func (c *Collection[T, P]) Name() string { return c.table }

func (c *Collection[T, P]) List(ctx context.Context, filter ListFilter) ([]T, error) {
	query := `SELECT ` + collectionColumns + ` FROM ` + c.table
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.ParentID != "" {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, filter.ParentID)
	}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY updated_at ASC, id ASC`
	query += applyPagination(&args, filter.Limit, filter.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		row, scanErr := c.scan(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *Collection[T, P]) Get(ctx context.Context, id string) (T, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM `+c.table+` WHERE id = ?`, id)
	out, err := c.scan(row)
	if err != nil {
		var zero T
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("%w: %s/%s", ErrNotFound, c.table, id)
		}
		return zero, err
	}
	return out, nil
}

func (c *Collection[T, P]) Create(ctx context.Context, row T) error {
	p := P(&row)
	if err := p.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", c.table, err)
	}
	meta := p.Meta()
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO `+c.table+` (`+collectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		meta.ID, c.parentOf(p), meta.DeviceID, meta.SyncVersion,
		mustTime(meta.UpdatedAt), nullTime(meta.DeletedAt), string(body),
	)
	if err != nil {
		return err
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, c.table, meta.ID)
	}
	return nil
}

func (c *Collection[T, P]) Overwrite(ctx context.Context, row T, expectedVersion int64) error {
	p := P(&row)
	if err := p.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", c.table, err)
	}
	meta := p.Meta()
	res, err := c.db.ExecContext(ctx, `
		UPDATE `+c.table+`
		SET parent_id = ?, device_id = ?, sync_version = ?, updated_at = ?, deleted_at = ?, body = ?
		WHERE id = ? AND sync_version = ?`,
		c.parentOf(p), meta.DeviceID, meta.SyncVersion, mustTime(meta.UpdatedAt),
		nullTime(meta.DeletedAt), string(body), meta.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := c.Get(ctx, meta.ID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s/%s expected version %d", ErrVersionConflict, c.table, meta.ID, expectedVersion)
}

func (c *Collection[T, P]) Mutate(ctx context.Context, id, device string, now time.Time, fn func(*T) error) (T, error) {
	var zero T
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		row, err := c.Get(ctx, id)
		if err != nil {
			return zero, err
		}
		meta := P(&row).Meta()
		expected := meta.SyncVersion
		if err := fn(&row); err != nil {
			return zero, err
		}
		meta.ID = id
		meta.SyncVersion = expected
		meta.Touch(device, now)
		err = c.Overwrite(ctx, row, expected)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return zero, err
		}
		return row, nil
	}
	return zero, fmt.Errorf("%w: %s/%s after %d attempts", ErrVersionConflict, c.table, id, maxMutateAttempts)
}

// SoftDelete tombstones the row. Deleting a tombstone is a no-op.
func (c *Collection[T, P]) SoftDelete(ctx context.Context, id, device string, now time.Time) (T, error) {
	row, err := c.Get(ctx, id)
	if err != nil {
		return row, err
	}
	if P(&row).Meta().IsDeleted() {
		return row, nil
	}
	return c.Mutate(ctx, id, device, now, func(t *T) error {
		deletedAt := now.UTC()
		P(t).Meta().DeletedAt = &deletedAt
		return nil
	})
}

func (c *Collection[T, P]) BumpAll(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `UPDATE `+c.table+` SET sync_version = sync_version + 1`)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func (c *Collection[T, P]) ResetVersions(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `UPDATE `+c.table+` SET sync_version = 0`)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func (c *Collection[T, P]) CountChangedSince(ctx context.Context, device string, since *time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ` + c.table + ` WHERE 1 = 1`
	args := make([]any, 0, 2)
	if device != "" {
		query += ` AND device_id = ?`
		args = append(args, device)
	}
	if since != nil {
		query += ` AND updated_at > ?`
		args = append(args, mustTime(*since))
	}
	var n int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Collection[T, P]) parentOf(p P) string {
	if c.parent == nil {
		return ""
	}
	return c.parent(p)
}

func (c *Collection[T, P]) scan(s scanner) (T, error) {
	var out T
	var id, parent, device, updated, body string
	var version int64
	var deleted sql.NullString
	if err := s.Scan(&id, &parent, &device, &version, &updated, &deleted, &body); err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(body), P(&out)); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", c.table, id, err)
	}
	updatedAt, err := parseRequiredTime(updated)
	if err != nil {
		return out, err
	}
	deletedAt, err := parseNullableTime(deleted)
	if err != nil {
		return out, err
	}
	meta := P(&out).Meta()
	meta.ID = id
	meta.DeviceID = device
	meta.SyncVersion = version
	meta.UpdatedAt = updatedAt
	meta.DeletedAt = deletedAt
	return out, nil
}
