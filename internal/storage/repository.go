package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

var (
	ErrNotFound        = errors.New("storage: not found")
	ErrAlreadyExists   = errors.New("storage: already exists")
	ErrVersionConflict = errors.New("storage: version conflict")
	ErrNotClaimed      = errors.New("storage: notification not claimed")
)

// Repository is the per-collection contract of the local store.
type Repository[T any] interface {
	Name() string
	List(ctx context.Context, filter ListFilter) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, row T) error
	// Mutate applies fn to the stored row and writes it back with
	// sync_version incremented by one.
	Mutate(ctx context.Context, id, device string, now time.Time, fn func(*T) error) (T, error)
	// Overwrite replaces the row only if its stored sync_version still
	// equals expectedVersion.
	Overwrite(ctx context.Context, row T, expectedVersion int64) error
	SoftDelete(ctx context.Context, id, device string, now time.Time) (T, error)
	BumpAll(ctx context.Context) (int64, error)
	ResetVersions(ctx context.Context) (int64, error)
	CountChangedSince(ctx context.Context, device string, since *time.Time) (int, error)
}

var (
	_ Repository[model.Task]     = (*Collection[model.Task, *model.Task])(nil)
	_ Repository[model.Reminder] = (*Collection[model.Reminder, *model.Reminder])(nil)
)
