// Package sync reconciles the device-local store with the shared remote
// document store. Every synchronized row carries a sync_version; the higher
// version wins, and equal versions from different devices are settled by
// last-writer-wins on updatedAt.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/metrics"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/remote"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

type Result struct {
	Pushed    int
	Pulled    int
	Conflicts int
	Errors    []error
}

func (r *Result) addEntityError(collection, id, op string, err error) {
	r.Errors = append(r.Errors, &EntityError{Collection: collection, ID: id, Op: op, Err: err})
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

type Status struct {
	Enabled        bool
	Account        string
	DeviceID       string
	LastSyncAt     *time.Time
	PendingChanges int
	InProgress     bool
}

type Options struct {
	Account  string
	DeviceID string
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	// ReminderApplied runs for every reminder written locally by a pull or
	// merge, so the delivery queue can follow remote state.
	ReminderApplied func(ctx context.Context, r model.Reminder) error
}

type Engine struct {
	store       *storage.SQLiteRepository
	remote      remote.Adapter
	account     string
	device      string
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	collections []collectionSyncer

	running atomic.Bool
}

func NewEngine(store *storage.SQLiteRepository, adapter remote.Adapter, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:   store,
		remote:  adapter,
		account: strings.TrimSpace(opts.Account),
		device:  opts.DeviceID,
		logger:  logger.Named("sync"),
		metrics: opts.Metrics,
		now:     now,
		collections: []collectionSyncer{
			&collection[model.Project, *model.Project]{repo: store.Projects},
			&collection[model.Tag, *model.Tag]{repo: store.Tags},
			&collection[model.Contact, *model.Contact]{repo: store.Contacts},
			&collection[model.Location, *model.Location]{repo: store.Locations},
			&collection[model.Task, *model.Task]{repo: store.Tasks},
			&collection[model.Reminder, *model.Reminder]{repo: store.Reminders, applied: opts.ReminderApplied},
		},
	}
}

// SyncAll runs one full pass over every collection in dependency order. It
// returns ErrSyncInProgress when another pass is running and a
// *ConfigurationError when sync cannot start; all other failures are
// reported in Result.Errors.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.running.Store(false)
	return e.syncAll(ctx)
}

// ForcePush raises every local row one version above its current value and
// syncs, so local data overwrites the remote copy.
func (e *Engine) ForcePush(ctx context.Context) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.running.Store(false)
	if err := e.preflight(ctx); err != nil {
		return Result{}, err
	}
	for _, c := range e.collections {
		if err := c.bumpAll(ctx); err != nil {
			return Result{}, fmt.Errorf("bump %s: %w", c.name(), err)
		}
	}
	return e.syncAll(ctx)
}

// ForcePull resets every local row to version 0 and syncs, so remote data
// overwrites the local copy.
func (e *Engine) ForcePull(ctx context.Context) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.running.Store(false)
	if err := e.preflight(ctx); err != nil {
		return Result{}, err
	}
	for _, c := range e.collections {
		if err := c.resetVersions(ctx); err != nil {
			return Result{}, fmt.Errorf("reset %s: %w", c.name(), err)
		}
	}
	return e.syncAll(ctx)
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	settings, err := e.store.State.Settings(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read settings: %w", err)
	}
	cursor, err := e.store.State.Cursor(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read sync cursor: %w", err)
	}
	// Pulled rows keep the peer's device id and clock, so only this device's
	// own writes are compared against the local cursor.
	pending, err := e.store.CountChangedSince(ctx, e.device, cursor.LastPushedAt)
	if err != nil {
		return Status{}, fmt.Errorf("count pending changes: %w", err)
	}
	return Status{
		Enabled:        e.account != "" && e.remote != nil,
		Account:        e.account,
		DeviceID:       e.device,
		LastSyncAt:     settings.LastSyncAt,
		PendingChanges: pending,
		InProgress:     e.running.Load(),
	}, nil
}

func (e *Engine) preflight(ctx context.Context) error {
	if e.account == "" {
		return &ConfigurationError{Reason: "not authenticated", Err: ErrNotAuthenticated}
	}
	if e.remote == nil {
		return &ConfigurationError{Reason: "no remote store configured"}
	}
	if err := e.remote.Ping(ctx); err != nil {
		return &ConfigurationError{Reason: "remote unreachable", Err: err}
	}
	return nil
}

func (e *Engine) syncAll(ctx context.Context) (Result, error) {
	if err := e.preflight(ctx); err != nil {
		e.metrics.RecordSync("config_error", 0, 0, 0, 0)
		return Result{}, err
	}

	started := e.now().UTC()
	var res Result
	for _, c := range e.collections {
		if err := c.sync(ctx, e.remote, &res, e.logger); err != nil {
			phaseErr := &PhaseError{Collection: c.name(), Err: err}
			e.logger.Error("sync phase failed, skipping remaining collections",
				zap.String("collection", c.name()),
				zap.Error(err),
			)
			res.Errors = append(res.Errors, phaseErr)
			e.record(res)
			return res, nil
		}
	}

	if err := e.store.State.SetLastSyncAt(ctx, started); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("record last sync: %w", err))
	}
	if err := e.store.State.SetCursor(ctx, storage.SyncCursor{LastPulledAt: &started, LastPushedAt: &started}); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("record sync cursor: %w", err))
	}

	for _, err := range res.Errors {
		var entityErr *EntityError
		if errors.As(err, &entityErr) {
			e.logger.Warn("entity sync failed",
				zap.String("collection", entityErr.Collection),
				zap.String("id", entityErr.ID),
				zap.String("op", entityErr.Op),
				zap.Error(entityErr.Err),
			)
		}
	}
	e.logger.Info("sync complete",
		zap.Int("pushed", res.Pushed),
		zap.Int("pulled", res.Pulled),
		zap.Int("conflicts", res.Conflicts),
		zap.Int("errors", len(res.Errors)),
	)
	e.record(res)
	return res, nil
}

func (e *Engine) record(res Result) {
	result := "ok"
	if !res.OK() {
		result = "partial"
	}
	e.metrics.RecordSync(result, res.Pushed, res.Pulled, res.Conflicts, len(res.Errors))
}

// remoteWins settles an equal-version conflict: the later updatedAt wins, and
// the larger device id breaks an exact tie so both sides pick the same row.
func remoteWins(localAt time.Time, localDevice string, remoteAt time.Time, remoteDevice string) bool {
	if !remoteAt.Equal(localAt) {
		return remoteAt.After(localAt)
	}
	return remoteDevice > localDevice
}
