package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/remote"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

var base = time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

type replica struct {
	device string
	store  *storage.SQLiteRepository
	engine *Engine
	clock  time.Time
}

func newReplica(t *testing.T, adapter remote.Adapter, device string, opts ...func(*Options)) *replica {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), device+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := &replica{device: device, store: store, clock: base}
	o := Options{Account: "acct", DeviceID: device, Now: func() time.Time { return r.clock }}
	for _, fn := range opts {
		fn(&o)
	}
	r.engine = NewEngine(store, adapter, o)
	return r
}

func (r *replica) createTask(t *testing.T, id, title string) {
	t.Helper()
	task := model.Task{Title: title}
	task.ID = id
	task.Touch(r.device, r.clock)
	require.NoError(t, r.store.Tasks.Create(context.Background(), task))
}

func (r *replica) renameTask(t *testing.T, id, title string) {
	t.Helper()
	_, err := r.store.Tasks.Mutate(context.Background(), id, r.device, r.clock, func(task *model.Task) error {
		task.Title = title
		return nil
	})
	require.NoError(t, err)
}

func (r *replica) task(t *testing.T, id string) model.Task {
	t.Helper()
	task, err := r.store.Tasks.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (r *replica) sync(t *testing.T) Result {
	t.Helper()
	res, err := r.engine.SyncAll(context.Background())
	require.NoError(t, err)
	return res
}

func TestSyncAllRequiresAccount(t *testing.T) {
	adapter := remote.NewMemory()
	r := newReplica(t, adapter, "dev-a", func(o *Options) { o.Account = "" })
	r.createTask(t, "t1", "Offline only")

	_, err := r.engine.SyncAll(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, pushed := adapter.Document(storage.TableTasks, "t1")
	assert.False(t, pushed, "nothing may be pushed without an account")
}

func TestSyncAllRemoteUnreachable(t *testing.T) {
	adapter := remote.NewMemory()
	adapter.SetReachable(false)
	r := newReplica(t, adapter, "dev-a")

	_, err := r.engine.SyncAll(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, remote.ErrUnavailable)

	settings, err := r.store.State.Settings(context.Background())
	require.NoError(t, err)
	assert.Nil(t, settings.LastSyncAt)
}

func TestSyncAllIsIdempotent(t *testing.T) {
	adapter := remote.NewMemory()
	r := newReplica(t, adapter, "dev-a")
	r.createTask(t, "t1", "Buy milk")
	require.NoError(t, r.store.Projects.Create(context.Background(), model.Project{
		SyncMeta: model.SyncMeta{ID: "p1", UpdatedAt: base, DeviceID: "dev-a", SyncVersion: 1},
		Name:     "Home",
	}))

	first := r.sync(t)
	assert.Equal(t, 2, first.Pushed)
	assert.Empty(t, first.Errors)

	second := r.sync(t)
	assert.Equal(t, Result{}, second)
}

func TestTwoReplicasConverge(t *testing.T) {
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	b := newReplica(t, adapter, "dev-b")

	a.createTask(t, "t1", "Draft agenda")
	a.sync(t)

	res := b.sync(t)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, "Draft agenda", b.task(t, "t1").Title)

	b.clock = base.Add(time.Minute)
	b.renameTask(t, "t1", "Final agenda")
	res = b.sync(t)
	assert.Equal(t, 1, res.Pushed)

	res = a.sync(t)
	assert.Equal(t, 1, res.Pulled)

	ta, tb := a.task(t, "t1"), b.task(t, "t1")
	assert.Equal(t, "Final agenda", ta.Title)
	assert.Equal(t, tb.SyncVersion, ta.SyncVersion)
	assert.Equal(t, tb.DeviceID, ta.DeviceID)

	assert.Equal(t, Result{}, a.sync(t))
	assert.Equal(t, Result{}, b.sync(t))
}

func TestEqualVersionConflictLastWriterWins(t *testing.T) {
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	b := newReplica(t, adapter, "dev-b")

	a.createTask(t, "t1", "Original")
	a.sync(t)
	b.sync(t)

	a.clock = base.Add(5 * time.Minute)
	a.renameTask(t, "t1", "From A")
	b.clock = base.Add(10 * time.Minute)
	b.renameTask(t, "t1", "From B")

	a.sync(t)
	before := b.task(t, "t1").SyncVersion

	res := b.sync(t)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 0, res.Pushed)

	settled := b.task(t, "t1")
	assert.Equal(t, "From B", settled.Title, "the later update wins")
	assert.Equal(t, before+1, settled.SyncVersion)

	res = b.sync(t)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 0, res.Conflicts)

	res = a.sync(t)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, "From B", a.task(t, "t1").Title)
	assert.Equal(t, settled.SyncVersion, a.task(t, "t1").SyncVersion)

	assert.Equal(t, Result{}, a.sync(t))
	assert.Equal(t, Result{}, b.sync(t))
}

func TestConflictRemoteWinsWhenNewer(t *testing.T) {
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	b := newReplica(t, adapter, "dev-b")

	a.createTask(t, "t1", "Original")
	a.sync(t)
	b.sync(t)

	b.clock = base.Add(time.Minute)
	b.renameTask(t, "t1", "Older edit on B")
	a.clock = base.Add(2 * time.Minute)
	a.renameTask(t, "t1", "Newer edit on A")
	a.sync(t)

	res := b.sync(t)
	assert.Equal(t, 1, res.Conflicts)
	got := b.task(t, "t1")
	assert.Equal(t, "Newer edit on A", got.Title)
	assert.Equal(t, "dev-a", got.DeviceID)
	assert.Equal(t, int64(3), got.SyncVersion)
}

func TestVersionsNeverDecrease(t *testing.T) {
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	b := newReplica(t, adapter, "dev-b")

	a.createTask(t, "t1", "v1")
	a.sync(t)
	b.sync(t)
	for i := 0; i < 3; i++ {
		a.clock = a.clock.Add(time.Minute)
		a.renameTask(t, "t1", "a edit")
		a.renameTask(t, "t1", "a edit again")
	}
	a.sync(t)

	last := b.task(t, "t1").SyncVersion
	b.sync(t)
	got := b.task(t, "t1").SyncVersion
	assert.GreaterOrEqual(t, got, last)

	doc, ok := adapter.Document(storage.TableTasks, "t1")
	require.True(t, ok)
	remoteRow, err := decodeDocument[model.Task]("t1", doc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, remoteRow.SyncVersion)
}

func TestTombstonesPropagate(t *testing.T) {
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	b := newReplica(t, adapter, "dev-b")

	a.createTask(t, "t1", "Doomed")
	a.sync(t)
	b.sync(t)

	a.clock = base.Add(time.Minute)
	_, err := a.store.Tasks.SoftDelete(context.Background(), "t1", "dev-a", a.clock)
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	got := b.task(t, "t1")
	require.NotNil(t, got.DeletedAt)

	c := newReplica(t, adapter, "dev-c")
	res := c.sync(t)
	assert.Equal(t, 1, res.Pulled)
	assert.NotNil(t, c.task(t, "t1").DeletedAt, "a fresh device receives the tombstone")
}

func TestUndecodableDocumentsAreSkipped(t *testing.T) {
	ctx := context.Background()
	adapter := remote.NewMemory()
	require.NoError(t, adapter.SetDocument(ctx, storage.TableTasks, "bad-json", []byte(`{not json`)))
	require.NoError(t, adapter.SetDocument(ctx, storage.TableTasks, "mismatch", []byte(`{"id":"other","title":"x"}`)))
	require.NoError(t, adapter.SetDocument(ctx, storage.TableTasks, "no-title", []byte(`{"id":"no-title"}`)))
	require.NoError(t, adapter.SetDocument(ctx, storage.TableTasks, "keyed", []byte(`{"title":"Id from key"}`)))

	r := newReplica(t, adapter, "dev-a")
	res := r.sync(t)
	assert.Equal(t, 1, res.Pulled)
	require.Len(t, res.Errors, 3)
	for _, err := range res.Errors {
		var entityErr *EntityError
		require.ErrorAs(t, err, &entityErr)
		assert.Equal(t, OpDecode, entityErr.Op)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	}

	got := r.task(t, "keyed")
	assert.Equal(t, "Id from key", got.Title)
	assert.Equal(t, int64(0), got.SyncVersion)
	assert.Equal(t, "", got.DeviceID)
}

func TestPushFailureIsPerEntity(t *testing.T) {
	adapter := remote.NewMemory()
	boom := errors.New("write rejected")
	adapter.SetHook = func(collection, id string) error {
		if id == "t-bad" {
			return boom
		}
		return nil
	}
	r := newReplica(t, adapter, "dev-a")
	r.createTask(t, "t-bad", "Will fail")
	r.createTask(t, "t-good", "Will push")

	res := r.sync(t)
	assert.Equal(t, 1, res.Pushed)
	require.Len(t, res.Errors, 1)
	var entityErr *EntityError
	require.ErrorAs(t, res.Errors[0], &entityErr)
	assert.Equal(t, "t-bad", entityErr.ID)
	assert.Equal(t, OpPush, entityErr.Op)
	assert.ErrorIs(t, res.Errors[0], boom)

	adapter.SetHook = nil
	res = r.sync(t)
	assert.Equal(t, 1, res.Pushed, "the failed row is retried on the next pass")
}

func TestPhaseFailureAbortsRemainingCollections(t *testing.T) {
	ctx := context.Background()
	adapter := remote.NewMemory()
	adapter.GetHook = func(collection string) error {
		if collection == storage.TableTasks {
			return errors.New("listing failed")
		}
		return nil
	}
	r := newReplica(t, adapter, "dev-a")
	require.NoError(t, r.store.Projects.Create(ctx, model.Project{
		SyncMeta: model.SyncMeta{ID: "p1", UpdatedAt: base, DeviceID: "dev-a", SyncVersion: 1},
		Name:     "Home",
	}))
	require.NoError(t, r.store.Reminders.Create(ctx, model.Reminder{
		SyncMeta: model.SyncMeta{ID: "r1", UpdatedAt: base, DeviceID: "dev-a", SyncVersion: 1},
		TaskID:   "t1",
		FireAt:   base,
		Type:     model.ReminderTypeDue,
	}))

	res := r.sync(t)
	assert.Equal(t, 1, res.Pushed, "collections before the failure keep their work")
	require.Len(t, res.Errors, 1)
	var phaseErr *PhaseError
	require.ErrorAs(t, res.Errors[0], &phaseErr)
	assert.Equal(t, storage.TableTasks, phaseErr.Collection)

	_, ok := adapter.Document(storage.TableReminders, "r1")
	assert.False(t, ok, "collections after the failure are skipped")

	settings, err := r.store.State.Settings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings.LastSyncAt)
}

func TestSyncAllRejectsConcurrentCall(t *testing.T) {
	adapter := remote.NewMemory()
	entered := make(chan struct{})
	release := make(chan struct{})
	adapter.GetHook = func(collection string) error {
		if collection == storage.TableProjects {
			close(entered)
			<-release
		}
		return nil
	}
	r := newReplica(t, adapter, "dev-a")

	done := make(chan error, 1)
	go func() {
		_, err := r.engine.SyncAll(context.Background())
		done <- err
	}()
	<-entered

	_, err := r.engine.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = r.engine.ForcePush(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	status, err := r.engine.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.InProgress)

	adapter.GetHook = nil
	close(release)
	require.NoError(t, <-done)
}

func TestStatusPendingChanges(t *testing.T) {
	adapter := remote.NewMemory()
	r := newReplica(t, adapter, "dev-a")
	r.createTask(t, "t1", "One")
	r.createTask(t, "t2", "Two")

	status, err := r.engine.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Nil(t, status.LastSyncAt)
	assert.Equal(t, 2, status.PendingChanges)

	r.clock = base.Add(time.Minute)
	r.sync(t)
	status, err = r.engine.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncAt)
	assert.True(t, status.LastSyncAt.Equal(r.clock))
	assert.Equal(t, 0, status.PendingChanges)

	r.clock = base.Add(2 * time.Minute)
	r.renameTask(t, "t1", "One changed")
	status, err = r.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingChanges)
}

func TestStatusIgnoresPulledRowsFromFastPeer(t *testing.T) {
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	b := newReplica(t, adapter, "dev-b")

	b.clock = base.Add(24 * time.Hour)
	b.createTask(t, "t1", "Written ahead")
	b.sync(t)

	a.clock = base.Add(time.Minute)
	res := a.sync(t)
	assert.Equal(t, 1, res.Pulled)

	status, err := a.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingChanges)

	a.clock = base.Add(2 * time.Minute)
	a.renameTask(t, "t1", "Edited here")
	status, err = a.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingChanges)
}

func TestForcePushAndForcePull(t *testing.T) {
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	a.createTask(t, "t1", "Shared")
	a.createTask(t, "t2", "Also shared")
	a.sync(t)

	res, err := a.engine.ForcePush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)

	a.clock = base.Add(time.Minute)
	a.renameTask(t, "t1", "Local only edit")

	res, err = a.engine.ForcePull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pulled)
	got := a.task(t, "t1")
	assert.Equal(t, "Shared", got.Title, "remote copy replaces the local edit")
	assert.Equal(t, int64(2), got.SyncVersion)
}

func TestReminderAppliedHook(t *testing.T) {
	ctx := context.Background()
	adapter := remote.NewMemory()
	a := newReplica(t, adapter, "dev-a")
	var applied []string
	b := newReplica(t, adapter, "dev-b", func(o *Options) {
		o.ReminderApplied = func(_ context.Context, r model.Reminder) error {
			applied = append(applied, r.ID)
			return nil
		}
	})

	a.createTask(t, "t1", "Call mom")
	require.NoError(t, a.store.Reminders.Create(ctx, model.Reminder{
		SyncMeta: model.SyncMeta{ID: "r1", UpdatedAt: base, DeviceID: "dev-a", SyncVersion: 1},
		TaskID:   "t1",
		FireAt:   base.Add(time.Hour),
		Type:     model.ReminderTypeDue,
	}))
	a.sync(t)
	b.sync(t)

	assert.Equal(t, []string{"r1"}, applied)
}
