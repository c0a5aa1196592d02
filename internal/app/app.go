// Package app wires the device identity, local store, remote adapter, sync
// engine, reminder scheduler and delivery queue into one service with an
// explicit lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/tasksync/internal/config"
	"github.com/sandeepkv93/tasksync/internal/device"
	"github.com/sandeepkv93/tasksync/internal/metrics"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/notify"
	"github.com/sandeepkv93/tasksync/internal/queue"
	"github.com/sandeepkv93/tasksync/internal/reminder"
	"github.com/sandeepkv93/tasksync/internal/remote"
	"github.com/sandeepkv93/tasksync/internal/scheduler"
	"github.com/sandeepkv93/tasksync/internal/storage"
	tsync "github.com/sandeepkv93/tasksync/internal/sync"
)

const (
	watchDebounce   = 250 * time.Millisecond
	shutdownTimeout = 5 * time.Second
	wakeBuffer      = 64
)

// Overrides replace pieces New would otherwise build from the config.
type Overrides struct {
	Remote   remote.Adapter
	Fence    remote.Fence
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Now      func() time.Time
	NewID    func() string
}

type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	now      func() time.Time

	DeviceID  string
	Metrics   *metrics.Metrics
	Store     *storage.SQLiteRepository
	Remote    remote.Adapter
	Sync      *tsync.Engine
	Trigger   *tsync.Trigger
	Scheduler *reminder.Scheduler
	Queue     *queue.Queue

	fence   remote.Fence
	dir     *remote.FileDir
	nc      *nats.Conn
	wakes   *scheduler.Engine
	refresh chan struct{}
}

func New(ctx context.Context, cfg config.Config, o Overrides) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   o.Logger,
		registry: o.Registry,
		now:      o.Now,
		refresh:  make(chan struct{}, 1),
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.Metrics = metrics.New(a.registry)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	id, err := device.NewIdentity(cfg.DeviceFile).ID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve device identity: %w", err)
	}
	a.DeviceID = id

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	store, err := storage.OpenSQLite(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	a.Store = store

	a.Remote, a.fence = o.Remote, o.Fence
	if a.Remote == nil {
		if err := a.openRemote(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.Sync = tsync.NewEngine(store, a.Remote, tsync.Options{
		Account:  cfg.Account,
		DeviceID: id,
		Logger:   a.logger,
		Metrics:  a.Metrics,
		Now:      a.now,
		ReminderApplied: func(ctx context.Context, r model.Reminder) error {
			return a.Queue.Reconcile(ctx, r)
		},
	})
	a.Trigger = tsync.NewTrigger(a.Sync, cfg.Sync.MinGap, a.logger)
	a.Trigger.OnResult = func(tsync.Result, error) { a.requestRefresh() }

	a.Queue = queue.New(store, queue.Options{
		DeviceID:        id,
		LockDuration:    cfg.Queue.LockDuration,
		DuplicateWindow: cfg.Queue.DuplicateWindow,
		RepeatReminders: cfg.Queue.RepeatReminders,
		Fence:           a.fence,
		Logger:          a.logger,
		Metrics:         a.Metrics,
		Now:             a.now,
		NewID:           o.NewID,
		Sync:            a.Trigger,
	})
	a.Scheduler = reminder.NewScheduler(store, reminder.Options{
		DeviceID: id,
		Now:      a.now,
		NewID:    o.NewID,
		Sync:     a.Trigger,
		Logger:   a.logger,
	})
	a.wakes = scheduler.NewEngine(wakeBuffer, a.now)

	a.logger.Info("taskd ready",
		zap.String("device_id", id),
		zap.String("database", cfg.Database),
		zap.String("remote", cfg.Remote.Kind),
		zap.Bool("sync_enabled", a.Remote != nil && cfg.Account != ""),
	)
	return a, nil
}

func (a *App) openRemote() error {
	switch a.cfg.Remote.Kind {
	case config.RemoteNone, "":
		return nil
	case config.RemoteMemory:
		a.Remote = remote.NewMemory()
		a.fence = remote.NewMemoryFence(a.now)
		return nil
	case config.RemoteDir:
		dir, err := remote.NewFileDir(a.cfg.Remote.Dir)
		if err != nil {
			return fmt.Errorf("open shared directory: %w", err)
		}
		a.dir = dir
		a.Remote = dir
		return nil
	case config.RemoteNATS:
		if a.cfg.Account == "" {
			a.logger.Warn("nats remote configured without an account; sync disabled")
			return nil
		}
		nc, err := remote.DialNATS(remote.NATSOptions{URL: a.cfg.Remote.URL})
		if err != nil {
			return err
		}
		a.nc = nc
		kv, err := remote.NewNATSKV(nc, a.cfg.Account)
		if err != nil {
			return fmt.Errorf("open NATS documents: %w", err)
		}
		fence, err := remote.NewNATSFence(nc, a.cfg.Account, a.now)
		if err != nil {
			return fmt.Errorf("open NATS fence: %w", err)
		}
		a.Remote, a.fence = kv, fence
		return nil
	default:
		return fmt.Errorf("unknown remote kind %q", a.cfg.Remote.Kind)
	}
}

func (a *App) Close() error {
	a.wakesStop()
	if a.nc != nil {
		a.nc.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func (a *App) wakesStop() {
	if a.wakes != nil {
		a.wakes.Stop()
	}
}

// Now reads the app's clock.
func (a *App) Now() time.Time { return a.now() }

// Dispatcher builds the configured notification targets.
func (a *App) Dispatcher(out io.Writer) queue.Dispatcher {
	var targets notify.Fanout
	if a.cfg.Notify.Terminal && out != nil {
		targets = append(targets, notify.NewTerminal(out, a.now))
	}
	if a.cfg.Notify.Desktop {
		targets = append(targets, notify.NewDesktop())
	}
	return targets
}

// MetricsHandler serves the app's registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

// DeliverNow runs one delivery pass and re-arms the wake engine from the
// remaining queue.
func (a *App) DeliverNow(ctx context.Context, d queue.Dispatcher) (queue.DeliveryReport, error) {
	report, err := a.Queue.DeliverDue(ctx, d)
	if err != nil {
		return report, err
	}
	for _, e := range report.Errors {
		a.logger.Warn("delivery failed", zap.Error(e))
	}
	if err := a.rearm(ctx); err != nil {
		a.logger.Warn("re-arm wakes failed", zap.Error(err))
	}
	return report, nil
}

func (a *App) rearm(ctx context.Context) error {
	rows, err := a.Queue.Pending(ctx)
	if err != nil {
		return err
	}
	wakes := make([]scheduler.Wake, 0, len(rows))
	for _, n := range rows {
		wakes = append(wakes, scheduler.Wake{ReminderID: n.ReminderID, At: n.ClaimableAt()})
	}
	return a.wakes.Reset(wakes)
}

func (a *App) requestRefresh() {
	select {
	case a.refresh <- struct{}{}:
	default:
	}
}

// Run drives background sync and delivery until ctx is cancelled.
func (a *App) Run(ctx context.Context, d queue.Dispatcher) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Trigger.Run(ctx) })
	g.Go(func() error { return a.syncLoop(ctx) })
	g.Go(func() error { return a.deliveryLoop(ctx, d) })
	if a.dir != nil {
		watcher := remote.NewDirWatcher(a.dir, storage.SyncOrder, watchDebounce, a.logger)
		g.Go(func() error { return watcher.Run(ctx, a.Trigger.Request) })
	}
	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) syncLoop(ctx context.Context) error {
	if a.Remote == nil {
		return nil
	}
	a.Trigger.Request()
	if a.cfg.Sync.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(a.cfg.Sync.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Trigger.Request()
		}
	}
}

func (a *App) deliveryLoop(ctx context.Context, d queue.Dispatcher) error {
	a.wakes.Start()
	defer a.wakes.Stop()

	poll := time.NewTicker(a.cfg.Queue.PollInterval)
	defer poll.Stop()

	deliver := func() {
		if _, err := a.DeliverNow(ctx, d); err != nil && ctx.Err() == nil {
			a.logger.Error("delivery pass failed", zap.Error(err))
		}
	}
	deliver()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.wakes.C():
			deliver()
		case <-poll.C:
			deliver()
		case <-a.refresh:
			if err := a.rearm(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("re-arm wakes failed", zap.Error(err))
			}
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.MetricsHandler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving metrics", zap.String("addr", a.cfg.Metrics.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
