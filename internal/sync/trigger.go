package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const busyRetryDelay = 100 * time.Millisecond

// Trigger runs background syncs from a single pending slot. Requests that
// arrive while a pass is running fill the slot and cause exactly one more
// pass; they are never dropped and never queue up.
type Trigger struct {
	engine  *Engine
	pending chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger

	// OnResult, when set, observes every background pass.
	OnResult func(Result, error)
}

// NewTrigger bounds back-to-back passes to one per minGap; zero disables the
// bound.
func NewTrigger(engine *Engine, minGap time.Duration, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if minGap > 0 {
		limit = rate.Every(minGap)
	}
	return &Trigger{
		engine:  engine,
		pending: make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("sync.trigger"),
	}
}

// Request marks work pending. It never blocks.
func (t *Trigger) Request() {
	select {
	case t.pending <- struct{}{}:
	default:
	}
}

// Run serves requests until ctx is done.
func (t *Trigger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.pending:
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return nil
		}

		res, err := t.engine.SyncAll(ctx)
		if errors.Is(err, ErrSyncInProgress) {
			// A direct call is running; make sure the request still gets a pass.
			t.Request()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(busyRetryDelay):
			}
			continue
		}
		if err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				t.logger.Debug("background sync skipped", zap.Error(err))
			} else {
				t.logger.Warn("background sync failed", zap.Error(err))
			}
		}
		if t.OnResult != nil {
			t.OnResult(res, err)
		}
	}
}
