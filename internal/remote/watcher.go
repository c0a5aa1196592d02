package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// DirWatcher reports document changes made in a FileDir by other installs.
// Bursts of events are collapsed into one callback per debounce window.
type DirWatcher struct {
	dir         *FileDir
	collections []string
	debounce    time.Duration
	logger      *zap.Logger
}

func NewDirWatcher(dir *FileDir, collections []string, debounce time.Duration, logger *zap.Logger) *DirWatcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirWatcher{dir: dir, collections: collections, debounce: debounce, logger: logger}
}

// Run blocks until ctx is done, calling onChange after each settled burst of
// *.json writes, renames or removals.
func (w *DirWatcher) Run(ctx context.Context, onChange func()) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for _, c := range w.collections {
		path := w.dir.collectionDir(c)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	timer := time.NewTimer(w.debounce)
	stopTimer(timer)
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("shared directory change", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			pending = true
			resetTimer(timer, w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("shared directory watch error", zap.Error(err))
		case <-timer.C:
			if pending {
				pending = false
				onChange()
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
