package training

import (
	"context"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the serving engine when a new latest pointer is published.
// Save ordering guarantees the pointer only moves after the timestamped
// artifact is complete, so reacting to the rename is safe.
type Watcher struct {
	dir      string
	logger   *zap.Logger
	onReload func()
	watcher  *fsnotify.Watcher
}

func NewWatcher(dir string, logger *zap.Logger, onReload func()) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, logger: logger, onReload: onReload, watcher: fsw}, nil
}

// Run blocks until the context is cancelled, invoking the reload callback
// whenever the ensemble latest pointer changes.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isLatestPointer(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Info("latest model pointer changed, reloading", zap.String("file", event.Name))
			w.onReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func isLatestPointer(name string) bool {
	return strings.HasSuffix(name, componentEnsemble+"_latest.json")
}
