package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultWatchDebounce = 500 * time.Millisecond

// ArtifactWatcher reloads a ModelHandle when its artifact file changes. It
// watches the artifact's directory because atomic writes replace the file
// by rename, which drops watches placed on the file itself.
type ArtifactWatcher struct {
	handle   *ModelHandle
	watcher  *fsnotify.Watcher
	target   string
	debounce time.Duration
	logger   *zap.Logger
}

func NewArtifactWatcher(handle *ModelHandle, debounce time.Duration, logger *zap.Logger) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	target, err := filepath.Abs(handle.Path())
	if err != nil {
		return nil, fmt.Errorf("resolve artifact path: %w", err)
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &ArtifactWatcher{
		handle:   handle,
		watcher:  watcher,
		target:   target,
		debounce: debounce,
		logger:   logger.Named("watcher"),
	}, nil
}

// Run processes events until ctx is cancelled. Bursts of events within the
// debounce window trigger a single reload.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.logger.Info("watching model artifact",
		zap.String("path", w.target),
		zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			// Reload logs its own failures.
			_ = w.handle.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func (w *ArtifactWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.target {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}
