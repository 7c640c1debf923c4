package serversfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher re-reads a servers file whenever it changes on disk.
type Watcher struct {
	Path string
	// Debounce collapses bursts of events; editors often write a file in
	// several steps. Defaults to 250ms.
	Debounce time.Duration
	Logger   *slog.Logger
	// OnChange receives the parsed list after each change. Files that fail
	// to parse are logged and skipped.
	OnChange func([]mcpmgr.Source)
}

// Watch runs a Watcher for path until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func([]mcpmgr.Source)) error {
	w := &Watcher{Path: path, Logger: logger, OnChange: onChange}
	return w.Run(ctx)
}

// Run blocks until ctx is done. The parent directory is watched so that
// atomic renames and re-creations of the file are seen.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("serversfile: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("serversfile: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("serversfile: watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("watching servers file", "path", target)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("servers file watcher error", "error", err)
		case <-timer.C:
			sources, err := Load(target)
			if err != nil {
				logger.Warn("ignoring invalid servers file", "path", target, "error", err)
				continue
			}
			logger.Info("servers file changed", "path", target, "servers", len(sources))
			if w.OnChange != nil {
				w.OnChange(sources)
			}
		}
	}
}
