package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// WatchDir derives the non-magic base directory fsnotify should watch
// from a catalog glob pattern (e.g. "./tasks/**/*.yml" -> "./tasks"),
// reusing the same doublestar parser loadDefinitions globs with.
func WatchDir(pattern string) string {
	base, _ := doublestar.SplitPattern(pattern)
	return base
}

// Watch supplements the explicit Reload() call (triggered by
// GET /tasks/reload) with an fsnotify-driven reload whenever a file in
// dir changes. It never replaces the explicit path — both funnel
// through Reload(), so the atomic-snapshot-swap invariant holds
// either way (SPEC_FULL.md §4.1). Watch blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	reload := func() {
		if err := c.Reload(); err != nil {
			slog.Error("catalog: watch-triggered reload failed", "error", err)
		} else {
			slog.Info("catalog: reloaded from file change")
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("catalog: file event", "path", filepath.Clean(ev.Name), "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("catalog: watch error", "error", err)
		}
	}
}
