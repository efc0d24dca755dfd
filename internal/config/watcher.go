package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"switchboard/pkg/logging"
)

// Watch monitors the store's config file and flags a pending restart when
// it changes on disk outside the admin API. It returns once the watcher
// is installed; the goroutine stops when ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-into-place saves are observed.
func Watch(ctx context.Context, store *Store) error {
	path := store.Path()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logging.Info("Config", "Config file changed on disk, restart required")
				store.SetNeedsRestart(true)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Config", "Config watcher error: %v", err)
			}
		}
	}()

	return nil
}
