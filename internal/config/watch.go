package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/moo-gh/Ping-Success/internal/log"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// options each time the file is written. Overrides keep their precedence
// across reloads. Watch blocks until ctx is cancelled.
//
// A reload that fails (unreadable file, invalid YAML, invalid values) is
// logged and skipped — the previous options stay in force and onChange is
// not called.
func Watch(ctx context.Context, path string, overrides Overrides, logger *log.Logger, onChange func(Options)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info("watching config", map[string]interface{}{"path": path})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so a Create of the watched
			// path counts as a change too.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			opts, err := Load(path, overrides)
			if err != nil {
				logger.LogConfigLoad(false, path, err)
				continue
			}

			logger.LogConfigLoad(true, path, nil)
			onChange(opts)

			// An atomic save replaces the inode; re-add the path so the
			// next save is still observed.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
