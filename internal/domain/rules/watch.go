package rules

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/leadscore/pkg/logger"
)

// Watch monitors path for changes and reloads the rule table each time the
// file is written. It runs until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous table remains active.
func (s *Store) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log := logger.Get().Named("rules")
	log.Info(ctx, "watching rules file", logger.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only reload on write or create events. Editors often write via
			// rename (atomic save), so also catch fsnotify.Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := s.LoadFile(ctx, path); err != nil {
				log.Error(ctx, "rules reload failed, keeping previous table",
					logger.String("path", path), logger.Error(err))
				continue
			}
			log.Info(ctx, "rules reloaded", logger.String("path", path))

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(ctx, "rules watcher error", logger.Error(err))
		}
	}
}
