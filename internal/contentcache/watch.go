package contentcache

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch prunes manifest entries whose files are deleted or moved out of the
// cache directory by something other than the Manager. It blocks until ctx
// is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating cache watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(m.dir); err != nil {
		return fmt.Errorf("watching %s: %w", m.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			m.pruneFile(filepath.Clean(event.Name))

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("cache watcher error", "error", err)
		}
	}
}

func (m *Manager) pruneFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.manifest.Entries {
		if filepath.Clean(e.FilePath) != path {
			continue
		}
		delete(m.manifest.Entries, id)
		m.saveLocked()
		m.logger.Info("cache entry removed externally", "content_id", id)
		return
	}
}
