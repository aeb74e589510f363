package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the token directory for changes to the store file and
// invokes onChange after each one. It lets a long-running host pick up
// a re-authentication performed by another process (for example the
// CLI) sharing the same token directory. Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: the file may not exist yet,
	// and bbolt replaces content in place rather than by rename.
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching token directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Base(event.Name) != storeFile {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				onChange()
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			// Watcher errors are non-fatal; the caller just misses an
			// update and re-reads on its next access.
		}
	}
}
