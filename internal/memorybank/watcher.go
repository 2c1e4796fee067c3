package memorybank

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events editors produce on save.
const DefaultWatchDebounce = 150 * time.Millisecond

// Watch reloads documents edited outside the server until ctx is done. It
// needs the bank directory to be a real directory on the local filesystem.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.bankDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.bankDir, err)
	}
	s.logger.Info("Watching memory bank for external edits", "dir", s.bankDir)

	var (
		mu     sync.Mutex
		timers = make(map[Key]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(key Key) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[key]; ok {
			t.Reset(debounce)
			return
		}
		timers[key] = time.AfterFunc(debounce, func() {
			mu.Lock()
			delete(timers, key)
			mu.Unlock()
			if ctx.Err() == nil {
				s.reloadFromDisk(key)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			key := Key(filepath.Base(event.Name))
			if !IsKey(string(key)) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				schedule(key)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				s.logger.Warn("Document removed outside the server", "key", key)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Watcher error", "error", err)
		}
	}
}

func (s *Store) reloadFromDisk(key Key) {
	changed, err := s.Reload(key)
	if err != nil {
		s.logger.Warn("Reload after external edit failed", "key", key, "error", err)
		return
	}
	if changed {
		s.logger.Debug("External edit applied", "key", key)
	}
}
