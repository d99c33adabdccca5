package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// watchSettleInterval is how often pending filesystem events are
	// checked. Events for the same key inside one interval collapse
	// into a single mutation.
	watchSettleInterval = 200 * time.Millisecond

	// watchSettleDelay is how long a key must be quiet before its
	// pending event is published.
	watchSettleDelay = 100 * time.Millisecond
)

// Watch observes the store directory and publishes writes and removals
// made by other processes to bus as ExternalOrigin mutations. Changes
// made through this DirStore are recognised by content hash and skipped.
// It blocks until ctx is cancelled.
func (s *DirStore) Watch(ctx context.Context, bus *Bus, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching store dir: %w", err)
	}

	logger.Debug("store watcher started", slog.String("dir", s.dir))

	pending := make(map[string]time.Time)

	ticker := time.NewTicker(watchSettleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			key, ok := keyFromFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[key] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			logger.Warn("store watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for key, t := range pending {
				if now.Sub(t) < watchSettleDelay {
					continue
				}

				delete(pending, key)

				if m, changed := s.observe(key); changed {
					bus.Publish(m)
				}
			}
		}
	}
}

// observe reads the current content of key and compares it with the
// last known content. It returns the mutation to publish when the key
// changed behind this process's back.
func (s *DirStore) observe(key string) (Mutation, bool) {
	hash := ""
	op := OpRemove

	data, err := os.ReadFile(s.path(key))
	switch {
	case err == nil:
		hash = contentHash(data)
		op = OpWrite
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Mutation{}, false
	}

	s.knownMu.Lock()
	defer s.knownMu.Unlock()

	prev, seen := s.known[key]
	if seen && prev == hash {
		return Mutation{}, false
	}

	// A removal of a key we never saw is not a change worth reporting.
	if !seen && op == OpRemove {
		return Mutation{}, false
	}

	s.known[key] = hash

	return Mutation{Key: key, Op: op, Origin: ExternalOrigin}, true
}
