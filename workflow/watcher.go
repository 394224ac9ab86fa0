package workflow

// watcher.go watches an on-disk catalog file for writes and reloads
// the catalog Store when it changes. Used in development mode so
// catalog edits take effect without a restart.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// defaultFlushDuration sets the time given to wait for multiple editor writes
const defaultFlushDuration time.Duration = 25 * time.Millisecond

// Watcher reloads a catalog Store when its on-disk catalog file is
// written to.
type Watcher struct {
	store         *Store
	watcher       *fsnotify.Watcher
	fileName      string
	log           *slog.Logger
	flushDuration time.Duration
}

// NewWatcher registers a Watcher for the store's on-disk catalog. The
// parent directory is watched rather than the file itself since many
// editors replace files on save.
func NewWatcher(store *Store, logger *slog.Logger) (*Watcher, error) {

	if store == nil || store.path == "" {
		return nil, errors.New("a store with an on-disk catalog is needed for watching")
	}

	w := Watcher{
		store:         store,
		fileName:      filepath.Base(store.path),
		log:           logger,
		flushDuration: defaultFlushDuration,
	}

	var err error
	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify new watcher error: %w", err)
	}

	dir := filepath.Dir(filepath.Clean(store.path))
	if err := w.watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("fsnotify add error for dir %q: %w", dir, err)
	}
	return &w, nil
}

// Watch watches the filesystem for catalog writes, reloading the store
// on each flushed write. Watch blocks, so needs to be run in a
// goroutine; it returns when the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {

	// eventChan is an internal chan used for buffering editor writes.
	eventChan := make(chan bool)

	g, ctx := errgroup.WithContext(ctx)

	// This goroutine watches for *fsnotify.Watcher events.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return errors.New("unexpected close from watcher.Errors")
				}
				return fmt.Errorf("unexpected notify error: %w", err)

			// An event has been received.
			case e, ok := <-w.watcher.Events:
				if !ok {
					return errors.New("unexpected close from watcher.Events")
				}
				// skip events that aren't writes of the catalog file
				if !e.Has(fsnotify.Write) {
					continue
				}
				if filepath.Base(e.Name) != w.fileName {
					continue
				}
				eventChan <- true
			}
		}
	})

	// Simple buffer of double writes by editors like vim.
	g.Go(func() error {
		flush := false
		timer := time.NewTicker(w.flushDuration)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-eventChan:
				if !ok {
					return nil
				}
				flush = true
				timer.Reset(w.flushDuration)
			case <-timer.C:
				if !flush {
					continue
				}
				flush = false
				if err := w.store.Reload(); err != nil {
					// An unparseable catalog keeps the previous
					// catalog active; report and keep watching.
					w.log.Error(fmt.Sprintf("catalog reload failed, keeping previous: %v", err))
					continue
				}
				c := w.store.Catalog()
				w.log.Info(fmt.Sprintf(
					"catalog %q reloaded: %d sections, %d tasks",
					c.Name, len(c.Sections), c.TaskCount(),
				))
			}
		}
	})

	err := g.Wait()
	close(eventChan)
	_ = w.watcher.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
