package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounceDuration = 250 * time.Millisecond

// Watcher re-syncs the manifest whenever its file changes.
type Watcher struct {
	path             string
	syncer           *Syncer
	watcher          *fsnotify.Watcher
	debounceDuration time.Duration
	timer            *time.Timer
	onSync           func(*SyncResult, error)
	mu               sync.Mutex
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// NewWatcher creates a watcher for the manifest at path.
func NewWatcher(path string, syncer *Syncer) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:             absPath,
		syncer:           syncer,
		watcher:          watcher,
		debounceDuration: defaultDebounceDuration,
	}, nil
}

// SetDebounceDuration sets how long to wait for changes to settle.
func (w *Watcher) SetDebounceDuration(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDuration = d
}

// OnSync registers a callback invoked after every re-sync.
func (w *Watcher) OnSync(fn func(*SyncResult, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSync = fn
}

// Start begins watching. The directory is watched rather than the file so
// that editors replacing the file by rename are noticed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.eventLoop()

	log.Info().Str("path", w.path).Msg("Watching schedule manifest")
	return nil
}

// Stop stops the watcher and cleans up resources.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Manifest changed")
				w.debounceSync()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Manifest watcher error")
		}
	}
}

func (w *Watcher) debounceSync() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDuration, w.resync)
}

func (w *Watcher) resync() {
	if w.ctx.Err() != nil {
		return
	}

	m, err := Load(w.path)
	var result *SyncResult
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("Failed to load schedule manifest; keeping current schedules")
	} else {
		result, err = w.syncer.Sync(w.ctx, m)
		if err != nil {
			log.Error().Err(err).Str("path", w.path).Msg("Failed to sync schedule manifest")
		}
	}

	w.mu.Lock()
	fn := w.onSync
	w.mu.Unlock()
	if fn != nil {
		fn(result, err)
	}
}
