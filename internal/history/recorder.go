package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Recorder appends history entries and periodically removes old ones.
type Recorder struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder. A zero retention keeps history forever.
func NewRecorder(store *Store, retention, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = time.Hour
	}

	return &Recorder{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Store returns the underlying store.
func (r *Recorder) Store() *Store {
	return r.store
}

// Start begins background cleanup.
func (r *Recorder) Start(ctx context.Context) {
	if r.retention <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.cleanupLoop(ctx)
}

// Stop gracefully shuts down the cleanup loop.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Append records an entry.
func (r *Recorder) Append(ctx context.Context, entry *Entry) error {
	if err := r.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}

	log.Debug().
		Str("schedule_id", entry.ScheduleID).
		Str("status", string(entry.Status)).
		Int64("effective_ms", entry.EffectiveExecutionTimeMs).
		Msg("History entry recorded")

	return nil
}

// List returns a page of a schedule's history.
func (r *Recorder) List(ctx context.Context, scheduleID string, req PageRequest) (*Page, error) {
	return r.store.List(ctx, scheduleID, req)
}

// Sweep removes entries older than the retention period.
func (r *Recorder) Sweep(ctx context.Context) (int64, error) {
	if r.retention <= 0 {
		return 0, nil
	}

	cutoff := r.now().Add(-r.retention)
	n, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		log.Info().
			Int64("deleted", n).
			Time("cutoff", cutoff).
			Msg("Pruned execution history")
	}

	return n, nil
}

// cleanupLoop periodically removes old history entries.
func (r *Recorder) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to prune execution history")
			}
		}
	}
}
