package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is used when Heartbeat is given no interval.
const DefaultPollInterval = 5 * time.Second

// Heartbeat runs scheduling cycles on a timer.
type Heartbeat struct {
	scheduler *Scheduler
	interval  time.Duration
	now       func() time.Time
	onCycle   func(*Report)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeat creates a heartbeat for the scheduler.
func NewHeartbeat(s *Scheduler, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Heartbeat{
		scheduler: s,
		interval:  interval,
		now:       time.Now,
	}
}

// OnCycle registers a callback invoked with every cycle report.
func (h *Heartbeat) OnCycle(fn func(*Report)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCycle = fn
}

// Start begins background processing. The first cycle runs immediately.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.pollLoop(ctx)

	log.Info().
		Dur("poll_interval", h.interval).
		Str("holder", h.scheduler.Holder()).
		Msg("Scheduler started")
}

// Stop gracefully shuts down the heartbeat, waiting for an in-flight cycle.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	h.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// pollLoop periodically runs a scheduling cycle.
func (h *Heartbeat) pollLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	report := h.scheduler.RunOnce(ctx, h.now().UnixMilli())
	if report.Err != nil {
		log.Error().Err(report.Err).Msg("Failed to process due schedules")
	}

	h.mu.Lock()
	fn := h.onCycle
	h.mu.Unlock()
	if fn != nil {
		fn(report)
	}
}
