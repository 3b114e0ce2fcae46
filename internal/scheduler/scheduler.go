// Package scheduler runs analytic rule schedules: it finds due schedules,
// claims them, executes their windows and commits the watermark.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/metrics"
	"github.com/watzon/ruletick/internal/schedule"
	"github.com/watzon/ruletick/internal/watermark"
)

// Defaults applied by New.
const (
	DefaultMaxCatchUpPerCycle = 100
	DefaultClaimTTL           = 5 * time.Minute
)

// Config holds configuration for Scheduler.
type Config struct {
	// NodeName selects schedules by affinity.
	NodeName string

	// Holder identifies this process in claims (default: NodeName/random UUID).
	Holder string

	// MaxCatchUpPerCycle caps windows executed per schedule per cycle.
	MaxCatchUpPerCycle int

	// ClaimTTL is how long a claim lasts without renewal.
	ClaimTTL time.Duration

	// ExecutionTimeout bounds each rule execution (0 = none).
	ExecutionTimeout time.Duration
}

// Scheduler evaluates schedules and executes due windows. It keeps no state
// between cycles; everything it needs is read from the repositories.
type Scheduler struct {
	schedules ScheduleRepository
	trackers  TrackerRepository
	history   HistoryRepository
	executor  RuleExecutor
	claimer   Claimer
	fenced    bool
	cfg       Config
	clock     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClaimer holds claims somewhere other than the tracker repository.
// Commits are then not fenced on the claim.
func WithClaimer(c Claimer) Option {
	return func(s *Scheduler) {
		s.claimer = c
		s.fenced = false
	}
}

// WithClock replaces the clock used to measure execution durations.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// New creates a scheduler.
func New(cfg Config, schedules ScheduleRepository, trackers TrackerRepository, hist HistoryRepository, executor RuleExecutor, opts ...Option) *Scheduler {
	if cfg.MaxCatchUpPerCycle <= 0 {
		cfg.MaxCatchUpPerCycle = DefaultMaxCatchUpPerCycle
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Holder == "" {
		cfg.Holder = cfg.NodeName + "/" + uuid.NewString()
	}

	s := &Scheduler{
		schedules: schedules,
		trackers:  trackers,
		history:   hist,
		executor:  executor,
		claimer:   trackers,
		fenced:    true,
		cfg:       cfg,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Holder returns the claim holder token of this scheduler.
func (s *Scheduler) Holder() string {
	return s.cfg.Holder
}

// RunOnce runs one scheduling cycle as of nowMs. Failures are contained per
// schedule and reported in the returned Report.
func (s *Scheduler) RunOnce(ctx context.Context, nowMs int64) *Report {
	start := s.clock()
	report := &Report{NowMs: nowMs}
	defer func() {
		report.Duration = s.clock().Sub(start)
		metrics.RecordCycle(report.Duration)
	}()

	schedules, err := s.schedules.ListEnabledForNode(ctx, s.cfg.NodeName)
	if err != nil {
		report.Err = fmt.Errorf("%w: listing schedules: %w", ErrPersistenceFailure, err)
		log.Error().Err(err).Str("node", s.cfg.NodeName).Msg("Failed to list schedules")
		return report
	}

	for _, sched := range schedules {
		if ctx.Err() != nil {
			break
		}

		res := s.processSchedule(ctx, sched, nowMs)
		report.Results = append(report.Results, res)

		if res.Err != nil {
			log.Warn().
				Err(res.Err).
				Str("schedule_id", sched.ID).
				Str("schedule_name", sched.Name).
				Str("outcome", res.Outcome.String()).
				Msg("Schedule not completed")
		}
	}

	if n := report.Windows(); n > 0 || report.Count(OutcomeFailed) > 0 {
		log.Info().
			Int("schedules", len(report.Results)).
			Int("windows", n).
			Int("failed", report.Count(OutcomeFailed)).
			Int("conflicts", report.Count(OutcomeClaimConflict)).
			Msg("Scheduling cycle complete")
	}

	return report
}

// processSchedule handles one schedule for one cycle.
func (s *Scheduler) processSchedule(ctx context.Context, sched *schedule.Schedule, nowMs int64) Result {
	res := Result{ScheduleID: sched.ID, ScheduleName: sched.Name}

	trigger, err := sched.Trigger()
	if err != nil {
		res.Outcome = OutcomeInvalid
		res.Err = err
		return res
	}

	tracker, err := s.trackers.Get(ctx, sched.ID)
	if err != nil {
		res.Outcome = OutcomePersistenceFailure
		res.Err = fmt.Errorf("%w: loading tracker: %w", ErrPersistenceFailure, err)
		return res
	}

	plan := s.advance(sched, trigger, tracker, nowMs)
	switch plan.Outcome {
	case watermark.OutcomeDisabled:
		res.Outcome = OutcomeDisabled
		return res
	case watermark.OutcomeIdle:
		return s.idle(ctx, sched, plan, tracker, nowMs)
	}

	claimed, err := s.claimer.TryClaim(ctx, sched.ID, s.cfg.Holder, s.cfg.ClaimTTL)
	if err != nil {
		res.Outcome = OutcomePersistenceFailure
		res.Err = fmt.Errorf("%w: claiming schedule: %w", ErrPersistenceFailure, err)
		return res
	}
	if !claimed {
		metrics.RecordClaimConflict()
		log.Debug().
			Str("schedule_id", sched.ID).
			Str("schedule_name", sched.Name).
			Msg("Schedule claimed elsewhere, skipping")
		res.Outcome = OutcomeClaimConflict
		res.Err = ErrClaimConflict
		return res
	}

	released := false
	defer func() {
		if released {
			return
		}
		// The cycle context may be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.claimer.Release(releaseCtx, sched.ID, s.cfg.Holder); err != nil {
			log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Failed to release schedule claim")
		}
	}()

	// Another holder may have advanced the tracker before we claimed it.
	tracker, err = s.trackers.Get(ctx, sched.ID)
	if err != nil {
		res.Outcome = OutcomePersistenceFailure
		res.Err = fmt.Errorf("%w: reloading tracker: %w", ErrPersistenceFailure, err)
		return res
	}

	res.Outcome = OutcomeIdle
	for i := 0; i < s.cfg.MaxCatchUpPerCycle; i++ {
		if ctx.Err() != nil {
			break
		}

		plan = s.advance(sched, trigger, tracker, nowMs)
		if plan.Outcome == watermark.OutcomeExhausted {
			res.Outcome = OutcomeExhausted
			res.Err = s.exhaust(ctx, sched, plan, tracker, nowMs)
			if res.Err != nil {
				res.Outcome = OutcomePersistenceFailure
			}
			break
		}
		if !plan.Due() {
			break
		}

		if i > 0 {
			ok, err := s.claimer.TryClaim(ctx, sched.ID, s.cfg.Holder, s.cfg.ClaimTTL)
			if err != nil || !ok {
				res.Outcome = OutcomePersistenceFailure
				res.Err = fmt.Errorf("%w: renewing claim: %w", ErrPersistenceFailure, errors.Join(ErrClaimLost, err))
				break
			}
		}

		next, more, err := s.runWindow(ctx, sched, trigger, plan, nowMs, i+1 < s.cfg.MaxCatchUpPerCycle)
		if err != nil {
			if errors.Is(err, ErrExecutionFailure) {
				res.Outcome = OutcomeFailed
			} else {
				res.Outcome = OutcomePersistenceFailure
			}
			res.Err = err
			break
		}

		res.Outcome = OutcomeExecuted
		res.Windows = append(res.Windows, Window{From: plan.From, To: plan.To})
		tracker = next

		if !more {
			// The commit released a fenced claim.
			released = s.fenced
			break
		}
	}

	metrics.RecordCatchUpWindows(len(res.Windows) - 1)
	if tracker != nil {
		metrics.SetWatermarkLag(sched.Name, time.Duration(nowMs-tracker.LastEffectiveExecutionTimeMs)*time.Millisecond)
	}

	return res
}

// idle persists the seed tracker of a schedule seen for the first time.
func (s *Scheduler) idle(ctx context.Context, sched *schedule.Schedule, plan watermark.Plan, tracker *schedule.Tracker, nowMs int64) Result {
	res := Result{ScheduleID: sched.ID, ScheduleName: sched.Name, Outcome: OutcomeIdle}

	if plan.Seeded {
		seeded, err := s.trackers.Seed(ctx, sched.ID, plan.SeedTracker())
		if err != nil {
			res.Outcome = OutcomePersistenceFailure
			res.Err = fmt.Errorf("%w: seeding tracker: %w", ErrPersistenceFailure, err)
			return res
		}
		tracker = seeded
		res.Outcome = OutcomeSeeded

		log.Debug().
			Str("schedule_id", sched.ID).
			Str("schedule_name", sched.Name).
			Time("watermark", time.UnixMilli(seeded.LastEffectiveExecutionTimeMs).UTC()).
			Msg("Schedule tracker seeded")
	}

	if tracker != nil {
		metrics.SetWatermarkLag(sched.Name, time.Duration(nowMs-tracker.LastEffectiveExecutionTimeMs)*time.Millisecond)
	}

	return res
}

func (s *Scheduler) advance(sched *schedule.Schedule, trigger schedule.Trigger, tracker *schedule.Tracker, nowMs int64) watermark.Plan {
	return watermark.Advance(watermark.Input{
		Trigger:    trigger,
		Contiguous: sched.Contiguous,
		Bounds:     sched.Bounds,
		Tracker:    tracker,
		Enabled:    sched.Enabled,
		NowMs:      nowMs,
	})
}

// runWindow executes one planned window and records the outcome. On success
// it returns the committed tracker and whether another window follows in this
// cycle. allowMore is false on the last permitted catch-up iteration.
func (s *Scheduler) runWindow(ctx context.Context, sched *schedule.Schedule, trigger schedule.Trigger, plan watermark.Plan, nowMs int64, allowMore bool) (*schedule.Tracker, bool, error) {
	exec := Execution{
		ScheduleID:   sched.ID,
		ScheduleName: sched.Name,
		RuleRef:      sched.RuleRef,
		WindowFromMs: plan.From,
		WindowToMs:   plan.To,
		RunAs:        sched.RunAsUser,
	}

	logger := log.With().
		Str("schedule_id", sched.ID).
		Str("schedule_name", sched.Name).
		Time("window_from", exec.WindowFrom()).
		Time("window_to", exec.WindowTo()).
		Logger()

	started := s.clock()
	execErr := s.execute(ctx, exec)
	duration := s.clock().Sub(started)

	from := plan.From
	entry := &history.Entry{
		ScheduleID:               sched.ID,
		ScheduleName:             sched.Name,
		ExecutionTimeMs:          nowMs,
		WindowFromMs:             &from,
		EffectiveExecutionTimeMs: plan.To,
		DurationMs:               duration.Milliseconds(),
	}

	if execErr != nil {
		metrics.RecordExecution(string(history.StatusFailure), duration)
		logger.Warn().Err(execErr).Dur("duration", duration).Msg("Rule execution failed")

		entry.Status = history.StatusFailure
		entry.Message = execErr.Error()
		if err := s.history.Append(ctx, entry); err != nil {
			logger.Error().Err(err).Msg("Failed to record execution failure")
			return nil, false, errors.Join(execErr, fmt.Errorf("%w: recording failure: %w", ErrPersistenceFailure, err))
		}
		return nil, false, execErr
	}

	metrics.RecordExecution(string(history.StatusSuccess), duration)

	next := plan.Tracker(nowMs)
	following := s.advance(sched, trigger, next, nowMs)
	more := allowMore && (following.Due() || following.Outcome == watermark.OutcomeExhausted)

	entry.Status = history.StatusSuccess
	entry.Message = fmt.Sprintf("processed [%s, %s)",
		exec.WindowFrom().Format(time.RFC3339), exec.WindowTo().Format(time.RFC3339))

	commit := Commit{
		ScheduleID:   sched.ID,
		Tracker:      next,
		Entry:        entry,
		ReleaseClaim: s.fenced && !more,
	}
	if s.fenced {
		commit.Holder = s.cfg.Holder
	}

	if err := s.trackers.Commit(ctx, commit); err != nil {
		logger.Error().Err(err).Msg("Failed to commit watermark")
		return nil, false, fmt.Errorf("%w: committing window: %w", ErrPersistenceFailure, err)
	}

	logger.Debug().Dur("duration", duration).Msg("Window executed")

	return next, more, nil
}

// execute invokes the rule executor, turning errors, panics and timeouts
// into ErrExecutionFailure.
func (s *Scheduler) execute(ctx context.Context, exec Execution) (err error) {
	if s.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrExecutionFailure, p)
		}
	}()

	if execErr := s.executor.Execute(ctx, exec); execErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: timed out after %s: %w", ErrExecutionFailure, s.cfg.ExecutionTimeout, execErr)
		}
		return fmt.Errorf("%w: %w", ErrExecutionFailure, execErr)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s", ErrExecutionFailure, s.cfg.ExecutionTimeout)
	}

	return nil
}

// exhaust records that the schedule's bounds have ended and disables it.
func (s *Scheduler) exhaust(ctx context.Context, sched *schedule.Schedule, plan watermark.Plan, tracker *schedule.Tracker, nowMs int64) error {
	watermarkMs := plan.From
	if tracker != nil {
		watermarkMs = tracker.LastEffectiveExecutionTimeMs
	}

	entry := &history.Entry{
		ScheduleID:               sched.ID,
		ScheduleName:             sched.Name,
		ExecutionTimeMs:          nowMs,
		EffectiveExecutionTimeMs: watermarkMs,
		Status:                   history.StatusSkipped,
		Message:                  "schedule bounds " + sched.Bounds.String() + " have elapsed; disabling",
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return fmt.Errorf("%w: recording exhaustion: %w", ErrPersistenceFailure, err)
	}

	if err := s.schedules.Disable(ctx, sched.ID); err != nil {
		return fmt.Errorf("%w: disabling schedule: %w", ErrPersistenceFailure, err)
	}

	log.Info().
		Str("schedule_id", sched.ID).
		Str("schedule_name", sched.Name).
		Str("bounds", sched.Bounds.String()).
		Msg("Schedule exhausted and disabled")

	metrics.ForgetSchedule(sched.Name)

	return nil
}
