// Package watermark decides which effective-time window a schedule run covers
// and how the watermark moves afterwards. It performs no I/O.
//
// A schedule that has never been tracked starts from its bounds start, or
// from the current time when it has none. Starting at "now" is a policy
// choice: a new schedule does not replay history it was never asked to cover.
package watermark

import (
	"fmt"
	"time"

	"github.com/watzon/ruletick/internal/schedule"
)

// Outcome is the decision for one schedule at one instant.
type Outcome int

const (
	// OutcomeIdle means nothing is due yet.
	OutcomeIdle Outcome = iota
	// OutcomeRun means the window [From, To) should be processed now.
	OutcomeRun
	// OutcomeExhausted means the bounds have fully elapsed; no further runs.
	OutcomeExhausted
	// OutcomeDisabled means the schedule is disabled.
	OutcomeDisabled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeRun:
		return "run"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Input is everything the advancer needs to plan one step.
type Input struct {
	Trigger    schedule.Trigger
	Contiguous bool
	Bounds     schedule.Bounds
	Tracker    *schedule.Tracker // nil when the schedule has never been tracked
	Enabled    bool
	NowMs      int64
}

// Plan is the result of Advance.
type Plan struct {
	Outcome Outcome

	// From and To delimit the window [From, To). Empty unless Outcome is OutcomeRun.
	From int64
	To   int64

	// Boundary is the next fire time after From, clamped to the bounds end.
	Boundary int64

	// NextEffectiveMs is the boundary following To, stored on the tracker
	// after a successful run.
	NextEffectiveMs int64

	// Seeded is set when no tracker existed and From was derived from the
	// bounds or the current time.
	Seeded bool
}

// Due reports whether the plan asks for an execution.
func (p Plan) Due() bool {
	return p.Outcome == OutcomeRun
}

// Window returns the planned window as times, for logging.
func (p Plan) Window() (time.Time, time.Time) {
	return time.UnixMilli(p.From).UTC(), time.UnixMilli(p.To).UTC()
}

// SeedTracker returns the tracker to persist for a schedule seen for the
// first time. It records the anchor without marking the schedule as fired.
func (p Plan) SeedTracker() *schedule.Tracker {
	next := p.Boundary
	return &schedule.Tracker{
		LastEffectiveExecutionTimeMs: p.From,
		NextEffectiveExecutionTimeMs: &next,
	}
}

// Tracker returns the tracker state after the planned window succeeded.
func (p Plan) Tracker(actualMs int64) *schedule.Tracker {
	next := p.NextEffectiveMs
	return &schedule.Tracker{
		ActualExecutionTimeMs:        actualMs,
		LastEffectiveExecutionTimeMs: p.To,
		NextEffectiveExecutionTimeMs: &next,
	}
}

// Advance computes the next window for a schedule.
func Advance(in Input) Plan {
	var plan Plan

	last := in.NowMs
	switch {
	case in.Tracker != nil:
		last = in.Tracker.LastEffectiveExecutionTimeMs
	case in.Bounds.StartMs != nil:
		last = *in.Bounds.StartMs
		plan.Seeded = true
	default:
		plan.Seeded = true
	}

	plan.From = last
	plan.To = last

	if !in.Enabled {
		plan.Boundary = in.Trigger.NextFireAfter(last)
		plan.NextEffectiveMs = plan.Boundary
		plan.Outcome = OutcomeDisabled
		return plan
	}

	end := in.Bounds.EndMs
	if end != nil && last >= *end {
		plan.Boundary = *end
		plan.NextEffectiveMs = *end
		plan.Outcome = OutcomeExhausted
		return plan
	}

	// The final window of a bounded schedule stops at the end even when the
	// trigger's next boundary lies beyond it.
	plan.Boundary = clamp(in.Trigger.NextFireAfter(last), end)
	plan.NextEffectiveMs = plan.Boundary

	if plan.Boundary > in.NowMs {
		plan.Outcome = OutcomeIdle
		return plan
	}

	to := plan.Boundary
	if !in.Contiguous {
		// Telescope every missed boundary into one window ending now.
		to = clamp(in.NowMs, end)
	}

	plan.Outcome = OutcomeRun
	plan.To = to
	plan.NextEffectiveMs = clamp(in.Trigger.NextFireAfter(to), end)
	return plan
}

func clamp(ms int64, end *int64) int64 {
	if end != nil && ms > *end {
		return *end
	}
	return ms
}
