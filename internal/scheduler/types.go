package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/schedule"
)

// ScheduleRepository lists the schedules this node may run.
type ScheduleRepository interface {
	// ListEnabledForNode returns enabled schedules whose affinity matches nodeName.
	ListEnabledForNode(ctx context.Context, nodeName string) ([]*schedule.Schedule, error)
	// Disable marks a schedule disabled.
	Disable(ctx context.Context, scheduleID string) error
}

// Claimer grants time-limited exclusive execution rights over a schedule.
type Claimer interface {
	// TryClaim claims the schedule for holder. Claiming again with the same
	// holder extends the claim.
	TryClaim(ctx context.Context, scheduleID, holder string, ttl time.Duration) (bool, error)
	// Release drops the claim if holder still owns it.
	Release(ctx context.Context, scheduleID, holder string) error
}

// TrackerRepository stores trackers and, by default, claims.
type TrackerRepository interface {
	Claimer

	// Get returns the tracker, or nil if the schedule has never been tracked.
	Get(ctx context.Context, scheduleID string) (*schedule.Tracker, error)
	// Seed stores the tracker unless one exists and returns the stored tracker.
	Seed(ctx context.Context, scheduleID string, tracker *schedule.Tracker) (*schedule.Tracker, error)
	// Commit applies a tracker update and history entry atomically.
	Commit(ctx context.Context, c Commit) error
}

// Commit is one atomic tracker and history update.
type Commit struct {
	ScheduleID string

	// Holder fences the commit: it fails with ErrClaimLost unless Holder
	// still owns the claim. Empty skips the check.
	Holder string

	Tracker      *schedule.Tracker // nil leaves the tracker untouched
	Entry        *history.Entry    // nil records nothing
	ReleaseClaim bool
}

// HistoryRepository appends execution history.
type HistoryRepository interface {
	Append(ctx context.Context, entry *history.Entry) error
}

// Execution is a request to run an analytic rule over an effective-time window.
type Execution struct {
	ScheduleID   string
	ScheduleName string
	RuleRef      string
	WindowFromMs int64 // Inclusive
	WindowToMs   int64 // Exclusive
	RunAs        schedule.UserRef
}

// WindowFrom returns the window start as a time.
func (e Execution) WindowFrom() time.Time {
	return time.UnixMilli(e.WindowFromMs).UTC()
}

// WindowTo returns the window end as a time.
func (e Execution) WindowTo() time.Time {
	return time.UnixMilli(e.WindowToMs).UTC()
}

// RuleExecutor runs analytic rules. It must honor ctx cancellation.
type RuleExecutor interface {
	Execute(ctx context.Context, exec Execution) error
}

// RuleExecutorFunc adapts a function to RuleExecutor.
type RuleExecutorFunc func(ctx context.Context, exec Execution) error

// Execute calls f.
func (f RuleExecutorFunc) Execute(ctx context.Context, exec Execution) error {
	return f(ctx, exec)
}

// Outcome summarizes what happened to a schedule in one cycle.
type Outcome int

const (
	// OutcomeIdle means nothing was due.
	OutcomeIdle Outcome = iota
	// OutcomeSeeded means the tracker was created and nothing was due yet.
	OutcomeSeeded
	// OutcomeExecuted means at least one window succeeded and nothing failed.
	OutcomeExecuted
	// OutcomeFailed means an execution failed; the watermark did not move past it.
	OutcomeFailed
	// OutcomeClaimConflict means another holder owns the schedule.
	OutcomeClaimConflict
	// OutcomeExhausted means the bounds ended and the schedule was disabled.
	OutcomeExhausted
	// OutcomePersistenceFailure means state could not be read or committed.
	OutcomePersistenceFailure
	// OutcomeDisabled means the schedule was disabled when it was evaluated.
	OutcomeDisabled
	// OutcomeInvalid means the stored schedule could not be parsed.
	OutcomeInvalid
)

var outcomeNames = map[Outcome]string{
	OutcomeIdle:               "idle",
	OutcomeSeeded:             "seeded",
	OutcomeExecuted:           "executed",
	OutcomeFailed:             "failed",
	OutcomeClaimConflict:      "claim_conflict",
	OutcomeExhausted:          "exhausted",
	OutcomePersistenceFailure: "persistence_failure",
	OutcomeDisabled:           "disabled",
	OutcomeInvalid:            "invalid",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Window is a processed effective-time window [From, To).
type Window struct {
	From int64
	To   int64
}

// Result is the per-schedule outcome of a cycle.
type Result struct {
	ScheduleID   string
	ScheduleName string
	Outcome      Outcome
	Windows      []Window // Windows committed as succeeded, in order
	Err          error
}

// Report summarizes one RunOnce call.
type Report struct {
	NowMs    int64
	Duration time.Duration
	Results  []Result
	Err      error // Set when schedules could not be listed
}

// Count returns how many results have the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Windows returns the total number of windows executed successfully.
func (r *Report) Windows() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Windows)
	}
	return n
}

// Result returns the result for a schedule, if it was processed.
func (r *Report) Result(scheduleID string) (Result, bool) {
	for _, res := range r.Results {
		if res.ScheduleID == scheduleID {
			return res, true
		}
	}
	return Result{}, false
}
