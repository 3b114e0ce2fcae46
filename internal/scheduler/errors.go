package scheduler

import "errors"

var (
	// ErrClaimConflict means another holder owns the schedule's claim.
	ErrClaimConflict = errors.New("schedule claimed by another holder")
	// ErrExecutionFailure wraps rule executor errors, panics and timeouts.
	ErrExecutionFailure = errors.New("rule execution failed")
	// ErrPersistenceFailure wraps tracker, claim and history store errors.
	ErrPersistenceFailure = errors.New("scheduler state persistence failed")
	// ErrClaimLost is returned by a fenced commit when the claim changed hands.
	ErrClaimLost = errors.New("schedule claim lost")
	// ErrWatermarkRegression is returned when a commit would move a watermark backward.
	ErrWatermarkRegression = errors.New("watermark would move backward")
	// ErrScheduleNotFound is returned when a schedule does not exist.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrDuplicateName is returned when a schedule name is already used.
	ErrDuplicateName = errors.New("schedule name already exists")
)
