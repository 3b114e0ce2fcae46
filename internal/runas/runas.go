// Package runas decides which user a schedule executes as.
//
// The check runs when a schedule is saved. The scheduler trusts the stored
// run-as user and never re-checks it at execution time.
package runas

import (
	"errors"
	"fmt"

	"github.com/watzon/ruletick/internal/schedule"
)

var (
	// ErrPermission is wrapped by every *PermissionError.
	ErrPermission = errors.New("permission denied")
	// ErrNoActingUser is returned when the saving user is unknown.
	ErrNoActingUser = errors.New("acting user is required")
)

// PermissionError is returned when a user tries to run a schedule as someone
// else without permission to manage users.
type PermissionError struct {
	Acting    schedule.UserRef
	Requested schedule.UserRef
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf(
		"user %s does not have permission to set the run as user to %q: "+
			"schedules can only run as yourself unless you have manage users permission",
		e.Acting, e.Requested)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermission
}

// Request describes a run-as decision.
type Request struct {
	Requested      schedule.UserRef // Zero when the schedule does not name a user
	Acting         schedule.UserRef // User creating or updating the schedule
	CanManageUsers bool
}

// Resolve returns the user the schedule should run as. Users are compared by
// UUID; names are display only.
func Resolve(req Request) (schedule.UserRef, error) {
	if req.Acting.IsZero() {
		return schedule.UserRef{}, ErrNoActingUser
	}

	if req.Requested.IsZero() {
		return req.Acting, nil
	}

	if req.Requested.UUID != req.Acting.UUID && !req.CanManageUsers {
		return schedule.UserRef{}, &PermissionError{Acting: req.Acting, Requested: req.Requested}
	}

	return req.Requested, nil
}
