// Package history records every scheduled execution attempt.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the outcome recorded for an execution.
type Status string

const (
	// StatusSuccess means the rule ran and the watermark advanced.
	StatusSuccess Status = "SUCCESS"
	// StatusFailure means the rule failed; the watermark did not move.
	StatusFailure Status = "FAILURE"
	// StatusSkipped records a decision not to run, such as exhaustion.
	StatusSkipped Status = "SKIPPED"
)

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusSuccess:
		return StatusSuccess, nil
	case StatusFailure:
		return StatusFailure, nil
	case StatusSkipped:
		return StatusSkipped, nil
	default:
		return "", fmt.Errorf("unknown history status %q", s)
	}
}

// ErrInvalidEntry is returned when an entry is missing required fields.
var ErrInvalidEntry = errors.New("invalid history entry")

// Entry is one execution history record.
type Entry struct {
	ID                       int64  // Monotonic insertion id
	ScheduleID               string // Schedule that fired
	ScheduleName             string // Schedule name at execution time
	ExecutionTimeMs          int64  // Wall-clock time of the attempt
	WindowFromMs             *int64 // Start of the processed window, nil if none
	EffectiveExecutionTimeMs int64  // Window end the attempt targeted
	DurationMs               int64  // How long the execution took
	Status                   Status
	Message                  string
}

// Validate checks the fields the store requires.
func (e *Entry) Validate() error {
	if e.ScheduleID == "" {
		return fmt.Errorf("%w: schedule id is required", ErrInvalidEntry)
	}
	switch e.Status {
	case StatusSuccess, StatusFailure, StatusSkipped:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, e.Status)
	}
	if e.ExecutionTimeMs <= 0 {
		return fmt.Errorf("%w: execution time is required", ErrInvalidEntry)
	}
	return nil
}

// ExecutionTime returns the execution time as a time.Time.
func (e *Entry) ExecutionTime() time.Time {
	return time.UnixMilli(e.ExecutionTimeMs).UTC()
}

// EffectiveExecutionTime returns the targeted window end as a time.Time.
func (e *Entry) EffectiveExecutionTime() time.Time {
	return time.UnixMilli(e.EffectiveExecutionTimeMs).UTC()
}

// PageRequest selects a page of history.
type PageRequest struct {
	Offset int
	Limit  int
}

// Page is a page of history, newest first.
type Page struct {
	Entries []*Entry
	Offset  int
	Limit   int
	Total   int // Total entries for the schedule
}

// HasMore reports whether entries exist beyond this page.
func (p *Page) HasMore() bool {
	return p.Offset+len(p.Entries) < p.Total
}

// Next returns the request for the following page.
func (p *Page) Next() PageRequest {
	return PageRequest{Offset: p.Offset + len(p.Entries), Limit: p.Limit}
}
