// Package schedule describes when an analytic rule should fire.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Type represents the type of schedule.
type Type string

const (
	// TypeCron fires on cron expression matches.
	TypeCron Type = "CRON"
	// TypeFrequency fires at a fixed period after the previous boundary.
	TypeFrequency Type = "FREQUENCY"
)

// ParseType parses a schedule type name, case-insensitively.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeCron:
		return TypeCron, nil
	case TypeFrequency:
		return TypeFrequency, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// UserRef identifies the user a scheduled run executes as.
type UserRef struct {
	UUID string `json:"uuid" yaml:"uuid"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// IsZero reports whether the reference is unset.
func (u UserRef) IsZero() bool {
	return u.UUID == ""
}

func (u UserRef) String() string {
	if u.Name != "" {
		return u.Name
	}
	return u.UUID
}

// Schedule describes when and where an analytic rule is executed.
type Schedule struct {
	ID         string  // Unique schedule ID
	Name       string  // Schedule name
	RuleRef    string  // Opaque reference to the owning analytic rule
	NodeName   string  // Node affinity ("" or "*" runs on any node)
	Enabled    bool    // Whether schedule is enabled
	Type       Type    // Schedule type (CRON, FREQUENCY)
	Expression string  // Cron expression or frequency duration
	Timezone   string  // Timezone for cron evaluation (default "UTC")
	Contiguous bool    // Process every interval, never telescope
	Bounds     Bounds  // Optional validity bounds
	RunAsUser  UserRef // Identity the rule executes under
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Trigger parses the schedule expression.
func (s *Schedule) Trigger() (Trigger, error) {
	return Parse(s.Type, s.Expression, s.Timezone)
}

// AnyNode reports whether the schedule may run on every node.
func (s *Schedule) AnyNode() bool {
	return s.NodeName == "" || s.NodeName == "*"
}

// Validate checks the schedule is well formed before it is persisted.
func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if strings.TrimSpace(s.RuleRef) == "" {
		return fmt.Errorf("%w: rule reference is required", ErrInvalidSchedule)
	}
	if _, err := s.Trigger(); err != nil {
		return err
	}
	if err := s.Bounds.Validate(); err != nil {
		return err
	}
	return nil
}

// Tracker is the durable per-schedule watermark state.
type Tracker struct {
	// ActualExecutionTimeMs is the wall-clock time the schedule last fired (0 = never).
	ActualExecutionTimeMs int64
	// LastEffectiveExecutionTimeMs is the exclusive upper bound of processed data.
	LastEffectiveExecutionTimeMs int64
	// NextEffectiveExecutionTimeMs is the precomputed next boundary, nil if unknown.
	NextEffectiveExecutionTimeMs *int64
}

// Fired reports whether the schedule has executed at least once.
func (t *Tracker) Fired() bool {
	return t != nil && t.ActualExecutionTimeMs > 0
}
