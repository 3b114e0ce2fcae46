package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidExpression is returned when an expression cannot be parsed for its type.
	ErrInvalidExpression = errors.New("invalid schedule expression")
	// ErrUnknownType is returned for schedule types other than CRON and FREQUENCY.
	ErrUnknownType = fmt.Errorf("%w: unknown schedule type", ErrInvalidExpression)
	// ErrInvalidBounds is returned when bounds start after they end.
	ErrInvalidBounds = errors.New("invalid schedule bounds")
	// ErrInvalidSchedule is returned when a schedule fails validation.
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// ParseError describes an expression that failed to parse.
type ParseError struct {
	Type       Type
	Expression string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s expression %q: %v", e.Type, e.Expression, e.Err)
}

// Unwrap lets errors.Is match both ErrInvalidExpression and the cause.
func (e *ParseError) Unwrap() []error {
	return []error{ErrInvalidExpression, e.Err}
}

// IsConfigurationError reports whether err stems from a malformed schedule.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidExpression) ||
		errors.Is(err, ErrInvalidBounds) ||
		errors.Is(err, ErrInvalidSchedule)
}
