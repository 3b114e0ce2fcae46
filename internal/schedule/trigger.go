package schedule

import (
	"fmt"
	"time"
	_ "time/tzdata" // timezones must resolve on hosts without zoneinfo
)

// Never is returned by NextFireAfter when a trigger will not fire again.
const Never int64 = 1<<63 - 1

// Trigger computes fire times for a parsed schedule expression.
type Trigger interface {
	// NextFireAfter returns the first fire time strictly after afterMs.
	NextFireAfter(afterMs int64) int64
}

// Parse parses an expression under the given schedule type. An empty
// timezone means UTC.
func Parse(t Type, expression, timezone string) (Trigger, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, &ParseError{Type: t, Expression: expression, Err: err}
	}

	switch t {
	case TypeCron:
		return parseCron(expression, loc)
	case TypeFrequency:
		return parseFrequency(expression)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}
	return loc, nil
}
