package schedule

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinFrequency is the shortest accepted period.
const MinFrequency = time.Second

var (
	dayPattern = regexp.MustCompile(`^(\d+)d(.*)$`)
	isoPattern = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
)

type frequencyTrigger struct {
	period time.Duration
}

func parseFrequency(expression string) (Trigger, error) {
	period, err := ParseFrequency(expression)
	if err != nil {
		return nil, &ParseError{Type: TypeFrequency, Expression: expression, Err: err}
	}
	return &frequencyTrigger{period: period}, nil
}

// NextFireAfter adds the period to the anchor.
func (f *frequencyTrigger) NextFireAfter(afterMs int64) int64 {
	ms := f.period.Milliseconds()
	if afterMs > Never-ms {
		return Never
	}
	return afterMs + ms
}

// Period returns the fixed period of the trigger.
func (f *frequencyTrigger) Period() time.Duration {
	return f.period
}

// ParseFrequency parses an ISO-8601 duration (PT1H, P1D), a Go duration
// (90m) or a duration with a day suffix (2d12h).
func ParseFrequency(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}

	var (
		d   time.Duration
		err error
	)
	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "P") {
		d, err = parseISODuration(upper)
	} else {
		d, err = parseDayDuration(s)
	}
	if err != nil {
		return 0, err
	}

	if d < MinFrequency {
		return 0, fmt.Errorf("frequency must be at least %s", MinFrequency)
	}
	return d, nil
}

// parseDayDuration accepts a Go duration optionally prefixed by a whole
// number of days, such as "2d12h".
func parseDayDuration(s string) (time.Duration, error) {
	m := dayPattern.FindStringSubmatch(s)
	if m == nil {
		return time.ParseDuration(s)
	}

	days, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid day count in %q: %w", s, err)
	}
	total, err := mulDuration(days, 24*time.Hour)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}

	if m[2] == "" {
		return total, nil
	}
	rest, err := time.ParseDuration(m[2])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if rest < 0 {
		return 0, fmt.Errorf("invalid duration %q: negative component", s)
	}
	return addDuration(total, rest)
}

var errDurationOverflow = errors.New("duration out of range")

func mulDuration(n int64, unit time.Duration) (time.Duration, error) {
	if n < 0 || n > math.MaxInt64/int64(unit) {
		return 0, errDurationOverflow
	}
	return time.Duration(n) * unit, nil
}

func addDuration(a, b time.Duration) (time.Duration, error) {
	if b > math.MaxInt64-a {
		return 0, errDurationOverflow
	}
	return a + b, nil
}

func parseISODuration(s string) (time.Duration, error) {
	m := isoPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		part, err := mulDuration(n, unit)
		if err == nil {
			total, err = addDuration(total, part)
		}
		if err != nil {
			return 0, fmt.Errorf("ISO-8601 duration %q: %w", s, err)
		}
	}
	if m[5] != "" {
		secs, err := strconv.ParseFloat(m[5], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		if secs*float64(time.Second) >= math.MaxInt64 {
			return 0, fmt.Errorf("ISO-8601 duration %q: %w", s, errDurationOverflow)
		}
		if total, err = addDuration(total, time.Duration(secs*float64(time.Second))); err != nil {
			return 0, fmt.Errorf("ISO-8601 duration %q: %w", s, err)
		}
	}
	return total, nil
}
