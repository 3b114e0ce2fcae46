package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type cronTrigger struct {
	schedule cron.Schedule
	loc      *time.Location
}

func parseCron(expression string, loc *time.Location) (Trigger, error) {
	expression = strings.TrimSpace(expression)
	sched, err := cronParser.Parse(expression)
	if err != nil {
		return nil, &ParseError{Type: TypeCron, Expression: expression, Err: err}
	}
	return &cronTrigger{schedule: sched, loc: loc}, nil
}

// NextFireAfter returns the next cron match after afterMs. robfig/cron gives
// up after five years without a match and returns the zero time.
func (c *cronTrigger) NextFireAfter(afterMs int64) int64 {
	next := c.schedule.Next(time.UnixMilli(afterMs).In(c.loc))
	if next.IsZero() {
		return Never
	}
	return next.UnixMilli()
}
