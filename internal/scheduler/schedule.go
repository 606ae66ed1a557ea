package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// delayedSchedule wraps a base schedule and overrides the first run time.
// After the first run, it delegates to the base schedule.
type delayedSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule fires every `every`, first at now+firstDelay. A zero
// firstDelay keeps cron's default of one full interval.
func intervalSchedule(every, firstDelay time.Duration, now time.Time) cron.Schedule {
	base := cron.Every(every)
	if firstDelay <= 0 {
		return base
	}
	return &delayedSchedule{base: base, first: now.Add(firstDelay)}
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
