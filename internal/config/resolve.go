package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resolved holds the parsed form of every duration and the timezone.
type Resolved struct {
	Location *time.Location

	PollTimeout time.Duration
	BusyTimeout time.Duration

	ReminderEvery      time.Duration
	ReminderFirstDelay time.Duration
	ReminderLead       time.Duration
	ReminderTimeout    time.Duration

	SessionIdle  time.Duration
	SessionSweep time.Duration
}

// Resolve parses durations (applying defaults for omitted ones) and loads
// the timezone.
func (c *Config) Resolve() (Resolved, error) {
	var (
		r    Resolved
		errs []error
	)
	dur := func(dst *time.Duration, path, raw string, def time.Duration) {
		d, err := parseDuration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}
	dur(&r.PollTimeout, "telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	dur(&r.BusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout, DefaultBusyTimeout)
	dur(&r.ReminderEvery, "reminder.every", c.Reminder.Every, DefaultReminderEvery)
	dur(&r.ReminderFirstDelay, "reminder.first_delay", c.Reminder.FirstDelay, DefaultReminderFirstDelay)
	dur(&r.ReminderLead, "reminder.lead", c.Reminder.Lead, DefaultReminderLead)
	dur(&r.ReminderTimeout, "reminder.timeout", c.Reminder.Timeout, DefaultReminderTimeout)
	dur(&r.SessionIdle, "session.idle_timeout", c.Session.IdleTimeout, DefaultSessionIdle)
	dur(&r.SessionSweep, "session.sweep_every", c.Session.SweepEvery, DefaultSessionSweep)

	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		r.Location = time.Local
	} else if loc, err := time.LoadLocation(tz); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	} else {
		r.Location = loc
	}
	return r, errors.Join(errs...)
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(c.Reminder.ResetAt)); err != nil {
		errs = append(errs, fmt.Errorf("reminder.reset_at: %q is not HH:MM", c.Reminder.ResetAt))
	}
	if c.Broadcast.Workers < 0 || c.Broadcast.RatePerSec < 0 {
		errs = append(errs, errors.New("broadcast: workers and rate_per_sec must be >= 0"))
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id is required when enabled"))
	}
	if _, err := c.Resolve(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// parseDuration reads a Go duration string. Blank or zero yields def;
// negative values are rejected.
func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}
