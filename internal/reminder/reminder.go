// Package reminder alerts every recipient shortly before each class and
// wipes the day's classes at midnight.
package reminder

import (
	"context"
	"fmt"
	"time"

	"classbot/internal/model"
	"classbot/internal/notifier"
	kit "classbot/internal/transport"
	"classbot/pkg/logx"
	"classbot/pkg/tgui"
)

const (
	JobAlert = "reminder.alert"
	JobReset = "reminder.reset"
)

type Config struct {
	// Every is the alert scan period. 0 means 60s.
	Every time.Duration
	// FirstDelay is the wait before the first scan. 0 means 10s.
	FirstDelay time.Duration
	// Lead is how far ahead of a class the alert fires. 0 means 5m.
	Lead time.Duration
	// ResetAt is the daily wipe time, HH:MM. Empty means "00:00".
	ResetAt string
	// Timeout bounds one job run. 0 means 45s.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Every <= 0 {
		c.Every = 60 * time.Second
	}
	if c.FirstDelay <= 0 {
		c.FirstDelay = 10 * time.Second
	}
	if c.Lead <= 0 {
		c.Lead = 5 * time.Minute
	}
	if c.ResetAt == "" {
		c.ResetAt = "00:00"
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	return c
}

// Store is the subset of storage the reminder jobs read and wipe.
type Store interface {
	ListEventsAt(ctx context.Context, hhmm string) ([]model.ClassEvent, error)
	ListRecipientIDs(ctx context.Context) ([]int64, error)
	ClearEvents(ctx context.Context) (int64, error)
}

type Notifier interface {
	SendTextTo(ctx context.Context, name string, chatIDs []int64, text string, opt *kit.SendOptions) notifier.Result
}

// Scheduler registers the periodic triggers.
type Scheduler interface {
	AddInterval(name string, every, firstDelay, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
}

type Service struct {
	cfg      Config
	store    Store
	notifier Notifier
	loc      *time.Location
	log      logx.Logger
	now      func() time.Time
}

func New(cfg Config, store Store, n Notifier, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{cfg: cfg.withDefaults(), store: store, notifier: n, loc: loc, log: log, now: time.Now}
}

// Register adds the alert scan and the daily reset to sched.
func (s *Service) Register(sched Scheduler) error {
	if _, err := sched.AddInterval(JobAlert, s.cfg.Every, s.cfg.FirstDelay, s.cfg.Timeout, func(ctx context.Context) error {
		_, err := s.Tick(ctx, s.now())
		return err
	}); err != nil {
		return fmt.Errorf("register %s: %w", JobAlert, err)
	}
	if _, err := sched.AddDaily(JobReset, s.cfg.ResetAt, s.cfg.Timeout, s.Reset); err != nil {
		return fmt.Errorf("register %s: %w", JobReset, err)
	}
	return nil
}

// Target returns the HH:MM an alert scan at now looks for.
func (s *Service) Target(now time.Time) string {
	return now.In(s.loc).Add(s.cfg.Lead).Format(model.TimeLayout)
}

// Tick alerts every recipient about each class starting exactly Lead after
// now. It returns the number of classes alerted. A store failure abandons
// the tick.
func (s *Service) Tick(ctx context.Context, now time.Time) (int, error) {
	target := s.Target(now)
	s.log.Debug("alert scan", logx.String("now", now.In(s.loc).Format("15:04:05")), logx.String("target", target))

	events, err := s.store.ListEventsAt(ctx, target)
	if err != nil {
		s.log.Error("alert scan failed", logx.String("target", target), logx.Err(err))
		return 0, fmt.Errorf("list events at %s: %w", target, err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	ids, err := s.store.ListRecipientIDs(ctx)
	if err != nil {
		s.log.Error("alert recipients failed", logx.String("target", target), logx.Err(err))
		return 0, fmt.Errorf("list recipients: %w", err)
	}
	s.log.Info("sending class alerts", logx.String("target", target), logx.Int("classes", len(events)), logx.Int("recipients", len(ids)))

	opt := &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true}
	for _, e := range events {
		res := s.notifier.SendTextTo(ctx, JobAlert, ids, s.alertText(e).String(), opt)
		s.log.Debug("class alert delivered", logx.Int64("event_id", e.ID), logx.String("course", e.Course), logx.Int("sent", res.Sent), logx.Int("total", res.Total))
	}
	return len(events), nil
}

func (s *Service) alertText(e model.ClassEvent) tgui.H {
	return tgui.Lines(
		tgui.Concat("⏰ ", tgui.B(fmt.Sprintf("Class reminder (%d minutes left)!", int(s.cfg.Lead.Minutes())))),
		"",
		tgui.Concat("Course: ", tgui.B(e.Course)),
		tgui.Concat("Time: ", tgui.Esc(e.Time)),
		tgui.Concat("Room: ", tgui.Esc(e.Room)),
		tgui.Concat("Teacher: ", tgui.Esc(e.Teacher)),
	)
}

// Reset deletes every class of the finished day.
func (s *Service) Reset(ctx context.Context) error {
	n, err := s.store.ClearEvents(ctx)
	if err != nil {
		s.log.Error("daily reset failed", logx.Err(err))
		return fmt.Errorf("clear events: %w", err)
	}
	s.log.Info("daily classes reset", logx.Int64("removed", n))
	return nil
}
