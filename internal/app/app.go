package app

import (
	"context"
	"fmt"
	"time"

	"classbot/internal/auth"
	"classbot/internal/bot"
	"classbot/internal/config"
	"classbot/internal/notifier"
	"classbot/internal/reminder"
	rtsup "classbot/internal/runtime/supervisor"
	"classbot/internal/scheduler"
	"classbot/internal/session"
	"classbot/internal/storage"
	kit "classbot/internal/transport"
	"classbot/internal/transport/telegram"
	"classbot/pkg/logx"
	"classbot/pkg/systemd"
)

const jobSessionSweep = "session.sweep"

type App struct {
	cfg *config.Config

	sup *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter

	sched  *scheduler.Service
	router *bot.Router
	disp   *bot.Dispatcher

	updates chan kit.Update
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config) (*App, error) {
	res, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	// The ops sink gets its sender once the adapter exists.
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, nil)
	appLog := log.With(logx.String("comp", "app"))

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: res.PollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.AttachSender(ad)

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: res.BusyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	gate := auth.NewGate(cfg.Admins)
	if gate.Len() == 0 {
		appLog.Warn("no admins configured; privileged flows are disabled")
	}

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Timezone}, log.With(logx.String("comp", "scheduler")))

	notif := notifier.New(notifier.Config{
		Workers:    cfg.Broadcast.Workers,
		RatePerSec: cfg.Broadcast.RatePerSec,
	}, ad, store, log.With(logx.String("comp", "notifier")))

	sessions := session.New(session.Config{IdleTimeout: res.SessionIdle}, session.Deps{
		Store: store,
		Gate:  gate,
		Relay: notif,
		Log:   log.With(logx.String("comp", "session")),
	})

	rem := reminder.New(reminder.Config{
		Every:      res.ReminderEvery,
		FirstDelay: res.ReminderFirstDelay,
		Lead:       res.ReminderLead,
		ResetAt:    cfg.Reminder.ResetAt,
		Timeout:    res.ReminderTimeout,
	}, store, notif, res.Location, log.With(logx.String("comp", "reminder")))
	if err := rem.Register(sched); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	if _, err := sched.AddInterval(jobSessionSweep, res.SessionSweep, 0, 5*time.Second, func(ctx context.Context) error {
		sessions.Sweep(time.Now())
		return nil
	}); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("register %s: %w", jobSessionSweep, err)
	}

	router := bot.NewRouter(bot.Deps{
		Out:       ad,
		Store:     store,
		Gate:      gate,
		Sessions:  sessions,
		Status:    sched,
		Directory: cfg.Directory,
		Location:  res.Location,
		Log:       log.With(logx.String("comp", "router")),
	})
	disp := bot.NewDispatcher(bot.DispatcherConfig{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, router, log.With(logx.String("comp", "dispatch")))
	disp.OnOverflow = router.Overflow

	return &App{
		cfg:     cfg,
		log:     appLog,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		sched:   sched,
		router:  router,
		disp:    disp,
		updates: make(chan kit.Update, cfg.Dispatch.QueueSize),
	}, nil
}

// Logger returns the app component logger.
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log)
	})
	systemd.Ready(a.log)

	a.log.Info("app started",
		logx.String("tz", a.sched.Location().String()),
		logx.Int("admins", len(a.cfg.Admins)),
		logx.String("db", a.cfg.Storage.Path),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.Stopping(a.log)

	// Unwind background loops first.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Order: triggers, background relays, transport, in-flight handlers, storage.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("router", 3*time.Second, func(c context.Context) error { return a.router.Close(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 4*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
