package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	kit "classbot/internal/transport"
	"classbot/pkg/logx"
)

// Service fans payloads out to every registered recipient.
// It is safe for concurrent use.
type Service struct {
	cfg        Config
	adapter    kit.Adapter
	recipients RecipientSource
	log        logx.Logger
	limiter    *rate.Limiter
}

func New(cfg Config, adapter kit.Adapter, recipients RecipientSource, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	return &Service{
		cfg:        cfg,
		adapter:    adapter,
		recipients: recipients,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Fanout calls deliver once per chat id. Failures are isolated per recipient.
func (s *Service) Fanout(ctx context.Context, name string, chatIDs []int64, deliver DeliverFunc) Result {
	start := time.Now()
	res := Result{ID: uuid.NewString(), Name: name, Total: len(chatIDs)}
	if len(chatIDs) == 0 || deliver == nil {
		res.Took = time.Since(start)
		return res
	}
	s.log.Debug("fanout started", logx.String("job", res.ID), logx.String("name", name), logx.Int("total", res.Total))

	var (
		mu     sync.Mutex
		failed []int64
	)
	// Tasks never return an error so one failure cannot cancel its siblings.
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, id := range chatIDs {
		g.Go(func() error {
			if err := s.deliverOne(ctx, res.ID, name, id, deliver); err != nil {
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(failed)
	res.Failed = failed
	res.Sent = res.Total - len(failed)
	res.Took = time.Since(start)

	fields := []logx.Field{
		logx.String("job", res.ID),
		logx.String("name", name),
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("failed", len(failed)),
		logx.Duration("dur", res.Took),
	}
	if len(failed) > 0 {
		s.log.Warn("fanout finished with failures", fields...)
	} else {
		s.log.Info("fanout finished", fields...)
	}
	return res
}

func (s *Service) deliverOne(ctx context.Context, jobID, name string, chatID int64, deliver DeliverFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in fanout delivery", logx.String("job", jobID), logx.Int64("chat_id", chatID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := s.limiter.Wait(ctx); err != nil {
		s.log.Warn("fanout delivery skipped", logx.String("job", jobID), logx.String("name", name), logx.Int64("chat_id", chatID), logx.Err(err))
		return err
	}
	if err := deliver(ctx, chatID); err != nil {
		s.log.Warn("fanout delivery failed", logx.String("job", jobID), logx.String("name", name), logx.Int64("chat_id", chatID), logx.Err(err))
		return err
	}
	return nil
}

// Relay copies src verbatim to every registered recipient.
func (s *Service) Relay(ctx context.Context, src kit.MessageRef) (Result, error) {
	ids, err := s.recipients.ListRecipientIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list recipients: %w", err)
	}
	return s.Fanout(ctx, "broadcast", ids, func(ctx context.Context, chatID int64) error {
		return s.adapter.CopyMessage(ctx, kit.ChatTarget{ChatID: chatID}, src)
	}), nil
}

// SendText sends text to every registered recipient.
func (s *Service) SendText(ctx context.Context, name, text string, opt *kit.SendOptions) (Result, error) {
	ids, err := s.recipients.ListRecipientIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list recipients: %w", err)
	}
	return s.SendTextTo(ctx, name, ids, text, opt), nil
}

// SendTextTo sends text to an already resolved recipient list.
func (s *Service) SendTextTo(ctx context.Context, name string, chatIDs []int64, text string, opt *kit.SendOptions) Result {
	return s.Fanout(ctx, name, chatIDs, func(ctx context.Context, chatID int64) error {
		_, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt)
		return err
	})
}
