package bot

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	rtsup "classbot/internal/runtime/supervisor"
	kit "classbot/internal/transport"
	"classbot/pkg/logx"
)

// UpdateHandler processes one update. Calls for the same chat never overlap.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, up kit.Update)
}

type DispatcherConfig struct {
	// Workers is the number of shards. 0 means 8.
	Workers int
	// QueueSize is the total buffered capacity across shards. 0 means 256.
	QueueSize int
}

// Dispatcher fans updates out to workers sharded by chat id, so one chat's
// turns run strictly in order while different chats run in parallel.
type Dispatcher struct {
	cfg    DispatcherConfig
	log    logx.Logger
	handle UpdateHandler

	// OnOverflow, when set, is called for an update dropped because its
	// shard queue is full. It runs off the dispatch loop; while
	// overflowSlots calls are in flight further drops are not reported.
	OnOverflow func(ctx context.Context, up kit.Update)

	overflow chan struct{}
	dropped  atomic.Uint64
}

const overflowSlots = 4

func NewDispatcher(cfg DispatcherConfig, h UpdateHandler, log logx.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, log: log, handle: h, overflow: make(chan struct{}, overflowSlots)}
}

// Dropped returns how many updates were rejected because a shard was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run consumes updates until ctx is done or updates is closed.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	n := d.cfg.Workers
	perShard := max(d.cfg.QueueSize/n, 1)
	shards := make([]chan kit.Update, n)
	for i := range shards {
		shards[i] = make(chan kit.Update, perShard)
	}

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	d.log.Info("dispatcher started", logx.Int("workers", n), logx.Int("shard_queue_cap", perShard))

	for i := 0; i < n; i++ {
		idx := i
		jobs := shards[i]
		sup.GoRestart("dispatch.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-jobs:
					if !ok {
						return nil
					}
					d.runOne(c, idx, up)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("dispatcher stopped", logx.Uint64("dropped", d.dropped.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				d.log.Info("updates channel closed")
				return nil
			}
			d.enqueue(ctx, sup, shards, up)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, sup *rtsup.Supervisor, shards []chan kit.Update, up kit.Update) {
	if up.Message == nil {
		return
	}
	idx := shardFor(up.Message.ChatID, len(shards))
	select {
	case shards[idx] <- up:
	default:
		d.dropped.Add(1)
		d.log.Warn("shard queue full; update dropped", logx.Int("worker", idx), logx.Int64("chat_id", up.Message.ChatID))
		if d.OnOverflow == nil {
			return
		}
		select {
		case d.overflow <- struct{}{}:
			sup.Go0("dispatch.overflow", func(c context.Context) {
				defer func() { <-d.overflow }()
				d.OnOverflow(c, up)
			})
		default:
		}
	}
}

func (d *Dispatcher) runOne(ctx context.Context, worker int, up kit.Update) {
	// Handlers recover their own panics; keep the worker alive regardless.
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in dispatch worker", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	d.handle.HandleUpdate(ctx, up)
}

func shardFor(chatID int64, n int) int {
	if n <= 1 {
		return 0
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(chatID))
	h := fnv.New64a()
	_, _ = h.Write(b[:])
	return int(h.Sum64() % uint64(n))
}
