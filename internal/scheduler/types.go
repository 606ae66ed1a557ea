package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"classbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Dhaka"
	// HistorySize bounds the run history kept for Snapshot. 0 means 50.
	HistorySize int
}

type scheduleDef struct {
	name       string
	spec       string // cron spec or @every
	every      time.Duration
	firstDelay time.Duration
	timeout    time.Duration
	job        func(ctx context.Context) error
	entryID    cron.EntryID
	running    *runState
}

// runState tracks whether a job is in flight.
type runState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	// runCtx is the parent of every job context; cancelled by Stop.
	runCtx    context.Context
	runCancel context.CancelFunc

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	hmu     sync.Mutex
	history []HistoryItem
	skipped uint64
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Timezone  string
	Running   bool
	Skipped   uint64
	Schedules []ScheduleInfo
	History   []HistoryItem
}
