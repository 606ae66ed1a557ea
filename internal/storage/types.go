package storage

import (
	"context"
	"errors"
	"time"

	"classbot/internal/model"
)

var ErrClosed = errors.New("storage closed")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by sessions, reminders and the notifier.
type Store interface {
	// RegisterRecipient inserts r unless its chat id already exists.
	RegisterRecipient(ctx context.Context, r model.Recipient) error
	ListRecipientIDs(ctx context.Context) ([]int64, error)
	CountRecipients(ctx context.Context) (int, error)

	// AddEvent normalizes e.Time and appends the event. A malformed time
	// yields a *model.ValidationError.
	AddEvent(ctx context.Context, e model.ClassEvent) (model.ClassEvent, error)
	// ListEvents returns today's events ordered by time.
	ListEvents(ctx context.Context) ([]model.ClassEvent, error)
	// ListEventsAt returns events whose time equals hhmm exactly.
	ListEventsAt(ctx context.Context, hhmm string) ([]model.ClassEvent, error)
	// ClearEvents deletes every event and reports how many were removed.
	ClearEvents(ctx context.Context) (int64, error)

	AddNotice(ctx context.Context, n model.Notice) (model.Notice, error)
	ListRecentNotices(ctx context.Context, limit int) ([]model.Notice, error)

	AddResource(ctx context.Context, r model.Resource) (model.Resource, error)
	ListRecentResources(ctx context.Context, limit int) ([]model.Resource, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records a privileged action.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	Action        string
	Target        string
	OK            int
	Fail          int
	Error         string
	TookMS        int64
}
