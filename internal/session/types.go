package session

import (
	"context"
	"errors"
	"time"

	"classbot/internal/notifier"
	kit "classbot/internal/transport"
)

// ErrUnauthorized is returned by Begin when the caller is not privileged.
var ErrUnauthorized = errors.New("session: caller is not privileged")

// Flow names a multi-step form.
type Flow int

const (
	FlowNone Flow = iota
	FlowClass
	FlowNotice
	FlowResource
	FlowBroadcast
)

func (f Flow) String() string {
	switch f {
	case FlowClass:
		return "class"
	case FlowNotice:
		return "notice"
	case FlowResource:
		return "resource"
	case FlowBroadcast:
		return "broadcast"
	default:
		return "none"
	}
}

// Step is the input a session is waiting for.
type Step int

const (
	StepNone Step = iota
	StepAwaitTime
	StepAwaitCourse
	StepAwaitRoom
	StepAwaitTeacher
	StepAwaitTitle
	StepAwaitBody
	StepAwaitFile
	StepAwaitPayload
	// StepRelaying holds the chat while a broadcast is delivered in the background.
	StepRelaying
)

func (s Step) String() string {
	switch s {
	case StepAwaitTime:
		return "await_time"
	case StepAwaitCourse:
		return "await_course"
	case StepAwaitRoom:
		return "await_room"
	case StepAwaitTeacher:
		return "await_teacher"
	case StepAwaitTitle:
		return "await_title"
	case StepAwaitBody:
		return "await_body"
	case StepAwaitFile:
		return "await_file"
	case StepAwaitPayload:
		return "await_payload"
	case StepRelaying:
		return "relaying"
	default:
		return "none"
	}
}

func firstStep(f Flow) Step {
	switch f {
	case FlowClass:
		return StepAwaitTime
	case FlowNotice:
		return StepAwaitTitle
	case FlowResource:
		return StepAwaitFile
	case FlowBroadcast:
		return StepAwaitPayload
	default:
		return StepNone
	}
}

// Caller identifies who sent a turn.
type Caller struct {
	ChatID   int64
	UserID   int64
	Username string
}

// Input is one inbound turn.
type Input struct {
	Text       string
	Caption    string
	Attachment *kit.Attachment
	// Ref points at the original message, used to relay broadcasts verbatim.
	Ref kit.MessageRef
}

// Reply is what the caller should be told after a turn.
type Reply struct {
	Text string
	// Ended is set when the turn closed the session.
	Ended bool
	// Pending, when set, must be run by the caller off the turn's goroutine.
	// Its reply goes to the same chat. The session stays busy until it returns.
	Pending func(ctx context.Context) Reply
}

// Relayer copies one message to every recipient.
type Relayer interface {
	Relay(ctx context.Context, src kit.MessageRef) (notifier.Result, error)
}

type Config struct {
	// IdleTimeout discards sessions with no turn for this long. 0 means 15m.
	IdleTimeout time.Duration
}

type state struct {
	flow      Flow
	step      Step
	fields    map[string]string
	startedAt time.Time
	touchedAt time.Time

	// stop aborts a relay in flight. Guarded by Manager.mu.
	stop context.CancelFunc
}
