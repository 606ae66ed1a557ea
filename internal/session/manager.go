package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"classbot/internal/auth"
	"classbot/internal/model"
	"classbot/internal/storage"
	kit "classbot/internal/transport"
	"classbot/pkg/logx"
)

// Deps are the collaborators a Manager commits through.
type Deps struct {
	Store storage.Store
	Gate  *auth.Gate
	Relay Relayer
	Log   logx.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Manager owns every in-flight form session, keyed by chat id.
//
// Turns for one chat must be delivered sequentially; turns for different
// chats may run concurrently.
type Manager struct {
	cfg   Config
	store storage.Store
	gate  *auth.Gate
	relay Relayer
	log   logx.Logger
	now   func() time.Time

	mu       sync.Mutex
	sessions map[int64]*state
}

func New(cfg Config, deps Deps) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		store:    deps.Store,
		gate:     deps.Gate,
		relay:    deps.Relay,
		log:      log,
		now:      now,
		sessions: map[int64]*state{},
	}
}

// Begin opens flow for the caller and returns the first prompt. An active
// session for the same chat is replaced, unless it is still relaying.
func (m *Manager) Begin(ctx context.Context, c Caller, flow Flow) (Reply, error) {
	if !m.gate.IsPrivileged(c.Username) {
		m.log.Info("privileged flow rejected", logx.Int64("chat_id", c.ChatID), logx.String("username", c.Username), logx.String("flow", flow.String()))
		return Reply{Text: msgUnauthorized, Ended: true}, ErrUnauthorized
	}
	step := firstStep(flow)
	if step == StepNone {
		return Reply{}, fmt.Errorf("session: unknown flow %d", flow)
	}

	now := m.now()
	m.mu.Lock()
	if prev, ok := m.sessions[c.ChatID]; ok && prev.step == StepRelaying {
		m.mu.Unlock()
		return Reply{Text: msgRelayBusy}, nil
	}
	if prev, ok := m.sessions[c.ChatID]; ok {
		m.log.Warn("replacing active session",
			logx.Int64("chat_id", c.ChatID),
			logx.String("prev_flow", prev.flow.String()),
			logx.String("prev_step", prev.step.String()),
			logx.String("flow", flow.String()),
		)
	}
	m.sessions[c.ChatID] = &state{
		flow:      flow,
		step:      step,
		fields:    map[string]string{},
		startedAt: now,
		touchedAt: now,
	}
	m.mu.Unlock()

	m.log.Debug("session started", logx.Int64("chat_id", c.ChatID), logx.String("flow", flow.String()))
	return Reply{Text: promptFor(step)}, nil
}

// Cancel discards the chat's session and aborts a relay in flight. It
// reports whether a session existed.
func (m *Manager) Cancel(chatID int64) bool {
	m.mu.Lock()
	st, ok := m.sessions[chatID]
	delete(m.sessions, chatID)
	if ok && st.stop != nil {
		st.stop()
	}
	m.mu.Unlock()
	if ok {
		m.log.Debug("session cancelled", logx.Int64("chat_id", chatID), logx.String("flow", st.flow.String()), logx.String("step", st.step.String()))
	}
	return ok
}

// CancelReply is the user-facing text for a cancel request.
func (m *Manager) CancelReply(chatID int64) Reply {
	if m.Cancel(chatID) {
		return Reply{Text: msgCancelled, Ended: true}
	}
	return Reply{Text: msgNothingActive, Ended: true}
}

// Active reports the chat's current flow and step.
func (m *Manager) Active(chatID int64) (Flow, Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[chatID]
	if !ok || m.expired(st, m.now()) {
		return FlowNone, StepNone, false
	}
	return st.flow, st.step, true
}

// Sweep drops sessions idle longer than the configured timeout and returns
// how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, st := range m.sessions {
		if m.expired(st, now) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		m.log.Info("idle sessions expired", logx.Int("count", n), logx.Duration("idle_timeout", m.cfg.IdleTimeout))
	}
	return n
}

// expired never holds for a relaying session; the relay owns its lifetime.
func (m *Manager) expired(st *state, now time.Time) bool {
	return st.step != StepRelaying && now.Sub(st.touchedAt) > m.cfg.IdleTimeout
}

// Handle feeds one turn to the chat's session. It returns false when the
// chat has no active session.
func (m *Manager) Handle(ctx context.Context, c Caller, in Input) (Reply, bool) {
	now := m.now()
	m.mu.Lock()
	st, ok := m.sessions[c.ChatID]
	if ok && m.expired(st, now) {
		delete(m.sessions, c.ChatID)
		ok = false
		m.log.Debug("session expired", logx.Int64("chat_id", c.ChatID), logx.String("flow", st.flow.String()))
	}
	if !ok {
		m.mu.Unlock()
		return Reply{}, false
	}
	if st.step == StepRelaying {
		m.mu.Unlock()
		return Reply{Text: msgRelayBusy}, true
	}
	// Work on a copy so a concurrent Cancel or Begin is not overwritten.
	cur := &state{
		flow:      st.flow,
		step:      st.step,
		fields:    make(map[string]string, len(st.fields)+1),
		startedAt: st.startedAt,
		touchedAt: now,
	}
	for k, v := range st.fields {
		cur.fields[k] = v
	}
	m.mu.Unlock()

	reply := m.advance(ctx, c, cur, in)

	m.mu.Lock()
	if m.sessions[c.ChatID] == st {
		if reply.Ended {
			delete(m.sessions, c.ChatID)
		} else {
			m.sessions[c.ChatID] = cur
		}
	}
	m.mu.Unlock()
	return reply, true
}

func (m *Manager) advance(ctx context.Context, c Caller, st *state, in Input) Reply {
	switch st.step {
	case StepAwaitTime:
		if in.Attachment != nil {
			return Reply{Text: msgBadTime}
		}
		hhmm, err := model.NormalizeTime(in.Text)
		if err != nil {
			return Reply{Text: msgBadTime}
		}
		st.fields["time"] = hhmm
		return m.next(st, StepAwaitCourse)

	case StepAwaitCourse:
		return m.collect(st, in, "course", StepAwaitRoom)

	case StepAwaitRoom:
		return m.collect(st, in, "room", StepAwaitTeacher)

	case StepAwaitTeacher:
		teacher, err := textField("teacher", in)
		if err != nil {
			return Reply{Text: msgEmptyText}
		}
		return m.commitClass(ctx, c, st, teacher)

	case StepAwaitTitle:
		return m.collect(st, in, "title", StepAwaitBody)

	case StepAwaitBody:
		body, err := textField("body", in)
		if err != nil {
			return Reply{Text: msgEmptyText}
		}
		return m.commitNotice(ctx, c, st, body)

	case StepAwaitFile:
		if in.Attachment == nil || strings.TrimSpace(in.Attachment.FileID) == "" {
			return Reply{Text: msgNeedFile}
		}
		return m.commitResource(ctx, c, in)

	case StepAwaitPayload:
		return m.commitBroadcast(ctx, c, st, in)
	}
	m.log.Error("session in unknown step", logx.Int64("chat_id", c.ChatID), logx.String("step", st.step.String()))
	return Reply{Text: msgCancelled, Ended: true}
}

func (m *Manager) next(st *state, step Step) Reply {
	st.step = step
	return Reply{Text: promptFor(step)}
}

func (m *Manager) collect(st *state, in Input, field string, next Step) Reply {
	v, err := textField(field, in)
	if err != nil {
		return Reply{Text: msgEmptyText}
	}
	st.fields[field] = v
	return m.next(st, next)
}

// textField accepts plain text only; attachments are treated as missing text.
func textField(field string, in Input) (string, error) {
	if in.Attachment != nil {
		return "", &model.ValidationError{Field: field, Reason: "expected text"}
	}
	return model.RequireText(field, in.Text)
}

func (m *Manager) commitClass(ctx context.Context, c Caller, st *state, teacher string) Reply {
	start := time.Now()
	e, err := m.store.AddEvent(ctx, model.ClassEvent{
		Time:    st.fields["time"],
		Course:  st.fields["course"],
		Room:    st.fields["room"],
		Teacher: teacher,
	})
	if err != nil {
		m.storeFailed(ctx, c, "class.add", err, start)
		return Reply{Text: msgStoreFailed, Ended: true}
	}
	m.audit(ctx, c, "class.add", fmt.Sprintf("%s %s", e.Time, e.Course), 1, 0, nil, start)
	return Reply{Text: classSaved(e.Time, e.Course, e.Room, e.Teacher), Ended: true}
}

func (m *Manager) commitNotice(ctx context.Context, c Caller, st *state, body string) Reply {
	start := time.Now()
	n, err := m.store.AddNotice(ctx, model.Notice{Title: st.fields["title"], Body: body})
	if err != nil {
		m.storeFailed(ctx, c, "notice.add", err, start)
		return Reply{Text: msgStoreFailed, Ended: true}
	}
	m.audit(ctx, c, "notice.add", n.Title, 1, 0, nil, start)
	return Reply{Text: msgNoticeSaved, Ended: true}
}

// commitResource stores one upload and keeps the session open, even on failure.
func (m *Manager) commitResource(ctx context.Context, c Caller, in Input) Reply {
	start := time.Now()
	kind := model.ResourceDocument
	if in.Attachment.Kind == kit.AttachmentPhoto {
		kind = model.ResourcePhoto
	}
	r, err := m.store.AddResource(ctx, model.Resource{
		FileID:  in.Attachment.FileID,
		Kind:    kind,
		Caption: strings.TrimSpace(in.Caption),
	})
	if err != nil {
		m.storeFailed(ctx, c, "resource.add", err, start)
		return Reply{Text: msgStoreFailed}
	}
	m.audit(ctx, c, "resource.add", r.Caption, 1, 0, nil, start)
	return Reply{Text: msgResourceSaved}
}

// commitBroadcast moves the session to StepRelaying and hands the relay back
// as Reply.Pending. The session is released when the relay returns.
func (m *Manager) commitBroadcast(ctx context.Context, c Caller, st *state, in Input) Reply {
	start := time.Now()
	total, err := m.store.CountRecipients(ctx)
	if err != nil {
		m.storeFailed(ctx, c, "broadcast", err, start)
		return Reply{Text: msgListFailed, Ended: true}
	}
	st.step = StepRelaying
	src := in.Ref
	return Reply{
		Text: fmt.Sprintf(msgBroadcastStart, total),
		Pending: func(ctx context.Context) Reply {
			return m.relayFor(ctx, c, st, src, start)
		},
	}
}

func (m *Manager) relayFor(ctx context.Context, c Caller, st *state, src kit.MessageRef, start time.Time) Reply {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.sessions[c.ChatID] != st {
		// Cancelled between the turn and the relay start.
		m.mu.Unlock()
		m.audit(ctx, c, "broadcast", "", 0, 0, context.Canceled, start)
		return Reply{Text: msgRelayAborted, Ended: true}
	}
	st.stop = cancel
	m.mu.Unlock()

	res, err := m.relay.Relay(ctx, src)

	m.mu.Lock()
	if m.sessions[c.ChatID] == st {
		delete(m.sessions, c.ChatID)
	}
	m.mu.Unlock()

	if err != nil {
		m.storeFailed(context.WithoutCancel(ctx), c, "broadcast", err, start)
		return Reply{Text: msgListFailed, Ended: true}
	}
	m.audit(context.WithoutCancel(ctx), c, "broadcast", res.ID, res.Sent, len(res.Failed), nil, start)
	return Reply{Text: fmt.Sprintf(msgBroadcastDone, res.Sent, res.Total), Ended: true}
}

func (m *Manager) storeFailed(ctx context.Context, c Caller, action string, err error, start time.Time) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		m.log.Warn("commit rejected", logx.String("action", action), logx.Int64("chat_id", c.ChatID), logx.Err(err))
	} else {
		m.log.Error("commit failed", logx.String("action", action), logx.Int64("chat_id", c.ChatID), logx.Err(err))
	}
	m.audit(ctx, c, action, "", 0, 1, err, start)
}

func (m *Manager) audit(ctx context.Context, c Caller, action, target string, ok, fail int, cause error, start time.Time) {
	e := storage.AuditEntry{
		At:            m.now(),
		ActorID:       c.UserID,
		ActorUsername: c.Username,
		Action:        action,
		Target:        target,
		OK:            ok,
		Fail:          fail,
		TookMS:        time.Since(start).Milliseconds(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := m.store.AppendAudit(ctx, e); err != nil {
		m.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
