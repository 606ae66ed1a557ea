package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classbot/internal/auth"
	"classbot/internal/config"
	"classbot/internal/model"
	rtsup "classbot/internal/runtime/supervisor"
	"classbot/internal/scheduler"
	"classbot/internal/session"
	"classbot/internal/storage"
	kit "classbot/internal/transport"
	"classbot/pkg/logx"
)

// Outbound is the part of the transport the router replies through.
type Outbound interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendDocument(ctx context.Context, to kit.ChatTarget, fileID, caption string) error
	SendPhoto(ctx context.Context, to kit.ChatTarget, fileID, caption string) error
}

// StatusSource reports scheduler state for /status.
type StatusSource interface {
	Snapshot() scheduler.Snapshot
}

type Deps struct {
	Out       Outbound
	Store     storage.Store
	Gate      *auth.Gate
	Sessions  *session.Manager
	Status    StatusSource
	Directory config.DirectoryConfig
	Location  *time.Location
	Log       logx.Logger

	// Timeout bounds one request. 0 means 60s.
	Timeout time.Duration
	// BroadcastTimeout bounds a broadcast relay running in the background.
	// 0 means 10m.
	BroadcastTimeout time.Duration
}

// Router turns one inbound message into replies: commands first, then the
// chat's active session, then read-only screens.
type Router struct {
	out      Outbound
	store    storage.Store
	gate     *auth.Gate
	sessions *session.Manager
	status   StatusSource
	dir      config.DirectoryConfig
	loc      *time.Location
	log      logx.Logger

	timeout          time.Duration
	broadcastTimeout time.Duration

	// bg owns work that outlives a request, so a long relay never holds a
	// dispatch shard.
	bg *rtsup.Supervisor

	busyMu   sync.Mutex
	busySent map[int64]time.Time
}

// busyWindow is the minimum gap between two busy notices to one chat.
const busyWindow = 30 * time.Second

func NewRouter(d Deps) *Router {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	if d.Timeout <= 0 {
		d.Timeout = 60 * time.Second
	}
	if d.BroadcastTimeout <= 0 {
		d.BroadcastTimeout = 10 * time.Minute
	}
	bg := rtsup.NewSupervisor(context.Background(),
		rtsup.WithLogger(log),
		rtsup.WithCancelOnError(false),
	)
	return &Router{
		out:              d.Out,
		store:            d.Store,
		gate:             d.Gate,
		sessions:         d.Sessions,
		status:           d.Status,
		dir:              d.Directory,
		loc:              loc,
		log:              log,
		timeout:          d.Timeout,
		broadcastTimeout: d.BroadcastTimeout,
		bg:               bg,
		busySent:         map[int64]time.Time{},
	}
}

// Close aborts background work and waits for it, bounded by ctx.
func (r *Router) Close(ctx context.Context) error {
	r.bg.Cancel()
	return r.bg.Wait(ctx)
}

// HandleUpdate implements UpdateHandler.
func (r *Router) HandleUpdate(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	req := r.newRequest(msg)
	final := Chain(
		r.route,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)
	_ = final(ctx, req)
}

// Overflow tells the sender an update was dropped under load, at most once
// per chat per busyWindow.
func (r *Router) Overflow(ctx context.Context, up kit.Update) {
	if up.Message == nil || !r.allowBusy(up.Message.ChatID, time.Now()) {
		return
	}
	if _, err := r.out.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID}, msgBusy, nil); err != nil {
		r.log.Debug("busy notice failed", logx.Int64("chat_id", up.Message.ChatID), logx.Err(err))
	}
}

func (r *Router) allowBusy(chatID int64, now time.Time) bool {
	r.busyMu.Lock()
	defer r.busyMu.Unlock()
	if last, ok := r.busySent[chatID]; ok && now.Sub(last) < busyWindow {
		return false
	}
	if len(r.busySent) >= 1024 {
		for id, at := range r.busySent {
			if now.Sub(at) >= busyWindow {
				delete(r.busySent, id)
			}
		}
	}
	r.busySent[chatID] = now
	return true
}

func (r *Router) newRequest(msg *kit.Message) *Request {
	caller := session.Caller{ChatID: msg.ChatID, UserID: msg.FromID, Username: msg.FromUsername}
	cmd := CmdNone
	if msg.Attachment == nil {
		cmd = Resolve(msg.Text)
	}
	rid := uuid.NewString()
	return &Request{
		Message: msg,
		Caller:  caller,
		Command: cmd,
		Admin:   r.gate.IsPrivileged(msg.FromUsername),
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.String()),
		),
	}
}

func (r *Router) route(ctx context.Context, req *Request) error {
	switch req.Command {
	case CmdStart:
		return r.start(ctx, req)
	case CmdHelp:
		return r.sendHTML(ctx, req, msgHelp, nil)
	case CmdCancel:
		reply := r.sessions.CancelReply(req.Caller.ChatID)
		return r.sendPlain(ctx, req, reply.Text, menuRows(req.Admin))
	case CmdStatus:
		return r.showStatus(ctx, req)
	case CmdAddClass, CmdAddNotice, CmdAddResource, CmdBroadcast:
		reply, err := r.sessions.Begin(ctx, req.Caller, req.Command.Flow())
		if err != nil && !errors.Is(err, session.ErrUnauthorized) {
			return err
		}
		return r.sendPlain(ctx, req, reply.Text, nil)
	}

	if req.Command == CmdNone && isSlash(req.Message) {
		// Unknown commands are never form input.
		if _, _, ok := r.sessions.Active(req.Caller.ChatID); ok {
			return r.sendPlain(ctx, req, msgUnknownCommand, nil)
		}
		return r.sendPlain(ctx, req, msgHint, nil)
	}

	if reply, ok := r.sessions.Handle(ctx, req.Caller, inputOf(req.Message)); ok {
		var kb [][]string
		if reply.Ended {
			kb = menuRows(req.Admin)
		}
		err := r.sendPlain(ctx, req, reply.Text, kb)
		if reply.Pending != nil {
			r.runPending(req, reply.Pending)
		}
		return err
	}

	switch {
	case req.Command.isView():
		return r.showView(ctx, req)
	case req.Command == CmdAdminUnknown && !req.Admin:
		return r.sendPlain(ctx, req, msgUnauthorized, nil)
	case req.Message.Attachment != nil:
		req.Logger.Debug("attachment outside a session ignored", logx.String("kind", string(req.Message.Attachment.Kind)))
		return nil
	default:
		return r.sendPlain(ctx, req, msgHint, nil)
	}
}

func (r *Router) start(ctx context.Context, req *Request) error {
	msg := req.Message
	err := r.store.RegisterRecipient(ctx, model.Recipient{
		ChatID:   msg.ChatID,
		Name:     msg.FromName,
		Username: msg.FromUsername,
	})
	if err != nil {
		// The menu is still useful without registration.
		req.Logger.Error("register recipient failed", logx.Err(err))
	}
	return r.sendHTML(ctx, req, welcomeText(msg.FromName, req.Admin), menuRows(req.Admin))
}

func (r *Router) showStatus(ctx context.Context, req *Request) error {
	if !req.Admin {
		return r.sendPlain(ctx, req, msgUnauthorized, nil)
	}
	n, err := r.store.CountRecipients(ctx)
	if err != nil {
		req.Logger.Warn("count recipients failed", logx.Err(err))
		n = -1
	}
	var snap scheduler.Snapshot
	if r.status != nil {
		snap = r.status.Snapshot()
	}
	return r.sendHTML(ctx, req, statusText(snap, n, time.Now()), nil)
}

// runPending finishes a session turn in the background and sends its reply
// to the requesting chat.
func (r *Router) runPending(req *Request, job func(ctx context.Context) session.Reply) {
	chat := req.chat()
	admin := req.Admin
	log := req.Logger
	r.bg.Go0("session.pending."+strconv.FormatInt(chat.ChatID, 10), func(ctx context.Context) {
		jctx, cancel := context.WithTimeout(ctx, r.broadcastTimeout)
		defer cancel()
		reply := job(jctx)

		var kb [][]string
		if reply.Ended {
			kb = menuRows(admin)
		}
		// The outcome is still reported when shutdown cancelled the job.
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer scancel()
		if err := r.sendTo(sctx, chat, reply.Text, kb); err != nil {
			log.Warn("pending reply failed", logx.Err(err))
		}
	})
}

func isSlash(msg *kit.Message) bool {
	return msg.Attachment == nil && strings.HasPrefix(strings.TrimSpace(msg.Text), "/")
}

func inputOf(msg *kit.Message) session.Input {
	return session.Input{
		Text:       msg.Text,
		Caption:    msg.Caption,
		Attachment: msg.Attachment,
		Ref:        msg.Ref(),
	}
}
