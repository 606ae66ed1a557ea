package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"classbot/internal/auth"
	"classbot/internal/model"
	"classbot/internal/notifier"
	"classbot/internal/storage"
	kit "classbot/internal/transport"
	"classbot/internal/transport/transporttest"
	"classbot/pkg/logx"
)

var (
	admin = Caller{ChatID: 100, UserID: 100, Username: "Rep"}
	user  = Caller{ChatID: 200, UserID: 200, Username: "student"}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type faultyStore struct {
	storage.Store
	failResource bool
	failEvent    bool
}

func (s *faultyStore) AddResource(ctx context.Context, r model.Resource) (model.Resource, error) {
	if s.failResource {
		return model.Resource{}, errors.New("disk full")
	}
	return s.Store.AddResource(ctx, r)
}

func (s *faultyStore) AddEvent(ctx context.Context, e model.ClassEvent) (model.ClassEvent, error) {
	if s.failEvent {
		return model.ClassEvent{}, errors.New("disk full")
	}
	return s.Store.AddEvent(ctx, e)
}

type fixture struct {
	m       *Manager
	store   *faultyStore
	adapter *transporttest.Adapter
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "s.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	fs := &faultyStore{Store: st}
	ad := transporttest.NewAdapter()
	clock := &fakeClock{now: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)}
	n := notifier.New(notifier.Config{RatePerSec: 1000}, ad, fs, logx.Nop())
	m := New(Config{IdleTimeout: 10 * time.Minute}, Deps{
		Store: fs,
		Gate:  auth.NewGate([]string{"@rep"}),
		Relay: n,
		Log:   logx.Nop(),
		Now:   clock.Now,
	})
	return &fixture{m: m, store: fs, adapter: ad, clock: clock}
}

func text(s string) Input { return Input{Text: s} }

func (f *fixture) turn(t *testing.T, c Caller, in Input) Reply {
	t.Helper()
	r, ok := f.m.Handle(context.Background(), c, in)
	if !ok {
		t.Fatalf("Handle(%q): no active session", in.Text)
	}
	return r
}

func TestClassFlowRepromptsBadTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.m.Begin(ctx, admin, FlowClass); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if r := f.turn(t, admin, text("9:5")); r.Text != msgBadTime || r.Ended {
		t.Fatalf("bad time reply = %+v", r)
	}
	if _, step, _ := f.m.Active(admin.ChatID); step != StepAwaitTime {
		t.Fatalf("step = %s, want await_time", step)
	}

	f.turn(t, admin, text("09:05"))
	f.turn(t, admin, text("CSE101"))
	f.turn(t, admin, text("301"))
	r := f.turn(t, admin, text("Rahim"))
	if !r.Ended || !strings.Contains(r.Text, "09:05") {
		t.Fatalf("final reply = %+v", r)
	}
	if _, _, ok := f.m.Active(admin.ChatID); ok {
		t.Fatal("session still active after commit")
	}

	events, err := f.store.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	want := model.ClassEvent{ID: events[0].ID, Time: "09:05", Course: "CSE101", Room: "301", Teacher: "Rahim"}
	if len(events) != 1 || events[0] != want {
		t.Fatalf("events = %+v, want [%+v]", events, want)
	}
}

func TestClassFlowRejectsEmptyAndAttachments(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.m.Begin(ctx, admin, FlowClass); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	photo := Input{Attachment: &kit.Attachment{Kind: kit.AttachmentPhoto, FileID: "p"}}
	if r := f.turn(t, admin, photo); r.Text != msgBadTime {
		t.Fatalf("photo at time step = %+v", r)
	}
	f.turn(t, admin, text("14:00"))
	if r := f.turn(t, admin, text("   ")); r.Text != msgEmptyText {
		t.Fatalf("blank course = %+v", r)
	}
	if _, step, _ := f.m.Active(admin.ChatID); step != StepAwaitCourse {
		t.Fatalf("step = %s, want await_course", step)
	}
}

func TestNoticeFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if r, err := f.m.Begin(ctx, admin, FlowNotice); err != nil || r.Text != msgAskTitle {
		t.Fatalf("Begin = (%+v, %v)", r, err)
	}
	f.turn(t, admin, text("Exam"))
	if r := f.turn(t, admin, text("")); r.Text != msgEmptyText || r.Ended {
		t.Fatalf("empty body = %+v", r)
	}
	if r := f.turn(t, admin, text("Sunday 10am")); r.Text != msgNoticeSaved || !r.Ended {
		t.Fatalf("body reply = %+v", r)
	}
	notices, err := f.store.ListRecentNotices(ctx, 5)
	if err != nil {
		t.Fatalf("ListRecentNotices: %v", err)
	}
	if len(notices) != 1 || notices[0].Title != "Exam" || notices[0].Body != "Sunday 10am" {
		t.Fatalf("notices = %+v", notices)
	}
}

func TestResourceFlowStaysOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.m.Begin(ctx, admin, FlowResource); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if r := f.turn(t, admin, text("hello")); r.Text != msgNeedFile {
		t.Fatalf("text at file step = %+v", r)
	}
	doc := Input{Attachment: &kit.Attachment{Kind: kit.AttachmentDocument, FileID: "doc-1"}, Caption: "Lecture 1"}
	if r := f.turn(t, admin, doc); r.Text != msgResourceSaved || r.Ended {
		t.Fatalf("first upload = %+v", r)
	}
	if _, step, ok := f.m.Active(admin.ChatID); !ok || step != StepAwaitFile {
		t.Fatalf("after upload: active=%v step=%s", ok, step)
	}
	photo := Input{Attachment: &kit.Attachment{Kind: kit.AttachmentPhoto, FileID: "ph-1"}}
	f.turn(t, admin, photo)

	f.store.failResource = true
	if r := f.turn(t, admin, photo); r.Text != msgStoreFailed || r.Ended {
		t.Fatalf("failed upload = %+v", r)
	}
	if _, _, ok := f.m.Active(admin.ChatID); !ok {
		t.Fatal("resource session closed after store failure")
	}

	if r := f.m.CancelReply(admin.ChatID); r.Text != msgCancelled {
		t.Fatalf("cancel = %+v", r)
	}
	res, err := f.store.ListRecentResources(ctx, 5)
	if err != nil {
		t.Fatalf("ListRecentResources: %v", err)
	}
	if len(res) != 2 || res[0].Kind != model.ResourcePhoto || res[0].Caption != model.DefaultResourceCaption || res[1].Caption != "Lecture 1" {
		t.Fatalf("resources = %+v", res)
	}
}

func TestClassStoreFailureEndsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.failEvent = true
	if _, err := f.m.Begin(context.Background(), admin, FlowClass); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, in := range []string{"10:00", "MAT", "502"} {
		f.turn(t, admin, text(in))
	}
	if r := f.turn(t, admin, text("Moni")); r.Text != msgStoreFailed || !r.Ended {
		t.Fatalf("reply = %+v", r)
	}
	if _, _, ok := f.m.Active(admin.ChatID); ok {
		t.Fatal("session still active")
	}
}

func TestUnauthorizedCreatesNoSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, flow := range []Flow{FlowClass, FlowNotice, FlowResource, FlowBroadcast} {
		r, err := f.m.Begin(context.Background(), user, flow)
		if !errors.Is(err, ErrUnauthorized) || r.Text != msgUnauthorized {
			t.Fatalf("Begin(%s) = (%+v, %v)", flow, r, err)
		}
		if _, _, ok := f.m.Active(user.ChatID); ok {
			t.Fatalf("session created for %s", flow)
		}
	}
	if _, ok := f.m.Handle(context.Background(), user, text("09:00")); ok {
		t.Fatal("Handle reported an active session")
	}
}

func TestBeginReplacesActiveSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.m.Begin(ctx, admin, FlowClass)
	f.turn(t, admin, text("08:00"))
	if _, err := f.m.Begin(ctx, admin, FlowNotice); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	flow, step, ok := f.m.Active(admin.ChatID)
	if !ok || flow != FlowNotice || step != StepAwaitTitle {
		t.Fatalf("active = %s/%s/%v, want notice/await_title", flow, step, ok)
	}
}

func TestIdleSessionsExpire(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.m.Begin(ctx, admin, FlowNotice)
	f.clock.Advance(5 * time.Minute)
	f.turn(t, admin, text("Title"))

	f.clock.Advance(11 * time.Minute)
	if _, ok := f.m.Handle(ctx, admin, text("late body")); ok {
		t.Fatal("expired session handled a turn")
	}

	f.m.Begin(ctx, admin, FlowResource)
	f.clock.Advance(time.Minute)
	if n := f.m.Sweep(f.clock.Now()); n != 0 {
		t.Fatalf("Sweep removed %d fresh sessions", n)
	}
	if n := f.m.Sweep(f.clock.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
}

func TestBroadcastFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		if err := f.store.RegisterRecipient(ctx, model.Recipient{ChatID: id}); err != nil {
			t.Fatalf("RegisterRecipient: %v", err)
		}
	}

	f.m.Begin(ctx, admin, FlowBroadcast)
	src := kit.MessageRef{ChatID: admin.ChatID, MessageID: 77}
	r := f.turn(t, admin, Input{Text: "Class moved", Ref: src})
	if r.Ended || r.Pending == nil || r.Text != "⏳ Sending to 3 recipients..." {
		t.Fatalf("reply = %+v", r)
	}
	if _, step, ok := f.m.Active(admin.ChatID); !ok || step != StepRelaying {
		t.Fatalf("step = %s/%v, want relaying", step, ok)
	}
	if len(f.adapter.Sent()) != 0 {
		t.Fatalf("relay ran inside the turn: %+v", f.adapter.Sent())
	}

	done := r.Pending(ctx)
	if !done.Ended || done.Text != "✅ Broadcast finished. (sent: 3/3)" {
		t.Fatalf("done = %+v", done)
	}
	if _, _, ok := f.m.Active(admin.ChatID); ok {
		t.Fatal("session still active after relay")
	}
	for _, id := range []int64{1, 2, 3} {
		got := f.adapter.SentTo(id)
		if len(got) != 1 || got[0].Op != "copy" || got[0].Source != src {
			t.Fatalf("sends to %d = %+v", id, got)
		}
	}
}

// gatedRelay blocks until release is closed or ctx is done.
type gatedRelay struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedRelay) Relay(ctx context.Context, src kit.MessageRef) (notifier.Result, error) {
	close(g.started)
	select {
	case <-g.release:
		return notifier.Result{ID: "b1", Sent: 2, Total: 2}, nil
	case <-ctx.Done():
		return notifier.Result{ID: "b1", Total: 2, Failed: []int64{1, 2}}, nil
	}
}

func newRelayFixture(t *testing.T) (*fixture, *gatedRelay) {
	t.Helper()
	f := newFixture(t)
	g := &gatedRelay{started: make(chan struct{}), release: make(chan struct{})}
	f.m = New(Config{IdleTimeout: 10 * time.Minute}, Deps{
		Store: f.store,
		Gate:  auth.NewGate([]string{"@rep"}),
		Relay: g,
		Log:   logx.Nop(),
		Now:   f.clock.Now,
	})
	return f, g
}

func TestRelayingSessionIsBusy(t *testing.T) {
	t.Parallel()
	f, g := newRelayFixture(t)
	ctx := context.Background()

	f.m.Begin(ctx, admin, FlowBroadcast)
	r := f.turn(t, admin, text("Exam on Monday"))
	done := make(chan Reply, 1)
	go func() { done <- r.Pending(ctx) }()
	<-g.started

	if got := f.turn(t, admin, text("another")); got.Text != msgRelayBusy || got.Ended || got.Pending != nil {
		t.Fatalf("turn while relaying = %+v", got)
	}
	if got, err := f.m.Begin(ctx, admin, FlowNotice); err != nil || got.Text != msgRelayBusy {
		t.Fatalf("Begin while relaying = %+v, %v", got, err)
	}
	f.clock.Advance(time.Hour)
	if n := f.m.Sweep(f.clock.Now()); n != 0 {
		t.Fatalf("Sweep removed a relaying session")
	}

	close(g.release)
	if got := <-done; got.Text != "✅ Broadcast finished. (sent: 2/2)" || !got.Ended {
		t.Fatalf("done = %+v", got)
	}
	if _, _, ok := f.m.Active(admin.ChatID); ok {
		t.Fatal("session still active after relay")
	}
}

func TestCancelAbortsRelay(t *testing.T) {
	t.Parallel()
	f, g := newRelayFixture(t)
	ctx := context.Background()

	f.m.Begin(ctx, admin, FlowBroadcast)
	r := f.turn(t, admin, text("Exam on Monday"))
	done := make(chan Reply, 1)
	go func() { done <- r.Pending(ctx) }()
	<-g.started

	if got := f.m.CancelReply(admin.ChatID); got.Text != msgCancelled {
		t.Fatalf("cancel = %+v", got)
	}
	select {
	case got := <-done:
		if got.Text != "✅ Broadcast finished. (sent: 0/2)" {
			t.Fatalf("done = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestCancelBeforeRelayStarts(t *testing.T) {
	t.Parallel()
	f, g := newRelayFixture(t)
	ctx := context.Background()

	f.m.Begin(ctx, admin, FlowBroadcast)
	r := f.turn(t, admin, text("Exam on Monday"))
	f.m.Cancel(admin.ChatID)

	if got := r.Pending(ctx); got.Text != msgRelayAborted || !got.Ended {
		t.Fatalf("pending after cancel = %+v", got)
	}
	select {
	case <-g.started:
		t.Fatal("relay ran after cancel")
	default:
	}
}

func TestCancelWithoutSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if f.m.Cancel(admin.ChatID) {
		t.Fatal("Cancel reported a session")
	}
	if r := f.m.CancelReply(admin.ChatID); r.Text != msgNothingActive {
		t.Fatalf("reply = %+v", r)
	}
}
