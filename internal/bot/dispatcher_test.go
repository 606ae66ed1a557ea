package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kit "classbot/internal/transport"
	"classbot/pkg/logx"
)

type recordingHandler struct {
	mu      sync.Mutex
	seen    map[int64][]int
	started chan int
	release chan struct{}
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, up kit.Update) {
	if h.started != nil {
		h.started <- up.Message.ID
	}
	if h.release != nil {
		<-h.release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[up.Message.ChatID] = append(h.seen[up.Message.ChatID], up.Message.ID)
}

func chatUpdate(chatID int64, id int) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: id, ChatID: chatID, Text: "x"}}
}

func TestShardForIsStableAndInRange(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 7, 16} {
		for _, id := range []int64{-1001234567890, -1, 0, 1, 42, 99999999} {
			a, b := shardFor(id, n), shardFor(id, n)
			if a != b {
				t.Fatalf("shardFor(%d,%d) not stable: %d vs %d", id, n, a, b)
			}
			if a < 0 || a >= n {
				t.Fatalf("shardFor(%d,%d) = %d out of range", id, n, a)
			}
		}
	}
}

func TestDispatcherKeepsPerChatOrder(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{seen: map[int64][]int{}}
	d := NewDispatcher(DispatcherConfig{Workers: 4, QueueSize: 400}, h, logx.Nop())

	updates := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), updates) }()

	chats := []int64{11, 22, 33}
	const perChat = 20
	for i := 1; i <= perChat; i++ {
		for _, c := range chats {
			updates <- chatUpdate(c, i)
		}
	}
	close(updates)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range chats {
		got := h.seen[c]
		if len(got) != perChat {
			t.Fatalf("chat %d handled %d updates, want %d", c, len(got), perChat)
		}
		for i, id := range got {
			if id != i+1 {
				t.Fatalf("chat %d order = %v", c, got)
			}
		}
	}
	if d.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", d.Dropped())
	}
}

func TestDispatcherDropsWhenShardFull(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{
		seen:    map[int64][]int{},
		started: make(chan int, 4),
		release: make(chan struct{}),
	}
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1}, h, logx.Nop())
	overflow := make(chan int, 4)
	d.OnOverflow = func(ctx context.Context, up kit.Update) { overflow <- up.Message.ID }

	updates := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), updates) }()

	updates <- chatUpdate(5, 1)
	<-h.started // worker is busy with 1
	updates <- chatUpdate(5, 2)
	updates <- chatUpdate(5, 3) // queue holds 2, so 3 is dropped
	deadline := time.Now().Add(5 * time.Second)
	for d.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("update 3 was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(h.release)
	close(updates)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}
	select {
	case id := <-overflow:
		if id != 3 {
			t.Fatalf("overflow reported %d, want 3", id)
		}
	default:
		t.Fatal("overflow not reported")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if got := h.seen[5]; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("handled = %v, want [1 2]", got)
	}
}

func TestOverflowDoesNotBlockDispatch(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{
		seen:    map[int64][]int{},
		started: make(chan int, 16),
		release: make(chan struct{}),
	}
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1}, h, logx.Nop())
	var calls atomic.Int32
	stuck := make(chan struct{})
	d.OnOverflow = func(ctx context.Context, up kit.Update) {
		calls.Add(1)
		<-stuck
	}

	updates := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), updates) }()

	updates <- chatUpdate(5, 1)
	<-h.started
	updates <- chatUpdate(5, 2)

	sent := make(chan struct{})
	go func() {
		for i := 3; i <= 12; i++ {
			updates <- chatUpdate(5, i)
		}
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop stalled behind overflow notices")
	}

	close(stuck)
	close(h.release)
	close(updates)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	if got := d.Dropped(); got < 9 {
		t.Fatalf("dropped = %d, want at least 9", got)
	}
	if got := calls.Load(); got < 1 || got > overflowSlots {
		t.Fatalf("overflow calls = %d, want 1..%d", got, overflowSlots)
	}
}
