package notifier

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	kit "classbot/internal/transport"
	"classbot/internal/transport/transporttest"
	"classbot/pkg/logx"
)

type staticRecipients struct {
	ids []int64
	err error
}

func (r staticRecipients) ListRecipientIDs(context.Context) ([]int64, error) {
	return r.ids, r.err
}

func ids(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestFanoutIsolatesFailures(t *testing.T) {
	t.Parallel()
	ad := transporttest.NewAdapter(3, 7)
	s := New(Config{Workers: 4, RatePerSec: 1000}, ad, staticRecipients{ids: ids(10)}, logx.Nop())

	res, err := s.SendText(context.Background(), "alert", "hello", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.Sent != 8 || res.Total != 10 {
		t.Fatalf("result = %d/%d, want 8/10", res.Sent, res.Total)
	}
	if !slices.Equal(res.Failed, []int64{3, 7}) {
		t.Fatalf("failed = %v, want [3 7]", res.Failed)
	}
	if res.ID == "" {
		t.Fatal("result id is empty")
	}
	if got := len(ad.Sent()); got != 8 {
		t.Fatalf("recorded sends = %d, want 8", got)
	}
}

func TestRelayCopiesSource(t *testing.T) {
	t.Parallel()
	ad := transporttest.NewAdapter()
	s := New(Config{RatePerSec: 1000}, ad, staticRecipients{ids: []int64{10, 20}}, logx.Nop())
	src := kit.MessageRef{ChatID: 99, MessageID: 5}

	res, err := s.Relay(context.Background(), src)
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if res.Sent != 2 || res.Total != 2 {
		t.Fatalf("result = %d/%d, want 2/2", res.Sent, res.Total)
	}
	for _, id := range []int64{10, 20} {
		got := ad.SentTo(id)
		if len(got) != 1 || got[0].Op != "copy" || got[0].Source != src {
			t.Fatalf("sends to %d = %+v", id, got)
		}
	}
}

func TestRelayRecipientError(t *testing.T) {
	t.Parallel()
	want := errors.New("db down")
	s := New(Config{}, transporttest.NewAdapter(), staticRecipients{err: want}, logx.Nop())
	if _, err := s.Relay(context.Background(), kit.MessageRef{}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestFanoutEmptyAndPanics(t *testing.T) {
	t.Parallel()
	s := New(Config{RatePerSec: 1000}, transporttest.NewAdapter(), staticRecipients{}, logx.Nop())

	res := s.Fanout(context.Background(), "empty", nil, func(context.Context, int64) error { return nil })
	if res.Sent != 0 || res.Total != 0 {
		t.Fatalf("empty result = %d/%d", res.Sent, res.Total)
	}

	var calls atomic.Int32
	res = s.Fanout(context.Background(), "panicky", []int64{1, 2, 3}, func(_ context.Context, id int64) error {
		calls.Add(1)
		if id == 2 {
			panic("boom")
		}
		return nil
	})
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if res.Sent != 2 || !slices.Equal(res.Failed, []int64{2}) {
		t.Fatalf("result = %+v", res)
	}
}

func TestFanoutCancelledContext(t *testing.T) {
	t.Parallel()
	s := New(Config{RatePerSec: 1000}, transporttest.NewAdapter(), staticRecipients{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Fanout(ctx, "cancelled", ids(3), func(context.Context, int64) error { return nil })
	if res.Sent != 0 || len(res.Failed) != 3 {
		t.Fatalf("result = %+v, want all failed", res)
	}
}
