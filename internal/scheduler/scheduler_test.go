package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"classbot/pkg/logx"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"00:00", 0, 0, false},
		{"9:30", 9, 30, false},
		{" 23:59 ", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"12:5", 0, 0, true},
		{"1230", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := parseHHMM(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseHHMM(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && (h != tt.h || m != tt.m) {
			t.Fatalf("parseHHMM(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.h, tt.m)
		}
	}
}

func TestIntervalScheduleFirstDelay(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	sched := intervalSchedule(time.Minute, 10*time.Second, now)

	first := sched.Next(now)
	if want := now.Add(10 * time.Second); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	second := sched.Next(first)
	if want := first.Add(time.Minute); !second.Equal(want) {
		t.Fatalf("second = %v, want %v", second, want)
	}

	plain := intervalSchedule(time.Minute, 0, now)
	if got := plain.Next(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("no delay first = %v, want %v", got, now.Add(time.Minute))
	}
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	noop := func(context.Context) error { return nil }

	if _, err := s.AddDaily("reset", "25:00", 0, noop); err == nil {
		t.Fatal("AddDaily accepted 25:00")
	}
	if _, err := s.AddCron("bad", "not a cron", 0, noop); err == nil {
		t.Fatal("AddCron accepted an invalid spec")
	}
	if _, err := s.AddInterval("zero", 0, 0, 0, noop); err == nil {
		t.Fatal("AddInterval accepted a zero interval")
	}
	if _, err := s.AddInterval(" ", time.Minute, 0, 0, noop); err == nil {
		t.Fatal("AddInterval accepted an empty name")
	}
}

func TestRegisterReplaceRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Asia/Dhaka"}, logx.Nop())
	noop := func(context.Context) error { return nil }

	if _, err := s.AddDaily("reset", "00:00", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if _, err := s.AddInterval("alert", time.Minute, 10*time.Second, 30*time.Second, noop); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if _, err := s.AddDaily("reset", "00:30", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily replace: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Running || len(snap.Schedules) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, it := range snap.Schedules {
		if it.Next.IsZero() {
			t.Fatalf("schedule %s has no next run", it.Name)
		}
		if it.Name == "reset" && it.Spec != "30 0 * * *" {
			t.Fatalf("reset spec = %q", it.Spec)
		}
	}
	if s.Location().String() != "Asia/Dhaka" {
		t.Fatalf("location = %s", s.Location())
	}

	if !s.Remove("reset") {
		t.Fatal("Remove reported nothing removed")
	}
	if s.Remove("reset") {
		t.Fatal("second Remove reported a removal")
	}
	if got := len(s.Snapshot().Schedules); got != 1 {
		t.Fatalf("schedules after remove = %d, want 1", got)
	}
}

func TestIntervalRunsAfterFirstDelay(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	ran := make(chan struct{}, 1)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if _, err := s.AddInterval("tick", time.Hour, 20*time.Millisecond, time.Second, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("interval job did not run after its first delay")
	}
}

func TestRunSkipsOverlapAndRecoversPanics(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	release := make(chan struct{})
	var runs atomic.Int32
	d := &scheduleDef{name: "slow", running: &runState{}, job: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}
	done := make(chan struct{})
	go func() {
		s.run(d)
		close(done)
	}()
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	s.run(d)
	close(release)
	<-done
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
	if s.Snapshot().Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", s.Snapshot().Skipped)
	}

	s.run(&scheduleDef{name: "boom", running: &runState{}, job: func(context.Context) error { panic("boom") }})
	s.run(&scheduleDef{name: "fails", running: &runState{}, job: func(context.Context) error { return errors.New("nope") }})

	hist := s.Snapshot().History
	if len(hist) != 3 {
		t.Fatalf("history = %d items, want 3", len(hist))
	}
	if hist[1].Name != "boom" || hist[1].Error == "" {
		t.Fatalf("panic history = %+v", hist[1])
	}
	if hist[2].Error != "nope" {
		t.Fatalf("error history = %+v", hist[2])
	}
}

func TestRunAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	var sawDeadline atomic.Bool
	s.run(&scheduleDef{name: "bounded", timeout: 50 * time.Millisecond, running: &runState{}, job: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		return nil
	}})
	if !sawDeadline.Load() {
		t.Fatal("job context had no deadline")
	}
}
