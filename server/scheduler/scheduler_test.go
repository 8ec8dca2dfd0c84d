package scheduler

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestTicks(t *testing.T) {
	cases := map[time.Duration]int64{
		0:                      0,
		-time.Second:           0,
		time.Millisecond:       1,
		time.Second:            20,
		30 * time.Second:       600,
		time.Minute:            1200,
		75 * time.Millisecond:  1,
		150 * time.Millisecond: 3,
	}
	for in, want := range cases {
		if got := Ticks(in); got != want {
			t.Fatalf("Ticks(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestLaterRunsOnce(t *testing.T) {
	s := New(Config{Log: discardLogger()})
	var ran []int64
	s.Later("once", 2, func() { ran = append(ran, s.CurrentTick()) })

	for i := 0; i < 5; i++ {
		s.Tick()
	}
	if !slices.Equal(ran, []int64{2}) {
		t.Fatalf("expected task to run once on tick 2, got %v", ran)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected no pending tasks, got %d", s.Pending())
	}
}

func TestLaterZeroDelayRunsNextTick(t *testing.T) {
	s := New(Config{Log: discardLogger()})
	ran := false
	s.Later("next", 0, func() { ran = true })
	if ran {
		t.Fatalf("expected task not to run before the first tick")
	}
	s.Tick()
	if !ran {
		t.Fatalf("expected task to run on the first tick")
	}
}

func TestEveryRepeatsUntilCancelled(t *testing.T) {
	s := New(Config{Log: discardLogger()})
	var ran []int64
	task := s.Every("repeat", 2, 3, func() { ran = append(ran, s.CurrentTick()) })

	for i := 0; i < 9; i++ {
		s.Tick()
	}
	if !slices.Equal(ran, []int64{2, 5, 8}) {
		t.Fatalf("expected runs on ticks 2, 5 and 8, got %v", ran)
	}
	task.Cancel()
	for i := 0; i < 6; i++ {
		s.Tick()
	}
	if len(ran) != 3 {
		t.Fatalf("expected no runs after cancel, got %v", ran)
	}
	if !task.Cancelled() {
		t.Fatalf("expected task to report cancelled")
	}
}

func TestTasksRunInScheduleOrder(t *testing.T) {
	s := New(Config{Log: discardLogger()})
	var order []string
	s.Later("b", 1, func() { order = append(order, "b") })
	s.Later("a", 1, func() { order = append(order, "a") })
	s.Later("c", 1, func() { order = append(order, "c") })
	s.Tick()
	if !slices.Equal(order, []string{"b", "a", "c"}) {
		t.Fatalf("expected schedule order, got %v", order)
	}
}

func TestTaskScheduledFromTaskRunsLater(t *testing.T) {
	s := New(Config{Log: discardLogger()})
	var ran []int64
	s.Later("outer", 1, func() {
		s.Later("inner", 0, func() { ran = append(ran, s.CurrentTick()) })
	})
	s.Tick()
	if len(ran) != 0 {
		t.Fatalf("expected inner task not to run within the same tick")
	}
	s.Tick()
	if !slices.Equal(ran, []int64{2}) {
		t.Fatalf("expected inner task on tick 2, got %v", ran)
	}
}

func TestPanickingTaskDoesNotStopOthers(t *testing.T) {
	s := New(Config{Log: discardLogger()})
	ran := false
	s.Later("panics", 1, func() { panic("boom") })
	s.Later("survives", 1, func() { ran = true })
	s.Tick()
	if !ran {
		t.Fatalf("expected second task to run after a panic")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Config{Log: discardLogger(), Interval: time.Millisecond})
	done := make(chan struct{})
	s.Later("signal", 1, func() { close(done) })

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("task never ran")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestExecClosesDone(t *testing.T) {
	s := New(Config{Log: discardLogger()})
	ran := false
	done := s.Exec(func() { ran = true })
	select {
	case <-done:
		t.Fatalf("expected done to stay open before the next tick")
	default:
	}
	s.Tick()
	select {
	case <-done:
	default:
		t.Fatalf("expected done to be closed after the tick")
	}
	if !ran {
		t.Fatalf("expected fn to run")
	}

	done = s.Exec(func() { panic("boom") })
	s.Tick()
	select {
	case <-done:
	default:
		t.Fatalf("expected done to be closed after a panic")
	}
}
