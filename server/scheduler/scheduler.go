package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TickInterval is the duration of a single server tick. The scheduler ticks 20
// times every second.
const TickInterval = time.Second / 20

// Ticks converts a duration to a number of ticks, rounding down. Any positive
// duration shorter than a tick is rounded up to a single tick.
func Ticks(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return max(1, int64(d/TickInterval))
}

// Config holds the optional parameters of a Scheduler.
type Config struct {
	// Log is the logger used to report panicking tasks. If nil, slog.Default()
	// is used.
	Log *slog.Logger
	// Interval is the real time duration of a tick used by Run. If 0 or lower,
	// TickInterval is used.
	Interval time.Duration
}

// Scheduler is a cooperative, single threaded task scheduler. Tasks never run
// concurrently with each other: they all execute on the goroutine calling Tick,
// in the order of their due tick and then in the order they were scheduled.
// A Scheduler is safe to schedule tasks on from any goroutine.
type Scheduler struct {
	log      *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	tick   int64
	nextID uint64
	tasks  []*Task
}

// Task is a handle to a scheduled function.
type Task struct {
	id     uint64
	name   string
	next   int64
	period int64
	fn     func()

	cancelled atomic.Bool
}

// Name returns the name the task was scheduled with.
func (t *Task) Name() string {
	return t.name
}

// Cancel prevents any further execution of the task. Cancel may be called
// multiple times and from within the task itself.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
}

// Cancelled reports if the task was cancelled.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// New creates a Scheduler using the configuration passed.
func New(conf Config) *Scheduler {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Interval <= 0 {
		conf.Interval = TickInterval
	}
	return &Scheduler{log: conf.Log.With("subsystem", "scheduler"), interval: conf.Interval}
}

// CurrentTick returns the number of ticks performed so far.
func (s *Scheduler) CurrentTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Later schedules fn to run once, delay ticks from now. A delay of 0 or lower
// runs fn on the next tick.
func (s *Scheduler) Later(name string, delay int64, fn func()) *Task {
	return s.schedule(name, delay, 0, fn)
}

// Every schedules fn to run after delay ticks and then every period ticks
// until the task is cancelled. A period of 0 or lower is treated as 1.
func (s *Scheduler) Every(name string, delay, period int64, fn func()) *Task {
	return s.schedule(name, delay, max(1, period), fn)
}

// Exec runs fn on the next tick and returns a channel that is closed once fn
// has returned, or if it panicked.
func (s *Scheduler) Exec(fn func()) <-chan struct{} {
	done := make(chan struct{})
	s.Later("exec", 0, func() {
		defer close(done)
		fn()
	})
	return done
}

func (s *Scheduler) schedule(name string, delay, period int64, fn func()) *Task {
	if fn == nil {
		panic("scheduler: task function must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &Task{id: s.nextID, name: name, next: s.tick + max(1, delay), period: period, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Pending returns the number of tasks that have not finished or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.Cancelled() {
			n++
		}
	}
	return n
}

// Tick advances the scheduler by a single tick and runs every task that has
// become due. Tasks scheduled by a running task are never executed within the
// same tick.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.tick++
	now := s.tick
	due := make([]*Task, 0, 4)
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.Cancelled() {
			continue
		}
		if t.next <= now {
			due = append(due, t)
		}
		if t.next > now || t.period > 0 {
			kept = append(kept, t)
		}
	}
	clear(s.tasks[len(kept):])
	s.tasks = kept
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].next != due[j].next {
			return due[i].next < due[j].next
		}
		return due[i].id < due[j].id
	})
	for _, t := range due {
		if t.period > 0 {
			s.mu.Lock()
			t.next = now + t.period
			s.mu.Unlock()
		}
		if t.Cancelled() {
			continue
		}
		s.run(t)
	}
}

func (s *Scheduler) run(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Task panic.", "task", t.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	t.fn()
}

// Run ticks the scheduler at its configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	tc := time.NewTicker(s.interval)
	defer tc.Stop()
	for {
		select {
		case <-tc.C:
			s.Tick()
		case <-ctx.Done():
			return
		}
	}
}
